package gateway

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"arbiter/internal/logging"
)

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogLatency:   true,
		LogURI:       true,
		LogMethod:    true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String(logging.FieldCorrelationID, v.RequestID),
			}
			if v.Error == nil {
				logger.LogAttrs(context.Background(), slog.LevelInfo, "request", attrs...)
				return nil
			}
			attrs = append(attrs, logging.Error(v.Error))
			logger.LogAttrs(context.Background(), slog.LevelWarn, "request failed", attrs...)
			return nil
		},
	})
}
