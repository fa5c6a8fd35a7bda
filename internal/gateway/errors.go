package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"arbiter/internal/logging"
	"arbiter/internal/services"
	"arbiter/internal/track"
)

type errorBody struct {
	OK     bool     `json:"ok"`
	Error  string   `json:"error"`
	Errors []string `json:"errors,omitempty"`
}

func errorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var ve *ValidationError
		if errors.As(err, &ve) {
			_ = c.JSON(http.StatusBadRequest, errorBody{Error: "validation error", Errors: ve.Problems})
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			_ = c.JSON(he.Code, errorBody{Error: fmt.Sprintf("%v", he.Message)})
			return
		}

		switch {
		case errors.Is(err, track.ErrUnknown):
			_ = c.JSON(http.StatusNotFound, errorBody{Error: err.Error()})
			return
		case errors.Is(err, services.ErrConfiguration):
			logging.ErrorWithContext(logger, "gateway misconfigured", "gateway_configuration",
				logging.String("path", c.Request().URL.Path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "uploads for this track are refused"),
				logging.String(logging.FieldErrorHint, "check paths.truth_dir"),
			)
			_ = c.JSON(http.StatusServiceUnavailable, errorBody{Error: "track is not available"})
			return
		}

		logging.ErrorWithContext(logger, "unhandled gateway error", "gateway_error",
			logging.String("path", c.Request().URL.Path),
			logging.Error(err),
		)
		_ = c.JSON(http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
}
