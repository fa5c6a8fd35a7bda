package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"arbiter/internal/config"
	"arbiter/internal/fileutil"
	"arbiter/internal/leaderboard"
	"arbiter/internal/logging"
	"arbiter/internal/submission"
	"arbiter/internal/telemetry"
	"arbiter/internal/track"
)

const shutdownTimeout = 10 * time.Second

// Leaderboard is the read side of the result store.
type Leaderboard interface {
	GetTop(ctx context.Context, id track.ID, n int) ([]leaderboard.Row, error)
}

// Trigger asks the worker for an early scan of a track.
type Trigger interface {
	TriggerScan(id track.ID, reason string) bool
}

// Option customizes a Server.
type Option func(*Server)

// WithTrigger wires upload-triggered scans.
func WithTrigger(t Trigger) Option {
	return func(s *Server) { s.trigger = t }
}

// WithMetrics records upload outcomes and serves /metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithFreeSpace overrides the free space probe.
func WithFreeSpace(fn func(path string) (uint64, error)) Option {
	return func(s *Server) {
		if fn != nil {
			s.freeSpace = fn
		}
	}
}

// Server serves the leaderboard and upload endpoints.
type Server struct {
	cfg       *config.Config
	echo      *echo.Echo
	intake    *Intake
	board     Leaderboard
	trigger   Trigger
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	freeSpace func(path string) (uint64, error)
	enabled   map[track.ID]bool

	mu   sync.Mutex
	addr net.Addr
}

// New builds the gateway with its routes registered.
func New(cfg *config.Config, store *submission.Store, board Leaderboard, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "gateway")
	s := &Server{
		cfg:       cfg,
		echo:      echo.New(),
		intake:    NewIntake(cfg, store, logger),
		board:     board,
		logger:    logger,
		freeSpace: fileutil.FreeBytes,
		enabled:   make(map[track.ID]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, id := range cfg.EnabledTracks() {
		s.enabled[id] = true
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(requestLogger(logger))
	e.Use(middleware.Recover())
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/healthz", s.health)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
	e.GET("/:track", s.leaderboard)
	e.GET("/:track/", s.leaderboard)
	e.GET("/:track/api/expected-files", s.expectedFiles)
	limit := fmt.Sprintf("%dM", s.cfg.Gateway.MaxUploadMiB+1)
	e.POST("/:track/api/submit", s.submit, middleware.BodyLimit(limit))
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Addr returns the bound listener address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Serve listens on the configured bind address until ctx is canceled, then
// shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Gateway.Bind)
	if err != nil {
		return fmt.Errorf("gateway listen %s: %w", s.cfg.Gateway.Bind, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	s.echo.Listener = ln

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start("")
	}()
	s.logger.Info("gateway listening",
		logging.String(logging.FieldEventType, "gateway_listening"),
		logging.String("addr", ln.Addr().String()),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
