package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"arbiter/internal/config"
	"arbiter/internal/gateway"
	"arbiter/internal/leaderboard"
	"arbiter/internal/logging"
	"arbiter/internal/metric"
	"arbiter/internal/notifications"
	"arbiter/internal/track"
	"arbiter/internal/workflow"
)

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	board    *leaderboard.Store
	workflow *workflow.Manager
	gateway  *gateway.Server
	network  *metric.Network
	notifier notifications.Service

	lockPath string
	lock     *flock.Flock

	running  atomic.Bool
	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithGateway serves uploads while the daemon runs.
func WithGateway(g *gateway.Server) Option {
	return func(d *Daemon) { d.gateway = g }
}

// WithNetwork ties the LPIPS helper lifecycle to the daemon.
func WithNetwork(n *metric.Network) Option {
	return func(d *Daemon) { d.network = n }
}

// WithNotifier overrides the notifier used for test notifications and
// daemon level errors.
func WithNotifier(n notifications.Service) Option {
	return func(d *Daemon) {
		if n != nil {
			d.notifier = n
		}
	}
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	DatabasePath string
	LockFilePath string
	GatewayAddr  string
}

// New constructs a daemon around an already built workflow manager.
func New(cfg *config.Config, board *leaderboard.Store, wf *workflow.Manager, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || board == nil || wf == nil {
		return nil, errors.New("daemon requires config, leaderboard store, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		board:    board,
		workflow: wf,
		notifier: notifications.NewService(cfg),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start acquires the lock, starts the LPIPS helper, the workflow lanes, and
// the gateway.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another arbiter daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if d.network != nil && len(d.cfg.LPIPSArgv()) > 0 {
		if err := d.network.Start(runCtx); err != nil {
			logging.WarnWithContext(d.logger, "lpips helper failed to start", "lpips_start_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "matrix-completion scoring retries the helper per submission"),
				logging.String(logging.FieldErrorHint, "check metrics.lpips_command and the python environment"),
			)
		}
	}
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		d.closeNetwork()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if d.gateway != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.gateway.Serve(runCtx); err != nil {
				logging.ErrorWithContext(d.logger, "gateway stopped", "gateway_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "teams cannot upload or view the leaderboard"),
					logging.String(logging.FieldErrorHint, "check gateway.bind for a port conflict"),
				)
				_ = d.notifier.NotifyError(context.WithoutCancel(runCtx), err, "gateway")
			}
		}()
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("arbiter daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.Bool("gateway", d.gateway != nil),
	)
	return nil
}

// Stop stops background processing and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	d.wg.Wait()
	d.closeNetwork()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("arbiter daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

func (d *Daemon) closeNetwork() {
	if d.network == nil {
		return
	}
	if err := d.network.Close(); err != nil {
		d.logger.Warn("lpips helper did not stop cleanly", logging.Error(err))
	}
}

// Close stops the daemon and closes the leaderboard store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.board.Close()
}

// RequestShutdown asks the process hosting the daemon to exit.
func (d *Daemon) RequestShutdown() {
	d.once.Do(func() { close(d.shutdown) })
}

// ShutdownRequested is closed once RequestShutdown has been called.
func (d *Daemon) ShutdownRequested() <-chan struct{} {
	return d.shutdown
}

// TriggerScan asks the lanes for an early tick. An empty id targets every
// lane.
func (d *Daemon) TriggerScan(id track.ID) ([]track.ID, bool, error) {
	if id != "" && !d.workflow.HasTrack(id) {
		return nil, false, fmt.Errorf("%w: %s is not enabled", track.ErrUnknown, id)
	}
	targets := d.workflow.Tracks()
	if id != "" {
		targets = []track.ID{id}
	}
	accepted := d.workflow.TriggerScan(id, "ipc")
	return targets, accepted, nil
}

// Leaderboard returns the top n rows of a track.
func (d *Daemon) Leaderboard(ctx context.Context, id track.ID, n int) ([]leaderboard.Row, error) {
	return d.board.GetTop(ctx, id, n)
}

// TestNotification sends a test message through every configured notifier.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if !d.cfg.MailEnabled() && d.cfg.Notifications.NtfyTopic == "" {
		return false, "no notifier configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     d.workflow.Status(ctx),
		DatabasePath: d.board.Path(),
		LockFilePath: d.lockPath,
	}
	if d.gateway != nil {
		if addr := d.gateway.Addr(); addr != nil {
			status.GatewayAddr = addr.String()
		}
	}
	return status
}
