package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/leaderboard"
	"arbiter/internal/logging"
	"arbiter/internal/notifications"
	"arbiter/internal/scoring"
	"arbiter/internal/submission"
	"arbiter/internal/telemetry"
	"arbiter/internal/track"
)

// Manager coordinates scanning and scoring across track lanes.
type Manager struct {
	cfg          *config.Config
	submissions  *submission.Store
	board        *leaderboard.Store
	logger       *slog.Logger
	notifier     notifications.Service
	metrics      *telemetry.Metrics
	pollInterval time.Duration
	maxAttempts  int
	parallelism  int
	watch        bool
	now          func() time.Time
	probes       map[string]Probe

	lanes     map[track.ID]*laneState
	laneOrder []track.ID

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	watcher *watcher
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithNotifier replaces the notifier built from configuration.
func WithNotifier(n notifications.Service) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithMetrics records tick and scoring metrics.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock overrides the time source used for evaluated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithPollInterval overrides the configured poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithProbe registers a shared dependency reported by Status.
func WithProbe(name string, probe Probe) Option {
	return func(m *Manager) {
		if probe != nil {
			m.probes[name] = probe
		}
	}
}

// NewManager builds a manager with one lane per scorer, ordered as the
// configuration enables tracks.
func NewManager(cfg *config.Config, submissions *submission.Store, board *leaderboard.Store, scorers map[track.ID]scoring.Scorer, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:          cfg,
		submissions:  submissions,
		board:        board,
		logger:       logging.NewComponentLogger(logger, "workflow"),
		notifier:     notifications.NewService(cfg),
		pollInterval: cfg.PollInterval(),
		maxAttempts:  cfg.Workflow.MaxAttempts,
		parallelism:  max(cfg.Workflow.Parallelism, 1),
		watch:        cfg.Workflow.Watch,
		now:          time.Now,
		probes:       make(map[string]Probe),
		lanes:        make(map[track.ID]*laneState),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, id := range cfg.EnabledTracks() {
		scorer, ok := scorers[id]
		if !ok {
			continue
		}
		def := track.MustLookup(id)
		m.lanes[id] = newLaneState(def, scorer, cfg.TrackTruthDir(id), m.logger)
		m.laneOrder = append(m.laneOrder, id)
	}
	return m
}

// Tracks lists the lanes in run order.
func (m *Manager) Tracks() []track.ID {
	return append([]track.ID(nil), m.laneOrder...)
}

// CheckTruth verifies that every lane's ground truth folder exists.
func (m *Manager) CheckTruth() error {
	var errs []error
	for _, id := range m.laneOrder {
		lane := m.lanes[id]
		info, err := os.Stat(lane.truthDir)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s truth directory %s: %w", id, lane.truthDir, err))
		case !info.IsDir():
			errs = append(errs, fmt.Errorf("%s truth path %s is not a directory", id, lane.truthDir))
		}
	}
	return errors.Join(errs...)
}

// Start validates the truth folders and launches one goroutine per lane.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.laneOrder) == 0 {
		m.mu.Unlock()
		return errors.New("workflow has no tracks configured")
	}
	if err := m.CheckTruth(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("ground truth unavailable: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.lastErr = nil

	lanes := make([]*laneState, 0, len(m.laneOrder))
	for _, id := range m.laneOrder {
		lanes = append(lanes, m.lanes[id])
	}
	m.wg.Add(len(lanes))

	if m.watch {
		w, err := newWatcher(m.submissions.Root(), m.laneOrder, m.TriggerScan, m.logger)
		if err != nil {
			logging.WarnWithContext(m.logger, "filesystem watcher unavailable; relying on polling", "watcher_unavailable",
				logging.Error(err),
				logging.String(logging.FieldImpact, "new uploads wait for the next poll"),
				logging.String(logging.FieldErrorHint, "raise fs.inotify.max_user_watches or set workflow.watch = false"),
			)
		} else {
			m.watcher = w
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				w.run(runCtx)
			}()
		}
	}
	watching := m.watcher != nil
	m.mu.Unlock()

	for _, lane := range lanes {
		go m.runLane(runCtx, lane)
	}
	m.logger.Info("workflow started",
		logging.Int("lanes", len(lanes)),
		logging.Duration("poll_interval", m.pollInterval),
		logging.Bool("watch", watching),
	)
	return nil
}

// Stop cancels every lane, waits for in-flight ticks to unwind, and closes
// the watcher.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	m.mu.Lock()
	if m.watcher != nil {
		m.watcher.close()
		m.watcher = nil
	}
	m.mu.Unlock()
	m.logger.Info("workflow stopped")
}

// TriggerScan asks a lane to tick as soon as it is idle. An empty id triggers
// every lane. It reports whether any lane accepted the trigger; a lane with a
// trigger already pending absorbs the new one.
func (m *Manager) TriggerScan(id track.ID, reason string) bool {
	if reason == "" {
		reason = "manual"
	}
	accepted := false
	for _, laneID := range m.laneOrder {
		if id != "" && laneID != id {
			continue
		}
		select {
		case m.lanes[laneID].trigger <- reason:
			accepted = true
		default:
		}
	}
	return accepted
}

// HasTrack reports whether a lane exists for id.
func (m *Manager) HasTrack(id track.ID) bool {
	_, ok := m.lanes[id]
	return ok
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
