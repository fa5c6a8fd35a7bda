package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"arbiter/internal/logging"
	"arbiter/internal/scoring"
	"arbiter/internal/track"
)

type laneState struct {
	def      track.Definition
	scorer   scoring.Scorer
	truthDir string
	logger   *slog.Logger

	// trigger holds at most one pending scan request.
	trigger chan string
	// tickMu serializes ticks from the loop and from RunOnce.
	tickMu sync.Mutex

	mu         sync.RWMutex
	lastTick   time.Time
	lastReport TickReport
	lastErr    error
	ticks      int
	scored     int
	failed     int
}

func newLaneState(def track.Definition, scorer scoring.Scorer, truthDir string, logger *slog.Logger) *laneState {
	return &laneState{
		def:      def,
		scorer:   scorer,
		truthDir: filepath.Clean(truthDir),
		logger:   logger.With(logging.String(logging.FieldTrack, string(def.ID))),
		trigger:  make(chan string, 1),
	}
}

func (l *laneState) record(report TickReport, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastTick = report.Finished
	l.lastReport = report
	l.lastErr = err
	l.ticks++
	l.scored += report.Scored
	l.failed += report.Failed
}

func (m *Manager) runLane(ctx context.Context, lane *laneState) {
	defer m.wg.Done()

	reason := "startup"
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := m.tick(ctx, lane, reason); err != nil && ctx.Err() == nil {
			m.setLastError(err)
			logging.ErrorWithContext(lane.logger, "scan tick failed", "tick_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "pending submissions stay unscored until the next tick"),
				logging.String(logging.FieldErrorHint, "check submissions directory permissions and the leaderboard database"),
			)
			if notifyErr := m.notifier.NotifyError(ctx, err, "scan "+string(lane.def.ID)); notifyErr != nil {
				lane.logger.Debug("error notification failed", logging.Error(notifyErr))
			}
		}

		select {
		case <-ctx.Done():
			return
		case reason = <-lane.trigger:
		case <-time.After(m.pollInterval):
			reason = "poll"
		}
	}
}

// RunOnce performs a single tick for one track and returns its report. It
// waits for an in-flight tick on the same lane to finish first.
func (m *Manager) RunOnce(ctx context.Context, id track.ID) (TickReport, error) {
	lane, ok := m.lanes[id]
	if !ok {
		return TickReport{}, fmt.Errorf("%w: %s is not enabled", track.ErrUnknown, id)
	}
	return m.tick(ctx, lane, "manual")
}
