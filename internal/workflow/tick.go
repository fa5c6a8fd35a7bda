package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"arbiter/internal/logging"
	"arbiter/internal/notifications"
	"arbiter/internal/scoring"
	"arbiter/internal/services"
	"arbiter/internal/submission"
	"arbiter/internal/track"
)

// TickReport summarizes one pass over a track's submissions.
type TickReport struct {
	Track         track.ID  `json:"track"`
	Trigger       string    `json:"trigger"`
	CorrelationID string    `json:"correlation_id"`
	Started       time.Time `json:"started"`
	Finished      time.Time `json:"finished"`
	Teams         int       `json:"teams"`
	Pending       int       `json:"pending"`
	NotReady      int       `json:"not_ready"`
	Scored        int       `json:"scored"`
	Failed        int       `json:"failed"`
	Abandoned     int       `json:"abandoned"`
	Improved      []string  `json:"improved,omitempty"`
}

type job struct {
	inst submission.Instance
	meta *submission.Metadata

	result scoring.Result
	err    error
	took   time.Duration
	// skipped marks jobs interrupted by shutdown; they stay pending.
	skipped bool
}

type teamBest struct {
	job    *job
	values map[string]float64
}

func (m *Manager) tick(ctx context.Context, lane *laneState, trigger string) (TickReport, error) {
	lane.tickMu.Lock()
	defer lane.tickMu.Unlock()

	id := lane.def.ID
	report := TickReport{
		Track:         id,
		Trigger:       trigger,
		CorrelationID: uuid.NewString(),
		Started:       m.now(),
	}
	ctx = services.WithTrack(ctx, string(id))
	ctx = services.WithRequestID(ctx, report.CorrelationID)
	logger := logging.WithContext(ctx, m.logger)

	jobs, err := m.collect(lane, &report, logger)
	if err != nil {
		report.Finished = m.now()
		lane.record(report, err)
		return report, err
	}
	report.Pending = len(jobs)
	if len(jobs) > 0 {
		logger.Info("scoring pending submissions",
			logging.String(logging.FieldEventType, "tick_scoring"),
			logging.String("trigger", trigger),
			logging.Int("pending", len(jobs)),
		)
	}

	m.score(ctx, lane, jobs)

	best := make(map[string]*teamBest)
	var teamOrder []string
	for _, j := range jobs {
		if j.skipped {
			continue
		}
		if j.err != nil {
			m.recordFailure(ctx, lane, j, &report, logger)
			continue
		}
		if !m.recordSuccess(lane, j, logger) {
			continue
		}
		report.Scored++
		m.metrics.Scored(string(id), j.took)

		team := j.inst.Team
		current, seen := best[team]
		if !seen {
			teamOrder = append(teamOrder, team)
		}
		primary, ok := j.result.Values[lane.def.Primary]
		if !ok {
			continue
		}
		if !seen || current == nil || lane.def.Direction.Better(primary, current.values[lane.def.Primary]) {
			best[team] = &teamBest{job: j, values: j.result.Values}
		}
	}

	// Scores already saved as evaluated must reach the leaderboard even when
	// shutdown interrupts the tick.
	ctx = context.WithoutCancel(ctx)
	improvedTeams := make(map[string]bool)
	var boardErr error
	for _, team := range teamOrder {
		candidate := best[team]
		if candidate == nil {
			continue
		}
		improved, err := m.board.UpsertIfBetter(ctx, id, team, candidate.values)
		if err != nil {
			boardErr = errors.Join(boardErr, fmt.Errorf("leaderboard update for %s: %w", team, err))
			continue
		}
		if improved {
			improvedTeams[team] = true
			report.Improved = append(report.Improved, team)
			m.metrics.LeaderboardUpdated(string(id))
			logger.Info("leaderboard improved",
				logging.String(logging.FieldEventType, "leaderboard_improved"),
				logging.String(logging.FieldTeam, team),
				logging.Float64(lane.def.Primary, candidate.values[lane.def.Primary]),
			)
		}
	}
	if len(report.Improved) > 0 {
		m.refreshBestGauge(ctx, lane)
	}

	for _, j := range jobs {
		if j.skipped || j.err != nil || !j.meta.Evaluated {
			continue
		}
		m.notifyScored(ctx, lane, j, improvedTeams[j.inst.Team] && best[j.inst.Team] != nil && best[j.inst.Team].job == j, logger)
	}

	report.Finished = m.now()
	m.metrics.Tick(string(id), trigger, report.Finished.Sub(report.Started))
	if report.Pending > 0 || report.NotReady > 0 {
		logger.Info("tick complete",
			logging.String(logging.FieldEventType, "tick_complete"),
			logging.Int("scored", report.Scored),
			logging.Int("failed", report.Failed),
			logging.Int("not_ready", report.NotReady),
			logging.Int("improved", len(report.Improved)),
			logging.Duration("duration", report.Finished.Sub(report.Started)),
		)
	}
	lane.record(report, boardErr)
	return report, boardErr
}

// collect lists every pending instance of the lane's track in team then
// instance name order.
func (m *Manager) collect(lane *laneState, report *TickReport, logger *slog.Logger) ([]*job, error) {
	id := lane.def.ID
	teams, err := m.submissions.Teams(id)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	report.Teams = len(teams)

	var jobs []*job
	for _, team := range teams {
		instances, err := m.submissions.Instances(id, team)
		if err != nil {
			logging.WarnWithContext(logger, "cannot list team submissions", "team_list_failed",
				logging.String(logging.FieldTeam, team),
				logging.Error(err),
				logging.String(logging.FieldImpact, "this team's submissions are skipped for this tick"),
			)
			continue
		}
		for _, inst := range instances {
			meta, err := m.submissions.Load(inst)
			if errors.Is(err, submission.ErrNotReady) {
				report.NotReady++
				logger.Debug("submission not ready",
					logging.String(logging.FieldTeam, team),
					logging.String(logging.FieldInstance, inst.Name),
					logging.Error(err),
				)
				continue
			}
			if err != nil {
				logging.WarnWithContext(logger, "cannot read submission metadata", "metadata_read_failed",
					logging.String(logging.FieldTeam, team),
					logging.String(logging.FieldInstance, inst.Name),
					logging.Error(err),
					logging.String(logging.FieldImpact, "submission retried next tick"),
				)
				continue
			}
			if !meta.Pending() {
				continue
			}
			jobs = append(jobs, &job{inst: inst, meta: meta})
		}
	}
	return jobs, nil
}

func (m *Manager) score(ctx context.Context, lane *laneState, jobs []*job) {
	var g errgroup.Group
	g.SetLimit(m.parallelism)
	for _, j := range jobs {
		g.Go(func() error {
			if ctx.Err() != nil {
				j.skipped = true
				return nil
			}
			jobCtx := services.WithTeam(ctx, j.inst.Team)
			jobCtx = services.WithInstance(jobCtx, j.inst.Name)
			started := time.Now()
			result, err := lane.scorer.Score(jobCtx, j.inst.ImagesPath())
			j.took = time.Since(started)
			// Results finished under a canceled context may carry fallback
			// values; leave the submission pending.
			if ctx.Err() != nil {
				j.skipped = true
				return nil
			}
			j.result, j.err = result, err
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) recordSuccess(lane *laneState, j *job, logger *slog.Logger) bool {
	meta := j.meta
	meta.Scores = j.result.Scores()
	meta.Evaluated = true
	meta.EvaluatedAt = m.now().UTC().Format(time.RFC3339)
	meta.LastError = ""
	meta.FailureKind = ""
	if err := m.submissions.Save(j.inst, meta); err != nil {
		meta.Evaluated = false
		logging.ErrorWithContext(logger, "cannot save scores", "metadata_write_failed",
			logging.String(logging.FieldTeam, j.inst.Team),
			logging.String(logging.FieldInstance, j.inst.Name),
			logging.Error(err),
			logging.String(logging.FieldImpact, "submission is rescored next tick"),
			logging.String(logging.FieldErrorHint, "check write permission on the submissions directory"),
		)
		return false
	}
	logger.Info("submission scored",
		logging.String(logging.FieldEventType, "submission_scored"),
		logging.String(logging.FieldTeam, j.inst.Team),
		logging.String(logging.FieldInstance, j.inst.Name),
		logging.Float64(lane.def.Primary, j.result.Values[lane.def.Primary]),
		logging.Duration("duration", j.took),
	)
	return true
}

func (m *Manager) recordFailure(ctx context.Context, lane *laneState, j *job, report *TickReport, logger *slog.Logger) {
	kind := services.FailureKind(j.err)
	meta := j.meta
	meta.Attempts++
	meta.LastError = j.err.Error()
	meta.FailureKind = kind
	if kind == "invalid" || (m.maxAttempts > 0 && meta.Attempts >= m.maxAttempts) {
		meta.Failed = true
	}
	report.Failed++
	m.metrics.Failed(string(lane.def.ID), kind)

	attrs := []logging.Attr{
		logging.String(logging.FieldTeam, j.inst.Team),
		logging.String(logging.FieldInstance, j.inst.Name),
		logging.String("failure_kind", kind),
		logging.Int("attempts", meta.Attempts),
		logging.Error(j.err),
	}
	if meta.Failed {
		report.Abandoned++
		attrs = append(attrs,
			logging.String(logging.FieldImpact, "submission will not be retried"),
			logging.String(logging.FieldErrorHint, "team must upload a corrected submission"),
		)
		logging.WarnWithContext(logger, "submission failed permanently", "submission_failed", attrs...)
	} else {
		attrs = append(attrs, logging.String(logging.FieldImpact, "submission retried next tick"))
		logging.WarnWithContext(logger, "submission scoring failed", "submission_retry", attrs...)
	}

	if err := m.submissions.Save(j.inst, meta); err != nil {
		logging.ErrorWithContext(logger, "cannot save failure state", "metadata_write_failed",
			logging.String(logging.FieldTeam, j.inst.Team),
			logging.String(logging.FieldInstance, j.inst.Name),
			logging.Error(err),
			logging.String(logging.FieldImpact, "attempt count not persisted"),
			logging.String(logging.FieldErrorHint, "check write permission on the submissions directory"),
		)
		return
	}
	if !meta.Failed {
		return
	}
	event := notifications.Failed{
		Track:    lane.def.ID,
		Team:     j.inst.Team,
		Instance: j.inst.Name,
		Attempts: meta.Attempts,
		Kind:     kind,
		Err:      j.err,
	}
	if err := m.notifier.NotifyFailed(ctx, event); err != nil {
		logger.Debug("failure notification failed", logging.Error(err))
	}
}

func (m *Manager) notifyScored(ctx context.Context, lane *laneState, j *job, improved bool, logger *slog.Logger) {
	event := notifications.Scored{
		Track:    lane.def.ID,
		Team:     j.inst.Team,
		Instance: j.inst.Name,
		Values:   j.result.Values,
		Scores:   j.meta.Scores,
		Improved: improved,
	}
	if lane.def.ID == track.Fire {
		event.Recipients = append([]string(nil), j.meta.Emails...)
	}
	if err := m.notifier.NotifyScored(ctx, event); err != nil {
		logging.WarnWithContext(logger, "score notification failed", "notification_failed",
			logging.String(logging.FieldTeam, j.inst.Team),
			logging.String(logging.FieldInstance, j.inst.Name),
			logging.Error(err),
			logging.String(logging.FieldImpact, "team was not told about this score"),
			logging.String(logging.FieldErrorHint, "check smtp and ntfy settings with arbiter test-notify"),
		)
	}
}

func (m *Manager) refreshBestGauge(ctx context.Context, lane *laneState) {
	if m.metrics == nil {
		return
	}
	rows, err := m.board.GetTop(ctx, lane.def.ID, 1)
	if err != nil || len(rows) == 0 {
		return
	}
	m.metrics.BestPrimary(string(lane.def.ID), rows[0].Primary(lane.def))
}
