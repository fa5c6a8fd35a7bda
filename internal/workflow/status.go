package workflow

import (
	"context"
	"os"
	"time"

	"arbiter/internal/track"
)

// LaneStatus is the externally visible state of one track lane.
type LaneStatus struct {
	Track      track.ID   `json:"track"`
	TruthDir   string     `json:"truth_dir"`
	LastTick   time.Time  `json:"last_tick"`
	Ticks      int        `json:"ticks"`
	Scored     int        `json:"scored"`
	Failed     int        `json:"failed"`
	LastReport TickReport `json:"last_report"`
	LastError  string     `json:"last_error,omitempty"`
	Health     Health     `json:"health"`
}

// StatusSummary exposes the manager's state for health checks and the CLI.
type StatusSummary struct {
	Running      bool          `json:"running"`
	Watching     bool          `json:"watching"`
	PollInterval time.Duration `json:"poll_interval"`
	LastError    string        `json:"last_error,omitempty"`
	Lanes        []LaneStatus  `json:"lanes"`
	Dependencies []Health      `json:"dependencies,omitempty"`
}

// Status returns a snapshot of every lane plus registered dependency probes.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:      m.running,
		Watching:     m.watcher != nil,
		PollInterval: m.pollInterval,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()

	for _, id := range m.laneOrder {
		lane := m.lanes[id]
		lane.mu.RLock()
		status := LaneStatus{
			Track:      id,
			TruthDir:   lane.truthDir,
			LastTick:   lane.lastTick,
			Ticks:      lane.ticks,
			Scored:     lane.scored,
			Failed:     lane.failed,
			LastReport: lane.lastReport,
		}
		if lane.lastErr != nil {
			status.LastError = lane.lastErr.Error()
		}
		lane.mu.RUnlock()
		status.Health = laneHealth(lane)
		summary.Lanes = append(summary.Lanes, status)
	}
	for name, probe := range m.probes {
		health := probe(ctx)
		if health.Name == "" {
			health.Name = name
		}
		summary.Dependencies = append(summary.Dependencies, health)
	}
	sortHealth(summary.Dependencies)
	return summary
}

func laneHealth(lane *laneState) Health {
	name := string(lane.def.ID)
	info, err := os.Stat(lane.truthDir)
	if err != nil {
		return Unhealthy(name, "ground truth unavailable: "+err.Error())
	}
	if !info.IsDir() {
		return Unhealthy(name, "ground truth is not a directory")
	}
	return Healthy(name)
}
