package preflight

import (
	"context"
	"fmt"

	"arbiter/internal/config"
	"arbiter/internal/track"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every applicable preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Submissions directory", cfg.Paths.SubmissionsDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	for _, id := range cfg.EnabledTracks() {
		results = append(results, CheckTruth(id, cfg.TrackTruthDir(id)))
	}

	if cfg.Gateway.Enabled && cfg.Gateway.MinFreeMiB > 0 {
		results = append(results, CheckFreeSpace("Submissions free space", cfg.Paths.SubmissionsDir, cfg.Gateway.MinFreeMiB))
	}

	if cfg.MailEnabled() {
		results = append(results, CheckMailRelay(ctx, cfg.Notifications.SMTPHost, cfg.Notifications.SMTPPort))
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

func truthLabel(id track.ID) string {
	return fmt.Sprintf("Ground truth (%s)", id)
}
