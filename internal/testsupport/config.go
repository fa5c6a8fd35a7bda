package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"arbiter/internal/config"
	"arbiter/internal/track"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Every enabled track gets an empty truth directory so workflow startup
// checks pass.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.SubmissionsDir = filepath.Join(base, "submissions")
	cfgVal.Paths.TruthDir = filepath.Join(base, "truth")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.Database = filepath.Join(base, "state", "leaderboard.db")
	cfgVal.Gateway.Bind = "127.0.0.1:0"
	cfgVal.Gateway.MinFreeMiB = 0
	cfgVal.Workflow.Watch = false
	cfgVal.Logging.RetentionDays = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	for _, id := range builder.cfg.EnabledTracks() {
		if err := os.MkdirAll(builder.cfg.TrackTruthDir(id), 0o755); err != nil {
			t.Fatalf("mkdir truth dir: %v", err)
		}
	}
	return builder.cfg
}

// WithTracks limits the enabled tracks.
func WithTracks(ids ...track.ID) ConfigOption {
	return func(b *configBuilder) {
		names := make([]string, len(ids))
		for i, id := range ids {
			names[i] = string(id)
		}
		b.cfg.Workflow.Tracks = names
	}
}

// WithMaxAttempts overrides the retry cap.
func WithMaxAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.MaxAttempts = n
	}
}

// WithStubbedBinaries writes stub executables that print output and prepends
// them to PATH. The map key is the binary name.
func WithStubbedBinaries(scripts map[string]string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		for name, body := range scripts {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.SubmissionsDir)
}
