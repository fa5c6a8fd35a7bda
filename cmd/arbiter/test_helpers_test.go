package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"arbiter/internal/config"
	"arbiter/internal/daemon"
	"arbiter/internal/ipc"
	"arbiter/internal/leaderboard"
	"arbiter/internal/logging"
	"arbiter/internal/notifications"
	"arbiter/internal/testsupport"
	"arbiter/internal/track"
	"arbiter/internal/workflow"
)

type cliTestEnv struct {
	cfg        *config.Config
	board      *leaderboard.Store
	daemon     *daemon.Daemon
	server     *ipc.Server
	socketPath string
	configPath string
	cancel     context.CancelFunc
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithTracks(track.Fire))
	cfg.Gateway.Enabled = false
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("ARBITER_SMTP_PASSWORD", "")
	t.Setenv("ARBITER_NTFY_TOPIC", "")

	configPath := filepath.Join(base, "home", ".config", "arbiter", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg)

	board := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	metrics := daemon.NewMetrics(cfg, logger)
	scorers, err := metrics.Scorers(cfg, logger)
	if err != nil {
		t.Fatalf("Scorers: %v", err)
	}
	mgr := workflow.NewManager(cfg, testsupport.SubmissionStore(cfg), board, scorers, logger,
		workflow.WithNotifier(notifications.NewNoop()))
	d, err := daemon.New(cfg, board, mgr, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	// Unix socket paths are length limited; keep this one short.
	sockDir, err := os.MkdirTemp("", "arbcli")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	socketPath := filepath.Join(sockDir, "arbiter.sock")

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		cancel()
		os.RemoveAll(sockDir)
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-d.ShutdownRequested():
			srv.Close()
		case <-ctx.Done():
		}
	}()

	env := &cliTestEnv{
		cfg:        cfg,
		board:      board,
		daemon:     d,
		server:     srv,
		socketPath: socketPath,
		configPath: configPath,
		cancel:     cancel,
	}
	t.Cleanup(func() {
		cancel()
		<-stopped
		srv.Close()
		d.Stop()
		os.RemoveAll(sockDir)
	})
	return env
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if socket != "" {
		flags = append(flags, "--socket", socket)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
submissions_dir = %q
truth_dir = %q
state_dir = %q
log_dir = %q
database = %q

[workflow]
poll_interval = 60
tracks = ["fire"]
watch = false

[gateway]
enabled = false
min_free_mib = 0
`,
		cfg.Paths.SubmissionsDir,
		cfg.Paths.TruthDir,
		cfg.Paths.StateDir,
		cfg.Paths.LogDir,
		cfg.Paths.Database,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
