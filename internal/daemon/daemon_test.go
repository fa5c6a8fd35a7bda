package daemon_test

import (
	"context"
	"errors"
	"testing"

	"arbiter/internal/config"
	"arbiter/internal/daemon"
	"arbiter/internal/logging"
	"arbiter/internal/notifications"
	"arbiter/internal/testsupport"
	"arbiter/internal/track"
	"arbiter/internal/workflow"
)

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	board := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	metrics := daemon.NewMetrics(cfg, logger)
	scorers, err := metrics.Scorers(cfg, logger)
	if err != nil {
		t.Fatalf("Scorers: %v", err)
	}
	mgr := workflow.NewManager(cfg, testsupport.SubmissionStore(cfg), board, scorers, logger,
		workflow.WithNotifier(notifications.NewNoop()),
		workflow.WithProbe("lpips", metrics.Probe()),
	)
	d, err := daemon.New(cfg, board, mgr, logger, daemon.WithNetwork(metrics.Network), daemon.WithNotifier(notifications.NewNoop()))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTracks(track.Fire, track.Estimation))
	d := newDaemon(t, cfg)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || status.LockFilePath != cfg.LockPath() || status.DatabasePath != cfg.Paths.Database {
		t.Fatalf("unexpected status %+v", status)
	}
	if len(status.Workflow.Lanes) != 2 {
		t.Fatalf("expected 2 lanes, got %d", len(status.Workflow.Lanes))
	}
	if len(status.Workflow.Dependencies) != 1 || status.Workflow.Dependencies[0].Name != "lpips" {
		t.Fatalf("dependencies = %+v", status.Workflow.Dependencies)
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestSecondDaemonIsLockedOut(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTracks(track.Fire))
	first := newDaemon(t, cfg)
	second := newDaemon(t, cfg)
	ctx := context.Background()

	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		t.Fatal("expected lock conflict")
	}
	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("second Start after release: %v", err)
	}
}

func TestTriggerScanAndLeaderboard(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTracks(track.Fire))
	d := newDaemon(t, cfg)
	ctx := context.Background()

	targets, _, err := d.TriggerScan("")
	if err != nil || len(targets) != 1 || targets[0] != track.Fire {
		t.Fatalf("TriggerScan all = %v, %v", targets, err)
	}
	if _, _, err := d.TriggerScan(track.Translation); !errors.Is(err, track.ErrUnknown) {
		t.Fatalf("expected ErrUnknown for disabled track, got %v", err)
	}

	rows, err := d.Leaderboard(ctx, track.Fire, 10)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected empty leaderboard, got %+v", rows)
	}
}

func TestRequestShutdownClosesChannelOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTracks(track.Fire))
	d := newDaemon(t, cfg)
	d.RequestShutdown()
	d.RequestShutdown()
	select {
	case <-d.ShutdownRequested():
	default:
		t.Fatal("shutdown channel not closed")
	}
}

func TestTestNotificationWithoutNotifiers(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTracks(track.Fire))
	cfg.Notifications.SMTPHost = ""
	cfg.Notifications.NtfyTopic = ""
	d := newDaemon(t, cfg)
	sent, message, err := d.TestNotification(context.Background())
	if err != nil || sent || message != "no notifier configured" {
		t.Fatalf("TestNotification = %v, %q, %v", sent, message, err)
	}
}

func TestFIDProbe(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTracks(track.Fire),
		testsupport.WithStubbedBinaries(map[string]string{"fid-stub": "exit 0"}))
	logger := logging.NewNop()

	cfg.Metrics.FIDCommand = "fid-stub --dims 2048"
	if h := daemon.NewMetrics(cfg, logger).FIDProbe(cfg)(context.Background()); !h.Ready || h.Name != "fid" {
		t.Fatalf("expected ready fid probe, got %+v", h)
	}

	cfg.Metrics.FIDCommand = "definitely-missing-fid"
	if h := daemon.NewMetrics(cfg, logger).FIDProbe(cfg)(context.Background()); h.Ready || h.Detail == "" {
		t.Fatalf("expected missing fid probe, got %+v", h)
	}
}
