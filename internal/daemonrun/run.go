package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/daemon"
	"arbiter/internal/gateway"
	"arbiter/internal/ipc"
	"arbiter/internal/leaderboard"
	"arbiter/internal/logging"
	"arbiter/internal/notifications"
	"arbiter/internal/preflight"
	"arbiter/internal/staging"
	"arbiter/internal/submission"
	"arbiter/internal/telemetry"
	"arbiter/internal/workflow"
)

// Spool files older than this belong to uploads that never finished.
const staleUploadAge = 6 * time.Hour

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// NoGateway disables the upload gateway regardless of configuration.
	NoGateway bool
}

// Run starts the arbiter daemon and blocks until a signal or an IPC stop
// request arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("arbiter-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout"},
		FilePath:    logPath,
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", logging.LogFileName, err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, cfg.Paths.LogDir, "arbiter-*.log", logPath)
	logDependencySnapshot(signalCtx, logger, cfg)
	runPreflight(signalCtx, logger, cfg)
	staging.CleanStale(signalCtx, cfg.SpoolDir(), staleUploadAge, logger)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	board, err := leaderboard.Open(cfg)
	if err != nil {
		logger.Error("open leaderboard store", logging.Error(err))
		return err
	}

	submissions := submission.NewStore(cfg.Paths.SubmissionsDir)
	notifier := notifications.NewService(cfg)
	metrics := telemetry.New()
	helpers := daemon.NewMetrics(cfg, logger)
	scorers, err := helpers.Scorers(cfg, logger)
	if err != nil {
		_ = board.Close()
		return fmt.Errorf("build scorers: %w", err)
	}

	manager := workflow.NewManager(cfg, submissions, board, scorers, logger,
		workflow.WithNotifier(notifier),
		workflow.WithMetrics(metrics),
		workflow.WithProbe("lpips", helpers.Probe()),
		workflow.WithProbe("fid", helpers.FIDProbe(cfg)),
	)

	daemonOpts := []daemon.Option{daemon.WithNetwork(helpers.Network), daemon.WithNotifier(notifier)}
	if cfg.Gateway.Enabled && !opts.NoGateway {
		gw := gateway.New(cfg, submissions, board, logger,
			gateway.WithTrigger(manager),
			gateway.WithMetrics(metrics),
		)
		daemonOpts = append(daemonOpts, daemon.WithGateway(gw))
	}

	d, err := daemon.New(cfg, board, manager, logger, daemonOpts...)
	if err != nil {
		_ = board.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.truth_dir and that no other daemon holds the lock"),
			logging.String(logging.FieldImpact, "no submissions are scored"),
		)
		return err
	}

	select {
	case <-signalCtx.Done():
	case <-d.ShutdownRequested():
	}
	logger.Info("arbiter daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, logging.LogFileName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("device", cfg.Metrics.Device),
		logging.Bool("mail_enabled", cfg.MailEnabled()),
		logging.Bool("ntfy_enabled", cfg.Notifications.NtfyTopic != ""),
		logging.Bool("gateway_enabled", cfg.Gateway.Enabled),
		logging.Any("tracks", cfg.Workflow.Tracks),
	}
	for _, status := range preflight.CheckSystemDeps(ctx, cfg) {
		attrs = append(attrs, logging.Bool(dependencyKey(status.Name), status.Available))
		if status.Available {
			continue
		}
		log := logger.Info
		if !status.Optional {
			log = logger.Warn
		}
		log("metric helper unavailable",
			logging.String(logging.FieldEventType, "dependency_missing"),
			logging.String("dependency", status.Name),
			logging.String("command", status.Command),
			logging.String("detail", status.Detail),
			logging.Bool("optional", status.Optional),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}

func dependencyKey(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "_")) + "_available"
}

func runPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, result := range preflight.Failed(preflight.RunAll(ctx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "scoring or uploads may fail"),
			logging.String(logging.FieldErrorHint, "run `arbiter check` for the full report"),
		)
	}
}
