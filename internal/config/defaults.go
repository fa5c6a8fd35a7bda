package config

const (
	defaultConfigPath          = "~/.config/arbiter/config.toml"
	defaultSubmissionsDir      = "~/.local/share/arbiter/submissions"
	defaultTruthDir            = "~/.local/share/arbiter/truth"
	defaultStateDir            = "~/.local/share/arbiter/state"
	defaultLogDir              = "~/.local/share/arbiter/logs"
	defaultDatabaseName        = "leaderboard.db"
	defaultLogRetentionDays    = 30
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultPollInterval        = 60
	defaultMaxAttempts         = 5
	defaultParallelism         = 1
	defaultLPIPSCommand        = "python3 -m arbiter_lpips --net alex"
	defaultFIDCommand          = "python3 -m pytorch_fid"
	defaultMetricDevice        = "cpu"
	defaultFIDBatchSize        = 50
	defaultTranslationMetric   = "mse"
	defaultGatewayBind         = "127.0.0.1:8080"
	defaultGatewayTopN         = 50
	defaultGatewayMaxUploadMiB = 512
	defaultGatewayMinFreeMiB   = 1024
	defaultSMTPPort            = 25
	defaultRequestTimeout      = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			SubmissionsDir: defaultSubmissionsDir,
			TruthDir:       defaultTruthDir,
			StateDir:       defaultStateDir,
			LogDir:         defaultLogDir,
		},
		Workflow: Workflow{
			PollInterval: defaultPollInterval,
			MaxAttempts:  defaultMaxAttempts,
			Parallelism:  defaultParallelism,
			Tracks:       []string{"matrix-completion", "estimation", "fire", "translation"},
		},
		Metrics: Metrics{
			LPIPSCommand: defaultLPIPSCommand,
			FIDCommand:   defaultFIDCommand,
			Device:       defaultMetricDevice,
			FIDBatchSize: defaultFIDBatchSize,
		},
		Translation: Translation{
			Metric: defaultTranslationMetric,
		},
		Gateway: Gateway{
			Enabled:      true,
			Bind:         defaultGatewayBind,
			TopN:         defaultGatewayTopN,
			MaxUploadMiB: defaultGatewayMaxUploadMiB,
			MinFreeMiB:   defaultGatewayMinFreeMiB,
		},
		Notifications: Notifications{
			SMTPPort:       defaultSMTPPort,
			RequestTimeout: defaultRequestTimeout,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
