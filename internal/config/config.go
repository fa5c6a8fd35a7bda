package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"arbiter/internal/track"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	SubmissionsDir string `toml:"submissions_dir"`
	TruthDir       string `toml:"truth_dir"`
	StateDir       string `toml:"state_dir"`
	LogDir         string `toml:"log_dir"`
	Database       string `toml:"database"`
}

// Workflow contains scan loop timing and retry configuration.
type Workflow struct {
	PollInterval int      `toml:"poll_interval"`
	MaxAttempts  int      `toml:"max_attempts"`
	Parallelism  int      `toml:"parallelism"`
	Watch        bool     `toml:"watch"`
	Tracks       []string `toml:"tracks"`
}

// Metrics configures the external perceptual and distribution metric helpers.
type Metrics struct {
	LPIPSCommand   string `toml:"lpips_command"`
	FIDCommand     string `toml:"fid_command"`
	Device         string `toml:"device"`
	FIDBatchSize   int    `toml:"fid_batch_size"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Translation selects the distance used by the translation track.
type Translation struct {
	Metric string `toml:"metric"`
}

// Gateway configures the HTTP upload gateway.
type Gateway struct {
	Enabled      bool   `toml:"enabled"`
	Bind         string `toml:"bind"`
	TopN         int    `toml:"top_n"`
	MaxUploadMiB int    `toml:"max_upload_mib"`
	MinFreeMiB   int    `toml:"min_free_mib"`
}

// Notifications contains mail relay and ntfy settings.
type Notifications struct {
	SMTPHost       string   `toml:"smtp_host"`
	SMTPPort       int      `toml:"smtp_port"`
	SMTPUsername   string   `toml:"smtp_username"`
	SMTPPassword   string   `toml:"smtp_password"`
	MailFrom       string   `toml:"mail_from"`
	MailCC         []string `toml:"mail_cc"`
	NtfyTopic      string   `toml:"ntfy_topic"`
	RequestTimeout int      `toml:"request_timeout"`
	Errors         bool     `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for arbiter.
//
// Configuration sections by subsystem:
//   - Paths: submission, ground truth, state, and log locations
//   - Workflow: scan interval, retry cap, parallelism, enabled tracks
//   - Metrics: LPIPS/FID helper commands
//   - Translation: distance used by the translation track
//   - Gateway: upload gateway bind address and limits
//   - Notifications: SMTP relay and ntfy push settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Workflow      Workflow      `toml:"workflow"`
	Metrics       Metrics       `toml:"metrics"`
	Translation   Translation   `toml:"translation"`
	Gateway       Gateway       `toml:"gateway"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file next to the config file or in the
// working directory is loaded first; variables already set in the environment win.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if err := loadDotEnv(resolvedPath); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("arbiter.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func loadDotEnv(configPath string) error {
	candidates := []string{".env"}
	if dir := filepath.Dir(configPath); dir != "" && dir != "." {
		candidates = append([]string{filepath.Join(dir, ".env")}, candidates...)
	}
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("load env file %s: %w", abs, err)
		}
	}
	return nil
}

// EnsureDirectories creates required directories for daemon operation.
// The truth directory is never created; it is supplied externally and its
// absence is reported at workflow startup.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.SubmissionsDir, c.Paths.StateDir, c.Paths.LogDir, filepath.Dir(c.Paths.Database)} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// EnabledTracks returns the parsed list of tracks the daemon should scan.
func (c *Config) EnabledTracks() []track.ID {
	ids := make([]track.ID, 0, len(c.Workflow.Tracks))
	for _, name := range c.Workflow.Tracks {
		id, err := track.Parse(name)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// TrackSubmissionsDir is the per-track root that holds one folder per team.
func (c *Config) TrackSubmissionsDir(id track.ID) string {
	return filepath.Join(c.Paths.SubmissionsDir, string(id))
}

// TrackTruthDir is the read-only ground truth root for a track.
func (c *Config) TrackTruthDir(id track.ID) string {
	return filepath.Join(c.Paths.TruthDir, string(id))
}

// SocketPath is the daemon's IPC endpoint.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "arbiter.sock")
}

// LockPath is the single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "arbiter.lock")
}

// PIDPath is where the running daemon records its process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "arbiter.pid")
}

// SpoolDir holds uploads between the HTTP request and validation.
func (c *Config) SpoolDir() string {
	return filepath.Join(c.Paths.StateDir, "uploads")
}

// PollInterval converts the configured scan interval into a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.PollInterval) * time.Second
}

// MetricTimeout bounds a single call into an external metric helper.
// Zero disables the bound.
func (c *Config) MetricTimeout() time.Duration {
	return time.Duration(c.Metrics.TimeoutSeconds) * time.Second
}

// LPIPSArgv splits the configured LPIPS helper command into argv form.
func (c *Config) LPIPSArgv() []string {
	return strings.Fields(c.Metrics.LPIPSCommand)
}

// FIDArgv splits the configured FID command into argv form.
func (c *Config) FIDArgv() []string {
	return strings.Fields(c.Metrics.FIDCommand)
}

// MailEnabled reports whether an SMTP relay is configured.
func (c *Config) MailEnabled() bool {
	return strings.TrimSpace(c.Notifications.SMTPHost) != "" && strings.TrimSpace(c.Notifications.MailFrom) != ""
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
