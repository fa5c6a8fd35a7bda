package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizeMetrics()
	c.normalizeGateway()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.SubmissionsDir, err = expandPath(c.Paths.SubmissionsDir); err != nil {
		return fmt.Errorf("paths.submissions_dir: %w", err)
	}
	if c.Paths.TruthDir, err = expandPath(c.Paths.TruthDir); err != nil {
		return fmt.Errorf("paths.truth_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.Database) == "" {
		c.Paths.Database = filepath.Join(c.Paths.StateDir, defaultDatabaseName)
	}
	if c.Paths.Database, err = expandPath(c.Paths.Database); err != nil {
		return fmt.Errorf("paths.database: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.Parallelism <= 0 {
		c.Workflow.Parallelism = defaultParallelism
	}
	tracks := make([]string, 0, len(c.Workflow.Tracks))
	seen := make(map[string]struct{}, len(c.Workflow.Tracks))
	for _, name := range c.Workflow.Tracks {
		name = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		tracks = append(tracks, name)
	}
	c.Workflow.Tracks = tracks
}

func (c *Config) normalizeMetrics() {
	c.Metrics.LPIPSCommand = strings.TrimSpace(c.Metrics.LPIPSCommand)
	c.Metrics.FIDCommand = strings.TrimSpace(c.Metrics.FIDCommand)
	c.Metrics.Device = strings.ToLower(strings.TrimSpace(c.Metrics.Device))
	if c.Metrics.Device == "" {
		c.Metrics.Device = defaultMetricDevice
	}
	if c.Metrics.FIDBatchSize <= 0 {
		c.Metrics.FIDBatchSize = defaultFIDBatchSize
	}
	c.Translation.Metric = strings.ToLower(strings.TrimSpace(c.Translation.Metric))
	if c.Translation.Metric == "" {
		c.Translation.Metric = defaultTranslationMetric
	}
}

func (c *Config) normalizeGateway() {
	c.Gateway.Bind = strings.TrimSpace(c.Gateway.Bind)
	if c.Gateway.Bind == "" {
		c.Gateway.Bind = defaultGatewayBind
	}
	if c.Gateway.TopN <= 0 {
		c.Gateway.TopN = defaultGatewayTopN
	}
	if c.Gateway.MaxUploadMiB <= 0 {
		c.Gateway.MaxUploadMiB = defaultGatewayMaxUploadMiB
	}
	if c.Gateway.MinFreeMiB < 0 {
		c.Gateway.MinFreeMiB = 0
	}
}

func (c *Config) normalizeNotifications() {
	n := &c.Notifications
	n.SMTPHost = strings.TrimSpace(n.SMTPHost)
	n.MailFrom = strings.TrimSpace(n.MailFrom)
	if n.SMTPPassword == "" {
		if value, ok := os.LookupEnv("ARBITER_SMTP_PASSWORD"); ok {
			n.SMTPPassword = value
		}
	}
	if n.NtfyTopic == "" {
		if value, ok := os.LookupEnv("ARBITER_NTFY_TOPIC"); ok {
			n.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if n.SMTPPort <= 0 {
		n.SMTPPort = defaultSMTPPort
	}
	if n.RequestTimeout <= 0 {
		n.RequestTimeout = defaultRequestTimeout
	}
	cc := n.MailCC[:0]
	for _, addr := range n.MailCC {
		if addr = strings.TrimSpace(addr); addr != "" {
			cc = append(cc, addr)
		}
	}
	n.MailCC = cc
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
