package config

import (
	"errors"
	"fmt"
	"strings"

	"arbiter/internal/track"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	if err := c.validateGateway(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.SubmissionsDir) == "" {
		return errors.New("paths.submissions_dir must be set")
	}
	if strings.TrimSpace(c.Paths.TruthDir) == "" {
		return errors.New("paths.truth_dir must be set")
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.PollInterval <= 0 {
		return errors.New("workflow.poll_interval must be positive")
	}
	if c.Workflow.MaxAttempts < 0 {
		return errors.New("workflow.max_attempts must be zero (unlimited) or positive")
	}
	if len(c.Workflow.Tracks) == 0 {
		return errors.New("workflow.tracks must list at least one track")
	}
	for _, name := range c.Workflow.Tracks {
		if _, err := track.Parse(name); err != nil {
			return fmt.Errorf("workflow.tracks: %w", err)
		}
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if c.Metrics.LPIPSCommand == "" {
		return errors.New("metrics.lpips_command must be set")
	}
	if c.Metrics.FIDCommand == "" {
		return errors.New("metrics.fid_command must be set")
	}
	if c.Metrics.TimeoutSeconds < 0 {
		return errors.New("metrics.timeout_seconds must be zero (unbounded) or positive")
	}
	switch c.Translation.Metric {
	case "mse", "lpips":
	default:
		return fmt.Errorf("translation.metric must be mse or lpips, got %q", c.Translation.Metric)
	}
	return nil
}

func (c *Config) validateGateway() error {
	if !c.Gateway.Enabled {
		return nil
	}
	if !strings.Contains(c.Gateway.Bind, ":") {
		return fmt.Errorf("gateway.bind must be host:port, got %q", c.Gateway.Bind)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	n := c.Notifications
	if n.SMTPPort > 65535 {
		return fmt.Errorf("notifications.smtp_port out of range: %d", n.SMTPPort)
	}
	if n.SMTPHost != "" && n.MailFrom == "" {
		return errors.New("notifications.mail_from is required when smtp_host is set")
	}
	if n.MailFrom != "" && !strings.Contains(n.MailFrom, "@") {
		return fmt.Errorf("notifications.mail_from is not an address: %q", n.MailFrom)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
