package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"

	"docflow/internal/stage"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateRecovery(); err != nil {
		return err
	}
	if err := c.validateCleanup(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required when database.driver is postgres. Set DOCFLOW_DATABASE_DSN or edit the config file")
		}
	default:
		return fmt.Errorf("database.driver: unsupported value %q (want sqlite or postgres)", c.Database.Driver)
	}
	return nil
}

func (c *Config) validateRemote() error {
	if c.Remote.BaseURL != "" {
		if err := validateURL("remote.base_url", c.Remote.BaseURL); err != nil {
			return err
		}
	}
	if c.Remote.RequestTimeout <= 0 {
		return errors.New("remote.request_timeout must be positive (seconds)")
	}
	return nil
}

// ValidateRemote reports whether the remote worker connection is usable. The
// daemon requires it; the CLI does not.
func (c *Config) ValidateRemote() error {
	if c.Remote.BaseURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("remote.base_url is required. Edit %s (create with 'docflow config init')", defaultPath)
	}
	if c.Remote.Token == "" {
		return errors.New("remote.token is required. Set DOCFLOW_REMOTE_TOKEN or edit the config file")
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.PublicURL != "" {
		if err := validateURL("api.public_url", c.API.PublicURL); err != nil {
			return err
		}
		if c.API.WebhookSecret == "" {
			return errors.New("api.webhook_secret must be set when api.public_url is configured")
		}
	}
	return nil
}

func (c *Config) validateWorkers() error {
	return ensurePositiveMap(map[string]int{
		"scheduler.interval":            c.Scheduler.Interval,
		"scheduler.batch_size":          c.Scheduler.BatchSize,
		"processor.interval":            c.Processor.Interval,
		"processor.batch_size":          c.Processor.BatchSize,
		"poller.interval":               c.Poller.Interval,
		"poller.batch_size":             c.Poller.BatchSize,
		"poller.stale_after_minutes":    c.Poller.StaleAfter,
		"recovery.interval":             c.Recovery.Interval,
		"cleanup.interval":              c.Cleanup.Interval,
		"cleanup.batch_size":            c.Cleanup.BatchSize,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	})
}

func (c *Config) validateRecovery() error {
	r := c.Recovery
	if r.StuckAfter <= 0 {
		return errors.New("recovery.stuck_after_minutes must be positive")
	}
	if r.RetryWindow <= r.StuckAfter {
		return errors.New("recovery.retry_window_minutes must be greater than recovery.stuck_after_minutes")
	}
	if r.CancelAfter <= r.RetryWindow {
		return errors.New("recovery.cancel_after_minutes must be greater than recovery.retry_window_minutes")
	}
	if r.RetryDelay < 0 {
		return errors.New("recovery.retry_delay_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateCleanup() error {
	if c.Cleanup.GracePeriod < 0 {
		return errors.New("cleanup.grace_period_minutes must not be negative")
	}
	if c.Cleanup.RetryAfter <= 0 {
		return errors.New("cleanup.retry_after_hours must be positive")
	}
	if c.Cleanup.RetentionDays < 0 {
		return errors.New("cleanup.retention_days must not be negative")
	}
	if _, err := cron.ParseStandard(c.Cleanup.RetentionSchedule); err != nil {
		return fmt.Errorf("cleanup.retention_schedule: %w", err)
	}
	return nil
}

func (c *Config) validateRetry() error {
	if err := validatePolicy("retry.default", c.Retry.Default); err != nil {
		return err
	}
	names := make([]string, 0, len(c.Retry.Stages))
	for name := range c.Retry.Stages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := stage.Parse(name); !ok {
			return fmt.Errorf("retry.stages: unknown stage %q", name)
		}
		if err := validatePolicy("retry.stages."+name, c.Retry.Stages[name]); err != nil {
			return err
		}
	}
	return nil
}

func validatePolicy(key string, policy RetryPolicy) error {
	if policy.MaxRetries < 0 {
		return fmt.Errorf("%s.max_retries must not be negative", key)
	}
	if policy.BaseDelay < 0 {
		return fmt.Errorf("%s.base_delay_seconds must not be negative", key)
	}
	if policy.Multiplier < 0 {
		return fmt.Errorf("%s.multiplier must not be negative", key)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func validateURL(key, value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", key, value)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return fmt.Errorf("%s must include a host", key)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
