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
	if err := c.normalizeDatabase(); err != nil {
		return err
	}
	c.normalizeRemote()
	c.normalizeAPI()
	c.normalizeRetry()
	c.normalizeLogging()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.Cleanup.RetentionSchedule = strings.TrimSpace(c.Cleanup.RetentionSchedule)
	if c.Cleanup.RetentionSchedule == "" {
		c.Cleanup.RetentionSchedule = defaultRetentionSchedule
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ArtifactDir) == "" {
		c.Paths.ArtifactDir = filepath.Join(c.Paths.DataDir, "artifacts")
	}
	if c.Paths.ArtifactDir, err = expandPath(c.Paths.ArtifactDir); err != nil {
		return fmt.Errorf("paths.artifact_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDatabase() error {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case "", "sqlite", "sqlite3":
		c.Database.Driver = "sqlite"
	case "postgresql", "pgx":
		c.Database.Driver = "postgres"
	}
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
	if c.Database.DSN == "" {
		if value, ok := os.LookupEnv("DOCFLOW_DATABASE_DSN"); ok {
			c.Database.DSN = strings.TrimSpace(value)
		}
	}
	if c.Database.Driver == "sqlite" {
		if c.Database.DSN == "" {
			c.Database.DSN = filepath.Join(c.Paths.DataDir, "docflow.db")
		}
		var err error
		if c.Database.DSN, err = expandPath(c.Database.DSN); err != nil {
			return fmt.Errorf("database.dsn: %w", err)
		}
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = defaultMaxOpenConns
	}
	return nil
}

func (c *Config) normalizeRemote() {
	c.Remote.BaseURL = strings.TrimRight(strings.TrimSpace(c.Remote.BaseURL), "/")
	c.Remote.Token = strings.TrimSpace(c.Remote.Token)
	if c.Remote.Token == "" {
		if value, ok := os.LookupEnv("DOCFLOW_REMOTE_TOKEN"); ok {
			c.Remote.Token = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.PublicURL = strings.TrimSpace(c.API.PublicURL)
	c.API.WebhookSecret = strings.TrimSpace(c.API.WebhookSecret)
	if c.API.WebhookSecret == "" {
		if value, ok := os.LookupEnv("DOCFLOW_WEBHOOK_SECRET"); ok {
			c.API.WebhookSecret = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeRetry() {
	if len(c.Retry.Stages) == 0 {
		return
	}
	normalized := make(map[string]RetryPolicy, len(c.Retry.Stages))
	for name, policy := range c.Retry.Stages {
		normalized[strings.ToUpper(strings.TrimSpace(name))] = policy
	}
	c.Retry.Stages = normalized
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
