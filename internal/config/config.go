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

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	ArtifactDir string `toml:"artifact_dir"`
	LogDir      string `toml:"log_dir"`
}

// Database selects the job store backend.
type Database struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `toml:"driver"`
	// DSN is the Postgres connection string or the SQLite file path.
	// An empty SQLite DSN resolves to <data_dir>/docflow.db.
	DSN          string `toml:"dsn"`
	MaxOpenConns int    `toml:"max_open_conns"`
}

// Remote contains connection settings for the remote stage worker.
type Remote struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	RequestTimeout int    `toml:"request_timeout"`
}

// API contains the orchestrator HTTP surface (operator API, webhook, metrics).
type API struct {
	Bind          string `toml:"bind"`
	PublicURL     string `toml:"public_url"`
	WebhookSecret string `toml:"webhook_secret"`
}

// Scheduler controls the stage scheduling worker.
type Scheduler struct {
	Interval  int `toml:"interval"`
	BatchSize int `toml:"batch_size"`
}

// Processor controls the pending job dispatch worker.
type Processor struct {
	Interval  int `toml:"interval"`
	BatchSize int `toml:"batch_size"`
}

// Poller controls the remote status reconciliation worker.
type Poller struct {
	Interval   int `toml:"interval"`
	BatchSize  int `toml:"batch_size"`
	StaleAfter int `toml:"stale_after_minutes"`
}

// Recovery controls stuck job detection and its escalation tiers.
type Recovery struct {
	Interval    int `toml:"interval"`
	StuckAfter  int `toml:"stuck_after_minutes"`
	RetryWindow int `toml:"retry_window_minutes"`
	CancelAfter int `toml:"cancel_after_minutes"`
	RetryDelay  int `toml:"retry_delay_seconds"`
}

// Cleanup controls remote resource release and local job retention.
type Cleanup struct {
	Interval          int    `toml:"interval"`
	BatchSize         int    `toml:"batch_size"`
	GracePeriod       int    `toml:"grace_period_minutes"`
	RetryAfter        int    `toml:"retry_after_hours"`
	RetentionDays     int    `toml:"retention_days"`
	RetentionSchedule string `toml:"retention_schedule"`
}

// RetryPolicy describes how a failed stage may be retried.
type RetryPolicy struct {
	MaxRetries int     `toml:"max_retries"`
	BaseDelay  int     `toml:"base_delay_seconds"`
	Multiplier float64 `toml:"multiplier"`
}

// Retry holds the default retry policy plus per-stage overrides keyed by
// stage name (CONVERSION, OPTIMIZER, ...).
type Retry struct {
	// Automatic lets FailJob reschedule using the stage policy. When false,
	// jobs are created with max_retries=0 and retries are operator driven.
	Automatic bool                   `toml:"automatic"`
	Default   RetryPolicy            `toml:"default"`
	Stages    map[string]RetryPolicy `toml:"stages"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic          string `toml:"ntfy_topic"`
	RequestTimeout     int    `toml:"request_timeout"`
	JobFailures        bool   `toml:"job_failures"`
	Recovery           bool   `toml:"recovery"`
	PipelineComplete   bool   `toml:"pipeline_complete"`
	DedupWindowSeconds int    `toml:"dedup_window_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for docflow.
//
// Configuration sections by subsystem:
//   - Paths: data, artifact and log directories
//   - Database: job store backend
//   - Remote: remote stage worker endpoint and credentials
//   - API: operator API, webhook receiver and metrics listener
//   - Scheduler, Processor, Poller, Recovery, Cleanup: worker cadence and limits
//   - Retry: per-stage retry policy
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Database      Database      `toml:"database"`
	Remote        Remote        `toml:"remote"`
	API           API           `toml:"api"`
	Scheduler     Scheduler     `toml:"scheduler"`
	Processor     Processor     `toml:"processor"`
	Poller        Poller        `toml:"poller"`
	Recovery      Recovery      `toml:"recovery"`
	Cleanup       Cleanup       `toml:"cleanup"`
	Retry         Retry         `toml:"retry"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
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

	projectPath, err := filepath.Abs("docflow.toml")
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

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.ArtifactDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "docflowd.lock")
}

// LogPath returns the daemon log file inside the log directory.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "docflow.log")
}

// WebhookURL returns the callback URL handed to the remote worker, or "" when
// no public URL is configured.
func (c *Config) WebhookURL() string {
	base := strings.TrimRight(strings.TrimSpace(c.API.PublicURL), "/")
	if base == "" {
		return ""
	}
	return base + webhookPath
}

// RetryPolicyFor returns the effective retry policy for a stage name.
func (c *Config) RetryPolicyFor(stage string) RetryPolicy {
	policy := c.Retry.Default
	if override, ok := c.Retry.Stages[strings.ToUpper(strings.TrimSpace(stage))]; ok {
		if override.MaxRetries > 0 {
			policy.MaxRetries = override.MaxRetries
		}
		if override.BaseDelay > 0 {
			policy.BaseDelay = override.BaseDelay
		}
		if override.Multiplier > 0 {
			policy.Multiplier = override.Multiplier
		}
	}
	return policy
}

// JobMaxRetries is the max_retries value stamped on newly created jobs for a
// stage. Without automatic retries every failure is terminal.
func (c *Config) JobMaxRetries(stage string) int {
	if !c.Retry.Automatic {
		return 0
	}
	return c.RetryPolicyFor(stage).MaxRetries
}

// Seconds converts an integer seconds setting into a duration.
func Seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

// Minutes converts an integer minutes setting into a duration.
func Minutes(value int) time.Duration {
	return time.Duration(value) * time.Minute
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

// SampleConfig returns the embedded sample configuration text.
func SampleConfig() string {
	return sampleConfig
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
