package config

const (
	defaultConfigPath        = "~/.config/docflow/config.toml"
	defaultDataDir           = "~/.local/share/docflow"
	defaultArtifactDir       = "~/.local/share/docflow/artifacts"
	defaultLogDir            = "~/.local/share/docflow/logs"
	defaultDatabaseDriver    = "sqlite"
	defaultMaxOpenConns      = 8
	defaultRemoteTimeout     = 30
	defaultAPIBind           = "127.0.0.1:7490"
	defaultLogFormat         = "auto"
	defaultLogLevel          = "info"
	defaultRetentionSchedule = "@daily"

	webhookPath = "/webhooks/stage"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			ArtifactDir: defaultArtifactDir,
			LogDir:      defaultLogDir,
		},
		Database: Database{
			Driver:       defaultDatabaseDriver,
			MaxOpenConns: defaultMaxOpenConns,
		},
		Remote: Remote{
			RequestTimeout: defaultRemoteTimeout,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Scheduler: Scheduler{
			Interval:  10,
			BatchSize: 20,
		},
		Processor: Processor{
			Interval:  5,
			BatchSize: 5,
		},
		Poller: Poller{
			Interval:   10,
			BatchSize:  10,
			StaleAfter: 30,
		},
		Recovery: Recovery{
			Interval:    60,
			StuckAfter:  15,
			RetryWindow: 30,
			CancelAfter: 120,
			RetryDelay:  30,
		},
		Cleanup: Cleanup{
			Interval:          300,
			BatchSize:         10,
			GracePeriod:       60,
			RetryAfter:        24,
			RetentionDays:     30,
			RetentionSchedule: defaultRetentionSchedule,
		},
		Retry: Retry{
			Automatic: false,
			Default: RetryPolicy{
				MaxRetries: 3,
				BaseDelay:  60,
				Multiplier: 2,
			},
		},
		Notifications: Notifications{
			RequestTimeout:     10,
			JobFailures:        true,
			Recovery:           true,
			PipelineComplete:   true,
			DedupWindowSeconds: 600,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
