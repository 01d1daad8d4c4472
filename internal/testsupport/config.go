package testsupport

import (
	"path/filepath"
	"testing"

	"docflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.ArtifactDir = filepath.Join(base, "artifacts")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Database.Driver = "sqlite"
	cfgVal.Database.DSN = filepath.Join(base, "data", "docflow.db")
	cfgVal.Remote.BaseURL = "http://127.0.0.1:1"
	cfgVal.Remote.Token = "test-token"
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Logging.Format = "json"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithRemote points the config at a (usually httptest) remote worker.
func WithRemote(baseURL, token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Remote.BaseURL = baseURL
		b.cfg.Remote.Token = token
	}
}

// WithAutomaticRetries enables automatic retries with the given default max.
func WithAutomaticRetries(maxRetries int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Retry.Automatic = true
		b.cfg.Retry.Default.MaxRetries = maxRetries
	}
}

// WithSchedulerBatchSize caps how many documents one scheduler tick reads.
func WithSchedulerBatchSize(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scheduler.BatchSize = n
	}
}

// WithWebhook configures a public URL and webhook secret.
func WithWebhook(publicURL, secret string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.PublicURL = publicURL
		b.cfg.API.WebhookSecret = secret
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
