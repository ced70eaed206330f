package testsupport

import (
	"path/filepath"
	"testing"

	"genflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The mock provider runs without artificial latency and the API binds to an
// ephemeral port.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Providers.Mock.Enabled = true
	cfgVal.Providers.Mock.StepMillis = 0
	cfgVal.Providers.LLM.Enabled = false
	cfgVal.Events.RedisEnabled = false
	cfgVal.Tracing.Enabled = false

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

// WithAPIToken requires bearer authentication on the test API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithConcurrencyLimit overrides engine.concurrency_limit.
func WithConcurrencyLimit(limit int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.ConcurrencyLimit = limit
	}
}

// WithMockStep sets the mock provider step latency in milliseconds.
func WithMockStep(millis int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Providers.Mock.StepMillis = millis
	}
}

// WithoutHistoryPersistence disables the SQLite history store.
func WithoutHistoryPersistence() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.History.Enabled = false
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
