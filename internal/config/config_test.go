package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"genflow/internal/config"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GENFLOW_LLM_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("GENFLOW_API_TOKEN", "")
	t.Setenv("GENFLOW_NTFY_TOPIC", "")
}

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	clearProviderEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "genflow")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.HistoryDatabasePath() != filepath.Join(wantData, "history.db") {
		t.Fatalf("unexpected history db path: %q", cfg.HistoryDatabasePath())
	}
	if cfg.Engine.ConcurrencyLimit != 3 {
		t.Fatalf("expected default concurrency 3, got %d", cfg.Engine.ConcurrencyLimit)
	}
	if cfg.JobTimeout() != 10*time.Minute {
		t.Fatalf("expected 10m job timeout, got %s", cfg.JobTimeout())
	}
	if !cfg.Providers.Mock.Enabled {
		t.Fatal("expected mock provider enabled by default")
	}
	if cfg.Providers.LLM.Enabled {
		t.Fatal("expected llm provider disabled by default")
	}
	if cfg.Events.RedisChannel != "genflow:records" {
		t.Fatalf("unexpected redis channel %q", cfg.Events.RedisChannel)
	}
}

func TestLoadCustomPath(t *testing.T) {
	clearProviderEnv(t)
	dir := t.TempDir()
	custom := config.Default()
	custom.Paths.DataDir = filepath.Join(dir, "data")
	custom.Paths.LogDir = filepath.Join(dir, "logs")
	custom.Engine.ConcurrencyLimit = 2
	custom.Engine.HistoryLimit = 3
	custom.Engine.JobTimeoutSeconds = 0
	custom.Logging.Format = "JSON"

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(dir, "genflow.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config at %q, got %q exists=%v", path, resolved, exists)
	}
	if cfg.Engine.ConcurrencyLimit != 2 || cfg.Engine.HistoryLimit != 3 {
		t.Fatalf("unexpected engine section: %+v", cfg.Engine)
	}
	if cfg.JobTimeout() != 0 {
		t.Fatalf("expected disabled job timeout, got %s", cfg.JobTimeout())
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected normalized json format, got %q", cfg.Logging.Format)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	if _, err := os.Stat(cfg.Paths.DataDir); err != nil {
		t.Fatalf("expected data dir created: %v", err)
	}
}

func TestEnvVarFallbacks(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := "[providers.llm]\nenabled = true\n\n[paths]\ndata_dir = \"" + filepath.ToSlash(dir) + "\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "sk-openai" {
		t.Fatalf("expected OPENAI_API_KEY fallback, got %q", cfg.Providers.LLM.APIKey)
	}
	if cfg.Events.RedisAddr != "redis.internal:6380" {
		t.Fatalf("expected REDIS_ADDR override, got %q", cfg.Events.RedisAddr)
	}

	t.Setenv("GENFLOW_LLM_API_KEY", "sk-genflow")
	cfg, _, _, err = config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "sk-genflow" {
		t.Fatalf("expected GENFLOW_LLM_API_KEY to win, got %q", cfg.Providers.LLM.APIKey)
	}

	t.Setenv("GENFLOW_LLM_API_KEY", "   ")
	cfg, _, _, err = config.Load(path)
	if err != nil {
		t.Fatalf("Load with blank GENFLOW_LLM_API_KEY returned error: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "sk-openai" {
		t.Fatalf("blank GENFLOW_LLM_API_KEY should fall back to OPENAI_API_KEY, got %q", cfg.Providers.LLM.APIKey)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("sample config should parse: %v", err)
	}
	if cfg.Engine.ConcurrencyLimit != 3 {
		t.Fatalf("sample concurrency should be 3, got %d", cfg.Engine.ConcurrencyLimit)
	}
	if !strings.Contains(string(contents), "[providers.mock]") {
		t.Fatal("sample should document the mock provider")
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "negative concurrency",
			mutate:  func(c *config.Config) { c.Engine.ConcurrencyLimit = -1 },
			wantErr: "engine.concurrency_limit",
		},
		{
			name:    "zero history",
			mutate:  func(c *config.Config) { c.Engine.HistoryLimit = 0 },
			wantErr: "engine.history_limit",
		},
		{
			name: "llm without key",
			mutate: func(c *config.Config) {
				c.Providers.LLM.Enabled = true
				c.Providers.LLM.APIKey = ""
			},
			wantErr: "providers.llm.api_key",
		},
		{
			name: "no providers",
			mutate: func(c *config.Config) {
				c.Providers.Mock.Enabled = false
				c.Providers.LLM.Enabled = false
			},
			wantErr: "at least one provider",
		},
		{
			name:    "bad bind",
			mutate:  func(c *config.Config) { c.Paths.APIBind = "nope" },
			wantErr: "paths.api_bind",
		},
		{
			name: "redis without addr",
			mutate: func(c *config.Config) {
				c.Events.RedisEnabled = true
				c.Events.RedisAddr = ""
			},
			wantErr: "events.redis_addr",
		},
		{
			name:    "ntfy topic without scheme",
			mutate:  func(c *config.Config) { c.Notifications.NtfyTopic = "ntfy.sh/genflow" },
			wantErr: "notifications.ntfy_topic",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.DataDir = t.TempDir()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
