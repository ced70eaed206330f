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

const (
	defaultConfigPath  = "~/.config/genflow/config.toml"
	projectConfigName  = "genflow.toml"
	historyDatabase    = "history.db"
	daemonLockFileName = "genflow.lock"
)

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Engine contains scheduling limits for the generation engine.
type Engine struct {
	ConcurrencyLimit int `toml:"concurrency_limit"`
	HistoryLimit     int `toml:"history_limit"`
	// JobTimeoutSeconds bounds each provider call. Zero disables the deadline.
	JobTimeoutSeconds int `toml:"job_timeout_seconds"`
}

// History contains configuration for durable history persistence.
type History struct {
	Enabled      bool `toml:"enabled"`
	PersistLimit int  `toml:"persist_limit"`
}

// LLM contains connection settings for the OpenAI-compatible text provider.
type LLM struct {
	Enabled        bool   `toml:"enabled"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
}

// Mock contains settings for the simulated provider.
type Mock struct {
	Enabled      bool    `toml:"enabled"`
	StepMillis   int     `toml:"step_millis"`
	CostPerText  float64 `toml:"cost_text"`
	CostPerImage float64 `toml:"cost_image"`
	CostPerVideo float64 `toml:"cost_video"`
}

// Providers groups provider adapter settings.
type Providers struct {
	LLM  LLM  `toml:"llm"`
	Mock Mock `toml:"mock"`
}

// Events contains configuration for the Redis record publisher.
type Events struct {
	RedisEnabled  bool   `toml:"redis_enabled"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisChannel  string `toml:"redis_channel"`
}

// Notifications contains ntfy settings for terminal-record alerts.
type Notifications struct {
	// NtfyTopic is the full topic URL, e.g. https://ntfy.sh/my-genflow.
	// Empty disables notifications.
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	NotifyCompleted       bool   `toml:"notify_completed"`
	NotifyCancelled       bool   `toml:"notify_cancelled"`
}

// Tracing contains OpenTelemetry exporter settings.
type Tracing struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for genflow.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories plus the API bind address
//   - Engine: concurrency limit, in-memory history size, job deadline
//   - History: SQLite persistence of terminal records
//   - Providers: llm and mock adapter settings
//   - Events: optional Redis fan-out of new records
//   - Notifications: optional ntfy alerts for failed generations
//   - Tracing: OpenTelemetry stdout exporter
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Engine        Engine        `toml:"engine"`
	History       History       `toml:"history"`
	Providers     Providers     `toml:"providers"`
	Events        Events        `toml:"events"`
	Notifications Notifications `toml:"notifications"`
	Tracing       Tracing       `toml:"tracing"`
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

	projectPath, err := filepath.Abs(projectConfigName)
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
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// HistoryDatabasePath returns the SQLite file backing persisted history.
func (c *Config) HistoryDatabasePath() string {
	return filepath.Join(c.Paths.DataDir, historyDatabase)
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, daemonLockFileName)
}

// JobTimeout returns the per-job provider deadline; zero means none.
func (c *Config) JobTimeout() time.Duration {
	if c.Engine.JobTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Engine.JobTimeoutSeconds) * time.Second
}

// LLMTimeout returns the HTTP timeout for the llm provider.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.Providers.LLM.TimeoutSeconds) * time.Second
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
