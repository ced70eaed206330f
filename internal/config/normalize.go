package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEngine()
	c.normalizeLLM()
	c.normalizeMock()
	c.normalizeEvents()
	c.normalizeNotifications()
	c.normalizeTracing()
	c.normalizeLogging()
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
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("GENFLOW_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeEngine() {
	if c.Engine.ConcurrencyLimit == 0 {
		c.Engine.ConcurrencyLimit = defaultConcurrencyLimit
	}
	if c.Engine.HistoryLimit == 0 {
		c.Engine.HistoryLimit = defaultHistoryLimit
	}
	if c.Engine.JobTimeoutSeconds < 0 {
		c.Engine.JobTimeoutSeconds = 0
	}
	if c.History.PersistLimit <= 0 {
		c.History.PersistLimit = defaultPersistLimit
	}
}

func (c *Config) normalizeLLM() {
	llm := &c.Providers.LLM
	llm.BaseURL = strings.TrimSpace(llm.BaseURL)
	if llm.BaseURL == "" {
		llm.BaseURL = defaultLLMBaseURL
	}
	llm.Model = strings.TrimSpace(llm.Model)
	if llm.Model == "" {
		llm.Model = defaultLLMModel
	}
	llm.Referer = strings.TrimSpace(llm.Referer)
	if llm.Referer == "" {
		llm.Referer = defaultLLMReferer
	}
	llm.Title = strings.TrimSpace(llm.Title)
	if llm.Title == "" {
		llm.Title = defaultLLMTitle
	}
	if llm.TimeoutSeconds <= 0 {
		llm.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if llm.MaxRetries < 0 {
		llm.MaxRetries = 0
	}
	llm.APIKey = strings.TrimSpace(llm.APIKey)
	if llm.APIKey == "" {
		for _, name := range []string{"GENFLOW_LLM_API_KEY", "OPENAI_API_KEY"} {
			if value, ok := os.LookupEnv(name); ok && strings.TrimSpace(value) != "" {
				llm.APIKey = strings.TrimSpace(value)
				break
			}
		}
	}
}

func (c *Config) normalizeMock() {
	if c.Providers.Mock.StepMillis < 0 {
		c.Providers.Mock.StepMillis = 0
	}
}

func (c *Config) normalizeEvents() {
	c.Events.RedisAddr = strings.TrimSpace(c.Events.RedisAddr)
	if value, ok := os.LookupEnv("REDIS_ADDR"); ok && strings.TrimSpace(value) != "" {
		c.Events.RedisAddr = strings.TrimSpace(value)
	}
	if c.Events.RedisAddr == "" {
		c.Events.RedisAddr = defaultRedisAddr
	}
	c.Events.RedisChannel = strings.TrimSpace(c.Events.RedisChannel)
	if c.Events.RedisChannel == "" {
		c.Events.RedisChannel = defaultRedisChannel
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if value, ok := os.LookupEnv("GENFLOW_NTFY_TOPIC"); ok && strings.TrimSpace(value) != "" {
		c.Notifications.NtfyTopic = strings.TrimSpace(value)
	}
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeout
	}
}

func (c *Config) normalizeTracing() {
	c.Tracing.ServiceName = strings.TrimSpace(c.Tracing.ServiceName)
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = defaultServiceName
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
