package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	return c.validateNotifications()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind must be host:port: %w", err)
	}
	return nil
}

func (c *Config) validateEngine() error {
	if err := ensurePositiveMap(map[string]int{
		"engine.concurrency_limit": c.Engine.ConcurrencyLimit,
		"engine.history_limit":     c.Engine.HistoryLimit,
		"history.persist_limit":    c.History.PersistLimit,
	}); err != nil {
		return err
	}
	if c.Engine.JobTimeoutSeconds < 0 {
		return errors.New("engine.job_timeout_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateProviders() error {
	if !c.Providers.LLM.Enabled && !c.Providers.Mock.Enabled {
		return errors.New("at least one provider must be enabled (providers.llm or providers.mock)")
	}
	if c.Providers.LLM.Enabled && c.Providers.LLM.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("providers.llm.api_key is required when providers.llm.enabled is true. Set GENFLOW_LLM_API_KEY or edit %s (create with 'genflow config init')", defaultPath)
	}
	mock := c.Providers.Mock
	if mock.CostPerText < 0 || mock.CostPerImage < 0 || mock.CostPerVideo < 0 {
		return errors.New("providers.mock cost values must be >= 0")
	}
	return nil
}

func (c *Config) validateEvents() error {
	if !c.Events.RedisEnabled {
		return nil
	}
	if c.Events.RedisAddr == "" {
		return errors.New("events.redis_addr must be set when events.redis_enabled is true")
	}
	if c.Events.RedisDB < 0 {
		return errors.New("events.redis_db must be >= 0")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	parsed, err := url.Parse(topic)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL, got %q", topic)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
