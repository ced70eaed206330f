package main

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"genflow/internal/api"
	"genflow/internal/config"
)

type globalFlags struct {
	config string
	api    string
	token  string
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) configPath() string {
	if c.flags == nil {
		return ""
	}
	return strings.TrimSpace(c.flags.config)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) apiBind() string {
	if c.flags != nil && strings.TrimSpace(c.flags.api) != "" {
		return strings.TrimSpace(c.flags.api)
	}
	if cfg := c.configValue(); cfg != nil && strings.TrimSpace(cfg.Paths.APIBind) != "" {
		return cfg.Paths.APIBind
	}
	return config.Default().Paths.APIBind
}

func (c *commandContext) apiToken() string {
	if c.flags != nil && strings.TrimSpace(c.flags.token) != "" {
		return strings.TrimSpace(c.flags.token)
	}
	if cfg := c.configValue(); cfg != nil {
		return cfg.Paths.APIToken
	}
	return ""
}

func (c *commandContext) client() *api.Client {
	return api.NewClient(c.apiBind(), c.apiToken())
}

// withClient runs fn and rewrites transport failures into hints about the
// daemon not running.
func (c *commandContext) withClient(fn func(*api.Client) error) error {
	err := fn(c.client())
	if err == nil {
		return nil
	}
	return wrapDialError(err, c.apiBind())
}

func wrapDialError(err error, bind string) error {
	var statusErr *api.StatusError
	if errors.As(err, &statusErr) {
		return err
	}
	var opErr *net.OpError
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to daemon: %s refused the connection; start the daemon with `genflow start`", bind)
	case errors.As(err, &opErr):
		return fmt.Errorf("connect to daemon at %s: %w", bind, opErr)
	default:
		return err
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
