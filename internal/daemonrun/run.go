// Package daemonrun assembles the daemon process: logger, tracing, history
// store, provider registry and signal handling.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"genflow/internal/config"
	"genflow/internal/daemon"
	"genflow/internal/events"
	"genflow/internal/generation"
	"genflow/internal/historystore"
	"genflow/internal/logging"
	"genflow/internal/notifications"
	"genflow/internal/preflight"
	"genflow/internal/provider"
	"genflow/internal/provider/llm"
	"genflow/internal/provider/mock"
	"genflow/internal/telemetry"
)

// PIDFileName is written under paths.data_dir while the daemon runs.
const PIDFileName = "genflow.pid"

const heartbeatInterval = time.Minute

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	Version     string
}

// Run starts the genflow daemon and blocks until ctx ends or a termination
// signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logPath := filepath.Join(cfg.Paths.LogDir, logging.LogFileName)
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	tracePath := filepath.Join(cfg.Paths.LogDir, telemetry.TraceFileName)
	logging.Retention{
		Days: cfg.Logging.RetentionDays,
		Targets: []logging.RetentionTarget{
			{Dir: cfg.Paths.LogDir, Pattern: "*.log", Keep: []string{logPath}},
			{Dir: cfg.Paths.LogDir, Pattern: "*.jsonl", Keep: []string{tracePath}},
		},
	}.Prune(logger)

	shutdownTracing, err := setupTracing(signalCtx, cfg, tracePath, opts.Version, logger)
	if err != nil {
		logger.Warn("tracing disabled",
			logging.Error(err),
			logging.EventType("tracing_setup_failed"),
			logging.Hint("check tracing settings and log directory permissions"),
		)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracing shutdown failed", logging.Error(err))
		}
	}()

	deps := daemon.Dependencies{Registry: BuildRegistry(cfg, logger)}
	if cfg.History.Enabled {
		store, err := historystore.Open(cfg)
		if err != nil {
			logger.Error("open history store", logging.Error(err))
			return err
		}
		deps.Store = store
	}
	if cfg.Events.RedisEnabled {
		publisher, err := events.NewRedisPublisher(signalCtx, cfg.Events, logging.NewComponentLogger(logger, "events"))
		if err != nil {
			logger.Warn("redis publisher unavailable",
				logging.Error(err),
				logging.EventType("redis_unavailable"),
				logging.Hint("check events.redis_addr or disable events.redis_enabled"),
				logging.Impact("records will not be fanned out to Redis"),
			)
		} else {
			deps.Redis = publisher
		}
	}

	deps.Notifier = notifications.New(cfg.Notifications, logger)
	if deps.Notifier != nil {
		logger.Info("ntfy notifications enabled", logging.String("topic", deps.Notifier.Endpoint()))
	}

	runPreflight(signalCtx, cfg, logger)

	d, err := daemon.New(signalCtx, cfg, logger, deps)
	if err != nil {
		if deps.Store != nil {
			_ = deps.Store.Close()
		}
		if deps.Redis != nil {
			_ = deps.Redis.Close()
		}
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		_ = d.Close()
		return fmt.Errorf("start daemon: %w", err)
	}
	pidPath := filepath.Join(cfg.Paths.DataDir, PIDFileName)
	if err := writePIDFile(pidPath); err != nil {
		_ = d.Close()
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	g, gctx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		heartbeat(gctx, d, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("genflow daemon shutting down")
		return d.Close()
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// BuildRegistry registers the providers enabled in cfg.
func BuildRegistry(cfg *config.Config, logger *slog.Logger) *provider.Registry {
	registry := provider.NewRegistry()
	if cfg.Providers.Mock.Enabled {
		mockCfg := cfg.Providers.Mock
		register(registry, logger, mock.New(mock.Config{
			Step: time.Duration(mockCfg.StepMillis) * time.Millisecond,
			Costs: map[generation.Kind]float64{
				generation.KindText:  mockCfg.CostPerText,
				generation.KindImage: mockCfg.CostPerImage,
				generation.KindVideo: mockCfg.CostPerVideo,
			},
		}))
	}
	if cfg.Providers.LLM.Enabled {
		llmCfg := cfg.Providers.LLM
		client := llm.NewClient(llm.Config{
			APIKey:         llmCfg.APIKey,
			BaseURL:        llmCfg.BaseURL,
			Model:          llmCfg.Model,
			Referer:        llmCfg.Referer,
			Title:          llmCfg.Title,
			TimeoutSeconds: llmCfg.TimeoutSeconds,
			MaxRetries:     llmCfg.MaxRetries,
		})
		register(registry, logger, llm.NewProvider(client, llm.Name))
	}
	if len(registry.Names()) == 0 && logger != nil {
		logger.Warn("no providers enabled",
			logging.EventType("no_providers"),
			logging.Impact("every submission will fail validation"),
			logging.Hint("enable providers.mock or providers.llm"),
		)
	}
	return registry
}

func register(registry *provider.Registry, logger *slog.Logger, p provider.Provider) {
	if err := registry.Register(p); err != nil && logger != nil {
		logger.Warn("provider registration failed", logging.Provider(p.Name()), logging.Error(err))
	}
}

// runPreflight logs failing readiness checks. Failures never block startup.
func runPreflight(ctx context.Context, cfg *config.Config, logger *slog.Logger) {
	results := preflight.RunAll(ctx, cfg)
	for _, r := range preflight.Failed(results) {
		logger.Warn("preflight check failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.EventType("preflight_failed"),
			logging.Alert("preflight"),
			logging.Impact("generations depending on this check may fail"),
		)
	}
	logger.Debug("preflight complete",
		logging.Int("checks", len(results)),
		logging.Int("failed", len(preflight.Failed(results))),
	)
}

func setupTracing(ctx context.Context, cfg *config.Config, path, version string, logger *slog.Logger) (telemetry.Shutdown, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Tracing.Enabled {
		return noop, nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return noop, fmt.Errorf("open trace file: %w", err)
	}
	shutdown, err := telemetry.Setup(ctx, cfg.Tracing, file, version, logger)
	if err != nil {
		_ = file.Close()
		return noop, err
	}
	return func(ctx context.Context) error {
		return errors.Join(shutdown(ctx), file.Close())
	}, nil
}

func heartbeat(ctx context.Context, d *daemon.Daemon, logger *slog.Logger) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := d.Engine().Status()
			logger.Debug("engine heartbeat",
				logging.Int("active", st.Active),
				logging.Int("queued", st.Queued),
				logging.Int("history", st.History),
				logging.EventType("engine_heartbeat"),
			)
		}
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// ReadPIDFile returns the pid recorded by a running daemon, or 0 when the
// file is missing.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read pid file %q: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %q is malformed", path)
	}
	return pid, nil
}
