package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"genflow/internal/activity"
	"genflow/internal/api"
	"genflow/internal/config"
	"genflow/internal/engine"
	"genflow/internal/events"
	"genflow/internal/historystore"
	"genflow/internal/logging"
	"genflow/internal/notifications"
	"genflow/internal/provider"
)

const shutdownTimeout = 20 * time.Second

// Dependencies are the collaborators a daemon owns once constructed. Store,
// Redis, Notifier and Hub are optional; a nil Hub gets a default-sized buffer.
type Dependencies struct {
	Registry      *provider.Registry
	Store         *historystore.Store
	Redis         *events.RedisPublisher
	Notifier      *notifications.Notifier
	Hub           *activity.Hub
	EngineOptions []engine.Option
}

// Daemon owns the engine and its persistence sinks and enforces
// single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	engine *engine.Engine
	store  *historystore.Store
	redis  *events.RedisPublisher
	notify *notifications.Notifier
	hub    *activity.Hub
	api    *apiServer

	logPath  string
	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt atomic.Int64
	closeOnce sync.Once
	closeErr  error
}

// New seeds the engine from persisted history and wires its listeners.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps Dependencies) (*Daemon, error) {
	if cfg == nil || deps.Registry == nil {
		return nil, errors.New("daemon requires config and provider registry")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	hub := deps.Hub
	if hub == nil {
		hub = activity.NewHub(activity.DefaultCapacity)
	}

	opts := []engine.Option{
		engine.WithConfig(cfg),
		engine.WithLogger(logging.NewComponentLogger(logger, "engine")),
		engine.WithEventPublisher(hub),
	}
	if deps.Store != nil {
		seed, err := deps.Store.LoadRecent(ctx, cfg.Engine.HistoryLimit)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		opts = append(opts, engine.WithSeed(seed), engine.WithRecordListener(deps.Store))
		logger.Info("history restored",
			logging.Int("records", len(seed)),
			logging.String("path", deps.Store.Path()),
			logging.EventType("history_restored"),
		)
	}
	if deps.Redis != nil {
		opts = append(opts, engine.WithRecordListener(deps.Redis))
	}
	if deps.Notifier != nil {
		opts = append(opts, engine.WithRecordListener(deps.Notifier))
	}
	opts = append(opts, deps.EngineOptions...)

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		engine:   engine.New(deps.Registry, opts...),
		store:    deps.Store,
		redis:    deps.Redis,
		notify:   deps.Notifier,
		hub:      hub,
		logPath:  filepath.Join(cfg.Paths.LogDir, logging.LogFileName),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock and starts the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another genflow daemon instance is already running")
	}

	if err := d.api.start(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("start api server: %w", err)
	}

	d.startedAt.Store(time.Now().UnixNano())
	d.running.Store(true)
	d.logger.Info("genflow daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.APIAddr()),
		logging.Any("providers", d.engine.Status().Providers),
	)
	return nil
}

// Stop stops the API server and releases the daemon lock. The engine keeps
// running until Close.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("genflow daemon stopped")
}

// Close stops the daemon, cancels in-flight generations and releases the
// history store and Redis connection.
func (d *Daemon) Close() error {
	d.closeOnce.Do(func() {
		d.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if err := d.engine.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close engine: %w", err))
		}
		if d.redis != nil {
			if err := d.redis.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close redis publisher: %w", err))
			}
		}
		if d.store != nil {
			if err := d.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close history store: %w", err))
			}
		}
		d.closeErr = errors.Join(errs...)
	})
	return d.closeErr
}

// Engine exposes the underlying engine.
func (d *Daemon) Engine() *engine.Engine { return d.engine }

// Hub exposes the activity buffer.
func (d *Daemon) Hub() *activity.Hub { return d.hub }

// APIAddr returns the address the API server listens on, or "" when it is
// not running.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status() api.DaemonStatus {
	status := api.DaemonStatus{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		LockFilePath:   d.lockPath,
		RedisPublisher: d.redis != nil,
		Notifications:  d.notify != nil,
		LogPath:        d.logPath,
		Engine:         api.FromEngineStatus(d.engine.Status()),
	}
	if nanos := d.startedAt.Load(); nanos > 0 && status.Running {
		status.StartedAt = time.Unix(0, nanos).UTC().Format(time.RFC3339)
	}
	if d.store != nil {
		status.HistoryDBPath = d.store.Path()
	}
	return status
}

func bindConfigured(cfg *config.Config) bool {
	return cfg != nil && strings.TrimSpace(cfg.Paths.APIBind) != ""
}
