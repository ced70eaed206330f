package engine

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"genflow/internal/config"
	"genflow/internal/generation"
)

const (
	// DefaultConcurrencyLimit is the number of jobs allowed to execute at once.
	DefaultConcurrencyLimit = 3
	// DefaultHistoryLimit is the number of terminal records kept in memory.
	DefaultHistoryLimit = 100
	// DefaultJobTimeout bounds each provider call.
	DefaultJobTimeout = 10 * time.Minute
)

const tracerName = "genflow/internal/engine"

// Option configures an Engine.
type Option func(*options)

type options struct {
	limit      int
	historyCap int
	timeout    time.Duration
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
	newID      func() string
	seed       []generation.Record
	listeners  []RecordListener
	publishers []EventPublisher
}

func defaultOptions() options {
	return options{
		limit:      DefaultConcurrencyLimit,
		historyCap: DefaultHistoryLimit,
		timeout:    DefaultJobTimeout,
		now:        time.Now,
		newID:      uuid.NewString,
		tracer:     otel.Tracer(tracerName),
	}
}

// WithConfig applies the engine section of cfg.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		if cfg == nil {
			return
		}
		if cfg.Engine.ConcurrencyLimit > 0 {
			o.limit = cfg.Engine.ConcurrencyLimit
		}
		if cfg.Engine.HistoryLimit > 0 {
			o.historyCap = cfg.Engine.HistoryLimit
		}
		o.timeout = cfg.JobTimeout()
	}
}

// WithConcurrencyLimit sets how many jobs may execute at once.
func WithConcurrencyLimit(limit int) Option {
	return func(o *options) {
		if limit > 0 {
			o.limit = limit
		}
	}
}

// WithHistoryLimit sets the in-memory history capacity.
func WithHistoryLimit(limit int) Option {
	return func(o *options) {
		if limit > 0 {
			o.historyCap = limit
		}
	}
}

// WithJobTimeout bounds each provider call. Zero disables the deadline.
func WithJobTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = max(timeout, 0)
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTracer overrides the tracer used for job spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides job id generation (useful for tests).
func WithIDGenerator(newID func() string) Option {
	return func(o *options) {
		if newID != nil {
			o.newID = newID
		}
	}
}

// WithSeed preloads history with previously persisted records, oldest first.
// Duplicate ids are dropped.
func WithSeed(records []generation.Record) Option {
	return func(o *options) {
		o.seed = append(o.seed, records...)
	}
}

// WithRecordListener registers a listener for new history records.
func WithRecordListener(listener RecordListener) Option {
	return func(o *options) {
		if listener != nil {
			o.listeners = append(o.listeners, listener)
		}
	}
}

// WithEventPublisher registers a receiver for lifecycle events.
func WithEventPublisher(pub EventPublisher) Option {
	return func(o *options) {
		if pub != nil {
			o.publishers = append(o.publishers, pub)
		}
	}
}
