// Package telemetry installs the OpenTelemetry tracer provider used for
// per-job spans.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"genflow/internal/config"
	"genflow/internal/logging"
)

// TraceFileName receives exported spans under paths.log_dir.
const TraceFileName = "genflow-traces.jsonl"

// Shutdown flushes and stops the tracer provider.
type Shutdown func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Setup installs a global tracer provider exporting spans as JSON lines to w.
// When tracing is disabled the global no-op provider stays in place.
func Setup(ctx context.Context, cfg config.Tracing, w io.Writer, version string, logger *slog.Logger) (Shutdown, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "genflow"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(strings.TrimSpace(version)),
			attribute.String("service.component", "engine"),
		),
	)
	if err != nil {
		logger.Warn("otel resource init failed; continuing with partial resource",
			logging.Error(err),
			logging.EventType("tracing_resource_degraded"),
		)
	}

	opts := []stdouttrace.Option{}
	if w != nil {
		opts = append(opts, stdouttrace.WithWriter(w))
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return noopShutdown, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	logger.Info("otel tracing initialized",
		logging.String("service", serviceName),
		logging.EventType("tracing_initialized"),
	)
	return tp.Shutdown, nil
}
