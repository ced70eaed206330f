package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"genflow/internal/generation"
	"genflow/internal/logging"
	"genflow/internal/provider"
	"genflow/internal/services"
)

// run drives one admitted job from validating to a terminal state. It is the
// only goroutine that calls the provider for this job.
func (e *Engine) run(ctx context.Context, j *job) {
	defer j.release()

	req := j.request
	ctx = services.WithJobID(ctx, req.ID)
	ctx = services.WithKind(ctx, string(req.Kind))
	ctx = services.WithProvider(ctx, req.Provider)
	ctx, span := e.tracer.Start(ctx, "generation.run", trace.WithAttributes(
		attribute.String("generation.id", req.ID),
		attribute.String("generation.kind", string(req.Kind)),
		attribute.String("generation.provider", req.Provider),
	))
	defer span.End()
	logger := logging.WithContext(ctx, e.logger)

	status := e.execute(ctx, j)

	span.SetAttributes(attribute.String("generation.status", string(status)))
	switch status {
	case generation.StatusCompleted:
		span.SetStatus(codes.Ok, "")
	case generation.StatusFailed:
		span.SetStatus(codes.Error, "generation failed")
	}
	logger.Debug("generation goroutine finished", logging.Status(string(status)))
}

// execute walks the validating, preparing and executing steps. It returns the
// terminal status the job ended in.
func (e *Engine) execute(ctx context.Context, j *job) generation.Status {
	req := j.request
	logger := logging.WithContext(ctx, e.logger)

	if err := generation.ValidateRequest(req); err != nil {
		return e.fail(j, err)
	}
	p, err := e.providers.Resolve(req.Provider, req.Kind)
	if err != nil {
		return e.fail(j, err)
	}
	e.mu.Lock()
	j.provider = p
	e.mu.Unlock()

	if !e.advance(j, generation.OK()) {
		return e.statusOf(j)
	}

	call := provider.Call{
		RequestID:    req.ID,
		Kind:         req.Kind,
		Model:        req.Model,
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		Parameters:   maps.Clone(req.Parameters),
	}
	if preparer, ok := p.(provider.Preparer); ok {
		params, err := preparer.Prepare(call)
		if err != nil {
			return e.fail(j, wrapProviderError(req.Provider, "prepare", err))
		}
		call.Parameters = params
	}

	// The registry must show executing before the provider is invoked.
	if !e.advance(j, generation.OK()) {
		return e.statusOf(j)
	}

	e.armDeadline(j)

	logger.Info("provider call started",
		logging.Provider(req.Provider),
		logging.String("model", req.Model),
		logging.EventType("provider_call_started"),
	)
	out, err := p.Generate(ctx, call, &jobStream{engine: e, job: j})
	if err == nil {
		e.finish(j, generation.Done(out.Result, out.Cost))
	} else {
		e.finish(j, generation.Fail(wrapProviderError(req.Provider, "generate", err)))
	}
	status := e.statusOf(j)
	logger.Info("provider call finished",
		logging.Status(string(status)),
		logging.EventType("provider_call_finished"),
	)
	return status
}

// armDeadline fails j once the job timeout elapses. The transition is taken
// under the engine lock, so the slot is freed even when the provider ignores
// ctx; whatever Generate returns afterwards is discarded by finish.
func (e *Engine) armDeadline(j *job) {
	if e.timeout <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if j.machine.Status().IsTerminal() {
		return
	}
	j.deadline = time.AfterFunc(e.timeout, func() { e.expire(j) })
}

func (e *Engine) expire(j *job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := services.Wrap(services.ErrTimeout, "engine", "generate",
		fmt.Sprintf("provider did not finish within %s", e.timeout), nil)
	if _, applyErr := e.applyLocked(j, generation.Fail(err)); applyErr != nil {
		return
	}
	e.logger.Warn("generation deadline exceeded",
		logging.JobID(j.request.ID),
		logging.Duration("timeout", e.timeout),
		logging.ErrorKind(string(services.ErrorKindTimeout)),
		logging.EventType("generation_timeout"),
		logging.Alert("deadline"),
		logging.Hint("raise engine.job_timeout_seconds or check the provider"),
	)
}

func (e *Engine) advance(j *job, ev generation.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	tr, err := e.applyLocked(j, ev)
	return err == nil && !tr.Terminal
}

func (e *Engine) fail(j *job, err error) generation.Status {
	e.finish(j, generation.Fail(err))
	return e.statusOf(j)
}

// finish applies a terminal event. A job that already reached a terminal state
// (cancelled locally while the provider ran) keeps its first outcome.
func (e *Engine) finish(j *job, ev generation.Event) {
	e.mu.Lock()
	_, err := e.applyLocked(j, ev)
	e.mu.Unlock()
	if errors.Is(err, generation.ErrTerminal) {
		e.logger.Debug("late provider result discarded",
			logging.JobID(j.request.ID),
			logging.String("event", string(ev.Type)),
		)
	}
}

func (e *Engine) statusOf(j *job) generation.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return j.machine.Status()
}

// wrapProviderError tags provider failures unless they already carry a marker
// the record classification understands.
func wrapProviderError(name, op string, err error) error {
	switch {
	case errors.Is(err, services.ErrProvider),
		errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrTimeout),
		errors.Is(err, services.ErrCancelled):
		return err
	}
	return services.Wrap(services.ErrProvider, name, op, "", err)
}

// jobStream feeds provider output into the job's state machine. Calls after
// the job is terminal are ignored.
type jobStream struct {
	engine *Engine
	job    *job
}

func (s *jobStream) Token(token string) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	s.job.machine.SetToken(token)
}

func (s *jobStream) Chunk(text string) {
	if text == "" {
		return
	}
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	_, _ = s.engine.applyLocked(s.job, generation.Chunk(text))
}

func (s *jobStream) Progress(percent float64) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	_, _ = s.engine.applyLocked(s.job, generation.Progress(percent))
}
