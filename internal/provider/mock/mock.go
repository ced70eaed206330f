// Package mock provides a simulated provider for every content kind. It is
// used for local development, demos, and engine tests that need a provider
// with realistic streaming and cancellation behaviour.
package mock

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"genflow/internal/generation"
	"genflow/internal/provider"
	"genflow/internal/services"
)

// Name is the registry name of the mock provider.
const Name = "mock"

// FailParameter makes a request fail with a provider error when set.
const FailParameter = "mock_fail"

// StepParameter overrides the per-step latency in milliseconds for one request.
const StepParameter = "mock_step_ms"

const progressSteps = 4

// Config controls simulated latency and cost.
type Config struct {
	Step  time.Duration
	Costs map[generation.Kind]float64
}

// Provider simulates a remote generation service.
type Provider struct {
	cfg Config

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New constructs a mock provider.
func New(cfg Config) *Provider {
	if cfg.Step < 0 {
		cfg.Step = 0
	}
	return &Provider{cfg: cfg, running: make(map[string]context.CancelFunc)}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Supports(kind generation.Kind) bool {
	switch kind {
	case generation.KindText, generation.KindImage, generation.KindVideo:
		return true
	default:
		return false
	}
}

// Prepare fills kind-specific defaults such as aspect ratio and clip length.
func (p *Provider) Prepare(call provider.Call) (map[string]any, error) {
	params := make(map[string]any, len(call.Parameters)+2)
	for key, value := range call.Parameters {
		params[key] = value
	}
	switch call.Kind {
	case generation.KindImage:
		setDefault(params, "aspect_ratio", "1:1")
	case generation.KindVideo:
		setDefault(params, "aspect_ratio", "16:9")
		setDefault(params, "duration_seconds", 5)
	}
	if raw, ok := params[StepParameter]; ok {
		if _, err := parseMillis(raw); err != nil {
			return nil, services.Wrap(services.ErrValidation, "mock", "prepare", StepParameter+" must be a non-negative number", err)
		}
	}
	return params, nil
}

// Generate streams words for text jobs and progress for media jobs.
func (p *Provider) Generate(ctx context.Context, call provider.Call, stream provider.Stream) (provider.Output, error) {
	token := "mock-" + call.RequestID
	ctx, cancel := context.WithCancel(ctx)
	p.track(token, cancel)
	defer p.untrack(token)
	defer cancel()
	stream.Token(token)

	step := p.cfg.Step
	if raw, ok := call.Parameters[StepParameter]; ok {
		if ms, err := parseMillis(raw); err == nil {
			step = ms
		}
	}

	if reason, fail := failure(call.Parameters); fail {
		if err := wait(ctx, step); err != nil {
			return provider.Output{}, err
		}
		return provider.Output{}, services.Wrap(services.ErrProvider, "mock", "generate", reason, nil)
	}

	var result generation.Result
	switch call.Kind {
	case generation.KindText:
		text, err := p.streamText(ctx, call, stream, step)
		if err != nil {
			return provider.Output{}, err
		}
		result = generation.Result{Text: text, MIMEType: "text/plain"}
	default:
		for i := 1; i <= progressSteps; i++ {
			if err := wait(ctx, step); err != nil {
				return provider.Output{}, err
			}
			stream.Progress(float64(i) * 100 / progressSteps)
		}
		ext, mime := artifactType(call.Kind)
		result = generation.Result{
			ArtifactRef: fmt.Sprintf("mock://%s/%s.%s", call.Kind, call.RequestID, ext),
			MIMEType:    mime,
		}
	}

	out := provider.Output{Result: result}
	if cost, ok := p.cfg.Costs[call.Kind]; ok {
		c := cost
		out.Cost = &c
	}
	return out, nil
}

// Cancel aborts the simulated remote job identified by token.
func (p *Provider) Cancel(_ context.Context, token string) error {
	p.mu.Lock()
	cancel, ok := p.running[token]
	p.mu.Unlock()
	if !ok {
		return services.Wrap(services.ErrNotFound, "mock", "cancel", "unknown job token "+token, nil)
	}
	cancel()
	return nil
}

func (p *Provider) streamText(ctx context.Context, call provider.Call, stream provider.Stream, step time.Duration) (string, error) {
	words := strings.Fields(composeText(call))
	var out strings.Builder
	for i, word := range words {
		if err := wait(ctx, step); err != nil {
			return "", err
		}
		chunk := word
		if i > 0 {
			chunk = " " + word
		}
		out.WriteString(chunk)
		stream.Chunk(chunk)
	}
	return out.String(), nil
}

func composeText(call provider.Call) string {
	prompt := strings.Join(strings.Fields(call.Prompt), " ")
	const limit = 24
	words := strings.Fields(prompt)
	if len(words) > limit {
		prompt = strings.Join(words[:limit], " ")
	}
	return "Draft for: " + prompt
}

func (p *Provider) track(token string, cancel context.CancelFunc) {
	p.mu.Lock()
	p.running[token] = cancel
	p.mu.Unlock()
}

func (p *Provider) untrack(token string) {
	p.mu.Lock()
	delete(p.running, token)
	p.mu.Unlock()
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func failure(params map[string]any) (string, bool) {
	raw, ok := params[FailParameter]
	if !ok || raw == nil {
		return "", false
	}
	switch v := raw.(type) {
	case bool:
		return "simulated failure", v
	case string:
		if strings.TrimSpace(v) == "" {
			return "", false
		}
		return v, true
	default:
		return "simulated failure", true
	}
}

func artifactType(kind generation.Kind) (string, string) {
	if kind == generation.KindVideo {
		return "mp4", "video/mp4"
	}
	return "png", "image/png"
}

func setDefault(params map[string]any, key string, value any) {
	if _, ok := params[key]; !ok {
		params[key] = value
	}
}

func parseMillis(raw any) (time.Duration, error) {
	var ms float64
	switch v := raw.(type) {
	case float64:
		ms = v
	case int:
		ms = float64(v)
	case int64:
		ms = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, err
		}
		ms = parsed
	default:
		return 0, fmt.Errorf("unsupported value %T", raw)
	}
	if ms < 0 {
		return 0, fmt.Errorf("negative value %v", ms)
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}
