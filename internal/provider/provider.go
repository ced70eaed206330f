// Package provider defines the capability the engine invokes to perform the
// actual text, image, or video synthesis, plus a name-keyed registry.
package provider

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"genflow/internal/generation"
	"genflow/internal/services"
)

// Call is the provider-facing view of one generation request.
type Call struct {
	RequestID    string
	Kind         generation.Kind
	Model        string
	Prompt       string
	SystemPrompt string
	Parameters   map[string]any
}

// Stream receives incremental output while a provider runs. Implementations
// must tolerate calls after the job was cancelled.
type Stream interface {
	// Token records the provider-assigned job token used for remote cancellation.
	Token(token string)
	Chunk(text string)
	Progress(percent float64)
}

// Provider performs a generation. Generate must honour ctx cancellation where
// the remote service allows it.
type Provider interface {
	Name() string
	Supports(kind generation.Kind) bool
	Generate(ctx context.Context, call Call, stream Stream) (Output, error)
}

// Output is the terminal result of a successful provider call.
type Output struct {
	Result generation.Result
	Cost   *float64
}

// Canceler is implemented by providers that can abort a remote job by token.
type Canceler interface {
	Cancel(ctx context.Context, token string) error
}

// Preparer is implemented by providers that resolve execution parameters
// before the call is issued.
type Preparer interface {
	Prepare(call Call) (map[string]any, error)
}

// Registry maps provider names to implementations.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns a registry seeded with providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		if p != nil {
			_ = r.Register(p)
		}
	}
	return r
}

// Register adds p under its normalized name. Duplicate names are rejected.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return services.Wrap(services.ErrConfiguration, "provider", "register", "provider is nil", nil)
	}
	name := NormalizeName(p.Name())
	if name == "" {
		return services.Wrap(services.ErrConfiguration, "provider", "register", "provider name is empty", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return services.Wrap(services.ErrConfiguration, "provider", "register", fmt.Sprintf("provider %q already registered", name), nil)
	}
	r.providers[name] = p
	return nil
}

// Get looks up a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[NormalizeName(name)]
	return p, ok
}

// Names returns registered provider names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resolve finds the provider for a request and checks it supports the kind.
// Failures are validation errors because the request never reaches a provider.
func (r *Registry) Resolve(name string, kind generation.Kind) (Provider, error) {
	p, ok := r.Get(name)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "provider", "resolve", fmt.Sprintf("unknown provider %q", name), nil)
	}
	if !p.Supports(kind) {
		return nil, services.Wrap(services.ErrValidation, "provider", "resolve", fmt.Sprintf("provider %q does not support %s", name, kind), nil)
	}
	return p, nil
}

// NormalizeName returns the registry key for a provider name. Requests and
// records carry this form.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
