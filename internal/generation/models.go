package generation

import (
	"maps"
	"strings"
	"time"

	"genflow/internal/services"
)

// Kind is the content kind produced by a generation.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

var allKinds = []Kind{KindText, KindImage, KindVideo}

// Kinds returns every supported content kind.
func Kinds() []Kind {
	return append([]Kind(nil), allKinds...)
}

// ParseKind normalizes a textual kind.
func ParseKind(value string) (Kind, bool) {
	normalized := Kind(strings.ToLower(strings.TrimSpace(value)))
	for _, kind := range allKinds {
		if kind == normalized {
			return kind, true
		}
	}
	return "", false
}

// Status represents the lifecycle of a generation job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusValidating Status = "validating"
	StatusPreparing  Status = "preparing"
	StatusExecuting  Status = "executing"
	StatusStreaming  Status = "streaming"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusValidating,
	StatusPreparing,
	StatusExecuting,
	StatusStreaming,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Statuses returns every lifecycle status in pipeline order.
func Statuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus normalizes a textual status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether no further transitions can occur.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Request is a submitted generation request. It is never mutated after the
// engine assigns its ID and CreatedAt.
type Request struct {
	ID              string
	Kind            Kind
	Provider        string
	Model           string
	Prompt          string
	SystemPrompt    string
	TemplateID      string
	TemplateVersion string
	BrandID         string
	Variables       map[string]string
	Parameters      map[string]any
	Metadata        map[string]any
	CreatedAt       time.Time
}

// Clone returns a copy whose maps are not shared with r.
func (r Request) Clone() Request {
	out := r
	out.Variables = maps.Clone(r.Variables)
	out.Parameters = cloneAnyMap(r.Parameters)
	out.Metadata = cloneAnyMap(r.Metadata)
	return out
}

func cloneAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		switch v := value.(type) {
		case map[string]any:
			out[key] = cloneAnyMap(v)
		case []any:
			out[key] = append([]any(nil), v...)
		default:
			out[key] = value
		}
	}
	return out
}

// IndeterminateProgress marks a job whose completion fraction is unknown.
const IndeterminateProgress = -1

// ActiveGeneration is the observed state of a job in the active registry.
type ActiveGeneration struct {
	ID              string
	Kind            Kind
	Provider        string
	Status          Status
	Progress        float64
	StreamedContent string
	StartedAt       time.Time
	Cancellable     bool
	ProviderToken   string
}

// Result is the successful output of a provider.
type Result struct {
	ArtifactRef string
	Text        string
	MIMEType    string
}

// Record is the terminal snapshot of a job written to history.
type Record struct {
	ID              string
	Kind            Kind
	Provider        string
	Model           string
	Prompt          string
	SystemPrompt    string
	TemplateID      string
	TemplateVersion string
	BrandID         string
	Variables       map[string]string
	Parameters      map[string]any
	Metadata        map[string]any
	CreatedAt       time.Time

	Status         Status
	Result         Result
	Error          string
	ErrorKind      services.ErrorKind
	Duration       time.Duration
	Cost           *float64
	RenderedPrompt string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Request rebuilds the request fields carried by the record.
func (r Record) Request() Request {
	return Request{
		ID:              r.ID,
		Kind:            r.Kind,
		Provider:        r.Provider,
		Model:           r.Model,
		Prompt:          r.Prompt,
		SystemPrompt:    r.SystemPrompt,
		TemplateID:      r.TemplateID,
		TemplateVersion: r.TemplateVersion,
		BrandID:         r.BrandID,
		Variables:       r.Variables,
		Parameters:      r.Parameters,
		Metadata:        r.Metadata,
		CreatedAt:       r.CreatedAt,
	}.Clone()
}
