package generation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"genflow/internal/services"
)

var (
	// ErrIllegalTransition reports an event that is not valid in the current state.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrTerminal reports an event delivered after the job reached a terminal state.
	ErrTerminal = errors.New("job already terminal")
	// ErrNotTerminal reports a record requested before the job finished.
	ErrNotTerminal = errors.New("job not terminal")
)

// EventType identifies an input to the state machine.
type EventType string

const (
	EventStart    EventType = "start"
	EventOK       EventType = "ok"
	EventChunk    EventType = "chunk"
	EventProgress EventType = "progress"
	EventDone     EventType = "done"
	EventError    EventType = "error"
	EventCancel   EventType = "cancel"
)

// Event is delivered to Machine.Apply. Only the fields relevant to Type are read.
type Event struct {
	Type     EventType
	Chunk    string
	Progress float64
	Result   Result
	Cost     *float64
	Err      error
	// Reason overrides the default cancellation message.
	Reason string
}

func Start() Event { return Event{Type: EventStart} }

func OK() Event { return Event{Type: EventOK} }

func Chunk(text string) Event { return Event{Type: EventChunk, Chunk: text} }

func Progress(percent float64) Event { return Event{Type: EventProgress, Progress: percent} }

func Fail(err error) Event { return Event{Type: EventError, Err: err} }

// Done reports provider success. cost may be nil when the provider has no estimate.
func Done(result Result, cost *float64) Event {
	return Event{Type: EventDone, Result: result, Cost: cost}
}

// Cancel reports a caller-initiated cancellation.
func Cancel(reason string) Event {
	return Event{Type: EventCancel, Reason: reason}
}

// Effect is the side effect the engine must perform after a transition.
type Effect string

const (
	EffectNone           Effect = "none"
	EffectValidate       Effect = "validate"
	EffectPrepare        Effect = "prepare"
	EffectInvokeProvider Effect = "invoke_provider"
	EffectAppendChunk    Effect = "append_chunk"
	EffectFinalize       Effect = "finalize"
)

// Transition is the outcome of applying one event.
type Transition struct {
	From     Status
	To       Status
	Event    EventType
	Effect   Effect
	Chunk    string
	Terminal bool
}

type edge struct {
	to     Status
	effect Effect
}

var terminalEdges = map[EventType]edge{
	EventError:  {to: StatusFailed, effect: EffectFinalize},
	EventCancel: {to: StatusCancelled, effect: EffectFinalize},
}

var allowedTransitions = map[Status]map[EventType]edge{
	StatusPending: {
		EventStart: {to: StatusValidating, effect: EffectValidate},
	},
	StatusValidating: {
		EventOK: {to: StatusPreparing, effect: EffectPrepare},
	},
	StatusPreparing: {
		EventOK: {to: StatusExecuting, effect: EffectInvokeProvider},
	},
	StatusExecuting: {
		EventChunk:    {to: StatusStreaming, effect: EffectAppendChunk},
		EventProgress: {to: StatusExecuting, effect: EffectNone},
		EventDone:     {to: StatusCompleted, effect: EffectFinalize},
	},
	StatusStreaming: {
		EventChunk:    {to: StatusStreaming, effect: EffectAppendChunk},
		EventProgress: {to: StatusStreaming, effect: EffectNone},
		EventDone:     {to: StatusCompleted, effect: EffectFinalize},
	},
}

func lookupEdge(from Status, event EventType) (edge, bool) {
	if e, ok := allowedTransitions[from][event]; ok {
		return e, true
	}
	if e, ok := terminalEdges[event]; ok && !from.IsTerminal() {
		return e, true
	}
	return edge{}, false
}

// Machine drives one job through its lifecycle. It is not safe for concurrent
// use; the engine serializes calls under its own lock.
type Machine struct {
	request    Request
	status     Status
	progress   float64
	streamed   strings.Builder
	token      string
	startedAt  time.Time
	finishedAt time.Time
	result     Result
	cost       *float64
	errMsg     string
	errKind    services.ErrorKind
}

// NewMachine returns a pending machine for req.
func NewMachine(req Request) *Machine {
	return &Machine{request: req, status: StatusPending, progress: IndeterminateProgress}
}

// Status returns the current lifecycle status.
func (m *Machine) Status() Status { return m.status }

// Request returns the request driven by this machine.
func (m *Machine) Request() Request { return m.request }

// SetToken records the provider-assigned job token used for remote cancellation.
func (m *Machine) SetToken(token string) {
	if m.status.IsTerminal() {
		return
	}
	m.token = strings.TrimSpace(token)
}

// Token returns the provider job token, if any.
func (m *Machine) Token() string { return m.token }

// Apply advances the machine. Events after a terminal state return ErrTerminal and
// leave the machine untouched.
func (m *Machine) Apply(ev Event, now time.Time) (Transition, error) {
	from := m.status
	if from.IsTerminal() {
		return Transition{From: from, To: from, Event: ev.Type, Effect: EffectNone, Terminal: true}, ErrTerminal
	}
	next, ok := lookupEdge(from, ev.Type)
	if !ok {
		return Transition{From: from, To: from, Event: ev.Type, Effect: EffectNone}, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, ev.Type, from)
	}

	tr := Transition{From: from, To: next.to, Event: ev.Type, Effect: next.effect, Terminal: next.to.IsTerminal()}
	switch ev.Type {
	case EventStart:
		m.startedAt = now
	case EventChunk:
		m.streamed.WriteString(ev.Chunk)
		tr.Chunk = ev.Chunk
	case EventProgress:
		m.progress = clampProgress(ev.Progress)
	case EventDone:
		m.result = ev.Result
		if m.result.Text == "" && m.streamed.Len() > 0 {
			m.result.Text = m.streamed.String()
		}
		if ev.Cost != nil {
			cost := *ev.Cost
			m.cost = &cost
		}
		m.progress = 100
	case EventError:
		m.errKind = services.Kind(ev.Err)
		if m.errKind == services.ErrorKindNone {
			m.errKind = services.ErrorKindProvider
		}
		m.errMsg = services.Message(ev.Err)
	case EventCancel:
		m.errKind = services.ErrorKindCancelled
		m.errMsg = strings.TrimSpace(ev.Reason)
		if m.errMsg == "" {
			m.errMsg = "cancelled by caller"
		}
	}
	m.status = next.to
	if tr.Terminal {
		m.finishedAt = now
	}
	return tr, nil
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return IndeterminateProgress
	case p > 100:
		return 100
	default:
		return p
	}
}

// Snapshot returns the registry view of a non-terminal job.
func (m *Machine) Snapshot() ActiveGeneration {
	return ActiveGeneration{
		ID:              m.request.ID,
		Kind:            m.request.Kind,
		Provider:        m.request.Provider,
		Status:          m.status,
		Progress:        m.progress,
		StreamedContent: m.streamed.String(),
		StartedAt:       m.startedAt,
		Cancellable:     !m.status.IsTerminal(),
		ProviderToken:   m.token,
	}
}

// StreamedContent returns the text accumulated from chunks so far.
func (m *Machine) StreamedContent() string { return m.streamed.String() }

// Record builds the terminal history record.
func (m *Machine) Record() (Record, error) {
	if !m.status.IsTerminal() {
		return Record{}, fmt.Errorf("%w: %s", ErrNotTerminal, m.status)
	}
	req := m.request.Clone()
	rec := Record{
		ID:              req.ID,
		Kind:            req.Kind,
		Provider:        req.Provider,
		Model:           req.Model,
		Prompt:          req.Prompt,
		SystemPrompt:    req.SystemPrompt,
		TemplateID:      req.TemplateID,
		TemplateVersion: req.TemplateVersion,
		BrandID:         req.BrandID,
		Variables:       req.Variables,
		Parameters:      req.Parameters,
		Metadata:        req.Metadata,
		CreatedAt:       req.CreatedAt,
		Status:          m.status,
		Result:          m.result,
		Error:           m.errMsg,
		ErrorKind:       m.errKind,
		RenderedPrompt:  req.Prompt,
		StartedAt:       m.startedAt,
		FinishedAt:      m.finishedAt,
	}
	if m.cost != nil {
		cost := *m.cost
		rec.Cost = &cost
	}
	if !m.startedAt.IsZero() && m.finishedAt.After(m.startedAt) {
		rec.Duration = m.finishedAt.Sub(m.startedAt)
	}
	if m.status != StatusCompleted {
		rec.Result = Result{}
	}
	return rec, nil
}
