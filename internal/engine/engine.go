package engine

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"genflow/internal/generation"
	"genflow/internal/logging"
	"genflow/internal/provider"
)

const providerCancelTimeout = 15 * time.Second

// Submission is a request before the engine assigns its id and timestamp.
type Submission struct {
	Kind            generation.Kind
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
}

// request builds the job request. Kind and provider are stored in their
// canonical spelling so filters and stats group them together; an unknown
// kind is kept as given and fails validation.
func (s Submission) request(id string, now time.Time) generation.Request {
	kind := s.Kind
	if parsed, ok := generation.ParseKind(string(s.Kind)); ok {
		kind = parsed
	}
	return generation.Request{
		ID:              id,
		Kind:            kind,
		Provider:        provider.NormalizeName(s.Provider),
		Model:           s.Model,
		Prompt:          s.Prompt,
		SystemPrompt:    s.SystemPrompt,
		TemplateID:      s.TemplateID,
		TemplateVersion: s.TemplateVersion,
		BrandID:         s.BrandID,
		Variables:       s.Variables,
		Parameters:      s.Parameters,
		Metadata:        s.Metadata,
		CreatedAt:       now,
	}.Clone()
}

// Location reports where a job id currently lives.
type Location string

const (
	LocationUnknown Location = ""
	LocationQueued  Location = "queued"
	LocationActive  Location = "active"
	LocationHistory Location = "history"
)

// LookupResult is the answer of Lookup. Exactly one of Queued, Active, or Record
// is populated unless Location is unknown.
type LookupResult struct {
	Location      Location
	QueuePosition int
	Queued        *generation.Request
	Active        *generation.ActiveGeneration
	Record        *generation.Record
}

// Status summarizes engine occupancy.
type Status struct {
	ConcurrencyLimit int
	Active           int
	Queued           int
	History          int
	HistoryLimit     int
	JobTimeout       time.Duration
	Providers        []string
	Closed           bool
}

type job struct {
	request  generation.Request
	machine  *generation.Machine
	cancel   context.CancelFunc
	provider provider.Provider
	deadline *time.Timer
	// release marks the job's goroutine done for Close. It runs when the job
	// turns terminal, even if the goroutine is still stuck in the provider.
	release  func()
	seq      uint64
}

// Engine is the orchestration façade. It is safe for concurrent use.
type Engine struct {
	providers *provider.Registry
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string
	limit     int
	timeout   time.Duration
	outbox    *outbox

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	mu       sync.Mutex
	queue    []generation.Request
	active   map[string]*job
	history  *History
	stats    *Stats
	admitted uint64
	closed   bool
}

// New constructs an engine that resolves providers from registry.
func New(registry *provider.Registry, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if registry == nil {
		registry = provider.NewRegistry()
	}
	logger := logging.NewComponentLogger(o.logger, "engine")

	baseCtx, cancelAll := context.WithCancel(context.Background())
	e := &Engine{
		providers: registry,
		logger:    logger,
		tracer:    o.tracer,
		now:       o.now,
		newID:     o.newID,
		limit:     o.limit,
		timeout:   o.timeout,
		outbox:    newOutbox(logger, o.listeners, o.publishers),
		baseCtx:   baseCtx,
		cancelAll: cancelAll,
		active:    make(map[string]*job),
		history:   NewHistory(o.historyCap),
	}
	seeded := 0
	for _, rec := range o.seed {
		if e.history.Append(rec) {
			seeded++
		}
	}
	if seeded > 0 {
		logger.Info("history seeded",
			logging.Int("records", seeded),
			logging.Int("kept", e.history.Len()),
			logging.EventType("history_seeded"),
		)
	}
	return e
}

// StartGeneration assigns an id and either starts the job or queues it. It never
// fails synchronously; failures surface through the job's terminal record.
func (e *Engine) StartGeneration(sub Submission) string {
	now := e.now()
	req := sub.request(e.newID(), now)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.emitLocked(Event{Type: EventSubmitted, JobID: req.ID, Kind: req.Kind, Provider: req.Provider, To: generation.StatusPending, Time: now})
	if e.closed {
		e.rejectLocked(req, "engine is shutting down")
		return req.ID
	}
	if len(e.active) < e.limit {
		e.admitLocked(req)
		return req.ID
	}
	e.queue = append(e.queue, req)
	e.logger.Debug("generation queued",
		logging.JobID(req.ID),
		logging.Int("queue_depth", len(e.queue)),
		logging.EventType("generation_queued"),
	)
	return req.ID
}

// CancelGeneration cancels a queued or active job. It reports whether a
// cancellation was effected; unknown and terminal ids return false.
func (e *Engine) CancelGeneration(id string) bool {
	return e.cancel(id, "cancelled by caller")
}

func (e *Engine) cancel(id, reason string) bool {
	e.mu.Lock()
	if idx := e.queueIndexLocked(id); idx >= 0 {
		req := e.queue[idx]
		e.queue = slices.Delete(e.queue, idx, idx+1)
		e.emitLocked(Event{Type: EventDequeued, JobID: id, Kind: req.Kind, Provider: req.Provider, From: generation.StatusPending, Time: e.now(), Message: reason})
		e.mu.Unlock()
		e.logger.Info("queued generation cancelled",
			logging.JobID(id),
			logging.EventType("generation_dequeued"),
		)
		return true
	}

	j, ok := e.active[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	if _, err := e.applyLocked(j, generation.Cancel(reason)); err != nil {
		e.mu.Unlock()
		return false
	}
	token := j.machine.Token()
	p := j.provider
	e.mu.Unlock()

	if canceler, ok := p.(provider.Canceler); ok && token != "" {
		e.wg.Add(1)
		go e.cancelRemote(id, canceler, token)
	}
	return true
}

func (e *Engine) cancelRemote(id string, canceler provider.Canceler, token string) {
	defer e.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), providerCancelTimeout)
	defer cancel()
	if err := canceler.Cancel(ctx, token); err != nil {
		e.logger.Debug("provider cancel not honoured",
			logging.JobID(id),
			logging.String("token", token),
			logging.Error(err),
		)
	}
}

// RetryGeneration starts a new job cloned from a failed history record. It
// returns false when the record is missing or did not fail.
func (e *Engine) RetryGeneration(id string) (string, bool) {
	e.mu.Lock()
	rec, ok := e.history.Get(id)
	e.mu.Unlock()
	if !ok || rec.Status != generation.StatusFailed {
		return "", false
	}

	req := rec.Request()
	prompt := rec.RenderedPrompt
	if prompt == "" {
		prompt = req.Prompt
	}
	metadata := maps.Clone(req.Metadata)
	if metadata == nil {
		metadata = make(map[string]any, 1)
	}
	metadata["retry_of"] = rec.ID

	newID := e.StartGeneration(Submission{
		Kind:            req.Kind,
		Provider:        req.Provider,
		Model:           req.Model,
		Prompt:          prompt,
		SystemPrompt:    req.SystemPrompt,
		TemplateID:      req.TemplateID,
		TemplateVersion: req.TemplateVersion,
		BrandID:         req.BrandID,
		Variables:       req.Variables,
		Parameters:      req.Parameters,
		Metadata:        metadata,
	})
	e.logger.Info("generation retried",
		logging.JobID(newID),
		logging.String("retry_of", rec.ID),
		logging.EventType("generation_retried"),
	)
	return newID, true
}

// QueryHistory returns matching records, most recent first.
func (e *Engine) QueryHistory(f Filter) []generation.Record {
	records, _ := e.HistoryPage(f)
	return records
}

// HistoryPage returns the matching page and the total number of matches.
func (e *Engine) HistoryPage(f Filter) ([]generation.Record, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Query(f)
}

// Stats returns aggregates over history. The result is cached until the next
// record is appended.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stats == nil {
		stats := computeStats(e.history.records)
		e.stats = &stats
	}
	return e.stats.clone()
}

// Active returns the live view of an executing job.
func (e *Engine) Active(id string) (generation.ActiveGeneration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.active[id]
	if !ok {
		return generation.ActiveGeneration{}, false
	}
	return j.machine.Snapshot(), true
}

// ActiveList returns every active job in admission order.
func (e *Engine) ActiveList() []generation.ActiveGeneration {
	e.mu.Lock()
	defer e.mu.Unlock()
	jobs := make([]*job, 0, len(e.active))
	for _, j := range e.active {
		jobs = append(jobs, j)
	}
	slices.SortFunc(jobs, func(a, b *job) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
	out := make([]generation.ActiveGeneration, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.machine.Snapshot())
	}
	return out
}

// StreamedContent returns the text accumulated so far by an active job.
func (e *Engine) StreamedContent(id string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.active[id]
	if !ok {
		return "", false
	}
	return j.machine.StreamedContent(), true
}

// Queued returns queued job ids in FIFO order.
func (e *Engine) Queued() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.queue))
	for _, req := range e.queue {
		ids = append(ids, req.ID)
	}
	return ids
}

// Lookup reports whether id is queued, active, or in history.
func (e *Engine) Lookup(id string) LookupResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx := e.queueIndexLocked(id); idx >= 0 {
		req := e.queue[idx].Clone()
		return LookupResult{Location: LocationQueued, QueuePosition: idx + 1, Queued: &req}
	}
	if j, ok := e.active[id]; ok {
		snap := j.machine.Snapshot()
		return LookupResult{Location: LocationActive, Active: &snap}
	}
	if rec, ok := e.history.Get(id); ok {
		return LookupResult{Location: LocationHistory, Record: &rec}
	}
	return LookupResult{Location: LocationUnknown}
}

// Status returns a snapshot of engine occupancy.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		ConcurrencyLimit: e.limit,
		Active:           len(e.active),
		Queued:           len(e.queue),
		History:          e.history.Len(),
		HistoryLimit:     e.history.capacity,
		JobTimeout:       e.timeout,
		Providers:        e.providers.Names(),
		Closed:           e.closed,
	}
}

// Close drops queued jobs, cancels active ones, and waits for job goroutines
// and listener delivery to finish or for ctx to expire.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return e.outbox.wait(ctx)
	}
	e.closed = true
	queued := e.queue
	e.queue = nil
	for _, req := range queued {
		e.emitLocked(Event{Type: EventDequeued, JobID: req.ID, Kind: req.Kind, Provider: req.Provider, From: generation.StatusPending, Time: e.now(), Message: "engine shutting down"})
	}
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.cancel(id, "engine shutting down")
	}
	e.cancelAll()

	waited := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return ctx.Err()
	}
	e.outbox.close()
	e.logger.Info("engine stopped",
		logging.Int("dropped_queued", len(queued)),
		logging.Int("cancelled_active", len(ids)),
		logging.EventType("engine_stopped"),
	)
	return e.outbox.wait(ctx)
}

func (e *Engine) queueIndexLocked(id string) int {
	return slices.IndexFunc(e.queue, func(req generation.Request) bool { return req.ID == id })
}

// admitLocked registers req as active in the validating state and starts its goroutine.
func (e *Engine) admitLocked(req generation.Request) {
	e.admitted++
	ctx, cancel := context.WithCancel(e.baseCtx)
	j := &job{
		request: req,
		machine: generation.NewMachine(req),
		cancel:  cancel,
		seq:     e.admitted,
	}
	e.active[req.ID] = j
	tr, err := e.applyLocked(j, generation.Start())
	if err != nil || tr.Terminal {
		return
	}
	e.wg.Add(1)
	j.release = sync.OnceFunc(e.wg.Done)
	go e.run(ctx, j)
}

// rejectLocked records a job that could not be admitted at all.
func (e *Engine) rejectLocked(req generation.Request, reason string) {
	j := &job{request: req, machine: generation.NewMachine(req), cancel: func() {}}
	e.active[req.ID] = j
	_, _ = e.applyLocked(j, generation.Cancel(reason))
}

// applyLocked advances j and updates shared state. Terminal transitions move the
// job into history and promote queued work before the lock is released.
func (e *Engine) applyLocked(j *job, ev generation.Event) (generation.Transition, error) {
	now := e.now()
	tr, err := j.machine.Apply(ev, now)
	if err != nil {
		return tr, err
	}
	if tr.Terminal {
		e.terminateLocked(j, tr, now)
		return tr, nil
	}
	if tr.From != tr.To {
		evType := EventTransition
		if tr.From == generation.StatusPending {
			evType = EventStarted
		}
		e.emitLocked(Event{Type: evType, JobID: j.request.ID, Kind: j.request.Kind, Provider: j.request.Provider, From: tr.From, To: tr.To, Time: now})
	}
	return tr, nil
}

func (e *Engine) terminateLocked(j *job, tr generation.Transition, now time.Time) {
	id := j.request.ID
	delete(e.active, id)
	j.cancel()
	if j.deadline != nil {
		j.deadline.Stop()
	}
	if j.release != nil {
		j.release()
	}

	rec, err := j.machine.Record()
	if err != nil {
		e.logger.Error("terminal record unavailable", logging.JobID(id), logging.Error(err))
		return
	}
	if !e.history.Append(rec) {
		e.logger.Warn("duplicate terminal record dropped", logging.JobID(id))
	}
	e.stats = nil
	e.outbox.pushRecord(rec)
	e.emitLocked(Event{
		Type:      EventTerminal,
		JobID:     id,
		Kind:      rec.Kind,
		Provider:  rec.Provider,
		From:      tr.From,
		To:        tr.To,
		Time:      now,
		Message:   rec.Error,
		ErrorKind: rec.ErrorKind,
	})
	e.promoteLocked()
}

// promoteLocked starts queued jobs, oldest first, while slots are free.
func (e *Engine) promoteLocked() {
	for !e.closed && len(e.active) < e.limit && len(e.queue) > 0 {
		next := e.queue[0]
		e.queue = slices.Delete(e.queue, 0, 1)
		e.admitLocked(next)
	}
}

func (e *Engine) emitLocked(ev Event) {
	e.outbox.pushEvent(ev)
}
