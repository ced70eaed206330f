package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// SubmitRequest carries an already-composed generation request.
type SubmitRequest struct {
	Kind            string            `json:"kind"`
	Provider        string            `json:"provider"`
	Model           string            `json:"model,omitempty"`
	Prompt          string            `json:"prompt"`
	SystemPrompt    string            `json:"systemPrompt,omitempty"`
	TemplateID      string            `json:"templateId,omitempty"`
	TemplateVersion string            `json:"templateVersion,omitempty"`
	BrandID         string            `json:"brandId,omitempty"`
	Variables       map[string]string `json:"variables,omitempty"`
	Parameters      map[string]any    `json:"parameters,omitempty"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
}

// SubmitResponse returns the id assigned to a submission.
type SubmitResponse struct {
	ID string `json:"id"`
}

// CancelResponse reports whether a cancellation was effected.
type CancelResponse struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
}

// RetryResponse returns the id of the job cloned from a failed record.
type RetryResponse struct {
	SourceID string `json:"sourceId"`
	ID       string `json:"id"`
}

// Result is the artifact reference or text produced by a completed job.
type Result struct {
	ArtifactRef string `json:"artifactRef,omitempty"`
	Text        string `json:"text,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// Record describes a terminal history entry.
type Record struct {
	ID              string            `json:"id"`
	Kind            string            `json:"kind"`
	Provider        string            `json:"provider"`
	Model           string            `json:"model,omitempty"`
	Prompt          string            `json:"prompt"`
	SystemPrompt    string            `json:"systemPrompt,omitempty"`
	TemplateID      string            `json:"templateId,omitempty"`
	TemplateVersion string            `json:"templateVersion,omitempty"`
	BrandID         string            `json:"brandId,omitempty"`
	Variables       map[string]string `json:"variables,omitempty"`
	Parameters      map[string]any    `json:"parameters,omitempty"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
	Status          string            `json:"status"`
	Result          *Result           `json:"result,omitempty"`
	Error           string            `json:"error,omitempty"`
	ErrorKind       string            `json:"errorKind,omitempty"`
	DurationMillis  int64             `json:"durationMs"`
	Cost            *float64          `json:"cost,omitempty"`
	RenderedPrompt  string            `json:"renderedPrompt,omitempty"`
	CreatedAt       string            `json:"createdAt,omitempty"`
	StartedAt       string            `json:"startedAt,omitempty"`
	FinishedAt      string            `json:"finishedAt,omitempty"`
}

// ActiveGeneration describes an executing job. Progress is -1 when the
// provider does not report it.
type ActiveGeneration struct {
	ID              string  `json:"id"`
	Kind            string  `json:"kind"`
	Provider        string  `json:"provider"`
	Status          string  `json:"status"`
	Progress        float64 `json:"progress"`
	StreamedContent string  `json:"streamedContent,omitempty"`
	StartedAt       string  `json:"startedAt,omitempty"`
	Cancellable     bool    `json:"cancellable"`
	ProviderToken   string  `json:"providerToken,omitempty"`
}

// QueuedGeneration describes a job waiting for a concurrency slot.
type QueuedGeneration struct {
	ID        string `json:"id"`
	Position  int    `json:"position"`
	Kind      string `json:"kind"`
	Provider  string `json:"provider"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// GenerationResponse reports where a job id lives and its current view.
type GenerationResponse struct {
	ID       string            `json:"id"`
	Location string            `json:"location"`
	Queued   *QueuedGeneration `json:"queued,omitempty"`
	Active   *ActiveGeneration `json:"active,omitempty"`
	Record   *Record           `json:"record,omitempty"`
}

// ActiveListResponse lists executing jobs and the queued ids in FIFO order.
type ActiveListResponse struct {
	Items  []ActiveGeneration `json:"items"`
	Queued []string           `json:"queued"`
}

// StreamResponse is the streamed text of a job. Done is set once the job is
// terminal, and Content then holds the final text.
type StreamResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// HistoryResponse wraps one page of history records.
type HistoryResponse struct {
	Items  []Record `json:"items"`
	Total  int      `json:"total"`
	Offset int      `json:"offset"`
	Limit  int      `json:"limit"`
}

// Stats aggregates history.
type Stats struct {
	Total                 int            `json:"total"`
	ByKind                map[string]int `json:"byKind"`
	ByProvider            map[string]int `json:"byProvider"`
	ByStatus              map[string]int `json:"byStatus"`
	TotalCost             float64        `json:"totalCost"`
	AverageCost           float64        `json:"averageCost"`
	CostSamples           int            `json:"costSamples"`
	TotalDurationMillis   int64          `json:"totalDurationMs"`
	AverageDurationMillis int64          `json:"averageDurationMs"`
}

// EngineStatus summarizes scheduler occupancy.
type EngineStatus struct {
	ConcurrencyLimit  int      `json:"concurrencyLimit"`
	Active            int      `json:"active"`
	Queued            int      `json:"queued"`
	History           int      `json:"history"`
	HistoryLimit      int      `json:"historyLimit"`
	JobTimeoutSeconds int64    `json:"jobTimeoutSeconds"`
	Providers         []string `json:"providers"`
	Closed            bool     `json:"closed"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running        bool         `json:"running"`
	PID            int          `json:"pid"`
	StartedAt      string       `json:"startedAt,omitempty"`
	HistoryDBPath  string       `json:"historyDbPath,omitempty"`
	LockFilePath   string       `json:"lockFilePath"`
	RedisPublisher bool         `json:"redisPublisher"`
	Notifications  bool         `json:"notifications"`
	LogPath        string       `json:"logPath,omitempty"`
	Engine         EngineStatus `json:"engine"`
}

// Event is one engine lifecycle event.
type Event struct {
	Sequence  uint64 `json:"seq"`
	Time      string `json:"ts"`
	Type      string `json:"type"`
	JobID     string `json:"jobId"`
	Kind      string `json:"kind,omitempty"`
	Provider  string `json:"provider,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Message   string `json:"message,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
}

// EventStreamResponse wraps events fetched after a cursor. Next is the cursor
// for the following request.
type EventStreamResponse struct {
	Events []Event `json:"events"`
	Next   uint64  `json:"next"`
}

// LogTailResponse carries daemon log lines and the offset to resume from.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// RecordAppended is the payload published to Redis for every new record.
type RecordAppended struct {
	Type   string `json:"type"`
	Record Record `json:"record"`
}

// RecordAppendedType tags RecordAppended payloads.
const RecordAppendedType = "record.appended"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
