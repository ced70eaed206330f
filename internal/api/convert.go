package api

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"genflow/internal/activity"
	"genflow/internal/engine"
	"genflow/internal/generation"
	"genflow/internal/provider"
	"genflow/internal/services"
)

// ToSubmission converts a submit payload into an engine submission. Contents
// are not validated here; malformed requests fail asynchronously through the
// job's terminal record.
func ToSubmission(req SubmitRequest) engine.Submission {
	kind := generation.Kind(strings.ToLower(strings.TrimSpace(req.Kind)))
	return engine.Submission{
		Kind:            kind,
		Provider:        strings.TrimSpace(req.Provider),
		Model:           strings.TrimSpace(req.Model),
		Prompt:          req.Prompt,
		SystemPrompt:    req.SystemPrompt,
		TemplateID:      req.TemplateID,
		TemplateVersion: req.TemplateVersion,
		BrandID:         req.BrandID,
		Variables:       req.Variables,
		Parameters:      req.Parameters,
		Metadata:        req.Metadata,
	}
}

// FromRecord converts a history record to its API representation.
func FromRecord(rec generation.Record) Record {
	dto := Record{
		ID:              rec.ID,
		Kind:            string(rec.Kind),
		Provider:        rec.Provider,
		Model:           rec.Model,
		Prompt:          rec.Prompt,
		SystemPrompt:    rec.SystemPrompt,
		TemplateID:      rec.TemplateID,
		TemplateVersion: rec.TemplateVersion,
		BrandID:         rec.BrandID,
		Variables:       maps.Clone(rec.Variables),
		Parameters:      maps.Clone(rec.Parameters),
		Metadata:        maps.Clone(rec.Metadata),
		Status:          string(rec.Status),
		Error:           rec.Error,
		ErrorKind:       string(rec.ErrorKind),
		DurationMillis:  rec.Duration.Milliseconds(),
		RenderedPrompt:  rec.RenderedPrompt,
		CreatedAt:       formatTime(rec.CreatedAt),
		StartedAt:       formatTime(rec.StartedAt),
		FinishedAt:      formatTime(rec.FinishedAt),
	}
	if rec.Result != (generation.Result{}) {
		dto.Result = &Result{
			ArtifactRef: rec.Result.ArtifactRef,
			Text:        rec.Result.Text,
			MIMEType:    rec.Result.MIMEType,
		}
	}
	if rec.Cost != nil {
		cost := *rec.Cost
		dto.Cost = &cost
	}
	return dto
}

// FromRecords converts a slice of records into API DTOs.
func FromRecords(records []generation.Record) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		out = append(out, FromRecord(rec))
	}
	return out
}

// FromActive converts an active registry snapshot.
func FromActive(active generation.ActiveGeneration) ActiveGeneration {
	return ActiveGeneration{
		ID:              active.ID,
		Kind:            string(active.Kind),
		Provider:        active.Provider,
		Status:          string(active.Status),
		Progress:        active.Progress,
		StreamedContent: active.StreamedContent,
		StartedAt:       formatTime(active.StartedAt),
		Cancellable:     active.Cancellable,
		ProviderToken:   active.ProviderToken,
	}
}

// FromActiveList converts registry snapshots, keeping their order.
func FromActiveList(active []generation.ActiveGeneration) []ActiveGeneration {
	out := make([]ActiveGeneration, 0, len(active))
	for _, a := range active {
		out = append(out, FromActive(a))
	}
	return out
}

// FromLookup converts an engine lookup into a GenerationResponse.
func FromLookup(id string, res engine.LookupResult) GenerationResponse {
	resp := GenerationResponse{ID: id, Location: string(res.Location)}
	switch {
	case res.Queued != nil:
		resp.Queued = &QueuedGeneration{
			ID:        res.Queued.ID,
			Position:  res.QueuePosition,
			Kind:      string(res.Queued.Kind),
			Provider:  res.Queued.Provider,
			CreatedAt: formatTime(res.Queued.CreatedAt),
		}
	case res.Active != nil:
		active := FromActive(*res.Active)
		resp.Active = &active
	case res.Record != nil:
		rec := FromRecord(*res.Record)
		resp.Record = &rec
	}
	return resp
}

// FromStats converts engine aggregates, keying maps by their string values.
func FromStats(stats engine.Stats) Stats {
	out := Stats{
		Total:                 stats.Total,
		ByKind:                make(map[string]int, len(stats.ByKind)),
		ByProvider:            maps.Clone(stats.ByProvider),
		ByStatus:              make(map[string]int, len(stats.ByStatus)),
		TotalCost:             stats.TotalCost,
		AverageCost:           stats.AverageCost,
		CostSamples:           stats.CostSamples,
		TotalDurationMillis:   stats.TotalDuration.Milliseconds(),
		AverageDurationMillis: stats.AverageDuration.Milliseconds(),
	}
	if out.ByProvider == nil {
		out.ByProvider = map[string]int{}
	}
	for kind, count := range stats.ByKind {
		out.ByKind[string(kind)] = count
	}
	for status, count := range stats.ByStatus {
		out.ByStatus[string(status)] = count
	}
	return out
}

// FromEngineStatus converts an engine occupancy snapshot.
func FromEngineStatus(st engine.Status) EngineStatus {
	providers := slices.Clone(st.Providers)
	if providers == nil {
		providers = []string{}
	}
	return EngineStatus{
		ConcurrencyLimit:  st.ConcurrencyLimit,
		Active:            st.Active,
		Queued:            st.Queued,
		History:           st.History,
		HistoryLimit:      st.HistoryLimit,
		JobTimeoutSeconds: int64(st.JobTimeout / time.Second),
		Providers:         providers,
		Closed:            st.Closed,
	}
}

// FromEntry converts a buffered activity entry.
func FromEntry(entry activity.Entry) Event {
	return Event{
		Sequence:  entry.Sequence,
		Time:      formatTime(entry.Time),
		Type:      string(entry.Type),
		JobID:     entry.JobID,
		Kind:      string(entry.Kind),
		Provider:  entry.Provider,
		From:      string(entry.From),
		To:        string(entry.To),
		Message:   entry.Message,
		ErrorKind: string(entry.ErrorKind),
	}
}

// FromEntries converts activity entries into API events.
func FromEntries(entries []activity.Entry) []Event {
	out := make([]Event, 0, len(entries))
	for _, entry := range entries {
		out = append(out, FromEntry(entry))
	}
	return out
}

// ParseFilter reads history query parameters: kind, provider and status may be
// repeated or comma separated; since and until are RFC3339 timestamps.
func ParseFilter(values url.Values) (engine.Filter, error) {
	var f engine.Filter
	for _, raw := range splitValues(values["kind"]) {
		kind, ok := generation.ParseKind(raw)
		if !ok {
			return engine.Filter{}, invalidQuery("unknown kind %q", raw)
		}
		f.Kinds = append(f.Kinds, kind)
	}
	for _, raw := range splitValues(values["status"]) {
		status, ok := generation.ParseStatus(raw)
		if !ok {
			return engine.Filter{}, invalidQuery("unknown status %q", raw)
		}
		f.Statuses = append(f.Statuses, status)
	}
	for _, raw := range splitValues(values["provider"]) {
		f.Providers = append(f.Providers, provider.NormalizeName(raw))
	}
	f.TemplateID = strings.TrimSpace(values.Get("template"))
	f.BrandID = strings.TrimSpace(values.Get("brand"))

	var err error
	if f.Since, err = parseQueryTime(values.Get("since")); err != nil {
		return engine.Filter{}, invalidQuery("invalid since: %v", err)
	}
	if f.Until, err = parseQueryTime(values.Get("until")); err != nil {
		return engine.Filter{}, invalidQuery("invalid until: %v", err)
	}
	if f.Offset, err = parseNonNegative(values.Get("offset")); err != nil {
		return engine.Filter{}, invalidQuery("invalid offset: %v", err)
	}
	if f.Limit, err = parseNonNegative(values.Get("limit")); err != nil {
		return engine.Filter{}, invalidQuery("invalid limit: %v", err)
	}
	return f, nil
}

// EncodeFilter is the inverse of ParseFilter, used by the client.
func EncodeFilter(f engine.Filter) url.Values {
	values := url.Values{}
	for _, kind := range f.Kinds {
		values.Add("kind", string(kind))
	}
	for _, status := range f.Statuses {
		values.Add("status", string(status))
	}
	for _, name := range f.Providers {
		values.Add("provider", name)
	}
	if f.TemplateID != "" {
		values.Set("template", f.TemplateID)
	}
	if f.BrandID != "" {
		values.Set("brand", f.BrandID)
	}
	if !f.Since.IsZero() {
		values.Set("since", f.Since.UTC().Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		values.Set("until", f.Until.UTC().Format(time.RFC3339))
	}
	if f.Offset > 0 {
		values.Set("offset", strconv.Itoa(f.Offset))
	}
	if f.Limit > 0 {
		values.Set("limit", strconv.Itoa(f.Limit))
	}
	return values
}

func splitValues(raw []string) []string {
	var out []string
	for _, value := range raw {
		for part := range strings.SplitSeq(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func parseQueryTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

func parseNonNegative(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must be >= 0, got %d", n)
	}
	return n, nil
}

func invalidQuery(format string, args ...any) error {
	return services.Wrap(services.ErrValidation, "api", "history query", fmt.Sprintf(format, args...), nil)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
