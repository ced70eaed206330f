package api

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"genflow/internal/activity"
	"genflow/internal/engine"
	"genflow/internal/generation"
	"genflow/internal/services"
)

func TestFromRecordUsesCamelCaseAndMillis(t *testing.T) {
	cost := 0.5
	finished := time.Date(2026, 4, 1, 9, 30, 0, 123000000, time.UTC)
	rec := generation.Record{
		ID:         "rec-1",
		Kind:       generation.KindVideo,
		Provider:   "mock",
		Prompt:     "waves",
		TemplateID: "hero",
		Status:     generation.StatusCompleted,
		Result:     generation.Result{ArtifactRef: "mock://video/rec-1.mp4", MIMEType: "video/mp4"},
		Duration:   1500 * time.Millisecond,
		Cost:       &cost,
		FinishedAt: finished,
	}
	dto := FromRecord(rec)
	if dto.DurationMillis != 1500 || dto.FinishedAt != "2026-04-01T09:30:00.123Z" {
		t.Fatalf("unexpected timing %+v", dto)
	}
	if dto.Result == nil || dto.Result.ArtifactRef != "mock://video/rec-1.mp4" {
		t.Fatalf("unexpected result %+v", dto.Result)
	}
	cost = 9
	if *dto.Cost != 0.5 {
		t.Fatal("cost shared with record")
	}

	data, err := json.Marshal(dto)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"templateId":"hero"`, `"durationMs":1500`, `"mimeType":"video/mp4"`} {
		if !strings.Contains(string(data), key) {
			t.Fatalf("payload %s missing %s", data, key)
		}
	}
	if strings.Contains(string(data), "startedAt") {
		t.Fatalf("zero timestamp serialized: %s", data)
	}
}

func TestFromRecordOmitsEmptyResult(t *testing.T) {
	dto := FromRecord(generation.Record{ID: "x", Status: generation.StatusFailed, Error: "boom", ErrorKind: services.ErrorKindProvider})
	if dto.Result != nil {
		t.Fatalf("unexpected result %+v", dto.Result)
	}
	if dto.ErrorKind != "provider" {
		t.Fatalf("error kind = %q", dto.ErrorKind)
	}
}

func TestFromLookupVariants(t *testing.T) {
	req := generation.Request{ID: "q1", Kind: generation.KindImage, Provider: "mock"}
	queued := FromLookup("q1", engine.LookupResult{Location: engine.LocationQueued, QueuePosition: 2, Queued: &req})
	if queued.Location != "queued" || queued.Queued == nil || queued.Queued.Position != 2 {
		t.Fatalf("unexpected queued response %+v", queued)
	}

	active := generation.ActiveGeneration{ID: "a1", Status: generation.StatusStreaming, Progress: -1}
	resp := FromLookup("a1", engine.LookupResult{Location: engine.LocationActive, Active: &active})
	if resp.Active == nil || resp.Active.Status != "streaming" || resp.Active.Progress != -1 {
		t.Fatalf("unexpected active response %+v", resp)
	}

	unknown := FromLookup("zz", engine.LookupResult{})
	if unknown.Location != "" || unknown.Queued != nil || unknown.Active != nil || unknown.Record != nil {
		t.Fatalf("unexpected unknown response %+v", unknown)
	}
}

func TestFromStatsKeysByString(t *testing.T) {
	stats := FromStats(engine.Stats{
		Total:           2,
		ByKind:          map[generation.Kind]int{generation.KindText: 2},
		ByStatus:        map[generation.Status]int{generation.StatusFailed: 1, generation.StatusCompleted: 1},
		AverageDuration: 2 * time.Second,
	})
	if stats.ByKind["text"] != 2 || stats.ByStatus["failed"] != 1 || stats.AverageDurationMillis != 2000 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.ByProvider == nil {
		t.Fatal("nil provider map")
	}
}

func TestFromEntry(t *testing.T) {
	ts := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	evt := FromEntry(activity.Entry{Sequence: 7, Time: ts, Type: engine.EventTerminal, JobID: "j", To: generation.StatusCancelled, ErrorKind: services.ErrorKindCancelled})
	if evt.Sequence != 7 || evt.Type != "terminal" || evt.To != "cancelled" || evt.ErrorKind != "cancelled" || evt.Time != "2026-04-01T00:00:00.000Z" {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestParseFilter(t *testing.T) {
	values := url.Values{
		"kind":     {"text,image"},
		"status":   {"failed"},
		"provider": {" Mock", "llm"},
		"template": {"hero"},
		"brand":    {"acme"},
		"since":    {"2026-01-01T00:00:00Z"},
		"offset":   {"5"},
		"limit":    {"10"},
	}
	f, err := ParseFilter(values)
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	if len(f.Kinds) != 2 || f.Kinds[1] != generation.KindImage || f.Statuses[0] != generation.StatusFailed {
		t.Fatalf("unexpected enums %+v", f)
	}
	if len(f.Providers) != 2 || f.Providers[0] != "mock" || f.TemplateID != "hero" || f.BrandID != "acme" || f.Offset != 5 || f.Limit != 10 {
		t.Fatalf("unexpected filter %+v", f)
	}
	if f.Since.Year() != 2026 || !f.Until.IsZero() {
		t.Fatalf("unexpected range %v %v", f.Since, f.Until)
	}

	round, err := ParseFilter(EncodeFilter(f))
	if err != nil {
		t.Fatalf("ParseFilter(EncodeFilter): %v", err)
	}
	if len(round.Kinds) != 2 || round.Limit != 10 || !round.Since.Equal(f.Since) {
		t.Fatalf("round trip lost fields %+v", round)
	}
}

func TestParseFilterRejectsBadValues(t *testing.T) {
	cases := []url.Values{
		{"kind": {"audio"}},
		{"status": {"ripping"}},
		{"since": {"yesterday"}},
		{"limit": {"-1"}},
		{"offset": {"abc"}},
	}
	for _, values := range cases {
		if _, err := ParseFilter(values); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("ParseFilter(%v) error = %v, want validation", values, err)
		}
	}
}

func TestPromptPreview(t *testing.T) {
	if got := PromptPreview("a  quiet\nmorning", 40); got != "a quiet morning" {
		t.Fatalf("preview = %q", got)
	}
	if got := PromptPreview("abcdefghij", 6); got != "abc..." {
		t.Fatalf("preview = %q", got)
	}
	if got := ShortID("0123456789"); got != "01234567" {
		t.Fatalf("short id = %q", got)
	}
}
