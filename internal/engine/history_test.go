package engine

import (
	"testing"
	"time"

	"genflow/internal/generation"
)

func record(id string, kind generation.Kind, status generation.Status, finished time.Time) generation.Record {
	return generation.Record{
		ID:         id,
		Kind:       kind,
		Provider:   "mock",
		Status:     status,
		CreatedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
	}
}

func TestHistoryAppendDedupesAndEvicts(t *testing.T) {
	h := NewHistory(2)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if !h.Append(record("a", generation.KindText, generation.StatusCompleted, base)) {
		t.Fatal("first append rejected")
	}
	if h.Append(record("a", generation.KindText, generation.StatusFailed, base)) {
		t.Fatal("duplicate append accepted")
	}
	h.Append(record("b", generation.KindText, generation.StatusCompleted, base))
	h.Append(record("c", generation.KindText, generation.StatusCompleted, base))

	if h.Len() != 2 {
		t.Fatalf("len = %d", h.Len())
	}
	if _, ok := h.Get("a"); ok {
		t.Fatal("oldest record not evicted")
	}
	// An evicted id may be appended again.
	if !h.Append(record("a", generation.KindText, generation.StatusCompleted, base)) {
		t.Fatal("evicted id rejected")
	}
	got := h.Records()
	if got[0].ID != "c" || got[1].ID != "a" {
		t.Fatalf("unexpected order %v", []string{got[0].ID, got[1].ID})
	}
}

func TestHistoryQueryFiltersAndPaginates(t *testing.T) {
	h := NewHistory(10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.Append(record("t1", generation.KindText, generation.StatusCompleted, base))
	h.Append(record("i1", generation.KindImage, generation.StatusFailed, base.Add(time.Hour)))
	h.Append(record("t2", generation.KindText, generation.StatusFailed, base.Add(2*time.Hour)))
	tpl := record("t3", generation.KindText, generation.StatusCompleted, base.Add(3*time.Hour))
	tpl.TemplateID = "hero"
	tpl.BrandID = "acme"
	tpl.Provider = "llm"
	h.Append(tpl)

	tests := []struct {
		name      string
		filter    Filter
		wantIDs   []string
		wantTotal int
	}{
		{name: "all newest first", filter: Filter{}, wantIDs: []string{"t3", "t2", "i1", "t1"}, wantTotal: 4},
		{name: "kind", filter: Filter{Kinds: []generation.Kind{generation.KindText}}, wantIDs: []string{"t3", "t2", "t1"}, wantTotal: 3},
		{name: "status", filter: Filter{Statuses: []generation.Status{generation.StatusFailed}}, wantIDs: []string{"t2", "i1"}, wantTotal: 2},
		{name: "provider", filter: Filter{Providers: []string{"llm"}}, wantIDs: []string{"t3"}, wantTotal: 1},
		{name: "template and brand", filter: Filter{TemplateID: "hero", BrandID: "acme"}, wantIDs: []string{"t3"}, wantTotal: 1},
		{name: "time range", filter: Filter{Since: base.Add(30 * time.Minute), Until: base.Add(2 * time.Hour)}, wantIDs: []string{"t2", "i1"}, wantTotal: 2},
		{name: "page", filter: Filter{Offset: 1, Limit: 2}, wantIDs: []string{"t2", "i1"}, wantTotal: 4},
		{name: "offset past end", filter: Filter{Offset: 10}, wantIDs: nil, wantTotal: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, total := h.Query(tt.filter)
			if total != tt.wantTotal {
				t.Fatalf("total = %d, want %d", total, tt.wantTotal)
			}
			var ids []string
			for _, rec := range page {
				ids = append(ids, rec.ID)
			}
			if len(ids) != len(tt.wantIDs) {
				t.Fatalf("ids = %v, want %v", ids, tt.wantIDs)
			}
			for i := range ids {
				if ids[i] != tt.wantIDs[i] {
					t.Fatalf("ids = %v, want %v", ids, tt.wantIDs)
				}
			}
		})
	}
}

func TestComputeStats(t *testing.T) {
	cost := func(v float64) *float64 { return &v }
	records := []generation.Record{
		{Kind: generation.KindText, Provider: "llm", Status: generation.StatusCompleted, Cost: cost(0.1), Duration: 2 * time.Second},
		{Kind: generation.KindImage, Provider: "mock", Status: generation.StatusCompleted, Cost: cost(0.3), Duration: 4 * time.Second},
		{Kind: generation.KindImage, Provider: "mock", Status: generation.StatusCancelled},
	}
	stats := computeStats(records)

	if stats.Total != 3 || stats.ByKind[generation.KindImage] != 2 || stats.ByProvider["llm"] != 1 {
		t.Fatalf("unexpected counts %+v", stats)
	}
	if stats.ByStatus[generation.StatusCancelled] != 1 {
		t.Fatalf("unexpected status counts %v", stats.ByStatus)
	}
	if stats.CostSamples != 2 || stats.TotalCost < 0.399 || stats.TotalCost > 0.401 {
		t.Fatalf("unexpected cost %+v", stats)
	}
	if stats.AverageCost < 0.199 || stats.AverageCost > 0.201 {
		t.Fatalf("average cost = %v", stats.AverageCost)
	}
	if stats.TotalDuration != 6*time.Second || stats.AverageDuration != 3*time.Second {
		t.Fatalf("unexpected durations %+v", stats)
	}

	empty := computeStats(nil)
	if empty.Total != 0 || empty.AverageCost != 0 || empty.AverageDuration != 0 {
		t.Fatalf("unexpected empty stats %+v", empty)
	}
}
