package testsupport

import (
	"testing"
	"time"

	"genflow/internal/config"
	"genflow/internal/generation"
	"genflow/internal/historystore"
)

// MustOpenHistoryStore opens a historystore.Store for tests and registers cleanup.
func MustOpenHistoryStore(t testing.TB, cfg *config.Config) *historystore.Store {
	t.Helper()

	store, err := historystore.Open(cfg)
	if err != nil {
		t.Fatalf("historystore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewRecord builds a terminal record fixture finished at the given time.
func NewRecord(id string, status generation.Status, finished time.Time) generation.Record {
	rec := generation.Record{
		ID:             id,
		Kind:           generation.KindText,
		Provider:       "mock",
		Prompt:         "prompt for " + id,
		RenderedPrompt: "prompt for " + id,
		Status:         status,
		CreatedAt:      finished.Add(-2 * time.Second),
		StartedAt:      finished.Add(-time.Second),
		FinishedAt:     finished,
		Duration:       time.Second,
	}
	if status == generation.StatusCompleted {
		rec.Result = generation.Result{Text: "result for " + id, MIMEType: "text/plain"}
	}
	return rec
}
