package activity

import (
	"context"
	"testing"
	"time"

	"genflow/internal/engine"
	"genflow/internal/generation"
)

func TestPublishAssignsSequenceAndEvicts(t *testing.T) {
	hub := NewHub(3)
	for _, id := range []string{"a", "b", "c", "d"} {
		hub.Publish(Entry{JobID: id, Type: engine.EventSubmitted})
	}

	entries, next := hub.Tail(10)
	if next != 4 {
		t.Fatalf("next = %d, want 4", next)
	}
	if len(entries) != 3 || entries[0].JobID != "b" || entries[2].Sequence != 4 {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if first := hub.FirstSequence(); first != 2 {
		t.Fatalf("first sequence = %d, want 2", first)
	}
}

func TestFetchSinceAndLimit(t *testing.T) {
	hub := NewHub(10)
	for range 5 {
		hub.Publish(Entry{Type: engine.EventTransition})
	}

	entries, next, err := hub.Fetch(context.Background(), 2, 2, false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if next != 5 || len(entries) != 2 || entries[0].Sequence != 3 || entries[1].Sequence != 4 {
		t.Fatalf("unexpected fetch %+v next=%d", entries, next)
	}

	entries, _, err = hub.Fetch(context.Background(), 5, 0, false)
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected no entries, got %+v %v", entries, err)
	}
}

func TestFetchWaitWakesOnPublish(t *testing.T) {
	hub := NewHub(10)
	done := make(chan []Entry, 1)
	go func() {
		entries, _, err := hub.Fetch(context.Background(), 0, 0, true)
		if err != nil {
			t.Errorf("Fetch: %v", err)
		}
		done <- entries
	}()

	time.Sleep(20 * time.Millisecond)
	hub.PublishEvent(engine.Event{Type: engine.EventTerminal, JobID: "job-1", To: generation.StatusCompleted})

	select {
	case entries := <-done:
		if len(entries) != 1 || entries[0].JobID != "job-1" || entries[0].To != generation.StatusCompleted {
			t.Fatalf("unexpected entries %+v", entries)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestFetchWaitHonoursContext(t *testing.T) {
	hub := NewHub(10)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	entries, _, err := hub.Fetch(ctx, 0, 0, true)
	if err == nil || len(entries) != 0 {
		t.Fatalf("expected context error, got %+v %v", entries, err)
	}
}
