// Package activity buffers engine lifecycle events so HTTP clients can
// long-poll for changes instead of re-reading the registry.
package activity

import (
	"context"
	"sync"
	"time"

	"genflow/internal/engine"
	"genflow/internal/generation"
	"genflow/internal/services"
)

// DefaultCapacity is the number of entries kept when none is configured.
const DefaultCapacity = 512

// Entry is one buffered lifecycle event.
type Entry struct {
	Sequence  uint64
	Time      time.Time
	Type      engine.EventType
	JobID     string
	Kind      generation.Kind
	Provider  string
	From      generation.Status
	To        generation.Status
	Message   string
	ErrorKind services.ErrorKind
}

// Hub stores recent entries and wakes waiters when new ones arrive.
type Hub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []Entry
	nextSeq  uint64
}

// NewHub constructs a bounded in-memory event buffer.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	h := &Hub{capacity: capacity}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// PublishEvent implements engine.EventPublisher.
func (h *Hub) PublishEvent(ev engine.Event) {
	h.Publish(Entry{
		Time:      ev.Time,
		Type:      ev.Type,
		JobID:     ev.JobID,
		Kind:      ev.Kind,
		Provider:  ev.Provider,
		From:      ev.From,
		To:        ev.To,
		Message:   ev.Message,
		ErrorKind: ev.ErrorKind,
	})
}

// Publish assigns the next sequence number to entry and buffers it.
func (h *Hub) Publish(entry Entry) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSeq++
	entry.Sequence = h.nextSeq
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, entry)
	h.cond.Broadcast()
}

// Fetch returns entries with a sequence greater than since, plus the latest
// sequence assigned. When wait is true it blocks until at least one entry is
// available or ctx ends.
func (h *Hub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]Entry, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	stopWake := make(chan struct{})
	if wait && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.mu.Lock()
				h.cond.Broadcast()
				h.mu.Unlock()
			case <-stopWake:
			}
		}()
	}
	defer close(stopWake)

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		entries, next := h.snapshotLocked(since, limit)
		if len(entries) > 0 || !wait {
			return entries, next, ctx.Err()
		}
		if err := ctx.Err(); err != nil {
			return nil, next, err
		}
		h.cond.Wait()
	}
}

// Tail returns the most recent limit entries without blocking.
func (h *Hub) Tail(limit int) ([]Entry, uint64) {
	if h == nil {
		return nil, 0
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	start := max(len(h.buffer)-limit, 0)
	out := make([]Entry, len(h.buffer)-start)
	copy(out, h.buffer[start:])
	return out, h.nextSeq
}

// FirstSequence reports the smallest sequence still buffered. Clients whose
// cursor is older have missed entries.
func (h *Hub) FirstSequence() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buffer) == 0 {
		return h.nextSeq
	}
	return h.buffer[0].Sequence
}

func (h *Hub) snapshotLocked(since uint64, limit int) ([]Entry, uint64) {
	start := len(h.buffer)
	for i, entry := range h.buffer {
		if entry.Sequence > since {
			start = i
			break
		}
	}
	if start == len(h.buffer) {
		return nil, h.nextSeq
	}
	end := min(start+limit, len(h.buffer))
	out := make([]Entry, end-start)
	copy(out, h.buffer[start:end])
	return out, h.nextSeq
}
