package engine

import (
	"slices"
	"time"

	"genflow/internal/generation"
)

// History is a size-bounded log of terminal records in insertion order.
// It is not safe for concurrent use; the engine guards it with its mutex.
type History struct {
	capacity int
	records  []generation.Record
	ids      map[string]struct{}
}

// NewHistory returns a history holding at most capacity records.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{capacity: capacity, ids: make(map[string]struct{})}
}

// Append adds rec, evicting the oldest records beyond capacity. Records whose
// id is already present are ignored and reported as false.
func (h *History) Append(rec generation.Record) bool {
	if _, exists := h.ids[rec.ID]; exists {
		return false
	}
	h.records = append(h.records, rec)
	h.ids[rec.ID] = struct{}{}
	for len(h.records) > h.capacity {
		evicted := h.records[0]
		delete(h.ids, evicted.ID)
		h.records = slices.Delete(h.records, 0, 1)
	}
	return true
}

// Get returns the record with id.
func (h *History) Get(id string) (generation.Record, bool) {
	if _, ok := h.ids[id]; !ok {
		return generation.Record{}, false
	}
	for i := len(h.records) - 1; i >= 0; i-- {
		if h.records[i].ID == id {
			return h.records[i], true
		}
	}
	return generation.Record{}, false
}

// Len returns the number of stored records.
func (h *History) Len() int { return len(h.records) }

// Records returns a copy of the records in insertion order, oldest first.
func (h *History) Records() []generation.Record {
	return slices.Clone(h.records)
}

// Filter selects history records. Zero values match everything.
type Filter struct {
	Kinds      []generation.Kind
	Providers  []string
	Statuses   []generation.Status
	TemplateID string
	BrandID    string
	Since      time.Time
	Until      time.Time
	Offset     int
	// Limit caps the page size; zero returns all matches.
	Limit int
}

func (f Filter) matches(rec generation.Record) bool {
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, rec.Kind) {
		return false
	}
	if len(f.Providers) > 0 && !slices.Contains(f.Providers, rec.Provider) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, rec.Status) {
		return false
	}
	if f.TemplateID != "" && rec.TemplateID != f.TemplateID {
		return false
	}
	if f.BrandID != "" && rec.BrandID != f.BrandID {
		return false
	}
	at := rec.FinishedAt
	if at.IsZero() {
		at = rec.CreatedAt
	}
	if !f.Since.IsZero() && at.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && at.After(f.Until) {
		return false
	}
	return true
}

// Query returns the matching page, most recent first, and the total match count.
func (h *History) Query(f Filter) ([]generation.Record, int) {
	offset := max(f.Offset, 0)
	var (
		page  []generation.Record
		total int
	)
	for i := len(h.records) - 1; i >= 0; i-- {
		rec := h.records[i]
		if !f.matches(rec) {
			continue
		}
		total++
		if total <= offset {
			continue
		}
		if f.Limit > 0 && len(page) >= f.Limit {
			continue
		}
		page = append(page, rec)
	}
	return page, total
}
