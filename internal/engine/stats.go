package engine

import (
	"maps"
	"time"

	"genflow/internal/generation"
)

// Stats aggregates the history log.
type Stats struct {
	Total      int
	ByKind     map[generation.Kind]int
	ByProvider map[string]int
	ByStatus   map[generation.Status]int

	TotalCost   float64
	AverageCost float64
	// CostSamples counts records that carried a cost estimate.
	CostSamples int

	TotalDuration   time.Duration
	AverageDuration time.Duration
}

func computeStats(records []generation.Record) Stats {
	stats := Stats{
		Total:      len(records),
		ByKind:     make(map[generation.Kind]int),
		ByProvider: make(map[string]int),
		ByStatus:   make(map[generation.Status]int),
	}
	timed := 0
	for _, rec := range records {
		stats.ByKind[rec.Kind]++
		stats.ByProvider[rec.Provider]++
		stats.ByStatus[rec.Status]++
		if rec.Cost != nil {
			stats.TotalCost += *rec.Cost
			stats.CostSamples++
		}
		if rec.Duration > 0 {
			stats.TotalDuration += rec.Duration
			timed++
		}
	}
	if stats.CostSamples > 0 {
		stats.AverageCost = stats.TotalCost / float64(stats.CostSamples)
	}
	if timed > 0 {
		stats.AverageDuration = stats.TotalDuration / time.Duration(timed)
	}
	return stats
}

func (s Stats) clone() Stats {
	out := s
	out.ByKind = maps.Clone(s.ByKind)
	out.ByProvider = maps.Clone(s.ByProvider)
	out.ByStatus = maps.Clone(s.ByStatus)
	return out
}
