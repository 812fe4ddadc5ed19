package decisionlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/loicricci/albee-poc-sub001/internal/routing"
)

// MemoryStore keeps records in process.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]Record, error) {
	s.mu.RLock()
	var out []Record
	for _, r := range s.records {
		if matches(r, f.PersonaID, f.From, f.To) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Summarize(_ context.Context, personaID string, from, to time.Time) (Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[routing.Path]int)
	var confidence float64
	for _, r := range s.records {
		if matches(r, personaID, from, to) {
			counts[r.Path]++
			confidence += r.Confidence
		}
	}
	return newSummary(personaID, from, to, counts, confidence), nil
}

func matches(r Record, personaID string, from, to time.Time) bool {
	if r.PersonaID != personaID {
		return false
	}
	if !from.IsZero() && r.CreatedAt.Before(from) {
		return false
	}
	if !to.IsZero() && !r.CreatedAt.Before(to) {
		return false
	}
	return true
}
