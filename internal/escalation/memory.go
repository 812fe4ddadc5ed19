package escalation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps escalations in process.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Escalation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Escalation)}
}

func (s *MemoryStore) Create(_ context.Context, e Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[e.ID] = e
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[id]
	if !ok {
		return Escalation{}, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, from, to Status, change Change) (Escalation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[id]
	if !ok {
		return Escalation{}, false, ErrNotFound
	}
	if e.Status != from {
		return e, false, nil
	}
	change.apply(&e, to)
	s.items[id] = e
	return e, true, nil
}

func (s *MemoryStore) ExpireOffered(_ context.Context, cutoff, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.items {
		if e.Status == StatusOffered && e.OfferedAt.Before(cutoff) {
			Change{At: at}.apply(&e, StatusExpired)
			s.items[id] = e
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, personaID string, status Status, limit int) ([]Escalation, error) {
	s.mu.Lock()
	var out []Escalation
	for _, e := range s.items {
		if e.PersonaID == personaID && e.Status == status {
			out = append(out, e)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OfferedAt.Before(out[j].OfferedAt) })
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
