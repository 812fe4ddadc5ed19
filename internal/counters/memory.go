package counters

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store guarded by a mutex.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]int)}
}

func memoryKey(personaID, userID string, p Period, at time.Time) string {
	return personaID + "|" + userID + "|" + string(p) + "|" + PeriodKey(p, at)
}

func (s *MemoryStore) TryIncrement(_ context.Context, personaID, userID string, at time.Time, limits ...Limit) (bool, error) {
	if !validLimits(limits) {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range limits {
		if s.counts[memoryKey(personaID, userID, l.Period, at)]+1 > l.Max {
			return false, nil
		}
	}
	for _, l := range limits {
		s.counts[memoryKey(personaID, userID, l.Period, at)]++
	}
	return true, nil
}

func (s *MemoryStore) Usage(_ context.Context, personaID, userID string, at time.Time) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Usage{
		Today:    s.counts[memoryKey(personaID, userID, Day, at)],
		ThisWeek: s.counts[memoryKey(personaID, userID, Week, at)],
	}, nil
}
