package canonical

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loicricci/albee-poc-sub001/internal/vectors"
)

// MemoryStore keeps answers in process. Used by tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	answers map[string]*Answer
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{answers: make(map[string]*Answer), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, a Answer) (Answer, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	a.TimesReused = 0
	a.QuestionEmbedding = append([]float32(nil), a.QuestionEmbedding...)

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := a
	s.answers[a.ID] = &stored
	return a, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.answers[id]
	if !ok {
		return Answer{}, ErrNotFound
	}
	return *a, nil
}

func (s *MemoryStore) Nearest(_ context.Context, personaID string, vec []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	matches := make([]Match, 0, len(s.answers))
	for _, a := range s.answers {
		if a.PersonaID != personaID {
			continue
		}
		matches = append(matches, Match{Answer: *a, Score: vectors.Cosine(vec, a.QuestionEmbedding)})
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].Answer.ID < matches[j].Answer.ID
		}
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *MemoryStore) RecordReuse(_ context.Context, id string) (Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.answers[id]
	if !ok {
		return Answer{}, ErrNotFound
	}
	a.TimesReused++
	return *a, nil
}
