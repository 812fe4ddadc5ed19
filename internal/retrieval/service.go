package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loicricci/albee-poc-sub001/internal/canonical"
	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

// CanonicalIndex is the part of the canonical answer store retrieval needs.
type CanonicalIndex interface {
	Nearest(ctx context.Context, personaID string, vec []float32, k int) ([]canonical.Match, error)
}

// Service embeds queries and searches the canonical and knowledge pools.
type Service struct {
	embedder  Embedder
	canonical CanonicalIndex
	knowledge KnowledgeBase
	logger    *logging.Logger
}

func NewService(embedder Embedder, answers CanonicalIndex, knowledge KnowledgeBase, logger *logging.Logger) *Service {
	if embedder == nil {
		panic("retrieval: embedder cannot be nil")
	}
	if answers == nil {
		panic("retrieval: canonical index cannot be nil")
	}
	if knowledge == nil {
		panic("retrieval: knowledge base cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{embedder: embedder, canonical: answers, knowledge: knowledge, logger: logger}
}

// Embed returns the vector for a single text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed: %w", err)
	}
	if len(vecs) != 1 {
		return nil, errEmbeddingMismatch
	}
	return vecs[0], nil
}

// Search embeds query once and queries each requested pool in parallel.
// Results are merged and ordered by descending score. A failure in any pool
// fails the search.
func (s *Service) Search(ctx context.Context, personaID, query string, pools []Pool, topK int) ([]Candidate, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	vec, err := s.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	results := make([][]Candidate, len(pools))
	g, gctx := errgroup.WithContext(ctx)
	for i, pool := range pools {
		g.Go(func() error {
			found, err := s.searchPool(gctx, pool, personaID, vec, topK)
			if err != nil {
				return err
			}
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []Candidate
	for _, r := range results {
		merged = append(merged, r...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	return merged, nil
}

func (s *Service) searchPool(ctx context.Context, pool Pool, personaID string, vec []float32, topK int) ([]Candidate, error) {
	switch pool {
	case PoolCanonical:
		matches, err := s.canonical.Nearest(ctx, personaID, vec, topK)
		if err != nil {
			return nil, fmt.Errorf("retrieval: canonical pool: %w", err)
		}
		out := make([]Candidate, len(matches))
		for i, m := range matches {
			out[i] = Candidate{Pool: PoolCanonical, ID: m.Answer.ID, Text: m.Answer.AnswerText, Score: m.Score}
		}
		return out, nil
	case PoolKnowledgeBase:
		out, err := s.knowledge.Nearest(ctx, personaID, vec, topK)
		if err != nil {
			return nil, fmt.Errorf("retrieval: knowledge pool: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("retrieval: unknown pool %q", pool)
	}
}

// ErrNoPassages is returned by Ingest when nothing usable was given.
var ErrNoPassages = errors.New("retrieval: no passages to ingest")

// Ingest embeds and stores knowledge-base passages for a persona. Blank
// entries are skipped.
func (s *Service) Ingest(ctx context.Context, personaID string, contents []string) (int, error) {
	cleaned := make([]string, 0, len(contents))
	for _, c := range contents {
		if c = strings.TrimSpace(c); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	if len(cleaned) == 0 {
		return 0, ErrNoPassages
	}
	passages, err := newPassages(ctx, s.embedder, personaID, cleaned, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if err := s.knowledge.Insert(ctx, passages); err != nil {
		return 0, err
	}
	s.logger.Info("retrieval: passages ingested", "persona_id", personaID, "count", len(passages))
	return len(passages), nil
}
