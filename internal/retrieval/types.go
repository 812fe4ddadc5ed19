// Package retrieval embeds text and searches the two candidate pools a
// message is matched against: owner-approved canonical answers and the
// persona's knowledge base.
package retrieval

import "context"

// Pool names a candidate source.
type Pool string

const (
	PoolCanonical     Pool = "canonical"
	PoolKnowledgeBase Pool = "knowledge_base"
)

// Candidate is one ranked search hit. Score is cosine similarity in [0,1].
// For canonical hits ID is the canonical answer id.
type Candidate struct {
	Pool  Pool    `json:"pool"`
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
