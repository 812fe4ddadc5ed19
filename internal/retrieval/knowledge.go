package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/loicricci/albee-poc-sub001/internal/vectors"
)

// Passage is one knowledge-base entry.
type Passage struct {
	ID        string    `json:"id"`
	PersonaID string    `json:"persona_id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// KnowledgeBase stores a persona's embedded reference passages.
type KnowledgeBase interface {
	Insert(ctx context.Context, passages []Passage) error
	Nearest(ctx context.Context, personaID string, vec []float32, k int) ([]Candidate, error)
}

// MemoryKnowledgeBase keeps passages in process.
type MemoryKnowledgeBase struct {
	mu       sync.RWMutex
	passages map[string][]Passage
}

func NewMemoryKnowledgeBase() *MemoryKnowledgeBase {
	return &MemoryKnowledgeBase{passages: make(map[string][]Passage)}
}

func (kb *MemoryKnowledgeBase) Insert(_ context.Context, passages []Passage) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	for _, p := range passages {
		kb.passages[p.PersonaID] = append(kb.passages[p.PersonaID], p)
	}
	return nil
}

func (kb *MemoryKnowledgeBase) Nearest(_ context.Context, personaID string, vec []float32, k int) ([]Candidate, error) {
	if k <= 0 {
		return nil, nil
	}
	kb.mu.RLock()
	docs := kb.passages[personaID]
	out := make([]Candidate, 0, len(docs))
	for _, p := range docs {
		out = append(out, Candidate{
			Pool:  PoolKnowledgeBase,
			ID:    p.ID,
			Text:  p.Content,
			Score: vectors.Cosine(vec, p.Embedding),
		})
	}
	kb.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

type passageDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGKnowledgeBase stores passages in knowledge_passages with a pgvector
// embedding column.
type PGKnowledgeBase struct {
	db passageDB
}

func NewPGKnowledgeBase(db passageDB) *PGKnowledgeBase {
	if db == nil {
		panic("retrieval: db cannot be nil")
	}
	return &PGKnowledgeBase{db: db}
}

func (kb *PGKnowledgeBase) Insert(ctx context.Context, passages []Passage) error {
	for _, p := range passages {
		_, err := kb.db.Exec(ctx, `
			INSERT INTO knowledge_passages (id, persona_id, content, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			p.ID, p.PersonaID, p.Content, pgvector.NewVector(p.Embedding), p.CreatedAt)
		if err != nil {
			return fmt.Errorf("retrieval: insert passage: %w", err)
		}
	}
	return nil
}

func (kb *PGKnowledgeBase) Nearest(ctx context.Context, personaID string, vec []float32, k int) ([]Candidate, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := kb.db.Query(ctx, `
		SELECT id, content, 1 - (embedding <=> $2) AS score
		FROM knowledge_passages
		WHERE persona_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3`,
		personaID, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("retrieval: nearest passages: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		c := Candidate{Pool: PoolKnowledgeBase}
		if err := rows.Scan(&c.ID, &c.Text, &c.Score); err != nil {
			return nil, fmt.Errorf("retrieval: scan passage: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("retrieval: passage rows: %w", err)
	}
	return out, nil
}

var errEmbeddingMismatch = errors.New("retrieval: embedding response size mismatch")

// newPassages embeds contents and builds passages ready for insertion.
func newPassages(ctx context.Context, embedder Embedder, personaID string, contents []string, now time.Time) ([]Passage, error) {
	vecs, err := embedder.Embed(ctx, contents)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed passages: %w", err)
	}
	if len(vecs) != len(contents) {
		return nil, errEmbeddingMismatch
	}
	passages := make([]Passage, len(contents))
	for i, content := range contents {
		passages[i] = Passage{
			ID:        uuid.NewString(),
			PersonaID: personaID,
			Content:   content,
			Embedding: vecs[i],
			CreatedAt: now,
		}
	}
	return passages, nil
}
