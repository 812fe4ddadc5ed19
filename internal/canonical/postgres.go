package canonical

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

type answerDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const answerColumns = `id, persona_id, question, answer_text, source_escalation_id, times_reused, created_at`

// PGStore keeps answers in canonical_answers with a pgvector embedding
// column searched by cosine distance.
type PGStore struct {
	db answerDB
}

// NewPGStore accepts a *pgxpool.Pool or any compatible handle.
func NewPGStore(db answerDB) *PGStore {
	if db == nil {
		panic("canonical: db cannot be nil")
	}
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, a Answer) (Answer, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.TimesReused = 0
	_, err := s.db.Exec(ctx, `
		INSERT INTO canonical_answers
			(id, persona_id, question, question_embedding, answer_text, source_escalation_id, times_reused, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)`,
		a.ID, a.PersonaID, a.Question, pgvector.NewVector(a.QuestionEmbedding), a.AnswerText, a.SourceEscalationID, a.CreatedAt)
	if err != nil {
		return Answer{}, fmt.Errorf("canonical: insert: %w", err)
	}
	return a, nil
}

func (s *PGStore) Get(ctx context.Context, id string) (Answer, error) {
	var a Answer
	var embedding pgvector.Vector
	err := s.db.QueryRow(ctx, `SELECT `+answerColumns+`, question_embedding FROM canonical_answers WHERE id = $1`, id).
		Scan(&a.ID, &a.PersonaID, &a.Question, &a.AnswerText, &a.SourceEscalationID, &a.TimesReused, &a.CreatedAt, &embedding)
	if errors.Is(err, pgx.ErrNoRows) {
		return Answer{}, ErrNotFound
	}
	if err != nil {
		return Answer{}, fmt.Errorf("canonical: get: %w", err)
	}
	a.QuestionEmbedding = embedding.Slice()
	return a, nil
}

func (s *PGStore) Nearest(ctx context.Context, personaID string, vec []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+answerColumns+`, 1 - (question_embedding <=> $2) AS score
		FROM canonical_answers
		WHERE persona_id = $1
		ORDER BY question_embedding <=> $2
		LIMIT $3`,
		personaID, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("canonical: nearest: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Answer.ID, &m.Answer.PersonaID, &m.Answer.Question, &m.Answer.AnswerText,
			&m.Answer.SourceEscalationID, &m.Answer.TimesReused, &m.Answer.CreatedAt, &m.Score); err != nil {
			return nil, fmt.Errorf("canonical: scan match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("canonical: nearest rows: %w", err)
	}
	return matches, nil
}

// RecordReuse increments in a single UPDATE, so concurrent reuses never lose
// an update.
func (s *PGStore) RecordReuse(ctx context.Context, id string) (Answer, error) {
	var a Answer
	err := s.db.QueryRow(ctx, `
		UPDATE canonical_answers SET times_reused = times_reused + 1
		WHERE id = $1
		RETURNING `+answerColumns, id).
		Scan(&a.ID, &a.PersonaID, &a.Question, &a.AnswerText, &a.SourceEscalationID, &a.TimesReused, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Answer{}, ErrNotFound
	}
	if err != nil {
		return Answer{}, fmt.Errorf("canonical: record reuse: %w", err)
	}
	return a, nil
}
