// Package canonical stores owner-approved answers. An answer is created
// once, when an owner answers an escalation, and afterwards only its reuse
// counter changes.
package canonical

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an answer id is unknown.
var ErrNotFound = errors.New("canonical: answer not found")

// Answer is an approved response that can be served verbatim.
type Answer struct {
	ID                 string    `json:"id"`
	PersonaID          string    `json:"persona_id"`
	Question           string    `json:"question"`
	QuestionEmbedding  []float32 `json:"-"`
	AnswerText         string    `json:"answer_text"`
	SourceEscalationID *string   `json:"source_escalation_id,omitempty"`
	TimesReused        int64     `json:"times_reused"`
	CreatedAt          time.Time `json:"created_at"`
}

// Match is a similarity search hit. Score is cosine similarity.
type Match struct {
	Answer Answer
	Score  float64
}

// Store persists canonical answers.
type Store interface {
	// Create stores a new answer with TimesReused = 0. ID and CreatedAt are
	// assigned when empty.
	Create(ctx context.Context, a Answer) (Answer, error)
	Get(ctx context.Context, id string) (Answer, error)
	// Nearest returns up to k answers for the persona ordered by descending
	// similarity to vec.
	Nearest(ctx context.Context, personaID string, vec []float32, k int) ([]Match, error)
	// RecordReuse atomically increments TimesReused and returns the answer.
	RecordReuse(ctx context.Context, id string) (Answer, error)
}
