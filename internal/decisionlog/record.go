// Package decisionlog is the append-only record of every routing decision.
// It is the only source metrics are aggregated from.
package decisionlog

import (
	"context"
	"time"

	"github.com/loicricci/albee-poc-sub001/internal/routing"
	"github.com/loicricci/albee-poc-sub001/internal/signals"
)

// Record is one decision. Records are never mutated after Append.
type Record struct {
	ID                string            `json:"id"`
	PersonaID         string            `json:"persona_id"`
	UserID            string            `json:"user_id"`
	ConversationID    string            `json:"conversation_id"`
	Path              routing.Path      `json:"path"`
	Trigger           routing.Trigger   `json:"trigger"`
	Signals           signals.Signals   `json:"signals"`
	Confidence        float64           `json:"confidence"`
	Reason            string            `json:"reason"`
	EscalationID      string            `json:"escalation_id,omitempty"`
	CanonicalAnswerID string            `json:"canonical_answer_id,omitempty"`
	Snapshot          *routing.Snapshot `json:"snapshot,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Filter selects records for one persona in [From, To).
type Filter struct {
	PersonaID string
	From      time.Time
	To        time.Time
	Limit     int
}

// Store persists records.
type Store interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context, f Filter) ([]Record, error)
	Summarize(ctx context.Context, personaID string, from, to time.Time) (Summary, error)
}

// Summary aggregates records for a persona and window.
type Summary struct {
	PersonaID         string               `json:"persona_id"`
	From              time.Time            `json:"from"`
	To                time.Time            `json:"to"`
	Total             int                  `json:"total"`
	ByPath            map[routing.Path]int `json:"by_path"`
	AverageConfidence float64              `json:"average_confidence"`
	// CanonicalReuseRate is count(C) / count(*).
	CanonicalReuseRate float64 `json:"canonical_reuse_rate"`
}

// newSummary builds a Summary from per-path counts and confidence sums.
func newSummary(personaID string, from, to time.Time, counts map[routing.Path]int, confidenceSum float64) Summary {
	s := Summary{PersonaID: personaID, From: from, To: to, ByPath: make(map[routing.Path]int, len(routing.Paths))}
	for _, p := range routing.Paths {
		s.ByPath[p] = counts[p]
		s.Total += counts[p]
	}
	if s.Total > 0 {
		s.AverageConfidence = confidenceSum / float64(s.Total)
		s.CanonicalReuseRate = float64(counts[routing.PathCanonical]) / float64(s.Total)
	}
	return s
}
