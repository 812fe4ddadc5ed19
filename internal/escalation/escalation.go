// Package escalation owns the lifecycle of owner escalations:
// offered -> accepted -> answered, with declined and expired as terminal
// exits. Accepting is the only operation that charges escalation counters.
package escalation

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of an escalation.
type Status string

const (
	StatusOffered  Status = "offered"
	StatusAccepted Status = "accepted"
	StatusAnswered Status = "answered"
	StatusDeclined Status = "declined"
	StatusExpired  Status = "expired"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusAnswered || s == StatusDeclined || s == StatusExpired
}

var (
	ErrNotFound = errors.New("escalation: not found")
	// ErrClosed is returned when acting on a declined or expired escalation.
	ErrClosed = errors.New("escalation: closed")
	// ErrLimitReached is returned by Accept when the budget ran out between
	// offer and accept.
	ErrLimitReached = errors.New("escalation: limit reached")
	// ErrBudgetUnavailable wraps counter store failures during Accept. The
	// escalation is left in the offered state.
	ErrBudgetUnavailable = errors.New("escalation: budget unavailable")
	ErrNotAccepted       = errors.New("escalation: not accepted")
	ErrNotOffered        = errors.New("escalation: not offered")
	ErrEmptyAnswer       = errors.New("escalation: answer text is required")
	ErrInvalidOffer      = errors.New("escalation: invalid offer")
)

// LimitReachedReason is recorded on escalations declined at accept time.
const LimitReachedReason = "limit reached between offer and accept"

// Escalation is a question routed to the persona owner.
type Escalation struct {
	ID             string     `json:"id"`
	PersonaID      string     `json:"persona_id"`
	UserID         string     `json:"user_id"`
	ConversationID string     `json:"conversation_id"`
	Status         Status     `json:"status"`
	Question       string     `json:"question"`
	ContextSummary string     `json:"context_summary,omitempty"`
	OfferedAt      time.Time  `json:"offered_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	RespondedAt    *time.Time `json:"responded_at,omitempty"`
	AnswerText     *string    `json:"answer_text,omitempty"`
	DeclineReason  *string    `json:"decline_reason,omitempty"`
}

// Change carries the fields written alongside a status transition.
type Change struct {
	At            time.Time
	AnswerText    string
	DeclineReason string
}

// apply sets the fields a transition into to writes.
func (c Change) apply(e *Escalation, to Status) {
	e.Status = to
	switch to {
	case StatusOffered:
		e.AcceptedAt = nil
	case StatusAccepted:
		at := c.At
		e.AcceptedAt = &at
		e.RespondedAt = nil
		e.AnswerText = nil
	case StatusAnswered:
		at, text := c.At, c.AnswerText
		e.RespondedAt = &at
		e.AnswerText = &text
	case StatusDeclined:
		at, reason := c.At, c.DeclineReason
		e.RespondedAt = &at
		if reason != "" {
			e.DeclineReason = &reason
		}
	case StatusExpired:
		at := c.At
		e.RespondedAt = &at
	}
}

// Store persists escalations. Transition is a compare-and-set on status:
// when the current status is not from it returns the current record and
// false without writing.
type Store interface {
	Create(ctx context.Context, e Escalation) error
	Get(ctx context.Context, id string) (Escalation, error)
	Transition(ctx context.Context, id string, from, to Status, change Change) (Escalation, bool, error)
	// ExpireOffered moves every offer made before cutoff to expired and
	// returns how many moved.
	ExpireOffered(ctx context.Context, cutoff, at time.Time) (int, error)
	// ListByStatus returns the oldest escalations first. A limit of zero
	// or less means DefaultListLimit.
	ListByStatus(ctx context.Context, personaID string, status Status, limit int) ([]Escalation, error)
}

// DefaultListLimit caps ListByStatus when the caller passes no limit.
const DefaultListLimit = 50
