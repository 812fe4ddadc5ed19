package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type escalationDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const escalationColumns = `id, persona_id, user_id, conversation_id, status, question, context_summary,
	offered_at, accepted_at, responded_at, answer_text, decline_reason`

// PGStore keeps escalations in Postgres. Transitions are single conditional
// UPDATEs, so concurrent callers racing on the same row get exactly one
// winner.
type PGStore struct {
	db escalationDB
}

func NewPGStore(db escalationDB) *PGStore {
	if db == nil {
		panic("escalation: db cannot be nil")
	}
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, e Escalation) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO escalations (id, persona_id, user_id, conversation_id, status, question, context_summary, offered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.PersonaID, e.UserID, e.ConversationID, string(e.Status), e.Question, e.ContextSummary, e.OfferedAt)
	if err != nil {
		return fmt.Errorf("escalation: insert: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id string) (Escalation, error) {
	e, err := scanEscalation(s.db.QueryRow(ctx, `SELECT `+escalationColumns+` FROM escalations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Escalation{}, ErrNotFound
	}
	if err != nil {
		return Escalation{}, fmt.Errorf("escalation: get: %w", err)
	}
	return e, nil
}

// transitionSet returns the SET clause for moving into to, and the extra
// arguments it references after $1 id, $2 from, $3 to.
func transitionSet(to Status, c Change) (string, []any, error) {
	switch to {
	case StatusOffered:
		return `accepted_at = NULL`, nil, nil
	case StatusAccepted:
		return `accepted_at = $4, responded_at = NULL, answer_text = NULL`, []any{c.At}, nil
	case StatusAnswered:
		return `responded_at = $4, answer_text = $5`, []any{c.At, c.AnswerText}, nil
	case StatusDeclined:
		return `responded_at = $4, decline_reason = COALESCE(NULLIF($5, ''), decline_reason)`, []any{c.At, c.DeclineReason}, nil
	case StatusExpired:
		return `responded_at = $4`, []any{c.At}, nil
	default:
		return "", nil, fmt.Errorf("escalation: unknown status %q", to)
	}
}

func (s *PGStore) Transition(ctx context.Context, id string, from, to Status, change Change) (Escalation, bool, error) {
	set, extra, err := transitionSet(to, change)
	if err != nil {
		return Escalation{}, false, err
	}
	args := append([]any{id, string(from), string(to)}, extra...)
	e, err := scanEscalation(s.db.QueryRow(ctx,
		`UPDATE escalations SET status = $3, `+set+` WHERE id = $1 AND status = $2 RETURNING `+escalationColumns,
		args...))
	if err == nil {
		return e, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Escalation{}, false, fmt.Errorf("escalation: transition %s->%s: %w", from, to, err)
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return Escalation{}, false, err
	}
	return current, false, nil
}

func (s *PGStore) ExpireOffered(ctx context.Context, cutoff, at time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE escalations SET status = 'expired', responded_at = $2
		WHERE status = 'offered' AND offered_at < $1`, cutoff, at)
	if err != nil {
		return 0, fmt.Errorf("escalation: expire: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) ListByStatus(ctx context.Context, personaID string, status Status, limit int) ([]Escalation, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.Query(ctx, `SELECT `+escalationColumns+` FROM escalations
		WHERE persona_id = $1 AND status = $2
		ORDER BY offered_at
		LIMIT $3`, personaID, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("escalation: list: %w", err)
	}
	defer rows.Close()

	var out []Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("escalation: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escalation: list rows: %w", err)
	}
	return out, nil
}

func scanEscalation(row pgx.Row) (Escalation, error) {
	var e Escalation
	var status string
	err := row.Scan(&e.ID, &e.PersonaID, &e.UserID, &e.ConversationID, &status, &e.Question, &e.ContextSummary,
		&e.OfferedAt, &e.AcceptedAt, &e.RespondedAt, &e.AnswerText, &e.DeclineReason)
	if err != nil {
		return Escalation{}, err
	}
	e.Status = Status(status)
	return e, nil
}
