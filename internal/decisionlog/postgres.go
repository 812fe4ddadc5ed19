package decisionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/loicricci/albee-poc-sub001/internal/routing"
)

type recordDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStore appends records to decision_records. Signals and the replay
// snapshot are stored as jsonb.
type PGStore struct {
	db recordDB
}

func NewPGStore(db recordDB) *PGStore {
	if db == nil {
		panic("decisionlog: db cannot be nil")
	}
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, rec Record) error {
	sig, err := json.Marshal(rec.Signals)
	if err != nil {
		return fmt.Errorf("decisionlog: marshal signals: %w", err)
	}
	var snapshot []byte
	if rec.Snapshot != nil {
		if snapshot, err = json.Marshal(rec.Snapshot); err != nil {
			return fmt.Errorf("decisionlog: marshal snapshot: %w", err)
		}
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO decision_records
			(id, persona_id, user_id, conversation_id, path, trigger, signals, confidence, reason,
			 escalation_id, canonical_answer_id, snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''), $12, $13)`,
		rec.ID, rec.PersonaID, rec.UserID, rec.ConversationID, string(rec.Path), string(rec.Trigger),
		sig, rec.Confidence, rec.Reason, rec.EscalationID, rec.CanonicalAnswerID, snapshot, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("decisionlog: append: %w", err)
	}
	return nil
}

func (s *PGStore) List(ctx context.Context, f Filter) ([]Record, error) {
	limit := f.Limit
	if limit <= 0 || limit > 10000 {
		limit = 10000
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, persona_id, user_id, conversation_id, path, trigger, signals, confidence, reason,
			COALESCE(escalation_id, ''), COALESCE(canonical_answer_id, ''), snapshot, created_at
		FROM decision_records
		WHERE persona_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at
		LIMIT $4`, f.PersonaID, f.From, f.To, limit)
	if err != nil {
		return nil, fmt.Errorf("decisionlog: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var path, trigger string
		var sig, snapshot []byte
		if err := rows.Scan(&r.ID, &r.PersonaID, &r.UserID, &r.ConversationID, &path, &trigger, &sig,
			&r.Confidence, &r.Reason, &r.EscalationID, &r.CanonicalAnswerID, &snapshot, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("decisionlog: scan: %w", err)
		}
		r.Path, r.Trigger = routing.Path(path), routing.Trigger(trigger)
		if err := json.Unmarshal(sig, &r.Signals); err != nil {
			return nil, fmt.Errorf("decisionlog: decode signals: %w", err)
		}
		if len(snapshot) > 0 {
			r.Snapshot = &routing.Snapshot{}
			if err := json.Unmarshal(snapshot, r.Snapshot); err != nil {
				return nil, fmt.Errorf("decisionlog: decode snapshot: %w", err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("decisionlog: list rows: %w", err)
	}
	return out, nil
}

func (s *PGStore) Summarize(ctx context.Context, personaID string, from, to time.Time) (Summary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT path, count(*), COALESCE(sum(confidence), 0)
		FROM decision_records
		WHERE persona_id = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY path`, personaID, from, to)
	if err != nil {
		return Summary{}, fmt.Errorf("decisionlog: summarize: %w", err)
	}
	defer rows.Close()

	counts := make(map[routing.Path]int)
	var confidence float64
	for rows.Next() {
		var path string
		var n int64
		var sum float64
		if err := rows.Scan(&path, &n, &sum); err != nil {
			return Summary{}, fmt.Errorf("decisionlog: scan summary: %w", err)
		}
		p, err := routing.ParsePath(path)
		if err != nil {
			return Summary{}, fmt.Errorf("decisionlog: summarize: %w", err)
		}
		counts[p] = int(n)
		confidence += sum
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("decisionlog: summary rows: %w", err)
	}
	return newSummary(personaID, from, to, counts, confidence), nil
}
