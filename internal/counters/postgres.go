package counters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

type counterDB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// The conditional DO UPDATE takes the row lock and re-checks the count under
// it, so concurrent transactions serialize on the row. An empty RETURNING
// means the period is exhausted.
const incrementSQL = `
INSERT INTO escalation_counters (persona_id, user_id, period_key, count, updated_at)
VALUES ($1, $2, $3, 1, now())
ON CONFLICT (persona_id, user_id, period_key)
DO UPDATE SET count = escalation_counters.count + 1, updated_at = now()
WHERE escalation_counters.count < $4
RETURNING count`

const usageSQL = `
SELECT period_key, count FROM escalation_counters
WHERE persona_id = $1 AND user_id = $2 AND period_key = ANY($3)`

// PostgresStore keeps counters in the escalation_counters table. All periods
// are charged in one transaction.
type PostgresStore struct {
	db counterDB
}

// NewPostgresStore accepts a *pgxpool.Pool or any compatible handle.
func NewPostgresStore(db counterDB) *PostgresStore {
	if db == nil {
		panic("counters: db cannot be nil")
	}
	return &PostgresStore{db: db}
}

func pgPeriodKey(p Period, at time.Time) string {
	return string(p) + ":" + PeriodKey(p, at)
}

func (s *PostgresStore) TryIncrement(ctx context.Context, personaID, userID string, at time.Time, limits ...Limit) (bool, error) {
	if !validLimits(limits) {
		return false, nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("counters: begin: %w", err)
	}
	for _, l := range limits {
		var count int
		err := tx.QueryRow(ctx, incrementSQL, personaID, userID, pgPeriodKey(l.Period, at), l.Max).Scan(&count)
		if errors.Is(err, pgx.ErrNoRows) {
			_ = tx.Rollback(ctx)
			return false, nil
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return false, fmt.Errorf("counters: increment %s: %w", l.Period, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("counters: commit: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) Usage(ctx context.Context, personaID, userID string, at time.Time) (Usage, error) {
	dayKey, weekKey := pgPeriodKey(Day, at), pgPeriodKey(Week, at)
	rows, err := s.db.Query(ctx, usageSQL, personaID, userID, []string{dayKey, weekKey})
	if err != nil {
		return Usage{}, fmt.Errorf("counters: usage: %w", err)
	}
	defer rows.Close()

	var u Usage
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return Usage{}, fmt.Errorf("counters: scan usage: %w", err)
		}
		switch key {
		case dayKey:
			u.Today = count
		case weekKey:
			u.ThisWeek = count
		}
	}
	if err := rows.Err(); err != nil {
		return Usage{}, fmt.Errorf("counters: usage rows: %w", err)
	}
	return u, nil
}
