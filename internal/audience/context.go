// Package audience resolves who is asking: the user's relationship to the
// persona and how much escalation budget they have used.
package audience

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loicricci/albee-poc-sub001/internal/counters"
	"github.com/loicricci/albee-poc-sub001/internal/policy"
	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

// Context is derived per request and never persisted.
type Context struct {
	IsFollower              bool        `json:"is_follower"`
	Tier                    policy.Tier `json:"tier"`
	EscalationsUsedToday    int         `json:"escalations_used_today"`
	EscalationsUsedThisWeek int         `json:"escalations_used_this_week"`
	// CountersUnavailable is set when the budget could not be read.
	CountersUnavailable bool `json:"counters_unavailable,omitempty"`
}

// Relationship is what the social graph knows about a user and a persona.
// An empty Tier means the graph has no paid/free classification.
type Relationship struct {
	IsFollower bool
	Tier       policy.Tier
}

// Resolver looks up the user's relationship to a persona.
type Resolver interface {
	Resolve(ctx context.Context, personaID, userID string) (Relationship, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, personaID, userID string) (Relationship, error)

func (f ResolverFunc) Resolve(ctx context.Context, personaID, userID string) (Relationship, error) {
	return f(ctx, personaID, userID)
}

// Loader builds a Context from the relationship resolver and the counter store.
type Loader struct {
	resolver Resolver
	counters counters.Store
	logger   *logging.Logger
}

func NewLoader(resolver Resolver, store counters.Store, logger *logging.Logger) *Loader {
	if resolver == nil {
		panic("audience: resolver cannot be nil")
	}
	if store == nil {
		panic("audience: counter store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Loader{resolver: resolver, counters: store, logger: logger}
}

// Load resolves the relationship and reads usage in parallel. Neither lookup
// failing aborts the request: an unknown relationship is treated as a free,
// non-following user and an unreadable budget sets CountersUnavailable.
func (l *Loader) Load(ctx context.Context, personaID, userID string, now time.Time) (Context, error) {
	var (
		rel   Relationship
		usage counters.Usage
		out   Context
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := l.resolver.Resolve(gctx, personaID, userID)
		if err != nil {
			l.logger.Warn("audience: relationship lookup failed, treating as free tier",
				"persona_id", personaID, "user_id", userID, "error", err)
			return nil
		}
		rel = r
		return nil
	})
	g.Go(func() error {
		u, err := l.counters.Usage(gctx, personaID, userID, now)
		if err != nil {
			l.logger.Warn("audience: escalation usage unavailable",
				"persona_id", personaID, "user_id", userID, "error", err)
			out.CountersUnavailable = true
			return nil
		}
		usage = u
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Context{}, err
	}

	out.IsFollower = rel.IsFollower
	out.Tier = tierFor(rel)
	out.EscalationsUsedToday = usage.Today
	out.EscalationsUsedThisWeek = usage.ThisWeek
	return out, nil
}

func tierFor(rel Relationship) policy.Tier {
	if rel.Tier.Valid() {
		return rel.Tier
	}
	if rel.IsFollower {
		return policy.TierFollower
	}
	return policy.TierFree
}
