package escalation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/loicricci/albee-poc-sub001/internal/canonical"
	"github.com/loicricci/albee-poc-sub001/internal/counters"
	"github.com/loicricci/albee-poc-sub001/internal/observability/metrics"
	"github.com/loicricci/albee-poc-sub001/internal/policy"
	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

var tracer = otel.Tracer("orchestrator/escalation")

const notifyTimeout = 5 * time.Second

// Notifier is told about lifecycle changes. Calls run in the background;
// errors are logged and never change the outcome of the operation.
type Notifier interface {
	EscalationOffered(ctx context.Context, e Escalation) error
	EscalationAccepted(ctx context.Context, e Escalation) error
	EscalationAnswered(ctx context.Context, e Escalation, answer canonical.Answer) error
}

// Embedder embeds one question for the canonical store.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// AnswerCreator is the part of the canonical store the manager writes to.
type AnswerCreator interface {
	Create(ctx context.Context, a canonical.Answer) (canonical.Answer, error)
}

// OfferRequest describes a new escalation offer.
type OfferRequest struct {
	PersonaID      string
	UserID         string
	ConversationID string
	Question       string
	ContextSummary string
}

// Manager runs the escalation lifecycle. It is the only component that
// charges escalation counters.
type Manager struct {
	store    Store
	counters counters.Store
	policies policy.Reader
	embedder Embedder
	answers  AnswerCreator
	notifier Notifier
	offerTTL time.Duration
	metrics  *metrics.DecisionMetrics
	logger   *logging.Logger
	now      func() time.Time

	notifications sync.WaitGroup
}

// Deps are the Manager's collaborators. Notifier and Metrics are optional.
type Deps struct {
	Store    Store
	Counters counters.Store
	Policies policy.Reader
	Embedder Embedder
	Answers  AnswerCreator
	Notifier Notifier
	Metrics  *metrics.DecisionMetrics
	Logger   *logging.Logger
	// OfferTTL bounds how long an offer can be accepted. Zero disables the
	// check at accept time.
	OfferTTL time.Duration
	Now      func() time.Time
}

func NewManager(d Deps) *Manager {
	switch {
	case d.Store == nil:
		panic("escalation: store cannot be nil")
	case d.Counters == nil:
		panic("escalation: counter store cannot be nil")
	case d.Policies == nil:
		panic("escalation: policy reader cannot be nil")
	case d.Embedder == nil:
		panic("escalation: embedder cannot be nil")
	case d.Answers == nil:
		panic("escalation: canonical store cannot be nil")
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Manager{
		store:    d.Store,
		counters: d.Counters,
		policies: d.Policies,
		embedder: d.Embedder,
		answers:  d.Answers,
		notifier: d.Notifier,
		offerTTL: d.OfferTTL,
		metrics:  d.Metrics,
		logger:   d.Logger,
		now:      d.Now,
	}
}

// Get returns an escalation by id.
func (m *Manager) Get(ctx context.Context, id string) (Escalation, error) {
	return m.store.Get(ctx, id)
}

// Offer records a new escalation in the offered state. No counter changes.
func (m *Manager) Offer(ctx context.Context, req OfferRequest) (Escalation, error) {
	ctx, span := tracer.Start(ctx, "escalation.offer")
	defer span.End()
	span.SetAttributes(attribute.String("persona.id", req.PersonaID))

	if strings.TrimSpace(req.PersonaID) == "" || strings.TrimSpace(req.UserID) == "" {
		return Escalation{}, fmt.Errorf("%w: persona and user are required", ErrInvalidOffer)
	}
	e := Escalation{
		ID:             uuid.NewString(),
		PersonaID:      req.PersonaID,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Status:         StatusOffered,
		Question:       req.Question,
		ContextSummary: req.ContextSummary,
		OfferedAt:      m.now().UTC(),
	}
	if err := m.store.Create(ctx, e); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return Escalation{}, fmt.Errorf("escalation: offer: %w", err)
	}
	m.metrics.ObserveEscalation(string(StatusOffered))
	m.logger.Info("escalation offered", "escalation_id", e.ID, "persona_id", e.PersonaID, "user_id", e.UserID)
	m.notify(ctx, "offered", e.ID, func(ctx context.Context, n Notifier) error {
		return n.EscalationOffered(ctx, e)
	})
	return e, nil
}

// Accept claims an offered escalation and charges the day and week counters.
// Accepting an accepted or answered escalation returns it unchanged.
// On a budget that ran out since the offer the escalation is declined and
// ErrLimitReached returned. On a counter store failure the claim is undone.
func (m *Manager) Accept(ctx context.Context, id string) (Escalation, error) {
	e, _, err := m.TryAccept(ctx, id)
	return e, err
}

// TryAccept is Accept that also reports whether this call claimed the
// offer. A false claim with a nil error means another call accepted it
// first, or it was already accepted or answered.
func (m *Manager) TryAccept(ctx context.Context, id string) (Escalation, bool, error) {
	ctx, span := tracer.Start(ctx, "escalation.accept")
	defer span.End()
	span.SetAttributes(attribute.String("escalation.id", id))

	e, err := m.store.Get(ctx, id)
	if err != nil {
		return Escalation{}, false, err
	}
	if done, err := settledForAccept(e); done {
		return e, false, err
	}

	now := m.now().UTC()
	if m.offerTTL > 0 && now.Sub(e.OfferedAt) > m.offerTTL {
		expired, ok, err := m.store.Transition(ctx, id, StatusOffered, StatusExpired, Change{At: now})
		if err != nil {
			return Escalation{}, false, fmt.Errorf("escalation: expire stale offer: %w", err)
		}
		if ok {
			m.metrics.ObserveEscalation(string(StatusExpired))
		}
		_, err = settledForAccept(expired)
		return expired, false, err
	}

	claimed, ok, err := m.store.Transition(ctx, id, StatusOffered, StatusAccepted, Change{At: now})
	if err != nil {
		return Escalation{}, false, fmt.Errorf("escalation: claim: %w", err)
	}
	if !ok {
		_, err := settledForAccept(claimed)
		return claimed, false, err
	}

	// The claim is ours. Finish the charge even if the caller goes away so a
	// claimed escalation is never left half-accepted.
	ctx = context.WithoutCancel(ctx)

	cfg, err := m.policies.Get(ctx, e.PersonaID)
	if err != nil {
		m.logger.Warn("escalation: policy unavailable at accept, using defaults", "persona_id", e.PersonaID, "error", err)
		cfg = policy.DefaultConfig(e.PersonaID)
	}

	granted, err := m.counters.TryIncrement(ctx, e.PersonaID, e.UserID, now,
		counters.DayAndWeek(cfg.MaxEscalationsPerDay, cfg.MaxEscalationsPerWeek)...)
	if err != nil {
		m.metrics.ObserveCounterCharge("error")
		span.RecordError(err)
		reverted, _, rerr := m.store.Transition(ctx, id, StatusAccepted, StatusOffered, Change{})
		if rerr != nil {
			m.logger.Error("escalation: revert claim failed", "escalation_id", id, "error", rerr)
			reverted = claimed
		}
		return reverted, true, fmt.Errorf("%w: %w", ErrBudgetUnavailable, err)
	}
	if !granted {
		m.metrics.ObserveCounterCharge("rejected")
		declined, _, derr := m.store.Transition(ctx, id, StatusAccepted, StatusDeclined,
			Change{At: now, DeclineReason: LimitReachedReason})
		if derr != nil {
			return claimed, true, fmt.Errorf("escalation: decline after limit: %w", derr)
		}
		m.metrics.ObserveEscalation(string(StatusDeclined))
		m.logger.Info("escalation declined at accept", "escalation_id", id, "reason", LimitReachedReason)
		return declined, true, ErrLimitReached
	}

	m.metrics.ObserveCounterCharge("granted")
	m.metrics.ObserveEscalation(string(StatusAccepted))
	m.logger.Info("escalation accepted", "escalation_id", id, "persona_id", e.PersonaID, "user_id", e.UserID)
	m.notify(ctx, "accepted", id, func(ctx context.Context, n Notifier) error {
		return n.EscalationAccepted(ctx, claimed)
	})
	return claimed, true, nil
}

// settledForAccept reports whether e is past the offered state, with the
// error Accept returns for it.
func settledForAccept(e Escalation) (bool, error) {
	switch e.Status {
	case StatusOffered:
		return false, nil
	case StatusAccepted, StatusAnswered:
		return true, nil
	default:
		return true, ErrClosed
	}
}

// Decline is the user's refusal of an offer. Declining twice is a no-op.
func (m *Manager) Decline(ctx context.Context, id, reason string) (Escalation, error) {
	e, ok, err := m.store.Transition(ctx, id, StatusOffered, StatusDeclined,
		Change{At: m.now().UTC(), DeclineReason: reason})
	if err != nil {
		return Escalation{}, err
	}
	if ok {
		m.metrics.ObserveEscalation(string(StatusDeclined))
		return e, nil
	}
	switch e.Status {
	case StatusDeclined:
		return e, nil
	case StatusExpired:
		return e, ErrClosed
	default:
		return e, ErrNotOffered
	}
}

// Answer records the owner's reply and publishes it as a canonical answer.
// The question is embedded before any state changes.
func (m *Manager) Answer(ctx context.Context, id, answerText string) (Escalation, canonical.Answer, error) {
	ctx, span := tracer.Start(ctx, "escalation.answer")
	defer span.End()
	span.SetAttributes(attribute.String("escalation.id", id))

	answerText = strings.TrimSpace(answerText)
	if answerText == "" {
		return Escalation{}, canonical.Answer{}, ErrEmptyAnswer
	}
	e, err := m.store.Get(ctx, id)
	if err != nil {
		return Escalation{}, canonical.Answer{}, err
	}
	if e.Status != StatusAccepted {
		return e, canonical.Answer{}, ErrNotAccepted
	}

	vec, err := m.embedder.Embed(ctx, e.Question)
	if err != nil {
		span.RecordError(err)
		return e, canonical.Answer{}, fmt.Errorf("escalation: embed question: %w", err)
	}

	now := m.now().UTC()
	answered, ok, err := m.store.Transition(ctx, id, StatusAccepted, StatusAnswered, Change{At: now, AnswerText: answerText})
	if err != nil {
		return e, canonical.Answer{}, fmt.Errorf("escalation: mark answered: %w", err)
	}
	if !ok {
		return answered, canonical.Answer{}, ErrNotAccepted
	}

	source := id
	ans, err := m.answers.Create(ctx, canonical.Answer{
		PersonaID:          e.PersonaID,
		Question:           e.Question,
		QuestionEmbedding:  vec,
		AnswerText:         answerText,
		SourceEscalationID: &source,
		CreatedAt:          now,
	})
	if err != nil {
		// Put it back so the owner can retry.
		acceptedAt := now
		if e.AcceptedAt != nil {
			acceptedAt = *e.AcceptedAt
		}
		if _, _, rerr := m.store.Transition(context.WithoutCancel(ctx), id, StatusAnswered, StatusAccepted, Change{At: acceptedAt}); rerr != nil {
			m.logger.Error("escalation: revert answer failed", "escalation_id", id, "error", rerr)
		}
		return e, canonical.Answer{}, fmt.Errorf("escalation: create canonical answer: %w", err)
	}

	m.metrics.ObserveEscalation(string(StatusAnswered))
	m.logger.Info("escalation answered", "escalation_id", id, "canonical_answer_id", ans.ID)
	m.notify(ctx, "answered", id, func(ctx context.Context, n Notifier) error {
		return n.EscalationAnswered(ctx, answered, ans)
	})
	return answered, ans, nil
}

// Expire moves offers older than olderThan to expired. Counters are not
// touched: offers were never charged.
func (m *Manager) Expire(ctx context.Context, olderThan time.Duration) (int, error) {
	now := m.now().UTC()
	n, err := m.store.ExpireOffered(ctx, now.Add(-olderThan), now)
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		m.metrics.ObserveEscalation(string(StatusExpired))
	}
	if n > 0 {
		m.logger.Info("escalations expired", "count", n, "older_than", olderThan.String())
	}
	return n, nil
}

// ListPending returns accepted escalations waiting for the owner, oldest
// first.
func (m *Manager) ListPending(ctx context.Context, personaID string, limit int) ([]Escalation, error) {
	return m.store.ListByStatus(ctx, personaID, StatusAccepted, limit)
}

// notify runs fn in the background on a context detached from the request
// and bounded by notifyTimeout.
func (m *Manager) notify(ctx context.Context, event, id string, fn func(context.Context, Notifier) error) {
	if m.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	m.notifications.Add(1)
	go func() {
		defer m.notifications.Done()
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		if err := fn(ctx, m.notifier); err != nil {
			m.logger.Warn("escalation: notify failed", "event", event, "escalation_id", id, "error", err)
		}
	}()
}

// Close waits for in-flight notifications or for ctx to end.
func (m *Manager) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.notifications.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
