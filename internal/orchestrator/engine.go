// Package orchestrator is the engine that turns one inbound user message
// into one of six responses, and settles the user's reply to an escalation
// offer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/loicricci/albee-poc-sub001/internal/audience"
	"github.com/loicricci/albee-poc-sub001/internal/canonical"
	"github.com/loicricci/albee-poc-sub001/internal/decisionlog"
	"github.com/loicricci/albee-poc-sub001/internal/escalation"
	"github.com/loicricci/albee-poc-sub001/internal/llm"
	"github.com/loicricci/albee-poc-sub001/internal/observability/metrics"
	"github.com/loicricci/albee-poc-sub001/internal/policy"
	"github.com/loicricci/albee-poc-sub001/internal/routing"
	"github.com/loicricci/albee-poc-sub001/internal/signals"
	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

var tracer = otel.Tracer("orchestrator/engine")

var (
	// ErrInvalidRequest is returned for requests missing a required field.
	ErrInvalidRequest = errors.New("orchestrator: invalid request")
	// ErrNotYourEscalation is returned when a user replies to another user's offer.
	ErrNotYourEscalation = errors.New("orchestrator: escalation belongs to another user")
)

// SignalComputer turns a message into routing signals.
type SignalComputer interface {
	Compute(ctx context.Context, personaID, message string) signals.Result
}

// ContextLoader derives the requester's audience context.
type ContextLoader interface {
	Load(ctx context.Context, personaID, userID string, now time.Time) (audience.Context, error)
}

// Clarifier writes a clarifying question for a vague message.
type Clarifier interface {
	Clarify(ctx context.Context, personaID, message string) (string, error)
}

// Escalations is the part of the escalation lifecycle the engine drives.
type Escalations interface {
	Get(ctx context.Context, id string) (escalation.Escalation, error)
	Offer(ctx context.Context, req escalation.OfferRequest) (escalation.Escalation, error)
	TryAccept(ctx context.Context, id string) (escalation.Escalation, bool, error)
	Decline(ctx context.Context, id, reason string) (escalation.Escalation, error)
}

// CanonicalAnswers serves approved answers for path C.
type CanonicalAnswers interface {
	RecordReuse(ctx context.Context, id string) (canonical.Answer, error)
}

// DecisionLogger records every decision.
type DecisionLogger interface {
	Log(ctx context.Context, rec decisionlog.Record) decisionlog.Record
}

// Request is one inbound user message.
type Request struct {
	PersonaID      string `json:"persona_id"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.PersonaID) == "":
		return fmt.Errorf("%w: persona_id is required", ErrInvalidRequest)
	case strings.TrimSpace(r.UserID) == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	case strings.TrimSpace(r.Message) == "":
		return fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	return nil
}

// Response is what the chat transport shows the user.
type Response struct {
	DecisionID        string          `json:"decision_id,omitempty"`
	Path              routing.Path    `json:"path"`
	PathName          string          `json:"path_name"`
	Trigger           routing.Trigger `json:"trigger"`
	Reason            string          `json:"reason"`
	Text              string          `json:"text"`
	EscalationID      string          `json:"escalation_id,omitempty"`
	CanonicalAnswerID string          `json:"canonical_answer_id,omitempty"`
	Signals           signals.Signals `json:"signals"`
}

// Deps are the Engine's collaborators. Clarifier, Metrics and Logger are optional.
type Deps struct {
	Signals     SignalComputer
	Context     ContextLoader
	Policies    policy.Reader
	Router      *routing.Router
	Clarifier   Clarifier
	Escalations Escalations
	Answers     CanonicalAnswers
	Decisions   DecisionLogger
	Metrics     *metrics.DecisionMetrics
	Logger      *logging.Logger
	Now         func() time.Time
}

// Engine runs the decision pipeline: signals, then policy and audience
// context in parallel, then the router, then the chosen action, then the
// decision log.
type Engine struct {
	signals     SignalComputer
	context     ContextLoader
	policies    policy.Reader
	router      *routing.Router
	clarifier   Clarifier
	escalations Escalations
	answers     CanonicalAnswers
	decisions   DecisionLogger
	metrics     *metrics.DecisionMetrics
	logger      *logging.Logger
	now         func() time.Time
}

func NewEngine(d Deps) *Engine {
	switch {
	case d.Signals == nil:
		panic("orchestrator: signal computer cannot be nil")
	case d.Context == nil:
		panic("orchestrator: context loader cannot be nil")
	case d.Policies == nil:
		panic("orchestrator: policy reader cannot be nil")
	case d.Escalations == nil:
		panic("orchestrator: escalations cannot be nil")
	case d.Answers == nil:
		panic("orchestrator: canonical answers cannot be nil")
	case d.Decisions == nil:
		panic("orchestrator: decision logger cannot be nil")
	}
	if d.Router == nil {
		d.Router = routing.NewRouter(routing.DefaultConfig())
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Engine{
		signals:     d.Signals,
		context:     d.Context,
		policies:    d.Policies,
		router:      d.Router,
		clarifier:   d.Clarifier,
		escalations: d.Escalations,
		answers:     d.Answers,
		decisions:   d.Decisions,
		metrics:     d.Metrics,
		logger:      d.Logger,
		now:         d.Now,
	}
}

// outcome is an executed decision.
type outcome struct {
	decision          routing.Decision
	text              string
	escalationID      string
	canonicalAnswerID string
}

// HandleMessage decides how to respond to req and performs the action.
// External failures degrade the decision instead of failing the call.
func (e *Engine) HandleMessage(ctx context.Context, req Request) (Response, error) {
	if err := req.validate(); err != nil {
		return Response{}, err
	}
	start := e.now()
	ctx, span := tracer.Start(ctx, "orchestrator.handle_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("persona.id", req.PersonaID),
		attribute.String("conversation.id", req.ConversationID),
	)

	result := e.signals.Compute(ctx, req.PersonaID, req.Message)

	var (
		cfg         policy.Config
		audienceCtx audience.Context
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := e.policies.Get(gctx, req.PersonaID)
		if err != nil {
			e.logger.Warn("orchestrator: policy unavailable, using defaults", "persona_id", req.PersonaID, "error", err)
			c = policy.DefaultConfig(req.PersonaID)
		}
		cfg = c
		return nil
	})
	g.Go(func() error {
		a, err := e.context.Load(gctx, req.PersonaID, req.UserID, start)
		if err != nil {
			return err
		}
		audienceCtx = a
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return Response{}, fmt.Errorf("orchestrator: load context: %w", err)
	}

	in := routing.Input{
		Signals:             result.Signals,
		CanonicalSimilarity: result.CanonicalSimilarity,
		Tokens:              result.Tokens,
		Message:             req.Message,
		Policy:              cfg,
		Context:             audienceCtx,
	}
	decision := e.router.Decide(in)

	out, err := e.execute(ctx, req, result, in, decision)
	if err != nil {
		span.RecordError(err)
		return Response{}, err
	}

	rec := e.decisions.Log(ctx, decisionlog.Record{
		PersonaID:         req.PersonaID,
		UserID:            req.UserID,
		ConversationID:    req.ConversationID,
		Path:              out.decision.Path,
		Trigger:           out.decision.Trigger,
		Signals:           result.Signals,
		Confidence:        result.Signals.Confidence,
		Reason:            out.decision.Reason,
		EscalationID:      out.escalationID,
		CanonicalAnswerID: out.canonicalAnswerID,
		Snapshot:          &routing.Snapshot{Input: in, Decision: decision},
	})

	e.metrics.ObserveDecision(string(out.decision.Path), string(out.decision.Trigger), e.now().Sub(start).Seconds())
	e.metrics.ObserveConfidence(result.Signals.Confidence)
	span.SetAttributes(
		attribute.String("routing.path", string(out.decision.Path)),
		attribute.String("routing.trigger", string(out.decision.Trigger)),
		attribute.Float64("signals.confidence", result.Signals.Confidence),
	)

	return Response{
		DecisionID:        rec.ID,
		Path:              out.decision.Path,
		PathName:          out.decision.Path.Name(),
		Trigger:           out.decision.Trigger,
		Reason:            out.decision.Reason,
		Text:              out.text,
		EscalationID:      out.escalationID,
		CanonicalAnswerID: out.canonicalAnswerID,
		Signals:           result.Signals,
	}, nil
}

// execute performs the action for decision. A failed canonical lookup
// re-routes without the canonical match; a failed offer becomes a refusal.
func (e *Engine) execute(ctx context.Context, req Request, result signals.Result, in routing.Input, decision routing.Decision) (outcome, error) {
	if !decision.Path.Valid() {
		return outcome{}, fmt.Errorf("orchestrator: router returned unknown path %q", decision.Path)
	}
	switch decision.Path {
	case routing.PathAutoAnswer:
		return outcome{decision: decision, text: result.Draft}, nil

	case routing.PathClarify:
		return outcome{decision: decision, text: e.clarify(ctx, req)}, nil

	case routing.PathCanonical:
		ans, err := e.answers.RecordReuse(ctx, result.CanonicalAnswerID)
		if err != nil {
			e.logger.Warn("orchestrator: canonical answer unavailable, re-routing",
				"persona_id", req.PersonaID, "canonical_answer_id", result.CanonicalAnswerID, "error", err)
			in.CanonicalSimilarity = 0
			rerouted := e.router.Decide(in)
			rerouted.Reason = "canonical answer unavailable; " + rerouted.Reason
			return e.execute(ctx, req, result, in, rerouted)
		}
		return outcome{decision: decision, text: ans.AnswerText, canonicalAnswerID: ans.ID}, nil

	case routing.PathOfferEscalation:
		esc, err := e.escalations.Offer(ctx, escalation.OfferRequest{
			PersonaID:      req.PersonaID,
			UserID:         req.UserID,
			ConversationID: req.ConversationID,
			Question:       req.Message,
			ContextSummary: contextSummary(result),
		})
		if err != nil {
			e.logger.Error("orchestrator: escalation offer failed", "persona_id", req.PersonaID, "error", err)
			refused := routing.Decision{Path: routing.PathRefuse, Trigger: routing.TriggerEscalationFailed, Reason: "escalation unavailable"}
			return outcome{decision: refused, text: refusalText(refused.Trigger)}, nil
		}
		return outcome{decision: decision, text: offerText, escalationID: esc.ID}, nil

	case routing.PathRefuse:
		return outcome{decision: decision, text: refusalText(decision.Trigger)}, nil

	case routing.PathQueueEscalation:
		return outcome{}, fmt.Errorf("orchestrator: path %s is only reachable by accepting an offer", decision.Path)

	default:
		return outcome{}, fmt.Errorf("orchestrator: unhandled path %q", decision.Path)
	}
}

func (e *Engine) clarify(ctx context.Context, req Request) string {
	if e.clarifier == nil {
		return llm.DefaultClarifyingQuestion
	}
	q, err := e.clarifier.Clarify(ctx, req.PersonaID, req.Message)
	if err != nil || strings.TrimSpace(q) == "" {
		e.logger.Warn("orchestrator: clarifier failed, using default question", "persona_id", req.PersonaID, "error", err)
		e.metrics.ObserveExternalFailure("clarifier")
		return llm.DefaultClarifyingQuestion
	}
	return q
}

const maxSummaryRunes = 500

// contextSummary gives the owner the draft the persona would have sent.
func contextSummary(result signals.Result) string {
	draft := strings.TrimSpace(result.Draft)
	if draft == "" {
		return fmt.Sprintf("No draft answer (similarity %.2f, confidence %.2f).",
			result.Signals.Similarity, result.Signals.Confidence)
	}
	if r := []rune(draft); len(r) > maxSummaryRunes {
		draft = string(r[:maxSummaryRunes]) + "..."
	}
	return fmt.Sprintf("Draft answer (confidence %.2f): %s", result.Signals.Confidence, draft)
}

// AcceptEscalation settles the user's yes to an offer. A charge that fits
// the budget yields path E; a budget that ran out or cannot be read yields
// path F. Accepting an already accepted escalation is not logged again,
// including when a concurrent accept claimed it first.
func (e *Engine) AcceptEscalation(ctx context.Context, userID, escalationID string) (Response, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(escalationID) == "" {
		return Response{}, fmt.Errorf("%w: user_id and escalation_id are required", ErrInvalidRequest)
	}
	start := e.now()
	ctx, span := tracer.Start(ctx, "orchestrator.accept_escalation")
	defer span.End()
	span.SetAttributes(attribute.String("escalation.id", escalationID))

	esc, err := e.owned(ctx, userID, escalationID)
	if err != nil {
		return Response{}, err
	}
	if esc.Status == escalation.StatusAccepted || esc.Status == escalation.StatusAnswered {
		return queuedResponse(esc), nil
	}

	current, claimed, err := e.escalations.TryAccept(ctx, escalationID)
	if err == nil && !claimed {
		return queuedResponse(current), nil
	}
	var decision routing.Decision
	switch {
	case err == nil:
		decision = routing.Decision{Path: routing.PathQueueEscalation, Trigger: routing.TriggerEscalationAccepted, Reason: "escalation accepted"}
	case errors.Is(err, escalation.ErrLimitReached):
		decision = routing.Decision{Path: routing.PathRefuse, Trigger: routing.TriggerLimitAtAccept, Reason: escalation.LimitReachedReason}
	case errors.Is(err, escalation.ErrBudgetUnavailable):
		e.logger.Error("orchestrator: escalation budget unavailable at accept", "escalation_id", escalationID, "error", err)
		decision = routing.Decision{Path: routing.PathRefuse, Trigger: routing.TriggerBudgetUnavailable, Reason: "escalation budget unavailable"}
	default:
		span.RecordError(err)
		return Response{}, fmt.Errorf("orchestrator: accept: %w", err)
	}

	rec := e.decisions.Log(ctx, decisionlog.Record{
		PersonaID:      esc.PersonaID,
		UserID:         esc.UserID,
		ConversationID: esc.ConversationID,
		Path:           decision.Path,
		Trigger:        decision.Trigger,
		Reason:         decision.Reason,
		EscalationID:   esc.ID,
	})
	e.metrics.ObserveDecision(string(decision.Path), string(decision.Trigger), e.now().Sub(start).Seconds())
	span.SetAttributes(attribute.String("routing.path", string(decision.Path)))

	resp := Response{
		DecisionID:   rec.ID,
		Path:         decision.Path,
		PathName:     decision.Path.Name(),
		Trigger:      decision.Trigger,
		Reason:       decision.Reason,
		EscalationID: esc.ID,
	}
	if decision.Path == routing.PathQueueEscalation {
		resp.Text = queuedText
	} else {
		resp.Text = refusalText(decision.Trigger)
	}
	return resp, nil
}

// DeclineEscalation records the user's no to an offer.
func (e *Engine) DeclineEscalation(ctx context.Context, userID, escalationID, reason string) (escalation.Escalation, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(escalationID) == "" {
		return escalation.Escalation{}, fmt.Errorf("%w: user_id and escalation_id are required", ErrInvalidRequest)
	}
	if _, err := e.owned(ctx, userID, escalationID); err != nil {
		return escalation.Escalation{}, err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "declined by user"
	}
	return e.escalations.Decline(ctx, escalationID, reason)
}

func (e *Engine) owned(ctx context.Context, userID, escalationID string) (escalation.Escalation, error) {
	esc, err := e.escalations.Get(ctx, escalationID)
	if err != nil {
		return escalation.Escalation{}, err
	}
	if esc.UserID != userID {
		return escalation.Escalation{}, ErrNotYourEscalation
	}
	return esc, nil
}

func queuedResponse(esc escalation.Escalation) Response {
	resp := Response{
		Path:         routing.PathQueueEscalation,
		PathName:     routing.PathQueueEscalation.Name(),
		Trigger:      routing.TriggerEscalationAccepted,
		Reason:       "escalation already " + string(esc.Status),
		Text:         queuedText,
		EscalationID: esc.ID,
	}
	if esc.Status == escalation.StatusAnswered && esc.AnswerText != nil {
		resp.Text = *esc.AnswerText
	}
	return resp
}
