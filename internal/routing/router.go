package routing

import (
	"fmt"
	"strings"

	"github.com/loicricci/albee-poc-sub001/internal/audience"
	"github.com/loicricci/albee-poc-sub001/internal/policy"
	"github.com/loicricci/albee-poc-sub001/internal/signals"
)

// Trigger identifies the rule that produced a decision. It is a stable,
// low-cardinality label; Reason carries the human-readable detail.
type Trigger string

const (
	TriggerTierNotAllowed      Trigger = "tier_not_allowed"
	TriggerBlockedTopic        Trigger = "blocked_topic"
	TriggerEscalationsDisabled Trigger = "escalations_disabled"
	TriggerBudgetUnavailable   Trigger = "budget_unavailable"
	TriggerDailyLimit          Trigger = "daily_limit"
	TriggerWeeklyLimit         Trigger = "weekly_limit"
	TriggerCanonicalMatch      Trigger = "canonical_match"
	TriggerTooVague            Trigger = "too_vague"
	TriggerConfident           Trigger = "confident"
	TriggerLowConfidence       Trigger = "low_confidence"
	TriggerEscalationAccepted  Trigger = "escalation_accepted"
	TriggerLimitAtAccept       Trigger = "limit_at_accept"
	TriggerEscalationFailed    Trigger = "escalation_unavailable"
)

// Decision is the router output.
type Decision struct {
	Path    Path    `json:"path"`
	Trigger Trigger `json:"trigger"`
	Reason  string  `json:"reason"`
}

// Input is everything a decision depends on. Decide is a pure function of it.
type Input struct {
	Signals signals.Signals `json:"signals"`
	// CanonicalSimilarity is the best match within approved answers only.
	CanonicalSimilarity float64          `json:"canonical_similarity"`
	Tokens              int              `json:"tokens"`
	Message             string           `json:"message"`
	Policy              policy.Config    `json:"policy"`
	Context             audience.Context `json:"context"`
}

// Config holds the tunable constants.
type Config struct {
	CanonicalThreshold   float64
	ClarifyMaxComplexity float64
	ClarifyMaxSimilarity float64
	ClarifyMinTokens     int
}

// DefaultConfig returns the production constants.
func DefaultConfig() Config {
	return Config{
		CanonicalThreshold:   0.92,
		ClarifyMaxComplexity: 0.25,
		ClarifyMaxSimilarity: 0.4,
		ClarifyMinTokens:     4,
	}
}

// Router evaluates the rules. It holds no mutable state.
type Router struct {
	cfg Config
}

func NewRouter(cfg Config) *Router {
	def := DefaultConfig()
	if cfg.CanonicalThreshold <= 0 {
		cfg.CanonicalThreshold = def.CanonicalThreshold
	}
	if cfg.ClarifyMaxComplexity <= 0 {
		cfg.ClarifyMaxComplexity = def.ClarifyMaxComplexity
	}
	if cfg.ClarifyMaxSimilarity <= 0 {
		cfg.ClarifyMaxSimilarity = def.ClarifyMaxSimilarity
	}
	if cfg.ClarifyMinTokens <= 0 {
		cfg.ClarifyMinTokens = def.ClarifyMinTokens
	}
	return &Router{cfg: cfg}
}

// Decide applies the rules in priority order; the first match wins:
//
//  1. F: hard gates (tier, blocked topic) and, when the message would
//     otherwise be escalated, escalation availability and budget
//  2. C: a near-exact approved answer
//  3. B: too vague to answer
//  4. A: confident draft
//  5. D: everything else
//
// E is never produced here; it only results from accepting an offer.
func (r *Router) Decide(in Input) Decision {
	p, ctx, s := in.Policy, in.Context, in.Signals

	canonical := in.CanonicalSimilarity >= r.cfg.CanonicalThreshold
	clarify := p.ClarificationEnabled &&
		s.Complexity < r.cfg.ClarifyMaxComplexity &&
		in.Tokens < r.cfg.ClarifyMinTokens &&
		s.Similarity < r.cfg.ClarifyMaxSimilarity
	confident := s.Confidence >= p.ConfidenceThreshold
	wouldEscalate := !canonical && !clarify && !confident

	if !p.AllowsTier(ctx.Tier) {
		return refuse(TriggerTierNotAllowed, fmt.Sprintf("audience tier %q not allowed", ctx.Tier))
	}
	if topic, ok := MatchBlockedTopic(in.Message, p.BlockedTopics); ok {
		return refuse(TriggerBlockedTopic, fmt.Sprintf("blocked topic %q", topic))
	}
	if wouldEscalate {
		switch {
		case !p.EscalationsEnabled:
			return refuse(TriggerEscalationsDisabled, "escalations disabled and confidence below threshold")
		case ctx.CountersUnavailable:
			return refuse(TriggerBudgetUnavailable, "escalation budget unavailable")
		case ctx.EscalationsUsedToday >= p.MaxEscalationsPerDay:
			return refuse(TriggerDailyLimit, fmt.Sprintf("daily limit reached (%d/%d)",
				ctx.EscalationsUsedToday, p.MaxEscalationsPerDay))
		case ctx.EscalationsUsedThisWeek >= p.MaxEscalationsPerWeek:
			return refuse(TriggerWeeklyLimit, fmt.Sprintf("weekly limit reached (%d/%d)",
				ctx.EscalationsUsedThisWeek, p.MaxEscalationsPerWeek))
		}
	}

	switch {
	case canonical:
		return Decision{Path: PathCanonical, Trigger: TriggerCanonicalMatch,
			Reason: fmt.Sprintf("canonical similarity %.2f >= %.2f", in.CanonicalSimilarity, r.cfg.CanonicalThreshold)}
	case clarify:
		return Decision{Path: PathClarify, Trigger: TriggerTooVague,
			Reason: fmt.Sprintf("message too vague (complexity %.2f, %d tokens, similarity %.2f)",
				s.Complexity, in.Tokens, s.Similarity)}
	case confident:
		return Decision{Path: PathAutoAnswer, Trigger: TriggerConfident,
			Reason: fmt.Sprintf("confidence %.2f >= threshold %.2f", s.Confidence, p.ConfidenceThreshold)}
	default:
		return Decision{Path: PathOfferEscalation, Trigger: TriggerLowConfidence,
			Reason: fmt.Sprintf("confidence %.2f below threshold %.2f", s.Confidence, p.ConfidenceThreshold)}
	}
}

func refuse(trigger Trigger, reason string) Decision {
	return Decision{Path: PathRefuse, Trigger: trigger, Reason: reason}
}

// MatchBlockedTopic reports the first blocked topic that appears in message.
// Matching is case-insensitive and aligned to word boundaries, so "medical
// advice" matches "Medical-advice?" but "ass" does not match "class".
func MatchBlockedTopic(message string, topics []string) (string, bool) {
	text := " " + signals.NormalizeText(message) + " "
	for _, topic := range topics {
		needle := signals.NormalizeText(topic)
		if needle == "" {
			continue
		}
		if strings.Contains(text, " "+needle+" ") {
			return topic, true
		}
	}
	return "", false
}

// Snapshot pairs a router input with the decision it produced so the
// decision can be re-derived later.
type Snapshot struct {
	Input    Input    `json:"input"`
	Decision Decision `json:"decision"`
}
