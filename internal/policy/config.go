// Package policy holds the per-persona owner policy that gates routing
// decisions, together with its durable stores and the bounded read cache.
package policy

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"
)

// Tier is a coarse classification of the requesting user.
type Tier string

const (
	TierFree     Tier = "free"
	TierFollower Tier = "follower"
	TierPaid     Tier = "paid"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierFollower, TierPaid:
		return true
	}
	return false
}

// Confidence threshold bounds accepted at write time.
const (
	MinConfidenceThreshold = 0.5
	MaxConfidenceThreshold = 0.95
)

// ErrInvalidConfig is returned when a policy write would violate an invariant.
var ErrInvalidConfig = errors.New("policy: invalid config")

// Config is the persona owner's routing policy.
type Config struct {
	PersonaID             string   `json:"persona_id" yaml:"persona_id"`
	MaxEscalationsPerDay  int      `json:"max_escalations_per_day" yaml:"max_escalations_per_day"`
	MaxEscalationsPerWeek int      `json:"max_escalations_per_week" yaml:"max_escalations_per_week"`
	EscalationsEnabled    bool     `json:"escalations_enabled" yaml:"escalations_enabled"`
	ConfidenceThreshold   float64  `json:"confidence_threshold" yaml:"confidence_threshold"`
	ClarificationEnabled  bool     `json:"clarification_enabled" yaml:"clarification_enabled"`
	AllowedAudienceTiers  []Tier   `json:"allowed_audience_tiers" yaml:"allowed_audience_tiers"`
	BlockedTopics         []string `json:"blocked_topics,omitempty" yaml:"blocked_topics"`

	// OwnerEmail receives accepted-escalation notifications. Optional.
	OwnerEmail string `json:"owner_email,omitempty" yaml:"owner_email"`
}

// DefaultConfig is served for personas whose owner has not saved a policy yet.
func DefaultConfig(personaID string) Config {
	return Config{
		PersonaID:             personaID,
		MaxEscalationsPerDay:  3,
		MaxEscalationsPerWeek: 10,
		EscalationsEnabled:    true,
		ConfidenceThreshold:   0.75,
		ClarificationEnabled:  true,
		AllowedAudienceTiers:  []Tier{TierFree, TierFollower, TierPaid},
	}
}

// AllowsTier reports whether users of tier t may talk to the persona.
func (c Config) AllowsTier(t Tier) bool {
	return slices.Contains(c.AllowedAudienceTiers, t)
}

// Validate checks the invariants enforced on every write.
func (c Config) Validate() error {
	if strings.TrimSpace(c.PersonaID) == "" {
		return fmt.Errorf("%w: persona_id is required", ErrInvalidConfig)
	}
	if c.ConfidenceThreshold < MinConfidenceThreshold || c.ConfidenceThreshold > MaxConfidenceThreshold {
		return fmt.Errorf("%w: confidence_threshold %.2f outside [%.2f, %.2f]",
			ErrInvalidConfig, c.ConfidenceThreshold, MinConfidenceThreshold, MaxConfidenceThreshold)
	}
	if c.MaxEscalationsPerDay < 0 {
		return fmt.Errorf("%w: max_escalations_per_day must be >= 0", ErrInvalidConfig)
	}
	if c.MaxEscalationsPerWeek < 0 {
		return fmt.Errorf("%w: max_escalations_per_week must be >= 0", ErrInvalidConfig)
	}
	if c.MaxEscalationsPerWeek < c.MaxEscalationsPerDay {
		return fmt.Errorf("%w: max_escalations_per_week (%d) below max_escalations_per_day (%d)",
			ErrInvalidConfig, c.MaxEscalationsPerWeek, c.MaxEscalationsPerDay)
	}
	for _, t := range c.AllowedAudienceTiers {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown audience tier %q", ErrInvalidConfig, t)
		}
	}
	for _, topic := range c.BlockedTopics {
		if strings.TrimSpace(topic) == "" {
			return fmt.Errorf("%w: blocked_topics contains an empty entry", ErrInvalidConfig)
		}
		// Matching ignores everything but letters and digits, so a topic
		// without either would match every message.
		if strings.IndexFunc(topic, isWordRune) < 0 {
			return fmt.Errorf("%w: blocked topic %q has no letters or digits", ErrInvalidConfig, topic)
		}
	}
	return nil
}

// Normalize deduplicates the set-valued fields and trims topics. It is
// applied before every write so stored policies compare cleanly.
func (c Config) Normalize() Config {
	out := c
	out.PersonaID = strings.TrimSpace(c.PersonaID)

	tiers := make([]Tier, 0, len(c.AllowedAudienceTiers))
	for _, t := range c.AllowedAudienceTiers {
		t = Tier(strings.ToLower(strings.TrimSpace(string(t))))
		if !slices.Contains(tiers, t) {
			tiers = append(tiers, t)
		}
	}
	out.AllowedAudienceTiers = tiers

	var topics []string
	for _, topic := range c.BlockedTopics {
		topic = strings.TrimSpace(topic)
		if !slices.ContainsFunc(topics, func(existing string) bool { return strings.EqualFold(existing, topic) }) {
			topics = append(topics, topic)
		}
	}
	out.BlockedTopics = topics
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
