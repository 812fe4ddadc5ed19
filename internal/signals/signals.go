// Package signals turns one inbound message plus retrieval and generation
// output into the scalar signals the router decides on.
package signals

import (
	"context"
	"time"

	"github.com/loicricci/albee-poc-sub001/internal/observability/metrics"
	"github.com/loicricci/albee-poc-sub001/internal/retrieval"
	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

// Signals are all in [0,1].
type Signals struct {
	Similarity float64 `json:"similarity"`
	Novelty    float64 `json:"novelty"`
	Complexity float64 `json:"complexity"`
	Confidence float64 `json:"confidence"`
}

// Fallback is used when neither retrieval nor generation answered. It can
// only route to clarification or an escalation offer.
func Fallback() Signals {
	return Signals{Similarity: 0, Novelty: 1, Complexity: 1, Confidence: 0}
}

// Generation is a draft answer. Confidence is nil when the model did not
// report one.
type Generation struct {
	Text       string
	Confidence *float64
}

// Retriever searches the candidate pools.
type Retriever interface {
	Search(ctx context.Context, personaID, query string, pools []retrieval.Pool, topK int) ([]retrieval.Candidate, error)
}

// Generator drafts an answer from retrieved passages.
type Generator interface {
	Generate(ctx context.Context, personaID, query string, passages []string) (Generation, error)
}

// Result is everything the engine needs after signal computation.
type Result struct {
	Signals Signals
	// CanonicalSimilarity is the best score within the canonical pool only.
	CanonicalSimilarity float64
	CanonicalAnswerID   string
	Draft               string
	Passages            []string
	Tokens              int
	RetrievalFailed     bool
	GenerationFailed    bool
}

const (
	defaultTimeout = 8 * time.Second
	defaultTopK    = 4
)

// Computer computes Signals. It never fails on external errors.
type Computer struct {
	retriever Retriever
	generator Generator
	timeout   time.Duration
	topK      int
	metrics   *metrics.DecisionMetrics
	logger    *logging.Logger
}

// Option configures a Computer.
type Option func(*Computer)

// WithTimeout bounds each external call.
func WithTimeout(d time.Duration) Option {
	return func(c *Computer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTopK sets how many candidates retrieval returns.
func WithTopK(k int) Option {
	return func(c *Computer) {
		if k > 0 {
			c.topK = k
		}
	}
}

func WithMetrics(m *metrics.DecisionMetrics) Option {
	return func(c *Computer) { c.metrics = m }
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Computer) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewComputer(retriever Retriever, generator Generator, opts ...Option) *Computer {
	if retriever == nil {
		panic("signals: retriever cannot be nil")
	}
	if generator == nil {
		panic("signals: generator cannot be nil")
	}
	c := &Computer{
		retriever: retriever,
		generator: generator,
		timeout:   defaultTimeout,
		topK:      defaultTopK,
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compute runs retrieval, then generation over the retrieved knowledge-base
// passages, each under its own timeout. Cancelling ctx cancels both calls.
func (c *Computer) Compute(ctx context.Context, personaID, message string) Result {
	res := Result{Tokens: TokenCount(message)}
	complexity := Complexity(message)

	candidates, err := c.search(ctx, personaID, message)
	if err != nil {
		res.RetrievalFailed = true
		c.metrics.ObserveExternalFailure("retrieval")
		c.logger.Warn("signals: retrieval failed", "persona_id", personaID, "error", err)
	}
	var similarity float64
	for _, cand := range candidates {
		score := Clamp01(cand.Score)
		similarity = max(similarity, score)
		switch cand.Pool {
		case retrieval.PoolCanonical:
			if score > res.CanonicalSimilarity || res.CanonicalAnswerID == "" {
				res.CanonicalSimilarity = score
				res.CanonicalAnswerID = cand.ID
			}
		case retrieval.PoolKnowledgeBase:
			res.Passages = append(res.Passages, cand.Text)
		}
	}

	gen, err := c.generate(ctx, personaID, message, res.Passages)
	if err != nil {
		res.GenerationFailed = true
		c.metrics.ObserveExternalFailure("generation")
		c.logger.Warn("signals: generation failed", "persona_id", personaID, "error", err)
	}

	if res.RetrievalFailed && res.GenerationFailed {
		res.Signals = Fallback()
		return res
	}

	var confidence float64
	switch {
	case res.GenerationFailed:
		confidence = 0
	case gen.Confidence == nil:
		confidence = similarity
	default:
		confidence = ScaleConfidence(*gen.Confidence)
	}
	res.Draft = gen.Text
	res.Signals = Signals{
		Similarity: similarity,
		Novelty:    1 - similarity,
		Complexity: complexity,
		Confidence: confidence,
	}
	return res
}

func (c *Computer) search(ctx context.Context, personaID, message string) ([]retrieval.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.retriever.Search(ctx, personaID, message,
		[]retrieval.Pool{retrieval.PoolCanonical, retrieval.PoolKnowledgeBase}, c.topK)
}

func (c *Computer) generate(ctx context.Context, personaID, message string, passages []string) (Generation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.generator.Generate(ctx, personaID, message, passages)
}

// ScaleConfidence maps a self-reported confidence into [0,1]. Values above 1
// are read as percentages.
func ScaleConfidence(v float64) float64 {
	if v > 1 {
		v /= 100
	}
	return Clamp01(v)
}

// Clamp01 bounds v to [0,1]; NaN maps to 0.
func Clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
