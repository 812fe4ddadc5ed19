package signals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loicricci/albee-poc-sub001/internal/retrieval"
	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

type fakeRetriever struct {
	candidates []retrieval.Candidate
	err        error
	block      bool
	gotPools   []retrieval.Pool
	gotTopK    int
}

func (f *fakeRetriever) Search(ctx context.Context, _ string, _ string, pools []retrieval.Pool, topK int) ([]retrieval.Candidate, error) {
	f.gotPools, f.gotTopK = pools, topK
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.candidates, f.err
}

type fakeGenerator struct {
	gen         Generation
	err         error
	gotPassages []string
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, _ string, passages []string) (Generation, error) {
	f.gotPassages = passages
	return f.gen, f.err
}

func ptr(v float64) *float64 { return &v }

func newComputer(r Retriever, g Generator, opts ...Option) *Computer {
	return NewComputer(r, g, append([]Option{WithLogger(logging.Discard())}, opts...)...)
}

func TestComputeUsesBestScoreAcrossPools(t *testing.T) {
	r := &fakeRetriever{candidates: []retrieval.Candidate{
		{Pool: retrieval.PoolKnowledgeBase, ID: "kb1", Text: "passage one", Score: 0.61},
		{Pool: retrieval.PoolCanonical, ID: "ca1", Text: "approved", Score: 0.55},
		{Pool: retrieval.PoolKnowledgeBase, ID: "kb2", Text: "passage two", Score: 1.3},
	}}
	g := &fakeGenerator{gen: Generation{Text: "draft", Confidence: ptr(0.7)}}

	res := newComputer(r, g, WithTopK(3)).Compute(context.Background(), "p1", "What are your opening hours?")

	assert.Equal(t, 1.0, res.Signals.Similarity, "scores are clamped to 1")
	assert.Equal(t, 0.0, res.Signals.Novelty)
	assert.Equal(t, 0.7, res.Signals.Confidence)
	assert.Equal(t, 0.55, res.CanonicalSimilarity)
	assert.Equal(t, "ca1", res.CanonicalAnswerID)
	assert.Equal(t, "draft", res.Draft)
	assert.Equal(t, []string{"passage one", "passage two"}, g.gotPassages)
	assert.Equal(t, []retrieval.Pool{retrieval.PoolCanonical, retrieval.PoolKnowledgeBase}, r.gotPools)
	assert.Equal(t, 3, r.gotTopK)
	assert.Equal(t, 5, res.Tokens)
}

func TestComputeConfidenceFallsBackToSimilarity(t *testing.T) {
	r := &fakeRetriever{candidates: []retrieval.Candidate{{Pool: retrieval.PoolKnowledgeBase, Score: 0.42}}}
	g := &fakeGenerator{gen: Generation{Text: "draft"}}

	res := newComputer(r, g).Compute(context.Background(), "p1", "hours?")
	assert.Equal(t, 0.42, res.Signals.Confidence)
}

func TestComputeScalesPercentConfidence(t *testing.T) {
	g := &fakeGenerator{gen: Generation{Text: "draft", Confidence: ptr(85)}}
	res := newComputer(&fakeRetriever{}, g).Compute(context.Background(), "p1", "hours?")
	assert.InDelta(t, 0.85, res.Signals.Confidence, 1e-9)
}

func TestComputeGenerationFailureZeroesConfidence(t *testing.T) {
	r := &fakeRetriever{candidates: []retrieval.Candidate{{Pool: retrieval.PoolKnowledgeBase, Score: 0.8}}}
	g := &fakeGenerator{err: errors.New("throttled")}

	res := newComputer(r, g).Compute(context.Background(), "p1", "hours?")
	assert.True(t, res.GenerationFailed)
	assert.Equal(t, 0.8, res.Signals.Similarity)
	assert.Equal(t, 0.0, res.Signals.Confidence)
	assert.Empty(t, res.Draft)
}

func TestComputeBothFailReturnsFallback(t *testing.T) {
	r := &fakeRetriever{err: errors.New("index offline")}
	g := &fakeGenerator{err: errors.New("model offline")}

	res := newComputer(r, g).Compute(context.Background(), "p1", "Hi")
	assert.Equal(t, Fallback(), res.Signals)
	assert.Equal(t, Signals{Similarity: 0, Novelty: 1, Complexity: 1, Confidence: 0}, res.Signals)
	assert.True(t, res.RetrievalFailed)
	assert.True(t, res.GenerationFailed)
}

func TestComputeBoundsSlowRetrieval(t *testing.T) {
	r := &fakeRetriever{block: true}
	g := &fakeGenerator{gen: Generation{Text: "draft", Confidence: ptr(0.9)}}

	start := time.Now()
	res := newComputer(r, g, WithTimeout(30*time.Millisecond)).Compute(context.Background(), "p1", "hours?")
	require.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, res.RetrievalFailed)
	assert.False(t, res.GenerationFailed)
	assert.Equal(t, 0.9, res.Signals.Confidence)
}

func TestScaleConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ScaleConfidence(-0.2))
	assert.Equal(t, 0.5, ScaleConfidence(0.5))
	assert.Equal(t, 0.5, ScaleConfidence(50))
	assert.Equal(t, 1.0, ScaleConfidence(250))
}
