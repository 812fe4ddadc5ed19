package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/loicricci/albee-poc-sub001/internal/audience"
	"github.com/loicricci/albee-poc-sub001/internal/canonical"
	"github.com/loicricci/albee-poc-sub001/internal/counters"
	"github.com/loicricci/albee-poc-sub001/internal/decisionlog"
	"github.com/loicricci/albee-poc-sub001/internal/escalation"
	"github.com/loicricci/albee-poc-sub001/internal/llm"
	"github.com/loicricci/albee-poc-sub001/internal/policy"
	"github.com/loicricci/albee-poc-sub001/internal/retrieval"
	"github.com/loicricci/albee-poc-sub001/internal/routing"
	"github.com/loicricci/albee-poc-sub001/internal/signals"
	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const persona = "chef-ana"

var fixedNow = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

// scriptedGenerator answers each message with a fixed draft and confidence.
// Unknown messages get a low-confidence draft.
type scriptedGenerator struct {
	mu      sync.Mutex
	answers map[string]float64
}

func (g *scriptedGenerator) Generate(_ context.Context, _, query string, _ []string) (signals.Generation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	conf, ok := g.answers[query]
	if !ok {
		conf = 0.3
	}
	return signals.Generation{Text: "draft: " + query, Confidence: &conf}, nil
}

type stubClarifier struct{ err error }

func (c stubClarifier) Clarify(context.Context, string, string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return "What would you like to cook today?", nil
}

type fixture struct {
	engine    *Engine
	manager   *escalation.Manager
	policies  *policy.MemoryStore
	counters  counters.Store
	answers   *canonical.MemoryStore
	records   *decisionlog.MemoryStore
	decisions *decisionlog.Logger
	generator *scriptedGenerator
}

type fixtureOptions struct {
	counters    counters.Store
	policies    policy.Reader
	escalations func(*escalation.Manager) Escalations
	answers     CanonicalAnswers
	signals     SignalComputer
	clarifier   Clarifier
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	f := &fixture{
		policies:  policy.NewMemoryStore(),
		counters:  counters.NewMemoryStore(),
		answers:   canonical.NewMemoryStore(),
		records:   decisionlog.NewMemoryStore(),
		generator: &scriptedGenerator{answers: map[string]float64{}},
	}
	if opts.counters != nil {
		f.counters = opts.counters
	}
	now := func() time.Time { return fixedNow }
	logger := logging.Discard()

	search := retrieval.NewService(retrieval.NewHashEmbedder(256), f.answers, retrieval.NewMemoryKnowledgeBase(), logger)
	f.manager = escalation.NewManager(escalation.Deps{
		Store:    escalation.NewMemoryStore(),
		Counters: f.counters,
		Policies: f.policies,
		Embedder: search,
		Answers:  f.answers,
		Logger:   logger,
		Now:      now,
	})
	f.decisions = decisionlog.NewLogger(f.records, decisionlog.Options{RetryDelay: time.Millisecond, Logger: logger})
	t.Cleanup(func() { _ = f.decisions.Close(context.Background()) })

	deps := Deps{
		Signals:     signals.NewComputer(search, f.generator, signals.WithLogger(logger)),
		Context:     audience.NewLoader(followerResolver(), f.counters, logger),
		Policies:    f.policies,
		Router:      routing.NewRouter(routing.DefaultConfig()),
		Clarifier:   stubClarifier{},
		Escalations: f.manager,
		Answers:     f.answers,
		Decisions:   f.decisions,
		Logger:      logger,
		Now:         now,
	}
	if opts.policies != nil {
		deps.Policies = opts.policies
	}
	if opts.escalations != nil {
		deps.Escalations = opts.escalations(f.manager)
	}
	if opts.answers != nil {
		deps.Answers = opts.answers
	}
	if opts.signals != nil {
		deps.Signals = opts.signals
	}
	if opts.clarifier != nil {
		deps.Clarifier = opts.clarifier
	}
	f.engine = NewEngine(deps)
	return f
}

func followerResolver() audience.Resolver {
	return audience.ResolverFunc(func(context.Context, string, string) (audience.Relationship, error) {
		return audience.Relationship{IsFollower: true}, nil
	})
}

func (f *fixture) putPolicy(t *testing.T, mutate func(*policy.Config)) {
	t.Helper()
	cfg := policy.DefaultConfig(persona)
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, f.policies.Put(context.Background(), cfg))
}

func (f *fixture) send(t *testing.T, user, message string) Response {
	t.Helper()
	resp, err := f.engine.HandleMessage(context.Background(), Request{
		PersonaID: persona, UserID: user, ConversationID: "conv-" + user, Message: message,
	})
	require.NoError(t, err)
	return resp
}

// flushedRecords drains the decision logger and returns what was stored.
func (f *fixture) flushedRecords(t *testing.T) []decisionlog.Record {
	t.Helper()
	require.NoError(t, f.decisions.Close(context.Background()))
	recs, err := f.records.List(context.Background(), decisionlog.Filter{PersonaID: persona})
	require.NoError(t, err)
	return recs
}

func TestExampleScenario(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.putPolicy(t, func(c *policy.Config) {
		c.MaxEscalationsPerDay = 2
		c.ConfidenceThreshold = 0.75
		c.EscalationsEnabled = true
		c.BlockedTopics = []string{"medical advice"}
	})
	f.generator.answers["How do I keep pasta from sticking together?"] = 0.80
	f.generator.answers["Hi"] = 0.1

	resp := f.send(t, "u1", "What's your opinion on medical advice for X?")
	assert.Equal(t, routing.PathRefuse, resp.Path)
	assert.Contains(t, resp.Reason, "blocked topic")

	resp = f.send(t, "u1", "Hi")
	assert.Equal(t, routing.PathClarify, resp.Path)
	assert.Equal(t, "What would you like to cook today?", resp.Text)

	resp = f.send(t, "u1", "How do I keep pasta from sticking together?")
	assert.Equal(t, routing.PathAutoAnswer, resp.Path)
	assert.Equal(t, "draft: How do I keep pasta from sticking together?", resp.Text)

	questions := []string{
		"Which smoker brand do you personally use at home?",
		"What was the hardest dish you ever cooked on television?",
	}
	for _, q := range questions {
		offered := f.send(t, "u1", q)
		require.Equal(t, routing.PathOfferEscalation, offered.Path, q)
		require.NotEmpty(t, offered.EscalationID)

		queued, err := f.engine.AcceptEscalation(context.Background(), "u1", offered.EscalationID)
		require.NoError(t, err)
		require.Equal(t, routing.PathQueueEscalation, queued.Path)
	}

	resp = f.send(t, "u1", "Would you ever open a restaurant in Lisbon one day?")
	assert.Equal(t, routing.PathRefuse, resp.Path)
	assert.Equal(t, routing.TriggerDailyLimit, resp.Trigger)
	assert.Contains(t, resp.Reason, "daily limit")

	recs := f.flushedRecords(t)
	byPath := map[routing.Path]int{}
	for _, r := range recs {
		byPath[r.Path]++
	}
	assert.Equal(t, map[routing.Path]int{
		routing.PathRefuse:          2,
		routing.PathClarify:         1,
		routing.PathAutoAnswer:      1,
		routing.PathOfferEscalation: 2,
		routing.PathQueueEscalation: 2,
	}, byPath)
}

func TestRoundTripServesCanonicalAnswer(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.putPolicy(t, nil)
	question := "What wood do you smoke brisket with?"

	offered := f.send(t, "u1", question)
	require.Equal(t, routing.PathOfferEscalation, offered.Path)
	_, err := f.engine.AcceptEscalation(context.Background(), "u1", offered.EscalationID)
	require.NoError(t, err)
	_, ans, err := f.manager.Answer(context.Background(), offered.EscalationID, "Post oak, always.")
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		resp := f.send(t, "u2", question)
		require.Equal(t, routing.PathCanonical, resp.Path, "low confidence must not beat a canonical hit")
		assert.Equal(t, "Post oak, always.", resp.Text)
		assert.Equal(t, ans.ID, resp.CanonicalAnswerID)
		assert.GreaterOrEqual(t, resp.Signals.Similarity, 0.92)

		stored, err := f.answers.Get(context.Background(), ans.ID)
		require.NoError(t, err)
		assert.EqualValues(t, i, stored.TimesReused)
	}
}

func TestAcceptAfterBudgetRanOutRefuses(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.putPolicy(t, func(c *policy.Config) { c.MaxEscalationsPerDay = 1 })

	first := f.send(t, "u1", "Can you share your grandmother's secret sauce?")
	second := f.send(t, "u1", "What knife do you sharpen every morning?")
	require.Equal(t, routing.PathOfferEscalation, first.Path)
	require.Equal(t, routing.PathOfferEscalation, second.Path)

	resp, err := f.engine.AcceptEscalation(context.Background(), "u1", first.EscalationID)
	require.NoError(t, err)
	assert.Equal(t, routing.PathQueueEscalation, resp.Path)

	resp, err = f.engine.AcceptEscalation(context.Background(), "u1", second.EscalationID)
	require.NoError(t, err)
	assert.Equal(t, routing.PathRefuse, resp.Path)
	assert.Equal(t, routing.TriggerLimitAtAccept, resp.Trigger)

	declined, err := f.manager.Get(context.Background(), second.EscalationID)
	require.NoError(t, err)
	assert.Equal(t, escalation.StatusDeclined, declined.Status)
}

func TestConcurrentAcceptsRespectBudget(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.putPolicy(t, func(c *policy.Config) {
		c.MaxEscalationsPerDay = 4
		c.MaxEscalationsPerWeek = 10
	})

	ids := make([]string, 5)
	for i := range ids {
		resp := f.send(t, "u1", "Question number "+string(rune('A'+i))+" about fermentation timing?")
		require.Equal(t, routing.PathOfferEscalation, resp.Path)
		ids[i] = resp.EscalationID
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		paths = map[routing.Path]int{}
	)
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.engine.AcceptEscalation(context.Background(), "u1", id)
			if err != nil {
				t.Errorf("accept %s: %v", id, err)
				return
			}
			mu.Lock()
			paths[resp.Path]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, paths[routing.PathQueueEscalation])
	assert.Equal(t, 1, paths[routing.PathRefuse])
	usage, err := f.counters.Usage(context.Background(), persona, "u1", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 4, usage.Today)
}

func TestAcceptIsIdempotentAndLoggedOnce(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.putPolicy(t, nil)
	offered := f.send(t, "u1", "How long do you proof sourdough overnight?")

	for range 3 {
		resp, err := f.engine.AcceptEscalation(context.Background(), "u1", offered.EscalationID)
		require.NoError(t, err)
		assert.Equal(t, routing.PathQueueEscalation, resp.Path)
	}

	usage, err := f.counters.Usage(context.Background(), persona, "u1", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, usage.Today)

	queued := 0
	for _, r := range f.flushedRecords(t) {
		if r.Path == routing.PathQueueEscalation {
			queued++
			assert.Equal(t, offered.EscalationID, r.EscalationID)
			assert.Nil(t, r.Snapshot)
		}
	}
	assert.Equal(t, 1, queued)
}

func TestConcurrentAcceptsOfSameOfferLogOnce(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.putPolicy(t, nil)
	offered := f.send(t, "u1", "What hydration do you use for ciabatta?")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.engine.AcceptEscalation(context.Background(), "u1", offered.EscalationID)
			if assert.NoError(t, err) {
				assert.Equal(t, routing.PathQueueEscalation, resp.Path)
			}
		}()
	}
	wg.Wait()

	queued := 0
	for _, r := range f.flushedRecords(t) {
		if r.Path == routing.PathQueueEscalation {
			queued++
		}
	}
	assert.Equal(t, 1, queued)
	usage, err := f.counters.Usage(context.Background(), persona, "u1", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, usage.Today)
}

type brokenCharges struct{ counters.Store }

func (brokenCharges) TryIncrement(context.Context, string, string, time.Time, ...counters.Limit) (bool, error) {
	return false, errors.New("redis: i/o timeout")
}

func TestAcceptWithUnavailableBudgetRefuses(t *testing.T) {
	f := newFixture(t, fixtureOptions{counters: brokenCharges{counters.NewMemoryStore()}})
	f.putPolicy(t, nil)
	offered := f.send(t, "u1", "Could you teach me your croissant lamination?")
	require.Equal(t, routing.PathOfferEscalation, offered.Path)

	resp, err := f.engine.AcceptEscalation(context.Background(), "u1", offered.EscalationID)
	require.NoError(t, err)
	assert.Equal(t, routing.PathRefuse, resp.Path)
	assert.Equal(t, routing.TriggerBudgetUnavailable, resp.Trigger)
	assert.Equal(t, "escalation budget unavailable", resp.Reason)

	e, err := f.manager.Get(context.Background(), offered.EscalationID)
	require.NoError(t, err)
	assert.Equal(t, escalation.StatusOffered, e.Status, "claim is reverted so the user can retry")
}

func TestAcceptAndDeclineCheckOwnership(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.putPolicy(t, nil)
	offered := f.send(t, "u1", "Do you ever cook with duck fat at home?")

	_, err := f.engine.AcceptEscalation(context.Background(), "intruder", offered.EscalationID)
	require.ErrorIs(t, err, ErrNotYourEscalation)
	_, err = f.engine.DeclineEscalation(context.Background(), "intruder", offered.EscalationID, "")
	require.ErrorIs(t, err, ErrNotYourEscalation)

	_, err = f.engine.AcceptEscalation(context.Background(), "u1", "missing")
	require.ErrorIs(t, err, escalation.ErrNotFound)

	declined, err := f.engine.DeclineEscalation(context.Background(), "u1", offered.EscalationID, "")
	require.NoError(t, err)
	assert.Equal(t, escalation.StatusDeclined, declined.Status)
	require.NotNil(t, declined.DeclineReason)
	assert.Equal(t, "declined by user", *declined.DeclineReason)

	_, err = f.engine.AcceptEscalation(context.Background(), "u1", offered.EscalationID)
	require.ErrorIs(t, err, escalation.ErrClosed)
}

type failingOffers struct{ *escalation.Manager }

func (failingOffers) Offer(context.Context, escalation.OfferRequest) (escalation.Escalation, error) {
	return escalation.Escalation{}, errors.New("postgres: too many connections")
}

func TestOfferFailureRefuses(t *testing.T) {
	f := newFixture(t, fixtureOptions{
		escalations: func(m *escalation.Manager) Escalations { return failingOffers{m} },
	})
	f.putPolicy(t, nil)

	resp := f.send(t, "u1", "What's the story behind your first restaurant?")
	assert.Equal(t, routing.PathRefuse, resp.Path)
	assert.Equal(t, routing.TriggerEscalationFailed, resp.Trigger)
	assert.Equal(t, "escalation unavailable", resp.Reason)
	assert.Empty(t, resp.EscalationID)

	recs := f.flushedRecords(t)
	require.Len(t, recs, 1)
	assert.Equal(t, routing.PathRefuse, recs[0].Path)
	require.NotNil(t, recs[0].Snapshot)
	assert.Equal(t, routing.PathOfferEscalation, recs[0].Snapshot.Decision.Path, "snapshot keeps the router's own decision")
}

type fixedSignals signals.Result

func (s fixedSignals) Compute(context.Context, string, string) signals.Result {
	return signals.Result(s)
}

type missingAnswers struct{}

func (missingAnswers) RecordReuse(context.Context, string) (canonical.Answer, error) {
	return canonical.Answer{}, canonical.ErrNotFound
}

func TestCanonicalFailureReroutes(t *testing.T) {
	f := newFixture(t, fixtureOptions{
		answers: missingAnswers{},
		signals: fixedSignals{
			Signals:             signals.Signals{Similarity: 0.95, Novelty: 0.05, Complexity: 0.4, Confidence: 0.9},
			CanonicalSimilarity: 0.95,
			CanonicalAnswerID:   "gone",
			Draft:               "fresh draft",
			Tokens:              9,
		},
	})
	f.putPolicy(t, nil)

	resp := f.send(t, "u1", "How do you make a stable hollandaise sauce?")
	assert.Equal(t, routing.PathAutoAnswer, resp.Path)
	assert.Equal(t, "fresh draft", resp.Text)
	assert.Contains(t, resp.Reason, "canonical answer unavailable")
}

type brokenPolicies struct{}

func (brokenPolicies) Get(context.Context, string) (policy.Config, error) {
	return policy.Config{}, errors.New("redis: connection refused")
}

func TestPolicyFailureFallsBackToDefaults(t *testing.T) {
	f := newFixture(t, fixtureOptions{policies: brokenPolicies{}})
	f.generator.answers["Is cast iron better than stainless for searing steak?"] = 0.9

	resp := f.send(t, "u1", "Is cast iron better than stainless for searing steak?")
	assert.Equal(t, routing.PathAutoAnswer, resp.Path)

	recs := f.flushedRecords(t)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].Snapshot)
	assert.Equal(t, policy.DefaultConfig(persona), recs[0].Snapshot.Input.Policy)
}

func TestClarifierFailureUsesDefaultQuestion(t *testing.T) {
	f := newFixture(t, fixtureOptions{clarifier: stubClarifier{err: errors.New("bedrock: throttled")}})
	f.putPolicy(t, nil)

	resp := f.send(t, "u1", "Hello")
	assert.Equal(t, routing.PathClarify, resp.Path)
	assert.Equal(t, llm.DefaultClarifyingQuestion, resp.Text)
}

func TestHandleMessageValidates(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	_, err := f.engine.HandleMessage(context.Background(), Request{PersonaID: persona, UserID: "u1"})
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = f.engine.AcceptEscalation(context.Background(), "", "x")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRecordedDecisionsReplayWithoutDivergence(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.putPolicy(t, func(c *policy.Config) { c.BlockedTopics = []string{"politics"} })
	f.generator.answers["How long should I rest a roast chicken?"] = 0.95

	f.send(t, "u1", "Tell me about politics in your kitchen")
	f.send(t, "u1", "Hey")
	f.send(t, "u1", "How long should I rest a roast chicken?")
	f.send(t, "u1", "Which cookbook changed your career the most?")

	report := decisionlog.Replay(routing.NewRouter(routing.DefaultConfig()), f.flushedRecords(t))
	assert.Equal(t, 4, report.Replayed)
	assert.Empty(t, report.Divergences)
}
