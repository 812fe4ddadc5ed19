package bootstrap

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/loicricci/albee-poc-sub001/internal/audience"
	"github.com/loicricci/albee-poc-sub001/internal/canonical"
	appconfig "github.com/loicricci/albee-poc-sub001/internal/config"
	"github.com/loicricci/albee-poc-sub001/internal/decisionlog"
	"github.com/loicricci/albee-poc-sub001/internal/escalation"
	"github.com/loicricci/albee-poc-sub001/internal/llm"
	"github.com/loicricci/albee-poc-sub001/internal/observability/metrics"
	"github.com/loicricci/albee-poc-sub001/internal/orchestrator"
	"github.com/loicricci/albee-poc-sub001/internal/policy"
	"github.com/loicricci/albee-poc-sub001/internal/retrieval"
	"github.com/loicricci/albee-poc-sub001/internal/routing"
	"github.com/loicricci/albee-poc-sub001/internal/signals"
	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

// Infra holds the shared connections. Pool and Redis may be nil in local
// runs; the builders fall back to in-process stores.
type Infra struct {
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	AWS      aws.Config
	Registry prometheus.Registerer
}

// Services is the assembled engine and everything the HTTP surface needs.
type Services struct {
	Engine        *orchestrator.Engine
	Escalations   *escalation.Manager
	Retrieval     *retrieval.Service
	Policies      *policy.CachedStore
	Router        *routing.Router
	DecisionStore decisionlog.Store
	Decisions     *decisionlog.Logger
	Archiver      *decisionlog.Archiver
	Metrics       *metrics.DecisionMetrics
}

// Close drains escalation notifications and the decision log.
func (s *Services) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.Escalations != nil {
		errs = append(errs, s.Escalations.Close(ctx))
	}
	if s.Decisions != nil {
		errs = append(errs, s.Decisions.Close(ctx))
	}
	return errors.Join(errs...)
}

// BuildServices wires every component of the engine from config.
func BuildServices(ctx context.Context, cfg *appconfig.Config, infra Infra, logger *logging.Logger) (*Services, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	m := metrics.NewDecisionMetrics(infra.Registry)

	counterStore, err := BuildCounterStore(cfg, infra.Pool, infra.Redis, infra.AWS)
	if err != nil {
		return nil, err
	}
	policies := BuildPolicyStore(cfg, infra.Redis, logger)
	if path := strings.TrimSpace(cfg.PolicySeedFile); path != "" {
		n, err := policy.Seed(ctx, policies, path)
		if err != nil {
			return nil, err
		}
		logger.Info("persona policies seeded", "count", n, "file", path)
	}

	var (
		answers       canonical.Store
		knowledge     retrieval.KnowledgeBase
		escalations   escalation.Store
		decisionStore decisionlog.Store
	)
	if infra.Pool != nil {
		answers = canonical.NewPGStore(infra.Pool)
		knowledge = retrieval.NewPGKnowledgeBase(infra.Pool)
		escalations = escalation.NewPGStore(infra.Pool)
		decisionStore = decisionlog.NewPGStore(infra.Pool)
	} else {
		logger.Warn("postgres unavailable; answers, escalations and decisions are kept in memory")
		answers = canonical.NewMemoryStore()
		knowledge = retrieval.NewMemoryKnowledgeBase()
		escalations = escalation.NewMemoryStore()
		decisionStore = decisionlog.NewMemoryStore()
	}

	search := retrieval.NewService(BuildEmbedder(cfg, infra.AWS, logger), answers, knowledge, logger)

	client, model, err := BuildLLMClient(ctx, cfg, infra.AWS, logger)
	if err != nil {
		return nil, err
	}

	manager := escalation.NewManager(escalation.Deps{
		Store:    escalations,
		Counters: counterStore,
		Policies: policies,
		Embedder: search,
		Answers:  answers,
		Notifier: BuildNotifier(cfg, infra.AWS, policies, logger),
		Metrics:  m,
		Logger:   logger,
		OfferTTL: cfg.EscalationOfferTTL,
	})

	router := routing.NewRouter(routing.Config{
		CanonicalThreshold: cfg.CanonicalThreshold,
		ClarifyMinTokens:   cfg.ClarifyMinTokens,
	})

	decisions := decisionlog.NewLogger(decisionStore, decisionlog.Options{
		Buffer:     cfg.DecisionLogBuffer,
		RetryDelay: cfg.DecisionLogRetryDelay,
		Metrics:    m,
		Logger:     logger,
	})

	var archiveClient decisionlog.S3API
	if cfg.DecisionArchiveBucket != "" {
		archiveClient = s3.NewFromConfig(infra.AWS)
	}

	engine := orchestrator.NewEngine(orchestrator.Deps{
		Signals: signals.NewComputer(search, llm.NewGenerator(client, model),
			signals.WithTimeout(cfg.ExternalCallTimeout),
			signals.WithTopK(cfg.RetrievalTopK),
			signals.WithMetrics(m),
			signals.WithLogger(logger),
		),
		Context:     audience.NewLoader(buildResolver(infra.Redis), counterStore, logger),
		Policies:    policies,
		Router:      router,
		Clarifier:   llm.NewClarifier(client, model),
		Escalations: manager,
		Answers:     answers,
		Decisions:   decisions,
		Metrics:     m,
		Logger:      logger,
	})

	return &Services{
		Engine:        engine,
		Escalations:   manager,
		Retrieval:     search,
		Policies:      policies,
		Router:        router,
		DecisionStore: decisionStore,
		Decisions:     decisions,
		Archiver:      decisionlog.NewArchiver(decisionStore, archiveClient, cfg.DecisionArchiveBucket, logger),
		Metrics:       m,
	}, nil
}

// buildResolver reads relationships from Redis. Without Redis every user is
// treated as a free, non-following user.
func buildResolver(client *redis.Client) audience.Resolver {
	if client != nil {
		return audience.NewRedisResolver(client)
	}
	return audience.ResolverFunc(func(context.Context, string, string) (audience.Relationship, error) {
		return audience.Relationship{}, nil
	})
}
