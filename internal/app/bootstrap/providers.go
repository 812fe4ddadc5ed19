package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/loicricci/albee-poc-sub001/internal/config"
	"github.com/loicricci/albee-poc-sub001/internal/counters"
	"github.com/loicricci/albee-poc-sub001/internal/escalation"
	"github.com/loicricci/albee-poc-sub001/internal/llm"
	"github.com/loicricci/albee-poc-sub001/internal/notify"
	"github.com/loicricci/albee-poc-sub001/internal/policy"
	"github.com/loicricci/albee-poc-sub001/internal/retrieval"
	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

// hashEmbeddingDims is used when no embedding model is configured.
const hashEmbeddingDims = 512

// ErrNoLLM is returned when neither Bedrock nor Gemini is configured.
var ErrNoLLM = errors.New("bootstrap: no LLM provider configured (set BEDROCK_MODEL_ID or GEMINI_API_KEY)")

// BuildCounterStore selects the atomic counter backend from COUNTER_BACKEND.
func BuildCounterStore(cfg *appconfig.Config, pool *pgxpool.Pool, redisClient *redis.Client, awsCfg aws.Config) (counters.Store, error) {
	switch cfg.CounterBackend {
	case appconfig.CounterBackendMemory:
		return counters.NewMemoryStore(), nil
	case appconfig.CounterBackendRedis:
		if redisClient == nil {
			return nil, errors.New("bootstrap: COUNTER_BACKEND=redis but redis is unavailable")
		}
		return counters.NewRedisStore(redisClient), nil
	case appconfig.CounterBackendPostgres:
		if pool == nil {
			return nil, errors.New("bootstrap: COUNTER_BACKEND=postgres but DATABASE_URL is not set")
		}
		return counters.NewPostgresStore(pool), nil
	case appconfig.CounterBackendDynamoDB:
		return counters.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.CountersTable), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown counter backend %q", cfg.CounterBackend)
	}
}

// BuildPolicyStore returns the cached policy store. Redis is the durable
// layer when available.
func BuildPolicyStore(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) *policy.CachedStore {
	var durable policy.Store
	if redisClient != nil {
		durable = policy.NewRedisStore(redisClient)
	} else {
		logger.Warn("redis unavailable; persona policies are kept in memory")
		durable = policy.NewMemoryStore()
	}
	return policy.NewCachedStore(durable, cfg.PolicyCacheSize, cfg.PolicyCacheTTL)
}

// BuildLLMClient returns Bedrock with Gemini as fallback, or whichever one
// is configured, along with the model id requests should name.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (llm.Client, string, error) {
	var primary, fallback llm.Client
	model := strings.TrimSpace(cfg.BedrockModelID)
	if model != "" {
		primary = llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg))
	}
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		gemini, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, "", err
		}
		if primary == nil {
			primary = gemini
			model = cfg.GeminiModelID
		} else {
			fallback = gemini
		}
	}
	if primary == nil {
		return nil, "", ErrNoLLM
	}
	logger.Info("llm configured", "model", model, "fallback", fallback != nil)
	return llm.NewFallbackClient(primary, fallback, logger), model, nil
}

// BuildEmbedder returns the Titan embedder, or a local hashing embedder
// when no embedding model is configured.
func BuildEmbedder(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) retrieval.Embedder {
	if model := strings.TrimSpace(cfg.BedrockEmbeddingModelID); model != "" {
		return retrieval.NewBedrockEmbedder(bedrockruntime.NewFromConfig(awsCfg), model)
	}
	logger.Warn("no embedding model configured; using hashing embedder", "dims", hashEmbeddingDims)
	return retrieval.NewHashEmbedder(hashEmbeddingDims)
}

// BuildEmailSender prefers SES, then SendGrid. It returns nil when neither
// is configured.
func BuildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	if strings.TrimSpace(cfg.SESFromEmail) != "" {
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.EmailFromName,
		}, logger)
	}
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.EmailFromName,
	}, logger); sg != nil {
		return sg
	}
	return nil
}

// BuildNotifier fans escalation events out to SQS and the owner's inbox.
// It returns nil when nothing is configured.
func BuildNotifier(cfg *appconfig.Config, awsCfg aws.Config, policies policy.Reader, logger *logging.Logger) escalation.Notifier {
	var out notify.Multi
	if url := strings.TrimSpace(cfg.EscalationEventsQueueURL); url != "" {
		out = append(out, notify.NewEventNotifier(sqs.NewFromConfig(awsCfg), url))
	}
	if sender := BuildEmailSender(cfg, awsCfg, logger); sender != nil {
		out = append(out, notify.NewOwnerEmailNotifier(sender, policies, logger))
	} else if cfg.Env == "development" {
		out = append(out, notify.NewOwnerEmailNotifier(notify.NewStubEmailSender(logger), policies, logger))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
