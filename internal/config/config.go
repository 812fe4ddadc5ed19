package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Counter backends accepted by COUNTER_BACKEND.
const (
	CounterBackendMemory   = "memory"
	CounterBackendRedis    = "redis"
	CounterBackendPostgres = "postgres"
	CounterBackendDynamoDB = "dynamodb"
)

// MaxPolicyCacheTTL bounds how stale a cached persona policy may get.
const MaxPolicyCacheTTL = 60 * time.Second

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	CounterBackend string
	CountersTable  string

	PolicyCacheTTL  time.Duration
	PolicyCacheSize int
	PolicySeedFile  string

	ExternalCallTimeout time.Duration
	RetrievalTopK       int
	CanonicalThreshold  float64
	ClarifyMinTokens    int
	EscalationOfferTTL  time.Duration

	DecisionLogBuffer     int
	DecisionLogRetryDelay time.Duration
	DecisionArchiveBucket string

	AWSRegion               string
	AWSAccessKeyID          string
	AWSSecretAccessKey      string
	AWSEndpointOverride     string
	BedrockModelID          string
	BedrockEmbeddingModelID string
	GeminiAPIKey            string
	GeminiModelID           string

	EscalationEventsQueueURL string
	SESFromEmail             string
	SendGridAPIKey           string
	SendGridFromEmail        string
	EmailFromName            string

	AdminJWTSecret string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		CounterBackend: strings.ToLower(strings.TrimSpace(getEnv("COUNTER_BACKEND", CounterBackendPostgres))),
		CountersTable:  getEnv("COUNTERS_TABLE", "escalation_counters"),

		PolicyCacheTTL:  getEnvAsDuration("POLICY_CACHE_TTL", 30*time.Second),
		PolicyCacheSize: getEnvAsInt("POLICY_CACHE_SIZE", 1024),
		PolicySeedFile:  getEnv("POLICY_SEED_FILE", ""),

		ExternalCallTimeout: getEnvAsDuration("EXTERNAL_CALL_TIMEOUT", 8*time.Second),
		RetrievalTopK:       getEnvAsInt("RETRIEVAL_TOP_K", 4),
		CanonicalThreshold:  getEnvAsFloat("CANONICAL_THRESHOLD", 0.92),
		ClarifyMinTokens:    getEnvAsInt("CLARIFY_MIN_TOKENS", 4),
		EscalationOfferTTL:  getEnvAsDuration("ESCALATION_OFFER_TTL", 72*time.Hour),

		DecisionLogBuffer:     getEnvAsInt("DECISION_LOG_BUFFER", 1024),
		DecisionLogRetryDelay: getEnvAsDuration("DECISION_LOG_RETRY_DELAY", 100*time.Millisecond),
		DecisionArchiveBucket: getEnv("DECISION_ARCHIVE_BUCKET", ""),

		AWSRegion:               getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:     getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		BedrockModelID:          getEnv("BEDROCK_MODEL_ID", ""),
		BedrockEmbeddingModelID: getEnv("BEDROCK_EMBEDDING_MODEL_ID", "amazon.titan-embed-text-v2:0"),
		GeminiAPIKey:            getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:           getEnv("GEMINI_MODEL_ID", "gemini-1.5-flash"),

		EscalationEventsQueueURL: getEnv("ESCALATION_EVENTS_QUEUE_URL", ""),
		SESFromEmail:             getEnv("SES_FROM_EMAIL", ""),
		SendGridAPIKey:           getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:        getEnv("SENDGRID_FROM_EMAIL", ""),
		EmailFromName:            getEnv("EMAIL_FROM_NAME", "Persona Inbox"),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 10),
	}
}

// Validate reports settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.CounterBackend {
	case CounterBackendMemory, CounterBackendRedis, CounterBackendDynamoDB:
	case CounterBackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("COUNTER_BACKEND=postgres requires DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown COUNTER_BACKEND %q", c.CounterBackend))
	}
	if c.PolicyCacheTTL <= 0 || c.PolicyCacheTTL > MaxPolicyCacheTTL {
		errs = append(errs, fmt.Errorf("POLICY_CACHE_TTL must be in (0, %s], got %s", MaxPolicyCacheTTL, c.PolicyCacheTTL))
	}
	if c.PolicyCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("POLICY_CACHE_SIZE must be positive, got %d", c.PolicyCacheSize))
	}
	if c.ExternalCallTimeout < 5*time.Second || c.ExternalCallTimeout > 10*time.Second {
		errs = append(errs, fmt.Errorf("EXTERNAL_CALL_TIMEOUT must be between 5s and 10s, got %s", c.ExternalCallTimeout))
	}
	if c.CanonicalThreshold <= 0 || c.CanonicalThreshold > 1 {
		errs = append(errs, fmt.Errorf("CANONICAL_THRESHOLD must be in (0, 1], got %v", c.CanonicalThreshold))
	}
	if c.ClarifyMinTokens < 1 {
		errs = append(errs, fmt.Errorf("CLARIFY_MIN_TOKENS must be at least 1, got %d", c.ClarifyMinTokens))
	}
	if c.RetrievalTopK < 1 {
		errs = append(errs, fmt.Errorf("RETRIEVAL_TOP_K must be at least 1, got %d", c.RetrievalTopK))
	}
	if c.EscalationOfferTTL <= 0 {
		errs = append(errs, fmt.Errorf("ESCALATION_OFFER_TTL must be positive, got %s", c.EscalationOfferTTL))
	}
	return errors.Join(errs...)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
