package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Reader is the read side used on the decision path.
type Reader interface {
	Get(ctx context.Context, personaID string) (Config, error)
}

// Store is the durable owner-facing policy store.
type Store interface {
	Reader
	Put(ctx context.Context, cfg Config) error
}

// RedisStore persists policies as JSON documents, one key per persona.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed policy store.
func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		panic("policy: redis client cannot be nil")
	}
	return &RedisStore{redis: client}
}

func (s *RedisStore) key(personaID string) string {
	return fmt.Sprintf("persona:policy:%s", personaID)
}

// Get retrieves the persona policy, returning DefaultConfig if none is stored.
func (s *RedisStore) Get(ctx context.Context, personaID string) (Config, error) {
	data, err := s.redis.Get(ctx, s.key(personaID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return DefaultConfig(personaID), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("policy: get: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("policy: unmarshal: %w", err)
	}
	return cfg, nil
}

// Put validates and saves the policy. Policies never expire.
func (s *RedisStore) Put(ctx context.Context, cfg Config) error {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("policy: marshal: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(cfg.PersonaID), data, 0).Err(); err != nil {
		return fmt.Errorf("policy: set: %w", err)
	}
	return nil
}

// MemoryStore keeps policies in process. Used by tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	policies map[string]Config
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{policies: make(map[string]Config)}
}

func (s *MemoryStore) Get(_ context.Context, personaID string) (Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.policies[personaID]
	if !ok {
		return DefaultConfig(personaID), nil
	}
	return cfg, nil
}

func (s *MemoryStore) Put(_ context.Context, cfg Config) error {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[cfg.PersonaID] = cfg
	return nil
}
