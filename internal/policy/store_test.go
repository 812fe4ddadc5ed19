package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStoreReturnsDefaultWhenMissing(t *testing.T) {
	store, _ := newRedisStore(t)
	cfg, err := store.Get(context.Background(), "persona-1")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig("persona-1"), cfg)
}

func TestRedisStorePutThenGet(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	cfg := DefaultConfig("persona-1")
	cfg.MaxEscalationsPerDay = 2
	cfg.ConfidenceThreshold = 0.8
	cfg.BlockedTopics = []string{"medical advice"}
	require.NoError(t, store.Put(ctx, cfg))

	assert.True(t, mr.Exists("persona:policy:persona-1"))
	got, err := store.Get(ctx, "persona-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.MaxEscalationsPerDay)
	assert.Equal(t, 0.8, got.ConfidenceThreshold)
	assert.Equal(t, []string{"medical advice"}, got.BlockedTopics)
}

func TestRedisStoreRejectsInvalidWrite(t *testing.T) {
	store, mr := newRedisStore(t)
	cfg := DefaultConfig("persona-1")
	cfg.ConfidenceThreshold = 0.3

	err := store.Put(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.False(t, mr.Exists("persona:policy:persona-1"))
}

func TestRedisStoreGetError(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.SetError("boom")
	_, err := store.Get(context.Background(), "persona-1")
	require.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	cfg := DefaultConfig("p")
	cfg.EscalationsEnabled = false
	require.NoError(t, store.Put(ctx, cfg))
	got, err := store.Get(ctx, "p")
	require.NoError(t, err)
	assert.False(t, got.EscalationsEnabled)
}
