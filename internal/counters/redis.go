package counters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// tryIncrementScript checks every key against its max and only then
// increments them all. Redis runs scripts atomically, so no other client can
// interleave between the check and the increment.
//
// KEYS[i]: counter key. ARGV[2i-1]: max for KEYS[i]. ARGV[2i]: TTL seconds.
var tryIncrementScript = redis.NewScript(`
for i = 1, #KEYS do
  local current = tonumber(redis.call('GET', KEYS[i]) or '0')
  if current + 1 > tonumber(ARGV[2 * i - 1]) then
    return 0
  end
end
for i = 1, #KEYS do
  local v = redis.call('INCR', KEYS[i])
  if v == 1 then
    redis.call('EXPIRE', KEYS[i], ARGV[2 * i])
  end
end
return 1
`)

// RedisStore keeps counters in Redis with per-window expiry.
type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		panic("counters: redis client cannot be nil")
	}
	return &RedisStore{redis: client}
}

func redisKey(personaID, userID string, p Period, at time.Time) string {
	return fmt.Sprintf("escalations:%s:%s:%s:%s", personaID, userID, p, PeriodKey(p, at))
}

func (s *RedisStore) TryIncrement(ctx context.Context, personaID, userID string, at time.Time, limits ...Limit) (bool, error) {
	if !validLimits(limits) {
		return false, nil
	}
	keys := make([]string, 0, len(limits))
	args := make([]any, 0, 2*len(limits))
	for _, l := range limits {
		keys = append(keys, redisKey(personaID, userID, l.Period, at))
		args = append(args, l.Max, int(retention(l.Period).Seconds()))
	}
	res, err := tryIncrementScript.Run(ctx, s.redis, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("counters: redis try increment: %w", err)
	}
	return res == 1, nil
}

func (s *RedisStore) Usage(ctx context.Context, personaID, userID string, at time.Time) (Usage, error) {
	vals, err := s.redis.MGet(ctx,
		redisKey(personaID, userID, Day, at),
		redisKey(personaID, userID, Week, at),
	).Result()
	if err != nil {
		return Usage{}, fmt.Errorf("counters: redis usage: %w", err)
	}
	day, err := redisCount(vals[0])
	if err != nil {
		return Usage{}, err
	}
	week, err := redisCount(vals[1])
	if err != nil {
		return Usage{}, err
	}
	return Usage{Today: day, ThisWeek: week}, nil
}

func redisCount(v any) (int, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, errors.New("counters: unexpected redis value type")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("counters: parse redis count: %w", err)
	}
	return n, nil
}
