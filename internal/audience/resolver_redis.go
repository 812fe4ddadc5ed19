package audience

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/loicricci/albee-poc-sub001/internal/policy"
)

// RedisResolver reads relationships that the social layer mirrors into Redis
// as hashes under persona:rel:<persona>:<user> with fields "follower" and
// "tier". A missing hash means no relationship.
type RedisResolver struct {
	redis *redis.Client
}

func NewRedisResolver(client *redis.Client) *RedisResolver {
	if client == nil {
		panic("audience: redis client cannot be nil")
	}
	return &RedisResolver{redis: client}
}

func relationshipKey(personaID, userID string) string {
	return fmt.Sprintf("persona:rel:%s:%s", personaID, userID)
}

func (r *RedisResolver) Resolve(ctx context.Context, personaID, userID string) (Relationship, error) {
	fields, err := r.redis.HGetAll(ctx, relationshipKey(personaID, userID)).Result()
	if err != nil {
		return Relationship{}, fmt.Errorf("audience: resolve relationship: %w", err)
	}
	follower, _ := strconv.ParseBool(fields["follower"])
	return Relationship{IsFollower: follower, Tier: policy.Tier(fields["tier"])}, nil
}

// SetRelationship writes a relationship. The social layer calls it on
// follow/unfollow and subscription changes.
func (r *RedisResolver) SetRelationship(ctx context.Context, personaID, userID string, rel Relationship) error {
	err := r.redis.HSet(ctx, relationshipKey(personaID, userID),
		"follower", strconv.FormatBool(rel.IsFollower),
		"tier", string(rel.Tier),
	).Err()
	if err != nil {
		return fmt.Errorf("audience: set relationship: %w", err)
	}
	return nil
}
