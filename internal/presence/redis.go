package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "presence:"

// RedisStore shares heartbeats between service instances. Keys carry a TTL so
// participants of a crashed instance do not linger.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) SetLastSeen(ctx context.Context, participantID string, at time.Time) error {
	if err := s.client.Set(ctx, keyPrefix+participantID, at.UnixMilli(), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set presence: %w", err)
	}
	return nil
}

func (s *RedisStore) LastSeen(ctx context.Context, participantID string) (time.Time, bool, error) {
	ms, err := s.client.Get(ctx, keyPrefix+participantID).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis get presence: %w", err)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *RedisStore) Delete(ctx context.Context, participantID string) error {
	return s.client.Del(ctx, keyPrefix+participantID).Err()
}
