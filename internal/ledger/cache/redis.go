package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	id "hycredit/pkg/domain"
)

const holderKeyPrefix = "hycredit:holder:"

// RedisBackend shares the holder view across instances.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) Get(ctx context.Context, creditID id.CreditID) (Entry, error) {
	raw, err := r.client.Get(ctx, holderKeyPrefix+creditID.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrMiss
	}
	if err != nil {
		return Entry{}, fmt.Errorf("read holder entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, ErrMiss
	}
	return entry, nil
}

func (r *RedisBackend) Set(ctx context.Context, entry Entry, ttl time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal holder entry: %w", err)
	}
	return r.client.Set(ctx, holderKeyPrefix+entry.CreditID.String(), payload, ttl).Err()
}

func (r *RedisBackend) Delete(ctx context.Context, creditID id.CreditID) error {
	return r.client.Del(ctx, holderKeyPrefix+creditID.String()).Err()
}
