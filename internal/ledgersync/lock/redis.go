package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"hycredit/pkg/platform/sentinel"
)

const lockKeyPrefix = "hycredit:lock:"

// Deletes or extends the key only while it still carries our token.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker is a lease-based lock shared by every instance pointing at the
// same Redis. The lease is renewed while held; a crashed holder frees the key
// after one lease period.
type RedisLocker struct {
	client *redis.Client
	lease  time.Duration
	retry  time.Duration
	logger *slog.Logger
}

type RedisOption func(*RedisLocker)

func WithLease(d time.Duration) RedisOption {
	return func(l *RedisLocker) { l.lease = d }
}

func WithRetryInterval(d time.Duration) RedisOption {
	return func(l *RedisLocker) { l.retry = d }
}

func WithLogger(logger *slog.Logger) RedisOption {
	return func(l *RedisLocker) { l.logger = logger }
}

func NewRedisLocker(client *redis.Client, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client: client,
		lease:  30 * time.Second,
		retry:  25 * time.Millisecond,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := lockKeyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.lease).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: acquire %s: %w", sentinel.ErrUnavailable, key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", sentinel.ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.renew(redisKey, token, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.logger.Warn("failed to release ledger lock", "key", key, "error", err)
			}
		})
	}, nil
}

func (l *RedisLocker) renew(redisKey, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.lease/3)
			res, err := extendScript.Run(ctx, l.client, []string{redisKey}, token, l.lease.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.logger.Warn("failed to renew ledger lock", "key", redisKey, "error", err)
				continue
			}
			if res == 0 {
				l.logger.Error("ledger lock lease lost", "key", redisKey)
				return
			}
		}
	}
}

const reservationKeyPrefix = "hycredit:reserve:"

// RedisRegistry shares Issue reservations between instances as one set per
// credit identifier. Sets expire after ttl without activity so a crashed
// instance cannot pin an identifier forever.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisRegistry{client: client, ttl: ttl}
}

func (r *RedisRegistry) Reserve(ctx context.Context, key, member string) (int, error) {
	redisKey := reservationKeyPrefix + key
	var card *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, redisKey, member)
		pipe.Expire(ctx, redisKey, r.ttl)
		card = pipe.SCard(ctx, redisKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: reserve %s: %w", sentinel.ErrUnavailable, key, err)
	}
	return int(card.Val()), nil
}

func (r *RedisRegistry) Release(ctx context.Context, key, member string) error {
	if err := r.client.SRem(ctx, reservationKeyPrefix+key, member).Err(); err != nil {
		return fmt.Errorf("%w: release %s: %w", sentinel.ErrUnavailable, key, err)
	}
	return nil
}

func (r *RedisRegistry) Count(ctx context.Context, key string) (int, error) {
	n, err := r.client.SCard(ctx, reservationKeyPrefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: count %s: %w", sentinel.ErrUnavailable, key, err)
	}
	return int(n), nil
}
