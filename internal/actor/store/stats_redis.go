package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"hycredit/internal/actor"
	id "hycredit/pkg/domain"
)

const (
	statsKeyPrefix   = "hycredit:stats:"
	appliedKeyPrefix = "hycredit:stats:applied:"
	maxWatchRetries  = 64
)

var statFields = []actor.StatField{actor.StatGenerated, actor.StatTransferred, actor.StatBought, actor.StatRetired}

// RedisStatsStore keeps counters as decimal strings in one hash per actor.
// Each Apply runs in a WATCH transaction over the marker and the touched
// hashes so concurrent finalizations never lose an increment.
type RedisStatsStore struct {
	client *redis.Client
}

func NewRedisStatsStore(client *redis.Client) *RedisStatsStore {
	return &RedisStatsStore{client: client}
}

func (s *RedisStatsStore) Apply(ctx context.Context, requestID id.RequestID, deltas []actor.Delta) (bool, error) {
	marker := appliedKeyPrefix + requestID.String()
	keys := []string{marker}
	seen := map[id.ActorID]bool{}
	for _, d := range deltas {
		if !seen[d.ActorID] {
			seen[d.ActorID] = true
			keys = append(keys, statsKeyPrefix+d.ActorID.String())
		}
	}

	var applied bool
	txf := func(tx *redis.Tx) error {
		applied = false
		exists, err := tx.Exists(ctx, marker).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return nil
		}
		current := map[id.ActorID]*actor.Stats{}
		for actorID := range seen {
			st, err := readStats(ctx, tx, actorID)
			if err != nil {
				return err
			}
			current[actorID] = st
		}
		for _, d := range deltas {
			current[d.ActorID].Add(d)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for actorID, st := range current {
				values := make(map[string]any, len(statFields))
				for _, f := range statFields {
					values[string(f)] = st.Field(f).String()
				}
				pipe.HSet(ctx, statsKeyPrefix+actorID.String(), values)
			}
			pipe.Set(ctx, marker, "1", 0)
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("apply stats: %w", err)
		}
		return applied, nil
	}
	return false, fmt.Errorf("apply stats: %w", redis.TxFailedErr)
}

func (s *RedisStatsStore) Get(ctx context.Context, actorID id.ActorID) (*actor.Stats, error) {
	return readStats(ctx, s.client, actorID)
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func readStats(ctx context.Context, c hashReader, actorID id.ActorID) (*actor.Stats, error) {
	raw, err := c.HGetAll(ctx, statsKeyPrefix+actorID.String()).Result()
	if err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}
	st := actor.NewStats(actorID)
	for _, f := range statFields {
		v, ok := raw[string(f)]
		if !ok {
			continue
		}
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("parse stat %s: %w", f, err)
		}
		st.Add(actor.Delta{ActorID: actorID, Field: f, Amount: amount})
	}
	return st, nil
}
