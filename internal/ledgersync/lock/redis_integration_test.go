//go:build integration

package lock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"hycredit/internal/ledgersync/lock"
	"hycredit/pkg/platform/sentinel"
	"hycredit/pkg/testutil/containers"
)

type RedisLockerSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestRedisLockerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisLockerSuite))
}

func (s *RedisLockerSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisLockerSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisLockerSuite) TestTwoInstancesExclude() {
	a := lock.NewRedisLocker(s.redis.Client, lock.WithRetryInterval(5*time.Millisecond))
	b := lock.NewRedisLocker(s.redis.Client, lock.WithRetryInterval(5*time.Millisecond))

	var inside, violations atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		l := a
		if i%2 == 1 {
			l = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			unlock, err := l.Lock(ctx, "credit:CR-1")
			if !s.NoError(err) {
				return
			}
			if inside.Add(1) > 1 {
				violations.Add(1)
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	s.Zero(violations.Load())
}

func (s *RedisLockerSuite) TestLeaseRenewedWhileHeld() {
	l := lock.NewRedisLocker(s.redis.Client, lock.WithLease(150*time.Millisecond))
	unlock, err := l.Lock(context.Background(), "credit:CR-2")
	s.Require().NoError(err)
	defer unlock()

	time.Sleep(400 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "credit:CR-2")
	s.True(errors.Is(err, sentinel.ErrLockTimeout))
}

func (s *RedisLockerSuite) TestRegistrySharedBetweenInstances() {
	ctx := context.Background()
	a := lock.NewRedisRegistry(s.redis.Client, time.Minute)
	b := lock.NewRedisRegistry(s.redis.Client, time.Minute)

	n, err := a.Reserve(ctx, "HC-1", "req-a")
	s.Require().NoError(err)
	s.Equal(1, n)
	n, err = b.Reserve(ctx, "HC-1", "req-b")
	s.Require().NoError(err)
	s.Equal(2, n, "second instance sees the first claim")

	s.Require().NoError(a.Release(ctx, "HC-1", "req-b"))
	n, err = b.Count(ctx, "HC-1")
	s.Require().NoError(err)
	s.Equal(1, n)

	ttl, err := s.redis.Client.TTL(ctx, "hycredit:reserve:HC-1").Result()
	s.Require().NoError(err)
	s.Positive(ttl)
}
