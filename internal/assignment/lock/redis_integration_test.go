//go:build integration

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"casework/pkg/testutil/containers"
)

type RedisLockerSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	locker *RedisLocker
}

func TestRedisLockerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisLockerSuite))
}

func (s *RedisLockerSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.locker = NewRedis(s.redis.Client)
}

func (s *RedisLockerSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisLockerSuite) TestExclusiveLease() {
	ctx := context.Background()

	release, ok, err := s.locker.TryLock(ctx, "dispatch:unit-a", time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)

	_, ok, err = s.locker.TryLock(ctx, "dispatch:unit-a", time.Minute)
	s.Require().NoError(err)
	s.False(ok)

	release()
	_, ok, err = s.locker.TryLock(ctx, "dispatch:unit-a", time.Minute)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *RedisLockerSuite) TestLeaseExpires() {
	ctx := context.Background()

	_, ok, err := s.locker.TryLock(ctx, "dispatch:unit-b", 100*time.Millisecond)
	s.Require().NoError(err)
	s.Require().True(ok)

	s.Eventually(func() bool {
		_, ok, err := s.locker.TryLock(ctx, "dispatch:unit-b", time.Minute)
		return err == nil && ok
	}, 2*time.Second, 50*time.Millisecond)
}

func (s *RedisLockerSuite) TestStaleReleaseKeepsNewHolder() {
	ctx := context.Background()

	stale, ok, err := s.locker.TryLock(ctx, "dispatch:unit-c", 100*time.Millisecond)
	s.Require().NoError(err)
	s.Require().True(ok)
	time.Sleep(200 * time.Millisecond)

	_, ok, err = s.locker.TryLock(ctx, "dispatch:unit-c", time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)

	stale()
	_, ok, err = s.locker.TryLock(ctx, "dispatch:unit-c", time.Minute)
	s.Require().NoError(err)
	s.False(ok)
}
