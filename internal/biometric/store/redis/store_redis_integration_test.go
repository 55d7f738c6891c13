//go:build integration

package redis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"attendguard/internal/biometric"
	biometricredis "attendguard/internal/biometric/store/redis"
	"attendguard/pkg/domain"
	"attendguard/pkg/platform/sentinel"
	"attendguard/pkg/testutil/containers"
)

type RedisBiometricStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *biometricredis.Store
	now   time.Time
}

func TestRedisBiometricStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisBiometricStoreSuite))
}

func (s *RedisBiometricStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = biometricredis.New(s.redis.Client)
	s.now = time.Now().UTC().Truncate(time.Millisecond)
}

func (s *RedisBiometricStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.Client.FlushDB(context.Background()).Err())
}

func (s *RedisBiometricStoreSuite) save(subject domain.EmployeeID) biometric.Challenge {
	c := biometric.Challenge{
		SessionID: domain.NewChallengeID(),
		SubjectID: subject,
		Nonce:     "abcdef0123456789",
		IssuedAt:  s.now,
		ExpiresAt: s.now.Add(30 * time.Second),
	}
	s.Require().NoError(s.store.SaveChallenge(context.Background(), c))
	return c
}

func (s *RedisBiometricStoreSuite) TestClaimChallenge() {
	ctx := context.Background()

	s.Run("claims once", func() {
		c := s.save(1)
		got, err := s.store.ClaimChallenge(ctx, c.SessionID, s.now.Add(time.Second))
		s.Require().NoError(err)
		s.Equal(c.SubjectID, got.SubjectID)
		s.Equal(c.Nonce, got.Nonce)
		s.True(got.ExpiresAt.Equal(c.ExpiresAt))

		_, err = s.store.ClaimChallenge(ctx, c.SessionID, s.now.Add(time.Second))
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("expired challenge is deleted", func() {
		c := s.save(1)
		_, err := s.store.ClaimChallenge(ctx, c.SessionID, s.now.Add(time.Minute))
		s.ErrorIs(err, sentinel.ErrExpired)
		_, err = s.store.ClaimChallenge(ctx, c.SessionID, s.now.Add(time.Minute))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("concurrent claims succeed once", func() {
		c := s.save(2)
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			claims int
		)
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.store.ClaimChallenge(ctx, c.SessionID, s.now); err == nil {
					mu.Lock()
					claims++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		s.Equal(1, claims)
	})
}

func (s *RedisBiometricStoreSuite) TestFailuresAndLockout() {
	ctx := context.Background()
	const subject = domain.EmployeeID(9)

	for i := 1; i <= 3; i++ {
		n, err := s.store.RecordFailure(ctx, subject, s.now)
		s.Require().NoError(err)
		s.Equal(i, n)
	}
	fc, err := s.store.Failures(ctx, subject)
	s.Require().NoError(err)
	s.Equal(3, fc.Count)

	s.Require().NoError(s.store.Lock(ctx, biometric.Lockout{
		SubjectID: subject, LockedAt: s.now, ExpiresAt: s.now.Add(5 * time.Minute),
	}))
	l, err := s.store.ActiveLockout(ctx, subject, s.now.Add(time.Minute))
	s.Require().NoError(err)
	s.True(l.ExpiresAt.Equal(s.now.Add(5 * time.Minute)))

	_, err = s.store.ActiveLockout(ctx, subject, s.now.Add(10*time.Minute))
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.Failures(ctx, subject)
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.RecordFailure(ctx, subject, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.ResetFailures(ctx, subject))
	_, err = s.store.Failures(ctx, subject)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
