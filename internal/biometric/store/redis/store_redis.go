package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"attendguard/internal/biometric"
	"attendguard/pkg/domain"
	"attendguard/pkg/platform/sentinel"
)

const (
	challengeKeyPrefix = "biometric:challenge:"
	failureKeyPrefix   = "biometric:failures:"
	lockoutKeyPrefix   = "biometric:lockout:"

	// challengeGrace keeps expired challenges readable so they report as
	// expired rather than unknown. Redis removes them afterwards.
	challengeGrace = 5 * time.Minute
	claimRetries   = 3
)

// Store keeps protocol state in Redis so several instances share it. The
// challenge claim is a WATCH/MULTI transaction; lockouts carry a TTL so they
// expire without a sweeper.
type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func challengeKey(id domain.ChallengeID) string { return challengeKeyPrefix + id.String() }
func failureKey(id domain.EmployeeID) string    { return failureKeyPrefix + id.String() }
func lockoutKey(id domain.EmployeeID) string    { return lockoutKeyPrefix + id.String() }

func (s *Store) SaveChallenge(ctx context.Context, c biometric.Challenge) error {
	key := challengeKey(c.SessionID)
	ttl := c.ExpiresAt.Sub(c.IssuedAt) + challengeGrace
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"subject", c.SubjectID.String(),
			"nonce", c.Nonce,
			"issued_at", c.IssuedAt.UnixNano(),
			"expires_at", c.ExpiresAt.UnixNano(),
			"used", "0",
		)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save challenge: %w", err)
	}
	return nil
}

func (s *Store) ClaimChallenge(ctx context.Context, id domain.ChallengeID, now time.Time) (*biometric.Challenge, error) {
	key := challengeKey(id)
	var claimed *biometric.Challenge

	claim := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return fmt.Errorf("challenge %s: %w", id, sentinel.ErrNotFound)
		}
		c, err := parseChallenge(id, fields)
		if err != nil {
			return err
		}
		if c.Expired(now) {
			if err := tx.Del(ctx, key).Err(); err != nil {
				return err
			}
			return fmt.Errorf("challenge %s: %w", id, sentinel.ErrExpired)
		}
		if c.Used {
			return fmt.Errorf("challenge %s: %w", id, sentinel.ErrAlreadyUsed)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "used", "1")
			return nil
		})
		if err != nil {
			return err
		}
		c.Used = true
		claimed = c
		return nil
	}

	for range claimRetries {
		err := s.client.Watch(ctx, claim, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return claimed, nil
	}
	// Lost every race: someone else changed the challenge each time.
	return nil, fmt.Errorf("challenge %s: %w", id, sentinel.ErrAlreadyUsed)
}

func parseChallenge(id domain.ChallengeID, fields map[string]string) (*biometric.Challenge, error) {
	subject, err := strconv.ParseInt(fields["subject"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse challenge subject: %w", err)
	}
	issued, err := strconv.ParseInt(fields["issued_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse challenge issued_at: %w", err)
	}
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse challenge expires_at: %w", err)
	}
	return &biometric.Challenge{
		SessionID: id,
		SubjectID: domain.EmployeeID(subject),
		Nonce:     fields["nonce"],
		IssuedAt:  time.Unix(0, issued).UTC(),
		ExpiresAt: time.Unix(0, expires).UTC(),
		Used:      fields["used"] == "1",
	}, nil
}

func (s *Store) RecordFailure(ctx context.Context, subject domain.EmployeeID, at time.Time) (int, error) {
	key := failureKey(subject)
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, key, "count", 1)
		pipe.HSet(ctx, key, "last_attempt_at", at.UnixNano())
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("record failure: %w", err)
	}
	return int(incr.Val()), nil
}

func (s *Store) Failures(ctx context.Context, subject domain.EmployeeID) (*biometric.FailureCounter, error) {
	fields, err := s.client.HGetAll(ctx, failureKey(subject)).Result()
	if err != nil {
		return nil, fmt.Errorf("read failures: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("failures for %s: %w", subject, sentinel.ErrNotFound)
	}
	count, err := strconv.Atoi(fields["count"])
	if err != nil {
		return nil, fmt.Errorf("parse failure count: %w", err)
	}
	last, _ := strconv.ParseInt(fields["last_attempt_at"], 10, 64)
	return &biometric.FailureCounter{
		SubjectID:     subject,
		Count:         count,
		LastAttemptAt: time.Unix(0, last).UTC(),
	}, nil
}

func (s *Store) ResetFailures(ctx context.Context, subject domain.EmployeeID) error {
	return s.client.Del(ctx, failureKey(subject)).Err()
}

func (s *Store) Lock(ctx context.Context, lockout biometric.Lockout) error {
	key := lockoutKey(lockout.SubjectID)
	ttl := lockout.ExpiresAt.Sub(lockout.LockedAt)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"locked_at", lockout.LockedAt.UnixNano(),
			"expires_at", lockout.ExpiresAt.UnixNano(),
		)
		pipe.Expire(ctx, key, ttl)
		// The counter expires with the lockout so the subject starts over.
		pipe.Expire(ctx, failureKey(lockout.SubjectID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("lock subject: %w", err)
	}
	return nil
}

// ActiveLockout compares against now as well as relying on the key TTL, so an
// injected clock behaves the same as wall time.
func (s *Store) ActiveLockout(ctx context.Context, subject domain.EmployeeID, now time.Time) (*biometric.Lockout, error) {
	fields, err := s.client.HGetAll(ctx, lockoutKey(subject)).Result()
	if err != nil {
		return nil, fmt.Errorf("read lockout: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("lockout for %s: %w", subject, sentinel.ErrNotFound)
	}
	lockedAt, _ := strconv.ParseInt(fields["locked_at"], 10, 64)
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse lockout expiry: %w", err)
	}
	l := &biometric.Lockout{
		SubjectID: subject,
		LockedAt:  time.Unix(0, lockedAt).UTC(),
		ExpiresAt: time.Unix(0, expiresAt).UTC(),
	}
	if now.After(l.ExpiresAt) {
		if err := s.client.Del(ctx, lockoutKey(subject), failureKey(subject)).Err(); err != nil {
			return nil, fmt.Errorf("clear expired lockout: %w", err)
		}
		return nil, fmt.Errorf("lockout for %s: %w", subject, sentinel.ErrNotFound)
	}
	return l, nil
}

func (s *Store) ClearLockout(ctx context.Context, subject domain.EmployeeID) error {
	return s.client.Del(ctx, lockoutKey(subject)).Err()
}
