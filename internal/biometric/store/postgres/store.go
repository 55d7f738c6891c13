package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"attendguard/internal/biometric"
	"attendguard/pkg/domain"
	"attendguard/pkg/platform/sentinel"
	txcontext "attendguard/pkg/platform/tx"
)

// challengeRetention is how long claimed or expired challenges are kept
// before SaveChallenge prunes them.
const challengeRetention = 5 * time.Minute

// Store persists protocol state in PostgreSQL. The claim runs under
// SELECT ... FOR UPDATE; counters use INSERT ... ON CONFLICT ... RETURNING.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) SaveChallenge(ctx context.Context, c biometric.Challenge) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.ExecutorFrom(ctx, s.db)
		_, err := exec.ExecContext(ctx,
			`DELETE FROM biometric_challenges WHERE expires_at < $1`,
			c.IssuedAt.Add(-challengeRetention))
		if err != nil {
			return fmt.Errorf("prune challenges: %w", err)
		}
		_, err = exec.ExecContext(ctx, `
			INSERT INTO biometric_challenges (session_id, subject_id, nonce, issued_at, expires_at, used)
			VALUES ($1, $2, $3, $4, $5, FALSE)
		`, uuid.UUID(c.SessionID), int64(c.SubjectID), c.Nonce, c.IssuedAt, c.ExpiresAt)
		if err != nil {
			return fmt.Errorf("save challenge: %w", err)
		}
		return nil
	})
}

func (s *Store) ClaimChallenge(ctx context.Context, id domain.ChallengeID, now time.Time) (*biometric.Challenge, error) {
	var claimed *biometric.Challenge
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.ExecutorFrom(ctx, s.db)
		var (
			c       biometric.Challenge
			session uuid.UUID
			subject int64
		)
		err := exec.QueryRowContext(ctx, `
			SELECT session_id, subject_id, nonce, issued_at, expires_at, used
			FROM biometric_challenges
			WHERE session_id = $1
			FOR UPDATE
		`, uuid.UUID(id)).Scan(&session, &subject, &c.Nonce, &c.IssuedAt, &c.ExpiresAt, &c.Used)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("challenge %s: %w", id, sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read challenge: %w", err)
		}
		c.SessionID = domain.ChallengeID(session)
		c.SubjectID = domain.EmployeeID(subject)

		if c.Expired(now) {
			return fmt.Errorf("challenge %s: %w", id, sentinel.ErrExpired)
		}
		if c.Used {
			return fmt.Errorf("challenge %s: %w", id, sentinel.ErrAlreadyUsed)
		}
		if _, err := exec.ExecContext(ctx, `UPDATE biometric_challenges SET used = TRUE WHERE session_id = $1`, session); err != nil {
			return fmt.Errorf("claim challenge: %w", err)
		}
		c.Used = true
		claimed = &c
		return nil
	})
	// Deleted outside the claim transaction, which rolls back on ErrExpired.
	if errors.Is(err, sentinel.ErrExpired) {
		if _, derr := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx,
			`DELETE FROM biometric_challenges WHERE session_id = $1`, uuid.UUID(id)); derr != nil {
			return nil, fmt.Errorf("delete expired challenge: %w", derr)
		}
	}
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *Store) RecordFailure(ctx context.Context, subject domain.EmployeeID, at time.Time) (int, error) {
	var count int
	err := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO biometric_failures (subject_id, failure_count, last_attempt_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (subject_id) DO UPDATE SET
			failure_count = biometric_failures.failure_count + 1,
			last_attempt_at = EXCLUDED.last_attempt_at
		RETURNING failure_count
	`, int64(subject), at).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("record failure: %w", err)
	}
	return count, nil
}

func (s *Store) Failures(ctx context.Context, subject domain.EmployeeID) (*biometric.FailureCounter, error) {
	fc := biometric.FailureCounter{SubjectID: subject}
	err := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, `
		SELECT failure_count, last_attempt_at FROM biometric_failures WHERE subject_id = $1
	`, int64(subject)).Scan(&fc.Count, &fc.LastAttemptAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failures for %s: %w", subject, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read failures: %w", err)
	}
	return &fc, nil
}

func (s *Store) ResetFailures(ctx context.Context, subject domain.EmployeeID) error {
	_, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx,
		`DELETE FROM biometric_failures WHERE subject_id = $1`, int64(subject))
	if err != nil {
		return fmt.Errorf("reset failures: %w", err)
	}
	return nil
}

func (s *Store) Lock(ctx context.Context, lockout biometric.Lockout) error {
	_, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO biometric_lockouts (subject_id, locked_at, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject_id) DO UPDATE SET
			locked_at = EXCLUDED.locked_at,
			expires_at = EXCLUDED.expires_at
	`, int64(lockout.SubjectID), lockout.LockedAt, lockout.ExpiresAt)
	if err != nil {
		return fmt.Errorf("lock subject: %w", err)
	}
	return nil
}

func (s *Store) ActiveLockout(ctx context.Context, subject domain.EmployeeID, now time.Time) (*biometric.Lockout, error) {
	l := biometric.Lockout{SubjectID: subject}
	err := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, `
		SELECT locked_at, expires_at FROM biometric_lockouts WHERE subject_id = $1
	`, int64(subject)).Scan(&l.LockedAt, &l.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lockout for %s: %w", subject, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read lockout: %w", err)
	}
	if now.After(l.ExpiresAt) {
		err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
			exec := txcontext.ExecutorFrom(ctx, s.db)
			if _, err := exec.ExecContext(ctx, `DELETE FROM biometric_lockouts WHERE subject_id = $1 AND expires_at < $2`, int64(subject), now); err != nil {
				return err
			}
			_, err := exec.ExecContext(ctx, `DELETE FROM biometric_failures WHERE subject_id = $1`, int64(subject))
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("clear expired lockout: %w", err)
		}
		return nil, fmt.Errorf("lockout for %s: %w", subject, sentinel.ErrNotFound)
	}
	return &l, nil
}

func (s *Store) ClearLockout(ctx context.Context, subject domain.EmployeeID) error {
	_, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx,
		`DELETE FROM biometric_lockouts WHERE subject_id = $1`, int64(subject))
	if err != nil {
		return fmt.Errorf("clear lockout: %w", err)
	}
	return nil
}
