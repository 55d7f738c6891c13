// Package biometric implements the challenge-response protocol and the
// per-subject failure counter and lockout policy.
package biometric

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"attendguard/internal/ledger"
	"attendguard/pkg/domain"
	dErrors "attendguard/pkg/domain-errors"
	"attendguard/pkg/platform/keylock"
	"attendguard/pkg/platform/sentinel"
	"attendguard/pkg/requestcontext"
)

// Store persists challenges, counters and lockouts.
//
// ClaimChallenge is the single atomic step guarding single use: it returns
// sentinel.ErrNotFound for unknown sessions, deletes an expired session and
// returns sentinel.ErrExpired, returns sentinel.ErrAlreadyUsed for a claimed
// session, and otherwise marks the session used and returns it.
//
// ActiveLockout returns sentinel.ErrNotFound when there is no lockout in force.
// An expired lockout is deleted together with the subject's failure counter.
type Store interface {
	SaveChallenge(ctx context.Context, c Challenge) error
	ClaimChallenge(ctx context.Context, id domain.ChallengeID, now time.Time) (*Challenge, error)
	RecordFailure(ctx context.Context, subject domain.EmployeeID, at time.Time) (int, error)
	Failures(ctx context.Context, subject domain.EmployeeID) (*FailureCounter, error)
	ResetFailures(ctx context.Context, subject domain.EmployeeID) error
	Lock(ctx context.Context, lockout Lockout) error
	ActiveLockout(ctx context.Context, subject domain.EmployeeID, now time.Time) (*Lockout, error)
	ClearLockout(ctx context.Context, subject domain.EmployeeID) error
}

// MatchResult is the answer of an external biometric matcher.
type MatchResult struct {
	Matched    bool
	Confidence *float64
}

// Matcher compares a captured sample against the subject's enrolled template.
type Matcher interface {
	Verify(ctx context.Context, subject domain.EmployeeID, sample string) (MatchResult, error)
}

// Auditor records verification attempts in the ledger.
type Auditor interface {
	Append(ctx context.Context, category ledger.Category, subtype, subjectID string, details ledger.Details) (ledger.Entry, error)
}

type Service struct {
	store   Store
	auditor Auditor
	key     []byte
	policy  Policy
	matcher Matcher
	locks   *keylock.Locker[domain.EmployeeID]
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithPolicy(p Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

func WithMatcher(m Matcher) Option {
	return func(s *Service) {
		s.matcher = m
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New builds the service. key is the HMAC key, usually from DeriveKey.
func New(store Store, auditor Auditor, key []byte, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("biometric store is required")
	}
	if auditor == nil {
		return nil, errors.New("auditor is required")
	}
	if len(key) == 0 {
		return nil, errors.New("biometric key is required")
	}
	s := &Service{
		store:   store,
		auditor: auditor,
		key:     key,
		policy:  DefaultPolicy(),
		locks:   keylock.New[domain.EmployeeID](),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy.ChallengeTTL <= 0 || s.policy.MaxFailedAttempts <= 0 ||
		s.policy.LockoutDuration <= 0 || s.policy.NonceLength <= 0 {
		return nil, errors.New("biometric policy thresholds must be positive")
	}
	return s, nil
}

// IssueChallenge creates a new single-use session. Lockout is not checked here.
func (s *Service) IssueChallenge(ctx context.Context, subject domain.EmployeeID) (*IssuedChallenge, error) {
	if subject.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "employee id is required")
	}
	nonce, err := newNonce(s.policy.NonceLength)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue challenge")
	}
	now := requestcontext.Now(ctx)
	c := Challenge{
		SessionID: domain.NewChallengeID(),
		SubjectID: subject,
		Nonce:     nonce,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.policy.ChallengeTTL),
	}
	if err := s.store.SaveChallenge(ctx, c); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store challenge")
	}
	s.metrics.IncChallengesIssued()
	return &IssuedChallenge{
		SessionID:  c.SessionID.String(),
		Nonce:      c.Nonce,
		TTLSeconds: int(s.policy.ChallengeTTL / time.Second),
		ExpiresAt:  c.ExpiresAt,
	}, nil
}

// Verify checks a response. The session is claimed on the first attempt that
// reaches it before expiry, whatever the outcome, so every attempt needs a
// fresh challenge. Every call writes one security ledger entry.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (Outcome, error) {
	if req.SessionID.IsNil() {
		return Outcome{}, dErrors.New(dErrors.CodeInvalidInput, "session id is required")
	}
	now := requestcontext.Now(ctx)

	c, err := s.store.ClaimChallenge(ctx, req.SessionID, now)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return s.finish(ctx, req.SubjectID, Outcome{Code: CodeInvalidSession}), nil
	case errors.Is(err, sentinel.ErrExpired):
		return s.finish(ctx, req.SubjectID, Outcome{Code: CodeSessionExpired}), nil
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return s.finish(ctx, req.SubjectID, Outcome{Code: CodeSessionAlreadyUsed}), nil
	case err != nil:
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim challenge")
	}
	if !req.SubjectID.IsZero() && c.SubjectID != req.SubjectID {
		return s.finish(ctx, req.SubjectID, Outcome{Code: CodeInvalidSession}), nil
	}
	subject := c.SubjectID

	unlock := s.locks.Lock(subject)
	defer unlock()

	lockout, err := s.store.ActiveLockout(ctx, subject, now)
	if err == nil {
		until := lockout.ExpiresAt
		return s.finish(ctx, subject, Outcome{Code: CodeLockedOut, LockedUntil: &until}), nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read lockout")
	}

	if !responseMatches(s.key, c.Nonce, req.DeviceEvidence, req.Response) {
		return s.fail(ctx, subject, now, Outcome{Code: CodeInvalidResponse})
	}

	var confidence *float64
	if s.matcher != nil && req.Sample != "" {
		res, err := s.matcher.Verify(ctx, subject, req.Sample)
		if err != nil {
			s.logger.WarnContext(ctx, "biometric matcher unavailable",
				"employee_id", subject.String(),
				"error", err,
			)
			remaining, rerr := s.remaining(ctx, subject)
			if rerr != nil {
				return Outcome{}, rerr
			}
			return s.finish(ctx, subject, Outcome{Code: CodeMatcherUnavailable, AttemptsRemaining: remaining}), nil
		}
		confidence = res.Confidence
		if !res.Matched {
			return s.fail(ctx, subject, now, Outcome{Code: CodeMatchRejected, MatchConfidence: confidence})
		}
	}

	if err := s.store.ResetFailures(ctx, subject); err != nil {
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset failure counter")
	}
	if err := s.store.ClearLockout(ctx, subject); err != nil {
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear lockout")
	}
	return s.finish(ctx, subject, Outcome{
		Code:              CodeVerified,
		Verified:          true,
		AttemptsRemaining: s.policy.MaxFailedAttempts,
		MatchConfidence:   confidence,
	}), nil
}

func (s *Service) fail(ctx context.Context, subject domain.EmployeeID, now time.Time, out Outcome) (Outcome, error) {
	count, err := s.store.RecordFailure(ctx, subject, now)
	if err != nil {
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record failure")
	}
	out.AttemptsRemaining = max(0, s.policy.MaxFailedAttempts-count)
	if count >= s.policy.MaxFailedAttempts {
		lockout := Lockout{SubjectID: subject, LockedAt: now, ExpiresAt: now.Add(s.policy.LockoutDuration)}
		if err := s.store.Lock(ctx, lockout); err != nil {
			return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock out subject")
		}
		out.LockedUntil = &lockout.ExpiresAt
		s.metrics.IncLockouts()
		s.logger.WarnContext(ctx, "biometric lockout started",
			"employee_id", subject.String(),
			"failures", count,
			"expires_at", lockout.ExpiresAt,
		)
	}
	return s.finish(ctx, subject, out), nil
}

func (s *Service) remaining(ctx context.Context, subject domain.EmployeeID) (int, error) {
	fc, err := s.store.Failures(ctx, subject)
	if errors.Is(err, sentinel.ErrNotFound) {
		return s.policy.MaxFailedAttempts, nil
	}
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read failure counter")
	}
	return max(0, s.policy.MaxFailedAttempts-fc.Count), nil
}

func (s *Service) finish(ctx context.Context, subject domain.EmployeeID, out Outcome) Outcome {
	s.metrics.IncVerification(out.Code)

	subtype := ledger.SubtypeBiometricFailure
	if out.Verified {
		subtype = ledger.SubtypeBiometricSuccess
	}
	details := ledger.Details{
		"result":             string(out.Code),
		"attempts_remaining": out.AttemptsRemaining,
	}
	if out.LockedUntil != nil {
		details["locked_until"] = out.LockedUntil.UTC().Format(time.RFC3339)
	}
	if out.MatchConfidence != nil {
		details["match_confidence"] = *out.MatchConfidence
	}
	subjectID := ""
	if !subject.IsZero() {
		subjectID = subject.String()
	}
	if _, err := s.auditor.Append(ctx, ledger.CategorySecurity, subtype, subjectID, details); err != nil {
		s.logger.ErrorContext(ctx, "failed to audit biometric verification",
			"employee_id", subjectID,
			"result", string(out.Code),
			"error", err,
		)
		out.AuditFailed = true
	}
	return out
}

// SecurityStatus reports the failure counter and lockout of a subject.
func (s *Service) SecurityStatus(ctx context.Context, subject domain.EmployeeID) (*SecurityStatus, error) {
	if subject.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "employee id is required")
	}
	now := requestcontext.Now(ctx)
	status := &SecurityStatus{SubjectID: subject, RemainingAttempts: s.policy.MaxFailedAttempts}

	lockout, err := s.store.ActiveLockout(ctx, subject, now)
	switch {
	case err == nil:
		status.LockedOut = true
		status.LockoutExpiresAt = &lockout.ExpiresAt
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read lockout")
	}

	fc, err := s.store.Failures(ctx, subject)
	switch {
	case err == nil:
		status.FailedAttempts = fc.Count
		status.RemainingAttempts = max(0, s.policy.MaxFailedAttempts-fc.Count)
		last := fc.LastAttemptAt
		status.LastFailedAt = &last
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read failure counter")
	}
	return status, nil
}

// Reset clears the failure counter and any lockout of a subject. The acting
// administrator is taken from the request context.
func (s *Service) Reset(ctx context.Context, subject domain.EmployeeID) error {
	if subject.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "employee id is required")
	}
	unlock := s.locks.Lock(subject)
	defer unlock()

	if err := s.store.ResetFailures(ctx, subject); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset failure counter")
	}
	if err := s.store.ClearLockout(ctx, subject); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear lockout")
	}
	_, err := s.auditor.Append(ctx, ledger.CategoryAccess, ledger.SubtypeLockoutReset, subject.String(), ledger.Details{
		"admin": requestcontext.Admin(ctx),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to audit lockout reset",
			"employee_id", subject.String(),
			"error", err,
		)
	}
	return nil
}
