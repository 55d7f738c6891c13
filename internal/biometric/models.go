package biometric

import (
	"time"

	"attendguard/pkg/domain"
)

// Code is the outcome of one verification attempt.
type Code string

const (
	CodeVerified           Code = "verified"
	CodeInvalidSession     Code = "invalid_session"
	CodeSessionExpired     Code = "session_expired"
	CodeSessionAlreadyUsed Code = "session_already_used"
	CodeLockedOut          Code = "employee_locked_out"
	CodeInvalidResponse    Code = "invalid_response"
	CodeMatchRejected      Code = "match_rejected"
	CodeMatcherUnavailable Code = "matcher_unavailable"
)

// Policy holds the protocol thresholds.
type Policy struct {
	ChallengeTTL      time.Duration
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	NonceLength       int
}

// DefaultPolicy returns a 30s challenge TTL, three attempts and a five minute lockout.
func DefaultPolicy() Policy {
	return Policy{
		ChallengeTTL:      30 * time.Second,
		MaxFailedAttempts: 3,
		LockoutDuration:   5 * time.Minute,
		NonceLength:       16,
	}
}

// Challenge is one single-use verification session.
type Challenge struct {
	SessionID domain.ChallengeID
	SubjectID domain.EmployeeID
	Nonce     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Used      bool
}

// Expired reports whether the challenge is past its expiry at now.
func (c Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// FailureCounter tracks consecutive failed verifications for a subject.
type FailureCounter struct {
	SubjectID     domain.EmployeeID
	Count         int
	LastAttemptAt time.Time
}

// Lockout suspends verification for a subject until ExpiresAt.
type Lockout struct {
	SubjectID domain.EmployeeID
	LockedAt  time.Time
	ExpiresAt time.Time
}

// IssuedChallenge is what the client receives.
type IssuedChallenge struct {
	SessionID  string    `json:"session_id"`
	Nonce      string    `json:"nonce"`
	TTLSeconds int       `json:"ttl_seconds"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// VerifyRequest carries the client's answer to a challenge.
type VerifyRequest struct {
	SessionID domain.ChallengeID
	// SubjectID, when set, must match the subject the challenge was issued to.
	SubjectID      domain.EmployeeID
	Response       string
	DeviceEvidence string
	// Sample is forwarded to the matcher when one is configured.
	Sample string
}

// Outcome is the result of a verification attempt.
type Outcome struct {
	Code              Code       `json:"code"`
	Verified          bool       `json:"verified"`
	AttemptsRemaining int        `json:"attempts_remaining"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
	MatchConfidence   *float64   `json:"match_confidence,omitempty"`
	AuditFailed       bool       `json:"-"`
}

// SecurityStatus summarizes the lockout state of a subject.
type SecurityStatus struct {
	SubjectID         domain.EmployeeID `json:"employee_id"`
	LockedOut         bool              `json:"locked_out"`
	FailedAttempts    int               `json:"failed_attempts"`
	RemainingAttempts int               `json:"remaining_attempts"`
	LastFailedAt      *time.Time        `json:"last_failed_attempt,omitempty"`
	LockoutExpiresAt  *time.Time        `json:"lockout_expires_at,omitempty"`
}
