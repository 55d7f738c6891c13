package domain

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	dErrors "attendguard/pkg/domain-errors"
)

// EmployeeID identifies an employee. Identifiers are positive integers so they
// survive the numeric-only QR credential field.
type EmployeeID int64

// LocationID identifies an approved check-in location.
type LocationID int64

// ChallengeID identifies one biometric challenge session.
type ChallengeID uuid.UUID

// ParseEmployeeID validates a decimal employee identifier.
func ParseEmployeeID(s string) (EmployeeID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "employee id is required")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "employee id must be a positive integer")
	}
	return EmployeeID(v), nil
}

func (id EmployeeID) String() string { return strconv.FormatInt(int64(id), 10) }

// IsZero reports whether the id was never assigned.
func (id EmployeeID) IsZero() bool { return id == 0 }

func (id LocationID) String() string { return strconv.FormatInt(int64(id), 10) }

// NewChallengeID returns a random challenge id.
func NewChallengeID() ChallengeID { return ChallengeID(uuid.New()) }

// ParseChallengeID validates a challenge session id.
func ParseChallengeID(s string) (ChallengeID, error) {
	if s == "" {
		return ChallengeID{}, dErrors.New(dErrors.CodeInvalidInput, "session id is required")
	}
	u, err := uuid.Parse(s)
	if err != nil || u == uuid.Nil {
		return ChallengeID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid session id")
	}
	return ChallengeID(u), nil
}

func (id ChallengeID) String() string { return uuid.UUID(id).String() }

// IsNil reports whether the id is the zero UUID.
func (id ChallengeID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
