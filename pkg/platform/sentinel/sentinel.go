package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into verdicts or coded errors.
//
//   - ErrNotFound: record does not exist (employee, binding, challenge)
//   - ErrConflict: a uniqueness guard rejected the write (token already bound, sequence slot taken)
//   - ErrExpired: challenge or lockout is past its expiry
//   - ErrAlreadyUsed: single-use challenge already claimed
//   - ErrInvalidState: record in the wrong state for the operation
//   - ErrUnavailable: backing service temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
