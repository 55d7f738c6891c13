package device

import (
	"time"

	"attendguard/pkg/domain"
)

// Code is the outcome of one reconciliation.
type Code string

const (
	CodeFirstBinding        Code = "first_binding"
	CodeTokenMatch          Code = "token_match"
	CodeRotated             Code = "token_rotated"
	CodeTokenOwnedByAnother Code = "token_owned_by_another"
	CodeDeviceMismatch      Code = "device_mismatch"
)

// Trusted reports whether the code allows the check-in to continue.
func (c Code) Trusted() bool {
	switch c {
	case CodeFirstBinding, CodeTokenMatch, CodeRotated:
		return true
	}
	return false
}

// Binding ties one employee to one trusted device. The token is authoritative;
// the fingerprint is a weaker fallback used only to migrate to a new token.
type Binding struct {
	EmployeeID  domain.EmployeeID
	Token       string
	Fingerprint string
	BoundAt     time.Time
	RotatedAt   *time.Time
}

// Verdict is the result handed back to the orchestrator. TokenHint is a short
// digest of the token, never the token itself.
type Verdict struct {
	Code         Code   `json:"code"`
	Trusted      bool   `json:"trusted"`
	FirstBinding bool   `json:"first_binding"`
	Rotated      bool   `json:"rotated"`
	TokenHint    string `json:"token_hint"`
	// AuditFailed is set when the ledger entry for this verdict could not be written.
	AuditFailed bool `json:"-"`

	pending   *pendingChange
	committed bool
}

// pendingChange is a first binding or rotation decided by Reconcile but not
// yet persisted.
type pendingChange struct {
	token         string
	fingerprint   string
	previousToken string
	at            time.Time
}
