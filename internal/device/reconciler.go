// Package device decides whether a reporting device is the employee's bound
// device and governs first-use binding and token rotation.
package device

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
	"attendguard/pkg/platform/privacy"
	"attendguard/pkg/platform/sentinel"
	"attendguard/pkg/requestcontext"
)

// Store persists bindings. Bind fails with sentinel.ErrConflict when the
// employee is already bound or the token belongs to someone else. Rotate is a
// compare-and-swap on the current token. Unbind removes the binding only while
// it still holds token.
type Store interface {
	FindByEmployee(ctx context.Context, employeeID domain.EmployeeID) (*Binding, error)
	FindByToken(ctx context.Context, token string) (*Binding, error)
	Bind(ctx context.Context, binding Binding) error
	Rotate(ctx context.Context, employeeID domain.EmployeeID, currentToken, newToken string, at time.Time) error
	Unbind(ctx context.Context, employeeID domain.EmployeeID, token string) error
}

// Auditor records verdicts in the ledger.
type Auditor interface {
	Append(ctx context.Context, category ledger.Category, subtype, subjectID string, details ledger.Details) (ledger.Entry, error)
}

type Reconciler struct {
	store   Store
	auditor Auditor
	locks   *keylock.Locker[domain.EmployeeID]
	logger  *slog.Logger
}

type Option func(*Reconciler)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

func New(store Store, auditor Auditor, opts ...Option) (*Reconciler, error) {
	if store == nil {
		return nil, errors.New("device store is required")
	}
	if auditor == nil {
		return nil, errors.New("auditor is required")
	}
	r := &Reconciler{
		store:   store,
		auditor: auditor,
		locks:   keylock.New[domain.EmployeeID](),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Reconcile applies the binding rules for one incoming device. A token already
// bound to another employee is rejected before anything else is considered.
// Reconcile never writes a binding: a first binding or a rotation comes back
// pending on the verdict and is persisted by Commit once the check-in is
// otherwise accepted. Every outcome writes exactly one security ledger entry.
func (r *Reconciler) Reconcile(ctx context.Context, employeeID domain.EmployeeID, token, fingerprint string) (Verdict, error) {
	if employeeID.IsZero() {
		return Verdict{}, dErrors.New(dErrors.CodeInvalidInput, "employee id is required")
	}
	if token == "" {
		return Verdict{}, dErrors.New(dErrors.CodeInvalidInput, "device token is required")
	}

	unlock := r.locks.Lock(employeeID)
	defer unlock()

	code, change, err := r.reconcile(ctx, employeeID, token, fingerprint)
	if err != nil {
		return Verdict{}, dErrors.Wrap(err, dErrors.CodeInternal, "device reconciliation failed")
	}
	verdict := newVerdict(code, token)
	verdict.pending = change
	verdict.AuditFailed = !r.audit(ctx, employeeID, verdict, fingerprint, nil)
	return verdict, nil
}

func (r *Reconciler) reconcile(ctx context.Context, employeeID domain.EmployeeID, token, fingerprint string) (Code, *pendingChange, error) {
	owner, err := r.store.FindByToken(ctx, token)
	switch {
	case err == nil && owner.EmployeeID != employeeID:
		return CodeTokenOwnedByAnother, nil, nil
	case err != nil && !errors.Is(err, sentinel.ErrNotFound):
		return "", nil, err
	}

	now := requestcontext.Now(ctx)
	bound, err := r.store.FindByEmployee(ctx, employeeID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return CodeFirstBinding, &pendingChange{token: token, fingerprint: fingerprint, at: now}, nil
	}
	if err != nil {
		return "", nil, err
	}

	if bound.Token == token {
		return CodeTokenMatch, nil, nil
	}
	if fingerprint != "" && bound.Fingerprint == fingerprint {
		return CodeRotated, &pendingChange{token: token, fingerprint: fingerprint, previousToken: bound.Token, at: now}, nil
	}
	return CodeDeviceMismatch, nil, nil
}

// Commit persists the binding change carried by a trusted verdict. When
// another writer got there first the verdict is downgraded, audited and
// returned untrusted; only a lost Bind on a token that now belongs to someone
// else reports CodeTokenOwnedByAnother.
func (r *Reconciler) Commit(ctx context.Context, employeeID domain.EmployeeID, v Verdict) (Verdict, error) {
	if !v.Trusted || v.pending == nil {
		return v, nil
	}
	unlock := r.locks.Lock(employeeID)
	defer unlock()

	p := v.pending
	var err error
	if v.FirstBinding {
		err = r.store.Bind(ctx, Binding{
			EmployeeID:  employeeID,
			Token:       p.token,
			Fingerprint: p.fingerprint,
			BoundAt:     p.at,
		})
	} else {
		err = r.store.Rotate(ctx, employeeID, p.previousToken, p.token, p.at)
	}
	if err == nil {
		if v.Rotated {
			r.logger.InfoContext(ctx, "device token rotated",
				"employee_id", employeeID.String(),
				"old_token", privacy.HashIdentifier(p.previousToken),
				"new_token", privacy.HashIdentifier(p.token),
			)
		}
		v.committed = true
		return v, nil
	}
	if !errors.Is(err, sentinel.ErrConflict) {
		return v, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist device binding")
	}

	code := CodeDeviceMismatch
	if v.FirstBinding {
		owner, ferr := r.store.FindByToken(ctx, p.token)
		if ferr == nil && owner.EmployeeID != employeeID {
			code = CodeTokenOwnedByAnother
		}
	}
	lost := newVerdict(code, p.token)
	lost.AuditFailed = !r.audit(ctx, employeeID, lost, p.fingerprint, ledger.Details{"commit_conflict": true})
	return lost, nil
}

// Release undoes a change persisted by Commit when the check-in it belonged
// to was not recorded after all.
func (r *Reconciler) Release(ctx context.Context, employeeID domain.EmployeeID, v Verdict) error {
	if !v.committed || v.pending == nil {
		return nil
	}
	unlock := r.locks.Lock(employeeID)
	defer unlock()

	p := v.pending
	var err error
	if v.FirstBinding {
		err = r.store.Unbind(ctx, employeeID, p.token)
	} else {
		err = r.store.Rotate(ctx, employeeID, p.token, p.previousToken, p.at)
	}
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) && !errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to release device binding")
	}
	return nil
}

func newVerdict(code Code, token string) Verdict {
	return Verdict{
		Code:         code,
		Trusted:      code.Trusted(),
		FirstBinding: code == CodeFirstBinding,
		Rotated:      code == CodeRotated,
		TokenHint:    privacy.HashIdentifier(token),
	}
}

func (r *Reconciler) audit(ctx context.Context, employeeID domain.EmployeeID, v Verdict, fingerprint string, extra ledger.Details) bool {
	subtype := ledger.SubtypeDeviceSuccess
	if !v.Trusted {
		subtype = ledger.SubtypeDeviceFailure
	}
	details := ledger.Details{
		"result":           string(v.Code),
		"token_hint":       v.TokenHint,
		"fingerprint_hint": privacy.HashIdentifier(fingerprint),
		"first_binding":    v.FirstBinding,
		"rotated":          v.Rotated,
	}
	for k, val := range extra {
		details[k] = val
	}
	if _, err := r.auditor.Append(ctx, ledger.CategorySecurity, subtype, employeeID.String(), details); err != nil {
		r.logger.ErrorContext(ctx, "failed to audit device verdict",
			"employee_id", employeeID.String(),
			"result", string(v.Code),
			"error", err,
		)
		return false
	}
	return true
}

// Binding returns the current binding for an employee.
func (r *Reconciler) Binding(ctx context.Context, employeeID domain.EmployeeID) (*Binding, error) {
	b, err := r.store.FindByEmployee(ctx, employeeID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "no device bound")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load device binding")
	}
	return b, nil
}
