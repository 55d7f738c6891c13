package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"attendguard/internal/device"
	"attendguard/internal/platform/postgres"
	"attendguard/pkg/domain"
	"attendguard/pkg/platform/sentinel"
	txcontext "attendguard/pkg/platform/tx"
)

// Store persists device bindings in PostgreSQL. Uniqueness on employee_id and
// token is enforced by the table, so concurrent binds from several processes
// surface as sentinel.ErrConflict.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const bindingColumns = `employee_id, token, fingerprint, bound_at, rotated_at`

func (s *Store) FindByEmployee(ctx context.Context, employeeID domain.EmployeeID) (*device.Binding, error) {
	row := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+bindingColumns+` FROM device_bindings WHERE employee_id = $1`, int64(employeeID))
	return scanBinding(row)
}

func (s *Store) FindByToken(ctx context.Context, token string) (*device.Binding, error) {
	row := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+bindingColumns+` FROM device_bindings WHERE token = $1`, token)
	return scanBinding(row)
}

func (s *Store) Bind(ctx context.Context, binding device.Binding) error {
	_, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO device_bindings (employee_id, token, fingerprint, bound_at)
		VALUES ($1, $2, $3, $4)
	`, int64(binding.EmployeeID), binding.Token, binding.Fingerprint, binding.BoundAt)
	if postgres.IsUniqueViolation(err, "") {
		return fmt.Errorf("bind device: %w", sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("bind device: %w", err)
	}
	return nil
}

func (s *Store) Rotate(ctx context.Context, employeeID domain.EmployeeID, currentToken, newToken string, at time.Time) error {
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE device_bindings
		SET token = $3, rotated_at = $4
		WHERE employee_id = $1 AND token = $2
	`, int64(employeeID), currentToken, newToken, at)
	if postgres.IsUniqueViolation(err, "device_bindings_token_key") {
		return fmt.Errorf("rotate device token: %w", sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("rotate device token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate device token: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("token changed concurrently: %w", sentinel.ErrConflict)
	}
	return nil
}

func (s *Store) Unbind(ctx context.Context, employeeID domain.EmployeeID, token string) error {
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx,
		`DELETE FROM device_bindings WHERE employee_id = $1 AND token = $2`, int64(employeeID), token)
	if err != nil {
		return fmt.Errorf("unbind device: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("unbind device: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("device binding: %w", sentinel.ErrNotFound)
	}
	return nil
}

func scanBinding(row *sql.Row) (*device.Binding, error) {
	var (
		b         device.Binding
		id        int64
		rotatedAt sql.NullTime
	)
	err := row.Scan(&id, &b.Token, &b.Fingerprint, &b.BoundAt, &rotatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device binding: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan device binding: %w", err)
	}
	b.EmployeeID = domain.EmployeeID(id)
	if rotatedAt.Valid {
		t := rotatedAt.Time
		b.RotatedAt = &t
	}
	return &b, nil
}
