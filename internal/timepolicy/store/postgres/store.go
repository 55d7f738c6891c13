package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"attendguard/internal/timepolicy"
	"attendguard/pkg/domain"
	"attendguard/pkg/platform/sentinel"
	txcontext "attendguard/pkg/platform/tx"
)

const (
	kindEmployee   = "employee"
	kindDepartment = "department"
)

// Store serves overrides and the holiday calendar from PostgreSQL.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) EmployeeOverride(ctx context.Context, id domain.EmployeeID) (*timepolicy.Override, error) {
	return s.override(ctx, kindEmployee, id.String())
}

func (s *Store) DepartmentOverride(ctx context.Context, department string) (*timepolicy.Override, error) {
	return s.override(ctx, kindDepartment, department)
}

func (s *Store) override(ctx context.Context, kind, key string) (*timepolicy.Override, error) {
	var (
		o          timepolicy.Override
		start, end sql.NullString
	)
	err := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, `
		SELECT disabled, window_start, window_end
		FROM time_policy_overrides
		WHERE kind = $1 AND key = $2
	`, kind, key).Scan(&o.Disabled, &start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s override %q: %w", kind, key, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s override: %w", kind, err)
	}
	if start.Valid && end.Valid {
		w, err := timepolicy.ParseWindow(start.String + "-" + end.String)
		if err != nil {
			return nil, fmt.Errorf("%s override %q: %w", kind, key, err)
		}
		o.WorkHours = &w
	}
	return &o, nil
}

// PutEmployeeOverride creates or replaces an employee override.
func (s *Store) PutEmployeeOverride(ctx context.Context, id domain.EmployeeID, o timepolicy.Override) error {
	return s.putOverride(ctx, kindEmployee, id.String(), o)
}

// PutDepartmentOverride creates or replaces a department override.
func (s *Store) PutDepartmentOverride(ctx context.Context, department string, o timepolicy.Override) error {
	return s.putOverride(ctx, kindDepartment, department, o)
}

func (s *Store) putOverride(ctx context.Context, kind, key string, o timepolicy.Override) error {
	var start, end sql.NullString
	if o.WorkHours != nil {
		start = sql.NullString{String: o.WorkHours.Start.String(), Valid: true}
		end = sql.NullString{String: o.WorkHours.End.String(), Valid: true}
	}
	_, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO time_policy_overrides (kind, key, disabled, window_start, window_end)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, key) DO UPDATE SET
			disabled = EXCLUDED.disabled,
			window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end
	`, kind, key, o.Disabled, start, end)
	if err != nil {
		return fmt.Errorf("put %s override: %w", kind, err)
	}
	return nil
}

func (s *Store) Holiday(ctx context.Context, day time.Time) (*timepolicy.Holiday, error) {
	key := day.Format(time.DateOnly)
	var h timepolicy.Holiday
	err := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, `
		SELECT holiday_date, description FROM holidays WHERE holiday_date = $1::date
	`, key).Scan(&h.Date, &h.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("holiday %s: %w", key, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read holiday: %w", err)
	}
	h.Date = h.Date.UTC()
	return &h, nil
}

// PutHolidays upserts a set of holidays in one statement.
func (s *Store) PutHolidays(ctx context.Context, holidays []timepolicy.Holiday) error {
	if len(holidays) == 0 {
		return nil
	}
	dates := make([]string, len(holidays))
	descs := make([]string, len(holidays))
	for i, h := range holidays {
		dates[i] = h.Date.Format(time.DateOnly)
		descs[i] = h.Description
	}
	_, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO holidays (holiday_date, description)
		SELECT d::date, descr FROM unnest($1::text[], $2::text[]) AS t(d, descr)
		ON CONFLICT (holiday_date) DO UPDATE SET description = EXCLUDED.description
	`, pq.Array(dates), pq.Array(descs))
	if err != nil {
		return fmt.Errorf("put holidays: %w", err)
	}
	return nil
}

// Holidays lists holidays in [from, to], ordered by date.
func (s *Store) Holidays(ctx context.Context, from, to time.Time) ([]timepolicy.Holiday, error) {
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, `
		SELECT holiday_date, description FROM holidays
		WHERE holiday_date BETWEEN $1::date AND $2::date
		ORDER BY holiday_date
	`, from.Format(time.DateOnly), to.Format(time.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("list holidays: %w", err)
	}
	defer rows.Close()

	var out []timepolicy.Holiday
	for rows.Next() {
		var h timepolicy.Holiday
		if err := rows.Scan(&h.Date, &h.Description); err != nil {
			return nil, fmt.Errorf("scan holiday: %w", err)
		}
		h.Date = h.Date.UTC()
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holidays: %w", err)
	}
	return out, nil
}
