package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"attendguard/internal/attendance"
	"attendguard/internal/geofence"
	"attendguard/internal/platform/postgres"
	"attendguard/pkg/domain"
	"attendguard/pkg/platform/sentinel"
	txcontext "attendguard/pkg/platform/tx"
)

// Store reads employees and locations and persists attendance actions. The
// attendance_sequence_key constraint serializes writers across processes.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const employeeColumns = `id, code, COALESCE(phone, ''), name, department, active`

func (s *Store) FindByCode(ctx context.Context, code string) (*attendance.Employee, error) {
	return s.findEmployee(ctx, `WHERE code = $1`, code)
}

func (s *Store) FindByPhone(ctx context.Context, phone string) (*attendance.Employee, error) {
	return s.findEmployee(ctx, `WHERE phone = $1`, phone)
}

func (s *Store) FindByID(ctx context.Context, id domain.EmployeeID) (*attendance.Employee, error) {
	return s.findEmployee(ctx, `WHERE id = $1`, int64(id))
}

func (s *Store) findEmployee(ctx context.Context, where string, arg any) (*attendance.Employee, error) {
	var (
		emp attendance.Employee
		id  int64
	)
	err := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+employeeColumns+` FROM employees `+where, arg).
		Scan(&id, &emp.Code, &emp.Phone, &emp.Name, &emp.Department, &emp.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find employee: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find employee: %w", err)
	}
	emp.ID = domain.EmployeeID(id)
	return &emp, nil
}

// PutEmployee inserts or updates an employee by id.
func (s *Store) PutEmployee(ctx context.Context, emp attendance.Employee) error {
	var phone sql.NullString
	if emp.Phone != "" {
		phone = sql.NullString{String: emp.Phone, Valid: true}
	}
	_, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO employees (id, code, phone, name, department, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			phone = EXCLUDED.phone,
			name = EXCLUDED.name,
			department = EXCLUDED.department,
			active = EXCLUDED.active
	`, int64(emp.ID), emp.Code, phone, emp.Name, emp.Department, emp.Active)
	if postgres.IsUniqueViolation(err, "") {
		return fmt.Errorf("put employee: %w", sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("put employee: %w", err)
	}
	return nil
}

func (s *Store) Locations(ctx context.Context) ([]geofence.Location, error) {
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx,
		`SELECT id, name, latitude, longitude, radius_meters FROM locations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	var out []geofence.Location
	for rows.Next() {
		var (
			loc geofence.Location
			id  int64
		)
		if err := rows.Scan(&id, &loc.Name, &loc.Latitude, &loc.Longitude, &loc.RadiusMeters); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		loc.ID = domain.LocationID(id)
		out = append(out, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	return out, nil
}

// AddLocation validates and stores a location, returning its assigned id.
func (s *Store) AddLocation(ctx context.Context, loc geofence.Location) (domain.LocationID, error) {
	if err := loc.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO locations (name, latitude, longitude, radius_meters)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, loc.Name, loc.Latitude, loc.Longitude, loc.RadiusMeters).Scan(&id)
	if postgres.IsUniqueViolation(err, "") {
		return 0, fmt.Errorf("add location %q: %w", loc.Name, sentinel.ErrConflict)
	}
	if err != nil {
		return 0, fmt.Errorf("add location: %w", err)
	}
	return domain.LocationID(id), nil
}

func (s *Store) LastAction(ctx context.Context, id domain.EmployeeID, workDate string) (*attendance.Record, error) {
	var (
		rec        attendance.Record
		employeeID int64
		day        time.Time
		action     string
		locationID sql.NullInt64
		seconds    sql.NullInt64
	)
	err := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, employee_id, work_date, seq, action, checked_at, location_id, work_duration_seconds
		FROM attendance
		WHERE employee_id = $1 AND work_date = $2::date
		ORDER BY seq DESC
		LIMIT 1
	`, int64(id), workDate).Scan(&rec.ID, &employeeID, &day, &rec.Seq, &action, &rec.CheckedAt, &locationID, &seconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("last attendance action: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("last attendance action: %w", err)
	}
	rec.EmployeeID = domain.EmployeeID(employeeID)
	rec.WorkDate = day.Format(time.DateOnly)
	rec.Action = attendance.ActionType(action)
	if locationID.Valid {
		rec.LocationID = domain.LocationID(locationID.Int64)
	}
	if seconds.Valid {
		d := time.Duration(seconds.Int64) * time.Second
		rec.WorkDuration = &d
	}
	return &rec, nil
}

func (s *Store) Insert(ctx context.Context, rec attendance.Record) error {
	var seconds sql.NullInt64
	if rec.WorkDuration != nil {
		seconds = sql.NullInt64{Int64: int64(rec.WorkDuration.Seconds()), Valid: true}
	}
	var locationID sql.NullInt64
	if rec.LocationID != 0 {
		locationID = sql.NullInt64{Int64: int64(rec.LocationID), Valid: true}
	}
	_, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO attendance (id, employee_id, work_date, seq, action, checked_at, location_id, work_duration_seconds)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8)
	`, rec.ID, int64(rec.EmployeeID), rec.WorkDate, rec.Seq, string(rec.Action), rec.CheckedAt, locationID, seconds)
	if postgres.IsUniqueViolation(err, "attendance_sequence_key") {
		return fmt.Errorf("insert attendance seq %d: %w", rec.Seq, sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert attendance: %w", err)
	}
	return nil
}
