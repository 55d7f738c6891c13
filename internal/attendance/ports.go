package attendance

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"attendguard/internal/geofence"
	"attendguard/internal/ledger"
	"attendguard/pkg/domain"
)

// EmployeeDirectory is the read side of the employee and location records.
// Lookups return sentinel.ErrNotFound for unknown keys.
type EmployeeDirectory interface {
	FindByCode(ctx context.Context, code string) (*Employee, error)
	FindByPhone(ctx context.Context, phone string) (*Employee, error)
	FindByID(ctx context.Context, id domain.EmployeeID) (*Employee, error)
	Locations(ctx context.Context) ([]geofence.Location, error)
}

// RecordStore persists attendance actions. LastAction returns
// sentinel.ErrNotFound when the employee has no action on workDate; Insert
// returns sentinel.ErrConflict when (employee, workDate, seq) is taken.
type RecordStore interface {
	LastAction(ctx context.Context, id domain.EmployeeID, workDate string) (*Record, error)
	Insert(ctx context.Context, record Record) error
}

// AuditLedger is the ledger surface the orchestrator writes to and reads from.
type AuditLedger interface {
	Append(ctx context.Context, category ledger.Category, subtype, subjectID string, details ledger.Details) (ledger.Entry, error)
	Query(ctx context.Context, filter ledger.Filter) (*ledger.Report, error)
}
