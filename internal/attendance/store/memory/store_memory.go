package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"attendguard/internal/attendance"
	"attendguard/internal/geofence"
	"attendguard/pkg/domain"
	"attendguard/pkg/platform/sentinel"
)

// Directory is an in-memory employee and location directory.
type Directory struct {
	mu        sync.RWMutex
	employees map[domain.EmployeeID]attendance.Employee
	locations []geofence.Location
}

func NewDirectory() *Directory {
	return &Directory{employees: make(map[domain.EmployeeID]attendance.Employee)}
}

// PutEmployee adds or replaces an employee.
func (d *Directory) PutEmployee(emp attendance.Employee) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.employees[emp.ID] = emp
}

// PutLocation adds or replaces a location after validating it.
func (d *Directory) PutLocation(loc geofence.Location) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.locations {
		if existing.ID == loc.ID {
			d.locations[i] = loc
			return nil
		}
	}
	d.locations = append(d.locations, loc)
	return nil
}

func (d *Directory) FindByCode(_ context.Context, code string) (*attendance.Employee, error) {
	return d.find(func(e attendance.Employee) bool { return e.Code == code }, "code "+code)
}

func (d *Directory) FindByPhone(_ context.Context, phone string) (*attendance.Employee, error) {
	return d.find(func(e attendance.Employee) bool { return e.Phone != "" && e.Phone == phone }, "phone")
}

func (d *Directory) FindByID(_ context.Context, id domain.EmployeeID) (*attendance.Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	emp, ok := d.employees[id]
	if !ok {
		return nil, fmt.Errorf("employee %s: %w", id, sentinel.ErrNotFound)
	}
	return &emp, nil
}

func (d *Directory) Locations(_ context.Context) ([]geofence.Location, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.locations), nil
}

func (d *Directory) find(match func(attendance.Employee) bool, what string) (*attendance.Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, emp := range d.employees {
		if match(emp) {
			return &emp, nil
		}
	}
	return nil, fmt.Errorf("employee %s: %w", what, sentinel.ErrNotFound)
}

type dayKey struct {
	employee domain.EmployeeID
	workDate string
}

// RecordStore keeps attendance actions per employee and work date. Insert
// fails with ErrConflict when the sequence slot is already taken.
type RecordStore struct {
	mu      sync.RWMutex
	records map[dayKey][]attendance.Record
}

func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[dayKey][]attendance.Record)}
}

func (s *RecordStore) LastAction(_ context.Context, id domain.EmployeeID, workDate string) (*attendance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day := s.records[dayKey{id, workDate}]
	if len(day) == 0 {
		return nil, fmt.Errorf("attendance for %s on %s: %w", id, workDate, sentinel.ErrNotFound)
	}
	last := day[len(day)-1]
	return &last, nil
}

func (s *RecordStore) Insert(_ context.Context, record attendance.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dayKey{record.EmployeeID, record.WorkDate}
	day := s.records[key]
	if record.Seq != len(day)+1 {
		return fmt.Errorf("attendance seq %d for %s: %w", record.Seq, record.EmployeeID, sentinel.ErrConflict)
	}
	s.records[key] = append(day, record)
	return nil
}

// Day returns the actions recorded for one employee and work date in order.
func (s *RecordStore) Day(id domain.EmployeeID, workDate string) []attendance.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records[dayKey{id, workDate}])
}
