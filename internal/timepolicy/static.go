package timepolicy

import (
	"context"
	"fmt"
	"time"

	"attendguard/pkg/domain"
	"attendguard/pkg/platform/sentinel"
)

// StaticOverrides serves overrides from configuration.
type StaticOverrides struct {
	Employees   map[domain.EmployeeID]Override
	Departments map[string]Override
}

func (s StaticOverrides) EmployeeOverride(_ context.Context, id domain.EmployeeID) (*Override, error) {
	o, ok := s.Employees[id]
	if !ok {
		return nil, fmt.Errorf("override for employee %s: %w", id, sentinel.ErrNotFound)
	}
	return &o, nil
}

func (s StaticOverrides) DepartmentOverride(_ context.Context, department string) (*Override, error) {
	o, ok := s.Departments[department]
	if !ok {
		return nil, fmt.Errorf("override for department %q: %w", department, sentinel.ErrNotFound)
	}
	return &o, nil
}

// StaticCalendar maps dates ("2006-01-02") to holiday descriptions.
type StaticCalendar map[string]string

func (c StaticCalendar) Holiday(_ context.Context, day time.Time) (*Holiday, error) {
	key := day.Format(time.DateOnly)
	desc, ok := c[key]
	if !ok {
		return nil, fmt.Errorf("holiday %s: %w", key, sentinel.ErrNotFound)
	}
	y, m, d := day.Date()
	return &Holiday{Date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Description: desc}, nil
}
