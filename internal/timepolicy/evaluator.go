// Package timepolicy decides whether a check-in is permitted at an instant.
// Layers run in a fixed order (global, employee, department, holiday) and the
// first denial wins.
package timepolicy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"time"

	"attendguard/pkg/domain"
	"attendguard/pkg/platform/sentinel"
)

// OverrideSource supplies per-employee and per-department overrides. Both
// methods return sentinel.ErrNotFound when no override exists.
type OverrideSource interface {
	EmployeeOverride(ctx context.Context, id domain.EmployeeID) (*Override, error)
	DepartmentOverride(ctx context.Context, department string) (*Override, error)
}

// Calendar reports holidays. Holiday returns sentinel.ErrNotFound for
// ordinary days.
type Calendar interface {
	Holiday(ctx context.Context, day time.Time) (*Holiday, error)
}

type Evaluator struct {
	policy    Policy
	overrides OverrideSource
	calendar  Calendar
	location  *time.Location
	logger    *slog.Logger
}

type Option func(*Evaluator)

func WithOverrides(src OverrideSource) Option {
	return func(e *Evaluator) {
		e.overrides = src
	}
}

func WithCalendar(c Calendar) Option {
	return func(e *Evaluator) {
		e.calendar = c
	}
}

// WithLocation sets the zone work hours are expressed in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(e *Evaluator) {
		if loc != nil {
			e.location = loc
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

func New(policy Policy, opts ...Option) *Evaluator {
	e := &Evaluator{
		policy:    policy,
		overrides: StaticOverrides{},
		calendar:  StaticCalendar{},
		location:  time.UTC,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) Policy() Policy { return e.policy }

// Location is the zone used for work hours and work dates.
func (e *Evaluator) Location() *time.Location { return e.location }

// Evaluate runs every layer for subject at the given instant. A lookup
// failure denies with RestrictionUnavailable.
func (e *Evaluator) Evaluate(ctx context.Context, subject Subject, at time.Time) Result {
	local := at.In(e.location)

	empOverride, err := e.employeeOverride(ctx, subject.EmployeeID)
	if err != nil {
		return e.unavailable(ctx, subject, LayerEmployee, err)
	}

	checked := make([]string, 0, 4)
	layers := []struct {
		name string
		run  func() (Result, error)
	}{
		{LayerGlobal, func() (Result, error) { return e.checkGlobal(local, empOverride), nil }},
		{LayerEmployee, func() (Result, error) { return checkEmployee(local, empOverride), nil }},
		{LayerDepartment, func() (Result, error) { return e.checkDepartment(ctx, subject.Department) }},
		{LayerHoliday, func() (Result, error) { return e.checkHoliday(ctx, local) }},
	}

	var tag RestrictionType
	for _, layer := range layers {
		res, err := layer.run()
		if err != nil {
			return e.unavailable(ctx, subject, layer.name, err)
		}
		checked = append(checked, layer.name)
		if !res.Allowed {
			res.Checked = checked
			return res
		}
		if res.RestrictionType != RestrictionNone {
			tag = res.RestrictionType
		}
	}
	return Result{
		Allowed:         true,
		Message:         "Check-in allowed",
		RestrictionType: tag,
		Checked:         checked,
	}
}

func (e *Evaluator) unavailable(ctx context.Context, subject Subject, layer string, err error) Result {
	e.logger.ErrorContext(ctx, "time restriction lookup failed",
		"employee_id", subject.EmployeeID.String(),
		"layer", layer,
		"error", err,
	)
	return Result{
		Message:         "Unable to verify time restrictions",
		RestrictionType: RestrictionUnavailable,
	}
}

// checkGlobal enforces weekday, work hours and breaks. An employee work-hour
// window replaces the global one; it is enforced by the employee layer.
func (e *Evaluator) checkGlobal(local time.Time, empOverride *Override) Result {
	g := e.policy.Global
	if !g.Enabled {
		return Result{Allowed: true, Message: "Global restrictions disabled"}
	}
	if !slices.Contains(g.AllowedDays, local.Weekday()) {
		return Result{
			Message:         fmt.Sprintf("Check-in not allowed on %s", local.Weekday()),
			RestrictionType: RestrictionDayOfWeek,
		}
	}
	now := ClockOf(local)
	if empOverride == nil || empOverride.WorkHours == nil {
		if !g.WorkHours.Contains(now) {
			return Result{
				Message:         fmt.Sprintf("Check-in only allowed between %s and %s", g.WorkHours.Start, g.WorkHours.End),
				RestrictionType: RestrictionWorkHours,
			}
		}
	}
	for _, b := range g.Breaks {
		if b.Contains(now) {
			desc := b.Description
			if desc == "" {
				desc = "break time"
			}
			return Result{
				Message:         fmt.Sprintf("Check-in not allowed during %s", desc),
				RestrictionType: RestrictionBreakTime,
			}
		}
	}
	return Result{Allowed: true, Message: "Global restrictions passed"}
}

func checkEmployee(local time.Time, o *Override) Result {
	if o == nil {
		return Result{Allowed: true, Message: "No employee-specific restrictions"}
	}
	if o.Disabled {
		return Result{Message: "Employee check-in is disabled", RestrictionType: RestrictionEmployeeDisabled}
	}
	if o.WorkHours != nil && !o.WorkHours.Contains(ClockOf(local)) {
		return Result{
			Message:         fmt.Sprintf("Employee check-in only allowed between %s and %s", o.WorkHours.Start, o.WorkHours.End),
			RestrictionType: RestrictionEmployeeWorkHours,
		}
	}
	return Result{Allowed: true, Message: "Employee restrictions passed"}
}

func (e *Evaluator) checkDepartment(ctx context.Context, department string) (Result, error) {
	if department == "" {
		return Result{Allowed: true, Message: "No department-specific restrictions"}, nil
	}
	o, err := e.overrides.DepartmentOverride(ctx, department)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Result{Allowed: true, Message: "No department-specific restrictions"}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if o.Disabled {
		return Result{
			Message:         fmt.Sprintf("Check-in disabled for %s department", department),
			RestrictionType: RestrictionDepartmentOff,
		}, nil
	}
	return Result{Allowed: true, Message: "Department restrictions passed"}, nil
}

func (e *Evaluator) checkHoliday(ctx context.Context, local time.Time) (Result, error) {
	if !e.policy.Holiday.Enabled {
		return Result{Allowed: true, Message: "Holiday restrictions disabled"}, nil
	}
	h, err := e.calendar.Holiday(ctx, local)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Result{Allowed: true, Message: "Holiday restrictions passed"}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if !e.policy.Holiday.AllowEmergency {
		return Result{
			Message:         fmt.Sprintf("Check-in not allowed on holidays (%s)", h.Description),
			RestrictionType: RestrictionHoliday,
		}, nil
	}
	return Result{
		Allowed:         true,
		Message:         "Emergency check-in allowed on holiday",
		RestrictionType: RestrictionEmergencyHoliday,
	}, nil
}

func (e *Evaluator) employeeOverride(ctx context.Context, id domain.EmployeeID) (*Override, error) {
	o, err := e.overrides.EmployeeOverride(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	return o, err
}

// IsLate reports whether a check-in at the given instant is past the late
// threshold plus allowance.
func (e *Evaluator) IsLate(at time.Time) bool {
	g := e.policy.Global
	cutoff := g.LateAfter + ClockTime(g.LateAllowance/time.Second)
	return ClockOf(at.In(e.location)) > cutoff
}

// CheckWorkDuration compares a worked duration against the configured bounds.
func (e *Evaluator) CheckWorkDuration(d time.Duration) DurationCheck {
	g := e.policy.Global
	res := DurationCheck{
		Duration: d,
		Hours:    math.Round(d.Hours()*100) / 100,
	}
	switch {
	case g.MinWorkDuration > 0 && d < g.MinWorkDuration:
		res.TooShort = true
		res.Warning = fmt.Sprintf("Work duration %s is below the minimum of %s", d.Round(time.Minute), g.MinWorkDuration)
	case g.MaxWorkDuration > 0 && d > g.MaxWorkDuration:
		res.TooLong = true
		res.Warning = fmt.Sprintf("Work duration %s exceeds the maximum of %s", d.Round(time.Minute), g.MaxWorkDuration)
	}
	return res
}
