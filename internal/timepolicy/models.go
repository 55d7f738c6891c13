package timepolicy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"attendguard/pkg/domain"
)

// RestrictionType names the rule that produced a result.
type RestrictionType string

const (
	RestrictionNone              RestrictionType = ""
	RestrictionDayOfWeek         RestrictionType = "day_of_week"
	RestrictionWorkHours         RestrictionType = "work_hours"
	RestrictionBreakTime         RestrictionType = "break_time"
	RestrictionEmployeeDisabled  RestrictionType = "employee_disabled"
	RestrictionEmployeeWorkHours RestrictionType = "employee_work_hours"
	RestrictionDepartmentOff     RestrictionType = "department_disabled"
	RestrictionHoliday           RestrictionType = "holiday"
	RestrictionEmergencyHoliday  RestrictionType = "emergency_holiday"
	RestrictionUnavailable       RestrictionType = "evaluation_failed"
)

// Layer names, in evaluation order.
const (
	LayerGlobal     = "global"
	LayerEmployee   = "employee"
	LayerDepartment = "department"
	LayerHoliday    = "holiday"
)

// ClockTime is a time of day in seconds since midnight.
type ClockTime int

// ParseClock parses "HH:MM" or "HH:MM:SS".
func ParseClock(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	limits := []int{23, 59, 59}
	total := 0
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] || len(p) != 2 {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
		total = total*60 + n
	}
	if len(parts) == 2 {
		total *= 60
	}
	return ClockTime(total), nil
}

// MustClock is ParseClock for constants.
func MustClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockOf returns the time of day of t in t's location.
func ClockOf(t time.Time) ClockTime {
	h, m, s := t.Clock()
	return ClockTime(h*3600 + m*60 + s)
}

func (c ClockTime) String() string {
	h, m, s := int(c)/3600, int(c)%3600/60, int(c)%60
	if s == 0 {
		return fmt.Sprintf("%02d:%02d", h, m)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// Window is an inclusive time-of-day range.
type Window struct {
	Start       ClockTime `json:"start"`
	End         ClockTime `json:"end"`
	Description string    `json:"description,omitempty"`
}

// Contains reports whether c is within the window, both ends included.
func (w Window) Contains(c ClockTime) bool {
	return w.Start <= c && c <= w.End
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// ParseWindow parses "HH:MM-HH:MM".
func ParseWindow(s string) (Window, error) {
	start, end, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Window{}, fmt.Errorf("invalid window %q", s)
	}
	w := Window{}
	var err error
	if w.Start, err = ParseClock(start); err != nil {
		return Window{}, err
	}
	if w.End, err = ParseClock(end); err != nil {
		return Window{}, err
	}
	if w.End < w.Start {
		return Window{}, fmt.Errorf("window %q ends before it starts", s)
	}
	return w, nil
}

// GlobalPolicy applies to every employee.
type GlobalPolicy struct {
	Enabled         bool
	WorkHours       Window
	AllowedDays     []time.Weekday
	Breaks          []Window
	MinWorkDuration time.Duration
	MaxWorkDuration time.Duration
	// LateAfter plus LateAllowance is the last on-time check-in.
	LateAfter     ClockTime
	LateAllowance time.Duration
}

// HolidayPolicy controls check-ins on calendar holidays.
type HolidayPolicy struct {
	Enabled        bool
	AllowEmergency bool
}

// Policy is the read-only configuration the evaluator works from.
type Policy struct {
	Global  GlobalPolicy
	Holiday HolidayPolicy
}

// DefaultPolicy returns Monday to Friday 08:00-17:00 with a 12:00-13:00 lunch break.
func DefaultPolicy() Policy {
	return Policy{
		Global: GlobalPolicy{
			Enabled:   true,
			WorkHours: Window{Start: MustClock("08:00"), End: MustClock("17:00")},
			AllowedDays: []time.Weekday{
				time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
			},
			Breaks:          []Window{{Start: MustClock("12:00"), End: MustClock("13:00"), Description: "Lunch Break"}},
			MinWorkDuration: 60 * time.Minute,
			MaxWorkDuration: 600 * time.Minute,
			LateAfter:       MustClock("08:30"),
			LateAllowance:   15 * time.Minute,
		},
		Holiday: HolidayPolicy{Enabled: true},
	}
}

// Override adjusts the policy for one employee or department. WorkHours is
// honored for employees only.
type Override struct {
	Disabled  bool    `json:"disabled"`
	WorkHours *Window `json:"work_hours,omitempty"`
}

// Holiday is one calendar day off.
type Holiday struct {
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
}

// Subject is who the evaluation is for.
type Subject struct {
	EmployeeID domain.EmployeeID
	Department string
}

// Result is the outcome of an evaluation.
type Result struct {
	Allowed         bool            `json:"allowed"`
	Message         string          `json:"message"`
	RestrictionType RestrictionType `json:"restriction_type,omitempty"`
	Checked         []string        `json:"restrictions_checked,omitempty"`
}

// DurationCheck is the outcome of a work-duration check. Out-of-range
// durations produce a warning, never a denial.
type DurationCheck struct {
	Duration time.Duration `json:"-"`
	Hours    float64       `json:"hours"`
	TooShort bool          `json:"too_short,omitempty"`
	TooLong  bool          `json:"too_long,omitempty"`
	Warning  string        `json:"warning,omitempty"`
}
