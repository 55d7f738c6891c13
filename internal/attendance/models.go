package attendance

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"attendguard/internal/biometric"
	"attendguard/internal/device"
	"attendguard/internal/geofence"
	"attendguard/internal/timepolicy"
	"attendguard/pkg/domain"
)

// ActionType is the attendance transition a request asks for.
type ActionType string

const (
	ActionCheckIn  ActionType = "check_in"
	ActionCheckOut ActionType = "check_out"
)

// ParseAction accepts the canonical names and the display forms.
func ParseAction(s string) (ActionType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "check_in", "check-in", "checkin", "":
		return ActionCheckIn, true
	case "check_out", "check-out", "checkout":
		return ActionCheckOut, true
	}
	return "", false
}

// Outcome is the terminal state of an evaluation.
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
)

// ReasonCode explains a denial. Callers branch on it, never on Message.
type ReasonCode string

const (
	ReasonNone                ReasonCode = ""
	ReasonInvalidRequest      ReasonCode = "invalid_request"
	ReasonNotFound            ReasonCode = "employee_not_found"
	ReasonEmployeeInactive    ReasonCode = "employee_inactive"
	ReasonQRInvalid           ReasonCode = "qr_invalid"
	ReasonQRExpired           ReasonCode = "qr_expired"
	ReasonTimeRestricted      ReasonCode = "time_restricted"
	ReasonLocationUnavailable ReasonCode = "location_unavailable"
	ReasonNoApprovedLocations ReasonCode = "no_approved_locations"
	ReasonOutsideGeofence     ReasonCode = "outside_geofence"
	ReasonTokenOwnedByAnother ReasonCode = "token_owned_by_another"
	ReasonDeviceMismatch      ReasonCode = "device_mismatch"
	ReasonBiometricFailed     ReasonCode = "biometric_failed"
	ReasonEmployeeLockedOut   ReasonCode = "employee_locked_out"
	ReasonDuplicateCheckIn    ReasonCode = "duplicate_check_in"
	ReasonCheckOutBeforeIn    ReasonCode = "check_out_before_check_in"
	ReasonStorageError        ReasonCode = "storage_error"
)

// Employee is the projection of the employee record the engine needs.
type Employee struct {
	ID         domain.EmployeeID `json:"id"`
	Code       string            `json:"code"`
	Phone      string            `json:"-"`
	Name       string            `json:"name"`
	Department string            `json:"department,omitempty"`
	Active     bool              `json:"active"`
}

// IdentifierKind tells how an identifier is looked up.
type IdentifierKind string

const (
	IdentifierCode  IdentifierKind = "code"
	IdentifierPhone IdentifierKind = "phone"
)

// ClassifyIdentifier treats an all-digit identifier longer than six
// characters as a phone number and anything else as an employee code.
func ClassifyIdentifier(identifier string) IdentifierKind {
	if len(identifier) > 6 && isDigits(identifier) {
		return IdentifierPhone
	}
	return IdentifierCode
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// BiometricEvidence is the client's answer to a previously issued challenge.
type BiometricEvidence struct {
	SessionID      string `json:"session_id"`
	Response       string `json:"response"`
	DeviceEvidence string `json:"device_evidence"`
	Sample         string `json:"sample,omitempty"`
}

// Request carries the raw evidence of one check-in or check-out.
type Request struct {
	Identifier        string
	QRPayload         string
	Action            ActionType
	Coordinates       *geofence.Coordinates
	DeviceToken       string
	DeviceFingerprint string
	UserAgent         string
	Biometric         *BiometricEvidence
}

// Record is one persisted attendance action. Seq orders actions within a
// work date and is unique per employee and date.
type Record struct {
	ID           uuid.UUID
	EmployeeID   domain.EmployeeID
	WorkDate     string
	Seq          int
	Action       ActionType
	CheckedAt    time.Time
	LocationID   domain.LocationID
	WorkDuration *time.Duration
}

// GeofenceVerdict is the presentation form of a geofence result.
type GeofenceVerdict struct {
	Code           geofence.Code     `json:"code"`
	Inside         bool              `json:"inside"`
	LocationID     domain.LocationID `json:"location_id,omitempty"`
	LocationName   string            `json:"location_name,omitempty"`
	DistanceMeters float64           `json:"distance_meters"`
}

func newGeofenceVerdict(r geofence.Result) *GeofenceVerdict {
	v := &GeofenceVerdict{Code: r.Code, Inside: r.Inside, DistanceMeters: r.RoundedDistance()}
	if r.Nearest != nil {
		v.LocationID = r.Nearest.ID
		v.LocationName = r.Nearest.Name
	}
	return v
}

// Decision is the single structured outcome of an evaluation.
type Decision struct {
	Outcome      Outcome                   `json:"outcome"`
	Reason       ReasonCode                `json:"reason,omitempty"`
	Message      string                    `json:"message"`
	Action       ActionType                `json:"action"`
	Employee     *Employee                 `json:"employee,omitempty"`
	RecordID     string                    `json:"record_id,omitempty"`
	Device       *device.Verdict           `json:"device,omitempty"`
	Biometric    *biometric.Outcome        `json:"biometric,omitempty"`
	Geofence     *GeofenceVerdict          `json:"geofence,omitempty"`
	Time         *timepolicy.Result        `json:"time,omitempty"`
	Late         bool                      `json:"late,omitempty"`
	WorkDuration *timepolicy.DurationCheck `json:"work_duration,omitempty"`
	Warnings     []string                  `json:"warnings,omitempty"`
	AuditFailed  bool                      `json:"audit_failed,omitempty"`
	EvaluatedAt  time.Time                 `json:"evaluated_at"`
}

// Allowed reports whether the request was accepted.
func (d *Decision) Allowed() bool { return d.Outcome == OutcomeAllowed }

// Status is an employee's position in today's attendance sequence.
type Status struct {
	Employee   Employee   `json:"employee"`
	WorkDate   string     `json:"work_date"`
	LastAction ActionType `json:"last_action,omitempty"`
	LastAt     *time.Time `json:"last_action_at,omitempty"`
	NextAction ActionType `json:"next_action"`
}
