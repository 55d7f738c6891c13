package ledger

import "strings"

// Subtypes emitted by this service.
const (
	SubtypeCheckIn               = "checkin_success"
	SubtypeCheckOut              = "checkout_success"
	SubtypeOutsideHours          = "checkin_outside_hours"
	SubtypeLocationViolation     = "location_violation"
	SubtypeDuplicateCheckIn      = "duplicate_checkin"
	SubtypeCheckOutBeforeCheckIn = "checkout_before_checkin"
	SubtypeStorageFailure        = "attendance_storage_failure"
	SubtypeInvalidRequest        = "attendance_invalid_request"

	SubtypeDeviceSuccess    = "device_verification_success"
	SubtypeDeviceFailure    = "device_verification_failure"
	SubtypeBiometricSuccess = "biometric_verification_success"
	SubtypeBiometricFailure = "biometric_verification_failure"
	SubtypeUnknownEmployee  = "unknown_employee_attempt"
	SubtypeQRRejected       = "qr_credential_rejected"
	SubtypeInactiveEmployee = "inactive_employee_attempt"

	SubtypeQRIssued     = "qr_credential_issued"
	SubtypeLockoutReset = "biometric_lockout_reset"
	SubtypeAuditViewed  = "audit_report_viewed"
)

type severitySets struct {
	high   map[string]struct{}
	medium map[string]struct{}
}

func set(values ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

// severityTable is the static classification. Anything not listed is low,
// except for the security naming convention applied in SeverityOf.
var severityTable = map[Category]severitySets{
	CategoryAttendance: {
		high: set(
			"checkin_fraud_attempt",
			"device_spoofing",
			"unauthorized_access",
			"multiple_failed_attempts",
			SubtypeStorageFailure,
		),
		medium: set(
			SubtypeOutsideHours,
			"device_mismatch",
			SubtypeLocationViolation,
		),
	},
	CategorySecurity: {
		high: set(
			SubtypeDeviceFailure,
			SubtypeBiometricFailure,
		),
		medium: set(
			SubtypeUnknownEmployee,
			SubtypeInactiveEmployee,
			SubtypeQRRejected,
		),
	},
	CategoryAccess: {
		high:   set("access_denied"),
		medium: set(SubtypeLockoutReset),
	},
}

// SeverityOf classifies a (category, subtype) pair.
func SeverityOf(category Category, subtype string) Severity {
	if sets, ok := severityTable[category]; ok {
		if _, ok := sets.high[subtype]; ok {
			return SeverityHigh
		}
		if _, ok := sets.medium[subtype]; ok {
			return SeverityMedium
		}
	}
	switch category {
	case CategorySecurity:
		if strings.Contains(subtype, "failure") || strings.Contains(subtype, "violation") {
			return SeverityHigh
		}
		if strings.Contains(subtype, "attempt") {
			return SeverityMedium
		}
	case CategoryAccess:
		if strings.Contains(subtype, "failed") || strings.Contains(subtype, "denied") {
			return SeverityHigh
		}
	}
	return SeverityLow
}
