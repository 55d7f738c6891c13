package handler

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"attendguard/internal/attendance"
	"attendguard/internal/geofence"
	"attendguard/internal/ledger"
	dErrors "attendguard/pkg/domain-errors"
)

const (
	maxIdentifierLength = 64
	maxTokenLength      = 256
	maxQRLength         = 4096
	maxSampleLength     = 512 * 1024
)

// CheckinRequest is the body of POST /attendance/checkin.
type CheckinRequest struct {
	Identifier        string             `json:"identifier"`
	QRPayload         string             `json:"qr_payload"`
	Action            string             `json:"action"`
	Latitude          *float64           `json:"latitude"`
	Longitude         *float64           `json:"longitude"`
	DeviceToken       string             `json:"device_token"`
	DeviceFingerprint string             `json:"device_fingerprint"`
	Biometric         *BiometricEvidence `json:"biometric,omitempty"`
}

type BiometricEvidence struct {
	SessionID      string `json:"session_id"`
	Response       string `json:"response"`
	DeviceEvidence string `json:"device_evidence"`
	Sample         string `json:"sample,omitempty"`
}

// Validate enforces size limits only. Missing evidence is a domain denial the
// service records, not a transport error.
func (r *CheckinRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Identifier = strings.TrimSpace(r.Identifier)
	r.DeviceToken = strings.TrimSpace(r.DeviceToken)
	switch {
	case len(r.Identifier) > maxIdentifierLength:
		return dErrors.New(dErrors.CodeValidation, "identifier is too long")
	case len(r.QRPayload) > maxQRLength:
		return dErrors.New(dErrors.CodeValidation, "qr_payload is too long")
	case len(r.DeviceToken) > maxTokenLength, len(r.DeviceFingerprint) > maxTokenLength:
		return dErrors.New(dErrors.CodeValidation, "device evidence is too long")
	}
	if r.Biometric != nil && len(r.Biometric.Sample) > maxSampleLength {
		return dErrors.New(dErrors.CodeValidation, "biometric sample is too large")
	}
	return nil
}

// ToDomain converts the body. An unrecognized action is passed through so
// the service denies and records it.
func (r *CheckinRequest) ToDomain(userAgent string) attendance.Request {
	action, ok := attendance.ParseAction(r.Action)
	if !ok {
		action = attendance.ActionType(r.Action)
	}
	req := attendance.Request{
		Identifier:        r.Identifier,
		QRPayload:         r.QRPayload,
		Action:            action,
		DeviceToken:       r.DeviceToken,
		DeviceFingerprint: r.DeviceFingerprint,
		UserAgent:         userAgent,
	}
	if r.Latitude != nil && r.Longitude != nil {
		req.Coordinates = &geofence.Coordinates{Latitude: *r.Latitude, Longitude: *r.Longitude}
	}
	if b := r.Biometric; b != nil {
		req.Biometric = &attendance.BiometricEvidence{
			SessionID:      b.SessionID,
			Response:       b.Response,
			DeviceEvidence: b.DeviceEvidence,
			Sample:         b.Sample,
		}
	}
	return req
}

// parseAuditFilter reads the audit query string. Times are RFC 3339.
func parseAuditFilter(q url.Values) (ledger.Filter, error) {
	var f ledger.Filter
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		raw := q.Get(p.key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return ledger.Filter{}, dErrors.New(dErrors.CodeValidation, p.key+" must be an RFC 3339 timestamp")
		}
		*p.dst = t
	}
	for _, raw := range q["category"] {
		c, ok := ledger.ParseCategory(raw)
		if !ok {
			return ledger.Filter{}, dErrors.New(dErrors.CodeValidation, "unknown category "+strconv.Quote(raw))
		}
		f.Categories = append(f.Categories, c)
	}
	f.Subtypes = q["subtype"]
	f.SubjectID = q.Get("subject_id")
	if raw := q.Get("severity"); raw != "" {
		switch s := ledger.Severity(raw); s {
		case ledger.SeverityLow, ledger.SeverityMedium, ledger.SeverityHigh:
			f.Severity = s
		default:
			return ledger.Filter{}, dErrors.New(dErrors.CodeValidation, "unknown severity "+strconv.Quote(raw))
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return ledger.Filter{}, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer")
		}
		f.Limit = n
	}
	return f, nil
}
