// Package qrcredential encodes and validates the compact employee credential
// carried in attendance QR codes.
//
// Current format, fields joined by '|':
//
//	ID:<id>|CODE:<code>|NAME:<base64>|DEPT:<base64>|TIME:<YYYYMMDDhhmmss>|<key>:<base64 json>
//
// Legacy format, decode only:
//
//	EMP:<id>:<code>:<YYYYMMDDhhmmss>
package qrcredential

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"attendguard/pkg/domain"
	dErrors "attendguard/pkg/domain-errors"
	"attendguard/pkg/requestcontext"
)

const (
	// DefaultExpiryWindow is how long a credential stays valid after issuance.
	DefaultExpiryWindow = 30 * 24 * time.Hour

	timestampLayout  = "20060102150405"
	fieldDelimiter   = "|"
	keyDelimiter     = ":"
	legacyPrefix     = "EMP:"
	maxPayloadLength = 4096

	keyID         = "ID"
	keyCode       = "CODE"
	keyName       = "NAME"
	keyDepartment = "DEPT"
	keyTime       = "TIME"
)

var reservedKeys = []string{keyID, keyCode, keyName, keyDepartment, keyTime, "EMP"}

// Employee is the identity encoded into a credential.
type Employee struct {
	ID         domain.EmployeeID
	Code       string
	Name       string
	Department string
}

// Settings selects the optional fields of a new credential.
type Settings struct {
	IncludeCode       bool
	IncludeName       bool
	IncludeDepartment bool
	IncludeTimestamp  bool
	// Extensions are appended after the standard fields in key order.
	Extensions map[string]any
}

// DefaultSettings includes the employee code and issuance time.
func DefaultSettings() Settings {
	return Settings{IncludeCode: true, IncludeTimestamp: true}
}

// Reason explains why a credential was rejected.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonEmpty        Reason = "empty"
	ReasonTooLong      Reason = "too_long"
	ReasonUnknownForm  Reason = "unknown_format"
	ReasonMissingID    Reason = "missing_employee_id"
	ReasonInvalidID    Reason = "invalid_employee_id"
	ReasonBadTimestamp Reason = "invalid_timestamp"
	ReasonExpired      Reason = "expired"
)

// Decoded is the outcome of decoding a credential. Decoding never fails with
// an error; rejected payloads come back with Valid=false and a Reason.
type Decoded struct {
	EmployeeID   domain.EmployeeID `json:"employee_id"`
	EmployeeCode string            `json:"employee_code"`
	Name         string            `json:"name,omitempty"`
	Department   string            `json:"department,omitempty"`
	IssuedAt     time.Time         `json:"issued_at,omitzero"`
	Extensions   map[string]any    `json:"extensions,omitempty"`
	Legacy       bool              `json:"legacy"`
	// NonExpiring is set when the credential carries no usable timestamp and
	// expiry could not be enforced.
	NonExpiring bool   `json:"non_expiring"`
	Valid       bool   `json:"valid"`
	Reason      Reason `json:"reason,omitempty"`
}

// Codec encodes and decodes credentials.
type Codec struct {
	expiryWindow time.Duration
	location     *time.Location
}

type Option func(*Codec)

// WithExpiryWindow overrides DefaultExpiryWindow.
func WithExpiryWindow(d time.Duration) Option {
	return func(c *Codec) {
		if d > 0 {
			c.expiryWindow = d
		}
	}
}

// WithLocation sets the zone timestamps are written and read in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(c *Codec) {
		if loc != nil {
			c.location = loc
		}
	}
}

func New(opts ...Option) *Codec {
	c := &Codec{expiryWindow: DefaultExpiryWindow, location: time.UTC}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExpiryWindow returns the configured validity period.
func (c *Codec) ExpiryWindow() time.Duration {
	return c.expiryWindow
}

// Encode builds a credential in the current format. The employee id is always
// included; free-text fields are base64 encoded so they cannot break parsing.
func (c *Codec) Encode(ctx context.Context, emp Employee, settings Settings) (string, error) {
	if emp.ID <= 0 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "employee id is required")
	}
	parts := []string{field(keyID, emp.ID.String())}

	if settings.IncludeCode && emp.Code != "" {
		if strings.Contains(emp.Code, fieldDelimiter) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "employee code contains a reserved delimiter")
		}
		parts = append(parts, field(keyCode, emp.Code))
	}
	if settings.IncludeName && emp.Name != "" {
		parts = append(parts, field(keyName, encodeText(emp.Name)))
	}
	if settings.IncludeDepartment && emp.Department != "" {
		parts = append(parts, field(keyDepartment, encodeText(emp.Department)))
	}
	if settings.IncludeTimestamp {
		issued := requestcontext.Now(ctx).In(c.location)
		parts = append(parts, field(keyTime, issued.Format(timestampLayout)))
	}

	for _, key := range slices.Sorted(maps.Keys(settings.Extensions)) {
		if err := validateExtensionKey(key); err != nil {
			return "", err
		}
		raw, err := json.Marshal(settings.Extensions[key])
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, fmt.Sprintf("extension %q is not serializable", key))
		}
		parts = append(parts, field(key, base64.StdEncoding.EncodeToString(raw)))
	}

	payload := strings.Join(parts, fieldDelimiter)
	if len(payload) > maxPayloadLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "credential exceeds maximum length")
	}
	return payload, nil
}

// Decode parses and validates a credential against the expiry window.
func (c *Codec) Decode(ctx context.Context, payload string) Decoded {
	payload = strings.TrimSpace(payload)
	switch {
	case payload == "":
		return rejected(ReasonEmpty)
	case len(payload) > maxPayloadLength:
		return rejected(ReasonTooLong)
	case strings.HasPrefix(payload, legacyPrefix) && !strings.Contains(payload, fieldDelimiter):
		return c.decodeLegacy(ctx, payload)
	case strings.Contains(payload, keyDelimiter):
		return c.decodeFields(ctx, payload)
	}
	return rejected(ReasonUnknownForm)
}

func (c *Codec) decodeFields(ctx context.Context, payload string) Decoded {
	fields := make(map[string]string)
	var order []string
	for part := range strings.SplitSeq(payload, fieldDelimiter) {
		key, value, ok := strings.Cut(part, keyDelimiter)
		if !ok || key == "" {
			continue
		}
		if _, seen := fields[key]; !seen {
			order = append(order, key)
		}
		fields[key] = value
	}

	rawID, ok := fields[keyID]
	if !ok {
		return rejected(ReasonMissingID)
	}
	id, ok := parseID(rawID)
	if !ok {
		return rejected(ReasonInvalidID)
	}

	d := Decoded{
		EmployeeID:   id,
		EmployeeCode: fields[keyCode],
		Name:         decodeText(fields[keyName]),
		Department:   decodeText(fields[keyDepartment]),
		Valid:        true,
	}

	if raw, ok := fields[keyTime]; ok {
		issued, err := time.ParseInLocation(timestampLayout, raw, c.location)
		if err != nil {
			d.NonExpiring = true
		} else {
			d.IssuedAt = issued
		}
	} else {
		d.NonExpiring = true
	}

	for _, key := range order {
		if slices.Contains(reservedKeys, key) {
			continue
		}
		if d.Extensions == nil {
			d.Extensions = make(map[string]any)
		}
		d.Extensions[key] = decodeExtension(fields[key])
	}

	return c.checkExpiry(ctx, d)
}

func (c *Codec) decodeLegacy(ctx context.Context, payload string) Decoded {
	parts := strings.Split(payload, keyDelimiter)
	if len(parts) != 4 {
		return rejected(ReasonUnknownForm)
	}
	id, ok := parseID(parts[1])
	if !ok {
		return rejected(ReasonInvalidID)
	}
	issued, err := time.ParseInLocation(timestampLayout, parts[3], c.location)
	if err != nil {
		return rejected(ReasonBadTimestamp)
	}
	return c.checkExpiry(ctx, Decoded{
		EmployeeID:   id,
		EmployeeCode: parts[2],
		IssuedAt:     issued,
		Legacy:       true,
		Valid:        true,
	})
}

func (c *Codec) checkExpiry(ctx context.Context, d Decoded) Decoded {
	if d.IssuedAt.IsZero() {
		return d
	}
	if requestcontext.Now(ctx).Sub(d.IssuedAt) > c.expiryWindow {
		d.Valid = false
		d.Reason = ReasonExpired
	}
	return d
}

func rejected(reason Reason) Decoded {
	return Decoded{Valid: false, Reason: reason}
}

func field(key, value string) string {
	return key + keyDelimiter + value
}

// parseID accepts only plain decimal digits.
func parseID(raw string) (domain.EmployeeID, bool) {
	if raw == "" || len(raw) > 19 {
		return 0, false
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return domain.EmployeeID(v), true
}

func encodeText(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// decodeText tolerates values that were written without base64.
func decodeText(s string) string {
	if s == "" {
		return ""
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s
	}
	return string(b)
}

func decodeExtension(s string) any {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return s
	}
	return v
}

func validateExtensionKey(key string) error {
	if key == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "extension key is required")
	}
	if slices.Contains(reservedKeys, strings.ToUpper(key)) {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("extension key %q is reserved", key))
	}
	for _, r := range key {
		ok := r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("extension key %q has invalid characters", key))
		}
	}
	return nil
}
