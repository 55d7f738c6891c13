// Package attendance sequences the verification checks for one check-in or
// check-out request and records the result.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"attendguard/internal/attendance/metrics"
	"attendguard/internal/biometric"
	"attendguard/internal/device"
	"attendguard/internal/geofence"
	"attendguard/internal/ledger"
	"attendguard/internal/qrcredential"
	"attendguard/internal/timepolicy"
	"attendguard/pkg/domain"
	dErrors "attendguard/pkg/domain-errors"
	"attendguard/pkg/platform/keylock"
	"attendguard/pkg/platform/privacy"
	"attendguard/pkg/platform/sentinel"
	"attendguard/pkg/requestcontext"
)

const (
	tracerName = "attendguard/attendance"

	// insertAttempts bounds re-reads of the sequence after losing an insert race.
	insertAttempts = 3

	warnAuditFailed       = "audit_write_failed"
	warnBiometricDisabled = "biometric_evidence_ignored"
)

// DeviceVerifier reconciles the reporting device with the employee's binding.
// A binding change decided by Reconcile is persisted only through Commit and
// can be undone with Release.
type DeviceVerifier interface {
	Reconcile(ctx context.Context, employeeID domain.EmployeeID, token, fingerprint string) (device.Verdict, error)
	Commit(ctx context.Context, employeeID domain.EmployeeID, v device.Verdict) (device.Verdict, error)
	Release(ctx context.Context, employeeID domain.EmployeeID, v device.Verdict) error
}

// BiometricVerifier answers a challenge-response attempt.
type BiometricVerifier interface {
	Verify(ctx context.Context, req biometric.VerifyRequest) (biometric.Outcome, error)
}

// TimePolicy evaluates time-of-day restrictions.
type TimePolicy interface {
	Evaluate(ctx context.Context, subject timepolicy.Subject, at time.Time) timepolicy.Result
	IsLate(at time.Time) bool
	CheckWorkDuration(d time.Duration) timepolicy.DurationCheck
	Location() *time.Location
}

// CredentialDecoder validates QR credentials.
type CredentialDecoder interface {
	Decode(ctx context.Context, payload string) qrcredential.Decoded
}

type Service struct {
	directory     EmployeeDirectory
	records       RecordStore
	ledger        AuditLedger
	devices       DeviceVerifier
	timePolicy    TimePolicy
	credentials   CredentialDecoder
	biometrics    BiometricVerifier
	fingerprinter *device.Fingerprinter
	locks         *keylock.Locker[domain.EmployeeID]
	tracer        trace.Tracer
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithBiometrics enables the challenge-response stage.
func WithBiometrics(v BiometricVerifier) Option {
	return func(s *Service) {
		s.biometrics = v
	}
}

func WithCredentialDecoder(d CredentialDecoder) Option {
	return func(s *Service) {
		if d != nil {
			s.credentials = d
		}
	}
}

// WithFingerprinter sets how a fingerprint is derived when the client sends none.
func WithFingerprinter(f *device.Fingerprinter) Option {
	return func(s *Service) {
		if f != nil {
			s.fingerprinter = f
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func New(directory EmployeeDirectory, records RecordStore, auditLedger AuditLedger, devices DeviceVerifier, timePolicy TimePolicy, opts ...Option) (*Service, error) {
	if directory == nil {
		return nil, errors.New("employee directory is required")
	}
	if records == nil {
		return nil, errors.New("attendance record store is required")
	}
	if auditLedger == nil {
		return nil, errors.New("audit ledger is required")
	}
	if devices == nil {
		return nil, errors.New("device verifier is required")
	}
	if timePolicy == nil {
		return nil, errors.New("time policy is required")
	}
	s := &Service{
		directory:     directory,
		records:       records,
		ledger:        auditLedger,
		devices:       devices,
		timePolicy:    timePolicy,
		credentials:   qrcredential.New(),
		fingerprinter: device.NewFingerprinter(true),
		locks:         keylock.New[domain.EmployeeID](),
		tracer:        otel.Tracer(tracerName),
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EvaluateCheckin runs the checks in order (resolve, time, geofence, device,
// biometric, sequence), stops at the first denial and records the outcome.
// Every request writes at least one ledger entry. A store failure at any stage
// is an audited StorageError denial, never a returned error.
func (s *Service) EvaluateCheckin(ctx context.Context, req Request) (*Decision, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "attendance.EvaluateCheckin",
		trace.WithAttributes(attribute.String("attendance.action", string(req.Action))))
	defer span.End()

	d := s.evaluate(ctx, req)
	if d.Reason == ReasonStorageError {
		span.SetStatus(codes.Error, "storage failure")
	}
	span.SetAttributes(
		attribute.String("attendance.outcome", string(d.Outcome)),
		attribute.String("attendance.reason", string(d.Reason)),
	)
	s.metrics.IncOutcome(string(d.Outcome), string(d.Reason))
	s.metrics.ObserveEvaluate(time.Since(start))
	return d, nil
}

func (s *Service) evaluate(ctx context.Context, req Request) *Decision {
	now := requestcontext.Now(ctx)
	d := &Decision{Action: req.Action, EvaluatedAt: now}

	if msg := validate(req); msg != "" {
		s.audit(ctx, d, ledger.CategoryAttendance, ledger.SubtypeInvalidRequest, "", ledger.Details{
			"action": string(req.Action),
			"error":  msg,
		})
		return d.deny(ReasonInvalidRequest, msg)
	}

	end := s.stage(ctx, "resolve")
	emp, err := s.resolve(ctx, d, req)
	end()
	if err != nil {
		return s.storageFailure(ctx, d, req, "", "resolve", err)
	}
	if emp == nil {
		return d
	}
	d.Employee = emp
	subject := emp.ID.String()

	unlock := s.locks.Lock(emp.ID)
	defer unlock()

	// Check-outs are exempt so a shift that runs past the window can be closed.
	if req.Action == ActionCheckIn {
		end = s.stage(ctx, "time")
		res := s.timePolicy.Evaluate(ctx, timepolicy.Subject{EmployeeID: emp.ID, Department: emp.Department}, now)
		end()
		d.Time = &res
		if !res.Allowed {
			s.audit(ctx, d, ledger.CategoryAttendance, ledger.SubtypeOutsideHours, subject, ledger.Details{
				"action":           string(req.Action),
				"restriction_type": string(res.RestrictionType),
				"message":          res.Message,
			})
			return d.deny(ReasonTimeRestricted, res.Message)
		}
	}

	end = s.stage(ctx, "geofence")
	geo, err := s.checkGeofence(ctx, d, req, subject)
	end()
	if err != nil {
		return s.storageFailure(ctx, d, req, subject, "geofence", err)
	}
	if geo == nil {
		return d
	}

	end = s.stage(ctx, "device")
	ok, err := s.checkDevice(ctx, d, req, emp.ID)
	end()
	if err != nil {
		return s.storageFailure(ctx, d, req, subject, "device", err)
	}
	if !ok {
		return d
	}

	if req.Biometric != nil {
		if s.biometrics == nil {
			d.Warnings = append(d.Warnings, warnBiometricDisabled)
		} else {
			end = s.stage(ctx, "biometric")
			ok, err = s.checkBiometric(ctx, d, req, emp.ID)
			end()
			if err != nil {
				return s.storageFailure(ctx, d, req, subject, "biometric", err)
			}
			if !ok {
				return d
			}
		}
	}

	end = s.stage(ctx, "record")
	defer end()
	return s.record(ctx, d, req, emp, geo)
}

func validate(req Request) string {
	switch {
	case req.Action != ActionCheckIn && req.Action != ActionCheckOut:
		return "unknown attendance action"
	case req.Identifier == "" && req.QRPayload == "":
		return "employee identifier or QR credential is required"
	case req.DeviceToken == "":
		return "device token is required"
	}
	return ""
}

// resolve returns nil without error when the request was denied.
func (s *Service) resolve(ctx context.Context, d *Decision, req Request) (*Employee, error) {
	var (
		emp *Employee
		err error
	)
	method := "identifier"
	hint := privacy.Truncate(req.Identifier, 3)

	if req.QRPayload != "" {
		method = "qr"
		decoded := s.credentials.Decode(ctx, req.QRPayload)
		if !decoded.Valid {
			s.rejectCredential(ctx, d, decoded.EmployeeID, string(decoded.Reason), decoded.Legacy)
			reason := ReasonQRInvalid
			if decoded.Reason == qrcredential.ReasonExpired {
				reason = ReasonQRExpired
			}
			d.deny(reason, "QR credential rejected")
			return nil, nil
		}
		hint = decoded.EmployeeID.String()
		emp, err = s.directory.FindByID(ctx, decoded.EmployeeID)
		if err == nil && decoded.EmployeeCode != "" && decoded.EmployeeCode != emp.Code {
			s.rejectCredential(ctx, d, decoded.EmployeeID, "code_mismatch", decoded.Legacy)
			d.deny(ReasonQRInvalid, "QR credential rejected")
			return nil, nil
		}
	} else {
		switch ClassifyIdentifier(req.Identifier) {
		case IdentifierPhone:
			method = "phone"
			hint = privacy.HashIdentifier(req.Identifier)
			emp, err = s.directory.FindByPhone(ctx, req.Identifier)
		default:
			emp, err = s.directory.FindByCode(ctx, req.Identifier)
		}
	}

	if errors.Is(err, sentinel.ErrNotFound) {
		s.audit(ctx, d, ledger.CategorySecurity, ledger.SubtypeUnknownEmployee, "", ledger.Details{
			"method":          method,
			"identifier_hint": hint,
			"action":          string(req.Action),
		})
		d.deny(ReasonNotFound, "Employee not found")
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve employee")
	}
	if !emp.Active {
		s.audit(ctx, d, ledger.CategorySecurity, ledger.SubtypeInactiveEmployee, emp.ID.String(), ledger.Details{
			"method": method,
			"action": string(req.Action),
		})
		d.deny(ReasonEmployeeInactive, "Employee is not active")
		return nil, nil
	}
	return emp, nil
}

func (s *Service) rejectCredential(ctx context.Context, d *Decision, id domain.EmployeeID, reason string, legacy bool) {
	subject := ""
	if !id.IsZero() {
		subject = id.String()
	}
	s.audit(ctx, d, ledger.CategorySecurity, ledger.SubtypeQRRejected, subject, ledger.Details{
		"reason": reason,
		"legacy": legacy,
	})
}

// checkGeofence returns the resolution when the reporter is inside a geofence.
func (s *Service) checkGeofence(ctx context.Context, d *Decision, req Request, subject string) (*geofence.Result, error) {
	locations, err := s.directory.Locations(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load locations")
	}
	res := geofence.Resolve(req.Coordinates, locations)
	d.Geofence = newGeofenceVerdict(res)
	if res.Inside {
		return &res, nil
	}

	var (
		reason ReasonCode
		msg    string
	)
	switch res.Code {
	case geofence.CodeNoApprovedLocations:
		reason, msg = ReasonNoApprovedLocations, "No approved locations are configured"
	case geofence.CodeLocationUnavailable:
		reason, msg = ReasonLocationUnavailable, "Location is unavailable"
	default:
		reason, msg = ReasonOutsideGeofence, "Outside the allowed area"
		if res.Nearest != nil {
			msg = fmt.Sprintf("Outside the allowed area (%.0f m from %s)", res.RoundedDistance(), res.Nearest.Name)
		}
	}
	details := ledger.Details{
		"action": string(req.Action),
		"code":   string(res.Code),
	}
	if res.Nearest != nil {
		details["location_id"] = res.Nearest.ID.String()
		details["distance_meters"] = res.RoundedDistance()
	}
	s.audit(ctx, d, ledger.CategoryAttendance, ledger.SubtypeLocationViolation, subject, details)
	d.deny(reason, msg)
	return nil, nil
}

func (s *Service) checkDevice(ctx context.Context, d *Decision, req Request, id domain.EmployeeID) (bool, error) {
	fingerprint := req.DeviceFingerprint
	if fingerprint == "" {
		fingerprint = s.fingerprinter.ComputeFingerprint(req.UserAgent)
	}
	verdict, err := s.devices.Reconcile(ctx, id, req.DeviceToken, fingerprint)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify device")
	}
	d.Device = &verdict
	s.noteAuditFailure(d, verdict.AuditFailed)
	if verdict.Trusted {
		return true, nil
	}
	s.denyDevice(d, verdict)
	return false, nil
}

func (s *Service) denyDevice(d *Decision, verdict device.Verdict) {
	reason := ReasonDeviceMismatch
	if verdict.Code == device.CodeTokenOwnedByAnother {
		reason = ReasonTokenOwnedByAnother
	}
	d.deny(reason, "Device verification failed")
}

func (s *Service) checkBiometric(ctx context.Context, d *Decision, req Request, id domain.EmployeeID) (bool, error) {
	sessionID, err := domain.ParseChallengeID(req.Biometric.SessionID)
	if err != nil {
		out := biometric.Outcome{Code: biometric.CodeInvalidSession}
		d.Biometric = &out
		s.audit(ctx, d, ledger.CategorySecurity, ledger.SubtypeBiometricFailure, id.String(), ledger.Details{
			"result": string(out.Code),
		})
		d.deny(ReasonBiometricFailed, "Biometric verification failed")
		return false, nil
	}
	out, err := s.biometrics.Verify(ctx, biometric.VerifyRequest{
		SessionID:      sessionID,
		SubjectID:      id,
		Response:       req.Biometric.Response,
		DeviceEvidence: req.Biometric.DeviceEvidence,
		Sample:         req.Biometric.Sample,
	})
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify biometric response")
	}
	d.Biometric = &out
	s.noteAuditFailure(d, out.AuditFailed)
	if out.Verified {
		return true, nil
	}
	if out.Code == biometric.CodeLockedOut {
		d.deny(ReasonEmployeeLockedOut, "Biometric verification is temporarily locked")
		return false, nil
	}
	d.deny(ReasonBiometricFailed, "Biometric verification failed")
	return false, nil
}

// record applies the sequence rule, persists any pending device binding and
// then the action. The sequence is re-read when another writer took the same
// slot first. A binding committed here is released again unless the action is
// recorded.
func (s *Service) record(ctx context.Context, d *Decision, req Request, emp *Employee, geo *geofence.Result) *Decision {
	now := d.EvaluatedAt
	subject := emp.ID.String()
	workDate := now.In(s.timePolicy.Location()).Format(time.DateOnly)

	var committed *device.Verdict
	defer func() {
		if committed != nil && !d.Allowed() {
			s.releaseDevice(ctx, emp.ID, *committed)
		}
	}()

	var insertErr error
	for range insertAttempts {
		last, err := s.records.LastAction(ctx, emp.ID, workDate)
		if errors.Is(err, sentinel.ErrNotFound) {
			last, err = nil, nil
		}
		if err != nil {
			return s.storageFailure(ctx, d, req, subject, "sequence", err)
		}

		if denied := s.checkSequence(ctx, d, req.Action, last, subject, workDate); denied {
			return d
		}

		if committed == nil {
			ok, err := s.commitDevice(ctx, d, emp.ID)
			if err != nil {
				return s.storageFailure(ctx, d, req, subject, "device", err)
			}
			if !ok {
				return d
			}
			committed = d.Device
		}

		rec := Record{
			ID:         uuid.New(),
			EmployeeID: emp.ID,
			WorkDate:   workDate,
			Seq:        1,
			Action:     req.Action,
			CheckedAt:  now,
			LocationID: geo.Nearest.ID,
		}
		d.WorkDuration = nil
		if last != nil {
			rec.Seq = last.Seq + 1
		}
		if req.Action == ActionCheckOut {
			worked := now.Sub(last.CheckedAt)
			rec.WorkDuration = &worked
			check := s.timePolicy.CheckWorkDuration(worked)
			d.WorkDuration = &check
		}

		insertErr = s.records.Insert(ctx, rec)
		if errors.Is(insertErr, sentinel.ErrConflict) {
			s.metrics.IncSequenceConflict()
			continue
		}
		if insertErr != nil {
			break
		}
		return s.allow(ctx, d, req, rec, geo)
	}
	if insertErr == nil {
		insertErr = errors.New("attendance sequence kept changing")
	}
	return s.storageFailure(ctx, d, req, subject, "record", insertErr)
}

// commitDevice persists the binding change the device stage decided on.
func (s *Service) commitDevice(ctx context.Context, d *Decision, id domain.EmployeeID) (bool, error) {
	verdict, err := s.devices.Commit(ctx, id, *d.Device)
	if err != nil {
		return false, err
	}
	d.Device = &verdict
	s.noteAuditFailure(d, verdict.AuditFailed)
	if verdict.Trusted {
		return true, nil
	}
	s.denyDevice(d, verdict)
	return false, nil
}

func (s *Service) releaseDevice(ctx context.Context, id domain.EmployeeID, v device.Verdict) {
	if err := s.devices.Release(ctx, id, v); err != nil {
		s.logger.ErrorContext(ctx, "failed to release device binding after denial",
			"employee_id", id.String(),
			"error", err,
		)
	}
}

// storageFailure denies with StorageError and audits which stage failed.
func (s *Service) storageFailure(ctx context.Context, d *Decision, req Request, subject, stage string, err error) *Decision {
	s.logger.ErrorContext(ctx, "attendance evaluation hit a storage failure",
		"employee_id", subject,
		"action", string(req.Action),
		"stage", stage,
		"error", err,
	)
	s.audit(ctx, d, ledger.CategoryAttendance, ledger.SubtypeStorageFailure, subject, ledger.Details{
		"action":    string(req.Action),
		"stage":     stage,
		"work_date": d.EvaluatedAt.In(s.timePolicy.Location()).Format(time.DateOnly),
		"verdicts":  verdictDetails(d),
	})
	return d.deny(ReasonStorageError, "Attendance could not be recorded")
}

func (s *Service) checkSequence(ctx context.Context, d *Decision, action ActionType, last *Record, subject, workDate string) bool {
	lastAction := ""
	if last != nil {
		lastAction = string(last.Action)
	}
	switch {
	case action == ActionCheckIn && last != nil && last.Action == ActionCheckIn:
		s.audit(ctx, d, ledger.CategoryAttendance, ledger.SubtypeDuplicateCheckIn, subject, ledger.Details{
			"work_date":   workDate,
			"last_action": lastAction,
		})
		d.deny(ReasonDuplicateCheckIn, "Already checked in today")
		return true
	case action == ActionCheckOut && (last == nil || last.Action != ActionCheckIn):
		s.audit(ctx, d, ledger.CategoryAttendance, ledger.SubtypeCheckOutBeforeCheckIn, subject, ledger.Details{
			"work_date":   workDate,
			"last_action": lastAction,
		})
		d.deny(ReasonCheckOutBeforeIn, "No open check-in to close")
		return true
	}
	return false
}

func (s *Service) allow(ctx context.Context, d *Decision, req Request, rec Record, geo *geofence.Result) *Decision {
	d.Outcome = OutcomeAllowed
	d.Reason = ReasonNone
	d.RecordID = rec.ID.String()

	subtype := ledger.SubtypeCheckOut
	d.Message = "Check-out recorded"
	if req.Action == ActionCheckIn {
		subtype = ledger.SubtypeCheckIn
		d.Message = "Check-in recorded"
		d.Late = s.timePolicy.IsLate(d.EvaluatedAt)
	}
	if d.WorkDuration != nil && d.WorkDuration.Warning != "" {
		d.Warnings = append(d.Warnings, d.WorkDuration.Warning)
	}

	details := ledger.Details{
		"action":          string(req.Action),
		"record_id":       d.RecordID,
		"work_date":       rec.WorkDate,
		"location_id":     geo.Nearest.ID.String(),
		"distance_meters": geo.RoundedDistance(),
		"late":            d.Late,
		"verdicts":        verdictDetails(d),
	}
	if d.WorkDuration != nil {
		details["work_duration_hours"] = d.WorkDuration.Hours
	}
	s.audit(ctx, d, ledger.CategoryAttendance, subtype, rec.EmployeeID.String(), details)
	return d
}

// verdictDetails summarizes every sub-verdict reached so far.
func verdictDetails(d *Decision) ledger.Details {
	v := ledger.Details{"biometric": "skipped", "time": "skipped"}
	if d.Device != nil {
		v["device"] = string(d.Device.Code)
	}
	if d.Biometric != nil {
		v["biometric"] = string(d.Biometric.Code)
	}
	if d.Geofence != nil {
		v["geofence"] = string(d.Geofence.Code)
	}
	if d.Time != nil {
		v["time"] = "allowed"
		if d.Time.RestrictionType != timepolicy.RestrictionNone {
			v["time"] = string(d.Time.RestrictionType)
		}
	}
	return v
}

func (s *Service) audit(ctx context.Context, d *Decision, category ledger.Category, subtype, subjectID string, details ledger.Details) {
	if _, err := s.ledger.Append(ctx, category, subtype, subjectID, details); err != nil {
		s.logger.ErrorContext(ctx, "failed to write attendance audit entry",
			"subtype", subtype,
			"employee_id", subjectID,
			"error", err,
		)
		s.noteAuditFailure(d, true)
	}
}

func (s *Service) noteAuditFailure(d *Decision, failed bool) {
	if failed && !d.AuditFailed {
		d.AuditFailed = true
		d.Warnings = append(d.Warnings, warnAuditFailed)
	}
}

func (s *Service) stage(ctx context.Context, name string) func() {
	_, span := s.tracer.Start(ctx, "attendance."+name)
	start := time.Now()
	return func() {
		s.metrics.ObserveStage(name, time.Since(start))
		span.End()
	}
}

func (d *Decision) deny(reason ReasonCode, msg string) *Decision {
	d.Outcome = OutcomeDenied
	d.Reason = reason
	d.Message = msg
	return d
}

// QueryAudit reads the ledger and records the read as an access event.
func (s *Service) QueryAudit(ctx context.Context, filter ledger.Filter) (*ledger.Report, error) {
	report, err := s.ledger.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	details := ledger.Details{
		"admin":   requestcontext.Admin(ctx),
		"matched": report.Summary.Total,
	}
	if filter.SubjectID != "" {
		details["subject_id"] = filter.SubjectID
	}
	if _, err := s.ledger.Append(ctx, ledger.CategoryAccess, ledger.SubtypeAuditViewed, "", details); err != nil {
		s.logger.ErrorContext(ctx, "failed to audit ledger query", "error", err)
	}
	return report, nil
}

// Status reports today's last action and the action expected next.
func (s *Service) Status(ctx context.Context, identifier string) (*Status, error) {
	if identifier == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "identifier is required")
	}
	var (
		emp *Employee
		err error
	)
	if ClassifyIdentifier(identifier) == IdentifierPhone {
		emp, err = s.directory.FindByPhone(ctx, identifier)
	} else {
		emp, err = s.directory.FindByCode(ctx, identifier)
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "employee not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve employee")
	}

	workDate := requestcontext.Now(ctx).In(s.timePolicy.Location()).Format(time.DateOnly)
	status := &Status{Employee: *emp, WorkDate: workDate, NextAction: ActionCheckIn}
	last, err := s.records.LastAction(ctx, emp.ID, workDate)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read last attendance action")
	default:
		status.LastAction = last.Action
		at := last.CheckedAt
		status.LastAt = &at
		if last.Action == ActionCheckIn {
			status.NextAction = ActionCheckOut
		}
	}
	return status, nil
}
