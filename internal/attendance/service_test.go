package attendance_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"attendguard/internal/attendance"
	"attendguard/internal/attendance/mocks"
	"attendguard/internal/attendance/store/memory"
	"attendguard/internal/biometric"
	biometricmemory "attendguard/internal/biometric/store/memory"
	"attendguard/internal/device"
	devicememory "attendguard/internal/device/store/memory"
	"attendguard/internal/geofence"
	"attendguard/internal/ledger"
	ledgermemory "attendguard/internal/ledger/store/memory"
	"attendguard/internal/qrcredential"
	"attendguard/internal/timepolicy"
	"attendguard/pkg/domain"
	dErrors "attendguard/pkg/domain-errors"
	"attendguard/pkg/platform/sentinel"
	"attendguard/pkg/requestcontext"
)

var (
	hq      = geofence.Location{ID: 1, Name: "HQ", Latitude: 24.7136, Longitude: 46.6753, RadiusMeters: 100}
	atHQ    = &geofence.Coordinates{Latitude: 24.7136, Longitude: 46.6753}
	faraway = &geofence.Coordinates{Latitude: 24.7236, Longitude: 46.6753}
	// monday is 2026-03-02, 08:20 UTC: inside work hours and before the late cutoff.
	monday = time.Date(2026, 3, 2, 8, 20, 0, 0, time.UTC)
)

type EvaluateSuite struct {
	suite.Suite
	directory *memory.Directory
	records   *memory.RecordStore
	ledger    *ledger.Ledger
	devices   *device.Reconciler
	policy    *timepolicy.Evaluator
	bio       *biometric.Service
	bioKey    []byte
	service   *attendance.Service
}

func TestEvaluateSuite(t *testing.T) {
	suite.Run(t, new(EvaluateSuite))
}

func (s *EvaluateSuite) SetupTest() {
	s.directory = memory.NewDirectory()
	s.directory.PutEmployee(attendance.Employee{ID: 101, Code: "E101", Phone: "0791234567", Name: "Amina", Department: "ops", Active: true})
	s.directory.PutEmployee(attendance.Employee{ID: 102, Code: "E102", Name: "Omar", Department: "ops", Active: true})
	s.directory.PutEmployee(attendance.Employee{ID: 103, Code: "E103", Name: "Former", Active: false})
	s.Require().NoError(s.directory.PutLocation(hq))
	s.records = memory.NewRecordStore()

	l, err := ledger.New(ledgermemory.NewInMemoryStore(1000))
	s.Require().NoError(err)
	s.ledger = l

	s.devices, err = device.New(devicememory.NewInMemoryStore(), l)
	s.Require().NoError(err)
	s.policy = timepolicy.New(timepolicy.DefaultPolicy())

	s.bioKey, err = biometric.DeriveKey([]byte("test-secret"))
	s.Require().NoError(err)
	s.bio, err = biometric.New(biometricmemory.NewInMemoryStore(), l, s.bioKey)
	s.Require().NoError(err)

	s.service = s.newService(s.directory, s.records, attendance.WithBiometrics(s.bio))
}

func (s *EvaluateSuite) newService(dir attendance.EmployeeDirectory, records attendance.RecordStore, opts ...attendance.Option) *attendance.Service {
	svc, err := attendance.New(dir, records, s.ledger, s.devices, s.policy, opts...)
	s.Require().NoError(err)
	return svc
}

func at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func checkIn(identifier, token, fingerprint string) attendance.Request {
	return attendance.Request{
		Identifier:        identifier,
		Action:            attendance.ActionCheckIn,
		Coordinates:       atHQ,
		DeviceToken:       token,
		DeviceFingerprint: fingerprint,
	}
}

func checkOut(identifier, token, fingerprint string) attendance.Request {
	req := checkIn(identifier, token, fingerprint)
	req.Action = attendance.ActionCheckOut
	return req
}

func (s *EvaluateSuite) evaluate(t time.Time, req attendance.Request) *attendance.Decision {
	d, err := s.service.EvaluateCheckin(at(t), req)
	s.Require().NoError(err)
	s.Require().NotNil(d)
	return d
}

func (s *EvaluateSuite) entries(subtype string) []ledger.Entry {
	report, err := s.ledger.Query(context.Background(), ledger.Filter{Subtypes: []string{subtype}})
	s.Require().NoError(err)
	return report.Entries
}

func (s *EvaluateSuite) TestCheckInThenCheckOut() {
	d := s.evaluate(monday, checkIn("E101", "T1", "F1"))
	s.True(d.Allowed())
	s.Equal(attendance.ReasonNone, d.Reason)
	s.False(d.Late)
	s.False(d.AuditFailed)
	s.NotEmpty(d.RecordID)
	s.Require().NotNil(d.Device)
	s.True(d.Device.FirstBinding)
	s.Require().NotNil(d.Geofence)
	s.Equal(geofence.CodeInside, d.Geofence.Code)
	s.Require().NotNil(d.Time)
	s.True(d.Time.Allowed)

	day := s.records.Day(101, "2026-03-02")
	s.Require().Len(day, 1)
	s.Equal(1, day[0].Seq)
	s.Equal(hq.ID, day[0].LocationID)

	checkins := s.entries(ledger.SubtypeCheckIn)
	s.Require().Len(checkins, 1)
	s.Equal("101", checkins[0].SubjectID)
	s.Equal(d.RecordID, checkins[0].Details["record_id"])
	s.Len(s.entries(ledger.SubtypeDeviceSuccess), 1)

	out := s.evaluate(monday.Add(8*time.Hour+40*time.Minute), checkOut("E101", "T1", "F1"))
	s.True(out.Allowed())
	s.Nil(out.Time)
	s.False(out.Late)
	s.Require().NotNil(out.WorkDuration)
	s.InDelta(8.67, out.WorkDuration.Hours, 0.001)
	s.Empty(out.Warnings)

	day = s.records.Day(101, "2026-03-02")
	s.Require().Len(day, 2)
	s.Equal(2, day[1].Seq)
	s.Require().NotNil(day[1].WorkDuration)
	s.Equal(8*time.Hour+40*time.Minute, *day[1].WorkDuration)
	s.Len(s.entries(ledger.SubtypeCheckOut), 1)

	s.Run("a second pair on the same date continues the sequence", func() {
		again := s.evaluate(monday.Add(8*time.Hour+40*time.Minute), checkIn("E101", "T1", "F1"))
		s.True(again.Allowed())
		s.True(again.Late)
		s.Len(s.records.Day(101, "2026-03-02"), 3)
	})
}

func (s *EvaluateSuite) TestSequenceViolations() {
	s.Run("check-out before check-in", func() {
		d := s.evaluate(monday, checkOut("E101", "T1", "F1"))
		s.Equal(attendance.OutcomeDenied, d.Outcome)
		s.Equal(attendance.ReasonCheckOutBeforeIn, d.Reason)
		s.Len(s.entries(ledger.SubtypeCheckOutBeforeCheckIn), 1)
	})

	s.Run("duplicate check-in", func() {
		s.True(s.evaluate(monday, checkIn("E101", "T1", "F1")).Allowed())
		d := s.evaluate(monday.Add(time.Minute), checkIn("E101", "T1", "F1"))
		s.Equal(attendance.ReasonDuplicateCheckIn, d.Reason)
		s.Empty(d.RecordID)
		s.Len(s.records.Day(101, "2026-03-02"), 1)

		dups := s.entries(ledger.SubtypeDuplicateCheckIn)
		s.Require().Len(dups, 1)
		s.Equal("check_in", dups[0].Details["last_action"])
	})

	s.Run("checks on a new work date start over", func() {
		d := s.evaluate(monday.Add(24*time.Hour), checkIn("E101", "T1", "F1"))
		s.True(d.Allowed())
		s.Len(s.records.Day(101, "2026-03-03"), 1)
	})
}

func (s *EvaluateSuite) TestWorkDurationWarnings() {
	s.True(s.evaluate(monday, checkIn("E101", "T1", "F1")).Allowed())
	short := s.evaluate(monday.Add(30*time.Minute), checkOut("E101", "T1", "F1"))
	s.True(short.Allowed())
	s.Require().NotNil(short.WorkDuration)
	s.True(short.WorkDuration.TooShort)
	s.Require().Len(short.Warnings, 1)
	s.Contains(short.Warnings[0], "below the minimum")

	s.True(s.evaluate(monday.Add(time.Hour), checkIn("E101", "T1", "F1")).Allowed())
	long := s.evaluate(monday.Add(12*time.Hour), checkOut("E101", "T1", "F1"))
	s.True(long.Allowed())
	s.True(long.WorkDuration.TooLong)
}

func (s *EvaluateSuite) TestDeviceTrust() {
	s.True(s.evaluate(monday, checkIn("E101", "T1", "F1")).Allowed())

	s.Run("unknown token and fingerprint is a mismatch", func() {
		d := s.evaluate(monday.Add(9*time.Hour), checkOut("E101", "T2", "F2"))
		s.Equal(attendance.ReasonDeviceMismatch, d.Reason)
		s.Require().NotNil(d.Device)
		s.Equal(device.CodeDeviceMismatch, d.Device.Code)

		failures := s.entries(ledger.SubtypeDeviceFailure)
		s.Require().Len(failures, 1)
		s.Equal(ledger.SeverityHigh, failures[0].Severity)
		s.Empty(s.entries(ledger.SubtypeCheckOut))
	})

	s.Run("token bound to another employee", func() {
		d := s.evaluate(monday, checkIn("E102", "T1", "F9"))
		s.Equal(attendance.ReasonTokenOwnedByAnother, d.Reason)
		s.Empty(s.records.Day(102, "2026-03-02"))
	})

	s.Run("same fingerprint rotates the token", func() {
		d := s.evaluate(monday.Add(9*time.Hour), checkOut("E101", "T3", "F1"))
		s.True(d.Allowed())
		s.True(d.Device.Rotated)
	})

	s.Run("fingerprint derived from the user agent", func() {
		req := checkIn("E102", "T7", "")
		req.UserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Mobile/15E148 Safari/604.1"
		d := s.evaluate(monday, req)
		s.True(d.Allowed())
		s.True(d.Device.FirstBinding)
	})
}

func (s *EvaluateSuite) TestGeofence() {
	s.Run("outside the radius", func() {
		req := checkIn("E101", "T1", "F1")
		req.Coordinates = faraway
		d := s.evaluate(monday, req)
		s.Equal(attendance.ReasonOutsideGeofence, d.Reason)
		s.Require().NotNil(d.Geofence)
		s.InDelta(1112, d.Geofence.DistanceMeters, 2)
		s.Contains(d.Message, "HQ")
		s.Nil(d.Device)

		violations := s.entries(ledger.SubtypeLocationViolation)
		s.Require().Len(violations, 1)
		s.Equal(ledger.SeverityMedium, violations[0].Severity)
	})

	s.Run("no coordinates", func() {
		req := checkIn("E101", "T1", "F1")
		req.Coordinates = nil
		s.Equal(attendance.ReasonLocationUnavailable, s.evaluate(monday, req).Reason)
	})

	s.Run("no approved locations", func() {
		empty := memory.NewDirectory()
		empty.PutEmployee(attendance.Employee{ID: 101, Code: "E101", Active: true})
		svc := s.newService(empty, memory.NewRecordStore())
		d, err := svc.EvaluateCheckin(at(monday), checkIn("E101", "T1", "F1"))
		s.Require().NoError(err)
		s.Equal(attendance.ReasonNoApprovedLocations, d.Reason)
	})
}

func (s *EvaluateSuite) TestTimeRestriction() {
	saturday := time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC)
	d := s.evaluate(saturday, checkIn("E101", "T1", "F1"))
	s.Equal(attendance.ReasonTimeRestricted, d.Reason)
	s.Require().NotNil(d.Time)
	s.Equal(timepolicy.RestrictionDayOfWeek, d.Time.RestrictionType)
	s.Nil(d.Geofence)

	entries := s.entries(ledger.SubtypeOutsideHours)
	s.Require().Len(entries, 1)
	s.Equal("day_of_week", entries[0].Details["restriction_type"])

	s.Run("late check-in is allowed and flagged", func() {
		late := s.evaluate(time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), checkIn("E101", "T1", "F1"))
		s.True(late.Allowed())
		s.True(late.Late)
		s.Equal(true, s.entries(ledger.SubtypeCheckIn)[0].Details["late"])
	})

	s.Run("check-out after the window closes is still recorded", func() {
		out := s.evaluate(time.Date(2026, 3, 3, 18, 30, 0, 0, time.UTC), checkOut("E101", "T1", "F1"))
		s.True(out.Allowed())
		s.Nil(out.Time)
		s.Equal("skipped", s.entries(ledger.SubtypeCheckOut)[0].Details["verdicts"].(map[string]any)["time"])
	})
}

func (s *EvaluateSuite) TestResolution() {
	s.Run("unknown employee", func() {
		d := s.evaluate(monday, checkIn("E999", "T1", "F1"))
		s.Equal(attendance.ReasonNotFound, d.Reason)
		s.Nil(d.Employee)
		entries := s.entries(ledger.SubtypeUnknownEmployee)
		s.Require().Len(entries, 1)
		s.Empty(entries[0].SubjectID)
		s.Equal("E99...", entries[0].Details["identifier_hint"])
	})

	s.Run("inactive employee", func() {
		d := s.evaluate(monday, checkIn("E103", "T5", "F5"))
		s.Equal(attendance.ReasonEmployeeInactive, d.Reason)
		s.Len(s.entries(ledger.SubtypeInactiveEmployee), 1)
	})

	s.Run("phone number", func() {
		d := s.evaluate(monday, checkIn("0791234567", "T1", "F1"))
		s.True(d.Allowed())
		s.EqualValues(101, d.Employee.ID)
	})
}

func (s *EvaluateSuite) TestInvalidRequests() {
	cases := map[string]attendance.Request{
		"missing identifier": {Action: attendance.ActionCheckIn, DeviceToken: "T1", Coordinates: atHQ},
		"missing token":      {Identifier: "E101", Action: attendance.ActionCheckIn, Coordinates: atHQ},
		"unknown action":     {Identifier: "E101", Action: "lunch", DeviceToken: "T1", Coordinates: atHQ},
	}
	for name, req := range cases {
		s.Run(name, func() {
			d := s.evaluate(monday, req)
			s.Equal(attendance.ReasonInvalidRequest, d.Reason)
			s.NotEmpty(d.Message)
		})
	}
	s.Len(s.entries(ledger.SubtypeInvalidRequest), len(cases))
}

func (s *EvaluateSuite) TestQRCredential() {
	codec := qrcredential.New()

	s.Run("valid credential resolves the employee", func() {
		payload, err := codec.Encode(at(monday), qrcredential.Employee{ID: 101, Code: "E101"}, qrcredential.DefaultSettings())
		s.Require().NoError(err)
		req := checkIn("", "T1", "F1")
		req.QRPayload = payload
		d := s.evaluate(monday.Add(time.Minute), req)
		s.True(d.Allowed())
		s.EqualValues(101, d.Employee.ID)
	})

	s.Run("expired legacy credential", func() {
		req := checkIn("", "T2", "F2")
		req.QRPayload = "EMP:102:E102:20260101000000"
		d := s.evaluate(monday, req)
		s.Equal(attendance.ReasonQRExpired, d.Reason)
		rejected := s.entries(ledger.SubtypeQRRejected)
		s.Require().NotEmpty(rejected)
		s.Equal(true, rejected[0].Details["legacy"])
	})

	s.Run("malformed credential", func() {
		req := checkIn("", "T2", "F2")
		req.QRPayload = "not a credential"
		s.Equal(attendance.ReasonQRInvalid, s.evaluate(monday, req).Reason)
	})

	s.Run("code does not match the employee", func() {
		payload, err := codec.Encode(at(monday), qrcredential.Employee{ID: 102, Code: "E101"}, qrcredential.DefaultSettings())
		s.Require().NoError(err)
		req := checkIn("", "T2", "F2")
		req.QRPayload = payload
		d := s.evaluate(monday, req)
		s.Equal(attendance.ReasonQRInvalid, d.Reason)
		s.Equal("code_mismatch", s.entries(ledger.SubtypeQRRejected)[0].Details["reason"])
	})
}

func (s *EvaluateSuite) TestBiometric() {
	s.Run("valid response", func() {
		ch, err := s.bio.IssueChallenge(at(monday), 101)
		s.Require().NoError(err)
		req := checkIn("E101", "T1", "F1")
		req.Biometric = &attendance.BiometricEvidence{
			SessionID:      ch.SessionID,
			DeviceEvidence: "ev",
			Response:       biometric.ExpectedResponse(s.bioKey, ch.Nonce, "ev"),
		}
		d := s.evaluate(monday.Add(time.Second), req)
		s.True(d.Allowed())
		s.Require().NotNil(d.Biometric)
		s.True(d.Biometric.Verified)
		s.Equal("verified", s.entries(ledger.SubtypeCheckIn)[0].Details["verdicts"].(map[string]any)["biometric"])
	})

	s.Run("unparseable session", func() {
		req := checkIn("E102", "T2", "F2")
		req.Biometric = &attendance.BiometricEvidence{SessionID: "nope", Response: "x"}
		d := s.evaluate(monday, req)
		s.Equal(attendance.ReasonBiometricFailed, d.Reason)
		s.Equal(biometric.CodeInvalidSession, d.Biometric.Code)
		s.Empty(s.records.Day(102, "2026-03-02"))
	})

	s.Run("lockout after repeated failures", func() {
		var d *attendance.Decision
		for i := range 4 {
			ch, err := s.bio.IssueChallenge(at(monday), 102)
			s.Require().NoError(err)
			req := checkIn("E102", "T2", "F2")
			req.Biometric = &attendance.BiometricEvidence{SessionID: ch.SessionID, DeviceEvidence: "ev", Response: "wrong"}
			d = s.evaluate(monday.Add(time.Duration(i)*time.Second), req)
		}
		s.Equal(attendance.ReasonEmployeeLockedOut, d.Reason)
		s.Require().NotNil(d.Biometric.LockedUntil)
	})

	s.Run("evidence ignored when biometrics are disabled", func() {
		svc := s.newService(s.directory, memory.NewRecordStore())
		req := checkIn("E101", "T1", "F1")
		req.Biometric = &attendance.BiometricEvidence{SessionID: "whatever"}
		d, err := svc.EvaluateCheckin(at(monday), req)
		s.Require().NoError(err)
		s.True(d.Allowed())
		s.Contains(d.Warnings, "biometric_evidence_ignored")
	})
}

func (s *EvaluateSuite) TestDeniedFirstUseDoesNotBindDevice() {
	s.Run("failed biometric", func() {
		ch, err := s.bio.IssueChallenge(at(monday), 101)
		s.Require().NoError(err)
		req := checkIn("E101", "ATTACKER", "FP-ATT")
		req.Biometric = &attendance.BiometricEvidence{SessionID: ch.SessionID, DeviceEvidence: "ev", Response: "wrong"}
		d := s.evaluate(monday, req)
		s.Equal(attendance.ReasonBiometricFailed, d.Reason)
		s.Equal(device.CodeFirstBinding, d.Device.Code)

		_, err = s.devices.Binding(at(monday), 101)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("sequence violation", func() {
		d := s.evaluate(monday, checkOut("E102", "T-102", "F-102"))
		s.Equal(attendance.ReasonCheckOutBeforeIn, d.Reason)

		_, err := s.devices.Binding(at(monday), 102)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("rightful device binds afterwards", func() {
		d := s.evaluate(monday.Add(time.Minute), checkIn("E101", "REAL", "FP-REAL"))
		s.True(d.Allowed())
		s.True(d.Device.FirstBinding)

		b, err := s.devices.Binding(at(monday), 101)
		s.Require().NoError(err)
		s.Equal("REAL", b.Token)
	})
}

func (s *EvaluateSuite) TestConcurrentCheckInsRecordOnce() {
	const workers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
		dups    int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := s.service.EvaluateCheckin(at(monday), checkIn("E101", "T1", "F1"))
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch d.Reason {
			case attendance.ReasonNone:
				allowed++
			case attendance.ReasonDuplicateCheckIn:
				dups++
			}
		}()
	}
	wg.Wait()
	s.Equal(1, allowed)
	s.Equal(workers-1, dups)
	s.Len(s.records.Day(101, "2026-03-02"), 1)
}

func (s *EvaluateSuite) TestQueryAuditIsAudited() {
	s.True(s.evaluate(monday, checkIn("E101", "T1", "F1")).Allowed())
	ctx := requestcontext.WithAdmin(at(monday), "admin-1")
	report, err := s.service.QueryAudit(ctx, ledger.Filter{SubjectID: "101"})
	s.Require().NoError(err)
	s.Equal(2, report.Summary.Total)

	viewed := s.entries(ledger.SubtypeAuditViewed)
	s.Require().Len(viewed, 1)
	s.Equal(ledger.CategoryAccess, viewed[0].Category)
	s.Equal("admin-1", viewed[0].Details["admin"])
}

func (s *EvaluateSuite) TestStatus() {
	status, err := s.service.Status(at(monday), "E101")
	s.Require().NoError(err)
	s.Equal(attendance.ActionCheckIn, status.NextAction)
	s.Nil(status.LastAt)

	s.True(s.evaluate(monday, checkIn("E101", "T1", "F1")).Allowed())
	status, err = s.service.Status(at(monday.Add(time.Hour)), "0791234567")
	s.Require().NoError(err)
	s.Equal(attendance.ActionCheckIn, status.LastAction)
	s.Equal(attendance.ActionCheckOut, status.NextAction)
	s.Equal("2026-03-02", status.WorkDate)

	_, err = s.service.Status(at(monday), "E999")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestNew_Validation(t *testing.T) {
	l, err := ledger.New(ledgermemory.NewInMemoryStore(10))
	require.NoError(t, err)
	devices, err := device.New(devicememory.NewInMemoryStore(), l)
	require.NoError(t, err)
	policy := timepolicy.New(timepolicy.DefaultPolicy())
	dir := memory.NewDirectory()
	records := memory.NewRecordStore()

	_, err = attendance.New(nil, records, l, devices, policy)
	assert.Error(t, err)
	_, err = attendance.New(dir, nil, l, devices, policy)
	assert.Error(t, err)
	_, err = attendance.New(dir, records, nil, devices, policy)
	assert.Error(t, err)
	_, err = attendance.New(dir, records, l, nil, policy)
	assert.Error(t, err)
	_, err = attendance.New(dir, records, l, devices, nil)
	assert.Error(t, err)
}

type storageFixture struct {
	ctrl     *gomock.Controller
	records  *mocks.MockRecordStore
	ledger   *ledger.Ledger
	bindings *devicememory.InMemoryStore
	service  *attendance.Service
}

func newStorageFixture(t *testing.T) *storageFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	records := mocks.NewMockRecordStore(ctrl)
	dir := memory.NewDirectory()
	dir.PutEmployee(attendance.Employee{ID: 101, Code: "E101", Active: true})
	require.NoError(t, dir.PutLocation(hq))
	l, err := ledger.New(ledgermemory.NewInMemoryStore(100))
	require.NoError(t, err)
	bindings := devicememory.NewInMemoryStore()
	devices, err := device.New(bindings, l)
	require.NoError(t, err)
	svc, err := attendance.New(dir, records, l, devices, timepolicy.New(timepolicy.DefaultPolicy()))
	require.NoError(t, err)
	return &storageFixture{ctrl: ctrl, records: records, ledger: l, bindings: bindings, service: svc}
}

func storageFailures(t *testing.T, l *ledger.Ledger) []ledger.Entry {
	t.Helper()
	report, err := l.Query(context.Background(), ledger.Filter{Subtypes: []string{ledger.SubtypeStorageFailure}})
	require.NoError(t, err)
	return report.Entries
}

func TestEvaluateCheckin_StorageFailure(t *testing.T) {
	f := newStorageFixture(t)
	f.records.EXPECT().LastAction(gomock.Any(), domain.EmployeeID(101), "2026-03-02").
		Return(nil, sentinel.ErrNotFound)
	f.records.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	d, err := f.service.EvaluateCheckin(at(monday), checkIn("E101", "T1", "F1"))
	require.NoError(t, err)
	assert.Equal(t, attendance.ReasonStorageError, d.Reason)
	assert.Empty(t, d.RecordID)

	entries := storageFailures(t, f.ledger)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.SeverityHigh, entries[0].Severity)
	assert.Equal(t, "record", entries[0].Details["stage"])
	assert.Equal(t, "first_binding", entries[0].Details["verdicts"].(map[string]any)["device"])

	_, err = f.bindings.FindByEmployee(context.Background(), 101)
	assert.ErrorIs(t, err, sentinel.ErrNotFound, "binding must be released when the record is not written")
}

func TestEvaluateCheckin_SequenceRace(t *testing.T) {
	f := newStorageFixture(t)
	winner := &attendance.Record{EmployeeID: 101, WorkDate: "2026-03-02", Seq: 1, Action: attendance.ActionCheckIn, CheckedAt: monday}
	gomock.InOrder(
		f.records.EXPECT().LastAction(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound),
		f.records.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict),
		f.records.EXPECT().LastAction(gomock.Any(), gomock.Any(), gomock.Any()).Return(winner, nil),
	)

	d, err := f.service.EvaluateCheckin(at(monday), checkIn("E101", "T1", "F1"))
	require.NoError(t, err)
	assert.Equal(t, attendance.ReasonDuplicateCheckIn, d.Reason)

	_, err = f.bindings.FindByToken(context.Background(), "T1")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestEvaluateCheckin_ConflictsExhausted(t *testing.T) {
	f := newStorageFixture(t)
	f.records.EXPECT().LastAction(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound).Times(3)
	f.records.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict).Times(3)

	d, err := f.service.EvaluateCheckin(at(monday), checkIn("E101", "T1", "F1"))
	require.NoError(t, err)
	assert.Equal(t, attendance.ReasonStorageError, d.Reason)
}

func TestEvaluateCheckin_InfrastructureErrors(t *testing.T) {
	amina := &attendance.Employee{ID: 101, Code: "E101", Active: true}
	tests := []struct {
		name  string
		stage string
		setup func(dir *mocks.MockEmployeeDirectory, records *mocks.MockRecordStore)
	}{
		{
			name:  "employee lookup",
			stage: "resolve",
			setup: func(dir *mocks.MockEmployeeDirectory, _ *mocks.MockRecordStore) {
				dir.EXPECT().FindByCode(gomock.Any(), "E101").Return(nil, errors.New("connection reset"))
			},
		},
		{
			name:  "location load",
			stage: "geofence",
			setup: func(dir *mocks.MockEmployeeDirectory, _ *mocks.MockRecordStore) {
				dir.EXPECT().FindByCode(gomock.Any(), "E101").Return(amina, nil)
				dir.EXPECT().Locations(gomock.Any()).Return(nil, errors.New("db down"))
			},
		},
		{
			name:  "last action read",
			stage: "sequence",
			setup: func(dir *mocks.MockEmployeeDirectory, records *mocks.MockRecordStore) {
				dir.EXPECT().FindByCode(gomock.Any(), "E101").Return(amina, nil)
				dir.EXPECT().Locations(gomock.Any()).Return([]geofence.Location{hq}, nil)
				records.EXPECT().LastAction(gomock.Any(), domain.EmployeeID(101), "2026-03-02").
					Return(nil, errors.New("db down"))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			dir := mocks.NewMockEmployeeDirectory(ctrl)
			records := mocks.NewMockRecordStore(ctrl)
			tt.setup(dir, records)

			l, err := ledger.New(ledgermemory.NewInMemoryStore(10))
			require.NoError(t, err)
			bindings := devicememory.NewInMemoryStore()
			devices, err := device.New(bindings, l)
			require.NoError(t, err)
			svc, err := attendance.New(dir, records, l, devices, timepolicy.New(timepolicy.DefaultPolicy()))
			require.NoError(t, err)

			d, err := svc.EvaluateCheckin(at(monday), checkIn("E101", "T1", "F1"))
			require.NoError(t, err)
			require.NotNil(t, d)
			assert.Equal(t, attendance.OutcomeDenied, d.Outcome)
			assert.Equal(t, attendance.ReasonStorageError, d.Reason)

			entries := storageFailures(t, l)
			require.Len(t, entries, 1)
			assert.Equal(t, ledger.CategoryAttendance, entries[0].Category)
			assert.Equal(t, tt.stage, entries[0].Details["stage"])

			_, err = bindings.FindByEmployee(context.Background(), 101)
			assert.ErrorIs(t, err, sentinel.ErrNotFound)
		})
	}
}

func TestEvaluateCheckin_AuditFailureIsReported(t *testing.T) {
	ctrl := gomock.NewController(t)
	audit := mocks.NewMockAuditLedger(ctrl)
	audit.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(ledger.Entry{}, errors.New("ledger offline")).AnyTimes()

	dir := memory.NewDirectory()
	dir.PutEmployee(attendance.Employee{ID: 101, Code: "E101", Active: true})
	require.NoError(t, dir.PutLocation(hq))
	devices, err := device.New(devicememory.NewInMemoryStore(), audit)
	require.NoError(t, err)
	svc, err := attendance.New(dir, memory.NewRecordStore(), audit, devices, timepolicy.New(timepolicy.DefaultPolicy()))
	require.NoError(t, err)

	d, err := svc.EvaluateCheckin(at(monday), checkIn("E101", "T1", "F1"))
	require.NoError(t, err)
	assert.True(t, d.Allowed())
	assert.True(t, d.AuditFailed)
	assert.Equal(t, []string{"audit_write_failed"}, d.Warnings)
}
