package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendguard/internal/attendance"
	"attendguard/internal/geofence"
	"attendguard/pkg/platform/sentinel"
)

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory()
	d.PutEmployee(attendance.Employee{ID: 101, Code: "E101", Phone: "0791234567", Active: true})
	d.PutEmployee(attendance.Employee{ID: 102, Code: "E102"})

	emp, err := d.FindByCode(ctx, "E101")
	require.NoError(t, err)
	assert.EqualValues(t, 101, emp.ID)

	emp, err = d.FindByPhone(ctx, "0791234567")
	require.NoError(t, err)
	assert.Equal(t, "E101", emp.Code)

	_, err = d.FindByPhone(ctx, "")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	_, err = d.FindByID(ctx, 999)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, d.PutLocation(geofence.Location{ID: 1, Name: "HQ", Latitude: 24.7, Longitude: 46.6, RadiusMeters: 100}))
	require.NoError(t, d.PutLocation(geofence.Location{ID: 1, Name: "HQ", Latitude: 24.7, Longitude: 46.6, RadiusMeters: 150}))
	assert.Error(t, d.PutLocation(geofence.Location{ID: 2, Name: "Bad", RadiusMeters: -1}))

	locations, err := d.Locations(ctx)
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.InDelta(t, 150, locations[0].RadiusMeters, 0.001)
}

func TestRecordStore(t *testing.T) {
	ctx := context.Background()
	s := NewRecordStore()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	_, err := s.LastAction(ctx, 101, "2026-03-02")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	rec := attendance.Record{ID: uuid.New(), EmployeeID: 101, WorkDate: "2026-03-02", Seq: 1, Action: attendance.ActionCheckIn, CheckedAt: now}
	require.NoError(t, s.Insert(ctx, rec))
	assert.ErrorIs(t, s.Insert(ctx, rec), sentinel.ErrConflict)

	skip := rec
	skip.Seq = 3
	assert.ErrorIs(t, s.Insert(ctx, skip), sentinel.ErrConflict)

	last, err := s.LastAction(ctx, 101, "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, last.ID)
	assert.Len(t, s.Day(101, "2026-03-02"), 1)
}
