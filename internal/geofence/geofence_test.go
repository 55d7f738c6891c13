package geofence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hq = Location{ID: 1, Name: "HQ", Latitude: -6.200000, Longitude: 106.816666, RadiusMeters: 100}

func TestDistance(t *testing.T) {
	t.Run("zero for identical points", func(t *testing.T) {
		assert.Zero(t, Distance(hq.Latitude, hq.Longitude, hq.Latitude, hq.Longitude))
	})

	t.Run("one degree of latitude is about 111km", func(t *testing.T) {
		d := Distance(0, 0, 1, 0)
		assert.InDelta(t, 111195, d, 1)
	})

	t.Run("symmetric", func(t *testing.T) {
		a := Distance(-6.2, 106.8, -6.9, 107.6)
		b := Distance(-6.9, 107.6, -6.2, 106.8)
		assert.InDelta(t, a, b, 1e-6)
	})
}

func TestResolve(t *testing.T) {
	t.Run("reporter at the center is inside", func(t *testing.T) {
		res := Resolve(&Coordinates{Latitude: hq.Latitude, Longitude: hq.Longitude}, []Location{hq})
		assert.Equal(t, CodeInside, res.Code)
		assert.True(t, res.Inside)
		require.NotNil(t, res.Nearest)
		assert.Equal(t, "HQ", res.Nearest.Name)
	})

	t.Run("boundary tie is inside", func(t *testing.T) {
		// pick a reporter point, then size the radius to its exact distance
		reporter := Coordinates{Latitude: hq.Latitude + 0.0008, Longitude: hq.Longitude}
		d := Distance(reporter.Latitude, reporter.Longitude, hq.Latitude, hq.Longitude)
		loc := hq
		loc.RadiusMeters = d

		res := Resolve(&reporter, []Location{loc})
		assert.True(t, res.Inside)

		loc.RadiusMeters = math.Nextafter(d, 0)
		res = Resolve(&reporter, []Location{loc})
		assert.False(t, res.Inside)
		assert.Equal(t, CodeOutside, res.Code)
	})

	t.Run("nearest location wins", func(t *testing.T) {
		branch := Location{ID: 2, Name: "Branch", Latitude: -6.914744, Longitude: 107.609810, RadiusMeters: 5000}
		res := Resolve(&Coordinates{Latitude: -6.91, Longitude: 107.61}, []Location{hq, branch})
		require.NotNil(t, res.Nearest)
		assert.Equal(t, "Branch", res.Nearest.Name)
		assert.True(t, res.Inside)
	})

	t.Run("no approved locations", func(t *testing.T) {
		res := Resolve(&Coordinates{Latitude: 1, Longitude: 1}, nil)
		assert.Equal(t, CodeNoApprovedLocations, res.Code)
		assert.Nil(t, res.Nearest)
	})

	t.Run("invalid locations are ignored", func(t *testing.T) {
		broken := Location{ID: 3, Name: "Broken", Latitude: 0, Longitude: 0, RadiusMeters: 0}
		res := Resolve(&Coordinates{Latitude: 0, Longitude: 0}, []Location{broken})
		assert.Equal(t, CodeNoApprovedLocations, res.Code)
	})

	t.Run("missing or invalid coordinates", func(t *testing.T) {
		for _, c := range []*Coordinates{
			nil,
			{Latitude: math.NaN(), Longitude: 0},
			{Latitude: 91, Longitude: 0},
			{Latitude: 0, Longitude: math.Inf(1)},
		} {
			res := Resolve(c, []Location{hq})
			assert.Equal(t, CodeLocationUnavailable, res.Code)
			assert.False(t, res.Inside)
		}
	})
}

func TestRoundedDistance(t *testing.T) {
	assert.Equal(t, 43.0, Result{DistanceMeters: 42.6}.RoundedDistance())
}
