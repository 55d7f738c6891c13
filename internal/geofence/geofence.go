// Package geofence resolves which approved location a reporter is nearest to
// and whether the reporter stands inside its radius.
package geofence

import (
	"math"

	id "attendguard/pkg/domain"
	dErrors "attendguard/pkg/domain-errors"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

// Code is the resolver verdict.
type Code string

const (
	CodeInside              Code = "inside"
	CodeOutside             Code = "outside_geofence"
	CodeNoApprovedLocations Code = "no_approved_locations"
	CodeLocationUnavailable Code = "location_unavailable"
)

// Location is an approved circular check-in region.
type Location struct {
	ID           id.LocationID `json:"id"`
	Name         string        `json:"name"`
	Latitude     float64       `json:"latitude"`
	Longitude    float64       `json:"longitude"`
	RadiusMeters float64       `json:"radius_meters"`
}

// Validate enforces the location invariants.
func (l Location) Validate() error {
	if !(l.RadiusMeters > 0) {
		return dErrors.New(dErrors.CodeValidation, "radius must be positive")
	}
	if !validCoordinate(l.Latitude, l.Longitude) {
		return dErrors.New(dErrors.CodeValidation, "location coordinates out of range")
	}
	return nil
}

// Coordinates is a reporter position in decimal degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Result is the outcome of one resolution. Nearest and DistanceMeters are set
// whenever at least one location was evaluated.
type Result struct {
	Code           Code
	Inside         bool
	Nearest        *Location
	DistanceMeters float64
}

// RoundedDistance returns the distance rounded to whole meters for display.
func (r Result) RoundedDistance() float64 {
	return math.Round(r.DistanceMeters)
}

// Resolve finds the nearest location to the reporter. The boundary is
// inclusive: distance == radius is inside.
func Resolve(reporter *Coordinates, locations []Location) Result {
	if reporter == nil || !validCoordinate(reporter.Latitude, reporter.Longitude) {
		return Result{Code: CodeLocationUnavailable}
	}

	var nearest *Location
	best := math.Inf(1)
	for i := range locations {
		loc := locations[i]
		if loc.Validate() != nil {
			continue
		}
		d := Distance(reporter.Latitude, reporter.Longitude, loc.Latitude, loc.Longitude)
		if d < best {
			best = d
			nearest = &loc
		}
	}
	if nearest == nil {
		return Result{Code: CodeNoApprovedLocations}
	}

	inside := best <= nearest.RadiusMeters
	code := CodeOutside
	if inside {
		code = CodeInside
	}
	return Result{
		Code:           code,
		Inside:         inside,
		Nearest:        nearest,
		DistanceMeters: best,
	}
}

// Distance returns the great-circle distance in meters between two points.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func validCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
