package attendance

import (
	"context"

	"github.com/cucumber/godog"
)

type TestContext interface {
	POST(path string, body any) error
}

// RegisterSteps registers check-in step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &attendanceSteps{tc: tc}

	ctx.Step(`^employee "([^"]*)" checks in at ([-0-9.]+), ([-0-9.]+) with device "([^"]*)"$`, steps.checkIn)
	ctx.Step(`^employee "([^"]*)" submits action "([^"]*)"$`, steps.submitAction)
	ctx.Step(`^I check in with QR payload "([^"]*)"$`, steps.checkInWithQR)
}

type attendanceSteps struct {
	tc TestContext
}

func (s *attendanceSteps) checkIn(ctx context.Context, identifier string, lat, lon float64, token string) error {
	return s.tc.POST("/api/v1/attendance/checkin", map[string]any{
		"identifier":         identifier,
		"action":             "check-in",
		"latitude":           lat,
		"longitude":          lon,
		"device_token":       token,
		"device_fingerprint": "e2e-" + token,
	})
}

func (s *attendanceSteps) submitAction(ctx context.Context, identifier, action string) error {
	return s.tc.POST("/api/v1/attendance/checkin", map[string]any{
		"identifier": identifier,
		"action":     action,
	})
}

func (s *attendanceSteps) checkInWithQR(ctx context.Context, payload string) error {
	return s.tc.POST("/api/v1/attendance/checkin", map[string]any{
		"qr_payload":   payload,
		"action":       "check-in",
		"device_token": "e2e-qr",
	})
}
