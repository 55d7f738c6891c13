package biometric

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

type TestContext interface {
	POST(path string, body any) error
	GetResponseField(field string) (any, error)
}

func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &biometricSteps{tc: tc}

	ctx.Step(`^I request a biometric challenge for employee "([^"]*)"$`, steps.requestChallenge)
	ctx.Step(`^the challenge should be valid for (\d+) seconds$`, steps.challengeTTL)
}

type biometricSteps struct {
	tc TestContext
}

func (s *biometricSteps) requestChallenge(ctx context.Context, employeeID string) error {
	return s.tc.POST("/api/v1/biometric/challenges", map[string]any{"employee_id": employeeID})
}

func (s *biometricSteps) challengeTTL(ctx context.Context, seconds int) error {
	v, err := s.tc.GetResponseField("ttl_seconds")
	if err != nil {
		return err
	}
	ttl, ok := v.(float64)
	if !ok || int(ttl) != seconds {
		return fmt.Errorf("expected ttl_seconds %d, got %v", seconds, v)
	}
	if _, err := s.tc.GetResponseField("session_id"); err != nil {
		return err
	}
	return nil
}
