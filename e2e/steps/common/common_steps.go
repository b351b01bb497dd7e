package common

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	AuthenticateAs(name string) error
	GET(path string) error
	StatusCode() int
	ResponseBody() []byte
	ResponseField(field string) (any, error)
}

// RegisterSteps registers authentication and response assertion steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^I am authenticated as "([^"]*)"$`, steps.authenticateAs)
	ctx.Step(`^the response status should be (\d+)$`, steps.responseStatusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, steps.responseFieldShouldBe)
	ctx.Step(`^the response field "([^"]*)" should contain "([^"]*)"$`, steps.responseFieldShouldContain)
	ctx.Step(`^the response list "([^"]*)" should have (\d+) items?$`, steps.responseListShouldHave)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) authenticateAs(ctx context.Context, name string) error {
	return s.tc.AuthenticateAs(name)
}

func (s *commonSteps) responseStatusShouldBe(ctx context.Context, expected int) error {
	if got := s.tc.StatusCode(); got != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, got, s.tc.ResponseBody())
	}
	return nil
}

func (s *commonSteps) responseFieldShouldBe(ctx context.Context, field, expected string) error {
	v, err := s.tc.ResponseField(field)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(v); got != expected {
		return fmt.Errorf("expected %s to be %q, got %q", field, expected, got)
	}
	return nil
}

func (s *commonSteps) responseFieldShouldContain(ctx context.Context, field, fragment string) error {
	v, err := s.tc.ResponseField(field)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(v); !strings.Contains(got, fragment) {
		return fmt.Errorf("expected %s to contain %q, got %q", field, fragment, got)
	}
	return nil
}

func (s *commonSteps) responseListShouldHave(ctx context.Context, field string, expected int) error {
	v, err := s.tc.ResponseField(field)
	if err != nil {
		// omitempty lists are absent when empty
		if expected == 0 {
			return nil
		}
		return err
	}
	items, ok := v.([]any)
	if !ok {
		if v == nil && expected == 0 {
			return nil
		}
		return fmt.Errorf("%s is not a list", field)
	}
	if len(items) != expected {
		return fmt.Errorf("expected %d item(s) in %s, got %d", expected, field, len(items))
	}
	return nil
}
