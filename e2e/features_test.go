package e2e

import (
	"context"
	"testing"

	"github.com/cucumber/godog"
)

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name: "casework",
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			tc := &TestContext{}
			sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
				fresh, err := NewTestContext()
				if err != nil {
					return ctx, err
				}
				*tc = *fresh
				return ctx, nil
			})
			sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
				if tc.server != nil {
					tc.Close()
				}
				return ctx, err
			})
			RegisterSteps(sc, tc)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			Strict:   true,
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("acceptance features failed")
	}
}
