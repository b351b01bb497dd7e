package e2e

import (
	"github.com/cucumber/godog"

	"casework/e2e/steps/assignment"
	"casework/e2e/steps/common"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Authentication, requests and response assertions
	common.RegisterSteps(ctx, tc)

	// Roster setup, engine operations and store assertions
	assignment.RegisterSteps(ctx, tc)
}
