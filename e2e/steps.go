package e2e

import (
	"github.com/cucumber/godog"

	"anchorage/e2e/steps/anchoring"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	anchoring.RegisterSteps(ctx, tc)
}
