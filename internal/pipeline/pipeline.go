// Package pipeline orchestrates the feedback lifecycle: ingest, score
// gating, insight grouping, ticket synthesis, code generation, and
// publishing. All components communicate through the store; each step is
// safe to invoke concurrently because claims are conditional updates.
package pipeline

import (
	"time"

	"github.com/echofix/echofix/internal/taxonomy"
)

// Config carries the pipeline's tunables. It is passed explicitly into each
// component at construction, never read from globals, so tests can inject
// deterministic settings.
type Config struct {
	// MinScore is the engagement threshold gating PENDING -> READY.
	MinScore int
	// RefreshInterval is the minimum age of an item's last score check
	// before the refresher queries the source again.
	RefreshInterval time.Duration
	// Rules is the theme taxonomy used for grouping.
	Rules []taxonomy.Rule
	// PlanDir is where plan documents are written locally.
	PlanDir string
	// PlanPathTemplate is the in-repo plan location ({id} is replaced with
	// the lead item's external ID).
	PlanPathTemplate string
	// PRAutomation enables branch/plan/PR publishing.
	PRAutomation bool
	// CloneTimeout bounds each repository clone.
	CloneTimeout time.Duration
	// MaxFileBytes bounds file content sent to reasoning providers.
	MaxFileBytes int64
	// DemoMode disables outbound side effects that need credentials.
	DemoMode bool
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		MinScore:         2,
		RefreshInterval:  600 * time.Second,
		Rules:            taxonomy.DefaultRules(),
		PlanDir:          "plans",
		PlanPathTemplate: "docs/echofix_plans/{id}.md",
		CloneTimeout:     2 * time.Minute,
		MaxFileBytes:     48 * 1024,
	}
}
