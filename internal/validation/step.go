// Package validation builds the probes that verify a migration plan and runs
// the plan-level rules that decide whether it may proceed.
package validation

import (
	"github.com/lockplane/lockshift/internal/planner"
)

// Category groups validation probes by what they check.
type Category string

const (
	CategorySyntax       Category = "syntax"
	CategorySchema       Category = "schema"
	CategoryData         Category = "data"
	CategoryConstraint   Category = "constraint"
	CategoryPerformance  Category = "performance"
	CategorySecurity     Category = "security"
	CategoryConnectivity Category = "connectivity"
	CategoryConsistency  Category = "consistency"
)

// ExpectValid is the expected result of a syntax probe. Syntax probes are
// checked offline by parsing ProbeQuery instead of running it.
const ExpectValid = "valid"

// Step is one validation probe. ForwardStepID is empty for plan-wide probes.
type Step struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Description    string           `json:"description"`
	Category       Category         `json:"category"`
	ForwardStepID  string           `json:"forward_step_id,omitempty"`
	ProbeQuery     string           `json:"probe_query"`
	ExpectedResult string           `json:"expected_result"`
	Severity       planner.Severity `json:"severity"`
	Automated      bool             `json:"automated"`
}

// IsSyntax reports whether the probe is checked by parsing.
func (s Step) IsSyntax() bool {
	return s.Category == CategorySyntax
}

// Global reports whether the probe covers the whole plan.
func (s Step) Global() bool {
	return s.ForwardStepID == ""
}

// ByCategory counts steps per category.
func ByCategory(steps []Step) map[Category]int {
	counts := make(map[Category]int)
	for _, s := range steps {
		counts[s.Category]++
	}
	return counts
}
