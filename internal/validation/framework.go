package validation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/lockplane/lockshift/internal/errs"
	"github.com/lockplane/lockshift/internal/locks"
	"github.com/lockplane/lockshift/internal/logger"
	"github.com/lockplane/lockshift/internal/planner"
	"github.com/lockplane/lockshift/internal/risk"
	"github.com/lockplane/lockshift/internal/schema"
)

// Rule names understood by the default engine.
const (
	RuleMigrationScript   = "migration_script_validation"
	RuleSchemaConsistency = "schema_consistency"
	RuleDataIntegrity     = "data_integrity"
)

// DefaultRules is the rule set the execution engine requests.
var DefaultRules = []string{RuleMigrationScript, RuleSchemaConsistency, RuleDataIntegrity}

// Framework decides whether a plan may proceed.
type Framework interface {
	ExecuteValidation(ctx context.Context, req Request) (*Report, error)
}

// Request names the rules to run and describes the plan.
type Request struct {
	Rules   []string    `json:"rules"`
	Context PlanContext `json:"context"`
}

// PlanContext is the plan payload rules inspect.
type PlanContext struct {
	ScriptID     string                        `json:"script_id"`
	Connection   string                        `json:"connection"`
	RiskLevel    risk.Level                    `json:"risk_level"`
	Steps        []*planner.MigrationStep      `json:"steps"`
	Dependencies []planner.MigrationDependency `json:"dependencies"`
}

// Status is the overall outcome of a validation run.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusWarning Status = "warning"
	StatusFailed  Status = "failed"
)

// Finding is one observation made by a rule.
type Finding struct {
	Severity planner.Severity `json:"severity"`
	Message  string           `json:"message"`
}

// RuleResult is the outcome of one rule. A rule passes when it has no
// error-level findings.
type RuleResult struct {
	Rule     string    `json:"rule"`
	Passed   bool      `json:"passed"`
	Findings []Finding `json:"findings,omitempty"`
}

// Report aggregates rule results.
type Report struct {
	TotalRules      int          `json:"total_rules"`
	PassedRules     int          `json:"passed_rules"`
	FailedRules     int          `json:"failed_rules"`
	OverallStatus   Status       `json:"overall_status"`
	CanProceed      bool         `json:"can_proceed"`
	Recommendations []string     `json:"recommendations,omitempty"`
	Results         []RuleResult `json:"results"`
}

// Rule inspects a plan and returns its findings.
type Rule func(ctx context.Context, pc PlanContext) []Finding

// RuleEngine is the default Framework.
type RuleEngine struct {
	rules map[string]Rule
	log   *logger.Logger
}

// NewRuleEngine returns an engine with the default rules registered.
func NewRuleEngine(log *logger.Logger) *RuleEngine {
	e := &RuleEngine{rules: make(map[string]Rule), log: logger.OrNop(log)}
	e.Register(RuleMigrationScript, checkScript)
	e.Register(RuleSchemaConsistency, checkConsistency)
	e.Register(RuleDataIntegrity, checkIntegrity)
	return e
}

// Register adds or replaces a rule.
func (e *RuleEngine) Register(name string, rule Rule) {
	e.rules[name] = rule
}

// Rules lists the registered rule names in sorted order.
func (e *RuleEngine) Rules() []string {
	names := make([]string, 0, len(e.rules))
	for name := range e.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExecuteValidation runs the requested rules, or DefaultRules when none are
// named. Unknown rule names are an input error.
func (e *RuleEngine) ExecuteValidation(ctx context.Context, req Request) (*Report, error) {
	names := req.Rules
	if len(names) == 0 {
		names = DefaultRules
	}
	for _, name := range names {
		if _, ok := e.rules[name]; !ok {
			return nil, errs.Newf(errs.KindInvalidInput, "unknown validation rule %q", name)
		}
	}

	report := &Report{TotalRules: len(names)}
	warned := false
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		findings := e.rules[name](ctx, req.Context)
		result := RuleResult{Rule: name, Passed: true, Findings: findings}
		for _, f := range findings {
			switch f.Severity {
			case planner.SeverityError:
				result.Passed = false
			case planner.SeverityWarning:
				warned = true
				report.Recommendations = append(report.Recommendations, f.Message)
			}
		}

		if result.Passed {
			report.PassedRules++
		} else {
			report.FailedRules++
		}
		report.Results = append(report.Results, result)
	}

	switch {
	case report.FailedRules > 0:
		report.OverallStatus = StatusFailed
	case warned:
		report.OverallStatus = StatusWarning
	default:
		report.OverallStatus = StatusPassed
	}
	report.CanProceed = report.FailedRules == 0

	e.log.With().
		Str("script", req.Context.ScriptID).
		Str("status", string(report.OverallStatus)).
		Int("failed_rules", report.FailedRules).
		Logger().
		Debug("Validation rules evaluated")
	return report, nil
}

// checkScript parses every step and flags risky statements and heavy locks.
func checkScript(_ context.Context, pc PlanContext) []Finding {
	var findings []Finding
	for _, step := range pc.Steps {
		if err := CheckSyntax(step.SQLScript); err != nil {
			findings = append(findings, Finding{
				Severity: planner.SeverityError,
				Message:  fmt.Sprintf("Step %s does not parse: %v", step.ID, err),
			})
			continue
		}

		for _, issue := range Lint(step.SQLScript) {
			if issue.Code == "transaction_control" {
				findings = append(findings, Finding{
					Severity: planner.SeverityError,
					Message:  fmt.Sprintf("Step %s: %s", step.ID, issue.Message),
				})
				continue
			}
			findings = append(findings, Finding{
				Severity: planner.SeverityWarning,
				Message:  fmt.Sprintf("Step %s: %s; take a backup first", step.ID, issue.Message),
			})
		}

		statements := splitForLocks(step.SQLScript)
		impact := locks.Strongest(step.Name, statements)
		if impact == nil || !impact.RequiresSaferAlternative() {
			continue
		}
		msg := fmt.Sprintf("Step %s takes %s (%s)", step.ID, impact.LockMode, impact.Explanation)
		if rewrite := locks.SuggestRewrite(impact.Statement); rewrite != nil {
			msg += "; " + rewrite.Description
		}
		findings = append(findings, Finding{Severity: planner.SeverityWarning, Message: msg})
	}
	return findings
}

func splitForLocks(sql string) []string {
	if !planner.HasExecutableSQL(sql) {
		return nil
	}
	parts, err := pg_query.SplitWithScanner(sql, true)
	if err != nil {
		return []string{sql}
	}
	return parts
}

// checkConsistency verifies ids, dense ordering and dependency references.
func checkConsistency(_ context.Context, pc PlanContext) []Finding {
	var findings []Finding
	errorf := func(format string, args ...any) {
		findings = append(findings, Finding{Severity: planner.SeverityError, Message: fmt.Sprintf(format, args...)})
	}

	orders := make(map[string]int, len(pc.Steps))
	for i, step := range pc.Steps {
		if _, dup := orders[step.ID]; dup {
			errorf("Duplicate step id %s", step.ID)
		}
		orders[step.ID] = step.Order
		if step.Order != i+1 {
			errorf("Step %s has order %d, expected %d", step.ID, step.Order, i+1)
		}
	}

	for _, step := range pc.Steps {
		for _, dep := range step.Dependencies {
			order, ok := orders[dep]
			if !ok {
				errorf("Step %s depends on unknown step %s", step.ID, dep)
				continue
			}
			if order >= step.Order {
				errorf("Step %s runs before its dependency %s", step.ID, dep)
			}
		}
	}
	for _, dep := range pc.Dependencies {
		from, okFrom := orders[dep.FromStep]
		to, okTo := orders[dep.ToStep]
		if !okFrom || !okTo {
			errorf("Dependency %s -> %s references an unknown step", dep.FromStep, dep.ToStep)
			continue
		}
		if from >= to {
			errorf("Dependency %s -> %s is out of order", dep.FromStep, dep.ToStep)
		}
	}
	return findings
}

// checkIntegrity flags steps that cannot run as planned or that lose data.
func checkIntegrity(_ context.Context, pc PlanContext) []Finding {
	var findings []Finding
	for _, step := range pc.Steps {
		switch {
		case strings.Contains(step.SQLScript, planner.ManualDefinitionMarker):
			findings = append(findings, Finding{
				Severity: planner.SeverityError,
				Message:  fmt.Sprintf("Step %s has no generated SQL for %s; supply a definition", step.ID, step.QualifiedName()),
			})
		case strings.Contains(step.SQLScript, planner.BlockedMarker):
			findings = append(findings, Finding{
				Severity: planner.SeverityWarning,
				Message:  fmt.Sprintf("Step %s contains blocked statements; clean up existing data before applying them", step.ID),
			})
		}

		if step.ChangeKind == schema.Removed && (step.ObjectType == schema.ObjectTable || step.ObjectType == schema.ObjectColumn) {
			findings = append(findings, Finding{
				Severity: planner.SeverityWarning,
				Message:  fmt.Sprintf("Removing %s %s deletes data; export it before applying", step.ObjectType, step.QualifiedName()),
			})
		}
		if !step.HasGenuineRollback() {
			findings = append(findings, Finding{
				Severity: planner.SeverityWarning,
				Message:  fmt.Sprintf("Step %s has no automatic rollback", step.ID),
			})
		}
	}
	return findings
}

var _ Framework = (*RuleEngine)(nil)
