package executor

import (
	"context"
	"fmt"

	"github.com/lockplane/lockshift/internal/logger"
	"github.com/lockplane/lockshift/internal/planner"
	"github.com/lockplane/lockshift/internal/validation"
)

// validate runs the plan's validation probes and, when configured, the
// validation framework. Syntax probes are parsed rather than executed;
// manual probes are recorded as skipped.
func (e *Engine) validate(ctx context.Context, log *logger.Logger, conn string, plan *Plan, result *Result) {
	for _, probe := range plan.Validation {
		vr := ValidationResult{
			ValidationID: probe.ID,
			Category:     probe.Category,
			Severity:     probe.Severity,
			Expected:     probe.ExpectedResult,
		}

		switch {
		case probe.IsSyntax():
			if err := validation.CheckSyntax(probe.ProbeQuery); err != nil {
				vr.Actual = "invalid"
				vr.Message = err.Error()
			} else {
				vr.Actual = validation.ExpectValid
				vr.Passed = true
			}

		case !probe.Automated || probe.ProbeQuery == "":
			vr.Skipped = true
			vr.Passed = true
			vr.Message = "manual check"

		default:
			res, err := e.gw.ExecuteQuery(ctx, conn, probe.ProbeQuery)
			if err != nil {
				vr.Message = err.Error()
				break
			}
			vr.Actual, _ = res.FirstValue()
			vr.Passed = Compare(vr.Actual, probe.ExpectedResult)
		}

		if !vr.Passed {
			level := "warn"
			if probe.Severity == planner.SeverityError {
				level = "error"
			}
			e.record(log, result, level, probe.ForwardStepID,
				fmt.Sprintf("Validation %s failed: expected %s, got %q %s", probe.ID, probe.ExpectedResult, vr.Actual, vr.Message))
		}
		result.ValidationResults = append(result.ValidationResults, vr)
	}

	if e.framework == nil {
		return
	}
	report, err := e.framework.ExecuteValidation(ctx, validation.Request{
		Rules: validation.DefaultRules,
		Context: validation.PlanContext{
			ScriptID:     plan.ID,
			Connection:   conn,
			RiskLevel:    plan.RiskLevel,
			Steps:        plan.Steps,
			Dependencies: plan.Dependencies,
		},
	})
	if err != nil {
		e.record(log, result, "error", "", "Validation framework failed: "+err.Error())
		return
	}
	result.ValidationReport = report
	e.record(log, result, "info", "", fmt.Sprintf("Validation framework: %s (%d/%d rules passed)",
		report.OverallStatus, report.PassedRules, report.TotalRules))
}

// ValidationPassed reports whether every error-severity probe passed and the
// framework, if consulted, allows the plan to proceed.
func (r *Result) ValidationPassed() bool {
	for _, vr := range r.ValidationResults {
		if !vr.Passed && vr.Severity == planner.SeverityError {
			return false
		}
	}
	return r.ValidationReport == nil || r.ValidationReport.CanProceed
}
