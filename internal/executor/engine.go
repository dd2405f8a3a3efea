// Package executor runs migration plans step by step against a catalog
// gateway, checking pre- and post-conditions around every step.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lockplane/lockshift/database"
	"github.com/lockplane/lockshift/internal/errs"
	"github.com/lockplane/lockshift/internal/logger"
	"github.com/lockplane/lockshift/internal/planner"
	"github.com/lockplane/lockshift/internal/risk"
	"github.com/lockplane/lockshift/internal/validation"
)

// Status of an execution.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Options control one execution.
type Options struct {
	// ConnectionID overrides the plan's connection.
	ConnectionID string
	// DryRun evaluates conditions but executes no step SQL.
	DryRun bool
	// ValidateOnly runs the validation probes and nothing else.
	ValidateOnly bool
	// StopOnError finalizes the execution at the first failed step.
	StopOnError bool
}

// Plan is what the engine executes.
type Plan struct {
	ID           string
	Connection   string
	RiskLevel    risk.Level
	Steps        []*planner.MigrationStep
	Dependencies []planner.MigrationDependency
	Validation   []validation.Step
}

// LogEntry is one line of the execution log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	StepID    string    `json:"step_id,omitempty"`
	Message   string    `json:"message"`
}

// PerformanceMetrics are computed once when an execution finishes.
type PerformanceMetrics struct {
	TotalExecutionTimeMs int64 `json:"total_execution_time_ms"`
	AverageStepTimeMs    int64 `json:"average_step_time_ms"`
}

// ValidationResult is the outcome of one validation probe.
type ValidationResult struct {
	ValidationID string              `json:"validation_id"`
	Category     validation.Category `json:"category"`
	Severity     planner.Severity    `json:"severity"`
	Passed       bool                `json:"passed"`
	Skipped      bool                `json:"skipped,omitempty"`
	Expected     string              `json:"expected"`
	Actual       string              `json:"actual"`
	Message      string              `json:"message,omitempty"`
}

// Result is the state of one execution.
type Result struct {
	ScriptID           string             `json:"script_id"`
	ExecutionID        string             `json:"execution_id"`
	StartTime          time.Time          `json:"start_time"`
	EndTime            time.Time          `json:"end_time"`
	Status             Status             `json:"status"`
	DryRun             bool               `json:"dry_run"`
	CompletedSteps     int                `json:"completed_steps"`
	FailedSteps        int                `json:"failed_steps"`
	CurrentStep        string             `json:"current_step,omitempty"`
	ExecutionLog       []LogEntry         `json:"execution_log"`
	PerformanceMetrics PerformanceMetrics `json:"performance_metrics"`
	ValidationResults  []ValidationResult `json:"validation_results,omitempty"`
	ValidationReport   *validation.Report `json:"validation_report,omitempty"`
}

// StepError is a statement failure with its step context.
type StepError struct {
	StepID         string
	Order          int
	StatementIndex int
	Statement      string
	Err            error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) statement %d failed: %v", e.Order, e.StepID, e.StatementIndex+1, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Engine executes plans. Steps run strictly one after another.
type Engine struct {
	gw        database.Gateway
	framework validation.Framework
	metrics   *Metrics
	log       *logger.Logger
	now       func() time.Time
}

// NewEngine creates an engine on gw. A nil logger discards output.
func NewEngine(gw database.Gateway, log *logger.Logger) *Engine {
	return &Engine{gw: gw, log: logger.OrNop(log), now: time.Now}
}

// WithFramework sets the framework consulted by validate-only runs.
func (e *Engine) WithFramework(f validation.Framework) *Engine {
	e.framework = f
	return e
}

// WithMetrics sets the collectors execution outcomes are recorded on.
func (e *Engine) WithMetrics(m *Metrics) *Engine {
	e.metrics = m
	return e
}

// Execute runs plan. When StopOnError aborts the run, the finalized result is
// returned together with the step error. Otherwise the error is nil and the
// result status carries the outcome.
func (e *Engine) Execute(ctx context.Context, plan *Plan, opts Options) (*Result, error) {
	if plan == nil {
		return nil, errs.New(errs.KindInvalidInput, "plan is required")
	}
	conn := opts.ConnectionID
	if conn == "" {
		conn = plan.Connection
	}
	if conn == "" {
		return nil, errs.New(errs.KindInvalidInput, "connection id is required")
	}
	for i, step := range plan.Steps {
		if step == nil {
			return nil, errs.Newf(errs.KindInvalidInput, "step %d is nil", i+1)
		}
	}

	result := &Result{
		ScriptID:    plan.ID,
		ExecutionID: uuid.NewString(),
		StartTime:   e.now(),
		Status:      StatusRunning,
		DryRun:      opts.DryRun,
	}
	log := e.log.With().
		Str("script", plan.ID).
		Str("execution", result.ExecutionID).
		Str("connection", conn).
		Logger()

	if opts.ValidateOnly {
		e.record(log, result, "info", "", fmt.Sprintf("Validating %d probes", len(plan.Validation)))
		e.validate(ctx, log, conn, plan, result)
		e.finish(log, result, StatusCompleted)
		return result, nil
	}

	mode := ""
	if opts.DryRun {
		mode = " (dry run)"
	}
	e.record(log, result, "info", "", fmt.Sprintf("Starting execution of %d steps%s", len(plan.Steps), mode))

	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			e.record(log, result, "error", "", "Execution canceled: "+err.Error())
			e.finish(log, result, StatusFailed)
			return result, err
		}

		result.CurrentStep = step.ID
		e.record(log, result, "info", step.ID, fmt.Sprintf("Step %d: %s", step.Order, step.Name))

		if err := e.runStep(ctx, log, conn, step, opts, result); err != nil {
			result.FailedSteps++
			e.metrics.step("failed")
			e.record(log, result, "error", step.ID, fmt.Sprintf("Step %d failed: %v", step.Order, err))
			if opts.StopOnError {
				e.finish(log, result, StatusFailed)
				return result, err
			}
			continue
		}

		result.CompletedSteps++
		e.metrics.step("completed")
		e.record(log, result, "info", step.ID, fmt.Sprintf("Step %d completed successfully", step.Order))
	}

	status := StatusCompleted
	if result.FailedSteps > 0 {
		status = StatusFailed
	}
	e.finish(log, result, status)
	return result, nil
}

func (e *Engine) runStep(ctx context.Context, log *logger.Logger, conn string, step *planner.MigrationStep, opts Options, result *Result) error {
	for _, cond := range step.PreConditions {
		ok, actual, err := e.evaluate(ctx, conn, cond)
		if err != nil {
			return errs.Wrap(errs.KindPreCondition, fmt.Sprintf("pre-condition %s for step %s could not be evaluated", cond.ID, step.ID), err)
		}
		if !ok {
			return errs.Newf(errs.KindPreCondition, "pre-condition %s for step %s failed: expected %s, got %q",
				cond.ID, step.ID, cond.ExpectedResult, actual)
		}
	}

	if !opts.DryRun {
		if strings.Contains(step.SQLScript, planner.ManualDefinitionMarker) || strings.Contains(step.SQLScript, planner.CannotRollbackMarker) {
			return errs.Newf(errs.KindExecution, "step %s has only placeholder SQL", step.ID)
		}

		statements := SplitStatements(step.SQLScript)
		for i, stmt := range statements {
			if _, err := e.gw.ExecuteQuery(ctx, conn, stmt); err != nil {
				e.metrics.statement("error")
				stepErr := &StepError{StepID: step.ID, Order: step.Order, StatementIndex: i, Statement: stmt, Err: err}
				log.ErrorWith("Statement failed", err, map[string]any{"step": step.ID, "statement": i + 1})
				return errs.Wrap(errs.KindExecution, "execute migration step", stepErr)
			}
			e.metrics.statement("ok")
		}
		e.record(log, result, "debug", step.ID, fmt.Sprintf("Executed %d statements", len(statements)))
	}

	for _, cond := range step.PostConditions {
		ok, actual, err := e.evaluate(ctx, conn, cond)
		switch {
		case err != nil:
			e.record(log, result, "warn", step.ID, fmt.Sprintf("Post-condition %s could not be evaluated: %v", cond.ID, err))
		case !ok:
			e.record(log, result, "warn", step.ID, fmt.Sprintf("Post-condition %s not met: expected %s, got %q", cond.ID, cond.ExpectedResult, actual))
		}
	}
	return nil
}

// evaluate runs a condition probe and compares its first cell. An empty
// result compares as "".
func (e *Engine) evaluate(ctx context.Context, conn string, cond planner.Condition) (bool, string, error) {
	res, err := e.gw.ExecuteQuery(ctx, conn, cond.ProbeQuery)
	if err != nil {
		return false, "", err
	}
	actual, _ := res.FirstValue()
	return Compare(actual, cond.ExpectedResult), actual, nil
}

func (e *Engine) record(log *logger.Logger, result *Result, level, stepID, msg string) {
	result.ExecutionLog = append(result.ExecutionLog, LogEntry{
		Timestamp: e.now(),
		Level:     level,
		StepID:    stepID,
		Message:   msg,
	})

	if stepID != "" {
		log = log.With().Str("step", stepID).Logger()
	}
	switch level {
	case "error":
		log.Error(msg)
	case "warn":
		log.Warn(msg)
	case "debug":
		log.Debug(msg)
	default:
		log.Info(msg)
	}
}

func (e *Engine) finish(log *logger.Logger, result *Result, status Status) {
	result.Status = status
	result.EndTime = e.now()
	result.CurrentStep = ""

	total := result.EndTime.Sub(result.StartTime)
	result.PerformanceMetrics.TotalExecutionTimeMs = total.Milliseconds()
	if attempted := result.CompletedSteps + result.FailedSteps; attempted > 0 {
		result.PerformanceMetrics.AverageStepTimeMs = total.Milliseconds() / int64(attempted)
	}
	e.metrics.execution(status, total)

	e.record(log, result, "info", "", fmt.Sprintf("Execution %s: %d completed, %d failed in %dms",
		status, result.CompletedSteps, result.FailedSteps, result.PerformanceMetrics.TotalExecutionTimeMs))
}
