package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockplane/lockshift/database/gatewaytest"
	"github.com/lockplane/lockshift/internal/errs"
	"github.com/lockplane/lockshift/internal/planner"
	"github.com/lockplane/lockshift/internal/validation"
)

func threeStepPlan() *Plan {
	mk := func(order int, id, sql string) *planner.MigrationStep {
		return &planner.MigrationStep{
			ID:        id,
			Order:     order,
			Name:      "step " + id,
			SQLScript: sql,
			PreConditions: []planner.Condition{{
				ID:             id + "_pre",
				ProbeQuery:     "SELECT COUNT(*) AS object_count FROM pre_" + id,
				ExpectedResult: "0",
				Severity:       planner.SeverityError,
			}},
			PostConditions: []planner.Condition{{
				ID:             id + "_post",
				ProbeQuery:     "SELECT COUNT(*) AS object_count FROM post_" + id,
				ExpectedResult: ">=1",
				Severity:       planner.SeverityWarning,
			}},
		}
	}
	return &Plan{
		ID:         "plan-1",
		Connection: "live",
		Steps: []*planner.MigrationStep{
			mk(1, "one", "CREATE TABLE one (id int);"),
			mk(2, "two", "CREATE TABLE two (id int); CREATE INDEX two_idx ON two (id);"),
			mk(3, "three", "CREATE TABLE three (id int);"),
		},
	}
}

// liveGateway reports every pre-condition object as absent.
func liveGateway() *gatewaytest.Gateway {
	return gatewaytest.New().Scalar("pre_", 0)
}

func TestExecute_DryRunExecutesNoSQL(t *testing.T) {
	gw := liveGateway()

	result, err := NewEngine(gw, nil).Execute(context.Background(), threeStepPlan(), Options{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 3, result.CompletedSteps)
	assert.Equal(t, 0, result.FailedSteps)
	assert.Empty(t, gw.Executed("CREATE"), "dry run must not execute step SQL")
	assert.NotEmpty(t, gw.Executed("pre_one"), "conditions are still evaluated")

	completed := 0
	for _, entry := range result.ExecutionLog {
		if strings.Contains(entry.Message, "completed successfully") {
			completed++
		}
	}
	assert.Equal(t, 3, completed)
	assert.NotEmpty(t, result.ExecutionID)
	assert.Empty(t, result.CurrentStep)
}

func TestExecute_StopOnErrorAbortsRemainingSteps(t *testing.T) {
	boom := errors.New("relation already exists")
	gw := gatewaytest.New().Fail("CREATE TABLE two", boom).Scalar("pre_", 0)

	result, err := NewEngine(gw, nil).Execute(context.Background(), threeStepPlan(), Options{StopOnError: true})
	require.Error(t, err)

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 1, result.CompletedSteps)
	assert.Equal(t, 1, result.FailedSteps)
	assert.Empty(t, gw.Executed("CREATE TABLE three"), "step 3 must not run")
	assert.Empty(t, gw.Executed("pre_three"))
	assert.Empty(t, gw.Executed("CREATE INDEX two_idx"), "statements after the failure are skipped")

	assert.True(t, errs.IsExecution(err))
	assert.ErrorIs(t, err, boom)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "two", stepErr.StepID)
	assert.Equal(t, 2, stepErr.Order)
	assert.Equal(t, 0, stepErr.StatementIndex)
	assert.Equal(t, "CREATE TABLE two (id int)", stepErr.Statement)
}

func TestExecute_ContinuesPastFailures(t *testing.T) {
	gw := gatewaytest.New().Fail("CREATE TABLE two", errors.New("boom")).Scalar("pre_", 0)

	result, err := NewEngine(gw, nil).Execute(context.Background(), threeStepPlan(), Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 2, result.CompletedSteps)
	assert.Equal(t, 1, result.FailedSteps)
	assert.Len(t, gw.Executed("CREATE TABLE three"), 1)
}

func TestExecute_ExecutesEachStatement(t *testing.T) {
	gw := liveGateway()

	result, err := NewEngine(gw, nil).Execute(context.Background(), threeStepPlan(), Options{ConnectionID: "override"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)

	creates := gw.Executed("CREATE ")
	require.Len(t, creates, 4)
	assert.Equal(t, "CREATE INDEX two_idx ON two (id)", creates[2].Query)
	for _, c := range gw.Calls() {
		assert.Equal(t, "override", c.Connection)
	}
}

func TestExecute_PreConditionBlocksStep(t *testing.T) {
	gw := gatewaytest.New().Scalar("pre_two", 1).Scalar("pre_", 0)

	result, err := NewEngine(gw, nil).Execute(context.Background(), threeStepPlan(), Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 1, result.FailedSteps)
	assert.Empty(t, gw.Executed("CREATE TABLE two"))

	var sawPre bool
	for _, entry := range result.ExecutionLog {
		if entry.StepID == "two" && entry.Level == "error" && strings.Contains(entry.Message, "two_pre") {
			sawPre = true
		}
	}
	assert.True(t, sawPre)
}

func TestExecute_PreConditionErrorKind(t *testing.T) {
	gw := gatewaytest.New().Fail("pre_one", errors.New("connection reset"))

	_, err := NewEngine(gw, nil).Execute(context.Background(), threeStepPlan(), Options{StopOnError: true})
	require.Error(t, err)
	assert.True(t, errs.IsPreCondition(err))
}

func TestExecute_PostConditionOnlyWarns(t *testing.T) {
	gw := liveGateway()

	result, err := NewEngine(gw, nil).Execute(context.Background(), threeStepPlan(), Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status, "empty post probes do not fail steps")

	warnings := 0
	for _, entry := range result.ExecutionLog {
		if entry.Level == "warn" && strings.Contains(entry.Message, "Post-condition") {
			warnings++
		}
	}
	assert.Equal(t, 3, warnings)
}

func TestExecute_ManualDefinitionFails(t *testing.T) {
	plan := threeStepPlan()
	plan.Steps[0].SQLScript = planner.ManualDefinitionMarker + ": type public.mood"

	result, err := NewEngine(liveGateway(), nil).Execute(context.Background(), plan, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedSteps)
}

func TestExecute_InvalidInput(t *testing.T) {
	engine := NewEngine(gatewaytest.New(), nil)

	_, err := engine.Execute(context.Background(), nil, Options{})
	assert.True(t, errs.IsInvalidInput(err))

	_, err = engine.Execute(context.Background(), &Plan{}, Options{})
	assert.True(t, errs.IsInvalidInput(err))

	_, err = engine.Execute(context.Background(), &Plan{Connection: "c", Steps: []*planner.MigrationStep{nil}}, Options{})
	assert.True(t, errs.IsInvalidInput(err))
}

func TestExecute_CanceledBeforeFirstStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewEngine(gatewaytest.New(), nil).Execute(ctx, threeStepPlan(), Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 0, result.CompletedSteps)
}

func TestExecute_PerformanceMetrics(t *testing.T) {
	engine := NewEngine(liveGateway(), nil)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine.now = func() time.Time {
		clock = clock.Add(100 * time.Millisecond)
		return clock
	}

	result, err := engine.Execute(context.Background(), threeStepPlan(), Options{DryRun: true})
	require.NoError(t, err)

	total := result.EndTime.Sub(result.StartTime).Milliseconds()
	assert.Equal(t, total, result.PerformanceMetrics.TotalExecutionTimeMs)
	assert.Equal(t, total/3, result.PerformanceMetrics.AverageStepTimeMs)
	assert.Positive(t, total)
}

func TestExecute_ValidateOnly(t *testing.T) {
	gw := gatewaytest.New().
		Scalar("SELECT 1", 1).
		Scalar("pg_locks", 2)

	plan := threeStepPlan()
	plan.Validation = []validation.Step{
		{ID: "one_syntax", Category: validation.CategorySyntax, ProbeQuery: "CREATE TABLE one (id int);", ExpectedResult: validation.ExpectValid, Severity: planner.SeverityError, Automated: true},
		{ID: "bad_syntax", Category: validation.CategorySyntax, ProbeQuery: "CREAT TABLE", ExpectedResult: validation.ExpectValid, Severity: planner.SeverityError, Automated: true},
		{ID: "global_connectivity", Category: validation.CategoryConnectivity, ProbeQuery: "SELECT 1", ExpectedResult: "1", Severity: planner.SeverityError, Automated: true},
		{ID: "locks", Category: validation.CategoryPerformance, ProbeQuery: "SELECT COUNT(*) FROM pg_locks WHERE NOT granted", ExpectedResult: "0", Severity: planner.SeverityWarning, Automated: true},
		{ID: "manual", Category: validation.CategorySecurity, ExpectedResult: "reviewed", Severity: planner.SeverityWarning},
	}

	engine := NewEngine(gw, nil).WithFramework(validation.NewRuleEngine(nil))
	result, err := engine.Execute(context.Background(), plan, Options{ValidateOnly: true})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 0, result.CompletedSteps)
	assert.Empty(t, gw.Executed("CREATE"), "validate-only never executes step SQL")

	require.Len(t, result.ValidationResults, 5)
	byID := make(map[string]ValidationResult)
	for _, vr := range result.ValidationResults {
		byID[vr.ValidationID] = vr
	}
	assert.True(t, byID["one_syntax"].Passed)
	assert.False(t, byID["bad_syntax"].Passed)
	assert.True(t, byID["global_connectivity"].Passed)
	assert.False(t, byID["locks"].Passed)
	assert.Equal(t, "2", byID["locks"].Actual)
	assert.True(t, byID["manual"].Skipped)

	require.NotNil(t, result.ValidationReport)
	assert.Equal(t, 3, result.ValidationReport.TotalRules)
	assert.False(t, result.ValidationPassed(), "a failed error-severity probe fails validation")
}

func TestExecute_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	again, err := NewMetrics(reg)
	require.NoError(t, err, "re-registering reuses collectors")
	assert.Same(t, metrics.Steps, again.Steps)

	gw := gatewaytest.New().Fail("CREATE TABLE two", errors.New("boom")).Scalar("pre_", 0)
	_, err = NewEngine(gw, nil).WithMetrics(metrics).Execute(context.Background(), threeStepPlan(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Steps.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Steps.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Statements.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Statements.WithLabelValues("error")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.Duration))
}
