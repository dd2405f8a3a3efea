package rollback

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockplane/lockshift/internal/planner"
	"github.com/lockplane/lockshift/internal/risk"
)

func step(id string, rollbackSQL string, level risk.Level, seconds int) *planner.MigrationStep {
	return &planner.MigrationStep{
		ID:                       id,
		Name:                     "Step " + id,
		RollbackSQL:              rollbackSQL,
		RiskLevel:                level,
		EstimatedDurationSeconds: seconds,
	}
}

func TestPlan_AllGenuine(t *testing.T) {
	steps := []*planner.MigrationStep{
		step("one", "DROP TABLE IF EXISTS public.a CASCADE;", risk.Medium, 75),
		step("two", "ALTER TABLE public.a DROP COLUMN IF EXISTS b CASCADE;", risk.Medium, 30),
	}

	script, err := NewPlanner(nil).Plan(steps)
	require.NoError(t, err)

	assert.True(t, script.IsComplete)
	assert.Equal(t, 100, script.SuccessRatePercent)
	require.Len(t, script.Steps, 2)
	assert.Equal(t, "two", script.Steps[0].ForwardStepID, "rollback runs in reverse")
	assert.Equal(t, "one", script.Steps[1].ForwardStepID)
	assert.Equal(t, 1, script.Steps[0].Order)
	assert.Equal(t, risk.Medium, script.Steps[0].RiskLevel)
	assert.Equal(t, 30, script.Steps[0].EstimatedDurationSeconds)
	assert.Equal(t, 2, script.EstimatedRollbackMinutes)
	assert.Empty(t, script.Warnings)
}

func TestPlan_PlaceholderMakesStepPartial(t *testing.T) {
	steps := []*planner.MigrationStep{
		step("drop_users", planner.CannotRollbackMarker+": no source definition is available to recreate Removed table public.users", risk.Critical, 90),
		step("add_col", "ALTER TABLE public.orders DROP COLUMN IF EXISTS note CASCADE;", risk.Medium, 30),
	}

	script, err := NewPlanner(nil).Plan(steps)
	require.NoError(t, err)

	assert.False(t, script.IsComplete)
	require.Len(t, script.Steps, 2)
	partial := script.Steps[1]
	assert.True(t, partial.Partial)
	assert.Equal(t, risk.High, partial.RiskLevel)
	assert.Equal(t, 45, partial.EstimatedDurationSeconds)
	assert.Len(t, script.Warnings, 1)
	require.Len(t, script.Limitations, 1)
	assert.Contains(t, script.Limitations[0], "no source definition")
	// one partial step (-20) and one warning (-10)
	assert.Equal(t, 70, script.SuccessRatePercent)
}

func TestPlan_LossyRollbackWarns(t *testing.T) {
	steps := []*planner.MigrationStep{
		step("alter", "-- WARNING: restores structure only; lost: data in dropped column legacy\nALTER TABLE public.t ADD COLUMN legacy text;", risk.High, 60),
	}

	script, err := NewPlanner(nil).Plan(steps)
	require.NoError(t, err)

	assert.True(t, script.IsComplete)
	assert.Len(t, script.Warnings, 1)
	assert.Equal(t, 90, script.SuccessRatePercent)
}

func TestPlan_NilStepFails(t *testing.T) {
	_, err := NewPlanner(nil).Plan([]*planner.MigrationStep{nil})
	require.Error(t, err)
}

func TestPlanSafely_ReturnsEmptyOnError(t *testing.T) {
	script := NewPlanner(nil).PlanSafely([]*planner.MigrationStep{nil})

	require.NotNil(t, script)
	assert.False(t, script.IsComplete)
	assert.Empty(t, script.Steps)
	assert.NotEmpty(t, script.Warnings)
	assert.True(t, strings.Contains(script.Warnings[0], "Rollback planning failed"))
}

func TestSuccessRateFloor(t *testing.T) {
	tests := []struct {
		partial, warnings, want int
	}{
		{0, 0, 100},
		{1, 1, 70},
		{2, 2, 40},
		{3, 3, 30},
		{0, 9, 30},
	}
	for _, tt := range tests {
		if got := SuccessRate(tt.partial, tt.warnings); got != tt.want {
			t.Errorf("SuccessRate(%d, %d) = %d, want %d", tt.partial, tt.warnings, got, tt.want)
		}
	}
}

func TestPlanProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	build := func(genuine []bool) []*planner.MigrationStep {
		steps := make([]*planner.MigrationStep, len(genuine))
		for i, ok := range genuine {
			sql := planner.CannotRollbackMarker + ": missing"
			if ok {
				sql = fmt.Sprintf("DROP TABLE IF EXISTS public.t%d CASCADE;", i)
			}
			steps[i] = step(fmt.Sprintf("s%d", i), sql, risk.Low, 30)
		}
		return steps
	}

	properties.Property("one rollback step per forward step", prop.ForAll(
		func(genuine []bool) bool {
			script, err := NewPlanner(nil).Plan(build(genuine))
			return err == nil && len(script.Steps) == len(genuine)
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("complete only when every inverse is genuine", prop.ForAll(
		func(genuine []bool) bool {
			script, _ := NewPlanner(nil).Plan(build(genuine))
			all := true
			for _, ok := range genuine {
				all = all && ok
			}
			return script.IsComplete == all
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("success rate stays within bounds", prop.ForAll(
		func(genuine []bool) bool {
			script, _ := NewPlanner(nil).Plan(build(genuine))
			return script.SuccessRatePercent >= 30 && script.SuccessRatePercent <= 100
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
