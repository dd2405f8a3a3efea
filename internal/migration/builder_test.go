package migration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockplane/lockshift/database/gatewaytest"
	"github.com/lockplane/lockshift/internal/errs"
	"github.com/lockplane/lockshift/internal/planner"
	"github.com/lockplane/lockshift/internal/risk"
	"github.com/lockplane/lockshift/internal/schema"
)

const (
	dropUsersID  = "step_drop_table_public_users"
	addNoteID    = "step_create_column_public_orders_note"
	addOrdersID  = "step_create_table_public_orders"
	sourceConnID = "live"
	targetConnID = "reference"
)

func sampleDiffs() []schema.SchemaDifference {
	return []schema.SchemaDifference{
		{
			ObjectType:       schema.ObjectColumn,
			Schema:           "public",
			ObjectName:       "orders.note",
			ChangeKind:       schema.Added,
			TargetDefinition: "ALTER TABLE public.orders ADD COLUMN note text;",
		},
		{
			ObjectType: schema.ObjectTable,
			Schema:     "public",
			ObjectName: "users",
			ChangeKind: schema.Removed,
		},
		{
			ObjectType:       schema.ObjectTable,
			Schema:           "public",
			ObjectName:       "orders",
			ChangeKind:       schema.Added,
			TargetDefinition: "CREATE TABLE public.orders (id bigint PRIMARY KEY);",
		},
	}
}

func buildSample(t *testing.T) *Script {
	t.Helper()
	b := NewBuilder(gatewaytest.New(), nil)
	b.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	script, err := b.Build(context.Background(), sampleDiffs(), BuildOptions{
		SourceConnection: sourceConnID,
		TargetConnection: targetConnID,
	})
	if err != nil {
		t.Fatalf("Failed to build script: %v", err)
	}
	return script
}

func stepIDs(steps []*planner.MigrationStep) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.ID
	}
	return out
}

func TestBuild_OrdersAndAssembles(t *testing.T) {
	script := buildSample(t)

	assert.NotEmpty(t, script.ID)
	assert.Equal(t, "migration-20260301-120000", script.Name)
	assert.Equal(t, sourceConnID, script.SourceConnection)

	// the table must exist before its column is added
	assert.Equal(t, []string{dropUsersID, addOrdersID, addNoteID}, stepIDs(script.Steps))
	for i, s := range script.Steps {
		assert.Equal(t, i+1, s.Order)
	}
	assert.Equal(t, []string{addOrdersID}, script.Steps[2].Dependencies)
	require.NotEmpty(t, script.Dependencies)
	assert.Equal(t, addOrdersID, script.Dependencies[0].FromStep)
	assert.Equal(t, addNoteID, script.Dependencies[0].ToStep)

	assert.Equal(t, risk.Critical, script.RiskLevel)
	assert.Equal(t, 1, script.RiskSummary.Critical)
	assert.Equal(t, planner.TotalDurationSeconds(script.Steps), script.EstimatedDurationSeconds)

	require.NotNil(t, script.Rollback)
	assert.False(t, script.Rollback.IsComplete, "dropping users without a definition is not reversible")
	assert.Len(t, script.Rollback.Steps, 3)

	assert.Equal(t, "ALTER TABLE public.orders ADD COLUMN note text;", script.Steps[2].SQLScript)
	assert.NotEmpty(t, script.Validation)
}

func TestBuild_RepeatedDifferencesGetDistinctIDs(t *testing.T) {
	note := sampleDiffs()[0]
	script, err := NewBuilder(gatewaytest.New(), nil).Build(context.Background(),
		[]schema.SchemaDifference{note, note, note}, BuildOptions{
			SourceConnection: sourceConnID,
			TargetConnection: targetConnID,
		})
	require.NoError(t, err)

	assert.Equal(t, []string{addNoteID, addNoteID + "_2", addNoteID + "_3"}, stepIDs(script.Steps))
	second := script.Steps[1]
	require.Len(t, second.PreConditions, 1)
	assert.Equal(t, addNoteID+"_2_pre", second.PreConditions[0].ID)
	assert.Equal(t, addNoteID+"_2_post", second.PostConditions[0].ID)
}

func TestBuild_IndexStepOwnsItsIndex(t *testing.T) {
	gw := gatewaytest.New().
		RespondOn(targetConnID, "FROM pg_attribute a", []string{"column_name", "data_type", "is_nullable", "column_default", "ordinal_position", "domain_name"},
			[]any{"id", "bigint", false, nil, int64(1), nil},
			[]any{"status", "text", true, nil, int64(2), nil},
		).
		RespondOn(targetConnID, "FROM pg_indexes i", []string{"index_name", "table_name", "definition"},
			[]any{"orders_status_idx", "orders", "CREATE INDEX orders_status_idx ON public.orders USING btree (status)"},
		)
	diffs := []schema.SchemaDifference{
		{
			ObjectType:       schema.ObjectIndex,
			ObjectName:       "orders_status_idx",
			ChangeKind:       schema.Added,
			TargetDefinition: "CREATE INDEX orders_status_idx ON public.orders USING btree (status);",
		},
		{ObjectType: schema.ObjectTable, ObjectName: "orders", ChangeKind: schema.Added},
	}

	script, err := NewBuilder(gw, nil).Build(context.Background(), diffs, BuildOptions{
		SourceConnection: sourceConnID,
		TargetConnection: targetConnID,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"step_create_table_public_orders", "step_create_index_public_orders_status_idx"}, stepIDs(script.Steps))
	assert.Contains(t, script.Steps[0].SQLScript, "CREATE TABLE public.orders")
	assert.NotContains(t, script.Steps[0].SQLScript, "orders_status_idx")
	assert.Equal(t, "0", script.Steps[1].PreConditions[0].ExpectedResult)
}

func TestBuild_InvalidInput(t *testing.T) {
	b := NewBuilder(gatewaytest.New(), nil)

	_, err := b.Build(context.Background(), sampleDiffs(), BuildOptions{SourceConnection: sourceConnID})
	assert.True(t, errs.IsInvalidInput(err))

	bad := []schema.SchemaDifference{{ObjectType: schema.ObjectTable, ObjectName: "t", ChangeKind: "Renamed"}}
	_, err = b.Build(context.Background(), bad, BuildOptions{SourceConnection: sourceConnID, TargetConnection: targetConnID})
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestBuild_EmptyDifferences(t *testing.T) {
	script, err := NewBuilder(gatewaytest.New(), nil).Build(context.Background(), nil, BuildOptions{
		Name:             "nothing",
		SourceConnection: sourceConnID,
		TargetConnection: targetConnID,
	})
	require.NoError(t, err)

	assert.Empty(t, script.Steps)
	assert.NotNil(t, script.Steps)
	assert.Equal(t, risk.Low, script.RiskLevel)
	assert.True(t, script.Rollback.IsComplete)
}

func TestSaveAndLoadScript(t *testing.T) {
	script := buildSample(t)
	path := filepath.Join(t.TempDir(), "plan.json")

	if err := script.Save(path); err != nil {
		t.Fatalf("Failed to save script: %v", err)
	}
	loaded, err := LoadScript(path)
	if err != nil {
		t.Fatalf("Failed to load script: %v", err)
	}

	assert.Equal(t, script.ID, loaded.ID)
	assert.Equal(t, script.RiskLevel, loaded.RiskLevel)
	assert.Equal(t, stepIDs(script.Steps), stepIDs(loaded.Steps))
	assert.Equal(t, script.Steps[0].PreConditions, loaded.Steps[0].PreConditions)
	assert.Equal(t, script.Rollback.SuccessRatePercent, loaded.Rollback.SuccessRatePercent)
	assert.True(t, loaded.CreatedAt.Equal(script.CreatedAt))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLoadScript_RejectsInvalidDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id": "x", "steps": [{"order": 0}]}`), 0o644))

	_, err := LoadScript(path)
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
	assert.Contains(t, err.Error(), "source_connection")
}

func TestValidatePlanDocument_BadRiskLevel(t *testing.T) {
	script := buildSample(t)
	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, script.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"risk_level": "critical"`, `"risk_level": "extreme"`, 1)

	problems, err := ValidatePlanDocument([]byte(tampered))
	require.NoError(t, err)
	assert.NotEmpty(t, problems)
}

func TestRollbackPlan(t *testing.T) {
	script := buildSample(t)
	plan := script.RollbackPlan()

	assert.Equal(t, script.ID+"-rollback", plan.ID)
	assert.Equal(t, sourceConnID, plan.Connection)
	require.Len(t, plan.Steps, 3)

	assert.Equal(t, "rollback_"+addNoteID, plan.Steps[0].ID)
	assert.Equal(t, 1, plan.Steps[0].Order)
	assert.Contains(t, plan.Steps[0].SQLScript, "DROP COLUMN")
	assert.Equal(t, schema.ObjectColumn, plan.Steps[0].ObjectType)

	last := plan.Steps[2]
	assert.Equal(t, "rollback_"+dropUsersID, last.ID)
	assert.Contains(t, last.SQLScript, planner.CannotRollbackMarker)
	assert.NotEmpty(t, last.Warnings)
}

func TestExecutionPlan(t *testing.T) {
	script := buildSample(t)
	plan := script.ExecutionPlan()

	assert.Equal(t, script.ID, plan.ID)
	assert.Equal(t, sourceConnID, plan.Connection)
	assert.Equal(t, script.Steps, plan.Steps)
	assert.Equal(t, script.Validation, plan.Validation)
}
