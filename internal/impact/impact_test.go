package impact

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockplane/lockshift/database/gatewaytest"
	"github.com/lockplane/lockshift/internal/errs"
	"github.com/lockplane/lockshift/internal/planner"
	"github.com/lockplane/lockshift/internal/risk"
	"github.com/lockplane/lockshift/internal/schema"
)

func sampleDiffs() []schema.SchemaDifference {
	return []schema.SchemaDifference{
		{
			ObjectType: schema.ObjectTable,
			Schema:     "public",
			ObjectName: "audit_log",
			ChangeKind: schema.Removed,
		},
		{
			ObjectType:       schema.ObjectColumn,
			Schema:           "public",
			ObjectName:       "payments.currency",
			ChangeKind:       schema.Added,
			TargetDefinition: "ALTER TABLE public.payments ADD COLUMN currency text",
		},
		{
			ObjectType:       schema.ObjectIndex,
			Schema:           "public",
			ObjectName:       "idx_orders_created",
			ChangeKind:       schema.Added,
			TargetDefinition: "CREATE INDEX idx_orders_created ON public.orders (created_at)",
		},
		{
			ObjectType: schema.ObjectFunction,
			Schema:     "public",
			ObjectName: "calc",
			ChangeKind: schema.Modified,
		},
	}
}

func totalDuration(diffs []schema.SchemaDifference) int {
	total := 0
	for _, d := range diffs {
		total += planner.EstimateDuration(d)
	}
	return total
}

func concerns(ms []Mitigation) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Concern
	}
	return out
}

func TestAssess(t *testing.T) {
	diffs := sampleDiffs()
	b := Assess(diffs)

	assert.Equal(t, 4, b.TotalChanges)
	assert.Equal(t, 2, b.ByChangeKind[schema.Added])
	assert.Equal(t, 1, b.ByChangeKind[schema.Removed])
	assert.Equal(t, 1, b.ByObjectType[schema.ObjectFunction])
	assert.Equal(t, risk.Critical, b.RiskLevel)
	assert.Equal(t, 2, b.RiskSummary.Medium)
	assert.True(t, b.DataLossPossible)
	assert.True(t, b.RequiresDowntime)
	assert.Equal(t, totalDuration(diffs), b.EstimatedDurationSeconds)
	assert.Equal(t, []string{"public.audit_log", "public.payments"}, b.AffectedTables)

	assert.Equal(t, risk.Critical, b.Operational)
	assert.Equal(t, risk.Medium, b.Financial)
	assert.Equal(t, risk.Critical, b.Compliance)
	assert.Equal(t, risk.Medium, b.UserExperience)
}

func TestAssess_Empty(t *testing.T) {
	b := Assess(nil)

	assert.Zero(t, b.TotalChanges)
	assert.Equal(t, risk.Low, b.RiskLevel)
	assert.Equal(t, risk.Low, b.Operational)
	assert.False(t, b.RequiresDowntime)
	assert.NotNil(t, b.AffectedTables)
}

func TestNameHeuristics(t *testing.T) {
	tests := []struct {
		name       string
		diffs      []schema.SchemaDifference
		financial  risk.Level
		compliance risk.Level
		ux         risk.Level
	}{
		{
			name:       "unrelated names",
			diffs:      []schema.SchemaDifference{{ObjectType: schema.ObjectSequence, ObjectName: "seq_a", ChangeKind: schema.Modified}},
			financial:  risk.Low,
			compliance: risk.Low,
			ux:         risk.Low,
		},
		{
			name:       "payment table modified",
			diffs:      []schema.SchemaDifference{{ObjectType: schema.ObjectFunction, ObjectName: "refresh_payment_totals", ChangeKind: schema.Modified}},
			financial:  risk.High,
			compliance: risk.Low,
			ux:         risk.Low,
		},
		{
			name:       "customer view removed",
			diffs:      []schema.SchemaDifference{{ObjectType: schema.ObjectView, ObjectName: "customer_summary", ChangeKind: schema.Removed}},
			financial:  risk.Low,
			compliance: risk.Critical,
			ux:         risk.High,
		},
		{
			name: "many financial additions",
			diffs: []schema.SchemaDifference{
				{ObjectType: schema.ObjectSequence, ObjectName: "invoice_seq", ChangeKind: schema.Added},
				{ObjectType: schema.ObjectSequence, ObjectName: "billing_seq", ChangeKind: schema.Added},
				{ObjectType: schema.ObjectSequence, ObjectName: "refund_seq", ChangeKind: schema.Added},
				{ObjectType: schema.ObjectSequence, ObjectName: "ledger_seq", ChangeKind: schema.Added},
			},
			financial:  risk.High,
			compliance: risk.Low,
			ux:         risk.Low,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Assess(tt.diffs)
			assert.Equal(t, tt.financial, b.Financial, "financial")
			assert.Equal(t, tt.compliance, b.Compliance, "compliance")
			assert.Equal(t, tt.ux, b.UserExperience, "user experience")
		})
	}
}

func TestPath(t *testing.T) {
	diffs := sampleDiffs()
	path := Path(diffs)

	require.Len(t, path.Phases, 3)
	assert.Equal(t, risk.Low, path.Phases[0].RiskLevel)
	assert.Equal(t, risk.Medium, path.Phases[1].RiskLevel)
	assert.Equal(t, risk.Critical, path.Phases[2].RiskLevel)
	for i, p := range path.Phases {
		assert.Equal(t, i+1, p.Number)
	}

	assert.True(t, path.Phases[0].RollbackPoint)
	assert.True(t, path.Phases[1].RollbackPoint)
	assert.False(t, path.Phases[2].RollbackPoint)
	assert.Equal(t, 2, path.RollbackPoints)

	assert.Len(t, path.Phases[1].Changes, 2)
	assert.Equal(t, "Removed table public.audit_log", path.Phases[2].Changes[0])
	assert.Equal(t, totalDuration(diffs), path.TotalDurationSeconds)
}

func TestPath_AllTiers(t *testing.T) {
	path := Path([]schema.SchemaDifference{
		{ObjectType: schema.ObjectTable, ObjectName: "a", ChangeKind: schema.Removed},
		{ObjectType: schema.ObjectTable, ObjectName: "b", ChangeKind: schema.Modified},
		{ObjectType: schema.ObjectTable, ObjectName: "c", ChangeKind: schema.Added},
		{ObjectType: schema.ObjectIndex, ObjectName: "d", ChangeKind: schema.Removed},
	})

	require.Len(t, path.Phases, 4)
	assert.Equal(t, []bool{true, true, false, false}, []bool{
		path.Phases[0].RollbackPoint, path.Phases[1].RollbackPoint,
		path.Phases[2].RollbackPoint, path.Phases[3].RollbackPoint,
	})
	assert.Empty(t, Path(nil).Phases)
}

func TestPlanRollback(t *testing.T) {
	plan := PlanRollback(sampleDiffs())
	assert.False(t, plan.Feasible)
	assert.Equal(t, StrategyBackup, plan.Strategy)
	assert.Equal(t, 3, plan.ReversibleChanges)
	assert.Equal(t, 1, plan.IrreversibleChanges)
	require.Len(t, plan.Notes, 1)
	assert.Contains(t, plan.Notes[0], "public.audit_log")

	plan = PlanRollback([]schema.SchemaDifference{
		{ObjectType: schema.ObjectColumn, ObjectName: "t.c", ChangeKind: schema.Removed, SourceDefinition: "ALTER TABLE t ADD COLUMN c int"},
		{ObjectType: schema.ObjectIndex, ObjectName: "idx", ChangeKind: schema.Removed},
	})
	assert.True(t, plan.Feasible)
	assert.Equal(t, StrategyPartial, plan.Strategy)
	assert.Equal(t, 1, plan.IrreversibleChanges)
	assert.Contains(t, plan.Notes[0], "data cannot")

	plan = PlanRollback([]schema.SchemaDifference{{ObjectType: schema.ObjectTable, ObjectName: "t", ChangeKind: schema.Added}})
	assert.True(t, plan.Feasible)
	assert.Equal(t, StrategyAutomatic, plan.Strategy)
}

func TestAdvanced_ProbesRowEstimates(t *testing.T) {
	gw := gatewaytest.New().Respond("reltuples", []string{"estimate"}, []any{int64(2_000_000)})
	a := NewAnalyzer(gw, nil)

	adv, err := a.Advanced(context.Background(), sampleDiffs(), "live")
	if err != nil {
		t.Fatalf("Failed to analyze impact: %v", err)
	}

	assert.Len(t, gw.Executed("reltuples"), 2)
	require.Len(t, adv.Tables, 2)
	for _, ti := range adv.Tables {
		assert.True(t, ti.Probed, ti.Table)
		assert.True(t, ti.Large, ti.Table)
		assert.Equal(t, int64(2_000_000), ti.RowEstimate)
	}
	assert.Equal(t, "ACCESS EXCLUSIVE", adv.Tables[1].LockMode.String())
	assert.Equal(t, risk.High, adv.UserExperience, "a large table locked against reads")
	assert.Len(t, adv.Locks, 4)
	assert.Len(t, adv.Path.Phases, 3)
	assert.Empty(t, adv.Warnings)

	var rewrite, timeout *Mitigation
	for i := range adv.Mitigations {
		m := &adv.Mitigations[i]
		if m.Rewrite != nil {
			rewrite = m
		}
		if strings.Contains(m.SQL, "lock_timeout") {
			timeout = m
		}
	}
	require.NotNil(t, rewrite)
	assert.Contains(t, rewrite.Rewrite.SQL[0], "CONCURRENTLY")
	require.NotNil(t, timeout)
	assert.Contains(t, timeout.SQL, "DROP TABLE")

	assert.Subset(t, concerns(adv.Mitigations), []string{"data loss", "rollback", "operations", "compliance", "user experience"})
	assert.NotContains(t, concerns(adv.Mitigations), "financial")
}

func TestAdvanced_ProbeFailureIsWarning(t *testing.T) {
	gw := gatewaytest.New().Fail("reltuples", errors.New("permission denied"))

	adv, err := NewAnalyzer(gw, nil).Advanced(context.Background(), sampleDiffs(), "live")
	require.NoError(t, err)

	assert.Len(t, adv.Warnings, 2)
	assert.Contains(t, adv.Warnings[0], "permission denied")
	for _, ti := range adv.Tables {
		assert.False(t, ti.Probed)
	}
}

func TestAdvanced_ProbesDependents(t *testing.T) {
	gw := gatewaytest.New().
		Respond("pg_depend", []string{"dependents"}, []any{int64(3)}).
		Respond("reltuples", []string{"estimate"}, []any{int64(10)})

	adv, err := NewAnalyzer(gw, nil).Advanced(context.Background(), sampleDiffs(), "live")
	require.NoError(t, err)

	assert.Len(t, gw.Executed("pg_depend"), 1, "only the dropped table is checked")
	assert.Equal(t, map[string]int64{"public.audit_log": 3}, adv.Dependents)
	assert.Contains(t, concerns(adv.Mitigations), "3 objects depend on public.audit_log")

	gw = gatewaytest.New().Fail("pg_depend", errors.New("permission denied"))
	adv, err = NewAnalyzer(gw, nil).Advanced(context.Background(), sampleDiffs(), "live")
	require.NoError(t, err)
	assert.Nil(t, adv.Dependents)
	require.Len(t, adv.Warnings, 1)
	assert.Contains(t, adv.Warnings[0], "dependents of public.audit_log")
}

func TestAdvanced_SkipsCreatedTables(t *testing.T) {
	gw := gatewaytest.New()
	diffs := []schema.SchemaDifference{
		{ObjectType: schema.ObjectTable, ObjectName: "orders", ChangeKind: schema.Added},
		{ObjectType: schema.ObjectColumn, ObjectName: "orders.note", ChangeKind: schema.Added},
	}

	adv, err := NewAnalyzer(gw, nil).Advanced(context.Background(), diffs, "live")
	require.NoError(t, err)

	assert.Empty(t, gw.Calls())
	require.Len(t, adv.Tables, 1)
	assert.Equal(t, 2, adv.Tables[0].Changes)
}

func TestAdvanced_WithoutConnection(t *testing.T) {
	gw := gatewaytest.New()

	adv, err := NewAnalyzer(gw, nil).Advanced(context.Background(), sampleDiffs(), "")
	require.NoError(t, err)

	assert.Empty(t, gw.Calls())
	assert.Equal(t, risk.Medium, adv.UserExperience)
}

func TestAnalyzer_InvalidInput(t *testing.T) {
	bad := []schema.SchemaDifference{{ObjectType: schema.ObjectColumn, ObjectName: "nodot", ChangeKind: schema.Added}}
	a := NewAnalyzer(nil, nil)

	_, err := a.Basic(bad)
	assert.True(t, errs.IsInvalidInput(err))

	_, err = a.Advanced(context.Background(), bad, "live")
	assert.True(t, errs.IsInvalidInput(err))
}
