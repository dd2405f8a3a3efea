package impact

import (
	"fmt"

	"github.com/lockplane/lockshift/internal/planner"
	"github.com/lockplane/lockshift/internal/risk"
	"github.com/lockplane/lockshift/internal/schema"
)

// Phase is one group of changes applied together.
type Phase struct {
	Number                   int        `json:"number"`
	Name                     string     `json:"name"`
	RiskLevel                risk.Level `json:"risk_level"`
	Changes                  []string   `json:"changes"`
	EstimatedDurationSeconds int        `json:"estimated_duration_seconds"`
	RollbackPoint            bool       `json:"rollback_point"`
}

// MigrationPath splits the changes into sequential phases by risk tier.
type MigrationPath struct {
	Phases               []Phase `json:"phases"`
	TotalDurationSeconds int     `json:"total_duration_seconds"`
	RollbackPoints       int     `json:"rollback_points"`
}

var phaseNames = map[risk.Level]string{
	risk.Low:      "Low-risk changes",
	risk.Medium:   "Additive changes",
	risk.High:     "Structural changes",
	risk.Critical: "Destructive changes",
}

// Path buckets diffs into at most four phases, low risk first. Empty tiers
// produce no phase. Only the low and medium phases are rollback points.
func Path(diffs []schema.SchemaDifference) MigrationPath {
	tiers := make(map[risk.Level][]schema.SchemaDifference, len(risk.Levels))
	for _, d := range diffs {
		l := risk.ForChange(d.ObjectType, d.ChangeKind)
		tiers[l] = append(tiers[l], d)
	}

	path := MigrationPath{Phases: []Phase{}}
	for _, level := range risk.Levels {
		bucket := tiers[level]
		if len(bucket) == 0 {
			continue
		}
		phase := Phase{
			Number:        len(path.Phases) + 1,
			Name:          phaseNames[level],
			RiskLevel:     level,
			Changes:       make([]string, 0, len(bucket)),
			RollbackPoint: level <= risk.Medium,
		}
		for _, d := range bucket {
			phase.Changes = append(phase.Changes, d.String())
			phase.EstimatedDurationSeconds += planner.EstimateDuration(d)
		}
		path.TotalDurationSeconds += phase.EstimatedDurationSeconds
		if phase.RollbackPoint {
			path.RollbackPoints++
		}
		path.Phases = append(path.Phases, phase)
	}
	return path
}

// Rollback strategies.
const (
	StrategyAutomatic = "automatic"
	StrategyPartial   = "partial"
	StrategyBackup    = "restore from backup"
)

// RollbackPlan is an up-front estimate of how the changes could be undone.
// It is computed from the differences and is independent of the rollback
// script generated for execution.
type RollbackPlan struct {
	Feasible                 bool     `json:"feasible"`
	Strategy                 string   `json:"strategy"`
	ReversibleChanges        int      `json:"reversible_changes"`
	IrreversibleChanges      int      `json:"irreversible_changes"`
	EstimatedDurationSeconds int      `json:"estimated_duration_seconds"`
	Notes                    []string `json:"notes,omitempty"`
}

// PlanRollback estimates rollback feasibility. A removal can only be undone
// when the difference carries the removed object's definition, and even then
// the data is gone.
func PlanRollback(diffs []schema.SchemaDifference) RollbackPlan {
	plan := RollbackPlan{Feasible: true, Strategy: StrategyAutomatic}
	backup := false
	for _, d := range diffs {
		plan.EstimatedDurationSeconds += planner.EstimateDuration(d)
		if d.ChangeKind != schema.Removed {
			plan.ReversibleChanges++
			continue
		}
		if planner.HasExecutableSQL(d.SourceDefinition) {
			plan.ReversibleChanges++
			if dataLoss(d) {
				plan.Notes = append(plan.Notes, fmt.Sprintf("%s can be recreated but its data cannot", d.QualifiedName()))
			}
			continue
		}
		plan.IrreversibleChanges++
		plan.Notes = append(plan.Notes, fmt.Sprintf("%s has no definition to restore", d.QualifiedName()))
		if dataLoss(d) {
			backup = true
		}
	}

	switch {
	case backup:
		plan.Strategy = StrategyBackup
		plan.Feasible = false
	case plan.IrreversibleChanges > 0:
		plan.Strategy = StrategyPartial
	}
	return plan
}
