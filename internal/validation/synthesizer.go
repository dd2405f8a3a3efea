package validation

import (
	"fmt"

	"github.com/lockplane/lockshift/database/postgres"
	"github.com/lockplane/lockshift/internal/logger"
	"github.com/lockplane/lockshift/internal/planner"
	"github.com/lockplane/lockshift/internal/risk"
	"github.com/lockplane/lockshift/internal/schema"
)

// Synthesizer derives validation probes from migration steps.
type Synthesizer struct {
	log *logger.Logger
}

// NewSynthesizer creates a synthesizer. A nil logger discards output.
func NewSynthesizer(log *logger.Logger) *Synthesizer {
	return &Synthesizer{log: logger.OrNop(log)}
}

// Synthesize returns the per-step probes in step order followed by the
// plan-wide probes. Nil steps are skipped.
func (s *Synthesizer) Synthesize(steps []*planner.MigrationStep) []Step {
	var out []Step
	for _, step := range steps {
		if step == nil {
			continue
		}
		out = append(out, ForStep(step)...)
	}
	out = append(out, GlobalSteps()...)

	s.log.Debugf("Synthesized %d validation probes for %d steps", len(out), len(steps))
	return out
}

// ForStep returns the probes for one migration step.
func ForStep(step *planner.MigrationStep) []Step {
	out := []Step{{
		ID:             step.ID + "_syntax",
		Name:           "Syntax: " + step.Name,
		Description:    fmt.Sprintf("Forward SQL for %s parses", step.QualifiedName()),
		Category:       CategorySyntax,
		ForwardStepID:  step.ID,
		ProbeQuery:     step.SQLScript,
		ExpectedResult: ExpectValid,
		Severity:       planner.SeverityError,
		Automated:      true,
	}}

	if step.VerificationQuery != "" {
		expected := ">=1"
		if step.ChangeKind == schema.Removed {
			expected = "0"
		}
		out = append(out, Step{
			ID:             step.ID + "_exists",
			Name:           "Schema: " + step.Name,
			Description:    fmt.Sprintf("%s %s is in the expected state", step.ObjectType, step.QualifiedName()),
			Category:       CategorySchema,
			ForwardStepID:  step.ID,
			ProbeQuery:     step.VerificationQuery,
			ExpectedResult: expected,
			Severity:       planner.SeverityError,
			Automated:      true,
		})
	}

	if step.ChangeKind != schema.Removed {
		out = append(out, typeSpecific(step)...)
	}

	if step.RiskLevel >= risk.High {
		out = append(out, performanceProbe(step), securityProbe(step))
	}
	return out
}

func typeSpecific(step *planner.MigrationStep) []Step {
	switch step.ObjectType {
	case schema.ObjectTable, schema.ObjectView:
		return []Step{{
			ID:             step.ID + "_data",
			Name:           "Data: " + step.Name,
			Description:    fmt.Sprintf("%s is readable", step.QualifiedName()),
			Category:       CategoryData,
			ForwardStepID:  step.ID,
			ProbeQuery:     fmt.Sprintf("SELECT COUNT(*) FROM (SELECT 1 FROM %s LIMIT 1) probe", postgres.QualifiedName(step.Schema, step.ObjectName)),
			ExpectedResult: ">=0",
			Severity:       planner.SeverityError,
			Automated:      true,
		}}
	case schema.ObjectColumn:
		return []Step{{
			ID:            step.ID + "_data",
			Name:          "Data: " + step.Name,
			Description:   fmt.Sprintf("Column %s is readable", step.QualifiedName()),
			Category:      CategoryData,
			ForwardStepID: step.ID,
			ProbeQuery: fmt.Sprintf("SELECT COUNT(%s) >= 0 FROM %s",
				postgres.QuoteIdent(step.LocalName()), postgres.QualifiedName(step.Schema, step.OwningTable())),
			ExpectedResult: "true",
			Severity:       planner.SeverityError,
			Automated:      true,
		}}
	case schema.ObjectConstraint:
		return []Step{{
			ID:            step.ID + "_constraint",
			Name:          "Constraint: " + step.Name,
			Description:   fmt.Sprintf("Constraint %s is validated", step.QualifiedName()),
			Category:      CategoryConstraint,
			ForwardStepID: step.ID,
			ProbeQuery: fmt.Sprintf("SELECT COUNT(*) FROM pg_constraint con JOIN pg_namespace n ON n.oid = con.connamespace "+
				"WHERE n.nspname = %s AND con.conname = %s AND NOT con.convalidated",
				postgres.QuoteLiteral(step.Schema), postgres.QuoteLiteral(step.LocalName())),
			ExpectedResult: "0",
			Severity:       planner.SeverityWarning,
			Automated:      true,
		}}
	case schema.ObjectIndex:
		return []Step{{
			ID:            step.ID + "_constraint",
			Name:          "Index validity: " + step.Name,
			Description:   fmt.Sprintf("Index %s is valid and ready", step.QualifiedName()),
			Category:      CategoryConstraint,
			ForwardStepID: step.ID,
			ProbeQuery: fmt.Sprintf("SELECT COUNT(*) FROM pg_index i JOIN pg_class c ON c.oid = i.indexrelid "+
				"JOIN pg_namespace n ON n.oid = c.relnamespace WHERE n.nspname = %s AND c.relname = %s AND NOT (i.indisvalid AND i.indisready)",
				postgres.QuoteLiteral(step.Schema), postgres.QuoteLiteral(step.LocalName())),
			ExpectedResult: "0",
			Severity:       planner.SeverityWarning,
			Automated:      true,
		}}
	}
	return nil
}

func performanceProbe(step *planner.MigrationStep) Step {
	return Step{
		ID:             step.ID + "_performance",
		Name:           "Lock contention: " + step.Name,
		Description:    "No sessions are waiting on locks after the step",
		Category:       CategoryPerformance,
		ForwardStepID:  step.ID,
		ProbeQuery:     "SELECT COUNT(*) FROM pg_locks WHERE NOT granted",
		ExpectedResult: "0",
		Severity:       planner.SeverityWarning,
		Automated:      true,
	}
}

// securityProbe checks that privileges on a surviving relation are still
// visible. It is manual for object types without a privilege view.
func securityProbe(step *planner.MigrationStep) Step {
	probe := Step{
		ID:            step.ID + "_security",
		Name:          "Privileges: " + step.Name,
		Description:   fmt.Sprintf("Privileges on %s are reviewed", step.QualifiedName()),
		Category:      CategorySecurity,
		ForwardStepID: step.ID,
		Severity:      planner.SeverityWarning,
	}

	table := ""
	switch step.ObjectType {
	case schema.ObjectTable, schema.ObjectView:
		table = step.ObjectName
	case schema.ObjectColumn, schema.ObjectConstraint, schema.ObjectTrigger:
		table = step.OwningTable()
	}
	if table == "" {
		probe.ExpectedResult = "reviewed"
		return probe
	}

	probe.ProbeQuery = fmt.Sprintf("SELECT COUNT(*) FROM information_schema.table_privileges WHERE table_schema = %s AND table_name = %s",
		postgres.QuoteLiteral(step.Schema), postgres.QuoteLiteral(table))
	probe.ExpectedResult = ">=1"
	if step.ChangeKind == schema.Removed && step.ObjectType == schema.ObjectTable {
		probe.ExpectedResult = "0"
	}
	probe.Automated = true
	return probe
}

// GlobalSteps returns the plan-wide probes.
func GlobalSteps() []Step {
	return []Step{
		{
			ID:             "global_connectivity",
			Name:           "Connectivity",
			Description:    "The target connection answers queries",
			Category:       CategoryConnectivity,
			ProbeQuery:     "SELECT 1",
			ExpectedResult: "1",
			Severity:       planner.SeverityError,
			Automated:      true,
		},
		{
			ID:             "global_schema_consistency",
			Name:           "Schema consistency",
			Description:    "No invalid indexes remain in user schemas",
			Category:       CategoryConsistency,
			ProbeQuery:     "SELECT COUNT(*) FROM pg_index i JOIN pg_class c ON c.oid = i.indexrelid JOIN pg_namespace n ON n.oid = c.relnamespace WHERE NOT i.indisvalid AND n.nspname NOT IN ('pg_catalog', 'information_schema')",
			ExpectedResult: "0",
			Severity:       planner.SeverityWarning,
			Automated:      true,
		},
		{
			ID:             "global_cross_schema_dependencies",
			Name:           "Cross-schema dependencies",
			Description:    "Foreign keys that cross schema boundaries",
			Category:       CategoryConsistency,
			ProbeQuery:     "SELECT COUNT(*) FROM pg_constraint con JOIN pg_class c ON c.oid = con.conrelid JOIN pg_class r ON r.oid = con.confrelid WHERE con.contype = 'f' AND c.relnamespace <> r.relnamespace",
			ExpectedResult: ">=0",
			Severity:       planner.SeverityInfo,
			Automated:      true,
		},
		{
			ID:             "global_transaction_health",
			Name:           "Transaction health",
			Description:    "No sessions are left idle in transaction",
			Category:       CategoryConnectivity,
			ProbeQuery:     "SELECT COUNT(*) FROM pg_stat_activity WHERE state = 'idle in transaction' AND pid <> pg_backend_pid()",
			ExpectedResult: "0",
			Severity:       planner.SeverityWarning,
			Automated:      true,
		},
	}
}
