package planner

import (
	"fmt"

	"github.com/lockplane/lockshift/database/postgres"
	"github.com/lockplane/lockshift/internal/schema"
)

func verificationQuery(diff schema.SchemaDifference) string {
	table, name := diff.Parent()
	return postgres.ExistenceQuery(string(diff.ObjectType), diff.SchemaName(), name, table)
}

// preCondition requires the object to be absent before a create and present
// before a drop or alter. Failing it blocks the step.
func preCondition(stepID string, diff schema.SchemaDifference, probe string) Condition {
	if diff.ChangeKind == schema.Added {
		return Condition{
			ID:             stepID + "_pre",
			Kind:           ConditionObjectAbsent,
			Description:    fmt.Sprintf("%s %s must not exist yet", diff.ObjectType, diff.QualifiedName()),
			ProbeQuery:     probe,
			ExpectedResult: "0",
			Severity:       SeverityError,
		}
	}
	return Condition{
		ID:             stepID + "_pre",
		Kind:           ConditionObjectExists,
		Description:    fmt.Sprintf("%s %s must exist", diff.ObjectType, diff.QualifiedName()),
		ProbeQuery:     probe,
		ExpectedResult: ">=1",
		Severity:       SeverityError,
	}
}

// postCondition checks the object's state after the step. It is advisory.
func postCondition(stepID string, diff schema.SchemaDifference, probe string) Condition {
	c := Condition{
		ID:         stepID + "_post",
		ProbeQuery: probe,
		Severity:   SeverityWarning,
	}
	switch diff.ChangeKind {
	case schema.Added:
		c.Kind = ConditionObjectExists
		c.Description = fmt.Sprintf("%s %s exists", diff.ObjectType, diff.QualifiedName())
		c.ExpectedResult = ">=1"
	case schema.Removed:
		c.Kind = ConditionObjectAbsent
		c.Description = fmt.Sprintf("%s %s no longer exists", diff.ObjectType, diff.QualifiedName())
		c.ExpectedResult = "0"
	default:
		c.Kind = ConditionIntegrity
		c.Description = fmt.Sprintf("%s %s still exists after alteration", diff.ObjectType, diff.QualifiedName())
		c.ExpectedResult = ">=1"
	}
	return c
}
