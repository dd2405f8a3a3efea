package impact

import (
	"fmt"

	"github.com/lockplane/lockshift/database/postgres"
	"github.com/lockplane/lockshift/internal/locks"
	"github.com/lockplane/lockshift/internal/planner"
	"github.com/lockplane/lockshift/internal/schema"
)

// statementFor returns the DDL a difference is expected to run. The target
// definition is used when it is real SQL; otherwise a representative
// statement is built so the lock it takes can still be classified.
func statementFor(d schema.SchemaDifference) string {
	if d.ChangeKind != schema.Removed && planner.HasExecutableSQL(d.TargetDefinition) {
		return d.TargetDefinition
	}

	table, name := d.Parent()
	qualified := postgres.QualifiedName(d.SchemaName(), d.ObjectName)
	owner := postgres.QualifiedName(d.SchemaName(), table)
	local := postgres.QuoteIdent(name)

	switch d.ObjectType {
	case schema.ObjectTable:
		switch d.ChangeKind {
		case schema.Added:
			return fmt.Sprintf("CREATE TABLE %s ()", qualified)
		case schema.Removed:
			return fmt.Sprintf("DROP TABLE %s", qualified)
		}
		return fmt.Sprintf("ALTER TABLE %s", qualified)
	case schema.ObjectColumn:
		switch d.ChangeKind {
		case schema.Added:
			return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", owner, local)
		case schema.Removed:
			return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", owner, local)
		}
		return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE", owner, local)
	case schema.ObjectConstraint:
		if d.ChangeKind == schema.Removed {
			return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", owner, local)
		}
		return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s", owner, local)
	case schema.ObjectIndex:
		if d.ChangeKind == schema.Added {
			return fmt.Sprintf("CREATE INDEX %s", qualified)
		}
		return fmt.Sprintf("DROP INDEX %s", qualified)
	case schema.ObjectView:
		switch d.ChangeKind {
		case schema.Added:
			return fmt.Sprintf("CREATE VIEW %s", qualified)
		case schema.Removed:
			return fmt.Sprintf("DROP VIEW %s", qualified)
		}
		return fmt.Sprintf("CREATE OR REPLACE VIEW %s", qualified)
	case schema.ObjectTrigger:
		if d.ChangeKind == schema.Removed {
			return fmt.Sprintf("DROP TRIGGER %s ON %s", local, owner)
		}
		return fmt.Sprintf("CREATE OR REPLACE TRIGGER %s", local)
	}
	// functions, sequences, schemas and types only touch the catalog
	return fmt.Sprintf("COMMENT ON %s %s", d.ObjectType, qualified)
}

func lockOf(d schema.SchemaDifference) *locks.LockImpact {
	return locks.Analyze(string(planner.OperationFor(d.ChangeKind)), statementFor(d))
}
