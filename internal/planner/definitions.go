package planner

import (
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/lockplane/lockshift/internal/schema"
)

// checkDefinition parses a user-supplied definition and returns warnings for
// SQL that does not parse or that drops objects. The definition is used
// either way.
func checkDefinition(diff schema.SchemaDifference, sql string) []string {
	if !HasExecutableSQL(sql) {
		return nil
	}

	tree, err := pg_query.Parse(sql)
	if err != nil {
		return []string{fmt.Sprintf("Definition for %s does not parse as PostgreSQL: %v", diff, err)}
	}

	var warnings []string
	for _, raw := range tree.Stmts {
		if raw.Stmt == nil {
			continue
		}
		if raw.Stmt.GetDropStmt() != nil && diff.ChangeKind == schema.Added {
			warnings = append(warnings, fmt.Sprintf("Definition for %s contains a DROP statement", diff))
		}
	}
	return warnings
}
