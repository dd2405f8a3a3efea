package validation

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/lockplane/lockshift/internal/planner"
)

// CheckSyntax parses sql with the PostgreSQL parser. Comment-only input is
// valid.
func CheckSyntax(sql string) error {
	if !planner.HasExecutableSQL(sql) {
		return nil
	}
	if _, err := pg_query.Parse(sql); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	return nil
}

// Issue is a risky pattern found in otherwise valid SQL.
type Issue struct {
	Statement int              `json:"statement"`
	Severity  planner.Severity `json:"severity"`
	Code      string           `json:"code"`
	Message   string           `json:"message"`
}

// Lint reports data-loss and transaction-control statements in sql.
// Unparsable input yields no issues; CheckSyntax reports those.
func Lint(sql string) []Issue {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil
	}

	var issues []Issue
	for i, raw := range tree.Stmts {
		if raw.Stmt == nil {
			continue
		}
		for _, issue := range lintStatement(raw.Stmt) {
			issue.Statement = i + 1
			issues = append(issues, issue)
		}
	}
	return issues
}

func lintStatement(stmt *pg_query.Node) []Issue {
	var issues []Issue

	switch node := stmt.Node.(type) {
	case *pg_query.Node_DropStmt:
		drop := node.DropStmt
		cascade := drop.Behavior == pg_query.DropBehavior_DROP_CASCADE
		if drop.RemoveType == pg_query.ObjectType_OBJECT_TABLE {
			issues = append(issues, Issue{
				Severity: planner.SeverityError,
				Code:     "dangerous_drop_table",
				Message:  fmt.Sprintf("DROP TABLE %s permanently deletes all rows%s", objectName(drop.Objects), cascadeNote(cascade)),
			})
		} else if cascade {
			issues = append(issues, Issue{
				Severity: planner.SeverityWarning,
				Code:     "drop_cascade",
				Message:  fmt.Sprintf("DROP ... CASCADE on %s%s", objectName(drop.Objects), cascadeNote(cascade)),
			})
		}

	case *pg_query.Node_TruncateStmt:
		issues = append(issues, Issue{
			Severity: planner.SeverityError,
			Code:     "dangerous_truncate",
			Message:  fmt.Sprintf("TRUNCATE %s deletes all rows", strings.Join(relationNames(node.TruncateStmt.Relations), ", ")),
		})

	case *pg_query.Node_DeleteStmt:
		if node.DeleteStmt.WhereClause == nil {
			issues = append(issues, Issue{
				Severity: planner.SeverityError,
				Code:     "dangerous_delete_all",
				Message:  fmt.Sprintf("DELETE FROM %s without WHERE removes every row", rangeVarName(node.DeleteStmt.Relation)),
			})
		}

	case *pg_query.Node_AlterTableStmt:
		table := rangeVarName(node.AlterTableStmt.Relation)
		for _, cmd := range node.AlterTableStmt.Cmds {
			alter, ok := cmd.Node.(*pg_query.Node_AlterTableCmd)
			if !ok || alter.AlterTableCmd.Subtype != pg_query.AlterTableType_AT_DropColumn {
				continue
			}
			issues = append(issues, Issue{
				Severity: planner.SeverityError,
				Code:     "dangerous_drop_column",
				Message:  fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s loses the column's data", table, alter.AlterTableCmd.Name),
			})
		}

	case *pg_query.Node_TransactionStmt:
		issues = append(issues, Issue{
			Severity: planner.SeverityWarning,
			Code:     "transaction_control",
			Message:  "Transaction control inside a step conflicts with per-statement execution",
		})
	}

	return issues
}

func cascadeNote(cascade bool) string {
	if cascade {
		return "; CASCADE also drops dependent objects"
	}
	return ""
}

func objectName(objects []*pg_query.Node) string {
	if len(objects) == 0 {
		return "unknown"
	}
	list, ok := objects[0].Node.(*pg_query.Node_List)
	if !ok {
		return "unknown"
	}
	var names []string
	for _, item := range list.List.Items {
		if s, ok := item.Node.(*pg_query.Node_String_); ok {
			names = append(names, s.String_.Sval)
		}
	}
	return strings.Join(names, ".")
}

func relationNames(relations []*pg_query.Node) []string {
	names := make([]string, 0, len(relations))
	for _, rel := range relations {
		if rv, ok := rel.Node.(*pg_query.Node_RangeVar); ok {
			names = append(names, rangeVarName(rv.RangeVar))
			continue
		}
		names = append(names, "unknown")
	}
	return names
}

func rangeVarName(rv *pg_query.RangeVar) string {
	if rv == nil {
		return "unknown"
	}
	if rv.Schemaname != "" {
		return rv.Schemaname + "." + rv.Relname
	}
	return rv.Relname
}
