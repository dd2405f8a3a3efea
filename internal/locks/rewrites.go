package locks

import (
	"fmt"
	"regexp"
	"strings"
)

// SaferRewrite is a lock-friendlier alternative to a DDL statement.
type SaferRewrite struct {
	Description string `json:"description"`
	// SQL is empty when the alternative needs a multi-phase rollout rather
	// than a direct rewrite.
	SQL                   []string `json:"sql,omitempty"`
	LockMode              LockMode `json:"lock_mode"`
	Tradeoffs             []string `json:"tradeoffs"`
	RequiresMultipleSteps bool     `json:"requires_multiple_steps"`
	Notes                 string   `json:"notes,omitempty"`
}

const identPattern = `(?:"[^"]+"|[a-zA-Z_][a-zA-Z0-9_$]*)`

var (
	createIndexPrefix  = regexp.MustCompile(`(?i)^(CREATE[[:space:]]+(?:UNIQUE[[:space:]]+)?INDEX)`)
	alterTableName     = regexp.MustCompile(`(?i)ALTER[[:space:]]+TABLE[[:space:]]+(?:IF[[:space:]]+EXISTS[[:space:]]+)?(?:ONLY[[:space:]]+)?(` + identPattern + `(?:[.]` + identPattern + `)?)`)
	addConstraintName  = regexp.MustCompile(`(?i)ADD[[:space:]]+CONSTRAINT[[:space:]]+(` + identPattern + `)[[:space:]]+`)
	alterColumnName    = regexp.MustCompile(`(?i)ALTER[[:space:]]+COLUMN[[:space:]]+(` + identPattern + `)`)
	setNotNullColumn   = regexp.MustCompile(`(?i)ALTER[[:space:]]+COLUMN[[:space:]]+(` + identPattern + `)[[:space:]]+SET[[:space:]]+NOT[[:space:]]+NULL`)
	constraintKeywords = map[string]bool{"CHECK": true, "UNIQUE": true, "FOREIGN": true, "PRIMARY": true, "EXCLUDE": true}
)

// SuggestRewrite returns a safer alternative for statement, or nil.
func SuggestRewrite(statement string) *SaferRewrite {
	sql := strings.TrimSpace(statement)
	if normalize(sql) == "" {
		return nil
	}
	upper := strings.ToUpper(sql)

	if r := rewriteCreateIndex(sql, upper); r != nil {
		return r
	}
	if r := rewriteAddConstraint(sql, upper); r != nil {
		return r
	}
	if r := rewriteSetNotNull(sql, upper); r != nil {
		return r
	}
	return suggestAlterType(sql, upper)
}

func rewriteCreateIndex(sql, upper string) *SaferRewrite {
	if strings.Contains(upper, "CONCURRENTLY") || !createIndexPrefix.MatchString(sql) {
		return nil
	}
	return &SaferRewrite{
		Description: "Use CREATE INDEX CONCURRENTLY to avoid blocking writes",
		SQL:         []string{createIndexPrefix.ReplaceAllString(sql, "$1 CONCURRENTLY")},
		LockMode:    LockShareUpdateExclusive,
		Tradeoffs: []string{
			"Takes longer to build (requires multiple table scans)",
			"Cannot run inside a transaction",
			"May leave an invalid index if interrupted",
		},
		Notes: "Monitor progress with: SELECT * FROM pg_stat_progress_create_index",
	}
}

func rewriteAddConstraint(sql, upper string) *SaferRewrite {
	if !strings.Contains(upper, "ALTER TABLE") || !strings.Contains(upper, "ADD CONSTRAINT") ||
		strings.Contains(upper, "NOT VALID") {
		return nil
	}
	// only CHECK and FOREIGN KEY constraints accept NOT VALID
	if !strings.Contains(upper, "CHECK") && !strings.Contains(upper, "FOREIGN KEY") {
		return nil
	}
	table := tableName(sql)
	name := constraintName(sql)
	if table == "" || name == "" {
		return nil
	}

	return &SaferRewrite{
		Description: "Add the constraint NOT VALID, then VALIDATE it under a weaker lock",
		SQL: []string{
			strings.TrimSuffix(sql, ";") + " NOT VALID;",
			fmt.Sprintf("ALTER TABLE %s VALIDATE CONSTRAINT %s;", table, name),
		},
		LockMode: LockShareUpdateExclusive,
		Tradeoffs: []string{
			"Requires two separate operations",
			"New rows are checked immediately, existing rows during VALIDATE",
		},
		RequiresMultipleSteps: true,
		Notes:                 "Run VALIDATE after the first statement succeeds",
	}
}

func rewriteSetNotNull(sql, upper string) *SaferRewrite {
	m := setNotNullColumn.FindStringSubmatch(sql)
	table := tableName(sql)
	if m == nil || table == "" {
		return nil
	}
	column := m[1]
	check := strings.Trim(column, `"`) + "_not_null"

	return &SaferRewrite{
		Description: "Prove NOT NULL with a validated CHECK constraint so SET NOT NULL skips the table scan",
		SQL: []string{
			fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s IS NOT NULL) NOT VALID;", table, check, column),
			fmt.Sprintf("ALTER TABLE %s VALIDATE CONSTRAINT %s;", table, check),
			fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;", table, column),
			fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s;", table, check),
		},
		LockMode:              LockShareUpdateExclusive,
		Tradeoffs:             []string{"Four statements instead of one", "Requires PostgreSQL 12 or later"},
		RequiresMultipleSteps: true,
	}
}

func suggestAlterType(sql, upper string) *SaferRewrite {
	if !alterColumnType.MatchString(sql) {
		return nil
	}
	table := tableName(sql)
	m := alterColumnName.FindStringSubmatch(sql)
	if table == "" || m == nil {
		return nil
	}

	return &SaferRewrite{
		Description: "ALTER COLUMN TYPE rewrites the table; use an expand/contract rollout instead",
		LockMode:    LockShareUpdateExclusive,
		Tradeoffs: []string{
			"Add a new column with the new type",
			"Dual-write to both columns from the application",
			"Backfill the new column in batches",
			"Move reads to the new column",
			"Drop the old column",
		},
		RequiresMultipleSteps: true,
		Notes:                 fmt.Sprintf("Column %s on %s", m[1], table),
	}
}

// InjectLockTimeout prefixes sql with a lock_timeout setting.
func InjectLockTimeout(sql string, timeoutSeconds int) string {
	if timeoutSeconds <= 0 {
		return sql
	}
	return fmt.Sprintf("SET lock_timeout = '%ds'; %s;", timeoutSeconds, strings.TrimSuffix(strings.TrimSpace(sql), ";"))
}

func tableName(sql string) string {
	m := alterTableName.FindStringSubmatch(sql)
	if m == nil {
		return ""
	}
	return m[1]
}

func constraintName(sql string) string {
	m := addConstraintName.FindStringSubmatch(sql)
	if m == nil || constraintKeywords[strings.ToUpper(m[1])] {
		return ""
	}
	return m[1]
}
