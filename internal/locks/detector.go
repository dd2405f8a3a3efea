package locks

import (
	"regexp"
	"strings"
)

var alterColumnType = regexp.MustCompile(`(?i)ALTER[[:space:]]+COLUMN[[:space:]]+("[^"]+"|[a-z0-9_$]+)[[:space:]]+(SET[[:space:]]+DATA[[:space:]]+)?TYPE[[:space:]]`)

// DetectLockMode returns the strongest table lock one SQL statement acquires.
// Comment-only and empty statements take no lock.
func DetectLockMode(statement string) LockMode {
	sql := normalize(statement)
	if sql == "" {
		return LockAccessShare
	}

	switch {
	case strings.HasPrefix(sql, "CREATE INDEX") || strings.HasPrefix(sql, "CREATE UNIQUE INDEX"):
		if strings.Contains(sql, "CONCURRENTLY") {
			return LockShareUpdateExclusive
		}
		return LockShare

	case strings.HasPrefix(sql, "DROP INDEX"):
		if strings.Contains(sql, "CONCURRENTLY") {
			return LockShareUpdateExclusive
		}
		return LockAccessExclusive

	case strings.HasPrefix(sql, "ALTER TABLE"):
		if strings.Contains(sql, "VALIDATE CONSTRAINT") {
			return LockShareUpdateExclusive
		}
		return LockAccessExclusive

	case strings.HasPrefix(sql, "CREATE TRIGGER") || strings.HasPrefix(sql, "CREATE OR REPLACE TRIGGER"):
		return LockShareRowExclusive

	case strings.HasPrefix(sql, "DROP TABLE") || strings.HasPrefix(sql, "TRUNCATE") ||
		strings.HasPrefix(sql, "DROP TRIGGER") || strings.HasPrefix(sql, "DROP VIEW") ||
		strings.HasPrefix(sql, "DROP MATERIALIZED VIEW") || strings.HasPrefix(sql, "CREATE OR REPLACE VIEW") ||
		strings.HasPrefix(sql, "REFRESH MATERIALIZED VIEW") || strings.HasPrefix(sql, "VACUUM FULL") ||
		strings.HasPrefix(sql, "CLUSTER") || strings.HasPrefix(sql, "REINDEX"):
		if strings.HasPrefix(sql, "REFRESH MATERIALIZED VIEW") && strings.Contains(sql, "CONCURRENTLY") {
			return LockExclusive
		}
		return LockAccessExclusive

	case strings.HasPrefix(sql, "CREATE TABLE") || strings.HasPrefix(sql, "CREATE VIEW") ||
		strings.HasPrefix(sql, "CREATE SEQUENCE") || strings.HasPrefix(sql, "CREATE SCHEMA") ||
		strings.HasPrefix(sql, "CREATE FUNCTION") || strings.HasPrefix(sql, "CREATE OR REPLACE FUNCTION") ||
		strings.HasPrefix(sql, "CREATE TYPE") || strings.HasPrefix(sql, "DROP FUNCTION") ||
		strings.HasPrefix(sql, "DROP SEQUENCE") || strings.HasPrefix(sql, "DROP SCHEMA") ||
		strings.HasPrefix(sql, "DROP TYPE") || strings.HasPrefix(sql, "COMMENT ON"):
		// new objects are invisible to other sessions; catalog-only changes
		return LockAccessShare

	case strings.HasPrefix(sql, "INSERT") || strings.HasPrefix(sql, "UPDATE") || strings.HasPrefix(sql, "DELETE") ||
		strings.HasPrefix(sql, "MERGE"):
		return LockRowExclusive

	case strings.HasPrefix(sql, "SELECT") || strings.HasPrefix(sql, "WITH") || strings.HasPrefix(sql, "SET ") ||
		strings.HasPrefix(sql, "ANALYZE") || strings.HasPrefix(sql, "VACUUM"):
		if strings.HasPrefix(sql, "ANALYZE") || strings.HasPrefix(sql, "VACUUM") {
			return LockShareUpdateExclusive
		}
		if strings.Contains(sql, "FOR UPDATE") || strings.Contains(sql, "FOR SHARE") {
			return LockRowShare
		}
		return LockAccessShare
	}

	// unknown statements are assumed to take the strongest lock
	return LockAccessExclusive
}

// Analyze returns the lock impact of one statement.
func Analyze(operation, statement string) *LockImpact {
	mode := DetectLockMode(statement)
	return &LockImpact{
		Operation:    operation,
		Statement:    strings.TrimSpace(statement),
		LockMode:     mode,
		BlocksReads:  mode.BlocksReads(),
		BlocksWrites: mode.BlocksWrites(),
		Impact:       mode.ImpactLevel(),
		Explanation:  explain(statement, mode),
	}
}

// Strongest returns the impact of the most disruptive statement, or nil when
// statements is empty.
func Strongest(operation string, statements []string) *LockImpact {
	var worst *LockImpact
	for _, stmt := range statements {
		li := Analyze(operation, stmt)
		if worst == nil || li.LockMode > worst.LockMode {
			worst = li
		}
	}
	return worst
}

func explain(statement string, mode LockMode) string {
	sql := normalize(statement)
	if sql == "" {
		return "No SQL operations"
	}

	switch mode {
	case LockAccessExclusive:
		if strings.HasPrefix(sql, "ALTER TABLE") {
			switch {
			case strings.Contains(sql, "ADD COLUMN") && strings.Contains(sql, "DEFAULT"):
				return "ALTER TABLE ADD COLUMN with a volatile DEFAULT rewrites the entire table"
			case strings.Contains(sql, "ADD COLUMN"):
				return "ALTER TABLE requires exclusive access to modify table structure"
			case strings.Contains(sql, "DROP COLUMN"):
				return "DROP COLUMN requires exclusive access to modify table structure"
			case alterColumnType.MatchString(sql):
				return "Changing column type may require rewriting the entire table"
			case strings.Contains(sql, "SET NOT NULL"):
				return "SET NOT NULL scans every row while holding an exclusive lock"
			case strings.Contains(sql, "ADD CONSTRAINT") && !strings.Contains(sql, "NOT VALID"):
				return "ADD CONSTRAINT scans all existing rows to validate the constraint"
			}
			return "ALTER TABLE operation requires exclusive access"
		}
		if strings.HasPrefix(sql, "DROP TABLE") {
			return "DROP TABLE requires exclusive access to remove the table"
		}
		if strings.HasPrefix(sql, "DROP INDEX") {
			return "DROP INDEX blocks all access to the indexed table"
		}
		if strings.HasPrefix(sql, "TRUNCATE") {
			return "TRUNCATE requires exclusive access to delete all rows"
		}
		return "This operation requires exclusive table access"

	case LockShareRowExclusive, LockExclusive:
		return "This operation blocks writes and other schema changes"

	case LockShare:
		if strings.Contains(sql, "CREATE INDEX") || strings.Contains(sql, "CREATE UNIQUE INDEX") {
			return "CREATE INDEX requires SHARE lock, blocking writes during index build"
		}
		return "This operation blocks writes but allows reads"

	case LockShareUpdateExclusive:
		if strings.Contains(sql, "CONCURRENTLY") {
			return "CONCURRENTLY allows concurrent reads and writes"
		}
		if strings.Contains(sql, "VALIDATE CONSTRAINT") {
			return "VALIDATE CONSTRAINT allows concurrent reads and writes"
		}
		return "This operation allows concurrent reads and writes"

	case LockRowExclusive:
		return "Normal DML operation (INSERT/UPDATE/DELETE)"

	default:
		return "Read-only or catalog-only operation"
	}
}

// normalize upper-cases a statement after dropping leading comments and
// collapsing whitespace.
func normalize(statement string) string {
	var lines []string
	for _, line := range strings.Split(statement, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		lines = append(lines, trimmed)
	}
	return strings.ToUpper(strings.Join(strings.Fields(strings.Join(lines, " ")), " "))
}
