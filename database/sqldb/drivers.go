package sqldb

import (
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// DetectDriver guesses the driver from a connection string.
func DetectDriver(connString string) string {
	lower := strings.ToLower(strings.TrimSpace(connString))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(lower, "libsql://"), strings.HasPrefix(lower, "wss://"), strings.HasPrefix(lower, "https://"):
		return "libsql"
	case strings.HasPrefix(lower, "mysql://"), strings.Contains(lower, "@tcp("):
		return "mysql"
	case strings.HasPrefix(lower, "sqlite://"), strings.HasPrefix(lower, "file:"), lower == ":memory:",
		strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"), strings.HasSuffix(lower, ".sqlite3"):
		return "sqlite"
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname="):
		return "postgres"
	default:
		return "postgres"
	}
}

// SQLDriverName maps a driver type to the name registered with database/sql.
func SQLDriverName(driverType string) string {
	switch driverType {
	case "postgres", "postgresql":
		return "postgres"
	case "sqlite", "sqlite3":
		return "sqlite"
	case "libsql":
		return "libsql"
	case "mysql":
		return "mysql"
	default:
		return ""
	}
}

// NormalizeDSN strips URL schemes the underlying driver does not accept.
func NormalizeDSN(driverType, connString string) string {
	switch driverType {
	case "sqlite", "sqlite3":
		return strings.TrimPrefix(connString, "sqlite://")
	case "mysql":
		return strings.TrimPrefix(connString, "mysql://")
	default:
		return connString
	}
}
