package postgres

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
)

var bareIdentifier = regexp.MustCompile(`^[a-z_][a-z0-9_$]*$`)

// reservedWords are keywords that cannot appear unquoted as identifiers.
var reservedWords = map[string]bool{
	"all": true, "analyse": true, "analyze": true, "and": true, "any": true, "array": true, "as": true,
	"asc": true, "both": true, "case": true, "cast": true, "check": true, "collate": true, "column": true,
	"constraint": true, "create": true, "default": true, "desc": true, "distinct": true, "do": true,
	"else": true, "end": true, "except": true, "false": true, "for": true, "foreign": true, "from": true,
	"grant": true, "group": true, "having": true, "in": true, "index": true, "into": true, "is": true, "limit": true,
	"not": true, "null": true, "offset": true, "on": true, "or": true, "order": true, "primary": true,
	"references": true, "select": true, "table": true, "then": true, "to": true, "true": true, "union": true,
	"unique": true, "user": true, "using": true, "when": true, "where": true, "with": true,
}

// QuoteIdent quotes name only when Postgres would otherwise fold or reject it.
func QuoteIdent(name string) string {
	if bareIdentifier.MatchString(name) && !reservedWords[name] {
		return name
	}
	return pq.QuoteIdentifier(name)
}

// QualifiedName renders schema.name, omitting an empty schema.
func QualifiedName(schema, name string) string {
	if schema == "" {
		return QuoteIdent(name)
	}
	return QuoteIdent(schema) + "." + QuoteIdent(name)
}

// QuoteLiteral renders s as a SQL string literal.
func QuoteLiteral(s string) string {
	return pq.QuoteLiteral(s)
}

// ExistenceQuery builds a standalone COUNT(*) probe that reports whether an
// object exists. The query is stored in plans and re-run later, so names are
// embedded as quoted literals rather than bind parameters. parent is the
// owning table for columns, constraints and triggers.
func ExistenceQuery(objectType, schema, name, parent string) string {
	s, n := QuoteLiteral(schema), QuoteLiteral(name)
	switch strings.ToLower(objectType) {
	case "table":
		return fmt.Sprintf("SELECT COUNT(*) AS object_count FROM information_schema.tables WHERE table_schema = %s AND table_name = %s", s, n)
	case "view":
		return fmt.Sprintf("SELECT COUNT(*) AS object_count FROM information_schema.views WHERE table_schema = %s AND table_name = %s", s, n)
	case "column":
		return fmt.Sprintf("SELECT COUNT(*) AS object_count FROM information_schema.columns WHERE table_schema = %s AND table_name = %s AND column_name = %s",
			s, QuoteLiteral(parent), n)
	case "index":
		return fmt.Sprintf("SELECT COUNT(*) AS object_count FROM pg_indexes WHERE schemaname = %s AND indexname = %s", s, n)
	case "function":
		return fmt.Sprintf("SELECT COUNT(*) AS object_count FROM pg_proc p JOIN pg_namespace n ON n.oid = p.pronamespace WHERE n.nspname = %s AND p.proname = %s", s, n)
	case "trigger":
		return fmt.Sprintf("SELECT COUNT(*) AS object_count FROM pg_trigger t JOIN pg_class c ON c.oid = t.tgrelid JOIN pg_namespace n ON n.oid = c.relnamespace WHERE n.nspname = %s AND t.tgname = %s AND NOT t.tgisinternal", s, n)
	case "sequence":
		return fmt.Sprintf("SELECT COUNT(*) AS object_count FROM information_schema.sequences WHERE sequence_schema = %s AND sequence_name = %s", s, n)
	case "constraint":
		return fmt.Sprintf("SELECT COUNT(*) AS object_count FROM information_schema.table_constraints WHERE constraint_schema = %s AND table_name = %s AND constraint_name = %s",
			s, QuoteLiteral(parent), n)
	case "schema":
		return fmt.Sprintf("SELECT COUNT(*) AS object_count FROM information_schema.schemata WHERE schema_name = %s", n)
	case "type":
		return fmt.Sprintf("SELECT COUNT(*) AS object_count FROM pg_type t JOIN pg_namespace n ON n.oid = t.typnamespace WHERE n.nspname = %s AND t.typname = %s", s, n)
	default:
		return fmt.Sprintf("SELECT COUNT(*) AS object_count FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace WHERE n.nspname = %s AND c.relname = %s", s, n)
	}
}
