package postgres

import (
	"strings"
	"testing"
)

func TestQuoteIdent(t *testing.T) {
	tests := map[string]string{
		"orders":      "orders",
		"order_items": "order_items",
		"user":        `"user"`,
		"Orders":      `"Orders"`,
		"weird name":  `"weird name"`,
		`a"b`:         `"a""b"`,
	}
	for in, want := range tests {
		if got := QuoteIdent(in); got != want {
			t.Errorf("QuoteIdent(%q) = %s, want %s", in, got, want)
		}
	}
	if got := QualifiedName("", "orders"); got != "orders" {
		t.Errorf("QualifiedName without schema = %s", got)
	}
}

func TestExistenceQueryEmbedsLiterals(t *testing.T) {
	q := ExistenceQuery("column", "public", "status", "orders")
	for _, want := range []string{"information_schema.columns", "table_schema = 'public'", "table_name = 'orders'", "column_name = 'status'"} {
		if !strings.Contains(q, want) {
			t.Errorf("expected %q in %s", want, q)
		}
	}

	injected := ExistenceQuery("table", "public", "x'; DROP TABLE users; --", "")
	if !strings.Contains(injected, "'x''; DROP TABLE users; --'") {
		t.Errorf("expected name to be escaped, got %s", injected)
	}
}

func TestExistenceQueryPerType(t *testing.T) {
	tests := map[string]string{
		"table":      "information_schema.tables",
		"view":       "information_schema.views",
		"index":      "pg_indexes",
		"function":   "pg_proc",
		"trigger":    "pg_trigger",
		"sequence":   "information_schema.sequences",
		"constraint": "information_schema.table_constraints",
		"schema":     "information_schema.schemata",
		"type":       "pg_type",
		"extension":  "pg_class",
	}
	for objectType, source := range tests {
		if q := ExistenceQuery(objectType, "public", "x", "t"); !strings.Contains(q, source) {
			t.Errorf("%s: expected %s in %s", objectType, source, q)
		}
	}
}
