package planner

import (
	"regexp"
	"strings"
	"testing"
)

func TestCastExpression(t *testing.T) {
	tests := []struct {
		name      string
		from, to  string
		contains  string
		lossy     bool
		emptyExpr bool
	}{
		{"same type", "integer", "INTEGER", "", false, true},
		{"int widening", "integer", "bigint", "qty::bigint", false, false},
		{"int narrowing", "bigint", "smallint", "qty::smallint", true, false},
		{"int to numeric", "integer", "numeric(10,2)", "qty::numeric(10,2)", false, false},
		{"numeric to int", "numeric", "integer", "round(qty)::integer", true, false},
		{"int to text", "integer", "text", "qty::text", false, false},
		{"text to int", "text", "integer", "CASE WHEN qty ~", true, false},
		{"text to date", "character varying(32)", "date", "THEN trim(qty)::date ELSE NULL END", true, false},
		{"text to bool", "text", "boolean", "THEN true", true, false},
		{"timestamp to date", "timestamp without time zone", "date", "qty::date", true, false},
		{"date to timestamptz", "date", "timestamptz", "qty::timestamptz", false, false},
		{"bool to int", "boolean", "integer", "CASE WHEN qty THEN 1 ELSE 0 END", false, false},
		{"json to uuid", "jsonb", "uuid", "qty::uuid", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, lossy := CastExpression("qty", tt.from, tt.to)
			if tt.emptyExpr && expr != "" {
				t.Fatalf("Expected no USING expression, got %q", expr)
			}
			if !strings.Contains(expr, tt.contains) {
				t.Errorf("Expected %q in %q", tt.contains, expr)
			}
			if lossy != tt.lossy {
				t.Errorf("lossy = %v, want %v", lossy, tt.lossy)
			}
		})
	}
}

func TestTextToDateGuardUsesRegex(t *testing.T) {
	expr, _ := CastExpression("shipped_on", "text", "date")
	if !strings.Contains(expr, "shipped_on ~ '"+datePattern+"'") {
		t.Errorf("Expected regex guard, got %s", expr)
	}
	if !strings.HasPrefix(expr, "CASE WHEN") || !strings.HasSuffix(expr, "ELSE NULL END") {
		t.Errorf("Expected CASE expression, got %s", expr)
	}
}

func TestCastExpressionQuotesColumn(t *testing.T) {
	expr, _ := CastExpression("Order", "integer", "text")
	if expr != `"Order"::text` {
		t.Errorf("Expected quoted column, got %s", expr)
	}
}

func TestDateGuardPatterns(t *testing.T) {
	date := regexp.MustCompile(datePattern)
	timestamp := regexp.MustCompile(timestampPattern)

	tests := []struct {
		value string
		date  bool
		ts    bool
	}{
		{"2024-06-30", true, true},
		{" 2024-12-31 ", true, true},
		{"2024-01-01T08:30:00Z", false, true},
		{"2024-13-01", false, false},
		{"2024-00-10", false, false},
		{"2024-13-45", false, false},
		{"2024-06-32", false, false},
		{"2024-06-00", false, false},
		{"2024-06-45 10:00", false, false},
		{"06/30/2024", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			if got := date.MatchString(tt.value); got != tt.date {
				t.Errorf("date match = %v, want %v", got, tt.date)
			}
			if got := timestamp.MatchString(tt.value); got != tt.ts {
				t.Errorf("timestamp match = %v, want %v", got, tt.ts)
			}
		})
	}
}
