package validation

import (
	"testing"

	"github.com/lockplane/lockshift/internal/planner"
)

func TestCheckSyntax(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		wantErr bool
	}{
		{"create table", "CREATE TABLE public.a (id bigint PRIMARY KEY);", false},
		{"multiple statements", "ALTER TABLE a ADD COLUMN b text; CREATE INDEX a_b_idx ON a (b);", false},
		{"comment only", planner.CannotRollbackMarker + ": nothing to do", false},
		{"empty", "", false},
		{"dollar quoted function", "CREATE FUNCTION f() RETURNS int AS $$ SELECT 1; $$ LANGUAGE sql;", false},
		{"typo", "CREAT TABLE a (id int);", true},
		{"unterminated", "CREATE TABLE a (id int", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSyntax(tt.sql)
			if tt.wantErr && err == nil {
				t.Fatalf("Expected parse error for %q", tt.sql)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Failed to parse %q: %v", tt.sql, err)
			}
		})
	}
}

func TestLint(t *testing.T) {
	tests := []struct {
		name      string
		sql       string
		wantCodes []string
	}{
		{"drop table", "DROP TABLE public.users;", []string{"dangerous_drop_table"}},
		{"drop view cascade", "DROP VIEW public.v CASCADE;", []string{"drop_cascade"}},
		{"drop view", "DROP VIEW public.v;", nil},
		{"truncate", "TRUNCATE public.a, public.b;", []string{"dangerous_truncate"}},
		{"delete all", "DELETE FROM public.a;", []string{"dangerous_delete_all"}},
		{"delete filtered", "DELETE FROM public.a WHERE id = 1;", nil},
		{"drop column", "ALTER TABLE public.a DROP COLUMN b;", []string{"dangerous_drop_column"}},
		{"transaction", "BEGIN; ALTER TABLE a ADD COLUMN b int; COMMIT;", []string{"transaction_control", "transaction_control"}},
		{"invalid", "NOT SQL", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := Lint(tt.sql)
			if len(issues) != len(tt.wantCodes) {
				t.Fatalf("Expected %d issues, got %d: %+v", len(tt.wantCodes), len(issues), issues)
			}
			for i, want := range tt.wantCodes {
				if issues[i].Code != want {
					t.Errorf("Issue %d: expected code %s, got %s", i, want, issues[i].Code)
				}
			}
		})
	}
}

func TestLint_StatementNumbers(t *testing.T) {
	issues := Lint("CREATE TABLE a (id int); DROP TABLE b;")
	if len(issues) != 1 {
		t.Fatalf("Expected 1 issue, got %d", len(issues))
	}
	if issues[0].Statement != 2 {
		t.Errorf("Expected statement 2, got %d", issues[0].Statement)
	}
	if issues[0].Severity != planner.SeverityError {
		t.Errorf("Expected error severity, got %s", issues[0].Severity)
	}
}
