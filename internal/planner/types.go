package planner

import (
	"strings"

	"github.com/lockplane/lockshift/internal/risk"
	"github.com/lockplane/lockshift/internal/schema"
)

// Operation is the DDL verb a step performs.
type Operation string

const (
	OpCreate Operation = "CREATE"
	OpDrop   Operation = "DROP"
	OpAlter  Operation = "ALTER"
)

// OperationFor maps a change kind to its operation.
func OperationFor(kind schema.ChangeKind) Operation {
	switch kind {
	case schema.Added:
		return OpCreate
	case schema.Removed:
		return OpDrop
	default:
		return OpAlter
	}
}

// Severity of a condition or validation probe.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Condition is a probe query paired with an expected result. ExpectedResult
// is a literal or a comparator-prefixed value such as ">=1".
type Condition struct {
	ID             string   `json:"id"`
	Kind           string   `json:"kind"`
	Description    string   `json:"description"`
	ProbeQuery     string   `json:"probe_query"`
	ExpectedResult string   `json:"expected_result"`
	Severity       Severity `json:"severity"`
}

// Condition kinds.
const (
	ConditionObjectExists = "object_exists"
	ConditionObjectAbsent = "object_absent"
	ConditionIntegrity    = "integrity"
)

// DependencyKind classifies a dependency edge.
type DependencyKind string

const (
	DependencyObject     DependencyKind = "object"
	DependencySchema     DependencyKind = "schema"
	DependencyConstraint DependencyKind = "constraint"
)

// MigrationDependency says FromStep must run before ToStep.
type MigrationDependency struct {
	FromStep    string         `json:"from_step"`
	ToStep      string         `json:"to_step"`
	Kind        DependencyKind `json:"kind"`
	Description string         `json:"description"`
}

// MigrationStep is one executable forward change with its paired rollback,
// verification query and conditions. Only Dependencies and Order change
// after synthesis, apart from Rename while a plan is assembled.
type MigrationStep struct {
	ID                       string            `json:"id"`
	Order                    int               `json:"order"`
	Name                     string            `json:"name"`
	Description              string            `json:"description"`
	SQLScript                string            `json:"sql_script"`
	ObjectType               schema.ObjectType `json:"object_type"`
	ObjectName               string            `json:"object_name"`
	Schema                   string            `json:"schema"`
	ChangeKind               schema.ChangeKind `json:"change_kind"`
	Operation                Operation         `json:"operation"`
	RiskLevel                risk.Level        `json:"risk_level"`
	Dependencies             []string          `json:"dependencies"`
	EstimatedDurationSeconds int               `json:"estimated_duration_seconds"`
	RollbackSQL              string            `json:"rollback_sql"`
	VerificationQuery        string            `json:"verification_query,omitempty"`
	PreConditions            []Condition       `json:"pre_conditions"`
	PostConditions           []Condition       `json:"post_conditions"`
	Warnings                 []string          `json:"warnings,omitempty"`
}

// OwningTable returns the table the step's object belongs to, or "".
func (s *MigrationStep) OwningTable() string {
	d := schema.SchemaDifference{ObjectType: s.ObjectType, ObjectName: s.ObjectName}
	return d.OwningTable()
}

// LocalName returns the object's own name without a table prefix.
func (s *MigrationStep) LocalName() string {
	d := schema.SchemaDifference{ObjectType: s.ObjectType, ObjectName: s.ObjectName}
	return d.LocalName()
}

// QualifiedName renders schema.objectName.
func (s *MigrationStep) QualifiedName() string {
	return s.Schema + "." + s.ObjectName
}

// Rename replaces the step id and the id prefix of its conditions.
func (s *MigrationStep) Rename(id string) {
	for _, conds := range [][]Condition{s.PreConditions, s.PostConditions} {
		for i := range conds {
			if strings.HasPrefix(conds[i].ID, s.ID) {
				conds[i].ID = id + strings.TrimPrefix(conds[i].ID, s.ID)
			}
		}
	}
	s.ID = id
}

// HasGenuineRollback reports whether the step's rollback SQL is a real inverse.
func (s *MigrationStep) HasGenuineRollback() bool {
	return !IsRollbackPlaceholder(s.RollbackSQL)
}

// Markers embedded in generated SQL comments.
const (
	CannotRollbackMarker   = "-- CANNOT ROLLBACK"
	ManualDefinitionMarker = "-- MANUAL DEFINITION REQUIRED"
	BlockedMarker          = "-- BLOCKED"
	NoopMarker             = "-- NO-OP"
)

// IsRollbackPlaceholder reports whether sql is not a usable inverse: it
// carries the cannot-rollback marker or contains no executable statement.
// An explicit no-op is a genuine inverse.
func IsRollbackPlaceholder(sql string) bool {
	if strings.Contains(sql, CannotRollbackMarker) {
		return true
	}
	if strings.HasPrefix(strings.TrimSpace(sql), NoopMarker) {
		return false
	}
	return !HasExecutableSQL(sql)
}

// HasExecutableSQL reports whether sql contains anything besides whitespace
// and line comments.
func HasExecutableSQL(sql string) bool {
	for _, line := range strings.Split(sql, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		return true
	}
	return false
}

// Levels returns the risk level of every step.
func Levels(steps []*MigrationStep) []risk.Level {
	levels := make([]risk.Level, len(steps))
	for i, s := range steps {
		levels[i] = s.RiskLevel
	}
	return levels
}

// TotalDurationSeconds sums the step estimates.
func TotalDurationSeconds(steps []*MigrationStep) int {
	total := 0
	for _, s := range steps {
		total += s.EstimatedDurationSeconds
	}
	return total
}
