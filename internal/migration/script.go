package migration

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/lockplane/lockshift/internal/errs"
	"github.com/lockplane/lockshift/internal/executor"
	"github.com/lockplane/lockshift/internal/planner"
	"github.com/lockplane/lockshift/internal/risk"
	"github.com/lockplane/lockshift/internal/rollback"
	"github.com/lockplane/lockshift/internal/validation"
)

//go:embed plan.schema.json
var planJSONSchema string

// Script is a complete migration plan.
type Script struct {
	ID                       string                        `json:"id"`
	Name                     string                        `json:"name"`
	CreatedAt                time.Time                     `json:"created_at"`
	SourceConnection         string                        `json:"source_connection"`
	TargetConnection         string                        `json:"target_connection"`
	Steps                    []*planner.MigrationStep      `json:"steps"`
	Dependencies             []planner.MigrationDependency `json:"dependencies"`
	RiskLevel                risk.Level                    `json:"risk_level"`
	RiskSummary              risk.Summary                  `json:"risk_summary"`
	EstimatedDurationSeconds int                           `json:"estimated_duration_seconds"`
	Rollback                 *rollback.Script              `json:"rollback"`
	Validation               []validation.Step             `json:"validation"`
	Warnings                 []string                      `json:"warnings,omitempty"`
}

// ExecutionPlan returns the forward plan for the execution engine. It runs
// against the source connection unless the caller overrides it.
func (s *Script) ExecutionPlan() *executor.Plan {
	return &executor.Plan{
		ID:           s.ID,
		Connection:   s.SourceConnection,
		RiskLevel:    s.RiskLevel,
		Steps:        s.Steps,
		Dependencies: s.Dependencies,
		Validation:   s.Validation,
	}
}

// RollbackPlan converts the rollback script into an executable plan. Steps
// without a genuine inverse keep their placeholder SQL, which the engine
// reports as failed rather than silently skipping.
func (s *Script) RollbackPlan() *executor.Plan {
	plan := &executor.Plan{
		ID:         s.ID + "-rollback",
		Connection: s.SourceConnection,
		Steps:      []*planner.MigrationStep{},
	}
	if s.Rollback == nil {
		return plan
	}

	forward := make(map[string]*planner.MigrationStep, len(s.Steps))
	for _, step := range s.Steps {
		forward[step.ID] = step
	}

	var levels []risk.Level
	for _, rs := range s.Rollback.Steps {
		step := &planner.MigrationStep{
			ID:                       "rollback_" + rs.ForwardStepID,
			Order:                    rs.Order,
			Name:                     rs.Name,
			SQLScript:                rs.SQL,
			Operation:                planner.OpAlter,
			RiskLevel:                rs.RiskLevel,
			Dependencies:             []string{},
			EstimatedDurationSeconds: rs.EstimatedDurationSeconds,
			RollbackSQL:              planner.CannotRollbackMarker + ": rollback steps are not reversible",
		}
		if fwd, ok := forward[rs.ForwardStepID]; ok {
			step.ObjectType = fwd.ObjectType
			step.ObjectName = fwd.ObjectName
			step.Schema = fwd.Schema
			step.ChangeKind = fwd.ChangeKind
			step.Description = "Undo " + fwd.Description
		}
		if rs.Partial {
			step.Warnings = []string{fmt.Sprintf("%s has no automatic rollback", rs.ForwardStepID)}
		}
		plan.Steps = append(plan.Steps, step)
		levels = append(levels, rs.RiskLevel)
	}
	plan.RiskLevel = risk.Aggregate(levels)
	return plan
}

// Save writes the script as indented JSON. The file is replaced atomically.
func (s *Script) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode migration script: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".lockshift-plan-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write migration script: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write migration script: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to save migration script to %s: %w", path, err)
	}
	return nil
}

// LoadScript reads a script file and validates it against the plan schema.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration script %s: %w", path, err)
	}
	return ParseScript(data)
}

// ParseScript validates and decodes a script document.
func ParseScript(data []byte) (*Script, error) {
	problems, err := ValidatePlanDocument(data)
	if err != nil {
		return nil, err
	}
	if len(problems) > 0 {
		return nil, errs.Newf(errs.KindInvalidInput, "migration script is invalid: %s", strings.Join(problems, "; "))
	}

	var s Script
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, "failed to decode migration script", err)
	}
	return &s, nil
}

// ValidatePlanDocument returns one message per schema violation.
func ValidatePlanDocument(data []byte) ([]string, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(planJSONSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, "migration script could not be validated", err)
	}
	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return problems, nil
}
