package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/lockplane/lockshift/database"
	"github.com/lockplane/lockshift/database/postgres"
	"github.com/lockplane/lockshift/internal/errs"
	"github.com/lockplane/lockshift/internal/logger"
	"github.com/lockplane/lockshift/internal/risk"
	"github.com/lockplane/lockshift/internal/schema"
)

// Duration model, in seconds.
const (
	baseDurationSeconds      = 30
	tableDropExtraSeconds    = 60
	tableCreateExtraSeconds  = 45
	modificationExtraSeconds = 30
)

// Synthesizer turns schema differences into fully populated migration steps.
type Synthesizer struct {
	catalog *postgres.Catalog
	gen     *postgres.Generator
	log     *logger.Logger
	// planned holds schema.name of indexes created by their own steps
	planned map[string]bool
}

// NewSynthesizer creates a synthesizer that probes catalogs through gw.
func NewSynthesizer(gw database.Gateway, log *logger.Logger) *Synthesizer {
	return &Synthesizer{
		catalog: postgres.NewCatalog(gw),
		gen:     postgres.NewGenerator(),
		log:     logger.OrNop(log),
	}
}

// ForPlan returns a copy of s for synthesizing the steps of diffs. Indexes
// that diffs add as separate objects are left out of table steps, so the
// index step still finds its index absent.
func (s *Synthesizer) ForPlan(diffs []schema.SchemaDifference) *Synthesizer {
	c := *s
	c.planned = make(map[string]bool)
	for _, d := range diffs {
		if d.ObjectType == schema.ObjectIndex && d.ChangeKind == schema.Added {
			c.planned[d.QualifiedName()] = true
		}
	}
	return &c
}

func (s *Synthesizer) plannedIndex(sch, name string) bool {
	return s.planned[sch+"."+name]
}

// forward is the outcome of forward SQL generation.
type forward struct {
	sql      string
	warnings []string
	// inverse holds statement-level inverses when the forward SQL was derived
	// from a catalog diff; nil otherwise.
	inverse []string
	// irreversible lists parts of the change the inverse cannot restore.
	irreversible []string
	failed       bool
}

// Synthesize builds the step for diff at the given 1-based order. sourceConn
// is the database being migrated and targetConn the reference whose shape is
// desired. Only malformed input is returned as an error; generation failures
// become commented placeholders and step warnings.
func (s *Synthesizer) Synthesize(ctx context.Context, diff schema.SchemaDifference, order int, sourceConn, targetConn string) (*MigrationStep, error) {
	if err := diff.Validate(); err != nil {
		return nil, err
	}
	if order < 1 {
		return nil, errs.Newf(errs.KindInvalidInput, "step order must be >= 1, got %d", order)
	}
	if sourceConn == "" || targetConn == "" {
		return nil, errs.New(errs.KindInvalidInput, "source and target connections are required")
	}

	log := s.log.With().
		Str("schema", diff.SchemaName()).
		Str("object", diff.ObjectName).
		Str("change", string(diff.ChangeKind)).
		Logger()

	var fwd forward
	var err error
	switch diff.ChangeKind {
	case schema.Added:
		fwd, err = s.added(ctx, diff, targetConn)
	case schema.Removed:
		fwd = s.removed(diff)
	case schema.Modified:
		fwd, err = s.modified(ctx, diff, sourceConn, targetConn)
	}
	if err != nil {
		log.WarnWith("SQL generation failed, emitting placeholder", map[string]any{"error": err.Error()})
		fwd = forward{
			sql:      fmt.Sprintf("%s: could not generate SQL for %s (%v)", ManualDefinitionMarker, diff, err),
			warnings: []string{fmt.Sprintf("Manual SQL required for %s: %v", diff, err)},
			failed:   true,
		}
	}
	for _, w := range fwd.warnings {
		log.Warn(w)
	}

	step := &MigrationStep{
		ID:                       StepID(diff),
		Order:                    order,
		Name:                     stepName(diff),
		Description:              stepDescription(diff),
		SQLScript:                fwd.sql,
		ObjectType:               diff.ObjectType,
		ObjectName:               diff.ObjectName,
		Schema:                   diff.SchemaName(),
		ChangeKind:               diff.ChangeKind,
		Operation:                OperationFor(diff.ChangeKind),
		RiskLevel:                risk.ForChange(diff.ObjectType, diff.ChangeKind),
		Dependencies:             []string{},
		EstimatedDurationSeconds: EstimateDuration(diff),
		RollbackSQL:              s.rollbackSQL(diff, fwd),
		VerificationQuery:        verificationQuery(diff),
		Warnings:                 fwd.warnings,
	}
	step.PreConditions = []Condition{preCondition(step.ID, diff, step.VerificationQuery)}
	step.PostConditions = []Condition{postCondition(step.ID, diff, step.VerificationQuery)}

	return step, nil
}

// EstimateDuration is 30s, plus 60s for a table drop, 45s for a table create
// and 30s for any modification.
func EstimateDuration(diff schema.SchemaDifference) int {
	seconds := baseDurationSeconds
	switch {
	case diff.ObjectType == schema.ObjectTable && diff.ChangeKind == schema.Removed:
		seconds += tableDropExtraSeconds
	case diff.ObjectType == schema.ObjectTable && diff.ChangeKind == schema.Added:
		seconds += tableCreateExtraSeconds
	}
	if diff.ChangeKind == schema.Modified {
		seconds += modificationExtraSeconds
	}
	return seconds
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// StepID derives a stable, readable id from the change and the object. It
// carries no position, so it stays valid when dependency resolution reorders
// the plan.
func StepID(diff schema.SchemaDifference) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(diff.QualifiedName()), "_"), "_")
	verb := strings.ToLower(string(OperationFor(diff.ChangeKind)))
	return fmt.Sprintf("step_%s_%s_%s", verb, diff.ObjectType, slug)
}

func stepName(diff schema.SchemaDifference) string {
	var verb string
	switch diff.ChangeKind {
	case schema.Added:
		verb = "Create"
	case schema.Removed:
		verb = "Drop"
	default:
		verb = "Alter"
	}
	return fmt.Sprintf("%s %s %s", verb, diff.ObjectType, diff.QualifiedName())
}

func stepDescription(diff schema.SchemaDifference) string {
	desc := fmt.Sprintf("%s %s %s", diff.ObjectType, diff.QualifiedName(), strings.ToLower(string(diff.ChangeKind)))
	if len(diff.DifferenceDetails) > 0 {
		desc += ": " + strings.Join(diff.DifferenceDetails, "; ")
	}
	return desc
}
