// Package migration assembles schema differences into a complete migration
// script and reads and writes script files.
package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lockplane/lockshift/database"
	"github.com/lockplane/lockshift/internal/dependency"
	"github.com/lockplane/lockshift/internal/errs"
	"github.com/lockplane/lockshift/internal/logger"
	"github.com/lockplane/lockshift/internal/planner"
	"github.com/lockplane/lockshift/internal/risk"
	"github.com/lockplane/lockshift/internal/rollback"
	"github.com/lockplane/lockshift/internal/schema"
	"github.com/lockplane/lockshift/internal/validation"
)

// BuildOptions name the plan and the two connections it is built against.
// SourceConnection is the database being migrated; TargetConnection is the
// reference whose shape is desired.
type BuildOptions struct {
	Name             string
	SourceConnection string
	TargetConnection string
}

// Builder runs synthesis, dependency resolution, risk assessment, rollback
// planning and validation synthesis.
type Builder struct {
	synth      *planner.Synthesizer
	resolver   *dependency.Resolver
	rollback   *rollback.Planner
	validation *validation.Synthesizer
	log        *logger.Logger
	now        func() time.Time
}

// NewBuilder creates a builder whose catalog probes go through gw.
func NewBuilder(gw database.Gateway, log *logger.Logger) *Builder {
	log = logger.OrNop(log)
	return &Builder{
		synth:      planner.NewSynthesizer(gw, log),
		resolver:   dependency.NewResolver(gw, log),
		rollback:   rollback.NewPlanner(log),
		validation: validation.NewSynthesizer(log),
		log:        log,
		now:        time.Now,
	}
}

// Build turns diffs into a script. Malformed input and dependency cycles are
// returned as errors; everything else degrades into warnings and placeholders.
func (b *Builder) Build(ctx context.Context, diffs []schema.SchemaDifference, opts BuildOptions) (*Script, error) {
	if opts.SourceConnection == "" || opts.TargetConnection == "" {
		return nil, errs.New(errs.KindInvalidInput, "source and target connections are required")
	}
	for i, d := range diffs {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("difference %d: %w", i, err)
		}
	}

	script := &Script{
		ID:               uuid.NewString(),
		Name:             opts.Name,
		CreatedAt:        b.now().UTC(),
		SourceConnection: opts.SourceConnection,
		TargetConnection: opts.TargetConnection,
	}
	if script.Name == "" {
		script.Name = "migration-" + script.CreatedAt.Format("20060102-150405")
	}
	log := b.log.With().Str("script", script.ID).Logger()

	triaged := planner.Triage(diffs)
	synth := b.synth.ForPlan(triaged)
	steps := make([]*planner.MigrationStep, 0, len(triaged))
	seen := make(map[string]bool, len(triaged))
	for i, d := range triaged {
		step, err := synth.Synthesize(ctx, d, i+1, opts.SourceConnection, opts.TargetConnection)
		if err != nil {
			return nil, fmt.Errorf("synthesize %s: %w", d, err)
		}
		// repeated differences on one object get numbered ids
		if seen[step.ID] {
			base, id := step.ID, step.ID
			for n := 2; seen[id]; n++ {
				id = fmt.Sprintf("%s_%d", base, n)
			}
			step.Rename(id)
		}
		seen[step.ID] = true
		steps = append(steps, step)
	}

	resolved, err := b.resolver.Resolve(ctx, steps, opts.SourceConnection, opts.TargetConnection)
	if err != nil {
		return nil, fmt.Errorf("resolve dependencies: %w", err)
	}
	script.Steps = resolved.Steps
	if script.Steps == nil {
		script.Steps = []*planner.MigrationStep{}
	}
	script.Dependencies = resolved.Dependencies

	script.RiskSummary = risk.Summarize(planner.Levels(script.Steps))
	script.RiskLevel = script.RiskSummary.Overall
	script.EstimatedDurationSeconds = planner.TotalDurationSeconds(script.Steps)

	script.Rollback = b.rollback.PlanSafely(script.Steps)
	script.Validation = b.validation.Synthesize(script.Steps)

	for _, step := range script.Steps {
		for _, w := range step.Warnings {
			script.Warnings = append(script.Warnings, fmt.Sprintf("%s: %s", step.ID, w))
		}
	}

	log.With().
		Int("steps", len(script.Steps)).
		Int("dependencies", len(script.Dependencies)).
		Str("risk", script.RiskLevel.String()).
		Logger().
		Info("Built migration script")
	return script, nil
}
