// Package dependency detects coupling between migration steps and orders
// them so that every step runs after the steps it relies on.
package dependency

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lockplane/lockshift/database"
	"github.com/lockplane/lockshift/database/postgres"
	"github.com/lockplane/lockshift/internal/errs"
	"github.com/lockplane/lockshift/internal/logger"
	"github.com/lockplane/lockshift/internal/planner"
	"github.com/lockplane/lockshift/internal/schema"
)

// largePlanPairs is the pair count above which Resolve warns that the
// pairwise probing will be slow.
const largePlanPairs = 2000

// Resolver decides which steps depend on each other by probing both
// connections. A dependency found in either database counts.
type Resolver struct {
	catalog *postgres.Catalog
	rules   *Rules
	log     *logger.Logger
}

// NewResolver creates a resolver with the default rule table.
func NewResolver(gw database.Gateway, log *logger.Logger) *Resolver {
	return NewResolverWithRules(gw, DefaultRules(), log)
}

// NewResolverWithRules creates a resolver with a custom rule table.
func NewResolverWithRules(gw database.Gateway, rules *Rules, log *logger.Logger) *Resolver {
	return &Resolver{
		catalog: postgres.NewCatalog(gw),
		rules:   rules,
		log:     logger.OrNop(log),
	}
}

// Result is the reordered plan with the edges that produced it.
type Result struct {
	Steps        []*planner.MigrationStep
	Dependencies []planner.MigrationDependency
	// ProbeCacheHits counts catalog probes answered from memory.
	ProbeCacheHits int
}

// IsDependent reports whether two steps are coupled in either database.
func (r *Resolver) IsDependent(ctx context.Context, a, b *planner.MigrationStep, sourceConn, targetConn string) (bool, error) {
	f, err := r.detect(ctx, newProber(r.catalog), a, b, sourceConn, targetConn)
	if err != nil {
		return false, err
	}
	return f != nil, nil
}

// Resolve checks every ordered pair of steps, annotates each step with the
// ids it depends on, and returns the steps in a dependency-respecting order
// with dense 1-based Order values. Steps in different change buckets keep
// bucket order; within a bucket the provider of a dependency runs first,
// except for drops where the dependent object goes first. A cycle is
// reported as a KindDependencyCycle error.
func (r *Resolver) Resolve(ctx context.Context, steps []*planner.MigrationStep, sourceConn, targetConn string) (*Result, error) {
	if sourceConn == "" || targetConn == "" {
		return nil, errs.New(errs.KindInvalidInput, "source and target connections are required")
	}
	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		if s == nil {
			return nil, errs.New(errs.KindInvalidInput, "nil migration step")
		}
		if seen[s.ID] {
			return nil, errs.Newf(errs.KindInvalidInput, "duplicate step id %s", s.ID)
		}
		seen[s.ID] = true
	}

	if pairs := len(steps) * (len(steps) - 1) / 2; pairs > largePlanPairs {
		r.log.WarnWith("large plan, dependency checks probe every pair of steps", map[string]any{
			"steps": len(steps),
			"pairs": pairs,
		})
	}

	p := newProber(r.catalog)
	graph := NewGraph(steps)
	deps := []planner.MigrationDependency{}

	for i := 0; i < len(steps); i++ {
		for j := i + 1; j < len(steps); j++ {
			a, b := steps[i], steps[j]
			f, err := r.detect(ctx, p, a, b, sourceConn, targetConn)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				// an unanswerable probe is treated as a dependency
				r.log.WarnWith("dependency probe failed, assuming dependency", map[string]any{
					"from":  a.ID,
					"to":    b.ID,
					"error": err.Error(),
				})
				f = &Finding{Kind: planner.DependencyObject, Reason: fmt.Sprintf("probe failed: %v", err)}
			}
			if f == nil {
				continue
			}

			before, after := order(a, b, f)
			graph.AddEdge(before.ID, after.ID)
			after.Dependencies = appendUnique(after.Dependencies, before.ID)
			deps = append(deps, planner.MigrationDependency{
				FromStep:    before.ID,
				ToStep:      after.ID,
				Kind:        f.Kind,
				Description: f.Reason,
			})
		}
	}

	sorted, err := graph.TopologicalSort()
	if err != nil {
		return nil, err
	}
	planner.Renumber(sorted)

	p.mu.Lock()
	hits := p.hits
	p.mu.Unlock()

	r.log.With().Int("steps", len(sorted)).Int("dependencies", len(deps)).Int("cache_hits", hits).Logger().
		Debug("resolved step dependencies")

	return &Result{Steps: sorted, Dependencies: deps, ProbeCacheHits: hits}, nil
}

// order decides which of a and b (a earlier in synthesis order) runs first.
func order(a, b *planner.MigrationStep, f *Finding) (before, after *planner.MigrationStep) {
	if !planner.SameBucket(a.ChangeKind, b.ChangeKind) {
		if planner.BucketBefore(b.ChangeKind, a.ChangeKind) {
			return b, a
		}
		return a, b
	}
	if f.Provider == nil {
		return a, b
	}

	provider, dependent := a, b
	if f.Provider == b {
		provider, dependent = b, a
	}
	if a.ChangeKind == schema.Removed {
		return dependent, provider
	}
	return provider, dependent
}

// detect runs the rule table against both connections concurrently and
// merges the findings. A directed finding wins over an undirected one.
func (r *Resolver) detect(ctx context.Context, p *prober, a, b *planner.MigrationStep, sourceConn, targetConn string) (*Finding, error) {
	if a.Schema == b.Schema && a.ObjectName == b.ObjectName {
		return &Finding{Kind: planner.DependencyObject, Reason: fmt.Sprintf("both steps change %s", a.QualifiedName())}, nil
	}

	conns := []string{sourceConn}
	if targetConn != sourceConn {
		conns = append(conns, targetConn)
	}
	findings := make([]*Finding, len(conns))

	g, gctx := errgroup.WithContext(ctx)
	for i, conn := range conns {
		g.Go(func() error {
			f, err := r.detectOn(gctx, p, a, b, conn)
			if err != nil {
				return fmt.Errorf("dependency probe on %s: %w", conn, err)
			}
			findings[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged *Finding
	for _, f := range findings {
		if f == nil {
			continue
		}
		if merged == nil || (merged.Provider == nil && f.Provider != nil) {
			merged = f
		}
	}
	return merged, nil
}

func (r *Resolver) detectOn(ctx context.Context, p *prober, a, b *planner.MigrationStep, conn string) (*Finding, error) {
	var undirected *Finding
	for _, d := range r.rules.lookup(a.ObjectType, b.ObjectType) {
		f, err := d(ctx, p, a, b, conn)
		if err != nil {
			return nil, err
		}
		if f == nil {
			continue
		}
		if f.Provider != nil {
			return f, nil
		}
		if undirected == nil {
			undirected = f
		}
	}
	if undirected != nil {
		return undirected, nil
	}
	return crossSchema(ctx, p, a, b, conn)
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
