package impact

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lockplane/lockshift/database"
	"github.com/lockplane/lockshift/database/postgres"
	"github.com/lockplane/lockshift/internal/errs"
	"github.com/lockplane/lockshift/internal/locks"
	"github.com/lockplane/lockshift/internal/logger"
	"github.com/lockplane/lockshift/internal/risk"
	"github.com/lockplane/lockshift/internal/schema"
)

const (
	// LargeTableRows is the row estimate above which a table counts as large.
	LargeTableRows = 1_000_000
	probeLimit     = 4
	lockTimeout    = 5
)

// TableImpact is what the changes do to one table.
type TableImpact struct {
	Table       string         `json:"table"`
	Changes     int            `json:"changes"`
	LockMode    locks.LockMode `json:"lock_mode"`
	RowEstimate int64          `json:"row_estimate"`
	Probed      bool           `json:"probed"`
	Large       bool           `json:"large"`
}

// Mitigation is a recommended action for one concern.
type Mitigation struct {
	Concern string              `json:"concern"`
	Action  string              `json:"action"`
	SQL     string              `json:"sql,omitempty"`
	Rewrite *locks.SaferRewrite `json:"rewrite,omitempty"`
}

// Advanced extends Basic with catalog context, lock analysis, a phased path
// and a rollback estimate.
type Advanced struct {
	Basic
	Tables      []TableImpact       `json:"tables"`
	Locks       []*locks.LockImpact `json:"locks"`
	Path        MigrationPath       `json:"migration_path"`
	Rollback    RollbackPlan        `json:"rollback"`
	Mitigations []Mitigation        `json:"mitigations"`
	Dependents  map[string]int64    `json:"dependents,omitempty"`
	Warnings    []string            `json:"warnings,omitempty"`
}

// Analyzer computes impact reports, optionally probing a live catalog.
type Analyzer struct {
	catalog *postgres.Catalog
	log     *logger.Logger
}

// NewAnalyzer creates an analyzer. gw may be nil when no catalog is available.
func NewAnalyzer(gw database.Gateway, log *logger.Logger) *Analyzer {
	a := &Analyzer{log: logger.OrNop(log)}
	if gw != nil {
		a.catalog = postgres.NewCatalog(gw)
	}
	return a
}

// Basic validates diffs and returns their basic impact.
func (a *Analyzer) Basic(diffs []schema.SchemaDifference) (*Basic, error) {
	if err := validate(diffs); err != nil {
		return nil, err
	}
	return Assess(diffs), nil
}

// Advanced returns the full impact of diffs. When conn is set, row estimates
// for the affected tables and dependent counts for dropped relations are read
// from it; a failed probe becomes a warning.
func (a *Analyzer) Advanced(ctx context.Context, diffs []schema.SchemaDifference, conn string) (*Advanced, error) {
	if err := validate(diffs); err != nil {
		return nil, err
	}

	adv := &Advanced{
		Basic:       *Assess(diffs),
		Tables:      []TableImpact{},
		Locks:       make([]*locks.LockImpact, 0, len(diffs)),
		Path:        Path(diffs),
		Rollback:    PlanRollback(diffs),
		Mitigations: []Mitigation{},
	}

	byTable := map[string]*TableImpact{}
	for _, d := range diffs {
		li := lockOf(d)
		adv.Locks = append(adv.Locks, li)
		adv.Mitigations = append(adv.Mitigations, lockMitigation(d, li)...)

		t := d.OwningTable()
		if t == "" {
			continue
		}
		key := d.SchemaName() + "." + t
		ti, ok := byTable[key]
		if !ok {
			ti = &TableImpact{Table: key}
			byTable[key] = ti
		}
		ti.Changes++
		if li.LockMode > ti.LockMode {
			ti.LockMode = li.LockMode
		}
	}
	for _, key := range adv.AffectedTables {
		adv.Tables = append(adv.Tables, *byTable[key])
	}

	if conn != "" && a.catalog != nil {
		if err := a.probeRows(ctx, conn, diffs, adv); err != nil {
			return nil, err
		}
		if err := a.probeDependents(ctx, conn, diffs, adv); err != nil {
			return nil, err
		}
		sort.Strings(adv.Warnings)
	}
	for _, ti := range adv.Tables {
		if !ti.Large {
			continue
		}
		switch {
		case ti.LockMode.BlocksReads():
			adv.Operational = risk.Critical
			adv.UserExperience = risk.Max(adv.UserExperience, risk.High)
		case ti.LockMode.BlocksWrites():
			adv.Operational = risk.Max(adv.Operational, risk.High)
		}
	}

	adv.Mitigations = append(adv.Mitigations, businessMitigations(adv)...)

	a.log.With().
		Int("changes", adv.TotalChanges).
		Int("phases", len(adv.Path.Phases)).
		Str("operational", adv.Operational.String()).
		Str("compliance", adv.Compliance.String()).
		Logger().
		Debug("Assessed migration impact")
	return adv, nil
}

// probeRows fills in row estimates for the affected tables. Tables created by
// the migration have no rows and are not probed.
func (a *Analyzer) probeRows(ctx context.Context, conn string, diffs []schema.SchemaDifference, adv *Advanced) error {
	created := map[string]bool{}
	for _, d := range diffs {
		if d.ObjectType == schema.ObjectTable && d.ChangeKind == schema.Added {
			created[d.SchemaName()+"."+d.ObjectName] = true
		}
	}
	schemaOf := map[string]string{}
	for _, d := range diffs {
		if t := d.OwningTable(); t != "" {
			schemaOf[d.SchemaName()+"."+t] = d.SchemaName()
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeLimit)
	for i := range adv.Tables {
		ti := &adv.Tables[i]
		if created[ti.Table] {
			continue
		}
		sch := schemaOf[ti.Table]
		name := ti.Table[len(sch)+1:]
		g.Go(func() error {
			n, err := a.catalog.RowEstimate(gctx, conn, sch, name)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				adv.Warnings = append(adv.Warnings, fmt.Sprintf("row estimate for %s unavailable: %v", ti.Table, err))
				mu.Unlock()
				a.log.WarnWith("Row estimate probe failed", map[string]any{"table": ti.Table, "error": err.Error()})
				return nil
			}
			ti.RowEstimate = n
			ti.Probed = true
			ti.Large = n >= LargeTableRows
			return nil
		})
	}
	return g.Wait()
}

// probeDependents counts the objects that still depend on each dropped table
// or view. Postgres refuses such a DROP unless it cascades.
func (a *Analyzer) probeDependents(ctx context.Context, conn string, diffs []schema.SchemaDifference, adv *Advanced) error {
	var mu sync.Mutex
	found := map[string]int64{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeLimit)
	for _, d := range diffs {
		if d.ChangeKind != schema.Removed || (d.ObjectType != schema.ObjectTable && d.ObjectType != schema.ObjectView) {
			continue
		}
		g.Go(func() error {
			n, err := a.catalog.DependentCount(gctx, conn, d.SchemaName(), d.ObjectName)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil && gctx.Err() != nil:
				return gctx.Err()
			case err != nil:
				adv.Warnings = append(adv.Warnings, fmt.Sprintf("dependents of %s unavailable: %v", d.QualifiedName(), err))
			case n > 0:
				found[d.QualifiedName()] = n
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(found) == 0 {
		return nil
	}

	adv.Dependents = found
	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		adv.Mitigations = append(adv.Mitigations, Mitigation{
			Concern: fmt.Sprintf("%d objects depend on %s", found[name], name),
			Action:  "Drop or repoint the dependent objects first; without CASCADE the drop fails",
		})
	}
	return nil
}

func lockMitigation(d schema.SchemaDifference, li *locks.LockImpact) []Mitigation {
	if !li.RequiresSaferAlternative() {
		return nil
	}
	concern := fmt.Sprintf("%s takes %s lock", d.String(), li.LockMode)
	if rw := locks.SuggestRewrite(li.Statement); rw != nil {
		return []Mitigation{{Concern: concern, Action: rw.Description, Rewrite: rw}}
	}
	if li.BlocksReads && d.ChangeKind != schema.Added {
		return []Mitigation{{
			Concern: concern,
			Action:  "Run with a short lock_timeout during low traffic and retry on timeout",
			SQL:     locks.InjectLockTimeout(li.Statement, lockTimeout),
		}}
	}
	return nil
}

func businessMitigations(adv *Advanced) []Mitigation {
	var out []Mitigation
	if adv.DataLossPossible {
		out = append(out, Mitigation{Concern: "data loss", Action: "Back up the affected tables before applying"})
	}
	if !adv.Rollback.Feasible {
		out = append(out, Mitigation{Concern: "rollback", Action: "Verify a restorable backup exists; undoing this migration requires a restore"})
	}
	if adv.Operational >= risk.High {
		out = append(out, Mitigation{Concern: "operations", Action: "Schedule a maintenance window and have an operator on call"})
	}
	if adv.Financial >= risk.High {
		out = append(out, Mitigation{Concern: "financial", Action: "Pause billing and payment jobs while the migration runs"})
	}
	if adv.Compliance >= risk.High {
		out = append(out, Mitigation{Concern: "compliance", Action: "Export affected audit and customer records and notify their owners"})
	}
	if adv.UserExperience >= risk.High {
		out = append(out, Mitigation{Concern: "user experience", Action: "Announce the change window to users"})
	}
	return out
}

func validate(diffs []schema.SchemaDifference) error {
	for i, d := range diffs {
		if err := d.Validate(); err != nil {
			return errs.Wrap(errs.KindInvalidInput, fmt.Sprintf("difference %d", i), err)
		}
	}
	return nil
}
