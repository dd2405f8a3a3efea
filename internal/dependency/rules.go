package dependency

import (
	"context"

	"github.com/lockplane/lockshift/internal/planner"
	"github.com/lockplane/lockshift/internal/schema"
)

// Finding describes a detected coupling between two steps. Provider is the
// step whose object the other relies on; nil means the steps are coupled with
// no inherent direction.
type Finding struct {
	Provider *planner.MigrationStep
	Kind     planner.DependencyKind
	Reason   string
}

// Detector inspects two steps against one connection. It returns nil when
// it finds no dependency.
type Detector func(ctx context.Context, p *prober, a, b *planner.MigrationStep, conn string) (*Finding, error)

type pairKey struct {
	first, second schema.ObjectType
}

// Rules maps ordered object-type pairs to detectors. A rule registered for
// (X, Y) also serves (Y, X) with its arguments swapped.
type Rules struct {
	detectors map[pairKey][]Detector
}

// NewRules returns an empty rule table.
func NewRules() *Rules {
	return &Rules{detectors: make(map[pairKey][]Detector)}
}

// Register adds a detector for the pair (first, second).
func (r *Rules) Register(first, second schema.ObjectType, d Detector) {
	key := pairKey{first, second}
	r.detectors[key] = append(r.detectors[key], d)
}

// lookup returns the detectors applicable to (a, b), each already oriented
// so it can be called with a and b in that order.
func (r *Rules) lookup(a, b schema.ObjectType) []Detector {
	var out []Detector
	out = append(out, r.detectors[pairKey{a, b}]...)
	if a == b {
		return out
	}
	for _, d := range r.detectors[pairKey{b, a}] {
		d := d
		out = append(out, func(ctx context.Context, p *prober, x, y *planner.MigrationStep, conn string) (*Finding, error) {
			return d(ctx, p, y, x, conn)
		})
	}
	return out
}

// DefaultRules is the detector table used by NewResolver.
func DefaultRules() *Rules {
	r := NewRules()
	r.Register(schema.ObjectTable, schema.ObjectTable, foreignKeyReference)
	r.Register(schema.ObjectTable, schema.ObjectTable, constraintCoupling)
	r.Register(schema.ObjectTable, schema.ObjectView, viewReference)
	r.Register(schema.ObjectView, schema.ObjectView, viewReference)
	r.Register(schema.ObjectTable, schema.ObjectFunction, functionReference)
	r.Register(schema.ObjectTable, schema.ObjectIndex, indexOnTable)
	r.Register(schema.ObjectTable, schema.ObjectColumn, ownedByTable)
	r.Register(schema.ObjectTable, schema.ObjectConstraint, ownedByTable)
	r.Register(schema.ObjectTable, schema.ObjectTrigger, ownedByTable)
	r.Register(schema.ObjectColumn, schema.ObjectIndex, columnInIndex)
	r.Register(schema.ObjectSequence, schema.ObjectTable, sequenceDefault)
	r.Register(schema.ObjectFunction, schema.ObjectTrigger, triggerFunction)
	r.Register(schema.ObjectSchema, schema.ObjectTable, schemaMember)
	r.Register(schema.ObjectSchema, schema.ObjectView, schemaMember)
	r.Register(schema.ObjectSchema, schema.ObjectFunction, schemaMember)
	r.Register(schema.ObjectSchema, schema.ObjectSequence, schemaMember)
	r.Register(schema.ObjectSchema, schema.ObjectUserType, schemaMember)
	r.Register(schema.ObjectUserType, schema.ObjectTable, typeUsage)
	return r
}
