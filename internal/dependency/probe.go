package dependency

import (
	"context"
	"strings"
	"sync"

	"github.com/lockplane/lockshift/database/postgres"
)

// prober memoizes catalog probes for the lifetime of one resolution. Pairwise
// detection asks the same questions about each object many times.
type prober struct {
	catalog *postgres.Catalog

	mu     sync.Mutex
	values map[string]any
	hits   int
}

func newProber(catalog *postgres.Catalog) *prober {
	return &prober{catalog: catalog, values: make(map[string]any)}
}

func cached[T any](p *prober, key string, load func() (T, error)) (T, error) {
	p.mu.Lock()
	if v, ok := p.values[key]; ok {
		p.hits++
		p.mu.Unlock()
		return v.(T), nil
	}
	p.mu.Unlock()

	v, err := load()
	if err != nil {
		return v, err
	}

	p.mu.Lock()
	p.values[key] = v
	p.mu.Unlock()
	return v, nil
}

func probeKey(parts ...string) string {
	return strings.Join(parts, "\x00")
}

func (p *prober) foreignKeys(ctx context.Context, conn, schema, table string) ([]postgres.ForeignKeyInfo, error) {
	return cached(p, probeKey("fk", conn, schema, table), func() ([]postgres.ForeignKeyInfo, error) {
		return p.catalog.ForeignKeys(ctx, conn, schema, table)
	})
}

func (p *prober) columns(ctx context.Context, conn, schema, table string) ([]postgres.ColumnInfo, error) {
	return cached(p, probeKey("columns", conn, schema, table), func() ([]postgres.ColumnInfo, error) {
		return p.catalog.Columns(ctx, conn, schema, table)
	})
}

func (p *prober) constraints(ctx context.Context, conn, schema, table string) ([]postgres.ConstraintInfo, error) {
	return cached(p, probeKey("constraints", conn, schema, table), func() ([]postgres.ConstraintInfo, error) {
		return p.catalog.Constraints(ctx, conn, schema, table)
	})
}

func (p *prober) viewDefinition(ctx context.Context, conn, schema, view string) (string, error) {
	return cached(p, probeKey("view", conn, schema, view), func() (string, error) {
		return p.catalog.ViewDefinition(ctx, conn, schema, view)
	})
}

func (p *prober) functions(ctx context.Context, conn, schema, name string) ([]postgres.FunctionInfo, error) {
	return cached(p, probeKey("functions", conn, schema, name), func() ([]postgres.FunctionInfo, error) {
		return p.catalog.Functions(ctx, conn, schema, name)
	})
}

func (p *prober) index(ctx context.Context, conn, schema, name string) (*postgres.IndexInfo, error) {
	return cached(p, probeKey("index", conn, schema, name), func() (*postgres.IndexInfo, error) {
		return p.catalog.Index(ctx, conn, schema, name)
	})
}

func (p *prober) trigger(ctx context.Context, conn, schema, name string) (*postgres.TriggerInfo, error) {
	return cached(p, probeKey("trigger", conn, schema, name), func() (*postgres.TriggerInfo, error) {
		return p.catalog.Trigger(ctx, conn, schema, name)
	})
}

func (p *prober) grantees(ctx context.Context, conn, schema, name string) ([]string, error) {
	return cached(p, probeKey("grantees", conn, schema, name), func() ([]string, error) {
		return p.catalog.Grantees(ctx, conn, schema, name)
	})
}
