package dependency

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockplane/lockshift/database/gatewaytest"
	"github.com/lockplane/lockshift/internal/errs"
	"github.com/lockplane/lockshift/internal/logger"
	"github.com/lockplane/lockshift/internal/planner"
	"github.com/lockplane/lockshift/internal/schema"
)

var fkColumns = []string{"constraint_name", "table_schema", "table_name", "ref_schema", "ref_table", "definition"}

func newStep(id string, objectType schema.ObjectType, sch, name string, kind schema.ChangeKind, sql string) *planner.MigrationStep {
	return &planner.MigrationStep{
		ID:           id,
		ObjectType:   objectType,
		Schema:       sch,
		ObjectName:   name,
		ChangeKind:   kind,
		Operation:    planner.OperationFor(kind),
		SQLScript:    sql,
		Dependencies: []string{},
	}
}

func resolve(t *testing.T, gw *gatewaytest.Gateway, steps ...*planner.MigrationStep) *Result {
	t.Helper()
	planner.Renumber(steps)
	res, err := NewResolver(gw, logger.Nop()).Resolve(context.Background(), steps, "source", "target")
	require.NoError(t, err)
	return res
}

func TestResolve_CreatesReferencedTableFirst(t *testing.T) {
	orders := newStep("orders", schema.ObjectTable, "public", "orders", schema.Added,
		"CREATE TABLE public.orders (id bigint, customer_id bigint REFERENCES public.customers (id));")
	customers := newStep("customers", schema.ObjectTable, "public", "customers", schema.Added,
		"CREATE TABLE public.customers (id bigint PRIMARY KEY);")

	res := resolve(t, gatewaytest.New(), orders, customers)

	assert.Equal(t, []string{"customers", "orders"}, ids(res.Steps))
	assert.Equal(t, 1, res.Steps[0].Order)
	assert.Equal(t, 2, res.Steps[1].Order)
	assert.Equal(t, []string{"customers"}, orders.Dependencies)
	require.Len(t, res.Dependencies, 1)
	assert.Equal(t, planner.DependencyConstraint, res.Dependencies[0].Kind)
	assert.Equal(t, "customers", res.Dependencies[0].FromStep)
	assert.Equal(t, "orders", res.Dependencies[0].ToStep)
}

func TestResolve_DropsReferencingTableFirst(t *testing.T) {
	gw := gatewaytest.New().RespondOn("source", "con.contype = 'f'", fkColumns,
		[]any{"orders_customer_fk", "public", "orders", "public", "customers", "FOREIGN KEY (customer_id) REFERENCES customers(id)"},
	)
	customers := newStep("customers", schema.ObjectTable, "public", "customers", schema.Removed,
		"DROP TABLE IF EXISTS public.customers CASCADE;")
	orders := newStep("orders", schema.ObjectTable, "public", "orders", schema.Removed,
		"DROP TABLE IF EXISTS public.orders CASCADE;")

	res := resolve(t, gw, customers, orders)

	assert.Equal(t, []string{"orders", "customers"}, ids(res.Steps))
	assert.Equal(t, []string{"orders"}, customers.Dependencies)
}

func TestResolve_CrossBucketPairsKeepBucketOrder(t *testing.T) {
	gw := gatewaytest.New().RespondOn("source", "c.relkind IN ('v', 'm')", []string{"definition"},
		[]any{"SELECT id FROM users"},
	)
	view := newStep("view", schema.ObjectView, "public", "active_users", schema.Removed,
		"DROP VIEW IF EXISTS public.active_users CASCADE;")
	table := newStep("table", schema.ObjectTable, "public", "users", schema.Added,
		"CREATE TABLE public.users (id bigint);")

	res := resolve(t, gw, view, table)

	assert.Equal(t, []string{"view", "table"}, ids(res.Steps))
	assert.Equal(t, []string{"view"}, table.Dependencies)
	require.Len(t, res.Dependencies, 1)
	assert.Contains(t, res.Dependencies[0].Description, "selects from")
}

func TestResolve_SchemaBeforeMembers(t *testing.T) {
	table := newStep("table", schema.ObjectTable, "billing", "invoices", schema.Added,
		"CREATE TABLE billing.invoices (id bigint);")
	sch := newStep("schema", schema.ObjectSchema, "billing", "billing", schema.Added,
		"CREATE SCHEMA IF NOT EXISTS billing;")

	res := resolve(t, gatewaytest.New(), table, sch)

	assert.Equal(t, []string{"schema", "table"}, ids(res.Steps))
	assert.Equal(t, planner.DependencySchema, res.Dependencies[0].Kind)
}

func TestResolve_IndependentStepsKeepOrder(t *testing.T) {
	a := newStep("a", schema.ObjectTable, "public", "a", schema.Removed, "DROP TABLE IF EXISTS public.a CASCADE;")
	b := newStep("b", schema.ObjectTable, "public", "b", schema.Removed, "DROP TABLE IF EXISTS public.b CASCADE;")
	c := newStep("c", schema.ObjectTable, "public", "c", schema.Removed, "DROP TABLE IF EXISTS public.c CASCADE;")
	gw := gatewaytest.New()

	res := resolve(t, gw, a, b, c)

	assert.Equal(t, []string{"a", "b", "c"}, ids(res.Steps))
	assert.Empty(t, res.Dependencies)
	assert.Positive(t, res.ProbeCacheHits)
	// one foreign-key probe per table per connection
	assert.Len(t, gw.Executed("con.contype = 'f'"), 6)
}

func TestResolve_ProbeFailureAssumesDependency(t *testing.T) {
	gw := gatewaytest.New().Fail("con.contype = 'f'", errors.New("permission denied"))
	a := newStep("a", schema.ObjectTable, "public", "a", schema.Modified, "ALTER TABLE public.a ADD COLUMN x int;")
	b := newStep("b", schema.ObjectTable, "public", "b", schema.Modified, "ALTER TABLE public.b ADD COLUMN y int;")

	res := resolve(t, gw, a, b)

	assert.Equal(t, []string{"a", "b"}, ids(res.Steps))
	require.Len(t, res.Dependencies, 1)
	assert.True(t, strings.Contains(res.Dependencies[0].Description, "permission denied"))
}

func TestResolve_CycleIsAnError(t *testing.T) {
	t1 := newStep("t1", schema.ObjectTable, "public", "t1", schema.Added, "CREATE TABLE public.t1 (x int REFERENCES public.t2 (id));")
	t2 := newStep("t2", schema.ObjectTable, "public", "t2", schema.Added, "CREATE TABLE public.t2 (x int REFERENCES public.t3 (id));")
	t3 := newStep("t3", schema.ObjectTable, "public", "t3", schema.Added, "CREATE TABLE public.t3 (x int REFERENCES public.t1 (id));")

	_, err := NewResolver(gatewaytest.New(), logger.Nop()).Resolve(context.Background(),
		[]*planner.MigrationStep{t1, t2, t3}, "source", "target")

	require.Error(t, err)
	assert.True(t, errs.IsDependencyCycle(err))
	var ce *CycleError
	require.True(t, errors.As(err, &ce))
	assert.NotEmpty(t, ce.Steps)
}

func TestResolve_RejectsDuplicateIDs(t *testing.T) {
	a := newStep("a", schema.ObjectTable, "public", "a", schema.Added, "")
	b := newStep("a", schema.ObjectTable, "public", "b", schema.Added, "")

	_, err := NewResolver(gatewaytest.New(), logger.Nop()).Resolve(context.Background(),
		[]*planner.MigrationStep{a, b}, "source", "target")
	assert.True(t, errs.IsInvalidInput(err))
}

func TestIsDependent(t *testing.T) {
	r := NewResolver(gatewaytest.New(), logger.Nop())
	ctx := context.Background()

	col := newStep("col", schema.ObjectColumn, "public", "users.email", schema.Added, "ALTER TABLE public.users ADD COLUMN email text;")
	table := newStep("table", schema.ObjectTable, "public", "users", schema.Added, "CREATE TABLE public.users (id bigint);")
	other := newStep("other", schema.ObjectTable, "public", "orders", schema.Added, "CREATE TABLE public.orders (id bigint);")

	dep, err := r.IsDependent(ctx, col, table, "source", "target")
	require.NoError(t, err)
	assert.True(t, dep, "column must depend on its table")

	dep, err = r.IsDependent(ctx, other, table, "source", "target")
	require.NoError(t, err)
	assert.False(t, dep)

	same := newStep("same", schema.ObjectTable, "public", "users", schema.Modified, "")
	dep, err = r.IsDependent(ctx, table, same, "source", "target")
	require.NoError(t, err)
	assert.True(t, dep, "steps on the same object are always dependent")
}
