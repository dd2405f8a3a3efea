package dependency

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/lockplane/lockshift/internal/planner"
	"github.com/lockplane/lockshift/internal/schema"
)

// mentions reports whether text refers to name as a whole identifier, bare,
// quoted or schema-qualified.
func mentions(text, name string) bool {
	if text == "" || name == "" {
		return false
	}
	re := regexp.MustCompile(`(?i)(^|[^a-z0-9_$])"?` + regexp.QuoteMeta(name) + `"?($|[^a-z0-9_$])`)
	return re.MatchString(text)
}

// mentionsQualified reports whether text refers to schema.name.
func mentionsQualified(text, schemaName, name string) bool {
	if text == "" {
		return false
	}
	re := regexp.MustCompile(`(?i)(^|[^a-z0-9_$])"?` + regexp.QuoteMeta(schemaName) + `"?[[:space:]]*[.][[:space:]]*"?` +
		regexp.QuoteMeta(name) + `"?($|[^a-z0-9_$])`)
	return re.MatchString(text)
}

// referencesClause reports whether sql declares a foreign key to name.
func referencesClause(sql, name string) bool {
	if sql == "" {
		return false
	}
	re := regexp.MustCompile(`(?i)REFERENCES[[:space:]]+("?[a-z0-9_$]+"?[[:space:]]*[.][[:space:]]*)?"?` +
		regexp.QuoteMeta(name) + `"?($|[^a-z0-9_$])`)
	return re.MatchString(sql)
}

func kindFor(a, b *planner.MigrationStep, kind planner.DependencyKind) planner.DependencyKind {
	if a.Schema != b.Schema {
		return planner.DependencySchema
	}
	return kind
}

func provides(provider, consumer *planner.MigrationStep, kind planner.DependencyKind, format string, args ...any) *Finding {
	return &Finding{
		Provider: provider,
		Kind:     kindFor(provider, consumer, kind),
		Reason:   fmt.Sprintf(format, args...),
	}
}

// foreignKeyReference finds a foreign key between two tables in either
// direction. The referenced table is the provider.
func foreignKeyReference(ctx context.Context, p *prober, a, b *planner.MigrationStep, conn string) (*Finding, error) {
	if referencesClause(a.SQLScript, b.ObjectName) {
		return provides(b, a, planner.DependencyConstraint, "%s references %s", a.QualifiedName(), b.QualifiedName()), nil
	}
	if referencesClause(b.SQLScript, a.ObjectName) {
		return provides(a, b, planner.DependencyConstraint, "%s references %s", b.QualifiedName(), a.QualifiedName()), nil
	}

	fks, err := p.foreignKeys(ctx, conn, a.Schema, a.ObjectName)
	if err != nil {
		return nil, err
	}
	for _, fk := range fks {
		switch {
		case fk.Schema == a.Schema && fk.Table == a.ObjectName && fk.RefSchema == b.Schema && fk.RefTable == b.ObjectName:
			return provides(b, a, planner.DependencyConstraint, "foreign key %s on %s references %s", fk.Name, a.QualifiedName(), b.QualifiedName()), nil
		case fk.Schema == b.Schema && fk.Table == b.ObjectName && fk.RefSchema == a.Schema && fk.RefTable == a.ObjectName:
			return provides(a, b, planner.DependencyConstraint, "foreign key %s on %s references %s", fk.Name, b.QualifiedName(), a.QualifiedName()), nil
		}
	}
	return nil, nil
}

// constraintCoupling couples tables that share a referenced table, a CHECK
// clause naming the other table, or a domain type.
func constraintCoupling(ctx context.Context, p *prober, a, b *planner.MigrationStep, conn string) (*Finding, error) {
	coupled := func(format string, args ...any) *Finding {
		return &Finding{Kind: kindFor(a, b, planner.DependencyConstraint), Reason: fmt.Sprintf(format, args...)}
	}

	fksA, err := p.foreignKeys(ctx, conn, a.Schema, a.ObjectName)
	if err != nil {
		return nil, err
	}
	fksB, err := p.foreignKeys(ctx, conn, b.Schema, b.ObjectName)
	if err != nil {
		return nil, err
	}
	referenced := make(map[string]bool)
	for _, fk := range fksA {
		if fk.Table == a.ObjectName && fk.Schema == a.Schema {
			referenced[fk.RefSchema+"."+fk.RefTable] = true
		}
	}
	for _, fk := range fksB {
		if fk.Table == b.ObjectName && fk.Schema == b.Schema && referenced[fk.RefSchema+"."+fk.RefTable] {
			return coupled("%s and %s both reference %s.%s", a.QualifiedName(), b.QualifiedName(), fk.RefSchema, fk.RefTable), nil
		}
	}

	for _, pair := range [][2]*planner.MigrationStep{{a, b}, {b, a}} {
		cons, err := p.constraints(ctx, conn, pair[0].Schema, pair[0].ObjectName)
		if err != nil {
			return nil, err
		}
		for _, c := range cons {
			if c.Type == "c" && mentions(c.Definition, pair[1].ObjectName) {
				return coupled("check constraint %s on %s names %s", c.Name, pair[0].QualifiedName(), pair[1].QualifiedName()), nil
			}
		}
	}

	colsA, err := p.columns(ctx, conn, a.Schema, a.ObjectName)
	if err != nil {
		return nil, err
	}
	domains := make(map[string]bool)
	for _, c := range colsA {
		if c.Domain != "" {
			domains[c.Domain] = true
		}
	}
	if len(domains) == 0 {
		return nil, nil
	}
	colsB, err := p.columns(ctx, conn, b.Schema, b.ObjectName)
	if err != nil {
		return nil, err
	}
	for _, c := range colsB {
		if domains[c.Domain] {
			return coupled("%s and %s share domain %s", a.QualifiedName(), b.QualifiedName(), c.Domain), nil
		}
	}
	return nil, nil
}

// viewReference finds a view whose definition names a table or another view.
func viewReference(ctx context.Context, p *prober, rel, view *planner.MigrationStep, conn string) (*Finding, error) {
	if mentions(view.SQLScript, rel.ObjectName) {
		return provides(rel, view, planner.DependencyObject, "view %s selects from %s", view.QualifiedName(), rel.QualifiedName()), nil
	}
	def, err := p.viewDefinition(ctx, conn, view.Schema, view.ObjectName)
	if err != nil {
		return nil, err
	}
	if mentions(def, rel.ObjectName) {
		return provides(rel, view, planner.DependencyObject, "view %s selects from %s", view.QualifiedName(), rel.QualifiedName()), nil
	}
	return nil, nil
}

// functionReference finds a function whose body, arguments or return type
// name a table.
func functionReference(ctx context.Context, p *prober, table, fn *planner.MigrationStep, conn string) (*Finding, error) {
	if mentions(fn.SQLScript, table.ObjectName) {
		return provides(table, fn, planner.DependencyObject, "function %s uses %s", fn.QualifiedName(), table.QualifiedName()), nil
	}
	fns, err := p.functions(ctx, conn, fn.Schema, fn.ObjectName)
	if err != nil {
		return nil, err
	}
	for _, f := range fns {
		for _, text := range []string{f.Body, f.Arguments, f.ReturnType, f.Definition} {
			if mentions(text, table.ObjectName) {
				return provides(table, fn, planner.DependencyObject, "function %s uses %s", fn.QualifiedName(), table.QualifiedName()), nil
			}
		}
	}
	return nil, nil
}

// indexOnTable finds an index built on a table, including expression and
// partial indexes whose definition names it.
func indexOnTable(ctx context.Context, p *prober, table, idx *planner.MigrationStep, conn string) (*Finding, error) {
	if mentions(idx.SQLScript, table.ObjectName) {
		return provides(table, idx, planner.DependencyObject, "index %s is defined on %s", idx.QualifiedName(), table.QualifiedName()), nil
	}
	ix, err := p.index(ctx, conn, idx.Schema, idx.ObjectName)
	if err != nil || ix == nil {
		return nil, err
	}
	if (ix.Table == table.ObjectName && idx.Schema == table.Schema) || mentions(ix.Definition, table.ObjectName) {
		return provides(table, idx, planner.DependencyObject, "index %s is defined on %s", idx.QualifiedName(), table.QualifiedName()), nil
	}
	return nil, nil
}

// ownedByTable ties columns, constraints and triggers to their table and to
// any table a constraint references.
func ownedByTable(ctx context.Context, p *prober, table, nested *planner.MigrationStep, conn string) (*Finding, error) {
	if nested.Schema == table.Schema && nested.OwningTable() == table.ObjectName {
		return provides(table, nested, planner.DependencyObject, "%s %s belongs to %s", nested.ObjectType, nested.QualifiedName(), table.QualifiedName()), nil
	}
	if referencesClause(nested.SQLScript, table.ObjectName) {
		return provides(table, nested, planner.DependencyConstraint, "%s %s references %s", nested.ObjectType, nested.QualifiedName(), table.QualifiedName()), nil
	}
	return nil, nil
}

// columnInIndex finds an index over a column of its table.
func columnInIndex(ctx context.Context, p *prober, col, idx *planner.MigrationStep, conn string) (*Finding, error) {
	if col.Schema != idx.Schema {
		return nil, nil
	}
	table, name := col.OwningTable(), col.LocalName()
	covers := func(def string) bool {
		return mentions(def, table) && mentions(def, name)
	}
	if covers(idx.SQLScript) {
		return provides(col, idx, planner.DependencyObject, "index %s covers column %s", idx.QualifiedName(), col.QualifiedName()), nil
	}
	ix, err := p.index(ctx, conn, idx.Schema, idx.ObjectName)
	if err != nil || ix == nil {
		return nil, err
	}
	if ix.Table == table && covers(ix.Definition) {
		return provides(col, idx, planner.DependencyObject, "index %s covers column %s", idx.QualifiedName(), col.QualifiedName()), nil
	}
	return nil, nil
}

// sequenceDefault finds a table column whose default draws from a sequence.
func sequenceDefault(ctx context.Context, p *prober, seq, table *planner.MigrationStep, conn string) (*Finding, error) {
	if mentions(table.SQLScript, seq.ObjectName) {
		return provides(seq, table, planner.DependencyObject, "%s uses sequence %s", table.QualifiedName(), seq.QualifiedName()), nil
	}
	cols, err := p.columns(ctx, conn, table.Schema, table.ObjectName)
	if err != nil {
		return nil, err
	}
	for _, c := range cols {
		if c.HasDefault && mentions(c.Default, seq.ObjectName) {
			return provides(seq, table, planner.DependencyObject, "column %s of %s defaults to sequence %s", c.Name, table.QualifiedName(), seq.QualifiedName()), nil
		}
	}
	return nil, nil
}

// triggerFunction finds a trigger that executes a function.
func triggerFunction(ctx context.Context, p *prober, fn, trg *planner.MigrationStep, conn string) (*Finding, error) {
	if mentions(trg.SQLScript, fn.ObjectName) {
		return provides(fn, trg, planner.DependencyObject, "trigger %s executes %s", trg.QualifiedName(), fn.QualifiedName()), nil
	}
	t, err := p.trigger(ctx, conn, trg.Schema, trg.LocalName())
	if err != nil || t == nil {
		return nil, err
	}
	if mentions(t.Definition, fn.ObjectName) {
		return provides(fn, trg, planner.DependencyObject, "trigger %s executes %s", trg.QualifiedName(), fn.QualifiedName()), nil
	}
	return nil, nil
}

// schemaMember ties objects to the schema that contains them.
func schemaMember(ctx context.Context, p *prober, sch, obj *planner.MigrationStep, conn string) (*Finding, error) {
	if obj.Schema == sch.ObjectName {
		return &Finding{Provider: sch, Kind: planner.DependencySchema, Reason: fmt.Sprintf("%s lives in schema %s", obj.QualifiedName(), sch.ObjectName)}, nil
	}
	return nil, nil
}

// typeUsage finds a table with a column of a user-defined type.
func typeUsage(ctx context.Context, p *prober, typ, table *planner.MigrationStep, conn string) (*Finding, error) {
	if mentions(table.SQLScript, typ.ObjectName) {
		return provides(typ, table, planner.DependencyObject, "%s uses type %s", table.QualifiedName(), typ.QualifiedName()), nil
	}
	cols, err := p.columns(ctx, conn, table.Schema, table.ObjectName)
	if err != nil {
		return nil, err
	}
	for _, c := range cols {
		if strings.EqualFold(strings.TrimSuffix(c.DataType, "[]"), typ.ObjectName) || c.Domain == typ.ObjectName {
			return provides(typ, table, planner.DependencyObject, "column %s of %s has type %s", c.Name, table.QualifiedName(), typ.QualifiedName()), nil
		}
	}
	return nil, nil
}

// crossSchema applies to any pair in different schemas: qualified references
// in either script, or roles granted on both relations.
func crossSchema(ctx context.Context, p *prober, a, b *planner.MigrationStep, conn string) (*Finding, error) {
	if a.Schema == b.Schema {
		return nil, nil
	}
	if mentionsQualified(a.SQLScript, b.Schema, b.ObjectName) {
		return provides(b, a, planner.DependencySchema, "%s names %s across schemas", a.QualifiedName(), b.QualifiedName()), nil
	}
	if mentionsQualified(b.SQLScript, a.Schema, a.ObjectName) {
		return provides(a, b, planner.DependencySchema, "%s names %s across schemas", b.QualifiedName(), a.QualifiedName()), nil
	}

	relA, relB := relationOf(a), relationOf(b)
	if relA == "" || relB == "" {
		return nil, nil
	}
	ga, err := p.grantees(ctx, conn, a.Schema, relA)
	if err != nil || len(ga) == 0 {
		return nil, err
	}
	gb, err := p.grantees(ctx, conn, b.Schema, relB)
	if err != nil {
		return nil, err
	}
	shared := make(map[string]bool, len(ga))
	for _, g := range ga {
		shared[g] = true
	}
	for _, g := range gb {
		if shared[g] {
			return &Finding{Kind: planner.DependencySchema, Reason: fmt.Sprintf("role %s holds grants on %s and %s", g, a.QualifiedName(), b.QualifiedName())}, nil
		}
	}
	return nil, nil
}

// relationOf returns the relation a step's grants live on, or "".
func relationOf(s *planner.MigrationStep) string {
	switch s.ObjectType {
	case schema.ObjectTable, schema.ObjectView:
		return s.ObjectName
	case schema.ObjectColumn, schema.ObjectConstraint, schema.ObjectTrigger:
		return s.OwningTable()
	}
	return ""
}
