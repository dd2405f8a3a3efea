package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/lockplane/lockshift/database/postgres"
	"github.com/lockplane/lockshift/internal/schema"
)

// change is one forward statement and the statement that undoes it. An empty
// undo means the change cannot be reversed and lost describes what is lost.
type change struct {
	do   string
	undo string
	lost string
}

// changeSet accumulates statements in execution order.
type changeSet struct {
	changes  []change
	warnings []string
}

func (c *changeSet) add(do, undo string) {
	c.changes = append(c.changes, change{do: do, undo: undo})
}

func (c *changeSet) addLossy(do, undo, lost string) {
	c.changes = append(c.changes, change{do: do, undo: undo, lost: lost})
}

func (c *changeSet) warn(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

// forward renders the set. Inverses run in reverse order.
func (c *changeSet) forward(noop string) forward {
	if len(c.changes) == 0 {
		return forward{sql: NoopMarker + ": " + noop, warnings: c.warnings, inverse: []string{}}
	}

	fwd := forward{warnings: c.warnings}
	stmts := make([]string, 0, len(c.changes))
	for _, ch := range c.changes {
		stmts = append(stmts, ch.do)
	}
	for i := len(c.changes) - 1; i >= 0; i-- {
		ch := c.changes[i]
		if ch.undo != "" {
			fwd.inverse = append(fwd.inverse, ch.undo)
		}
		if ch.lost != "" {
			fwd.irreversible = append(fwd.irreversible, ch.lost)
		}
	}
	if fwd.inverse == nil {
		fwd.inverse = []string{}
	}
	fwd.sql = strings.Join(stmts, "\n")
	return fwd
}

// diffTable compares a table between the two catalogs. Statements are
// ordered: drop constraints, drop indexes, drop columns, add columns, alter
// columns, add constraints, create indexes.
func (s *Synthesizer) diffTable(ctx context.Context, sch, table, sourceConn, targetConn string) (forward, error) {
	diff := schema.SchemaDifference{ObjectType: schema.ObjectTable, Schema: sch, ObjectName: table}

	srcCols, err := s.catalog.Columns(ctx, sourceConn, sch, table)
	if err != nil {
		return forward{}, err
	}
	tgtCols, err := s.catalog.Columns(ctx, targetConn, sch, table)
	if err != nil {
		return forward{}, err
	}
	if len(srcCols) == 0 {
		return forward{}, notFound(diff, sourceConn)
	}
	if len(tgtCols) == 0 {
		return forward{}, notFound(diff, targetConn)
	}
	srcCons, err := s.catalog.Constraints(ctx, sourceConn, sch, table)
	if err != nil {
		return forward{}, err
	}
	tgtCons, err := s.catalog.Constraints(ctx, targetConn, sch, table)
	if err != nil {
		return forward{}, err
	}
	srcIdx, err := s.catalog.Indexes(ctx, sourceConn, sch, table)
	if err != nil {
		return forward{}, err
	}
	tgtIdx, err := s.catalog.Indexes(ctx, targetConn, sch, table)
	if err != nil {
		return forward{}, err
	}

	var cs changeSet

	consByName := func(list []postgres.ConstraintInfo) map[string]postgres.ConstraintInfo {
		m := make(map[string]postgres.ConstraintInfo, len(list))
		for _, c := range list {
			m[c.Name] = c
		}
		return m
	}
	srcConMap, tgtConMap := consByName(srcCons), consByName(tgtCons)

	// constraints that disappear or change are dropped first
	for _, c := range srcCons {
		tc, ok := tgtConMap[c.Name]
		if ok && normalizeDefinition(tc.Definition) == normalizeDefinition(c.Definition) {
			continue
		}
		cs.add(s.gen.DropConstraint(sch, table, c.Name), s.gen.AddConstraint(sch, table, c.Name, c.Definition))
	}

	idxByName := func(list []postgres.IndexInfo) map[string]postgres.IndexInfo {
		m := make(map[string]postgres.IndexInfo, len(list))
		for _, ix := range list {
			m[ix.Name] = ix
		}
		return m
	}
	srcIdxMap, tgtIdxMap := idxByName(srcIdx), idxByName(tgtIdx)

	for _, ix := range srcIdx {
		ti, ok := tgtIdxMap[ix.Name]
		if ok && normalizeDefinition(ti.Definition) == normalizeDefinition(ix.Definition) {
			continue
		}
		cs.add(s.gen.DropIndex(sch, ix.Name), s.gen.CreateIndex(ix.Definition))
	}

	colByName := func(list []postgres.ColumnInfo) map[string]postgres.ColumnInfo {
		m := make(map[string]postgres.ColumnInfo, len(list))
		for _, c := range list {
			m[c.Name] = c
		}
		return m
	}
	srcColMap, tgtColMap := colByName(srcCols), colByName(tgtCols)

	for _, col := range srcCols {
		if _, ok := tgtColMap[col.Name]; ok {
			continue
		}
		cs.addLossy(s.gen.DropColumn(sch, table, col.Name), s.gen.AddColumn(sch, table, col),
			fmt.Sprintf("data in dropped column %s", col.Name))
		cs.warn("Dropping column %s.%s.%s discards its data", sch, table, col.Name)
	}

	for _, col := range tgtCols {
		if _, ok := srcColMap[col.Name]; ok {
			continue
		}
		if err := s.addColumn(ctx, &cs, sch, table, col, sourceConn); err != nil {
			return forward{}, err
		}
	}

	for _, tc := range tgtCols {
		sc, ok := srcColMap[tc.Name]
		if !ok {
			continue
		}
		if err := s.alterColumn(ctx, &cs, sch, table, sc, tc, sourceConn); err != nil {
			return forward{}, err
		}
	}

	for _, c := range tgtCons {
		sc, ok := srcConMap[c.Name]
		if ok && normalizeDefinition(sc.Definition) == normalizeDefinition(c.Definition) {
			continue
		}
		cs.add(s.gen.AddConstraint(sch, table, c.Name, c.Definition), s.gen.DropConstraint(sch, table, c.Name))
	}

	for _, ix := range tgtIdx {
		si, ok := srcIdxMap[ix.Name]
		if ok && normalizeDefinition(si.Definition) == normalizeDefinition(ix.Definition) {
			continue
		}
		if !ok && s.plannedIndex(sch, ix.Name) {
			continue
		}
		cs.add(s.gen.CreateIndex(ix.Definition), s.gen.DropIndex(sch, ix.Name))
	}

	return cs.forward(fmt.Sprintf("table %s already matches its target shape", postgres.QualifiedName(sch, table))), nil
}

// diffColumn handles a Modified column. A supplied target definition is used
// verbatim; otherwise the column is compared between the catalogs.
func (s *Synthesizer) diffColumn(ctx context.Context, diff schema.SchemaDifference, sourceConn, targetConn string) (forward, error) {
	if diff.TargetDefinition != "" {
		return forward{sql: diff.TargetDefinition, warnings: checkDefinition(diff, diff.TargetDefinition)}, nil
	}

	sch := diff.SchemaName()
	table, name := diff.Parent()
	if table == "" {
		return forward{}, notFound(diff, sourceConn)
	}
	src, err := s.column(ctx, sourceConn, sch, table, name)
	if err != nil {
		return forward{}, err
	}
	if src == nil {
		return forward{}, notFound(diff, sourceConn)
	}
	tgt, err := s.column(ctx, targetConn, sch, table, name)
	if err != nil {
		return forward{}, err
	}
	if tgt == nil {
		return forward{}, notFound(diff, targetConn)
	}

	var cs changeSet
	if err := s.alterColumn(ctx, &cs, sch, table, *src, *tgt, sourceConn); err != nil {
		return forward{}, err
	}
	return cs.forward(fmt.Sprintf("column %s already matches its target shape", diff.QualifiedName())), nil
}

// addColumn adds a column that only exists in the target. A NOT NULL column
// without a default cannot be added to a populated table, so it is added
// nullable and the constraint is left blocked.
func (s *Synthesizer) addColumn(ctx context.Context, cs *changeSet, sch, table string, col postgres.ColumnInfo, sourceConn string) error {
	if col.Nullable || col.HasDefault {
		cs.add(s.gen.AddColumn(sch, table, col), s.gen.DropColumn(sch, table, col.Name))
		return nil
	}

	populated, err := s.catalog.HasRows(ctx, sourceConn, sch, table)
	if err != nil {
		return err
	}
	if !populated {
		cs.add(s.gen.AddColumn(sch, table, col), s.gen.DropColumn(sch, table, col.Name))
		return nil
	}

	nullable := col
	nullable.Nullable = true
	cs.add(s.gen.AddColumn(sch, table, nullable), s.gen.DropColumn(sch, table, col.Name))
	cs.add(blocked(s.gen.SetNotNull(sch, table, col.Name), "existing rows have no value for the new column"), "")
	cs.warn("Column %s.%s.%s is NOT NULL without a default on a populated table; it was added as nullable and SET NOT NULL is blocked until it is backfilled",
		sch, table, col.Name)
	return nil
}

// alterColumn emits type, nullability and default changes between two
// versions of the same column.
func (s *Synthesizer) alterColumn(ctx context.Context, cs *changeSet, sch, table string, src, tgt postgres.ColumnInfo, sourceConn string) error {
	// a guarded cast maps non-conforming values to NULL, so the source NULL
	// count says nothing about the column after the type change
	castNulls := false
	if !sameType(src.DataType, tgt.DataType) {
		using, lossy := CastExpression(tgt.Name, src.DataType, tgt.DataType)
		castNulls = lossy && strings.Contains(using, "ELSE NULL")
		back, _ := CastExpression(tgt.Name, tgt.DataType, src.DataType)
		do := s.gen.AlterColumnType(sch, table, tgt.Name, tgt.DataType, using)
		undo := s.gen.AlterColumnType(sch, table, tgt.Name, src.DataType, back)
		if lossy {
			cs.addLossy(do, undo, fmt.Sprintf("values of %s not representable as %s", tgt.Name, tgt.DataType))
			cs.warn("Type change of %s.%s.%s from %s to %s can lose data; non-conforming values become NULL",
				sch, table, tgt.Name, src.DataType, tgt.DataType)
		} else {
			cs.add(do, undo)
		}
	}

	switch {
	case src.Nullable && !tgt.Nullable && castNulls:
		cs.add(blocked(s.gen.SetNotNull(sch, table, tgt.Name), "type conversion may produce NULL"), "")
		cs.warn("Cannot add NOT NULL to %s.%s.%s together with a lossy type change; values that do not convert to %s become NULL",
			sch, table, tgt.Name, tgt.DataType)
	case src.Nullable && !tgt.Nullable:
		nulls, err := s.catalog.NullCount(ctx, sourceConn, sch, table, tgt.Name)
		if err != nil {
			return err
		}
		if nulls > 0 {
			cs.add(blocked(s.gen.SetNotNull(sch, table, tgt.Name), fmt.Sprintf("%d rows contain NULL", nulls)), "")
			cs.warn("Cannot add NOT NULL to %s.%s.%s: %d existing rows contain NULL", sch, table, tgt.Name, nulls)
		} else {
			cs.add(s.gen.SetNotNull(sch, table, tgt.Name), s.gen.DropNotNull(sch, table, tgt.Name))
		}
	case !src.Nullable && tgt.Nullable:
		cs.add(s.gen.DropNotNull(sch, table, tgt.Name), s.gen.SetNotNull(sch, table, tgt.Name))
	}

	if src.HasDefault != tgt.HasDefault || (tgt.HasDefault && src.Default != tgt.Default) {
		var do, undo string
		if tgt.HasDefault {
			do = s.gen.SetDefault(sch, table, tgt.Name, tgt.Default)
		} else {
			do = s.gen.DropDefault(sch, table, tgt.Name)
		}
		if src.HasDefault {
			undo = s.gen.SetDefault(sch, table, tgt.Name, src.Default)
		} else {
			undo = s.gen.DropDefault(sch, table, tgt.Name)
		}
		cs.add(do, undo)
	}
	return nil
}

// blocked comments out a statement that would fail at execution time.
func blocked(stmt, reason string) string {
	return fmt.Sprintf("%s (%s): %s", BlockedMarker, reason, stmt)
}

func normalizeDefinition(def string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimRight(strings.TrimSpace(def), ";"))), " ")
}
