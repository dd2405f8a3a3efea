package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/lockplane/lockshift/database/postgres"
	"github.com/lockplane/lockshift/internal/errs"
	"github.com/lockplane/lockshift/internal/schema"
)

// added uses the target definition verbatim, or reconstructs CREATE SQL from
// the target catalog.
func (s *Synthesizer) added(ctx context.Context, diff schema.SchemaDifference, targetConn string) (forward, error) {
	if diff.TargetDefinition != "" {
		return forward{sql: diff.TargetDefinition, warnings: checkDefinition(diff, diff.TargetDefinition)}, nil
	}

	sql, err := s.reconstruct(ctx, diff, targetConn)
	if err != nil {
		return forward{}, err
	}
	if sql == "" {
		return forward{
			sql: fmt.Sprintf("%s: no reconstruction is available for %s %s; supply a target definition",
				ManualDefinitionMarker, diff.ObjectType, diff.QualifiedName()),
			warnings: []string{fmt.Sprintf("Manual definition required for %s", diff)},
			failed:   true,
		}, nil
	}
	return forward{sql: sql}, nil
}

// reconstruct probes conn for the object's current definition. It returns ""
// for object types with no reconstruction query.
func (s *Synthesizer) reconstruct(ctx context.Context, diff schema.SchemaDifference, conn string) (string, error) {
	sch := diff.SchemaName()
	table, name := diff.Parent()

	switch diff.ObjectType {
	case schema.ObjectTable:
		cols, err := s.catalog.Columns(ctx, conn, sch, diff.ObjectName)
		if err != nil {
			return "", err
		}
		if len(cols) == 0 {
			return "", notFound(diff, conn)
		}
		cons, err := s.catalog.Constraints(ctx, conn, sch, diff.ObjectName)
		if err != nil {
			return "", err
		}
		sql := s.gen.CreateTable(sch, diff.ObjectName, cols, cons)
		idx, err := s.catalog.Indexes(ctx, conn, sch, diff.ObjectName)
		if err != nil {
			return "", err
		}
		for _, ix := range idx {
			if s.plannedIndex(sch, ix.Name) {
				continue
			}
			sql += "\n" + s.gen.CreateIndex(ix.Definition)
		}
		return sql, nil

	case schema.ObjectColumn:
		col, err := s.column(ctx, conn, sch, table, name)
		if err != nil {
			return "", err
		}
		if col == nil {
			return "", notFound(diff, conn)
		}
		return s.gen.AddColumn(sch, table, *col), nil

	case schema.ObjectIndex:
		ix, err := s.catalog.Index(ctx, conn, sch, diff.ObjectName)
		if err != nil {
			return "", err
		}
		if ix == nil {
			return "", notFound(diff, conn)
		}
		return s.gen.CreateIndex(ix.Definition), nil

	case schema.ObjectView:
		body, err := s.catalog.ViewDefinition(ctx, conn, sch, diff.ObjectName)
		if err != nil {
			return "", err
		}
		if body == "" {
			return "", notFound(diff, conn)
		}
		return s.gen.CreateOrReplaceView(sch, diff.ObjectName, body), nil

	case schema.ObjectFunction:
		fns, err := s.catalog.Functions(ctx, conn, sch, diff.ObjectName)
		if err != nil {
			return "", err
		}
		if len(fns) == 0 {
			return "", notFound(diff, conn)
		}
		defs := make([]string, len(fns))
		for i, fn := range fns {
			defs[i] = terminate(fn.Definition)
		}
		return strings.Join(defs, "\n"), nil

	case schema.ObjectTrigger:
		trg, err := s.catalog.Trigger(ctx, conn, sch, name)
		if err != nil {
			return "", err
		}
		if trg == nil {
			return "", notFound(diff, conn)
		}
		return terminate(trg.Definition), nil

	case schema.ObjectSequence:
		seq, err := s.catalog.Sequence(ctx, conn, sch, diff.ObjectName)
		if err != nil {
			return "", err
		}
		if seq == nil {
			return "", notFound(diff, conn)
		}
		return s.gen.CreateSequence(sch, diff.ObjectName, *seq), nil

	case schema.ObjectConstraint:
		con, err := s.constraint(ctx, conn, sch, table, name)
		if err != nil {
			return "", err
		}
		if con == nil {
			return "", notFound(diff, conn)
		}
		return s.gen.AddConstraint(sch, table, con.Name, con.Definition), nil

	case schema.ObjectSchema:
		return fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;", postgres.QuoteIdent(diff.ObjectName)), nil
	}

	return "", nil
}

// removed emits DROP ... IF EXISTS ... CASCADE for the object.
func (s *Synthesizer) removed(diff schema.SchemaDifference) forward {
	return forward{sql: s.dropSQL(diff)}
}

func (s *Synthesizer) dropSQL(diff schema.SchemaDifference) string {
	sch := diff.SchemaName()
	table, name := diff.Parent()

	switch diff.ObjectType {
	case schema.ObjectColumn:
		return s.gen.DropColumn(sch, table, name)
	case schema.ObjectConstraint:
		return s.gen.DropConstraint(sch, table, name)
	case schema.ObjectTrigger:
		return s.gen.DropTrigger(sch, table, name)
	case schema.ObjectIndex:
		return fmt.Sprintf("DROP INDEX IF EXISTS %s CASCADE;", postgres.QualifiedName(sch, diff.ObjectName))
	case schema.ObjectSchema:
		return fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE;", postgres.QuoteIdent(diff.ObjectName))
	default:
		return s.gen.DropObject(string(diff.ObjectType), sch, diff.ObjectName)
	}
}

// modified dispatches on object type. Tables and columns are diffed between
// the two catalogs; other objects are replaced by their target definition.
func (s *Synthesizer) modified(ctx context.Context, diff schema.SchemaDifference, sourceConn, targetConn string) (forward, error) {
	switch diff.ObjectType {
	case schema.ObjectTable:
		return s.diffTable(ctx, diff.SchemaName(), diff.ObjectName, sourceConn, targetConn)
	case schema.ObjectColumn:
		return s.diffColumn(ctx, diff, sourceConn, targetConn)
	}

	def := diff.TargetDefinition
	var warnings []string
	if def != "" {
		warnings = checkDefinition(diff, def)
	} else {
		var err error
		def, err = s.reconstruct(ctx, diff, targetConn)
		if err != nil {
			return forward{}, err
		}
	}
	if def == "" {
		return forward{
			sql: fmt.Sprintf("%s: cannot derive the new definition of %s %s",
				ManualDefinitionMarker, diff.ObjectType, diff.QualifiedName()),
			warnings: []string{fmt.Sprintf("Manual definition required for %s", diff)},
			failed:   true,
		}, nil
	}

	switch diff.ObjectType {
	case schema.ObjectView, schema.ObjectFunction:
		// definitions from the catalog and from differs use CREATE OR REPLACE
		return forward{sql: def, warnings: warnings}, nil
	case schema.ObjectIndex, schema.ObjectTrigger, schema.ObjectConstraint, schema.ObjectSequence:
		return forward{sql: s.dropSQL(diff) + "\n" + terminate(def), warnings: warnings}, nil
	default:
		return forward{sql: def, warnings: warnings}, nil
	}
}

func (s *Synthesizer) column(ctx context.Context, conn, sch, table, name string) (*postgres.ColumnInfo, error) {
	cols, err := s.catalog.Columns(ctx, conn, sch, table)
	if err != nil {
		return nil, err
	}
	for i := range cols {
		if cols[i].Name == name {
			return &cols[i], nil
		}
	}
	return nil, nil
}

func (s *Synthesizer) constraint(ctx context.Context, conn, sch, table, name string) (*postgres.ConstraintInfo, error) {
	cons, err := s.catalog.Constraints(ctx, conn, sch, table)
	if err != nil {
		return nil, err
	}
	for i := range cons {
		if cons[i].Name == name {
			return &cons[i], nil
		}
	}
	return nil, nil
}

func notFound(diff schema.SchemaDifference, conn string) error {
	return errs.Newf(errs.KindNotFound, "%s %s not found on connection %s", diff.ObjectType, diff.QualifiedName(), conn)
}

// terminate ensures sql ends with exactly one semicolon.
func terminate(sql string) string {
	return strings.TrimRight(strings.TrimSpace(sql), "; \n\t") + ";"
}
