package postgres

import (
	"fmt"
	"strings"
)

// Generator renders PostgreSQL DDL from catalog records. Every statement it
// returns is terminated with a semicolon.
type Generator struct{}

// NewGenerator creates a new PostgreSQL SQL generator
func NewGenerator() *Generator {
	return &Generator{}
}

// CreateTable renders CREATE TABLE from a column listing plus its constraints.
func (g *Generator) CreateTable(schema, table string, columns []ColumnInfo, constraints []ConstraintInfo) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("CREATE TABLE %s (\n", QualifiedName(schema, table)))

	lines := make([]string, 0, len(columns)+len(constraints))
	for _, col := range columns {
		lines = append(lines, "  "+g.FormatColumnDefinition(col))
	}
	for _, con := range constraints {
		lines = append(lines, fmt.Sprintf("  CONSTRAINT %s %s", QuoteIdent(con.Name), con.Definition))
	}
	sb.WriteString(strings.Join(lines, ",\n"))
	sb.WriteString("\n);")

	return sb.String()
}

// CreateSequence renders CREATE SEQUENCE from information_schema values.
func (g *Generator) CreateSequence(schema, name string, seq SequenceInfo) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s", QualifiedName(schema, name)))
	if seq.DataType != "" {
		sb.WriteString(" AS " + seq.DataType)
	}
	if seq.Increment != "" {
		sb.WriteString(" INCREMENT BY " + seq.Increment)
	}
	if seq.Minimum != "" {
		sb.WriteString(" MINVALUE " + seq.Minimum)
	}
	if seq.Maximum != "" {
		sb.WriteString(" MAXVALUE " + seq.Maximum)
	}
	if seq.Start != "" {
		sb.WriteString(" START WITH " + seq.Start)
	}
	if seq.Cycle {
		sb.WriteString(" CYCLE")
	} else {
		sb.WriteString(" NO CYCLE")
	}
	sb.WriteString(";")
	return sb.String()
}

// CreateOrReplaceView renders a view from its SELECT body.
func (g *Generator) CreateOrReplaceView(schema, name, body string) string {
	return fmt.Sprintf("CREATE OR REPLACE VIEW %s AS\n%s;", QualifiedName(schema, name), trimStatement(body))
}

// DropObject renders DROP <TYPE> IF EXISTS schema.name CASCADE.
func (g *Generator) DropObject(objectType, schema, name string) string {
	return fmt.Sprintf("DROP %s IF EXISTS %s CASCADE;", strings.ToUpper(objectType), QualifiedName(schema, name))
}

// DropTrigger renders DROP TRIGGER. Triggers live on a table; when the table
// is unknown the schema is used as the relation name.
func (g *Generator) DropTrigger(schema, table, name string) string {
	if table == "" {
		return fmt.Sprintf("DROP TRIGGER %s ON %s CASCADE;", QuoteIdent(name), QuoteIdent(schema))
	}
	return fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s CASCADE;", QuoteIdent(name), QualifiedName(schema, table))
}

// AddColumn renders ALTER TABLE ... ADD COLUMN.
func (g *Generator) AddColumn(schema, table string, col ColumnInfo) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", QualifiedName(schema, table), g.FormatColumnDefinition(col))
}

// DropColumn renders ALTER TABLE ... DROP COLUMN.
func (g *Generator) DropColumn(schema, table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s CASCADE;", QualifiedName(schema, table), QuoteIdent(column))
}

// AlterColumnType renders a type change, with a USING expression when one is given.
func (g *Generator) AlterColumnType(schema, table, column, newType, using string) string {
	sql := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s", QualifiedName(schema, table), QuoteIdent(column), newType)
	if using != "" {
		sql += " USING " + using
	}
	return sql + ";"
}

// SetNotNull renders ALTER COLUMN ... SET NOT NULL.
func (g *Generator) SetNotNull(schema, table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;", QualifiedName(schema, table), QuoteIdent(column))
}

// DropNotNull renders ALTER COLUMN ... DROP NOT NULL.
func (g *Generator) DropNotNull(schema, table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL;", QualifiedName(schema, table), QuoteIdent(column))
}

// SetDefault renders ALTER COLUMN ... SET DEFAULT.
func (g *Generator) SetDefault(schema, table, column, expr string) string {
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s;", QualifiedName(schema, table), QuoteIdent(column), expr)
}

// DropDefault renders ALTER COLUMN ... DROP DEFAULT.
func (g *Generator) DropDefault(schema, table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT;", QualifiedName(schema, table), QuoteIdent(column))
}

// AddConstraint renders ALTER TABLE ... ADD CONSTRAINT from a
// pg_get_constraintdef body.
func (g *Generator) AddConstraint(schema, table, name, definition string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s;", QualifiedName(schema, table), QuoteIdent(name), definition)
}

// DropConstraint renders ALTER TABLE ... DROP CONSTRAINT.
func (g *Generator) DropConstraint(schema, table, name string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s CASCADE;", QualifiedName(schema, table), QuoteIdent(name))
}

// CreateIndex terminates an index definition as returned by pg_indexes.
func (g *Generator) CreateIndex(definition string) string {
	return trimStatement(definition) + ";"
}

// DropIndex renders DROP INDEX IF EXISTS.
func (g *Generator) DropIndex(schema, name string) string {
	return fmt.Sprintf("DROP INDEX IF EXISTS %s;", QualifiedName(schema, name))
}

// FormatColumnDefinition formats a column definition for CREATE/ALTER statements
func (g *Generator) FormatColumnDefinition(col ColumnInfo) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s %s", QuoteIdent(col.Name), col.DataType))

	if !col.Nullable {
		sb.WriteString(" NOT NULL")
	}
	if col.HasDefault {
		sb.WriteString(fmt.Sprintf(" DEFAULT %s", col.Default))
	}

	return sb.String()
}

// trimStatement removes surrounding whitespace and trailing semicolons.
func trimStatement(sql string) string {
	return strings.TrimRight(strings.TrimSpace(sql), "; \n\t")
}
