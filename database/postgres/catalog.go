package postgres

import (
	"context"
	"fmt"

	"github.com/lockplane/lockshift/database"
)

// Catalog issues parameterized catalog probes through a Gateway and decodes
// the rows into typed records.
type Catalog struct {
	gw database.Gateway
}

// NewCatalog creates a catalog over gw.
func NewCatalog(gw database.Gateway) *Catalog {
	return &Catalog{gw: gw}
}

// Gateway returns the underlying gateway.
func (c *Catalog) Gateway() database.Gateway {
	return c.gw
}

// ColumnInfo is one row of a table's column listing.
type ColumnInfo struct {
	Name       string
	DataType   string
	Nullable   bool
	Default    string
	HasDefault bool
	Position   int64
	Domain     string
}

// ConstraintInfo is one pg_constraint row.
type ConstraintInfo struct {
	Name       string
	Type       string // p, u, f, c, x
	Definition string
}

// IndexInfo describes a standalone index (not one backing a constraint).
type IndexInfo struct {
	Name       string
	Table      string
	Definition string
}

// FunctionInfo is one pg_proc row.
type FunctionInfo struct {
	Name       string
	Definition string
	Arguments  string
	ReturnType string
	Body       string
}

// TriggerInfo is one user trigger.
type TriggerInfo struct {
	Name       string
	Table      string
	Definition string
}

// SequenceInfo mirrors information_schema.sequences.
type SequenceInfo struct {
	DataType  string
	Start     string
	Increment string
	Minimum   string
	Maximum   string
	Cycle     bool
}

// ForeignKeyInfo is a foreign key touching a table in either direction.
type ForeignKeyInfo struct {
	Name       string
	Schema     string
	Table      string
	RefSchema  string
	RefTable   string
	Definition string
}

const columnsQuery = `
SELECT a.attname AS column_name,
       format_type(a.atttypid, a.atttypmod) AS data_type,
       NOT a.attnotnull AS is_nullable,
       pg_get_expr(d.adbin, d.adrelid) AS column_default,
       a.attnum AS ordinal_position,
       CASE WHEN t.typtype = 'd' THEN t.typname ELSE NULL END AS domain_name
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
JOIN pg_type t ON t.oid = a.atttypid
LEFT JOIN pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
WHERE n.nspname = $1
  AND c.relname = $2
  AND a.attnum > 0
  AND NOT a.attisdropped
ORDER BY a.attnum`

// Columns lists the columns of schema.table in ordinal order.
func (c *Catalog) Columns(ctx context.Context, conn, schema, table string) ([]ColumnInfo, error) {
	res, err := c.gw.ExecuteQuery(ctx, conn, columnsQuery, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns of %s.%s: %w", schema, table, err)
	}
	return database.Decode(res, func(r database.Row) (ColumnInfo, error) {
		def, hasDef := r.NullString("column_default")
		pos, err := r.Int64("ordinal_position")
		if err != nil {
			return ColumnInfo{}, err
		}
		return ColumnInfo{
			Name:       r.String("column_name"),
			DataType:   r.String("data_type"),
			Nullable:   r.Bool("is_nullable"),
			Default:    def,
			HasDefault: hasDef,
			Position:   pos,
			Domain:     r.String("domain_name"),
		}, nil
	})
}

const constraintsQuery = `
SELECT con.conname AS constraint_name,
       con.contype::text AS constraint_type,
       pg_get_constraintdef(con.oid) AS definition
FROM pg_constraint con
JOIN pg_class c ON c.oid = con.conrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1
  AND c.relname = $2
ORDER BY con.conname`

// Constraints lists the table constraints of schema.table.
func (c *Catalog) Constraints(ctx context.Context, conn, schema, table string) ([]ConstraintInfo, error) {
	res, err := c.gw.ExecuteQuery(ctx, conn, constraintsQuery, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query constraints of %s.%s: %w", schema, table, err)
	}
	return database.Decode(res, func(r database.Row) (ConstraintInfo, error) {
		return ConstraintInfo{
			Name:       r.String("constraint_name"),
			Type:       r.String("constraint_type"),
			Definition: r.String("definition"),
		}, nil
	})
}

const indexesQuery = `
SELECT i.indexname AS index_name,
       i.tablename AS table_name,
       i.indexdef AS definition
FROM pg_indexes i
WHERE i.schemaname = $1
  AND i.tablename = $2
  AND NOT EXISTS (
    SELECT 1
    FROM pg_constraint con
    JOIN pg_class ic ON ic.oid = con.conindid
    JOIN pg_namespace ns ON ns.oid = ic.relnamespace
    WHERE ic.relname = i.indexname
      AND ns.nspname = i.schemaname
  )
ORDER BY i.indexname`

// Indexes lists the standalone indexes of schema.table. Indexes that back a
// primary key or unique constraint are reported by Constraints instead.
func (c *Catalog) Indexes(ctx context.Context, conn, schema, table string) ([]IndexInfo, error) {
	res, err := c.gw.ExecuteQuery(ctx, conn, indexesQuery, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexes of %s.%s: %w", schema, table, err)
	}
	return database.Decode(res, decodeIndex)
}

const indexByNameQuery = `
SELECT i.indexname AS index_name,
       i.tablename AS table_name,
       i.indexdef AS definition
FROM pg_indexes i
WHERE i.schemaname = $1
  AND i.indexname = $2`

// Index looks up one index by name.
func (c *Catalog) Index(ctx context.Context, conn, schema, name string) (*IndexInfo, error) {
	res, err := c.gw.ExecuteQuery(ctx, conn, indexByNameQuery, schema, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query index %s.%s: %w", schema, name, err)
	}
	rows, err := database.Decode(res, decodeIndex)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func decodeIndex(r database.Row) (IndexInfo, error) {
	return IndexInfo{
		Name:       r.String("index_name"),
		Table:      r.String("table_name"),
		Definition: r.String("definition"),
	}, nil
}

const viewQuery = `
SELECT pg_get_viewdef(c.oid, true) AS definition
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1
  AND c.relname = $2
  AND c.relkind IN ('v', 'm')`

// ViewDefinition returns the SELECT body of a view, or "" when it does not exist.
func (c *Catalog) ViewDefinition(ctx context.Context, conn, schema, view string) (string, error) {
	res, err := c.gw.ExecuteQuery(ctx, conn, viewQuery, schema, view)
	if err != nil {
		return "", fmt.Errorf("failed to query view %s.%s: %w", schema, view, err)
	}
	if res.Len() == 0 {
		return "", nil
	}
	return res.Row(0).String("definition"), nil
}

const functionsQuery = `
SELECT p.proname AS function_name,
       pg_get_functiondef(p.oid) AS definition,
       pg_get_function_arguments(p.oid) AS arguments,
       pg_get_function_result(p.oid) AS return_type,
       p.prosrc AS body
FROM pg_proc p
JOIN pg_namespace n ON n.oid = p.pronamespace
WHERE n.nspname = $1
  AND p.proname = $2
  AND p.prokind IN ('f', 'p')
ORDER BY p.oid`

// Functions returns every overload of schema.name.
func (c *Catalog) Functions(ctx context.Context, conn, schema, name string) ([]FunctionInfo, error) {
	res, err := c.gw.ExecuteQuery(ctx, conn, functionsQuery, schema, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query function %s.%s: %w", schema, name, err)
	}
	return database.Decode(res, func(r database.Row) (FunctionInfo, error) {
		return FunctionInfo{
			Name:       r.String("function_name"),
			Definition: r.String("definition"),
			Arguments:  r.String("arguments"),
			ReturnType: r.String("return_type"),
			Body:       r.String("body"),
		}, nil
	})
}

const triggerQuery = `
SELECT t.tgname AS trigger_name,
       c.relname AS table_name,
       pg_get_triggerdef(t.oid) AS definition
FROM pg_trigger t
JOIN pg_class c ON c.oid = t.tgrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1
  AND t.tgname = $2
  AND NOT t.tgisinternal`

// Trigger looks up a user trigger by name.
func (c *Catalog) Trigger(ctx context.Context, conn, schema, name string) (*TriggerInfo, error) {
	res, err := c.gw.ExecuteQuery(ctx, conn, triggerQuery, schema, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query trigger %s.%s: %w", schema, name, err)
	}
	if res.Len() == 0 {
		return nil, nil
	}
	r := res.Row(0)
	return &TriggerInfo{
		Name:       r.String("trigger_name"),
		Table:      r.String("table_name"),
		Definition: r.String("definition"),
	}, nil
}

const sequenceQuery = `
SELECT s.data_type,
       s.start_value,
       s.increment,
       s.minimum_value,
       s.maximum_value,
       s.cycle_option
FROM information_schema.sequences s
WHERE s.sequence_schema = $1
  AND s.sequence_name = $2`

// Sequence looks up a sequence definition.
func (c *Catalog) Sequence(ctx context.Context, conn, schema, name string) (*SequenceInfo, error) {
	res, err := c.gw.ExecuteQuery(ctx, conn, sequenceQuery, schema, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query sequence %s.%s: %w", schema, name, err)
	}
	if res.Len() == 0 {
		return nil, nil
	}
	r := res.Row(0)
	return &SequenceInfo{
		DataType:  r.String("data_type"),
		Start:     r.String("start_value"),
		Increment: r.String("increment"),
		Minimum:   r.String("minimum_value"),
		Maximum:   r.String("maximum_value"),
		Cycle:     r.Bool("cycle_option"),
	}, nil
}

const foreignKeysQuery = `
SELECT con.conname AS constraint_name,
       n.nspname AS table_schema,
       c.relname AS table_name,
       rn.nspname AS ref_schema,
       rc.relname AS ref_table,
       pg_get_constraintdef(con.oid) AS definition
FROM pg_constraint con
JOIN pg_class c ON c.oid = con.conrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
JOIN pg_class rc ON rc.oid = con.confrelid
JOIN pg_namespace rn ON rn.oid = rc.relnamespace
WHERE con.contype = 'f'
  AND ((n.nspname = $1 AND c.relname = $2) OR (rn.nspname = $1 AND rc.relname = $2))
ORDER BY con.conname`

// ForeignKeys lists foreign keys declared on schema.table and those that
// reference it.
func (c *Catalog) ForeignKeys(ctx context.Context, conn, schema, table string) ([]ForeignKeyInfo, error) {
	res, err := c.gw.ExecuteQuery(ctx, conn, foreignKeysQuery, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query foreign keys of %s.%s: %w", schema, table, err)
	}
	return database.Decode(res, func(r database.Row) (ForeignKeyInfo, error) {
		return ForeignKeyInfo{
			Name:       r.String("constraint_name"),
			Schema:     r.String("table_schema"),
			Table:      r.String("table_name"),
			RefSchema:  r.String("ref_schema"),
			RefTable:   r.String("ref_table"),
			Definition: r.String("definition"),
		}, nil
	})
}

const granteesQuery = `
SELECT DISTINCT g.grantee
FROM information_schema.role_table_grants g
WHERE g.table_schema = $1
  AND g.table_name = $2
ORDER BY g.grantee`

// Grantees lists roles holding any privilege on schema.name.
func (c *Catalog) Grantees(ctx context.Context, conn, schema, name string) ([]string, error) {
	res, err := c.gw.ExecuteQuery(ctx, conn, granteesQuery, schema, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants on %s.%s: %w", schema, name, err)
	}
	return database.Decode(res, func(r database.Row) (string, error) {
		return r.String("grantee"), nil
	})
}

const rowEstimateQuery = `
SELECT COALESCE(c.reltuples, 0)::bigint AS estimate
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1
  AND c.relname = $2`

// RowEstimate returns the planner's row estimate for a relation, 0 when unknown.
func (c *Catalog) RowEstimate(ctx context.Context, conn, schema, table string) (int64, error) {
	res, err := c.gw.ExecuteQuery(ctx, conn, rowEstimateQuery, schema, table)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate rows of %s.%s: %w", schema, table, err)
	}
	if res.Len() == 0 {
		return 0, nil
	}
	n, err := res.Row(0).Int64("estimate")
	if err != nil || n < 0 {
		return 0, err
	}
	return n, nil
}

const dependentsQuery = `
SELECT COUNT(DISTINCT d.objid) AS dependents
FROM pg_depend d
JOIN pg_class c ON c.oid = d.refobjid
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1
  AND c.relname = $2
  AND d.deptype = 'n'`

// DependentCount counts catalog objects with a normal dependency on schema.name.
func (c *Catalog) DependentCount(ctx context.Context, conn, schema, name string) (int64, error) {
	res, err := c.gw.ExecuteQuery(ctx, conn, dependentsQuery, schema, name)
	if err != nil {
		return 0, fmt.Errorf("failed to count dependents of %s.%s: %w", schema, name, err)
	}
	if res.Len() == 0 {
		return 0, nil
	}
	return res.Row(0).Int64("dependents")
}

// NullCount counts NULLs in schema.table.column. Identifiers cannot be bound
// as parameters, so they are quoted.
func (c *Catalog) NullCount(ctx context.Context, conn, schema, table, column string) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) AS null_count FROM %s WHERE %s IS NULL",
		QualifiedName(schema, table), QuoteIdent(column))
	res, err := c.gw.ExecuteQuery(ctx, conn, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count NULLs in %s.%s.%s: %w", schema, table, column, err)
	}
	if res.Len() == 0 {
		return 0, nil
	}
	return res.Row(0).Int64("null_count")
}

// HasRows reports whether schema.table holds at least one row.
func (c *Catalog) HasRows(ctx context.Context, conn, schema, table string) (bool, error) {
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s) AS has_rows", QualifiedName(schema, table))
	res, err := c.gw.ExecuteQuery(ctx, conn, query)
	if err != nil {
		return false, fmt.Errorf("failed to probe rows of %s.%s: %w", schema, table, err)
	}
	if res.Len() == 0 {
		return false, nil
	}
	return res.Row(0).Bool("has_rows"), nil
}
