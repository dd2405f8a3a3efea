// Package database defines the catalog gateway: the single I/O primitive the
// planner, dependency resolver and execution engine depend on.
package database

import (
	"context"
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Gateway executes a query against a named connection and returns tabular rows.
// Implementations must support positional parameters for catalog probes.
type Gateway interface {
	ExecuteQuery(ctx context.Context, connectionID, query string, args ...any) (*QueryResult, error)
}

// QueryResult is a fully materialized result set.
type QueryResult struct {
	Columns       []string
	Rows          [][]any
	RowCount      int
	ExecutionTime time.Duration
}

// NewQueryResult builds a result and normalizes driver byte slices to strings.
func NewQueryResult(columns []string, rows [][]any, elapsed time.Duration) *QueryResult {
	for _, row := range rows {
		for i, v := range row {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			}
		}
	}
	return &QueryResult{
		Columns:       columns,
		Rows:          rows,
		RowCount:      len(rows),
		ExecutionTime: elapsed,
	}
}

// Len returns the number of rows.
func (r *QueryResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Row returns the i-th row with named-field access.
func (r *QueryResult) Row(i int) Row {
	return Row{index: r.columnIndex(), values: r.Rows[i]}
}

// FirstValue returns the first column of the first row, rendered as text.
// ok is false when the result has no rows or no columns.
func (r *QueryResult) FirstValue() (value string, ok bool) {
	if r.Len() == 0 || len(r.Rows[0]) == 0 {
		return "", false
	}
	return FormatValue(r.Rows[0][0]), true
}

func (r *QueryResult) columnIndex() map[string]int {
	idx := make(map[string]int, len(r.Columns))
	for i, c := range r.Columns {
		idx[strings.ToLower(c)] = i
	}
	return idx
}

// Decode converts every row of res into T using fn.
func Decode[T any](res *QueryResult, fn func(Row) (T, error)) ([]T, error) {
	if res == nil {
		return nil, nil
	}
	out := make([]T, 0, res.Len())
	idx := res.columnIndex()
	for i, values := range res.Rows {
		item, err := fn(Row{index: idx, values: values})
		if err != nil {
			return nil, fmt.Errorf("decode row %d: %w", i, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// Row gives named access to one result row. Lookups are case-insensitive.
type Row struct {
	index  map[string]int
	values []any
}

// Has reports whether the row carries the named column.
func (r Row) Has(name string) bool {
	_, ok := r.index[strings.ToLower(name)]
	return ok
}

// Value returns the raw value of the named column, or nil.
func (r Row) Value(name string) any {
	i, ok := r.index[strings.ToLower(name)]
	if !ok || i >= len(r.values) {
		return nil
	}
	return r.values[i]
}

// String returns the named column as text. NULL becomes "".
func (r Row) String(name string) string {
	v := r.Value(name)
	if v == nil {
		return ""
	}
	return FormatValue(v)
}

// NullString returns the named column and whether it was non-NULL.
func (r Row) NullString(name string) (string, bool) {
	v := r.Value(name)
	if v == nil {
		return "", false
	}
	return FormatValue(v), true
}

// Int64 returns the named column as an integer.
func (r Row) Int64(name string) (int64, error) {
	switch v := r.Value(name).(type) {
	case nil:
		return 0, nil
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("column %s: %d overflows int64", name, v)
		}
		return int64(v), nil
	case float64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case string:
		return parseInt(name, v)
	case []byte:
		return parseInt(name, string(v))
	case driver.Valuer:
		inner, err := v.Value()
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", name, err)
		}
		return Row{index: map[string]int{strings.ToLower(name): 0}, values: []any{inner}}.Int64(name)
	default:
		return 0, fmt.Errorf("column %s: unsupported type %T", name, v)
	}
}

func parseInt(name, s string) (int64, error) {
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", name, err)
	}
	return int64(n), nil
}

// Bool returns the named column as a boolean. Postgres text booleans
// ("t", "true", "YES") are accepted.
func (r Row) Bool(name string) bool {
	switch v := r.Value(name).(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "t", "true", "yes", "y", "1":
			return true
		}
	}
	return false
}

// FormatValue renders a cell the way a psql user would read it.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case driver.Valuer:
		inner, err := t.Value()
		if err != nil {
			return fmt.Sprint(t)
		}
		return FormatValue(inner)
	default:
		return fmt.Sprint(t)
	}
}
