package database

import (
	"database/sql/driver"
	"errors"
	"testing"
	"time"
)

func TestNewQueryResultNormalizesBytes(t *testing.T) {
	res := NewQueryResult([]string{"name", "count"}, [][]any{{[]byte("orders"), int64(3)}}, time.Millisecond)

	if res.RowCount != 1 {
		t.Fatalf("Expected RowCount 1, got %d", res.RowCount)
	}
	if got := res.Row(0).String("name"); got != "orders" {
		t.Errorf("Expected name orders, got %q", got)
	}
	n, err := res.Row(0).Int64("COUNT")
	if err != nil {
		t.Fatalf("Failed to decode count: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected count 3, got %d", n)
	}
}

func TestFirstValue(t *testing.T) {
	tests := []struct {
		name   string
		result *QueryResult
		want   string
		ok     bool
	}{
		{"nil result", nil, "", false},
		{"no rows", NewQueryResult([]string{"c"}, nil, 0), "", false},
		{"integer", NewQueryResult([]string{"c"}, [][]any{{int64(0)}}, 0), "0", true},
		{"float", NewQueryResult([]string{"c"}, [][]any{{2.5}}, 0), "2.5", true},
		{"null", NewQueryResult([]string{"c"}, [][]any{{nil}}, 0), "NULL", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.result.FirstValue()
			if got != tt.want || ok != tt.ok {
				t.Errorf("FirstValue() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

type columnRow struct {
	Name     string
	Nullable bool
	Default  string
	HasDef   bool
}

func TestDecode(t *testing.T) {
	res := NewQueryResult(
		[]string{"column_name", "is_nullable", "column_default"},
		[][]any{
			{"id", "NO", "nextval('orders_id_seq'::regclass)"},
			{"note", "YES", nil},
		},
		0,
	)

	rows, err := Decode(res, func(r Row) (columnRow, error) {
		def, ok := r.NullString("column_default")
		return columnRow{
			Name:     r.String("column_name"),
			Nullable: r.Bool("is_nullable"),
			Default:  def,
			HasDef:   ok,
		}, nil
	})
	if err != nil {
		t.Fatalf("Failed to decode rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0].Nullable || !rows[0].HasDef {
		t.Errorf("Unexpected first row: %+v", rows[0])
	}
	if !rows[1].Nullable || rows[1].HasDef {
		t.Errorf("Unexpected second row: %+v", rows[1])
	}
}

func TestDecodePropagatesErrors(t *testing.T) {
	res := NewQueryResult([]string{"n"}, [][]any{{"x"}}, 0)
	_, err := Decode(res, func(r Row) (int64, error) {
		return 0, errors.New("bad row")
	})
	if err == nil {
		t.Fatal("Expected decode error, got nil")
	}
}

func TestRowInt64RejectsGarbage(t *testing.T) {
	res := NewQueryResult([]string{"n"}, [][]any{{"abc"}}, 0)
	if _, err := res.Row(0).Int64("n"); err == nil {
		t.Fatal("Expected parse error, got nil")
	}
	if res.Row(0).Has("missing") {
		t.Error("Expected missing column to be absent")
	}
}

type numericValuer string

func (n numericValuer) Value() (driver.Value, error) { return string(n), nil }

func TestRowInt64AcceptsDriverIntegerWidths(t *testing.T) {
	tests := []struct {
		name string
		cell any
		want int64
	}{
		{"smallint", int16(7), 7},
		{"tinyint", int8(-3), -3},
		{"oid", uint32(4000000000), 4000000000},
		{"unsigned smallint", uint16(9), 9},
		{"unsigned tinyint", uint8(2), 2},
		{"unsigned bigint", uint64(12), 12},
		{"integer", int32(42), 42},
		{"bigint", int64(1) << 40, 1 << 40},
		{"numeric text", "12.0", 12},
		{"valuer", numericValuer("31"), 31},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewQueryResult([]string{"Position"}, [][]any{{tt.cell}}, 0)
			got, err := res.Row(0).Int64("position")
			if err != nil {
				t.Fatalf("Failed to decode %T: %v", tt.cell, err)
			}
			if got != tt.want {
				t.Errorf("Int64() = %d, want %d", got, tt.want)
			}
		})
	}

	res := NewQueryResult([]string{"n"}, [][]any{{uint64(1) << 63}}, 0)
	if _, err := res.Row(0).Int64("n"); err == nil {
		t.Error("Expected overflow error for uint64 above MaxInt64")
	}
}
