// Package schema turns string-typed sheet data into typed columns and the
// field hints the table store needs.
package schema

import (
	"errors"
	"time"
)

// Type is the inferred type of a column.
type Type int

const (
	String Type = iota
	Numeric
	Date
)

func (t Type) String() string {
	switch t {
	case Numeric:
		return "NUMERIC"
	case Date:
		return "DATE"
	default:
		return "STRING"
	}
}

var ErrDuplicateColumn = errors.New("duplicate column name")

// RawTable is what the sheet gateway returns: a header row plus data rows,
// every cell a string. Rows may be shorter than the header.
type RawTable struct {
	Header []string
	Rows   [][]string
}

// Len returns the number of data rows.
func (t RawTable) Len() int { return len(t.Rows) }

// Column is a named, typed column of a TypedTable.
type Column struct {
	Name string
	Type Type
	// Integral is set on Numeric columns whose every value is a whole number.
	Integral bool
	// Clock is set on Date columns where some value has a time of day.
	Clock bool
}

// Field is a schema hint handed to the table store.
type Field struct {
	Name string
	Type Type
}

// TypedTable holds converted values. Cells are nil (blank), int64, float64,
// time.Time (Date columns) or string.
type TypedTable struct {
	Columns []Column
	Rows    [][]any
}

// Len returns the number of data rows.
func (t TypedTable) Len() int { return len(t.Rows) }

// Slice returns rows [from, to) sharing the column list.
func (t TypedTable) Slice(from, to int) TypedTable {
	if from < 0 {
		from = 0
	}
	if to > len(t.Rows) {
		to = len(t.Rows)
	}
	if from > to {
		from = to
	}
	return TypedTable{Columns: t.Columns, Rows: t.Rows[from:to]}
}

// ColumnNames lists column names in order.
func (t TypedTable) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// DateOnly reports whether v is midnight UTC. A midnight in another zone
// is a point in time, not a calendar date.
func DateOnly(v time.Time) bool {
	v = v.UTC()
	h, m, s := v.Clock()
	return h == 0 && m == 0 && s == 0 && v.Nanosecond() == 0
}
