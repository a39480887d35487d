package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are tried in order; the first layout that parses every cell of
// a column wins.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"02-01-2006",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Infer converts raw column by column. Each column tries Numeric, then Date,
// then falls back to String; one cell that does not convert demotes the whole
// column. Only String columns are emitted as fields; Numeric and Date columns
// are left to destination-side autodetection.
//
// raw is never modified.
func Infer(raw RawTable) (TypedTable, []Field, error) {
	seen := make(map[string]bool, len(raw.Header))
	for _, h := range raw.Header {
		if seen[h] {
			return TypedTable{}, nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, h)
		}
		seen[h] = true
	}

	width := len(raw.Header)
	out := TypedTable{
		Columns: make([]Column, width),
		Rows:    make([][]any, len(raw.Rows)),
	}
	for i := range out.Rows {
		out.Rows[i] = make([]any, width)
	}

	var fields []Field
	cells := make([]string, len(raw.Rows))
	for c := 0; c < width; c++ {
		for r, row := range raw.Rows {
			if c < len(row) {
				cells[r] = strings.TrimSpace(row[c])
			} else {
				cells[r] = ""
			}
		}

		col := Column{Name: raw.Header[c]}
		switch {
		case fillNumeric(cells, out.Rows, c, &col):
		case fillDate(cells, out.Rows, c, &col):
		default:
			col.Type = String
			for r, row := range raw.Rows {
				if c < len(row) {
					out.Rows[r][c] = row[c]
				} else {
					out.Rows[r][c] = ""
				}
			}
			fields = append(fields, Field{Name: col.Name, Type: String})
		}
		out.Columns[c] = col
	}
	return out, fields, nil
}

func allBlank(cells []string) bool {
	for _, s := range cells {
		if s != "" {
			return false
		}
	}
	return true
}

func fillNumeric(cells []string, rows [][]any, c int, col *Column) bool {
	if allBlank(cells) {
		return false
	}
	integral := true
	for _, s := range cells {
		if s == "" {
			continue
		}
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			continue
		}
		integral = false
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}

	for r, s := range cells {
		switch {
		case s == "":
			rows[r][c] = nil
		case integral:
			n, _ := strconv.ParseInt(s, 10, 64)
			rows[r][c] = n
		default:
			f, _ := strconv.ParseFloat(s, 64)
			rows[r][c] = f
		}
	}
	col.Type = Numeric
	col.Integral = integral
	return true
}

func fillDate(cells []string, rows [][]any, c int, col *Column) bool {
	if allBlank(cells) {
		return false
	}
	for _, layout := range dateLayouts {
		vals, ok := parseAll(cells, layout)
		if !ok {
			continue
		}
		for r, v := range vals {
			if cells[r] == "" {
				rows[r][c] = nil
				continue
			}
			rows[r][c] = v
			if !DateOnly(v) {
				col.Clock = true
			}
		}
		col.Type = Date
		return true
	}
	return false
}

func parseAll(cells []string, layout string) ([]time.Time, bool) {
	vals := make([]time.Time, len(cells))
	for i, s := range cells {
		if s == "" {
			continue
		}
		v, err := time.Parse(layout, s)
		if err != nil {
			return nil, false
		}
		vals[i] = v
	}
	return vals, true
}
