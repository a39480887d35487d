// Package jobs loads and validates the job table: one row per
// spreadsheet-to-table load.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"sheetload/internal/schema"
	"sheetload/internal/sheets"
	logx "sheetload/pkg/logx"
)

const (
	DefaultSheet = "jobs"
	DefaultRange = "A:H"
)

// RequiredColumns is the exact column set of the job table.
var RequiredColumns = []string{"gs", "table", "job_id", "range", "schedule", "job_name", "sheet", "startingrow"}

var (
	ErrEmptyConfig = errors.New("job table is empty")
	ErrColumnSet   = errors.New("job table has the wrong column set")
)

// Messages written to the run log on validation failure.
const (
	MsgEmptyConfig = "Can not load the config file"
	MsgColumnSet   = "The config file should contain gs, table, job_id, range, schedule, job_name, sheet, startingrow as columns"
)

// Definition is one row of the job table.
type Definition struct {
	URL         string // gs
	Sheet       string
	Range       string
	Table       string
	ID          string
	Name        string
	Schedule    string
	StartingRow int
}

// Table is the loaded job table. Columns is kept for validation.
type Table struct {
	Columns []string
	Jobs    []Definition
}

// Reader is the part of the sheet gateway the loader needs.
type Reader interface {
	ReadRange(ctx context.Context, spreadsheet, sheet, ranges string, startingRow int) (schema.RawTable, error)
}

var _ Reader = (*sheets.Gateway)(nil)

type Options struct {
	Sheet string
	Range string
}

type Loader struct {
	r      Reader
	source string
	opts   Options
	log    logx.Logger
}

func NewLoader(r Reader, source string, opts Options, log logx.Logger) *Loader {
	if strings.TrimSpace(opts.Sheet) == "" {
		opts.Sheet = DefaultSheet
	}
	if strings.TrimSpace(opts.Range) == "" {
		opts.Range = DefaultRange
	}
	return &Loader{r: r, source: source, opts: opts, log: log}
}

// Load reads the job table. Rows keep their sheet order.
func (l *Loader) Load(ctx context.Context) (Table, error) {
	raw, err := l.r.ReadRange(ctx, l.source, l.opts.Sheet, l.opts.Range, sheets.DefaultStartingRow)
	if err != nil {
		if errors.Is(err, sheets.ErrEmptyRange) {
			return Table{}, nil
		}
		return Table{}, fmt.Errorf("read job table: %w", err)
	}
	t := FromRaw(raw)
	l.log.Info("job table loaded", logx.Int("jobs", len(t.Jobs)), logx.Strings("columns", t.Columns))
	return t, nil
}

// FromRaw maps raw rows onto definitions by column name.
func FromRaw(raw schema.RawTable) Table {
	idx := make(map[string]int, len(raw.Header))
	for i, h := range raw.Header {
		idx[h] = i
	}
	cell := func(row []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	t := Table{Columns: append([]string(nil), raw.Header...)}
	for _, row := range raw.Rows {
		t.Jobs = append(t.Jobs, Definition{
			URL:         cell(row, "gs"),
			Sheet:       cell(row, "sheet"),
			Range:       cell(row, "range"),
			Table:       cell(row, "table"),
			ID:          cell(row, "job_id"),
			Name:        cell(row, "job_name"),
			Schedule:    cell(row, "schedule"),
			StartingRow: ParseStartingRow(cell(row, "startingrow")),
		})
	}
	return t
}

// ParseStartingRow falls back to sheets.DefaultStartingRow for anything that
// is not a positive integer.
func ParseStartingRow(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return sheets.DefaultStartingRow
	}
	return n
}

// Result is the outcome of Validate. Messages are written to the run log
// as one row when OK is false.
type Result struct {
	OK       bool
	Messages []string

	cause error
}

// Err returns nil for a passing result, otherwise ErrEmptyConfig or
// ErrColumnSet.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	if r.cause != nil {
		return r.cause
	}
	return errors.New(strings.Join(r.Messages, "; "))
}

func fail(cause error, msg string) Result {
	return Result{Messages: []string{msg}, cause: cause}
}

// Validate accepts the table only when it has rows and exactly the required
// columns.
func Validate(t Table) Result {
	if len(t.Jobs) == 0 {
		return fail(ErrEmptyConfig, MsgEmptyConfig)
	}
	if !sameSet(t.Columns, RequiredColumns) {
		return fail(ErrColumnSet, MsgColumnSet)
	}
	return Result{OK: true}
}

func sameSet(a, b []string) bool {
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
