package manager

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetload/internal/eventbus"
	"sheetload/internal/jobs"
	"sheetload/internal/retry"
	"sheetload/internal/schema"
	"sheetload/internal/sheets"
	"sheetload/internal/warehouse"
	logx "sheetload/pkg/logx"
)

// memSheets is an in-memory spreadsheet store keyed by "doc/sheet".
type memSheets struct {
	mu      sync.Mutex
	grids   map[string][][]string
	appends map[string][][]string
	failGet map[string]error
	failApp error
}

func newMemSheets() *memSheets {
	return &memSheets{grids: map[string][][]string{}, appends: map[string][][]string{}, failGet: map[string]error{}}
}

func (m *memSheets) GetRange(_ context.Context, doc, sheet, _ string) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := doc + "/" + sheet
	if err := m.failGet[key]; err != nil {
		return nil, err
	}
	return m.grids[key], nil
}

func (m *memSheets) AppendRow(_ context.Context, doc, sheet string, values []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failApp != nil {
		return m.failApp
	}
	key := doc + "/" + sheet
	m.appends[key] = append(m.appends[key], append([]string(nil), values...))
	return nil
}

func (m *memSheets) rows(doc, sheet string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appends[doc+"/"+sheet]
}

type recLoader struct {
	tables []string
	rows   []int
}

func (r *recLoader) Load(_ context.Context, data schema.TypedTable, _ []schema.Field, table string) error {
	r.tables = append(r.tables, table)
	r.rows = append(r.rows, data.Len())
	return nil
}

var jobHeader = []string{"job_id", "job_name", "gs", "sheet", "range", "table", "schedule", "startingrow"}

type fixture struct {
	store  *memSheets
	gw     *sheets.Gateway
	logw   *LogWriter
	bus    eventbus.Bus
	loader TableLoader
}

func newFixture(t *testing.T, jobRows ...[]string) *fixture {
	t.Helper()
	store := newMemSheets()
	store.grids["cfg/jobs"] = append([][]string{jobHeader}, jobRows...)
	nosleep := func(context.Context, time.Duration) error { return nil }
	gw := sheets.New(store, sheets.Config{
		Read:  retry.Policy{MaxAttempts: 2, Sleep: nosleep},
		Write: retry.Policy{MaxAttempts: 2, Sleep: nosleep},
	}, logx.Nop())
	return &fixture{
		store:  store,
		gw:     gw,
		logw:   NewLogWriter(gw, "log", "Sheet1", logx.Nop()),
		bus:    eventbus.New(),
		loader: &recLoader{},
	}
}

func (f *fixture) manager(opts Options) *Manager {
	return New(Deps{
		Jobs:   jobs.NewLoader(f.gw, "cfg", jobs.Options{}, logx.Nop()),
		Reader: f.gw,
		Loader: f.loader,
		Log:    f.logw,
		Bus:    f.bus,
	}, opts, logx.Nop())
}

func fixedNow(t time.Time) func() time.Time { return func() time.Time { return t } }

// 2024-03-04 is a Monday.
var monday = time.Date(2024, 3, 4, 6, 0, 0, 0, time.UTC)

func TestRunIsolatesJobFailures(t *testing.T) {
	f := newFixture(t,
		[]string{"1", "one", "doc1", "S", "A:B", "ds.one", "d", "2"},
		[]string{"2", "two", "doc2", "S", "A:B", "ds.two", "d", "2"},
		[]string{"3", "three", "doc3", "S", "A:B", "ds.three", "d", "2"},
	)
	for _, doc := range []string{"doc1", "doc2", "doc3"} {
		f.store.grids[doc+"/S"] = [][]string{{"id", "name"}, {"1", "a"}, {"2", "b"}}
	}
	f.store.failGet["doc2/S"] = errors.New("sheet not found")

	rep, err := f.manager(Options{Location: time.UTC, Now: fixedNow(monday)}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusSuccess, StatusFail, StatusSuccess}, rep.Statuses())
	assert.Equal(t, []string{"ds.one", "ds.three"}, f.loader.(*recLoader).tables)
	assert.Equal(t, 2, rep.Counts[StatusSuccess])
	assert.Len(t, rep.Failed(), 1)
	assert.Contains(t, rep.Failed()[0].Err.Error(), "manager.go:")

	logRows := f.store.rows("log", "Sheet1")
	require.Len(t, logRows, 6)
	assert.Equal(t, "FAIL", logRows[4][5])
}

func TestRunEndToEnd(t *testing.T) {
	f := newFixture(t, []string{"7", "orders", "https://docs.google.com/spreadsheets/d/doc/edit", "Orders", "A:C", "sales.orders", "d", ""})
	f.store.grids["https://docs.google.com/spreadsheets/d/doc/edit/Orders"] = [][]string{
		{"Order ID", "Total ($)", "Ship Date"},
		{"1", "9.50", "2024-01-01"},
		{"2", "12", "2024-01-02"},
	}
	wh, err := warehouse.OpenSQLite(warehouse.StoreConfig{Path: filepath.Join(t.TempDir(), "wh.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = wh.Close() })
	f.loader = warehouse.NewLoader(wh, warehouse.Config{}, logx.Nop())

	var events []string
	f.bus.Handle(func(e eventbus.Event) { events = append(events, e.Type) })

	rep, err := f.manager(Options{Location: time.UTC, Now: fixedNow(monday)}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusSuccess}, rep.Statuses())
	assert.Equal(t, []string{eventbus.RunStarted, eventbus.JobStarted, eventbus.JobFinished, eventbus.RunFinished}, events)

	logRows := f.store.rows("log", "Sheet1")
	require.Len(t, logRows, 4)
	assert.Equal(t, []string{""}, logRows[0])
	assert.Equal(t, []string{"NEW RUN on 2024-03-04 06:00:00", rep.RunID}, logRows[1])
	assert.Equal(t, []string{""}, logRows[2])

	outcome := logRows[3]
	require.Len(t, outcome, 7)
	assert.Equal(t, []string{"orders", "https://docs.google.com/spreadsheets/d/doc/edit", "Orders", "A:C", "sales.orders", "SUCCESS"}, outcome[:6])
	secs, err := strconv.ParseFloat(outcome[6], 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, secs, 0.0)
}

func TestRunSkipsUnscheduledJobs(t *testing.T) {
	f := newFixture(t,
		[]string{"1", "weekly", "doc", "S", "A", "ds.w", "w", "2"},
		[]string{"2", "friday", "doc", "S", "A", "ds.f", "fr", "2"},
		[]string{"3", "blank", "doc", "S", "A", "ds.b", "", "2"},
		[]string{"4", "fifth", "doc", "S", "A", "ds.5", "5,15", "2"},
	)
	f.store.grids["doc/S"] = [][]string{{"x"}, {"1"}}

	rep, err := f.manager(Options{Location: time.UTC, Now: fixedNow(monday)}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusSuccess, StatusNotScheduled, StatusNotScheduled, StatusNotScheduled}, rep.Statuses())

	logRows := f.store.rows("log", "Sheet1")
	require.Len(t, logRows, 7)
	assert.Equal(t, []string{"friday", "doc", "S", "A", "ds.f", "NOT_SCHEDULED"}, logRows[4])
}

func TestRunAbortsOnBadColumnSet(t *testing.T) {
	f := newFixture(t, []string{"1", "one", "doc", "S", "A", "ds.t", "d", "2"})
	f.store.grids["cfg/jobs"][0] = []string{"job_id", "job_name", "gs", "sheet", "range", "table", "schedule", "owner"}

	rep, err := f.manager(Options{Now: fixedNow(monday)}).Run(context.Background())
	require.ErrorIs(t, err, ErrConfig)
	require.ErrorIs(t, err, jobs.ErrColumnSet)
	assert.True(t, rep.Aborted)
	assert.Empty(t, rep.Outcomes)

	logRows := f.store.rows("log", "Sheet1")
	require.Len(t, logRows, 4)
	assert.Equal(t, []string{jobs.MsgColumnSet}, logRows[3])
	assert.Empty(t, f.loader.(*recLoader).tables)
}

func TestRunAbortsOnEmptyJobTable(t *testing.T) {
	f := newFixture(t)
	rep, err := f.manager(Options{Now: fixedNow(monday)}).Run(context.Background())
	require.ErrorIs(t, err, jobs.ErrEmptyConfig)
	assert.True(t, rep.Aborted)
	assert.Equal(t, jobs.MsgEmptyConfig, rep.Reason)
}

func TestLogFailuresDoNotChangeOutcome(t *testing.T) {
	f := newFixture(t, []string{"1", "one", "doc", "S", "A", "ds.t", "d", "2"})
	f.store.grids["doc/S"] = [][]string{{"x"}, {"1"}}
	f.store.failApp = errors.New("log sheet is read-only")

	rep, err := f.manager(Options{Location: time.UTC, Now: fixedNow(monday)}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusSuccess}, rep.Statuses())
	assert.Equal(t, 4, rep.LogFailures)
}

func TestRunRecoversPanickingJob(t *testing.T) {
	f := newFixture(t,
		[]string{"1", "one", "doc", "S", "A", "ds.one", "d", "2"},
		[]string{"2", "two", "doc", "S", "A", "ds.two", "d", "2"},
	)
	f.store.grids["doc/S"] = [][]string{{"x"}, {"1"}}
	f.loader = panicLoader{table: "ds.one"}

	rep, err := f.manager(Options{Location: time.UTC, Now: fixedNow(monday)}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusFail, StatusSuccess}, rep.Statuses())
	assert.True(t, strings.Contains(rep.Outcomes[0].Err.Error(), "panic"))
}

func TestDryRunWritesNothing(t *testing.T) {
	f := newFixture(t,
		[]string{"1", "one", "doc", "S", "A", "ds.one", "d", "2"},
		[]string{"2", "two", "doc", "S", "A", "ds.two", "su", "2"},
	)
	rep, err := f.manager(Options{DryRun: true, Location: time.UTC, Now: fixedNow(monday)}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusScheduled, StatusNotScheduled}, rep.Statuses())
	assert.Empty(t, f.store.rows("log", "Sheet1"))
	assert.Empty(t, f.loader.(*recLoader).tables)
}

type panicLoader struct{ table string }

func (p panicLoader) Load(_ context.Context, _ schema.TypedTable, _ []schema.Field, table string) error {
	if table == p.table {
		panic("nil map write")
	}
	return nil
}
