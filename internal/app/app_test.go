package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetload/internal/config"
	"sheetload/internal/eventbus"
	"sheetload/internal/jobs"
	"sheetload/internal/manager"
	"sheetload/internal/notifier"
	"sheetload/internal/retry"
	"sheetload/internal/runtime/supervisor"
	"sheetload/internal/schema"
	"sheetload/internal/sheets"
	logx "sheetload/pkg/logx"
)

type memSheets struct {
	mu      sync.Mutex
	grids   map[string][][]string
	appends map[string][][]string
	failGet map[string]error
}

func newMemSheets() *memSheets {
	return &memSheets{grids: map[string][][]string{}, appends: map[string][][]string{}, failGet: map[string]error{}}
}

func (m *memSheets) GetRange(_ context.Context, doc, sheet, _ string) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failGet[doc+"/"+sheet]; err != nil {
		return nil, err
	}
	return m.grids[doc+"/"+sheet], nil
}

func (m *memSheets) AppendRow(_ context.Context, doc, sheet string, values []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends[doc+"/"+sheet] = append(m.appends[doc+"/"+sheet], values)
	return nil
}

type recLoader struct {
	mu     sync.Mutex
	tables []string
}

func (r *recLoader) Load(_ context.Context, _ schema.TypedTable, _ []schema.Field, table string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables = append(r.tables, table)
	return nil
}

type fakeSender struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeSender) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

var jobHeader = []string{"job_id", "job_name", "gs", "sheet", "range", "table", "schedule", "startingrow"}

// testApp returns an App whose pipeline runs against store.
func testApp(t *testing.T, store *memSheets, loader manager.TableLoader, sender notifier.Sender) *App {
	t.Helper()
	a := &App{
		log:      logx.Nop(),
		bus:      eventbus.New(),
		settings: config.Settings{LockFile: filepath.Join(t.TempDir(), "run.lock"), Location: time.UTC},
	}
	a.build = func(context.Context, config.Settings) (*pipeline, error) {
		nosleep := func(context.Context, time.Duration) error { return nil }
		gw := sheets.New(store, sheets.Config{
			Read:  retry.Policy{MaxAttempts: 2, Sleep: nosleep},
			Write: retry.Policy{MaxAttempts: 2, Sleep: nosleep},
		}, logx.Nop())
		p := &pipeline{}
		if sender != nil {
			p.notifier = notifier.New(sender, notifier.Config{RatePerSec: 100, Retry: retry.Policy{MaxAttempts: 1}}, logx.Nop())
			detach := p.notifier.Attach(a.bus)
			p.onClose("notifier", func() error { detach(); return nil })
		}
		p.manager = manager.New(manager.Deps{
			Jobs:   jobs.NewLoader(gw, "cfg", jobs.Options{}, logx.Nop()),
			Reader: gw,
			Loader: loader,
			Log:    manager.NewLogWriter(gw, "log", "Sheet1", logx.Nop()),
			Bus:    a.bus,
		}, manager.Options{Location: time.UTC}, logx.Nop())
		return p, nil
	}
	return a
}

func TestRunOnce(t *testing.T) {
	store := newMemSheets()
	store.grids["cfg/jobs"] = [][]string{
		jobHeader,
		{"1", "orders", "doc", "S", "A:B", "ds.orders", "d", "2"},
		{"2", "stock", "doc", "T", "A:B", "ds.stock", "d", "2"},
	}
	store.grids["doc/S"] = [][]string{{"id", "qty"}, {"1", "3"}}
	store.failGet["doc/T"] = errors.New("quota")
	loader := &recLoader{}
	sender := &fakeSender{}

	a := testApp(t, store, loader, sender)
	rep, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []manager.Status{manager.StatusSuccess, manager.StatusFail}, rep.Statuses())
	assert.Equal(t, []string{"ds.orders"}, loader.tables)

	texts := sender.sent()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "FAIL stock")

	// lock released
	ok, err := flock.New(a.Settings().LockFile).TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunOnceBusy(t *testing.T) {
	a := testApp(t, newMemSheets(), &recLoader{}, nil)
	built := false
	a.build = func(context.Context, config.Settings) (*pipeline, error) {
		built = true
		return nil, errors.New("unexpected")
	}

	held := flock.New(a.Settings().LockFile)
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	t.Cleanup(func() { _ = held.Unlock() })

	_, err = a.RunOnce(context.Background())
	require.ErrorIs(t, err, ErrBusy)
	assert.False(t, built)
}

func TestRunOnceBuildError(t *testing.T) {
	a := testApp(t, newMemSheets(), &recLoader{}, nil)
	boom := errors.New("no credentials")
	a.build = func(context.Context, config.Settings) (*pipeline, error) { return nil, boom }

	_, err := a.RunOnce(context.Background())
	require.ErrorIs(t, err, boom)

	ok, err := flock.New(a.Settings().LockFile).TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunOnceConfigError(t *testing.T) {
	store := newMemSheets()
	store.grids["cfg/jobs"] = [][]string{{"gs", "table"}, {"doc", "ds.t"}}
	a := testApp(t, store, &recLoader{}, nil)

	rep, err := a.RunOnce(context.Background())
	require.ErrorIs(t, err, manager.ErrConfig)
	assert.True(t, rep.Aborted)
	assert.Equal(t, []string{jobs.MsgColumnSet}, store.appends["log/Sheet1"][3])
}

func TestPipelineCloseOrder(t *testing.T) {
	var order []string
	p := &pipeline{}
	p.onClose("a", func() error { order = append(order, "a"); return nil })
	p.onClose("b", func() error { order = append(order, "b"); return errors.New("ignored") })
	p.close(logx.Nop())
	p.close(logx.Nop())
	assert.Equal(t, []string{"b", "a"}, order)
}

func clearEnv(t *testing.T) {
	for _, k := range []string{config.EnvCredentials, config.EnvJobConfigURL, config.EnvLogURL, config.EnvLogLevel,
		config.EnvWarehouseDriver, config.EnvProject, config.EnvNotifierToken, config.EnvNotifierChatID} {
		t.Setenv(k, "")
	}
}

func TestNew(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "sheetload.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
credentials: ./key.json
jobs:
  url: https://docs.google.com/spreadsheets/d/cfg/edit
run_log:
  url: https://docs.google.com/spreadsheets/d/log/edit
daemon:
  cron: "30 5 * * 1-5"
  timezone: UTC
  lock_file: `+filepath.Join(dir, "lock")+`
`), 0o644))

	a, err := New(Options{ConfigPath: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	s := a.Settings()
	assert.Equal(t, "https://docs.google.com/spreadsheets/d/cfg/edit", s.JobsURL)
	assert.Equal(t, "30 5 * * 1-5", s.Cron)
	assert.Equal(t, "UTC", s.Location.String())
	assert.Equal(t, filepath.Join(dir, "lock"), s.LockFile)
}

func TestNewInvalidConfig(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sheetload.yaml")
	require.NoError(t, os.WriteFile(path, []byte("credentials: ./key.json\n"), 0o644))

	_, err := New(Options{ConfigPath: path})
	require.Error(t, err)
}

func TestApplyConfig(t *testing.T) {
	a := testApp(t, newMemSheets(), &recLoader{}, nil)
	a.cfg = &config.Config{}
	sched := newScheduler(logx.Nop(), func(context.Context) {})
	t.Cleanup(func() { _ = sched.stop(context.Background()) })
	require.NoError(t, sched.apply(context.Background(), "0 6 * * *", time.UTC))

	next := &config.Config{
		Credentials: "k",
		Jobs:        config.JobsConfig{URL: "cfg"},
		RunLog:      config.RunLogConfig{URL: "log"},
		Daemon:      config.DaemonConfig{Cron: "0 7 * * *", Timezone: "UTC"},
	}
	a.applyConfig(context.Background(), next, sched)
	assert.Equal(t, "cfg", a.Settings().JobsURL)
	assert.Equal(t, "0 7 * * *", sched.spec)

	// rejected configs keep the previous settings
	a.applyConfig(context.Background(), &config.Config{}, sched)
	assert.Equal(t, "cfg", a.Settings().JobsURL)
}

func TestConfigWatchRestarts(t *testing.T) {
	clearEnv(t)
	dir := filepath.Join(t.TempDir(), "conf")
	path := filepath.Join(dir, "sheetload.yaml")
	m := config.NewManager(path)
	updates := m.Subscribe()
	defer m.Unsubscribe(updates)

	sup := supervisor.New(context.Background())
	sup.GoRestart("config.watch", m.Watch, retry.Policy{Base: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond})
	defer func() { assert.NoError(t, sup.Stop(context.Background())) }()

	// the watcher fails until the directory appears
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	require.Eventually(t, func() bool {
		body := "credentials: k\njobs: {url: cfg}\nrun_log: {url: log}\n"
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		select {
		case cfg := <-updates:
			return cfg.Jobs.URL == "cfg"
		case <-time.After(400 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
}
