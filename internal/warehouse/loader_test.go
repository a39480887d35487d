package warehouse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetload/internal/retry"
	"sheetload/internal/schema"
	logx "sheetload/pkg/logx"
)

type fakeBackend struct {
	mu      sync.Mutex
	calls   []string
	loads   []int
	deleted int
	missing bool

	// failAt fails the n-th StartLoad (1-based) once.
	failAt  int
	failErr error
	waitErr error
}

func (f *fakeBackend) DeleteTable(_ context.Context, table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete "+table)
	f.deleted++
	if f.missing {
		return ErrNotFound
	}
	return nil
}

func (f *fakeBackend) StartLoad(_ context.Context, req LoadRequest) (Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("load %d", req.Data.Len()))
	f.loads = append(f.loads, req.Data.Len())
	if f.failAt > 0 && len(f.loads) == f.failAt {
		f.failAt = 0
		return nil, f.failErr
	}
	return doneJob{id: fmt.Sprintf("job-%d", len(f.loads)), err: f.waitErr}, nil
}

func (f *fakeBackend) Close() error { return nil }

func rows(n int) schema.TypedTable {
	t := schema.TypedTable{Columns: []schema.Column{{Name: "id", Type: schema.Numeric, Integral: true}}}
	for i := 0; i < n; i++ {
		t.Rows = append(t.Rows, []any{int64(i)})
	}
	return t
}

func newTestLoader(b Backend, cfg Config) (*Loader, *[]time.Duration) {
	var slept []time.Duration
	cfg.Retry.Sleep = func(context.Context, time.Duration) error { return nil }
	l := NewLoader(b, cfg, logx.Nop())
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return l, &slept
}

func TestLoadChunking(t *testing.T) {
	cases := []struct {
		name      string
		rows      int
		cfg       Config
		missing   bool
		wantCalls []string
		wantSlept []time.Duration
	}{
		{
			name:      "default chunks and pause",
			rows:      2500,
			wantCalls: []string{"delete ds.t", "load 1000", "load 1000", "load 500"},
			wantSlept: []time.Duration{DefaultPause, DefaultPause},
		},
		{
			name:      "custom pause",
			rows:      5,
			cfg:       Config{ChunkSize: 2, Pause: time.Second},
			wantCalls: []string{"delete ds.t", "load 2", "load 2", "load 1"},
			wantSlept: []time.Duration{time.Second, time.Second},
		},
		{
			name:      "negative pause disables pausing",
			rows:      4,
			cfg:       Config{ChunkSize: 2, Pause: -1},
			wantCalls: []string{"delete ds.t", "load 2", "load 2"},
		},
		{
			name:      "single chunk into missing table",
			rows:      10,
			cfg:       Config{ChunkSize: 10, Pause: time.Second},
			missing:   true,
			wantCalls: []string{"delete ds.t", "load 10"},
		},
		{
			name:      "empty table only deletes",
			wantCalls: []string{"delete ds.t"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fb := &fakeBackend{missing: tc.missing}
			l, slept := newTestLoader(fb, tc.cfg)

			require.NoError(t, l.Load(context.Background(), rows(tc.rows), nil, "ds.t"))
			assert.Equal(t, tc.wantCalls, fb.calls)
			if tc.wantSlept == nil {
				assert.Empty(t, *slept)
			} else {
				assert.Equal(t, tc.wantSlept, *slept)
			}
		})
	}
}

func TestLoadChunkFailureRestartsFromDelete(t *testing.T) {
	fb := &fakeBackend{failAt: 2, failErr: retry.Transient(errors.New("backendError"))}
	l, _ := newTestLoader(fb, Config{ChunkSize: 2, Pause: time.Millisecond})

	require.NoError(t, l.Load(context.Background(), rows(5), nil, "ds.t"))
	assert.Equal(t, []string{
		"delete ds.t", "load 2", "load 2",
		"delete ds.t", "load 2", "load 2", "load 1",
	}, fb.calls)
}

func TestLoadPermanentFailureAborts(t *testing.T) {
	fb := &fakeBackend{waitErr: errors.New("invalid schema")}
	l, _ := newTestLoader(fb, Config{ChunkSize: 2})

	err := l.Load(context.Background(), rows(5), nil, "ds.t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 1/3")
	assert.Equal(t, 1, fb.deleted)
	assert.Equal(t, []int{2}, fb.loads)
}

func TestLoadRetriesUpToPolicy(t *testing.T) {
	fb := &fakeBackend{waitErr: retry.Transient(errors.New("rateLimitExceeded"))}
	l, _ := newTestLoader(fb, Config{Retry: retry.Policy{MaxAttempts: 3}})

	err := l.Load(context.Background(), rows(1), nil, "ds.t")
	require.Error(t, err)
	assert.Equal(t, 3, fb.deleted)
}
