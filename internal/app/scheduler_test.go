package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "sheetload/pkg/logx"
)

func TestSchedulerRejectsBadSpec(t *testing.T) {
	for _, spec := range []string{"every day at six", "61 * * * *", "* * *", "@fortnightly", ""} {
		t.Run(spec, func(t *testing.T) {
			s := newScheduler(logx.Nop(), func(context.Context) {})
			err := s.apply(context.Background(), spec, time.UTC)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "daemon.cron")
			assert.Nil(t, s.c)
		})
	}
}

func TestSchedulerApplyIsIdempotent(t *testing.T) {
	s := newScheduler(logx.Nop(), func(context.Context) {})
	t.Cleanup(func() { _ = s.stop(context.Background()) })

	require.NoError(t, s.apply(context.Background(), "0 6 * * *", time.UTC))
	first := s.c
	require.NoError(t, s.apply(context.Background(), "0 6 * * *", time.UTC))
	assert.Same(t, first, s.c)

	require.NoError(t, s.apply(context.Background(), "0 6 * * *", time.FixedZone("UTC+7", 7*3600)))
	assert.NotSame(t, first, s.c)

	// a bad spec keeps the running schedule
	require.Error(t, s.apply(context.Background(), "61 * * * *", time.UTC))
	assert.Equal(t, "0 6 * * *", s.spec)
}

func TestSchedulerFires(t *testing.T) {
	var runs atomic.Int32
	s := newScheduler(logx.Nop(), func(context.Context) { runs.Add(1) })
	require.NoError(t, s.apply(context.Background(), "@every 1s", time.UTC))

	require.Eventually(t, func() bool { return runs.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
	require.NoError(t, s.stop(context.Background()))
	assert.Nil(t, s.c)
}

func TestKVFields(t *testing.T) {
	assert.Len(t, kvFields([]any{"entry", 1, "next", time.Now()}), 2)
	assert.Len(t, kvFields([]any{"dangling"}), 0)

	// cronLogger must tolerate odd argument lists.
	l := cronLogger{log: logx.Nop()}
	l.Info("start", "a")
	l.Error(errors.New("panic"), "job failed", "entry", 3)
}
