package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "sheetload/pkg/logx"
)

// cronParser accepts five-field specs, an optional leading seconds field
// and descriptors such as @daily.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// scheduler fires run on a cron spec. apply swaps the spec or zone at
// runtime by replacing the underlying cron.
type scheduler struct {
	log logx.Logger
	run func(ctx context.Context)

	mu   sync.Mutex
	c    *cron.Cron
	spec string
	loc  *time.Location
}

func newScheduler(log logx.Logger, run func(ctx context.Context)) *scheduler {
	return &scheduler{log: log, run: run}
}

// apply installs spec in loc. Unchanged settings are a no-op. An invalid
// spec leaves the current schedule in place.
func (s *scheduler) apply(ctx context.Context, spec string, loc *time.Location) error {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return fmt.Errorf("daemon.cron: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}

	s.mu.Lock()
	if s.c != nil && s.spec == spec && s.loc.String() == loc.String() {
		s.mu.Unlock()
		return nil
	}
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(spec, func() { s.run(ctx) }); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("daemon.cron: %w", err)
	}
	c.Start()
	old := s.c
	s.c, s.spec, s.loc = c, spec, loc
	s.mu.Unlock()

	// A run started by the old cron keeps going; the lock file keeps it from
	// overlapping one started by the new cron.
	if old != nil {
		old.Stop()
	}
	s.log.Info("schedule applied",
		logx.String("cron", spec),
		logx.String("tz", loc.String()),
		logx.Time("next", sched.Next(time.Now().In(loc))),
	)
	return nil
}

// stop halts the cron and waits for a running job, or until ctx is done.
func (s *scheduler) stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
