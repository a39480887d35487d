package app

import (
	"context"
	"errors"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"sheetload/internal/config"
	"sheetload/internal/eventbus"
	"sheetload/internal/retry"
	"sheetload/internal/runtime/supervisor"
	logx "sheetload/pkg/logx"
)

const stopTimeout = 30 * time.Second

// watchRestart paces recreation of a failed config watcher.
var watchRestart = retry.Policy{Base: 250 * time.Millisecond, MaxDelay: 5 * time.Second, Jitter: 0.25}

// Daemon runs the job table on the configured cron schedule until ctx is
// done. Config file changes are applied between runs.
func (a *App) Daemon(ctx context.Context) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	sched := newScheduler(a.log.With(logx.String("comp", "scheduler")), a.scheduledRun)

	s := a.Settings()
	if err := sched.apply(sup.Context(), s.Cron, s.Location); err != nil {
		_ = sup.Stop(context.Background())
		return err
	}

	if a.cfgm.Path() != "" {
		sup.GoRestart("config.watch", a.cfgm.Watch, watchRestart)
	}

	updates := a.cfgm.Subscribe()
	sup.Go("config.apply", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case cfg := <-updates:
				a.applyConfig(ctx, cfg, sched)
			}
		}
	})

	events, unsubscribe := a.bus.Subscribe(64)
	sup.Go("events.log", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.logEvent(e)
			}
		}
	})

	a.sdNotify(daemon.SdNotifyReady)
	a.log.Info("daemon started", logx.String("config", a.cfgm.Path()), logx.Bool("dry_run", a.opts.DryRun))

	<-sup.Context().Done()

	a.sdNotify(daemon.SdNotifyStopping)
	a.log.Info("daemon stopping")

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := sched.stop(stopCtx); err != nil {
		a.log.Warn("scheduler stop incomplete", logx.Err(err))
	}
	a.cfgm.Unsubscribe(updates)
	unsubscribe()
	if err := sup.Stop(stopCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if n := eventbus.Dropped(a.bus); n > 0 {
		a.log.Debug("events dropped", logx.Int64("count", int64(n)))
	}
	return nil
}

func (a *App) scheduledRun(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := a.RunOnce(ctx); err != nil {
		if errors.Is(err, ErrBusy) {
			a.log.Warn("scheduled run skipped", logx.Err(err))
			return
		}
		a.log.Error("scheduled run failed", logx.Err(err))
	}
}

// applyConfig commits a reloaded config. Logging changes apply at once, the
// rest on the next run.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config, sched *scheduler) {
	if cfg == nil {
		return
	}
	s, err := cfg.Resolve()
	if err != nil {
		a.log.Warn("reloaded config rejected; keeping previous", logx.Err(err))
		return
	}

	a.mu.Lock()
	prev := a.cfg
	a.cfg = cfg
	a.settings = s
	a.mu.Unlock()

	changes, fields := config.SummarizeChange(prev, cfg)
	if len(changes) == 0 {
		return
	}
	a.log.Info("config applied", append([]logx.Field{logx.Strings("sections", changes)}, fields...)...)

	if a.logs != nil {
		a.logs.Apply(logConfig(cfg.Logging))
	}
	if err := sched.apply(ctx, s.Cron, s.Location); err != nil {
		a.log.Warn("schedule not changed", logx.Err(err))
	}
}

func (a *App) logEvent(e eventbus.Event) {
	switch d := e.Data.(type) {
	case eventbus.JobInfo:
		fields := []logx.Field{
			logx.String("event", e.Type),
			logx.String("run_id", d.RunID),
			logx.String("job_id", d.JobID),
			logx.String("job", d.Name),
		}
		if e.Type == eventbus.JobFinished {
			fields = append(fields, logx.String("status", d.Status), logx.Duration("elapsed", d.Elapsed))
		}
		a.log.Debug("job event", fields...)
	case eventbus.RunInfo:
		a.log.Debug("run event",
			logx.String("event", e.Type),
			logx.String("run_id", d.RunID),
			logx.Any("counts", d.Counts),
			logx.Bool("aborted", d.Aborted),
		)
	}
}

// sdNotify reports state to systemd when running under a notify unit.
func (a *App) sdNotify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("sd_notify sent", logx.String("state", state))
	}
}
