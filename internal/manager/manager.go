// Package manager runs the job table: one sequential pass over every job,
// with each job's disposition appended to the run log.
package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sheetload/internal/eventbus"
	"sheetload/internal/invoke"
	"sheetload/internal/jobs"
	"sheetload/internal/schedule"
	"sheetload/internal/schema"
	logx "sheetload/pkg/logx"
)

// ErrConfig is returned by Run when the job table cannot be used. No job
// runs in that case.
var ErrConfig = errors.New("job configuration invalid")

type JobSource interface {
	Load(ctx context.Context) (jobs.Table, error)
}

type SheetReader interface {
	ReadRange(ctx context.Context, spreadsheet, sheet, ranges string, startingRow int) (schema.RawTable, error)
}

type TableLoader interface {
	Load(ctx context.Context, data schema.TypedTable, hints []schema.Field, table string) error
}

type Deps struct {
	Jobs   JobSource
	Reader SheetReader
	Loader TableLoader
	Log    *LogWriter
	// Bus is optional.
	Bus eventbus.Bus
}

type Options struct {
	// DryRun evaluates schedules without reading sheets, loading tables or
	// writing the run log.
	DryRun bool
	// Location is the zone "today" is evaluated in. Defaults to time.Local.
	Location *time.Location
	Now      func() time.Time
}

type Manager struct {
	deps Deps
	opts Options
	log  logx.Logger
}

func New(deps Deps, opts Options, log logx.Logger) *Manager {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{deps: deps, opts: opts, log: log.With(logx.String("comp", "manager"))}
}

// Run processes the job table once. Job failures are recorded in the report
// and never returned; the error is non-nil only for ErrConfig or a
// cancelled ctx.
func (m *Manager) Run(ctx context.Context) (rep Report, err error) {
	now := m.opts.Now().In(m.opts.Location)
	rep = Report{RunID: uuid.NewString(), Started: now}
	log := m.log.With(logx.String("run_id", rep.RunID))
	if m.opts.DryRun {
		m.deps.Log.Disable()
	}

	m.publish(eventbus.RunStarted, eventbus.RunInfo{RunID: rep.RunID})
	defer func() {
		rep.Finished = m.opts.Now().In(m.opts.Location)
		rep.LogFailures = m.deps.Log.Failures()
		m.publish(eventbus.RunFinished, eventbus.RunInfo{
			RunID:   rep.RunID,
			Counts:  countsByName(rep.Counts),
			Aborted: rep.Aborted,
			Reason:  rep.Reason,
		})
	}()

	m.deps.Log.Write(ctx, "")
	m.deps.Log.Write(ctx, "NEW RUN on "+now.Format("2006-01-02 15:04:05"), rep.RunID)
	m.deps.Log.Write(ctx, "")

	tbl, err := m.deps.Jobs.Load(ctx)
	if err != nil {
		log.Error("job table not loaded", logx.Err(err))
		msgs := []string{jobs.MsgEmptyConfig, err.Error()}
		m.abort(ctx, &rep, msgs)
		return rep, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if res := jobs.Validate(tbl); !res.OK {
		log.Error("job table rejected", logx.Strings("messages", res.Messages))
		m.abort(ctx, &rep, res.Messages)
		return rep, fmt.Errorf("%w: %w", ErrConfig, res.Err())
	}

	today := now
	for _, def := range tbl.Jobs {
		if err := ctx.Err(); err != nil {
			log.Warn("run cancelled", logx.Int("remaining", len(tbl.Jobs)-len(rep.Outcomes)))
			return rep, err
		}
		rep.add(m.runJob(ctx, log, rep.RunID, today, def))
	}
	log.Info("run finished", logx.String("summary", rep.String()))
	return rep, nil
}

func (m *Manager) abort(ctx context.Context, rep *Report, msgs []string) {
	rep.Aborted = true
	rep.Reason = strings.Join(msgs, "; ")
	m.deps.Log.Write(ctx, msgs...)
}

func (m *Manager) runJob(ctx context.Context, log logx.Logger, runID string, today time.Time, def jobs.Definition) Outcome {
	log = log.With(
		logx.String("job_id", def.ID),
		logx.String("job", def.Name),
		logx.String("sheet", def.Sheet),
		logx.String("table", def.Table),
	)
	out := Outcome{Job: def}

	spec := schedule.Parse(def.Schedule)
	if !spec.Matches(today) {
		out.Status = StatusNotScheduled
		log.Debug("job not scheduled", logx.String("schedule", spec.Source), logx.String("kind", spec.Kind.String()))
		m.deps.Log.Write(ctx, out.Row()...)
		return out
	}
	if m.opts.DryRun {
		out.Status = StatusScheduled
		log.Info("job would run", logx.String("schedule", spec.Source))
		return out
	}

	info := eventbus.JobInfo{RunID: runID, JobID: def.ID, Name: def.Name, Source: def.URL, Sheet: def.Sheet, Table: def.Table}
	m.publish(eventbus.JobStarted, info)
	log.Info("job running")

	start := m.opts.Now()
	err := invoke.Run(ctx, "job "+def.Name, func(ctx context.Context) error {
		return m.process(ctx, def)
	}, invoke.Recovered(log))
	out.Elapsed = max(m.opts.Now().Sub(start), 0)

	if err != nil {
		out.Status = StatusFail
		out.Err = err
		log.Error("job failed", logx.Err(err), logx.Duration("elapsed", out.Elapsed))
	} else {
		out.Status = StatusSuccess
		log.Info("job succeeded", logx.Duration("elapsed", out.Elapsed))
	}
	m.deps.Log.Write(ctx, out.Row()...)

	info.Status = string(out.Status)
	info.Elapsed = out.Elapsed
	info.Err = out.Err
	m.publish(eventbus.JobFinished, info)
	return out
}

// process is read, infer, load. Each failure names its step and the
// location it was raised from.
func (m *Manager) process(ctx context.Context, def jobs.Definition) error {
	raw, err := m.deps.Reader.ReadRange(ctx, def.URL, def.Sheet, def.Range, def.StartingRow)
	if err != nil {
		return fmt.Errorf("read %s!%s at %s: %w", def.Sheet, def.Range, logx.Caller(0), err)
	}
	typed, hints, err := schema.Infer(raw)
	if err != nil {
		return fmt.Errorf("infer at %s: %w", logx.Caller(0), err)
	}
	if err := m.deps.Loader.Load(ctx, typed, hints, def.Table); err != nil {
		return fmt.Errorf("load %s at %s: %w", def.Table, logx.Caller(0), err)
	}
	return nil
}

func (m *Manager) publish(typ string, data any) {
	if m.deps.Bus == nil {
		return
	}
	m.deps.Bus.Publish(eventbus.Event{Type: typ, Time: m.opts.Now(), Data: data})
}

func countsByName(c map[Status]int) map[string]int {
	out := make(map[string]int, len(c))
	for k, v := range c {
		out[string(k)] = v
	}
	return out
}
