package app

import (
	"context"
	"fmt"

	"sheetload/internal/config"
	"sheetload/internal/gcp"
	"sheetload/internal/jobs"
	"sheetload/internal/manager"
	"sheetload/internal/notifier"
	"sheetload/internal/sheets"
	"sheetload/internal/warehouse"
	logx "sheetload/pkg/logx"
)

// pipeline is the set of components for a single run.
type pipeline struct {
	manager  *manager.Manager
	notifier *notifier.Service // nil when disabled

	closers []namedCloser
}

type namedCloser struct {
	name string
	fn   func() error
}

func (p *pipeline) onClose(name string, fn func() error) {
	p.closers = append(p.closers, namedCloser{name: name, fn: fn})
}

// close releases components in reverse order of construction.
func (p *pipeline) close(log logx.Logger) {
	for i := len(p.closers) - 1; i >= 0; i-- {
		c := p.closers[i]
		if err := c.fn(); err != nil {
			log.Warn("close failed", logx.String("component", c.name), logx.Err(err))
		}
	}
	p.closers = nil
}

func (a *App) buildPipeline(ctx context.Context, s config.Settings) (_ *pipeline, err error) {
	p := &pipeline{}
	defer func() {
		if err != nil {
			p.close(a.log)
		}
	}()

	creds, err := gcp.LoadCredentials(ctx, s.Credentials, gcp.ScopeSpreadsheets, gcp.ScopeCloudPlatform)
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}

	backend, err := sheets.NewGoogleBackend(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	gw := sheets.New(backend, sheets.Config{
		Read:       s.Read,
		Write:      s.Append,
		RatePerSec: s.SheetsRate,
		Burst:      s.SheetsBurst,
	}, a.log.With(logx.String("comp", "sheets")))

	// A dry run never touches the warehouse.
	var loader manager.TableLoader
	if !a.opts.DryRun {
		wh, err := warehouse.Open(ctx, s.Warehouse, creds, a.log.With(logx.String("comp", "warehouse")))
		if err != nil {
			return nil, fmt.Errorf("warehouse: %w", err)
		}
		p.onClose("warehouse", wh.Close)
		loader = warehouse.NewLoader(wh, warehouse.Config{
			ChunkSize: s.ChunkSize,
			Pause:     s.Pause,
			Retry:     s.Load,
		}, a.log.With(logx.String("comp", "loader")))
	}

	if n := s.Notifier; n != nil {
		tg, err := notifier.NewTelegram(n.Token, n.ChatID, n.ThreadID, n.Timeout)
		if err != nil {
			return nil, fmt.Errorf("notifier: %w", err)
		}
		p.notifier = notifier.New(tg, notifier.Config{
			RatePerSec: n.RatePerSec,
			Timeout:    n.Timeout,
			Retry:      s.Append.WithAttempts(3),
		}, a.log)
		detach := p.notifier.Attach(a.bus)
		p.onClose("notifier", func() error { detach(); return nil })
	}

	p.manager = manager.New(manager.Deps{
		Jobs:   jobs.NewLoader(gw, s.JobsURL, jobs.Options{Sheet: s.JobsSheet, Range: s.JobsRange}, a.log.With(logx.String("comp", "jobs"))),
		Reader: gw,
		Loader: loader,
		Log:    manager.NewLogWriter(gw, s.LogURL, s.LogSheet, a.log.With(logx.String("comp", "runlog"))),
		Bus:    a.bus,
	}, manager.Options{DryRun: a.opts.DryRun, Location: s.Location}, a.log)
	return p, nil
}
