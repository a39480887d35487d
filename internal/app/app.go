// Package app wires configuration, logging and the pipeline components into
// the one-shot and daemon entry points.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"sheetload/internal/config"
	"sheetload/internal/eventbus"
	"sheetload/internal/manager"
	logx "sheetload/pkg/logx"
)

// ErrBusy is returned by RunOnce when another run holds the lock file.
var ErrBusy = errors.New("another run is in progress")

const flushTimeout = 15 * time.Second

type Options struct {
	ConfigPath string
	EnvFiles   []string
	DryRun     bool
}

type App struct {
	opts Options
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	mu       sync.RWMutex
	cfg      *config.Config
	settings config.Settings

	build func(ctx context.Context, s config.Settings) (*pipeline, error)
}

// New loads env files and the config, then starts logging. An empty
// ConfigPath configures from the environment only.
func New(opts Options) (*App, error) {
	if err := config.LoadEnv(opts.EnvFiles...); err != nil {
		return nil, err
	}
	cfgm := config.NewManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	s, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logConfig(cfg.Logging))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		opts:     opts,
		cfgm:     cfgm,
		logs:     logs,
		log:      log.With(logx.String("comp", "app")),
		bus:      eventbus.New(),
		cfg:      cfg,
		settings: s,
	}
	a.build = a.buildPipeline
	return a, nil
}

func logConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console || !c.File.Enabled,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

// Settings returns the active resolved configuration.
func (a *App) Settings() config.Settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings
}

func (a *App) Close() error {
	if a.logs == nil {
		return nil
	}
	return a.logs.Close()
}

// RunOnce performs one run of the job table while holding the lock file.
// The pipeline is rebuilt from the current settings on every call.
func (a *App) RunOnce(ctx context.Context) (manager.Report, error) {
	s := a.Settings()

	if dir := filepath.Dir(s.LockFile); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return manager.Report{}, fmt.Errorf("lock dir: %w", err)
		}
	}
	lock := flock.New(s.LockFile)
	ok, err := lock.TryLock()
	if err != nil {
		return manager.Report{}, fmt.Errorf("lock %s: %w", s.LockFile, err)
	}
	if !ok {
		return manager.Report{}, fmt.Errorf("%w (lock %s)", ErrBusy, s.LockFile)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			a.log.Warn("unlock failed", logx.String("path", s.LockFile), logx.Err(err))
		}
	}()

	p, err := a.build(ctx, s)
	if err != nil {
		return manager.Report{}, err
	}
	defer p.close(a.log)

	rep, err := p.manager.Run(ctx)

	fields := []logx.Field{
		logx.String("run_id", rep.RunID),
		logx.Duration("took", rep.Finished.Sub(rep.Started)),
		logx.Any("counts", rep.Counts),
		logx.Int("log_failures", rep.LogFailures),
	}
	switch {
	case err != nil:
		a.log.Error("run aborted", append(fields, logx.Err(err))...)
	case len(rep.Failed()) > 0:
		a.log.Warn("run finished with failures", fields...)
	default:
		a.log.Info("run finished", fields...)
	}

	if p.notifier != nil {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
		defer cancel()
		if ferr := p.notifier.Flush(fctx); ferr != nil {
			a.log.Warn("notifier flush incomplete", logx.Err(ferr))
		}
	}
	return rep, err
}
