package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sheetload/internal/invoke"
	"sheetload/internal/retry"
	"sheetload/internal/schema"
	logx "sheetload/pkg/logx"
)

const (
	DefaultChunkSize = 1000
	DefaultPause     = 5 * time.Second
)

type Config struct {
	ChunkSize int
	// Pause is inserted between consecutive chunk loads. Zero means
	// DefaultPause; a negative value disables pausing.
	Pause time.Duration
	// Retry governs the whole replace (delete plus every chunk).
	Retry retry.Policy
}

// Loader performs destructive replace loads.
type Loader struct {
	backend Backend
	cfg     Config
	log     logx.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewLoader(backend Backend, cfg Config, log logx.Logger) *Loader {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	switch {
	case cfg.Pause == 0:
		cfg.Pause = DefaultPause
	case cfg.Pause < 0:
		cfg.Pause = 0
	}
	return &Loader{backend: backend, cfg: cfg, log: log, sleep: sleepCtx}
}

// Load drops table and loads data into it chunk by chunk. Each chunk must be
// acknowledged before the next one starts. A failing chunk aborts the load;
// the retry policy then restarts the replace from the delete.
func (l *Loader) Load(ctx context.Context, data schema.TypedTable, hints []schema.Field, table string) error {
	log := l.log.With(logx.String("table", table))
	return invoke.Run(ctx, "warehouse.load", func(ctx context.Context) error {
		return l.replace(ctx, log, data, hints, table)
	}, invoke.Logged(log), invoke.Timed(log), invoke.Retried(l.cfg.Retry, log))
}

func (l *Loader) replace(ctx context.Context, log logx.Logger, data schema.TypedTable, hints []schema.Field, table string) error {
	if err := l.backend.DeleteTable(ctx, table); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("delete %s: %w", table, err)
		}
		log.Debug("table absent before load")
	}

	total := data.Len()
	if total == 0 {
		log.Warn("no rows to load; table left absent")
		return nil
	}

	size := l.cfg.ChunkSize
	chunks := (total + size - 1) / size
	for i, start := 0, 0; start < total; i, start = i+1, start+size {
		if i > 0 && l.cfg.Pause > 0 {
			if err := l.sleep(ctx, l.cfg.Pause); err != nil {
				return err
			}
		}
		chunk := data.Slice(start, start+size)
		job, err := l.backend.StartLoad(ctx, LoadRequest{
			Table:              table,
			Data:               chunk,
			Hints:              hints,
			Autodetect:         true,
			AllowFieldAddition: true,
		})
		if err != nil {
			return fmt.Errorf("load %s chunk %d/%d: %w", table, i+1, chunks, err)
		}
		if err := job.Wait(ctx); err != nil {
			return fmt.Errorf("load %s chunk %d/%d (job %s): %w", table, i+1, chunks, job.ID(), err)
		}
		log.Debug("chunk loaded", logx.Int("chunk", i+1), logx.Int("chunks", chunks), logx.Int("rows", chunk.Len()))
	}
	log.Info("job finished", logx.Int("rows", total), logx.Int("chunks", chunks))
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
