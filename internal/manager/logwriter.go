package manager

import (
	"context"
	"sync"
	"sync/atomic"

	logx "sheetload/pkg/logx"
)

// Appender appends one row to a sheet.
type Appender interface {
	AppendRow(ctx context.Context, spreadsheet, sheet string, values []string) error
}

// LogWriter appends rows to the run log sheet. Appends are serialized; a
// failed append is logged and counted, never returned.
type LogWriter struct {
	app         Appender
	spreadsheet string
	sheet       string
	log         logx.Logger

	mu       sync.Mutex
	disabled bool
	failures atomic.Int64
}

func NewLogWriter(app Appender, spreadsheet, sheet string, log logx.Logger) *LogWriter {
	return &LogWriter{app: app, spreadsheet: spreadsheet, sheet: sheet, log: log}
}

// Disable turns the writer into a local-only log (dry runs).
func (w *LogWriter) Disable() {
	w.mu.Lock()
	w.disabled = true
	w.mu.Unlock()
}

// Write appends values as one row and reports whether the row landed.
func (w *LogWriter) Write(ctx context.Context, values ...string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.disabled || w.app == nil {
		w.log.Info("log row", logx.Strings("row", values))
		return true
	}
	if err := w.app.AppendRow(ctx, w.spreadsheet, w.sheet, values); err != nil {
		w.failures.Add(1)
		w.log.Error("log row not written", logx.Strings("row", values), logx.Err(err))
		return false
	}
	return true
}

// Failures is the number of rows that could not be appended.
func (w *LogWriter) Failures() int { return int(w.failures.Load()) }
