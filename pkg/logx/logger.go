package logx

import (
	"io"
	"path/filepath"
	"runtime"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// Logger writes records through a shared output that a Service may swap.
// The zero value discards everything.
type Logger struct {
	out    *atomic.Pointer[zerolog.Logger]
	fields []Field
}

var discard = func() *atomic.Pointer[zerolog.Logger] {
	p := new(atomic.Pointer[zerolog.Logger])
	zl := zerolog.Nop()
	p.Store(&zl)
	return p
}()

// Nop returns a Logger that discards everything but is not IsZero, so
// constructors keep it instead of substituting their own default.
func Nop() Logger { return Logger{out: discard} }

// NewJSON writes JSON lines to w at level.
func NewJSON(w io.Writer, level string) Logger {
	setGlobals()
	zl := zerolog.New(w).Level(parseLevel(level, zerolog.DebugLevel)).With().Timestamp().Logger()
	p := new(atomic.Pointer[zerolog.Logger])
	p.Store(&zl)
	return Logger{out: p}
}

func (l Logger) IsZero() bool { return l.out == nil && len(l.fields) == 0 }

func (l Logger) zl() *zerolog.Logger {
	if l.out == nil {
		return nil
	}
	return l.out.Load()
}

// Enabled reports whether a record at level would be written.
func (l Logger) Enabled(level Level) bool {
	zl := l.zl()
	return zl != nil && level >= zl.GetLevel()
}

// With returns a Logger that adds fields to every record.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	l.fields = append(merged, fields...)
	return l
}

func (l Logger) Trace(msg string, fields ...Field) { l.emit(zerolog.TraceLevel, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) emit(level zerolog.Level, msg string, fields []Field) {
	zl := l.zl()
	if zl == nil {
		return
	}
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	// emit <- Info/Warn/... <- call site
	if c := shortCaller(3); c != "" {
		e.Str(zerolog.CallerFieldName, c)
	}
	for _, set := range [][]Field{l.fields, fields} {
		for _, f := range set {
			if f != nil {
				f(e)
			}
		}
	}
	e.Msg(msg)
}

// Caller returns "file:line" skip frames above its caller. Caller(0) is the
// line that called it.
func Caller(skip int) string { return shortCaller(skip + 2) }

func shortCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}
