// Package invoke composes cross-cutting behavior (logging, timing, retry)
// around remote calls. Wrapping is explicit: each call site builds its chain.
package invoke

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"sheetload/internal/retry"
	logx "sheetload/pkg/logx"
)

// Func is a named unit of remote work.
type Func func(ctx context.Context) error

type Middleware func(name string, next Func) Func

// Chain wraps fn with m; the first middleware is the outermost.
func Chain(name string, fn Func, m ...Middleware) Func {
	for i := len(m) - 1; i >= 0; i-- {
		if m[i] != nil {
			fn = m[i](name, fn)
		}
	}
	return fn
}

// Run builds the chain and executes it once.
func Run(ctx context.Context, name string, fn Func, m ...Middleware) error {
	return Chain(name, fn, m...)(ctx)
}

// Value runs a value-returning function through the chain.
func Value[T any](ctx context.Context, name string, fn func(ctx context.Context) (T, error), m ...Middleware) (T, error) {
	var out T
	err := Run(ctx, name, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, m...)
	return out, err
}

// Logged logs entry and exit of the call.
func Logged(log logx.Logger) Middleware {
	return func(name string, next Func) Func {
		return func(ctx context.Context) error {
			log.Debug("executing", logx.String("op", name))
			err := next(ctx)
			if err != nil {
				log.Debug("failed executing", logx.String("op", name), logx.Err(err))
				return err
			}
			log.Debug("finished executing", logx.String("op", name))
			return nil
		}
	}
}

// Timed logs how long the call took, including all retries inside it.
func Timed(log logx.Logger) Middleware {
	return func(name string, next Func) Func {
		return func(ctx context.Context) error {
			start := time.Now()
			err := next(ctx)
			log.Info("op timing", logx.String("op", name), logx.Duration("took", time.Since(start)), logx.Bool("ok", err == nil))
			return err
		}
	}
}

// Retried re-runs the call under p. Retries are logged at warn.
func Retried(p retry.Policy, log logx.Logger) Middleware {
	return func(name string, next Func) Func {
		pol := p
		prev := p.OnRetry
		pol.OnRetry = func(a retry.Attempt) {
			log.Warn("backing off",
				logx.String("op", a.Op),
				logx.Int("attempt", a.Number),
				logx.Int("max_attempts", a.Max),
				logx.Duration("wait", a.Delay),
				logx.Err(a.Err),
			)
			if prev != nil {
				prev(a)
			}
		}
		return func(ctx context.Context) error {
			return pol.Do(ctx, name, next)
		}
	}
}

// Recovered converts a panic in the call into an error.
func Recovered(log logx.Logger) Middleware {
	return func(name string, next Func) Func {
		return func(ctx context.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered", logx.String("op", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = retry.Permanent(fmt.Errorf("%s: panic: %v", name, r))
				}
			}()
			return next(ctx)
		}
	}
}
