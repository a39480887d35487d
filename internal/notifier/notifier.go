// Package notifier sends a short summary to operators when a run has
// failed jobs or was aborted by a bad job table. Delivery is best-effort:
// send errors are logged and never affect the run.
package notifier

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sheetload/internal/eventbus"
	"sheetload/internal/invoke"
	"sheetload/internal/retry"
	logx "sheetload/pkg/logx"
)

// maxText stays under Telegram's 4096 character message limit.
const maxText = 3500

// Sender delivers one text message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type Config struct {
	RatePerSec int
	Timeout    time.Duration
	Retry      retry.Policy
}

type Service struct {
	sender  Sender
	cfg     Config
	limiter *rate.Limiter
	log     logx.Logger

	mu     sync.Mutex
	failed map[string][]eventbus.JobInfo // by run id

	wg sync.WaitGroup
}

func New(sender Sender, cfg Config, log logx.Logger) *Service {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		sender:  sender,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log.With(logx.String("comp", "notifier")),
		failed:  map[string][]eventbus.JobInfo{},
	}
}

// Attach starts collecting job failures from bus.
func (s *Service) Attach(bus eventbus.Bus) (detach func()) {
	return bus.Handle(s.handle)
}

func (s *Service) handle(e eventbus.Event) {
	switch e.Type {
	case eventbus.JobFinished:
		info, ok := e.Data.(eventbus.JobInfo)
		if !ok || info.Status != "FAIL" {
			return
		}
		s.mu.Lock()
		s.failed[info.RunID] = append(s.failed[info.RunID], info)
		s.mu.Unlock()

	case eventbus.RunFinished:
		run, ok := e.Data.(eventbus.RunInfo)
		if !ok {
			return
		}
		s.mu.Lock()
		failed := s.failed[run.RunID]
		delete(s.failed, run.RunID)
		s.mu.Unlock()

		if !run.Aborted && len(failed) == 0 {
			return
		}
		text := Summary(run, failed)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.deliver(text, run.RunID)
		}()
	}
}

func (s *Service) deliver(text, runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	log := s.log.With(logx.String("run_id", runID))

	err := invoke.Run(ctx, "notifier.send", func(ctx context.Context) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		return s.sender.Send(ctx, text)
	}, invoke.Retried(s.cfg.Retry, log), invoke.Recovered(log))
	if err != nil {
		log.Warn("failure alert not sent", logx.Err(err))
		return
	}
	log.Debug("failure alert sent")
}

// Flush waits for pending alerts, or until ctx is done.
func (s *Service) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Summary renders the alert text.
func Summary(run eventbus.RunInfo, failed []eventbus.JobInfo) string {
	var b strings.Builder
	if run.Aborted {
		fmt.Fprintf(&b, "sheetload run %s aborted\n%s", run.RunID, run.Reason)
		return truncate(b.String(), maxText)
	}

	fmt.Fprintf(&b, "sheetload run %s:", run.RunID)
	keys := make([]string, 0, len(run.Counts))
	for k := range run.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		sep := ","
		if i == 0 {
			sep = ""
		}
		fmt.Fprintf(&b, "%s %d %s", sep, run.Counts[k], k)
	}
	for _, j := range failed {
		reason := ""
		if j.Err != nil {
			reason = ": " + truncate(j.Err.Error(), 300)
		}
		fmt.Fprintf(&b, "\nFAIL %s (%s!%s -> %s)%s", j.Name, j.Source, j.Sheet, j.Table, reason)
	}
	return truncate(b.String(), maxText)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
