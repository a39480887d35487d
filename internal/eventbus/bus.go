// Package eventbus carries run and job lifecycle events from the
// orchestrator to observers (debug logging, failure alerts).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	RunStarted  = "run.started"
	RunFinished = "run.finished"
	JobStarted  = "job.started"
	JobFinished = "job.finished"
)

// Event is an in-memory lifecycle signal. Data is a JobInfo or RunInfo.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// JobInfo describes one job at start or finish. Status and Elapsed are set
// on JobFinished only.
type JobInfo struct {
	RunID   string
	JobID   string
	Name    string
	Source  string
	Sheet   string
	Table   string
	Status  string
	Elapsed time.Duration
	Err     error
}

// RunInfo describes a run. Counts and Aborted are set on RunFinished only.
type RunInfo struct {
	RunID   string
	Counts  map[string]int
	Aborted bool
	Reason  string
}

// Bus fans events out to subscribers.
//
// Channel subscribers are fed without blocking; a full channel drops the
// event. Handlers run synchronously inside Publish and see every event, so
// they must be quick.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Handle(fn func(Event)) (unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}, handlers: map[uint64]func(Event){}}
}

type memBus struct {
	mu       sync.RWMutex
	subs     map[uint64]chan Event
	handlers map[uint64]func(Event)
	seq      atomic.Uint64
	dropped  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	hs := make([]func(Event), 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	// Sends happen under the read lock so unsubscribe cannot close a channel
	// mid-send.
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(e)
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

func (b *memBus) Handle(fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	id := b.seq.Add(1)
	b.mu.Lock()
	b.handlers[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// Dropped reports how many channel deliveries were dropped on b, or 0 for
// buses not created by New.
func Dropped(b Bus) uint64 {
	if mb, ok := b.(*memBus); ok {
		return mb.dropped.Load()
	}
	return 0
}
