package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the scheduler, engine, sweeper and report jobs.
const (
	TypeTaskQueued    = "task.queued"
	TypeTaskStarted   = "task.started"
	TypeTaskFinished  = "task.finished"
	TypeTaskTimeout   = "task.timeout"
	TypeTaskDropped   = "task.dropped"
	TypeScheduleSaved = "schedule.saved"
	TypeScheduleGone  = "schedule.deleted"
	TypeSweepDisabled = "sweep.disabled"
	TypeReportReady   = "report.ready"
)

// Event is a small in-memory signal. Data should be JSON friendly since the
// HTTP event stream forwards it as is.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// Bus fans events out to subscribers. Publish never blocks; a subscriber
// whose buffer is full misses the event.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Holding the write lock excludes in-flight Publish calls,
			// so closing cannot race a send.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Nop discards everything. Handy for tests and CLI one-shots.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}

func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
