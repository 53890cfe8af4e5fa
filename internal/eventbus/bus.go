// Package eventbus fans bot events (finished cycles, interval changes,
// config reloads) out to in-process listeners.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	CycleFinished   = "cycle.finished"
	IntervalChanged = "schedule.interval_changed"
	ConfigReloaded  = "config.reloaded"
)

// Event is a small in-memory signal. Data is event specific: a
// bot.CycleResult for CycleFinished, the new minutes for IntervalChanged,
// the changed section names for ConfigReloaded.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus delivers events without blocking the publisher. A subscriber whose
// buffer is full misses the event; Dropped counts those misses.
type Bus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  uint64

	dropped atomic.Uint64
}

func New() *Bus {
	return &Bus{subs: map[uint64]chan Event{}}
}

func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock; unsubscribe takes the write lock
	// before closing, so a send never races a close.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a buffered listener. The returned func removes it and
// closes the channel; calling it more than once is safe.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.seq++
	id := b.seq
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

func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
