// Package eventbus is an in-memory fanout of reminder lifecycle signals.
//
// Publish never blocks. Subscribers get buffered channels and a slow
// subscriber loses events instead of stalling the scheduler.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by homesched components.
const (
	ReminderSet     = "reminder.set"
	ReminderCleared = "reminder.cleared"
	ReminderFired   = "reminder.fired"
	ReminderSkipped = "reminder.skipped"

	NotifierQueued  = "notifier.queued"
	NotifierSent    = "notifier.sent"
	NotifierFailed  = "notifier.failed"
	NotifierDeduped = "notifier.deduped"
	NotifierDropped = "notifier.dropped"

	FeedReloaded   = "feed.reloaded"
	ConfigReloaded = "config.reloaded"
)

// Event carries a small payload. Data is one of the *Data structs below or
// nil.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// ReminderData describes a reminder lifecycle change.
type ReminderData struct {
	ScheduleID string
	Title      string
	FireAt     time.Time
	Reason     string
}

// NotifyData describes a delivery attempt.
type NotifyData struct {
	ID       string
	Channel  string
	Target   string
	Attempts int
	Error    string
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop discards every event.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
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
			// Holding the write lock excludes concurrent Publish sends.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
