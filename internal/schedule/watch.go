package schedule

import (
	"context"
	"hash/fnv"
	"sync"

	"homesched/internal/fswatch"
	logx "homesched/pkg/logx"
)

// Feed keeps the latest successfully parsed schedule list of a feed file
// and publishes changes to subscribers.
type Feed struct {
	path string
	log  logx.Logger

	mu       sync.RWMutex
	current  []Schedule
	lastHash uint64

	subsMu sync.Mutex
	subs   []chan []Schedule
}

func NewFeed(path string, log logx.Logger) *Feed {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Feed{path: path, log: log}
}

func (f *Feed) Path() string { return f.path }

// Load reads the file and commits the result as the current list.
func (f *Feed) Load() ([]Schedule, error) {
	list, err := LoadFeed(f.path)
	if err != nil {
		return nil, err
	}
	f.commit(list)
	return list, nil
}

func (f *Feed) commit(list []Schedule) {
	f.mu.Lock()
	f.current = list
	f.lastHash = Hash(list)
	f.mu.Unlock()
}

// Current returns a copy of the last committed list.
func (f *Feed) Current() []Schedule {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Schedule(nil), f.current...)
}

// Subscribe returns a channel receiving each new list. A slow subscriber
// only ever sees the latest list.
func (f *Feed) Subscribe(buffer int) chan []Schedule {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan []Schedule, buffer)
	f.subsMu.Lock()
	f.subs = append(f.subs, ch)
	f.subsMu.Unlock()
	return ch
}

func (f *Feed) Unsubscribe(ch chan []Schedule) {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()
	for i, s := range f.subs {
		if s == ch {
			last := len(f.subs) - 1
			f.subs[i] = f.subs[last]
			f.subs[last] = nil
			f.subs = f.subs[:last]
			close(ch)
			return
		}
	}
}

func (f *Feed) publish(list []Schedule) {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- list:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- list:
		default:
			f.log.Debug("feed update dropped (subscriber slow)")
		}
	}
}

// Reload parses the file again and publishes when the content changed. It
// reports whether a new list was published.
func (f *Feed) Reload() bool {
	list, err := LoadFeed(f.path)
	if err != nil {
		f.log.Warn("schedule feed parse failed; keeping previous", logx.String("path", f.path), logx.Any("err", err))
		return false
	}
	h := Hash(list)
	f.mu.RLock()
	unchanged := h != 0 && h == f.lastHash
	f.mu.RUnlock()
	if unchanged {
		f.log.Debug("schedule feed unchanged", logx.String("path", f.path))
		return false
	}
	f.commit(list)
	f.publish(list)
	f.log.Info("schedule feed reloaded", logx.String("path", f.path), logx.Int("schedules", len(list)))
	return true
}

// Watch reloads on file changes until ctx is done.
func (f *Feed) Watch(ctx context.Context) error {
	return fswatch.Watch(ctx, f.path, fswatch.DefaultDebounce, f.log, func() { f.Reload() })
}

func fnv64a(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
