package notifier

import "time"

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Notification is what callers hand to Notify. It is delivered to every
// sink.
type Notification struct {
	// ID is filled with a uuid when empty.
	ID       string
	Priority int // 0 low .. 10 high
	Title    string
	Text     string
	// Key groups notifications for dedup; empty falls back to the text.
	Key  string
	Meta map[string]string
}

type HistoryItem struct {
	At      time.Time
	Channel string
	Text    string
}

const historyMax = 300
