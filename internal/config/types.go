package config

// Config is the homesched config file. YAML and JSON are both accepted and
// decoded strictly: unknown keys are an error.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Reminder  ReminderConfig  `json:"reminder"`
	Schedules SchedulesConfig `json:"schedules"`
	Jobs      JobsConfig      `json:"jobs"`

	// Notifier defaults to enabled when the whole section is omitted.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Telegram TelegramConfig  `json:"telegram"`
	// Storage is disabled when omitted.
	Storage *StorageConfig `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ReminderConfig controls how schedule times are interpreted and how the
// alert is labelled.
type ReminderConfig struct {
	// Timezone for schedule date/time fields (IANA name). Empty means Local.
	Timezone    string `json:"timezone,omitempty"`
	AlertTitle  string `json:"alert_title,omitempty"`
	ConfirmText string `json:"confirm_text,omitempty"`
	// Bell rings the terminal bell as haptic feedback.
	Bell bool `json:"bell,omitempty"`
	// NotifyPriority is the notifier priority for fired reminders (0-10).
	NotifyPriority int `json:"notify_priority,omitempty"`
}

// SchedulesConfig points at the schedule feed file written by the app.
//
// Example:
//
//	schedules: { feed: "./schedules.yaml", watch: true }
type SchedulesConfig struct {
	Feed  string `json:"feed"`
	Watch bool   `json:"watch"`
}

// JobsConfig controls the maintenance jobs.
//
// Defaults (when fields are omitted/zero):
//   - overdue_every: "1m"
//   - daily_summary_at: "08:00"
//   - prune_at: "03:30"
//   - history_retention: "720h"
//   - default_timeout: "1m"
type JobsConfig struct {
	Enabled          bool   `json:"enabled"`
	Timezone         string `json:"timezone,omitempty"`
	OverdueEvery     string `json:"overdue_every,omitempty"`
	DailySummaryAt   string `json:"daily_summary_at,omitempty"`
	PruneAt          string `json:"prune_at,omitempty"`
	HistoryRetention string `json:"history_retention,omitempty"`
	DefaultTimeout   string `json:"default_timeout,omitempty"`
	HistorySize      int    `json:"history_size,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// TelegramConfig enables the Telegram sink when Token is set.
type TelegramConfig struct {
	Token     string `json:"token"`
	ChatID    int64  `json:"chat_id"`
	ThreadID  int    `json:"thread_id,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
	// PollTimeout is only used when Commands is on.
	PollTimeout string `json:"poll_timeout,omitempty"`
	// Commands answers /upcoming in the configured chat.
	Commands bool `json:"commands,omitempty"`
}

// StorageConfig controls the optional history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./homesched.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}
