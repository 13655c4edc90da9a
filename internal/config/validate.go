package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Job defaults applied when the jobs fields are omitted.
const (
	DefaultOverdueEvery     = time.Minute
	DefaultDailySummaryAt   = "08:00"
	DefaultPruneAt          = "03:30"
	DefaultHistoryRetention = 30 * 24 * time.Hour
)

// Validate checks every field that is parsed later, so a bad reload is
// rejected before anything is applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path: required when file logging is enabled"))
	}

	add(validateTimezone("reminder.timezone", cfg.Reminder.Timezone))
	if p := cfg.Reminder.NotifyPriority; p < 0 || p > 10 {
		add(fmt.Errorf("reminder.notify_priority: must be 0..10, got %d", p))
	}
	if cfg.Schedules.Watch && strings.TrimSpace(cfg.Schedules.Feed) == "" {
		add(errors.New("schedules.feed: required when watch is on"))
	}

	add(validateTimezone("jobs.timezone", cfg.Jobs.Timezone))
	_, err := ParseDurationField("jobs.overdue_every", cfg.Jobs.OverdueEvery)
	add(err)
	_, err = ParseClockField("jobs.daily_summary_at", cfg.Jobs.DailySummaryAt, DefaultDailySummaryAt)
	add(err)
	_, err = ParseClockField("jobs.prune_at", cfg.Jobs.PruneAt, DefaultPruneAt)
	add(err)
	_, err = ParseDurationField("jobs.history_retention", cfg.Jobs.HistoryRetention)
	add(err)
	_, err = ParseDurationField("jobs.default_timeout", cfg.Jobs.DefaultTimeout)
	add(err)

	if n := cfg.Notifier; n != nil {
		_, err = ParseDurationField("notifier.retry_base", n.RetryBase)
		add(err)
		_, err = ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
		add(err)
		_, err = ParseDurationField("notifier.send_timeout", n.SendTimeout)
		add(err)
		_, err = ParseDurationField("notifier.dedup_window", n.DedupWindow)
		add(err)
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
			add(errors.New("notifier: counts must be >= 0"))
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) != "" && cfg.Telegram.ChatID == 0 {
		add(errors.New("telegram.chat_id: required when token is set"))
	}
	_, err = ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite":
			if strings.TrimSpace(s.Path) == "" {
				add(fmt.Errorf("storage.path: required for driver %q", s.Driver))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		_, err = ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
	}

	return errors.Join(errs...)
}

func validateTimezone(path, tz string) error {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
