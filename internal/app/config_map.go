package app

import (
	"fmt"
	"strings"
	"time"

	"homesched/internal/config"
	"homesched/internal/jobs"
	"homesched/internal/notifier"
	"homesched/internal/storage"
	"homesched/internal/transport/telegram"
	logx "homesched/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapNotifierConfig parses durations. An omitted notifier section means
// enabled with defaults.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       500 * time.Millisecond,
		RetryMaxDelay:   10 * time.Second,
		SendTimeout:     15 * time.Second,
		DedupWindow:     time.Minute,
		DedupMaxEntries: 2000,
	}
	if cfg == nil || cfg.Notifier == nil {
		return out, nil
	}
	n := cfg.Notifier
	out.Enabled = n.Enabled
	out.PersistDedup = n.PersistDedup
	if n.Workers != 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize != 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec != 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax != 0 {
		out.RetryMax = n.RetryMax
	}
	if n.DedupMaxEntries != 0 {
		out.DedupMaxEntries = n.DedupMaxEntries
	}

	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, out.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationOrDefault("notifier.send_timeout", n.SendTimeout, out.SendTimeout); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, out.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// jobsSettings is the resolved jobs section.
type jobsSettings struct {
	Service          jobs.Config
	OverdueEvery     time.Duration
	DailySummaryAt   string
	PruneAt          string
	HistoryRetention time.Duration
}

func mapJobsConfig(cfg *config.Config) (jobsSettings, error) {
	j := cfg.Jobs
	out := jobsSettings{
		Service: jobs.Config{
			Enabled:     j.Enabled,
			Timezone:    j.Timezone,
			HistorySize: j.HistorySize,
		},
	}
	// Jobs follow the reminder timezone unless set explicitly.
	if strings.TrimSpace(out.Service.Timezone) == "" {
		out.Service.Timezone = cfg.Reminder.Timezone
	}
	var err error
	if out.Service.DefaultTimeout, err = config.ParseDurationOrDefault("jobs.default_timeout", j.DefaultTimeout, time.Minute); err != nil {
		return jobsSettings{}, err
	}
	if out.OverdueEvery, err = config.ParseDurationOrDefault("jobs.overdue_every", j.OverdueEvery, config.DefaultOverdueEvery); err != nil {
		return jobsSettings{}, err
	}
	if out.HistoryRetention, err = config.ParseDurationOrDefault("jobs.history_retention", j.HistoryRetention, config.DefaultHistoryRetention); err != nil {
		return jobsSettings{}, err
	}
	if out.DailySummaryAt, err = config.ParseClockField("jobs.daily_summary_at", j.DailySummaryAt, config.DefaultDailySummaryAt); err != nil {
		return jobsSettings{}, err
	}
	if out.PruneAt, err = config.ParseClockField("jobs.prune_at", j.PruneAt, config.DefaultPruneAt); err != nil {
		return jobsSettings{}, err
	}
	return out, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool, error) {
	t := cfg.Telegram
	if strings.TrimSpace(t.Token) == "" {
		return telegram.Config{}, false, nil
	}
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", t.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{
		Token:       t.Token,
		ChatID:      t.ChatID,
		ThreadID:    t.ThreadID,
		ParseMode:   t.ParseMode,
		PollTimeout: poll,
	}, true, nil
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

func notifyPriority(cfg *config.Config) int {
	if p := cfg.Reminder.NotifyPriority; p > 0 {
		return p
	}
	return 7
}
