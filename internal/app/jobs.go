package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"homesched/internal/agenda"
	"homesched/internal/eventbus"
	"homesched/internal/notifier"
	"homesched/internal/reminder"
	"homesched/internal/storage"
	logx "homesched/pkg/logx"
)

const (
	jobOverdue = "agenda.overdue"
	jobSummary = "agenda.summary"
	jobPrune   = "history.prune"
)

type overdueJob struct {
	tracker *agenda.OverdueTracker
}

// registerJobs (re)registers the maintenance jobs. Agenda jobs need a
// schedule feed; pruning needs storage.
func (a *App) registerJobs(js jobsSettings) error {
	if a.feed != nil {
		if a.overdue == nil {
			a.overdue = &overdueJob{tracker: agenda.NewOverdueTracker()}
		}
		if err := a.jobs.AddInterval(jobOverdue, js.OverdueEvery, 0, a.runOverdue); err != nil {
			return err
		}
		if err := a.jobs.AddDaily(jobSummary, js.DailySummaryAt, 0, a.runSummary); err != nil {
			return err
		}
	}
	if a.store != nil {
		retention := js.HistoryRetention
		if err := a.jobs.AddDaily(jobPrune, js.PruneAt, 0, func(ctx context.Context) error {
			return a.runPrune(ctx, retention)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) now() time.Time { return time.Now().In(a.loc) }

func (a *App) runOverdue(ctx context.Context) error {
	now := a.now()
	fresh := a.overdue.tracker.Check(a.feed.Current(), now)
	if len(fresh) == 0 {
		return nil
	}
	ids := make([]string, 0, len(fresh))
	for _, s := range fresh {
		ids = append(ids, string(s.ID))
	}
	a.log.Info("overdue schedules", logx.Int("count", len(fresh)))
	return a.notifyQuiet(ctx, notifier.Notification{
		Priority: 5,
		Title:    "⏰ Overdue schedules",
		Text:     agenda.OverdueMessage(fresh),
		Key:      "overdue:" + now.Format("2006-01-02") + ":" + strings.Join(ids, ","),
	})
}

func (a *App) runSummary(ctx context.Context) error {
	now := a.now()
	text := agenda.DailySummary(a.feed.Current(), now)
	if text == "" {
		a.log.Debug("no schedules today; summary skipped")
		return nil
	}
	return a.notifyQuiet(ctx, notifier.Notification{
		Priority: 3,
		Title:    "📊 Daily schedule summary",
		Text:     text,
		Key:      "summary:" + now.Format("2006-01-02"),
	})
}

func (a *App) runPrune(ctx context.Context, retention time.Duration) error {
	n, err := a.store.PruneFired(ctx, time.Now().Add(-retention))
	if err != nil {
		return fmt.Errorf("prune fired history: %w", err)
	}
	if n > 0 {
		a.log.Info("pruned fired reminder history", logx.Int("deleted", n))
	}
	return nil
}

// notifyQuiet ignores a disabled notifier; the job still counts as done.
func (a *App) notifyQuiet(ctx context.Context, n notifier.Notification) error {
	err := a.notif.Notify(ctx, n)
	if err != nil && !a.notif.Enabled() {
		return nil
	}
	return err
}

func newFiredRecord(d eventbus.ReminderData, firedAt time.Time) storage.FiredRecord {
	return storage.FiredRecord{
		ID:         uuid.NewString(),
		ScheduleID: d.ScheduleID,
		Title:      d.Title,
		FireAt:     d.FireAt,
		FiredAt:    firedAt,
	}
}

func formatUpcoming(list []reminder.Upcoming, loc *time.Location) string {
	if len(list) == 0 {
		return "No reminders in the next 24 hours."
	}
	var b strings.Builder
	b.WriteString("Upcoming reminders:")
	for _, u := range list {
		title := u.Title
		if title == "" {
			title = "#" + string(u.ScheduleID)
		}
		fmt.Fprintf(&b, "\n• %s %s", u.FireAt.In(loc).Format("Mon 15:04"), title)
	}
	return b.String()
}
