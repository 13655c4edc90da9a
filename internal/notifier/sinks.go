package notifier

import (
	"context"

	"homesched/internal/reminder"
	"homesched/internal/transport"
	logx "homesched/pkg/logx"
)

// LogSink writes notifications to the structured log.
type LogSink struct {
	Log logx.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Send(ctx context.Context, m transport.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Log.Info("notification",
		logx.String("id", m.ID),
		logx.String("title", m.Title),
		logx.String("text", m.Text),
		logx.Any("meta", m.Meta),
	)
	return nil
}

// LocalNotifier posts reminder local notifications through the service.
type LocalNotifier struct {
	Service *Service
	// Priority applied to every reminder.
	Priority int
	Log      logx.Logger
}

var _ reminder.LocalNotifier = LocalNotifier{}

func (l LocalNotifier) CreateNotification(n reminder.LocalNotification) {
	if l.Service == nil {
		return
	}
	key := n.Payload["scheduleId"]
	err := l.Service.Notify(context.Background(), Notification{
		Priority: l.Priority,
		Title:    n.Title,
		Text:     n.Body,
		Key:      key,
		Meta:     n.Payload,
	})
	if err != nil && !l.Log.IsZero() {
		l.Log.Warn("reminder notification not queued", logx.String("schedule_id", key), logx.Err(err))
	}
}
