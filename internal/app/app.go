package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"homesched/internal/config"
	"homesched/internal/eventbus"
	"homesched/internal/host"
	"homesched/internal/jobs"
	"homesched/internal/notifier"
	"homesched/internal/reminder"
	"homesched/internal/runtime/supervisor"
	"homesched/internal/schedule"
	"homesched/internal/storage"
	"homesched/internal/transport"
	"homesched/internal/transport/telegram"
	logx "homesched/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager
	sup     *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	term  *host.Terminal
	rem   *reminder.Scheduler
	feed  *schedule.Feed
	notif *notifier.Service
	tg    *telegram.Sink
	jobs  *jobs.Service
	loc   *time.Location

	overdue *overdueJob
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	loc, err := loadLocation(cfg.Reminder.Timezone)
	if err != nil {
		return nil, fmt.Errorf("reminder.timezone: %w", err)
	}

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		loc:     loc,
		term:    &host.Terminal{Bell: cfg.Reminder.Bell},
	}

	sinks := []transport.Sender{notifier.LogSink{Log: log.With(logx.String("comp", "notify.log"))}}
	if tc, enabled, err := mapTelegramConfig(cfg); err != nil {
		a.closeStore()
		return nil, err
	} else if enabled {
		if cfg.Telegram.Commands {
			tc.Upcoming = a.upcomingText
		}
		sink, err := telegram.New(tc, log)
		if err != nil {
			a.closeStore()
			return nil, err
		}
		a.tg = sink
		sinks = append(sinks, sink)
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.notif = notifier.New(ncfg, sinks, log.With(logx.String("comp", "notifier")), bus, store)

	a.rem = reminder.New(reminder.Options{
		Host: a.term.Reminder(notifier.LocalNotifier{
			Service:  a.notif,
			Priority: notifyPriority(cfg),
			Log:      log,
		}),
		Location:    loc,
		Log:         log,
		Bus:         bus,
		AlertTitle:  cfg.Reminder.AlertTitle,
		ConfirmText: cfg.Reminder.ConfirmText,
	})

	if feedPath := strings.TrimSpace(cfg.Schedules.Feed); feedPath != "" {
		a.feed = schedule.NewFeed(feedPath, log.With(logx.String("comp", "feed")))
	}

	js, err := mapJobsConfig(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.jobs = jobs.New(js.Service, log)
	if err := a.registerJobs(js); err != nil {
		a.closeStore()
		return nil, err
	}

	return a, nil
}

// Reminders is the scheduler owned by the app.
func (a *App) Reminders() *reminder.Scheduler { return a.rem }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		_, err := mapJobsConfig(cfg)
		return err
	})

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if a.tg != nil {
		if err := a.tg.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	a.startEventLoop()

	if a.feed != nil {
		list, err := a.feed.Load()
		if err != nil {
			return fmt.Errorf("schedule feed: %w", err)
		}
		a.applyInitial(list)
		a.startFeedLoop()
		if cfg := a.cfgm.Get(); cfg != nil && cfg.Schedules.Watch {
			a.sup.Go("feed.watch", func(c context.Context) error { return a.feed.Watch(c) })
		}
	}

	a.jobs.Start(a.sup.Context())

	a.startConfigLoop()
	a.sup.Go("config.watch", func(c context.Context) error { return a.cfgm.Watch(c) })

	notifySystemd(a.log, sdReady)
	a.log.Info("app started",
		logx.Int("reminders", a.rem.Len()),
		logx.String("tz", a.loc.String()),
		logx.Any("sinks", a.notif.Sinks()),
	)
	return nil
}

// applyInitial schedules every reminder of the first feed load.
func (a *App) applyInitial(list []schedule.Schedule) {
	scheduled := 0
	for _, r := range a.rem.SetMultipleReminders(list) {
		if r.Scheduled {
			scheduled++
		}
	}
	a.log.Info("schedule feed loaded", logx.Int("schedules", len(list)), logx.Int("scheduled", scheduled))
}

// applyChanges updates reminders for the schedules that changed between
// two feed versions.
func (a *App) applyChanges(ch schedule.Changes) {
	for _, id := range ch.Removed {
		a.rem.ClearReminder(id)
	}
	for _, sc := range ch.Upserted {
		a.rem.UpdateReminder(sc)
	}
	a.log.Debug("feed changes applied",
		logx.Int("upserted", len(ch.Upserted)),
		logx.Int("removed", len(ch.Removed)),
		logx.Int("active", a.rem.Len()),
	)
}

func (a *App) startFeedLoop() {
	sub := a.feed.Subscribe(4)
	prev := a.feed.Current()
	a.sup.Go0("feed.apply", func(c context.Context) {
		defer a.feed.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				if ch := schedule.Diff(prev, next); !ch.Empty() {
					a.applyChanges(ch)
				}
				prev = next
				a.bus.Publish(eventbus.Event{Type: eventbus.FeedReloaded, Time: time.Now(), Data: len(next)})
			}
		}
	})
}

// startEventLoop logs events and records fired reminders in storage.
func (a *App) startEventLoop() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.consume", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				if e.Type == eventbus.ReminderFired {
					a.recordFired(c, e)
				}
			}
		}
	})
}

func (a *App) recordFired(ctx context.Context, e eventbus.Event) {
	if a.store == nil {
		return
	}
	d, ok := e.Data.(eventbus.ReminderData)
	if !ok {
		return
	}
	rec := newFiredRecord(d, e.Time)
	if err := a.store.AppendFired(ctx, rec); err != nil {
		a.log.Warn("fired reminder not recorded", logx.String("schedule_id", d.ScheduleID), logx.Err(err))
	}
}

// upcomingText answers the Telegram /upcoming command.
func (a *App) upcomingText() string {
	return formatUpcoming(a.rem.UpcomingReminders(reminder.DefaultWindow), a.loc)
}

func (a *App) startConfigLoop() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

// restartSections cannot be applied to a running process.
var restartSections = map[string]bool{
	"schedules": true,
	"storage":   true,
	"telegram":  true,
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
		if restartSections[s] {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	if changed["logging"] {
		a.logs.Apply(mapLogConfig(newCfg))
	}

	if changed["reminder"] {
		a.term.SetBell(newCfg.Reminder.Bell)
		if oldCfg == nil || oldCfg.Reminder.Timezone != newCfg.Reminder.Timezone ||
			oldCfg.Reminder.AlertTitle != newCfg.Reminder.AlertTitle ||
			oldCfg.Reminder.ConfirmText != newCfg.Reminder.ConfirmText ||
			oldCfg.Reminder.NotifyPriority != newCfg.Reminder.NotifyPriority {
			a.log.Warn("reminder settings changed; restart required for changes to take effect")
		}
	}

	if changed["notifier"] {
		prev := a.notif.Enabled()
		if ncfg, err := mapNotifierConfig(newCfg); err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
			switch {
			case prev && !ncfg.Enabled:
				a.log.Info("notifier disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			case !prev && ncfg.Enabled:
				a.log.Info("notifier enabled via config")
				a.notif.Start(ctx)
			}
		}
	}

	if changed["jobs"] || changed["reminder"] {
		if js, err := mapJobsConfig(newCfg); err != nil {
			a.log.Warn("invalid jobs config; keeping previous", logx.Err(err))
		} else {
			prev := a.jobs.Enabled()
			a.jobs.Apply(js.Service)
			if err := a.registerJobs(js); err != nil {
				a.log.Warn("jobs re-registration failed", logx.Err(err))
			}
			switch {
			case prev && !js.Service.Enabled:
				a.log.Info("jobs disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.jobs.Stop(stopCtx)
				cancel()
			case !prev && js.Service.Enabled:
				a.log.Info("jobs enabled via config")
				a.jobs.Start(ctx)
			}
		}
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeStore()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, sdStopping)

	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component can't stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Reminders first so no timer fires into a stopped notifier.
	step("reminders", time.Second, func(context.Context) error { a.rem.Close(); return nil })
	step("jobs", 2*time.Second, func(c context.Context) error { a.jobs.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("telegram", 2*time.Second, func(c context.Context) error {
		if a.tg != nil {
			return a.tg.Stop(c)
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.closeStoreErr() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeStore() { _ = a.closeStoreErr() }

func (a *App) closeStoreErr() error {
	if a.store == nil {
		return nil
	}
	st := a.store
	a.store = nil
	return st.Close()
}
