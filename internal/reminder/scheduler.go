// Package reminder turns schedules into one-shot local reminders.
//
// A Scheduler holds at most one pending timer per schedule id. Setting a
// reminder again for the same id replaces the previous timer; a fired timer
// removes its own entry after the host has been notified.
package reminder

import (
	"sort"
	"strings"
	"sync"
	"time"

	"homesched/internal/clock"
	"homesched/internal/eventbus"
	"homesched/internal/schedule"
	logx "homesched/pkg/logx"
)

const (
	DefaultAlertTitle  = "Schedule reminder"
	DefaultConfirmText = "Got it"
	DefaultWindow      = 24 * time.Hour
)

// Skip reasons reported in Result.Reason.
const (
	ReasonNone      = "none"
	ReasonCompleted = "completed"
	ReasonInvalid   = "invalid"
	ReasonPastDue   = "past_due"
	ReasonClosed    = "closed"
)

type Options struct {
	Clock    clock.Clock
	Host     Host
	Location *time.Location
	Log      logx.Logger
	Bus      eventbus.Bus

	AlertTitle  string
	ConfirmText string
}

// Result reports what SetReminder did.
type Result struct {
	ScheduleID schedule.ID
	Scheduled  bool
	FireAt     time.Time
	// Reason is set when Scheduled is false.
	Reason string
}

// Upcoming describes an active reminder.
type Upcoming struct {
	ScheduleID  schedule.ID `json:"scheduleId"`
	HasReminder bool        `json:"hasReminder"`
	FireAt      time.Time   `json:"fireAt"`
	Title       string      `json:"title,omitempty"`
}

type entry struct {
	timer    clock.Timer
	gen      uint64
	fireAt   time.Time
	schedule schedule.Schedule
}

type Scheduler struct {
	clk  clock.Clock
	loc  *time.Location
	log  logx.Logger
	bus  eventbus.Bus
	host Host

	alertTitle  string
	confirmText string

	mu      sync.Mutex
	gen     uint64
	entries map[schedule.ID]*entry
	closed  bool
}

func New(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop()
	}
	if strings.TrimSpace(opts.AlertTitle) == "" {
		opts.AlertTitle = DefaultAlertTitle
	}
	if strings.TrimSpace(opts.ConfirmText) == "" {
		opts.ConfirmText = DefaultConfirmText
	}
	return &Scheduler{
		clk:         opts.Clock,
		loc:         opts.Location,
		log:         opts.Log.With(logx.String("comp", "reminder")),
		bus:         opts.Bus,
		host:        opts.Host,
		alertTitle:  opts.AlertTitle,
		confirmText: opts.ConfirmText,
		entries:     map[schedule.ID]*entry{},
	}
}

// CalculateReminderTime returns the schedule start minus its lead time. ok
// is false when the reminder is none or any field fails to parse.
func (s *Scheduler) CalculateReminderTime(sc schedule.Schedule) (time.Time, bool) {
	if sc.Reminder.IsNone() {
		return time.Time{}, false
	}
	mins, err := sc.Reminder.Minutes()
	if err != nil {
		return time.Time{}, false
	}
	start, err := sc.StartsAt(s.loc)
	if err != nil {
		return time.Time{}, false
	}
	return start.Add(-time.Duration(mins) * time.Minute), true
}

// SetReminder schedules the reminder for sc. Schedules without a reminder,
// completed ones and those whose fire time is not strictly in the future are
// skipped and leave any existing timer for the id in place.
func (s *Scheduler) SetReminder(sc schedule.Schedule) Result {
	res := Result{ScheduleID: sc.ID}
	switch {
	case sc.Reminder.IsNone():
		res.Reason = ReasonNone
	case sc.Completed:
		res.Reason = ReasonCompleted
	}
	if res.Reason != "" {
		return s.skipped(sc, res)
	}

	fireAt, ok := s.CalculateReminderTime(sc)
	if !ok {
		res.Reason = ReasonInvalid
		return s.skipped(sc, res)
	}
	res.FireAt = fireAt

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		res.Reason = ReasonClosed
		return s.skipped(sc, res)
	}
	delay := fireAt.Sub(s.clk.Now())
	if delay <= 0 {
		s.mu.Unlock()
		res.Reason = ReasonPastDue
		return s.skipped(sc, res)
	}
	if old, ok := s.entries[sc.ID]; ok {
		old.timer.Stop()
		delete(s.entries, sc.ID)
	}
	s.gen++
	gen := s.gen
	id := sc.ID
	s.entries[id] = &entry{
		gen:      gen,
		fireAt:   fireAt,
		schedule: sc,
		timer:    s.clk.AfterFunc(delay, func() { s.fire(id, gen) }),
	}
	s.mu.Unlock()

	res.Scheduled = true
	s.log.Debug("reminder set",
		logx.String("schedule_id", string(sc.ID)),
		logx.Time("fire_at", fireAt),
		logx.Duration("in", delay),
	)
	s.publish(eventbus.ReminderSet, sc, fireAt, "")
	return res
}

func (s *Scheduler) skipped(sc schedule.Schedule, res Result) Result {
	s.log.Debug("reminder skipped", logx.String("schedule_id", string(sc.ID)), logx.String("reason", res.Reason))
	s.publish(eventbus.ReminderSkipped, sc, res.FireAt, res.Reason)
	return res
}

// SetMultipleReminders applies SetReminder to each schedule independently.
func (s *Scheduler) SetMultipleReminders(list []schedule.Schedule) []Result {
	out := make([]Result, 0, len(list))
	for _, sc := range list {
		out = append(out, s.SetReminder(sc))
	}
	return out
}

// UpdateReminder clears the id and evaluates sc again from the current time.
func (s *Scheduler) UpdateReminder(sc schedule.Schedule) Result {
	s.ClearReminder(sc.ID)
	return s.SetReminder(sc)
}

// ClearReminder cancels the timer for id. It reports whether one existed.
func (s *Scheduler) ClearReminder(id schedule.ID) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		e.timer.Stop()
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if ok {
		s.log.Debug("reminder cleared", logx.String("schedule_id", string(id)))
		s.publish(eventbus.ReminderCleared, e.schedule, e.fireAt, "")
	}
	return ok
}

// ClearAllReminders cancels every timer and returns how many were active.
func (s *Scheduler) ClearAllReminders() int {
	s.mu.Lock()
	n := len(s.entries)
	for id, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if n > 0 {
		s.log.Info("all reminders cleared", logx.Int("count", n))
	}
	return n
}

// ShowReminder notifies the host about sc and then drops its entry. The
// alert is shown first; haptics follow once it is up, then the local
// notification is posted.
func (s *Scheduler) ShowReminder(sc schedule.Schedule) {
	s.notify(sc)
	s.release(sc.ID, 0)
}

func (s *Scheduler) fire(id schedule.ID, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || e.gen != gen {
		// Cleared or replaced after the timer was armed.
		s.mu.Unlock()
		return
	}
	sc := e.schedule
	fireAt := e.fireAt
	s.mu.Unlock()

	s.log.Info("reminder fired",
		logx.String("schedule_id", string(id)),
		logx.String("title", sc.Title),
		logx.Time("fire_at", fireAt),
	)
	s.notify(sc)
	s.release(id, gen)
	s.publish(eventbus.ReminderFired, sc, fireAt, "")
}

func (s *Scheduler) notify(sc schedule.Schedule) {
	vibrate := func() {
		if s.host.Haptics != nil {
			s.host.Haptics.Vibrate()
		}
	}
	if s.host.Alerter != nil {
		s.host.Alerter.ShowAlert(Alert{
			Title:       s.alertTitle,
			Body:        ReminderBody(sc),
			ConfirmText: s.confirmText,
		}, vibrate)
	} else {
		vibrate()
	}
	if s.host.Notifier != nil {
		s.host.Notifier.CreateNotification(LocalNotification{
			Title:   s.alertTitle,
			Body:    NotificationBody(sc),
			Payload: map[string]string{"scheduleId": string(sc.ID)},
		})
	}
}

// release drops the entry for id when it still belongs to gen (0 matches
// any generation).
func (s *Scheduler) release(id schedule.ID, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || (gen != 0 && e.gen != gen) {
		return
	}
	e.timer.Stop()
	delete(s.entries, id)
}

// UpcomingReminders lists active reminders firing within window from now,
// soonest first. A window <= 0 means DefaultWindow.
func (s *Scheduler) UpcomingReminders(window time.Duration) []Upcoming {
	if window <= 0 {
		window = DefaultWindow
	}
	limit := s.clk.Now().Add(window)

	s.mu.Lock()
	out := make([]Upcoming, 0, len(s.entries))
	for id, e := range s.entries {
		if e.fireAt.After(limit) {
			continue
		}
		out = append(out, Upcoming{
			ScheduleID:  id,
			HasReminder: true,
			FireAt:      e.fireAt,
			Title:       e.schedule.Title,
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].FireAt.Before(out[j].FireAt)
		}
		return out[i].ScheduleID < out[j].ScheduleID
	})
	return out
}

// FireAt returns the pending fire time for id.
func (s *Scheduler) FireAt(id schedule.ID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.fireAt, true
}

// Len reports the number of active reminders.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close cancels every timer; later SetReminder calls are skipped.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.ClearAllReminders()
}

func (s *Scheduler) publish(typ string, sc schedule.Schedule, fireAt time.Time, reason string) {
	s.bus.Publish(eventbus.Event{
		Type: typ,
		Time: s.clk.Now(),
		Data: eventbus.ReminderData{
			ScheduleID: string(sc.ID),
			Title:      sc.Title,
			FireAt:     fireAt,
			Reason:     reason,
		},
	})
}
