package reminder

import (
	"sync"
	"testing"
	"time"

	"homesched/internal/clock"
	"homesched/internal/eventbus"
	"homesched/internal/schedule"
)

var testStart = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

type recordingHost struct {
	mu       sync.Mutex
	alerts   []Alert
	vibrates int
	notes    []LocalNotification
	order    []string
}

func (h *recordingHost) host() Host {
	return Host{
		Alerter: AlerterFunc(func(a Alert, done func()) {
			h.mu.Lock()
			h.alerts = append(h.alerts, a)
			h.order = append(h.order, "alert")
			h.mu.Unlock()
			if done != nil {
				done()
			}
		}),
		Haptics: HapticsFunc(func() {
			h.mu.Lock()
			h.vibrates++
			h.order = append(h.order, "vibrate")
			h.mu.Unlock()
		}),
		Notifier: LocalNotifierFunc(func(n LocalNotification) {
			h.mu.Lock()
			h.notes = append(h.notes, n)
			h.order = append(h.order, "notify")
			h.mu.Unlock()
		}),
	}
}

func newTestScheduler(t *testing.T, host Host) (*Scheduler, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(testStart)
	s := New(Options{Clock: clk, Host: host, Location: time.UTC})
	t.Cleanup(s.Close)
	return s, clk
}

// at builds a schedule starting at the given instant.
func at(id string, start time.Time, reminder schedule.Reminder) schedule.Schedule {
	return schedule.Schedule{
		ID:       schedule.ID(id),
		Title:    "Event " + id,
		Date:     start.Format("2006-01-02"),
		Time:     start.Format("15:04"),
		Reminder: reminder,
	}
}

func TestSetReminderSkips(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t, Host{})
	future := testStart.Add(3 * time.Hour)

	completed := at("2", future, schedule.Reminder15m)
	completed.Completed = true

	tests := []struct {
		name   string
		sc     schedule.Schedule
		reason string
	}{
		{name: "none", sc: at("1", future, schedule.ReminderNone), reason: ReasonNone},
		{name: "empty", sc: at("1", future, ""), reason: ReasonNone},
		{name: "completed", sc: completed, reason: ReasonCompleted},
		{name: "non numeric", sc: at("3", future, "soon"), reason: ReasonInvalid},
		{name: "offset overflows", sc: at("3", testStart.Add(time.Hour), "200000000"), reason: ReasonInvalid},
		{name: "bad date", sc: schedule.Schedule{ID: "4", Date: "someday", Time: "10:00", Reminder: "5"}, reason: ReasonInvalid},
		{name: "past due", sc: at("5", testStart.Add(-time.Minute), schedule.Reminder1h), reason: ReasonPastDue},
		{name: "fires exactly now", sc: at("6", testStart.Add(15*time.Minute), schedule.Reminder15m), reason: ReasonPastDue},
	}
	for _, tt := range tests {
		res := s.SetReminder(tt.sc)
		if res.Scheduled || res.Reason != tt.reason {
			t.Fatalf("%s: result = %+v, want reason %q", tt.name, res, tt.reason)
		}
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0", s.Len())
	}
}

func TestSetReminderSchedulesFutureFireTime(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t, Host{})
	sc := at("1", testStart.Add(23*time.Hour), schedule.Reminder15m)

	if s.Len() != 0 {
		t.Fatalf("Len before = %d", s.Len())
	}
	res := s.SetReminder(sc)
	want := testStart.Add(23*time.Hour - 15*time.Minute)
	if !res.Scheduled || !res.FireAt.Equal(want) {
		t.Fatalf("result = %+v, want fire at %v", res, want)
	}
	if s.Len() != 1 || clk.Pending() != 1 {
		t.Fatalf("Len = %d, pending = %d", s.Len(), clk.Pending())
	}
	if got, ok := s.FireAt("1"); !ok || !got.Equal(want) {
		t.Fatalf("FireAt = %v, %v", got, ok)
	}
}

func TestCalculateReminderTime(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t, Host{})
	sc := schedule.Schedule{ID: "1", Date: "2026-05-04", Time: "09:30", Reminder: schedule.Reminder1h}
	got, ok := s.CalculateReminderTime(sc)
	if !ok || !got.Equal(time.Date(2026, 5, 4, 8, 30, 0, 0, time.UTC)) {
		t.Fatalf("CalculateReminderTime = %v, %v", got, ok)
	}
	sc.Reminder = schedule.ReminderAtStart
	if got, _ := s.CalculateReminderTime(sc); !got.Equal(time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)) {
		t.Fatalf("at start = %v", got)
	}
	for _, bad := range []schedule.Schedule{
		{ID: "1", Date: "2026-05-04", Time: "09:30", Reminder: "x"},
		{ID: "1", Date: "2026-05-04", Time: "nine", Reminder: "5"},
		{ID: "1", Date: "2026-05-04", Time: "09:30", Reminder: schedule.ReminderNone},
		{ID: "1", Date: "2026-05-04", Time: "09:30", Reminder: "200000000"},
	} {
		if _, ok := s.CalculateReminderTime(bad); ok {
			t.Fatalf("expected failure for %+v", bad)
		}
	}
	if s.Len() != 0 {
		t.Fatal("CalculateReminderTime must not schedule")
	}
}

func TestCalculateReminderTimeUsesLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+8", 8*3600)
	s := New(Options{Clock: clock.NewManual(testStart), Location: loc})
	got, ok := s.CalculateReminderTime(schedule.Schedule{ID: "1", Date: "2026-05-04", Time: "09:30", Reminder: "30"})
	if !ok || !got.Equal(time.Date(2026, 5, 4, 1, 0, 0, 0, time.UTC)) {
		t.Fatalf("CalculateReminderTime = %v, %v", got, ok)
	}
}

func TestSetReminderTwiceKeepsOneEntry(t *testing.T) {
	t.Parallel()
	h := &recordingHost{}
	s, clk := newTestScheduler(t, h.host())

	s.SetReminder(at("1", testStart.Add(2*time.Hour), schedule.Reminder15m))
	s.SetReminder(at("1", testStart.Add(4*time.Hour), schedule.Reminder15m))
	if s.Len() != 1 || clk.Pending() != 1 {
		t.Fatalf("Len = %d, pending = %d", s.Len(), clk.Pending())
	}

	// The replaced timer must not fire.
	clk.Advance(3 * time.Hour)
	if len(h.alerts) != 0 {
		t.Fatalf("stale timer fired: %+v", h.alerts)
	}
	clk.Advance(time.Hour)
	if len(h.alerts) != 1 || s.Len() != 0 {
		t.Fatalf("alerts = %d, Len = %d", len(h.alerts), s.Len())
	}
}

func TestPastDueSetLeavesExistingTimer(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t, Host{})
	s.SetReminder(at("1", testStart.Add(2*time.Hour), schedule.Reminder15m))
	res := s.SetReminder(at("1", testStart.Add(-time.Hour), schedule.Reminder15m))
	if res.Scheduled || s.Len() != 1 {
		t.Fatalf("result = %+v, Len = %d", res, s.Len())
	}
}

func TestUpdateReminderReevaluates(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t, Host{})
	s.SetReminder(at("1", testStart.Add(2*time.Hour), schedule.Reminder15m))

	res := s.UpdateReminder(at("1", testStart.Add(5*time.Hour), schedule.Reminder30m))
	want := testStart.Add(5*time.Hour - 30*time.Minute)
	if !res.Scheduled || !res.FireAt.Equal(want) {
		t.Fatalf("update result = %+v", res)
	}

	done := at("1", testStart.Add(5*time.Hour), schedule.Reminder30m)
	done.Completed = true
	if res := s.UpdateReminder(done); res.Scheduled {
		t.Fatalf("completed update scheduled: %+v", res)
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0 after completing", s.Len())
	}
}

func TestClearReminder(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t, Host{})
	s.SetReminder(at("1", testStart.Add(2*time.Hour), schedule.Reminder5m))
	s.SetReminder(at("2", testStart.Add(3*time.Hour), schedule.Reminder5m))

	if !s.ClearReminder("1") {
		t.Fatal("ClearReminder(1) = false")
	}
	if _, ok := s.FireAt("1"); ok {
		t.Fatal("entry 1 still present")
	}
	if _, ok := s.FireAt("2"); !ok {
		t.Fatal("entry 2 removed")
	}
	if s.ClearReminder("1") || s.ClearReminder("missing") {
		t.Fatal("clearing an absent id should report false")
	}
	if clk.Pending() != 1 {
		t.Fatalf("pending = %d", clk.Pending())
	}
}

func TestClearAllReminders(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t, Host{})
	if n := s.ClearAllReminders(); n != 0 {
		t.Fatalf("ClearAllReminders on empty = %d", n)
	}
	res := s.SetMultipleReminders([]schedule.Schedule{
		at("1", testStart.Add(time.Hour), schedule.Reminder5m),
		at("2", testStart.Add(2*time.Hour), schedule.Reminder15m),
		at("3", testStart.Add(-time.Hour), schedule.Reminder15m),
		at("4", testStart.Add(3*time.Hour), schedule.ReminderNone),
	})
	if len(res) != 4 || !res[0].Scheduled || !res[1].Scheduled || res[2].Scheduled || res[3].Scheduled {
		t.Fatalf("SetMultipleReminders = %+v", res)
	}
	if n := s.ClearAllReminders(); n != 2 {
		t.Fatalf("ClearAllReminders = %d, want 2", n)
	}
	if s.Len() != 0 || clk.Pending() != 0 {
		t.Fatalf("Len = %d, pending = %d", s.Len(), clk.Pending())
	}
}

func TestFireNotifiesHostAndCleansUp(t *testing.T) {
	t.Parallel()
	h := &recordingHost{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	clk := clock.NewManual(testStart)
	s := New(Options{Clock: clk, Host: h.host(), Location: time.UTC, Bus: bus})
	defer s.Close()

	sc := at("7", testStart.Add(time.Hour), schedule.Reminder30m)
	sc.Title = "Dentist"
	sc.Location = "Main St"
	s.SetReminder(sc)

	clk.Advance(29 * time.Minute)
	if len(h.alerts) != 0 {
		t.Fatal("fired early")
	}
	clk.Advance(time.Minute)

	if len(h.alerts) != 1 {
		t.Fatalf("alerts = %d", len(h.alerts))
	}
	a := h.alerts[0]
	if a.Title != DefaultAlertTitle || a.ConfirmText != DefaultConfirmText {
		t.Fatalf("alert = %+v", a)
	}
	if want := "Dentist\nStarts in 30 minutes\nLocation: Main St"; a.Body != want {
		t.Fatalf("body = %q, want %q", a.Body, want)
	}
	if h.vibrates != 1 {
		t.Fatalf("vibrates = %d", h.vibrates)
	}
	if len(h.notes) != 1 || h.notes[0].Payload["scheduleId"] != "7" {
		t.Fatalf("notes = %+v", h.notes)
	}
	if want := "Dentist starts in 30 minutes"; h.notes[0].Body != want {
		t.Fatalf("note body = %q, want %q", h.notes[0].Body, want)
	}
	if got := h.order; len(got) != 3 || got[0] != "alert" || got[1] != "vibrate" || got[2] != "notify" {
		t.Fatalf("order = %v", got)
	}
	if s.Len() != 0 {
		t.Fatalf("Len after fire = %d", s.Len())
	}

	var sawSet, sawFired bool
	for len(events) > 0 {
		e := <-events
		switch e.Type {
		case eventbus.ReminderSet:
			sawSet = true
		case eventbus.ReminderFired:
			sawFired = true
			if d := e.Data.(eventbus.ReminderData); d.ScheduleID != "7" || !d.FireAt.Equal(testStart.Add(30*time.Minute)) {
				t.Fatalf("fired data = %+v", d)
			}
		}
	}
	if !sawSet || !sawFired {
		t.Fatalf("set=%v fired=%v", sawSet, sawFired)
	}
}

func TestFireToleratesMissingCapabilities(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t, Host{})
	s.SetReminder(at("1", testStart.Add(time.Hour), schedule.Reminder5m))
	clk.Advance(time.Hour)
	if s.Len() != 0 {
		t.Fatalf("Len = %d", s.Len())
	}

	vibrated := 0
	s2, clk2 := newTestScheduler(t, Host{Haptics: HapticsFunc(func() { vibrated++ })})
	s2.SetReminder(at("1", testStart.Add(time.Hour), schedule.Reminder5m))
	clk2.Advance(time.Hour)
	if vibrated != 1 {
		t.Fatalf("vibrated = %d without alerter", vibrated)
	}
}

func TestRescheduleFromAlertKeepsNewEntry(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(testStart)
	var s *Scheduler
	s = New(Options{Clock: clk, Location: time.UTC, Host: Host{
		Alerter: AlerterFunc(func(a Alert, done func()) {
			// Snooze: a new reminder for the same id set while the old one fires.
			s.SetReminder(at("1", testStart.Add(3*time.Hour), schedule.Reminder5m))
		}),
	}})
	defer s.Close()

	s.SetReminder(at("1", testStart.Add(time.Hour), schedule.Reminder5m))
	clk.Advance(time.Hour)
	got, ok := s.FireAt("1")
	if !ok || !got.Equal(testStart.Add(3*time.Hour-5*time.Minute)) {
		t.Fatalf("FireAt = %v, %v", got, ok)
	}
}

func TestShowReminderRemovesEntry(t *testing.T) {
	t.Parallel()
	h := &recordingHost{}
	s, clk := newTestScheduler(t, h.host())
	sc := at("1", testStart.Add(time.Hour), schedule.Reminder15m)
	s.SetReminder(sc)

	s.ShowReminder(sc)
	if len(h.alerts) != 1 || s.Len() != 0 || clk.Pending() != 0 {
		t.Fatalf("alerts = %d, Len = %d, pending = %d", len(h.alerts), s.Len(), clk.Pending())
	}
	clk.Advance(2 * time.Hour)
	if len(h.alerts) != 1 {
		t.Fatal("timer fired after ShowReminder")
	}
}

func TestUpcomingRemindersFiltersByWindow(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t, Host{})
	s.SetMultipleReminders([]schedule.Schedule{
		at("late", testStart.Add(30*time.Hour), schedule.Reminder5m),
		at("b", testStart.Add(3*time.Hour), schedule.Reminder15m),
		at("a", testStart.Add(2*time.Hour), schedule.Reminder15m),
	})

	got := s.UpcomingReminders(0)
	if len(got) != 2 || got[0].ScheduleID != "a" || got[1].ScheduleID != "b" {
		t.Fatalf("UpcomingReminders(default) = %+v", got)
	}
	for _, u := range got {
		if !u.HasReminder {
			t.Fatalf("HasReminder false for %s", u.ScheduleID)
		}
	}
	if got := s.UpcomingReminders(48 * time.Hour); len(got) != 3 || got[2].ScheduleID != "late" {
		t.Fatalf("UpcomingReminders(48h) = %+v", got)
	}
	if got := s.UpcomingReminders(time.Hour); len(got) != 0 {
		t.Fatalf("UpcomingReminders(1h) = %+v", got)
	}
}

func TestCloseRejectsNewReminders(t *testing.T) {
	t.Parallel()
	s, clk := newTestScheduler(t, Host{})
	s.SetReminder(at("1", testStart.Add(time.Hour), schedule.Reminder5m))
	s.Close()
	if s.Len() != 0 || clk.Pending() != 0 {
		t.Fatalf("Len = %d, pending = %d", s.Len(), clk.Pending())
	}
	if res := s.SetReminder(at("2", testStart.Add(time.Hour), schedule.Reminder5m)); res.Reason != ReasonClosed {
		t.Fatalf("result = %+v", res)
	}
}

func TestReminderText(t *testing.T) {
	t.Parallel()
	tests := map[schedule.Reminder]string{
		"0":   "imminently",
		"5":   "in 5 minutes",
		"15":  "in 15 minutes",
		"30":  "in 30 minutes",
		"60":  "in 1 hour",
		"999": "",
		"":    "",
	}
	for in, want := range tests {
		if got := ReminderText(in); got != want {
			t.Fatalf("ReminderText(%q) = %q, want %q", in, got, want)
		}
	}
	body := ReminderBody(schedule.Schedule{Title: "Gym", Reminder: "999"})
	if body != "Gym\nStarts\nLocation: none" {
		t.Fatalf("ReminderBody = %q", body)
	}
	if got := NotificationBody(schedule.Schedule{Title: "Gym", Reminder: "0", Location: "Hall"}); got != "Gym starts imminently" {
		t.Fatalf("NotificationBody = %q", got)
	}
	if got := NotificationBody(schedule.Schedule{Title: "Gym", Reminder: "999"}); got != "Gym starts" {
		t.Fatalf("NotificationBody unknown offset = %q", got)
	}
}
