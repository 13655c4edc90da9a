package agenda

import (
	"strings"
	"testing"
	"time"

	"homesched/internal/schedule"
)

var day = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func sample() []schedule.Schedule {
	return []schedule.Schedule{
		{ID: "1", Title: "Standup", Date: "2026-03-14", Time: "09:30", Completed: true},
		{ID: "2", Title: "Dentist", Date: "2026-03-14", Time: "11:00", Priority: schedule.PriorityHigh},
		{ID: "3", Title: "Groceries", Date: "2026-03-14", Time: "10:15"},
		{ID: "4", Title: "Dinner", Date: "2026-03-14", Time: "19:00"},
		{ID: "5", Title: "Tomorrow", Date: "2026-03-15", Time: "08:00"},
		{ID: "6", Title: "Broken", Date: "someday", Time: "08:00"},
	}
}

func TestForDaySortsByTime(t *testing.T) {
	t.Parallel()
	got := ForDay(sample(), day)
	var ids []string
	for _, s := range got {
		ids = append(ids, string(s.ID))
	}
	if strings.Join(ids, ",") != "1,3,2,4" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestDailySummary(t *testing.T) {
	t.Parallel()
	got := DailySummary(sample(), day)
	for _, want := range []string{
		"📋 4 total",
		"✅ 1 completed",
		"⏳ 3 pending",
		"🔥 1 high priority",
		"⏰ Next: Groceries (10:15)",
		"📊 Completion rate: 25.0%",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("summary missing %q:\n%s", want, got)
		}
	}
	if DailySummary(sample(), day.AddDate(0, 0, 5)) != "" {
		t.Fatal("empty day should yield empty summary")
	}
}

func TestDailySummaryAllDone(t *testing.T) {
	t.Parallel()
	list := []schedule.Schedule{{ID: "1", Title: "A", Date: "2026-03-14", Time: "09:00", Completed: true}}
	got := DailySummary(list, day)
	if strings.Contains(got, "Next:") || strings.Contains(got, "high priority") {
		t.Fatalf("summary = %s", got)
	}
	if !strings.Contains(got, "100.0%") {
		t.Fatalf("summary = %s", got)
	}
}

func TestOverdue(t *testing.T) {
	t.Parallel()
	got := Overdue(sample(), day)
	if len(got) != 2 || got[0].ID != "3" || got[1].ID != "2" {
		t.Fatalf("overdue = %+v", got)
	}
}

func TestOverdueMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n    int
		want string
	}{
		{0, ""},
		{2, "Overdue and not completed: t0, t1"},
		{3, "Overdue and not completed: t0, t1, t2"},
		{5, "Overdue and not completed: t0, t1, t2 and 2 more"},
	}
	for _, tt := range tests {
		var list []schedule.Schedule
		for i := 0; i < tt.n; i++ {
			list = append(list, schedule.Schedule{Title: "t" + string(rune('0'+i))})
		}
		if got := OverdueMessage(list); got != tt.want {
			t.Fatalf("n=%d: got %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestOverdueTrackerReportsOncePerDay(t *testing.T) {
	t.Parallel()
	tr := NewOverdueTracker()
	if got := tr.Check(sample(), day); len(got) != 2 {
		t.Fatalf("first check = %d", len(got))
	}
	if got := tr.Check(sample(), day.Add(time.Minute)); len(got) != 0 {
		t.Fatalf("repeat check = %d", len(got))
	}
	// Dinner becomes overdue later the same day.
	if got := tr.Check(sample(), day.Add(8*time.Hour)); len(got) != 1 || got[0].ID != "4" {
		t.Fatalf("evening check = %+v", got)
	}

	next := []schedule.Schedule{{ID: "3", Title: "Groceries", Date: "2026-03-15", Time: "07:00"}}
	if got := tr.Check(next, day.AddDate(0, 0, 1)); len(got) != 1 {
		t.Fatalf("new day should reset; got %+v", got)
	}
}
