// Package agenda renders the daily summary and overdue notices over the
// current schedule list.
package agenda

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"homesched/internal/schedule"
)

const maxOverdueTitles = 3

// ForDay returns the schedules dated on day (in day's location) sorted by
// start time. Records with an unparsable date or time are dropped.
func ForDay(list []schedule.Schedule, day time.Time) []schedule.Schedule {
	loc := day.Location()
	y, m, d := day.Date()
	type item struct {
		s  schedule.Schedule
		at time.Time
	}
	var items []item
	for _, s := range list {
		at, err := s.StartsAt(loc)
		if err != nil {
			continue
		}
		if ay, am, ad := at.Date(); ay == y && am == m && ad == d {
			items = append(items, item{s: s, at: at})
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].at.Before(items[j].at) })
	out := make([]schedule.Schedule, len(items))
	for i, it := range items {
		out[i] = it.s
	}
	return out
}

// DailySummary describes the day's schedules; empty when there are none.
func DailySummary(list []schedule.Schedule, day time.Time) string {
	today := ForDay(list, day)
	if len(today) == 0 {
		return ""
	}

	total := len(today)
	completed, high := 0, 0
	var next *schedule.Schedule
	for i := range today {
		s := today[i]
		if s.Completed {
			completed++
		} else if next == nil {
			next = &today[i]
		}
		if s.EffectivePriority() == schedule.PriorityHigh {
			high++
		}
	}
	pending := total - completed

	var b strings.Builder
	b.WriteString("Today's schedule summary:\n")
	fmt.Fprintf(&b, "📋 %d total\n", total)
	fmt.Fprintf(&b, "✅ %d completed\n", completed)
	fmt.Fprintf(&b, "⏳ %d pending", pending)
	if high > 0 {
		fmt.Fprintf(&b, "\n🔥 %d high priority", high)
	}
	if next != nil {
		fmt.Fprintf(&b, "\n⏰ Next: %s (%s)", next.Title, next.Time)
	}
	rate := float64(completed) / float64(total) * 100
	fmt.Fprintf(&b, "\n📊 Completion rate: %.1f%%", rate)
	return b.String()
}

// Overdue returns today's schedules that started before now and are not
// completed, earliest first.
func Overdue(list []schedule.Schedule, now time.Time) []schedule.Schedule {
	var out []schedule.Schedule
	for _, s := range ForDay(list, now) {
		if s.Completed {
			continue
		}
		at, _ := s.StartsAt(now.Location())
		if at.Before(now) {
			out = append(out, s)
		}
	}
	return out
}

// OverdueMessage lists up to three titles, then how many remain.
func OverdueMessage(list []schedule.Schedule) string {
	if len(list) == 0 {
		return ""
	}
	n := len(list)
	if n > maxOverdueTitles {
		n = maxOverdueTitles
	}
	titles := make([]string, 0, n)
	for _, s := range list[:n] {
		titles = append(titles, s.Title)
	}
	msg := "Overdue and not completed: " + strings.Join(titles, ", ")
	if rest := len(list) - n; rest > 0 {
		msg += fmt.Sprintf(" and %d more", rest)
	}
	return msg
}

// OverdueTracker reports each overdue schedule once per calendar day.
type OverdueTracker struct {
	mu   sync.Mutex
	day  string
	seen map[schedule.ID]struct{}
}

func NewOverdueTracker() *OverdueTracker {
	return &OverdueTracker{seen: map[schedule.ID]struct{}{}}
}

// Check returns the overdue schedules not yet announced today.
func (t *OverdueTracker) Check(list []schedule.Schedule, now time.Time) []schedule.Schedule {
	overdue := Overdue(list, now)

	t.mu.Lock()
	defer t.mu.Unlock()
	if day := now.Format("2006-01-02"); day != t.day {
		t.day = day
		t.seen = map[schedule.ID]struct{}{}
	}
	var fresh []schedule.Schedule
	for _, s := range overdue {
		if _, ok := t.seen[s.ID]; ok {
			continue
		}
		t.seen[s.ID] = struct{}{}
		fresh = append(fresh, s)
	}
	return fresh
}
