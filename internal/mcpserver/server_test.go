package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"homesched/internal/clock"
	"homesched/internal/reminder"
	logx "homesched/pkg/logx"
)

var start = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newServer(t *testing.T) (*Server, *reminder.Scheduler) {
	t.Helper()
	rem := reminder.New(reminder.Options{Clock: clock.NewManual(start), Location: time.UTC})
	t.Cleanup(rem.Close)
	return New(rem, logx.Nop()), rem
}

func request(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty result")
	}
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	}
	t.Fatalf("unexpected content %T", res.Content[0])
	return ""
}

func scheduleArgs(id, hhmm, rem string) map[string]any {
	return map[string]any{
		"id":       id,
		"title":    "Event " + id,
		"date":     "2026-05-04",
		"time":     hhmm,
		"reminder": rem,
	}
}

func TestSetAndClearReminder(t *testing.T) {
	t.Parallel()
	s, rem := newServer(t)
	ctx := context.Background()

	res, err := s.handleSetReminder(ctx, request(scheduleArgs("1", "12:00", "15")))
	if err != nil || res.IsError {
		t.Fatalf("set: %v %+v", err, res)
	}
	var view resultView
	if err := json.Unmarshal([]byte(text(t, res)), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !view.Scheduled || view.FireAt != "2026-05-04T11:45:00Z" || rem.Len() != 1 {
		t.Fatalf("view = %+v len=%d", view, rem.Len())
	}

	res, _ = s.handleSetReminder(ctx, request(scheduleArgs("2", "08:00", "60")))
	_ = json.Unmarshal([]byte(text(t, res)), &view)
	if view.Scheduled || view.Reason != reminder.ReasonPastDue {
		t.Fatalf("past due view = %+v", view)
	}

	res, _ = s.handleClearReminder(ctx, request(map[string]any{"id": "1"}))
	if !strings.Contains(text(t, res), "cleared") || rem.Len() != 0 {
		t.Fatalf("clear = %q", text(t, res))
	}
	res, _ = s.handleClearReminder(ctx, request(map[string]any{"id": "1"}))
	if !strings.Contains(text(t, res), "No pending") {
		t.Fatalf("second clear = %q", text(t, res))
	}
}

func TestNumericIDAccepted(t *testing.T) {
	t.Parallel()
	s, rem := newServer(t)
	args := scheduleArgs("", "12:00", "5")
	args["id"] = float64(42)
	res, _ := s.handleSetReminder(context.Background(), request(args))
	if res.IsError {
		t.Fatalf("set = %q", text(t, res))
	}
	if _, ok := rem.FireAt("42"); !ok {
		t.Fatal("reminder 42 not scheduled")
	}
}

func TestInvalidScheduleIsToolError(t *testing.T) {
	t.Parallel()
	s, _ := newServer(t)
	args := scheduleArgs("1", "noon", "15")
	res, err := s.handleSetReminder(context.Background(), request(args))
	if err != nil || !res.IsError {
		t.Fatalf("expected tool error, got %v %+v", err, res)
	}
	res, _ = s.handleClearReminder(context.Background(), request(nil))
	if !res.IsError {
		t.Fatal("clear without id should fail")
	}
}

func TestUpdateAndUpcoming(t *testing.T) {
	t.Parallel()
	s, _ := newServer(t)
	ctx := context.Background()
	_, _ = s.handleSetReminder(ctx, request(scheduleArgs("1", "20:00", "0")))
	_, _ = s.handleSetReminder(ctx, request(scheduleArgs("2", "10:00", "30")))
	_, _ = s.handleUpdateReminder(ctx, request(scheduleArgs("1", "11:00", "5")))

	res, _ := s.handleUpcoming(ctx, request(map[string]any{"hours": float64(3)}))
	var list []reminder.Upcoming
	if err := json.Unmarshal([]byte(text(t, res)), &list); err != nil {
		t.Fatalf("decode: %v (%s)", err, text(t, res))
	}
	if len(list) != 2 || list[0].ScheduleID != "2" || list[1].ScheduleID != "1" {
		t.Fatalf("upcoming = %+v", list)
	}

	res, _ = s.handleUpcoming(ctx, request(map[string]any{"hours": float64(-1)}))
	if !res.IsError {
		t.Fatal("negative hours should fail")
	}
	res, _ = s.handleUpcoming(ctx, request(map[string]any{"hours": float64(3e6)}))
	if !res.IsError || !strings.Contains(text(t, res), "at most 8784") {
		t.Fatalf("huge window accepted: %+v", res)
	}
	res, _ = s.handleUpcoming(ctx, request(map[string]any{"hours": float64(maxUpcomingHours)}))
	if res.IsError {
		t.Fatalf("max window rejected: %q", text(t, res))
	}

	res, _ = s.handleClearAll(ctx, request(nil))
	if text(t, res) != "Cleared 2 reminder(s)." {
		t.Fatalf("clear all = %q", text(t, res))
	}
	res, _ = s.handleUpcoming(ctx, request(nil))
	if text(t, res) != "No upcoming reminders." {
		t.Fatalf("empty upcoming = %q", text(t, res))
	}
}

func TestReminderTimeAndText(t *testing.T) {
	t.Parallel()
	s, rem := newServer(t)
	ctx := context.Background()

	res, _ := s.handleReminderTime(ctx, request(scheduleArgs("1", "10:00", "60")))
	if text(t, res) != "2026-05-04T09:00:00Z" || rem.Len() != 0 {
		t.Fatalf("reminder_time = %q", text(t, res))
	}
	res, _ = s.handleReminderTime(ctx, request(scheduleArgs("1", "10:00", "none")))
	if !res.IsError {
		t.Fatal("none reminder has no time")
	}

	res, _ = s.handleReminderText(ctx, request(map[string]any{"reminder": "30"}))
	if text(t, res) != "in 30 minutes" {
		t.Fatalf("reminder_text = %q", text(t, res))
	}
	res, _ = s.handleReminderText(ctx, request(map[string]any{"reminder": "999"}))
	if !res.IsError {
		t.Fatal("unknown lead time should fail")
	}
}
