// Package mcpserver exposes the reminder scheduler as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"homesched/internal/reminder"
	"homesched/internal/schedule"
	logx "homesched/pkg/logx"
)

const (
	serverName    = "homesched"
	serverVersion = "1.0.0"
)

// Reminders is the scheduler surface the tools drive.
type Reminders interface {
	SetReminder(sc schedule.Schedule) reminder.Result
	UpdateReminder(sc schedule.Schedule) reminder.Result
	ClearReminder(id schedule.ID) bool
	ClearAllReminders() int
	UpcomingReminders(window time.Duration) []reminder.Upcoming
	CalculateReminderTime(sc schedule.Schedule) (time.Time, bool)
}

type Server struct {
	mcpServer *server.MCPServer
	rem       Reminders
	log       logx.Logger
}

func New(rem Reminders, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{rem: rem, log: log.With(logx.String("comp", "mcp"))}
	s.mcpServer = server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying server for serving.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// ServeStdio blocks serving requests on stdin/stdout.
func (s *Server) ServeStdio() error {
	s.log.Info("serving MCP over stdio")
	return server.ServeStdio(s.mcpServer)
}

func scheduleParams() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("id", mcp.Required(), mcp.Description("Schedule id")),
		mcp.WithString("date", mcp.Required(), mcp.Description("Date as YYYY-MM-DD")),
		mcp.WithString("time", mcp.Required(), mcp.Description("Start time as HH:MM")),
		mcp.WithString("reminder", mcp.Description("Lead time in minutes (0, 5, 15, 30, 60) or none (default: none)")),
		mcp.WithString("title", mcp.Description("Schedule title")),
		mcp.WithString("location", mcp.Description("Location shown in the alert")),
		mcp.WithString("priority", mcp.Description("Priority: low, medium, high (default: medium)")),
		mcp.WithBoolean("completed", mcp.Description("Completed schedules get no reminder")),
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("set_reminder", append([]mcp.ToolOption{
			mcp.WithDescription("Schedule the reminder for a schedule; replaces any pending one for the same id"),
		}, scheduleParams()...)...),
		s.handleSetReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("update_reminder", append([]mcp.ToolOption{
			mcp.WithDescription("Clear the pending reminder for a schedule and evaluate it again"),
		}, scheduleParams()...)...),
		s.handleUpdateReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("clear_reminder",
			mcp.WithDescription("Cancel the pending reminder for a schedule id"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Schedule id")),
		),
		s.handleClearReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("clear_all_reminders",
			mcp.WithDescription("Cancel every pending reminder"),
		),
		s.handleClearAll,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("upcoming_reminders",
			mcp.WithDescription("List pending reminders firing within the next hours, soonest first"),
			mcp.WithNumber("hours", mcp.Description("Window in hours (default: 24, max: 8784)")),
		),
		s.handleUpcoming,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("reminder_time", append([]mcp.ToolOption{
			mcp.WithDescription("Compute when a schedule's reminder would fire without scheduling it"),
		}, scheduleParams()...)...),
		s.handleReminderTime,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("reminder_text",
			mcp.WithDescription("Describe a lead time as shown in the alert (e.g. 30 -> in 30 minutes)"),
			mcp.WithString("reminder", mcp.Required(), mcp.Description("Lead time in minutes")),
		),
		s.handleReminderText,
	)
}

func scheduleFromRequest(req mcp.CallToolRequest) (schedule.Schedule, error) {
	sc := schedule.Schedule{
		ID:        schedule.ID(idArg(req)),
		Title:     req.GetString("title", ""),
		Date:      strings.TrimSpace(req.GetString("date", "")),
		Time:      strings.TrimSpace(req.GetString("time", "")),
		Location:  req.GetString("location", ""),
		Priority:  schedule.Priority(strings.ToLower(strings.TrimSpace(req.GetString("priority", "")))),
		Reminder:  schedule.Reminder(strings.TrimSpace(req.GetString("reminder", string(schedule.ReminderNone)))),
		Completed: req.GetBool("completed", false),
	}
	if err := sc.Validate(); err != nil {
		return schedule.Schedule{}, err
	}
	return sc, nil
}

// idArg accepts the id as a string or a number.
func idArg(req mcp.CallToolRequest) string {
	if v := strings.TrimSpace(req.GetString("id", "")); v != "" {
		return v
	}
	if f := req.GetFloat("id", -1); f >= 0 {
		return strconv.FormatInt(int64(f), 10)
	}
	return ""
}

type resultView struct {
	ScheduleID string `json:"scheduleId"`
	Scheduled  bool   `json:"scheduled"`
	FireAt     string `json:"fireAt,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func viewResult(r reminder.Result) resultView {
	v := resultView{ScheduleID: string(r.ScheduleID), Scheduled: r.Scheduled, Reason: r.Reason}
	if !r.FireAt.IsZero() {
		v.FireAt = r.FireAt.Format(time.RFC3339)
	}
	return v
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func (s *Server) handleSetReminder(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sc, err := scheduleFromRequest(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid schedule: %v", err)), nil
	}
	return jsonResult(viewResult(s.rem.SetReminder(sc))), nil
}

func (s *Server) handleUpdateReminder(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sc, err := scheduleFromRequest(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid schedule: %v", err)), nil
	}
	return jsonResult(viewResult(s.rem.UpdateReminder(sc))), nil
}

func (s *Server) handleClearReminder(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := idArg(req)
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	if !s.rem.ClearReminder(schedule.ID(id)) {
		return mcp.NewToolResultText(fmt.Sprintf("No pending reminder for schedule %s.", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Reminder for schedule %s cleared.", id)), nil
}

func (s *Server) handleClearAll(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n := s.rem.ClearAllReminders()
	return mcp.NewToolResultText(fmt.Sprintf("Cleared %d reminder(s).", n)), nil
}

// maxUpcomingHours is one leap year.
const maxUpcomingHours = 366 * 24

func (s *Server) handleUpcoming(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hours := req.GetFloat("hours", 24)
	if !(hours > 0) {
		return mcp.NewToolResultError("hours must be positive"), nil
	}
	if hours > maxUpcomingHours {
		return mcp.NewToolResultError(fmt.Sprintf("hours must be at most %d", maxUpcomingHours)), nil
	}
	list := s.rem.UpcomingReminders(time.Duration(hours * float64(time.Hour)))
	if len(list) == 0 {
		return mcp.NewToolResultText("No upcoming reminders."), nil
	}
	return jsonResult(list), nil
}

func (s *Server) handleReminderTime(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sc, err := scheduleFromRequest(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid schedule: %v", err)), nil
	}
	at, ok := s.rem.CalculateReminderTime(sc)
	if !ok {
		return mcp.NewToolResultError("schedule has no computable reminder time"), nil
	}
	return mcp.NewToolResultText(at.Format(time.RFC3339)), nil
}

func (s *Server) handleReminderText(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := reminder.ReminderText(schedule.Reminder(strings.TrimSpace(req.GetString("reminder", ""))))
	if text == "" {
		return mcp.NewToolResultError("unknown lead time"), nil
	}
	return mcp.NewToolResultText(text), nil
}
