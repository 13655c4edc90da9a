// Package schedule holds the schedule record the reminder agent consumes,
// plus parsing of its date, time and reminder lead-time fields.
package schedule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ID identifies a schedule. The backend emits integers; the feed may carry
// either form, so both decode into the string representation.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	s, err := decodeStringish(b)
	if err != nil {
		return fmt.Errorf("schedule id: %w", err)
	}
	*id = ID(s)
	return nil
}

// Reminder selects the lead time in minutes, or None.
type Reminder string

const ReminderNone Reminder = "none"

// Offsets the app offers in its picker.
const (
	ReminderAtStart Reminder = "0"
	Reminder5m      Reminder = "5"
	Reminder15m     Reminder = "15"
	Reminder30m     Reminder = "30"
	Reminder1h      Reminder = "60"
)

func (r *Reminder) UnmarshalJSON(b []byte) error {
	s, err := decodeStringish(b)
	if err != nil {
		return fmt.Errorf("reminder: %w", err)
	}
	*r = Reminder(s)
	return nil
}

// IsNone reports whether no reminder is wanted. Empty counts as none.
func (r Reminder) IsNone() bool {
	v := strings.TrimSpace(string(r))
	return v == "" || strings.EqualFold(v, string(ReminderNone))
}

// maxLeadMinutes keeps a lead time representable as a time.Duration.
const maxLeadMinutes = math.MaxInt64 / int64(time.Minute)

// Minutes parses the lead time.
func (r Reminder) Minutes() (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(string(r)))
	if err != nil {
		return 0, fmt.Errorf("invalid reminder offset %q", string(r))
	}
	if int64(n) > maxLeadMinutes || int64(n) < -maxLeadMinutes {
		return 0, fmt.Errorf("reminder offset %q out of range", string(r))
	}
	return n, nil
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Schedule is a calendar event with an optional reminder.
type Schedule struct {
	ID          ID       `json:"id"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Date        string   `json:"date"`
	Time        string   `json:"time"`
	Location    string   `json:"location,omitempty"`
	Priority    Priority `json:"priority,omitempty"`
	Reminder    Reminder `json:"reminder,omitempty"`
	Completed   bool     `json:"completed,omitempty"`
}

var (
	dateLayouts = []string{"2006-01-02", "2006/01/02"}
	timeLayouts = []string{"15:04", "15:04:05"}
)

// StartsAt combines Date and Time in loc (time.Local when nil).
func (s Schedule) StartsAt(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	d := strings.TrimSpace(s.Date)
	tm := strings.TrimSpace(s.Time)
	for _, dl := range dateLayouts {
		for _, tl := range timeLayouts {
			if t, err := time.ParseInLocation(dl+" "+tl, d+" "+tm, loc); err == nil {
				return t, nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("schedule %s: invalid date/time %q %q", s.ID, s.Date, s.Time)
}

// EffectivePriority defaults an empty priority to medium.
func (s Schedule) EffectivePriority() Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(string(s.Priority)))) {
	case PriorityHigh:
		return PriorityHigh
	case PriorityLow:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// Validate checks the fields the backend enforces on create.
func (s Schedule) Validate() error {
	if strings.TrimSpace(string(s.ID)) == "" {
		return fmt.Errorf("schedule id required")
	}
	if _, err := s.StartsAt(time.UTC); err != nil {
		return err
	}
	if !s.Reminder.IsNone() {
		if _, err := s.Reminder.Minutes(); err != nil {
			return fmt.Errorf("schedule %s: %w", s.ID, err)
		}
	}
	switch s.Priority {
	case "", PriorityHigh, PriorityMedium, PriorityLow:
	default:
		return fmt.Errorf("schedule %s: unknown priority %q", s.ID, s.Priority)
	}
	return nil
}

func decodeStringish(b []byte) (string, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return "", nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return "", fmt.Errorf("expected string or number, got %s", string(b))
	}
	return n.String(), nil
}
