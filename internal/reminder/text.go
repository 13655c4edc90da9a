package reminder

import (
	"strings"

	"homesched/internal/schedule"
)

var leadPhrases = map[string]string{
	"0":  "imminently",
	"5":  "in 5 minutes",
	"15": "in 15 minutes",
	"30": "in 30 minutes",
	"60": "in 1 hour",
}

// ReminderText maps a lead time to its phrase. Offsets outside the picker
// set map to "".
func ReminderText(r schedule.Reminder) string {
	return leadPhrases[strings.TrimSpace(string(r))]
}

// ReminderBody is the alert text: title, start phrase, location.
func ReminderBody(s schedule.Schedule) string {
	loc := strings.TrimSpace(s.Location)
	if loc == "" {
		loc = "none"
	}
	var b strings.Builder
	b.WriteString(s.Title)
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace("Starts " + ReminderText(s.Reminder)))
	b.WriteString("\nLocation: ")
	b.WriteString(loc)
	return b.String()
}

// NotificationBody is the one-line local notification text.
func NotificationBody(s schedule.Schedule) string {
	return strings.TrimSpace(s.Title + " starts " + ReminderText(s.Reminder))
}
