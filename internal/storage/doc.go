// Package storage persists what homesched must remember across restarts:
// the history of fired reminders and notifier dedup windows.
//
// Pending reminders are never stored; they are rebuilt from the schedule
// feed on startup.
package storage
