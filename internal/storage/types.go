package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines journal plus dedup snapshot next to Path
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// FiredRecord is one reminder that reached the host.
type FiredRecord struct {
	ID         string    `json:"id"`
	ScheduleID string    `json:"schedule_id"`
	Title      string    `json:"title,omitempty"`
	FireAt     time.Time `json:"fire_at"`
	FiredAt    time.Time `json:"fired_at"`
}
