package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "homesched/pkg/logx"
)

// Store is the persistence API used by the app and the notifier.
type Store interface {
	AppendFired(ctx context.Context, r FiredRecord) error
	// RecentFired returns up to limit records, newest first.
	RecentFired(ctx context.Context, limit int) ([]FiredRecord, error)
	// PruneFired drops records fired before cutoff and reports how many.
	PruneFired(ctx context.Context, cutoff time.Time) (int, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
