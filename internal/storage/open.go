package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"notibridge/pkg/logx"
)

// Store is the minimal persistence API used by the app.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
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

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// keepCutoff returns the oldest timestamp to retain, or zero if pruning is
// disabled.
func keepCutoff(cfg Config) time.Time {
	if cfg.KeepDays <= 0 {
		return time.Time{}
	}
	return time.Now().AddDate(0, 0, -cfg.KeepDays)
}
