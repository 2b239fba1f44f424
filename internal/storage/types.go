package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the lifecycle history store.
//
// Driver values:
//   - "file": dependency-free append-only JSON Lines file
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	KeepDays    int           // prune entries older than this; 0 keeps all
}

// Entry records one notification lifecycle event.
// Keep it compact and schema-stable.
type Entry struct {
	At    time.Time `json:"at"`
	ID    int64     `json:"id"`
	Kind  string    `json:"kind"`
	Tag   string    `json:"tag,omitempty"`
	Title string    `json:"title,omitempty"`
	Agent string    `json:"agent,omitempty"`
	Error string    `json:"error,omitempty"`
}
