// Package config loads and watches the daemon configuration. The on-disk
// format is strict JSON; YAML files are coerced to JSON first so both formats
// share one decoder (and its unknown-field rejection).
package config

import "encoding/json"

type Config struct {
	Bridge  BridgeConfig  `json:"bridge"`
	Logging LoggingConfig `json:"logging"`

	// Notify configures the dispatch core.
	Notify NotifyConfig `json:"notify"`

	// Storage controls the optional lifecycle history store.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Schedules declares cron-driven notifications.
	Schedules []ScheduleConfig `json:"schedules,omitempty"`

	Plugins map[string]PluginConfigRaw `json:"plugins,omitempty"`
}

// BridgeConfig locates the browser-side companion endpoint.
type BridgeConfig struct {
	// Addr is "unix:///path/to.sock" or "tcp://host:port".
	Addr string `json:"addr"`

	// DialTimeout is a Go duration string; empty means "10s".
	DialTimeout string `json:"dial_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// NotifyConfig controls the dispatch core.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifyConfig struct {
	// ServiceWorker is the worker script path used by the deferred creation
	// path. Empty keeps the built-in default.
	ServiceWorker string `json:"service_worker,omitempty"`

	// RatePerSec caps notification creations per second; 0 disables the cap.
	RatePerSec int `json:"rate_per_sec,omitempty"`

	// DefaultTimeout autocloses notifications that carry no explicit
	// timeout. "0s" or empty disables it.
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

// StorageConfig controls the lifecycle history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./notibridge.db" }
type StorageConfig struct {
	// Driver is "none" (or empty), "file" or "sqlite".
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`

	// BusyTimeout is a Go duration string, sqlite only.
	BusyTimeout string `json:"busy_timeout,omitempty"`

	// KeepDays prunes history entries older than this many days; 0 keeps
	// everything.
	KeepDays int `json:"keep_days,omitempty"`
}

// ScheduleConfig is one cron-driven notification.
type ScheduleConfig struct {
	Name string `json:"name"`

	// Spec is a cron expression ("*/5 * * * *") or a descriptor
	// ("@hourly", "@every 10m").
	Spec string `json:"spec"`

	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
	Icon  string `json:"icon,omitempty"`
	Tag   string `json:"tag,omitempty"`
	Link  string `json:"link,omitempty"`

	// Timeout autocloses the fired notification, Go duration string.
	Timeout string `json:"timeout,omitempty"`
}

// PluginConfigRaw defers per-plugin decoding to the plugin itself.
type PluginConfigRaw struct {
	Enabled bool            `json:"enabled"`
	Options json.RawMessage `json:"options,omitempty"`
}
