package notify

import "time"

// Lifecycle event types published on the bus.
const (
	EventCreated = "notify.created"
	EventShown   = "notify.shown"
	EventClicked = "notify.clicked"
	EventClosed  = "notify.closed"
	EventFailed  = "notify.failed"
)

// NotificationEvent is the bus payload for every lifecycle event.
type NotificationEvent struct {
	ID    int64     `json:"id"`
	Tag   string    `json:"tag,omitempty"`
	Title string    `json:"title"`
	Agent string    `json:"agent"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}
