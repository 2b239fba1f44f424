// Package host abstracts the attached browser context.
//
// The dispatch core never talks to a browser directly; it goes through an
// Env, which exposes capability probes, the permission state, and the native
// notification primitives of whichever mechanisms the context actually has.
// The production Env is the JSON bridge client in bridge.go; tests use
// in-memory fakes.
package host

import (
	"context"
	"errors"
)

// Capability identifies one notification mechanism of the attached context.
type Capability string

const (
	// CapDesktop is the standard desktop Notification constructor.
	CapDesktop Capability = "desktop"
	// CapServiceWorker is service-worker mediated display (mobile Chrome).
	CapServiceWorker Capability = "serviceworker"
	// CapWebKit is the legacy webkitNotifications API.
	CapWebKit Capability = "webkit"
	// CapMozMobile is the Firefox mobile mozNotification API.
	CapMozMobile Capability = "mozmobile"
	// CapSiteMode is the IE pinned-site overlay API.
	CapSiteMode Capability = "sitemode"
)

// Permission is the notification permission state of the context.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

var (
	// ErrBridgeClosed is returned by bridge calls after the peer went away.
	ErrBridgeClosed = errors.New("host: bridge closed")
	// ErrNoWorker is returned when the context has no service worker container.
	ErrNoWorker = errors.New("host: no service worker container")
)

// Note carries the displayable fields of a notification as handed to a
// mechanism. Which fields a mechanism honors is up to the agent driving it.
type Note struct {
	Title              string `json:"title"`
	Body               string `json:"body,omitempty"`
	Icon               string `json:"icon,omitempty"`
	Tag                string `json:"tag,omitempty"`
	Vibrate            bool   `json:"vibrate,omitempty"`
	RequireInteraction bool   `json:"requireInteraction,omitempty"`
	Silent             bool   `json:"silent,omitempty"`
}

// Env is one attached browser context.
//
// Capability probes hit the live context on every call; implementations must
// not cache probe results. Probes never panic and report false on any
// transport trouble.
type Env interface {
	// Origin returns the context's origin (scheme://host[:port]).
	Origin() string

	// Has probes for one mechanism.
	Has(c Capability) bool

	// Permission returns the current notification permission state.
	Permission() Permission

	// RequestPermission prompts the user and blocks until a decision or ctx
	// expiry. Exactly one decision is returned per call.
	RequestPermission(ctx context.Context) (Permission, error)

	// Show displays a notification through the given mechanism and returns
	// the live record.
	Show(ctx context.Context, c Capability, n Note) (*Record, error)

	// Close closes a record's native notification, best effort.
	Close(rec *Record) error

	// ServiceWorker returns the worker container, or nil when the context
	// has none.
	ServiceWorker() Worker
}

// Worker is the service worker container of a context.
type Worker interface {
	// Register installs the worker script at the given path and returns the
	// registration. Registering the same script twice returns the same
	// registration.
	Register(ctx context.Context, script string) (Registration, error)
}

// Registration is one installed service worker.
type Registration interface {
	// Ready blocks until the worker is active.
	Ready(ctx context.Context) error

	// Show asks the worker to display a notification described by the wire
	// payload (see agent.WorkerPayload for the shape).
	Show(ctx context.Context, payload map[string]any) error

	// Notifications lists the currently displayed notifications of this
	// registration, oldest first.
	Notifications(ctx context.Context) ([]Note, error)

	// PostMessage sends an opaque message to the active worker. An empty
	// body is legal and is used by the worker to identify its client.
	PostMessage(ctx context.Context, body []byte) error

	// Messages yields raw message bodies sent by the worker. Slow consumers
	// may lose messages; the channel is never closed while the registration
	// is usable.
	Messages() <-chan []byte
}
