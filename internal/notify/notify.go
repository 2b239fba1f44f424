// Package notify is the dispatch core: one uniform create/close/clear/count
// surface over whichever native notification mechanism the attached context
// actually has.
//
// Creation runs through a fixed agent priority order (desktop first, then the
// service-worker path, then the legacy mechanisms), gated by the context's
// notification permission. Live notifications are tracked in an exclusively
// owned registry keyed by monotonically increasing ids; callers only ever see
// opaque handles.
package notify

import (
	"time"
)

// Options are the per-creation options. All fields are optional; the title is
// passed separately because it is the one required argument.
type Options struct {
	Body string
	Icon string

	// Tag labels the notification for Dispatcher.Close(tag) lookup.
	Tag string

	Vibrate            bool
	RequireInteraction bool
	Silent             bool

	// Link is opened when the user activates a worker-displayed notification.
	Link string

	// Data is merged into the service-worker wire payload.
	Data map[string]any

	// Timeout autocloses the notification after the given delay. Zero means
	// no autoclose.
	Timeout time.Duration

	// ClickScript and CloseScript are script bodies executed worker-side on
	// the corresponding events (function values cannot cross the worker
	// boundary). They ride the wire payload verbatim.
	ClickScript string
	CloseScript string

	// Lifecycle callbacks. OnClose fires exactly once per notification no
	// matter which of the closure paths (caller, native event, timeout) wins.
	OnShow  func()
	OnError func(err error)
	OnClick func()
	OnClose func()
}

// Settings is the dispatcher's runtime configuration. Updates merge
// shallowly: only fields explicitly set overwrite the current value.
type Settings struct {
	// ServiceWorker is the worker script path used by the deferred creation
	// path. Empty keeps the current (or default) path.
	ServiceWorker string

	// DefaultTimeout autocloses notifications created without an explicit
	// timeout. Zero keeps the current value.
	DefaultTimeout time.Duration
}
