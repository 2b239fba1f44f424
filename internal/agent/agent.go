// Package agent holds the capability adapters, one per notification
// mechanism of the attached context. Agents are stateless per call: every
// Supported() probe hits the live context, and create/close translate one
// request into that mechanism's primitives. Selection order and registry
// bookkeeping live in the dispatch core, not here.
package agent

import (
	"context"

	"notibridge/internal/host"
)

// Agent is the contract shared by all five adapters.
type Agent interface {
	// Name identifies the agent in logs and lifecycle events.
	Name() string

	// Supported probes the context for this agent's mechanism. It re-probes
	// on every call and never panics.
	Supported() bool

	// Close closes a record's native notification. Mechanisms that cannot
	// close programmatically treat this as a successful no-op.
	Close(rec *host.Record) error
}

// Direct is an agent whose creation protocol is synchronous: the native
// record comes back from the same call that displayed it.
type Direct interface {
	Agent
	Create(ctx context.Context, n host.Note) (*host.Record, error)
}

// Deferred is an agent whose creation protocol is asynchronous. Create never
// returns a record; it drives the mechanism's round trip and hands the
// resulting notification list (plus the worker registration it came from) to
// the shown callback exactly once on success.
type Deferred interface {
	Agent
	Create(ctx context.Context, req Request, shown ShownFunc) error
}

// ShownFunc receives the currently-displayed notifications after a deferred
// creation succeeds, oldest first. The just-created notification is the last
// entry.
type ShownFunc func(reg host.Registration, shown []host.Note) error

// Request carries everything a deferred creation needs to cross the worker
// boundary.
type Request struct {
	// ID is the registry id reserved for this notification. The worker echoes
	// it back in close actions.
	ID int64

	Note host.Note

	// Link is opened when the user activates the notification.
	Link string

	// ClickScript and CloseScript are script bodies executed worker-side on
	// the corresponding events. Function values cannot cross the worker
	// boundary, so callers hand over source text explicitly (or leave these
	// empty).
	ClickScript string
	CloseScript string

	// Data is merged into the wire payload; caller entries win on collision.
	Data map[string]any
}
