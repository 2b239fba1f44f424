package notify

import "notibridge/internal/host"

// Handle is the opaque caller-visible wrapper over one registry entry. It is
// created once per successful creation and never mutated; once its entry
// leaves the registry the handle stays valid but inert (Get returns nil,
// Close reports false).
//
// Creations that produce no notification at all resolve with an inert handle
// rather than an error; check Live() or Get() to tell the two apart.
type Handle struct {
	d  *Dispatcher
	id int64
	ok bool
}

// ID returns the registry id, or -1 for an inert handle.
func (h *Handle) ID() int64 {
	if h == nil || !h.ok {
		return -1
	}
	return h.id
}

// Live reports whether the handle still backs a registered notification.
func (h *Handle) Live() bool {
	return h != nil && h.ok && h.d.reg.get(h.id) != nil
}

// Get returns the live notification record, or nil once it has closed.
func (h *Handle) Get() *host.Record {
	if h == nil || !h.ok {
		return nil
	}
	e := h.d.reg.get(h.id)
	if e == nil {
		return nil
	}
	return e.rec
}

// Close closes the backing notification through its agent. It reports false
// when the notification is already gone or the agent refused closure;
// closing twice is a safe no-op.
func (h *Handle) Close() bool {
	if h == nil || !h.ok {
		return false
	}
	return h.d.closeID(h.id)
}
