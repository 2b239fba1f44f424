package notify

import (
	"sync"

	"notibridge/internal/agent"
	"notibridge/internal/host"
)

// entry is one live notification: the native record plus the agent that
// produced it (needed for closure) and the caller's close callback.
type entry struct {
	id      int64
	rec     *host.Record
	ag      agent.Agent
	onClose func()
}

// registry is the exclusive-owner table of live notifications.
//
// Invariants: ids increment from 0 and are never reused, even after removal;
// enumeration follows insertion order; removal is idempotent. Only the
// dispatcher touches it.
type registry struct {
	mu      sync.Mutex
	next    int64
	order   []int64
	entries map[int64]*entry
}

func newRegistry() *registry {
	return &registry{entries: map[int64]*entry{}}
}

// alloc reserves the next id. Reserved ids are consumed even when the
// creation they were reserved for fails; gaps are fine, reuse is not.
func (r *registry) alloc() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	return id
}

func (r *registry) put(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[e.id]; dup {
		return
	}
	r.entries[e.id] = e
	r.order = append(r.order, e.id)
}

func (r *registry) get(id int64) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id]
}

// take removes and returns the entry, or nil if it is already gone. This is
// the idempotence point: every closure path funnels through here, and only
// one caller per id ever gets the entry back.
func (r *registry) take(id int64) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil
	}
	delete(r.entries, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return e
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// firstByTag returns the oldest entry with the given tag. Later entries with
// the same tag are untouched ("first match wins").
func (r *registry) firstByTag(tag string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		if e := r.entries[id]; e != nil && e.rec != nil && e.rec.Tag == tag {
			return e
		}
	}
	return nil
}

// snapshot copies the live entries in insertion order.
func (r *registry) snapshot() []*entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entry, 0, len(r.order))
	for _, id := range r.order {
		if e := r.entries[id]; e != nil {
			out = append(out, e)
		}
	}
	return out
}
