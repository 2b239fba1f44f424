package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"notibridge/internal/agent"
	"notibridge/internal/eventbus"
	"notibridge/internal/host"
	"notibridge/pkg/logx"
)

// Dispatcher owns the registry and the fixed agent priority order. It is safe
// for concurrent use; agents never touch the registry themselves.
type Dispatcher struct {
	log  logx.Logger
	bus  *eventbus.Bus
	gate Gate

	reg *registry

	// agents in priority order: desktop, serviceworker, webkit, mozmobile,
	// sitemode. Fixed at construction.
	agents []agent.Agent
	worker *agent.ServiceWorker

	mu       sync.Mutex
	settings Settings
	limiter  *rate.Limiter

	pumpMu sync.Mutex
	pumps  map[host.Registration]struct{}
}

// Option customizes a Dispatcher at construction.
type Option func(*Dispatcher)

func WithLogger(log logx.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

func WithBus(bus *eventbus.Bus) Option {
	return func(d *Dispatcher) { d.bus = bus }
}

// WithGate replaces the default environment-backed permission gate.
func WithGate(g Gate) Option {
	return func(d *Dispatcher) { d.gate = g }
}

// WithRateLimit caps creations per second. Zero or negative leaves creation
// unthrottled.
func WithRateLimit(perSec int) Option {
	return func(d *Dispatcher) { d.setRateLimit(perSec) }
}

// New builds a dispatcher over the given context. The agent set is fixed
// here and not reconfigurable at runtime.
func New(env host.Env, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:   logx.Nop(),
		reg:   newRegistry(),
		pumps: map[host.Registration]struct{}{},
	}
	for _, o := range opts {
		o(d)
	}
	if d.gate == nil {
		d.gate = NewEnvGate(env)
	}

	d.worker = agent.NewServiceWorker(env, func() string { return d.Settings().ServiceWorker }, d.log)
	d.agents = []agent.Agent{
		agent.NewDesktop(env),
		d.worker,
		agent.NewWebKit(env),
		agent.NewMozMobile(env),
		agent.NewSiteMode(env),
	}
	return d
}

// Configure merges new settings over the current ones. Only fields that are
// explicitly set overwrite; the merge is shallow and last write wins.
func (d *Dispatcher) Configure(s Settings) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s.ServiceWorker != "" {
		d.settings.ServiceWorker = s.ServiceWorker
	}
	if s.DefaultTimeout > 0 {
		d.settings.DefaultTimeout = s.DefaultTimeout
	}
}

// Settings returns a snapshot of the current settings.
func (d *Dispatcher) Settings() Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// SetRateLimit reconfigures the creation throttle at runtime; 0 disables it.
func (d *Dispatcher) SetRateLimit(perSec int) { d.setRateLimit(perSec) }

func (d *Dispatcher) setRateLimit(perSec int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if perSec <= 0 {
		d.limiter = nil
		return
	}
	d.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
}

func (d *Dispatcher) limiterRef() *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.limiter
}

// Supported reports whether at least one agent can serve the context.
func (d *Dispatcher) Supported() bool {
	for _, ag := range d.agents {
		if ag.Supported() {
			return true
		}
	}
	return false
}

// Count returns the number of currently registered (open) notifications.
func (d *Dispatcher) Count() int { return d.reg.count() }

// Create displays a notification and returns its handle.
//
// The call resolves exactly once: either with a usable handle, with an inert
// handle when the chosen agent produced nothing (graceful degradation), or
// with an error (invalid title, declined permission, no supported agent, or
// an agent failure). A declined or failed permission request leaves no
// registry state behind.
func (d *Dispatcher) Create(ctx context.Context, title string, opts Options) (*Handle, error) {
	if strings.TrimSpace(title) == "" {
		return nil, ErrInvalidTitle
	}

	if !d.gate.Granted() {
		granted, err := d.gate.Request(ctx)
		if err != nil {
			return nil, fmt.Errorf("notify: permission request: %w", err)
		}
		if !granted {
			return nil, ErrPermissionDenied
		}
	}

	if lim := d.limiterRef(); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, err
		}
	}

	note := host.Note{
		Title:              title,
		Body:               opts.Body,
		Icon:               opts.Icon,
		Tag:                opts.Tag,
		Vibrate:            opts.Vibrate,
		RequireInteraction: opts.RequireInteraction,
		Silent:             opts.Silent,
	}

	var chosen agent.Agent
	for _, ag := range d.agents {
		if ag.Supported() {
			chosen = ag
			break
		}
	}
	if chosen == nil {
		return nil, ErrUnknownInterface
	}

	if opts.Timeout <= 0 {
		opts.Timeout = d.Settings().DefaultTimeout
	}

	id := d.reg.alloc()

	h, err := d.createWith(ctx, chosen, id, note, opts)
	if err != nil && chosen == d.agents[0] {
		// A desktop creation failure is the one absorbed partial failure:
		// retry through the service-worker path instead of failing outright.
		d.log.Debug("desktop create failed; retrying via service worker",
			logx.Int64("id", id), logx.Err(err))
		h, err = d.createWith(ctx, d.worker, id, note, opts)
	}
	if err != nil {
		d.publish(EventFailed, id, chosen.Name(), note, err.Error())
		return nil, err
	}
	return h, nil
}

func (d *Dispatcher) createWith(ctx context.Context, ag agent.Agent, id int64, note host.Note, opts Options) (*Handle, error) {
	switch a := ag.(type) {
	case agent.Deferred:
		return d.createDeferred(ctx, a, id, note, opts)
	case agent.Direct:
		return d.createDirect(ctx, a, id, note, opts)
	default:
		return nil, ErrUnknownInterface
	}
}

func (d *Dispatcher) createDirect(ctx context.Context, a agent.Direct, id int64, note host.Note, opts Options) (*Handle, error) {
	rec, err := a.Create(ctx, note)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		// Mechanism accepted the request but produced nothing to track.
		return &Handle{d: d}, nil
	}

	e := &entry{id: id, rec: rec, ag: a, onClose: opts.OnClose}
	d.reg.put(e)
	h := &Handle{d: d, id: id, ok: true}

	// The entry is registered before the signal pump starts, so no listener
	// can observe a notification the registry does not know about.
	go d.pumpSignals(e, a.Name(), opts)

	d.scheduleAutoclose(h, opts.Timeout)
	d.publish(EventCreated, id, a.Name(), note, "")
	return h, nil
}

func (d *Dispatcher) createDeferred(ctx context.Context, a agent.Deferred, id int64, note host.Note, opts Options) (*Handle, error) {
	req := agent.Request{
		ID:          id,
		Note:        note,
		Link:        opts.Link,
		ClickScript: opts.ClickScript,
		CloseScript: opts.CloseScript,
		Data:        opts.Data,
	}

	h := &Handle{d: d}
	err := a.Create(ctx, req, func(reg host.Registration, shown []host.Note) error {
		if len(shown) == 0 {
			return nil
		}
		// The freshly displayed notification is the last entry of the list.
		last := shown[len(shown)-1]
		rec := host.NewRecord(host.CapServiceWorker, -1, last)
		d.reg.put(&entry{id: id, rec: rec, ag: a, onClose: opts.OnClose})
		d.ensureWorkerPump(reg)
		h = &Handle{d: d, id: id, ok: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.scheduleAutoclose(h, opts.Timeout)
	if h.ok {
		d.publish(EventCreated, id, a.Name(), note, "")
	}
	return h, nil
}

func (d *Dispatcher) scheduleAutoclose(h *Handle, timeout time.Duration) {
	if timeout <= 0 || h == nil || !h.ok {
		return
	}
	time.AfterFunc(timeout, func() { h.Close() })
}

// pumpSignals translates one record's native signals into caller callbacks
// and, on close/cancel, performs the single authoritative registry removal
// for native events.
func (d *Dispatcher) pumpSignals(e *entry, agentName string, opts Options) {
	for sig := range e.rec.Signals() {
		switch sig.Kind {
		case host.SignalShow:
			d.publish(EventShown, e.id, agentName, noteOf(e.rec), "")
			if opts.OnShow != nil {
				opts.OnShow()
			}
		case host.SignalError:
			d.publish(EventFailed, e.id, agentName, noteOf(e.rec), sig.Err)
			if opts.OnError != nil {
				opts.OnError(fmt.Errorf("notify: native error: %s", sig.Err))
			}
		case host.SignalClick:
			d.publish(EventClicked, e.id, agentName, noteOf(e.rec), "")
			if opts.OnClick != nil {
				opts.OnClick()
			}
		case host.SignalClose, host.SignalCancel:
			if taken := d.reg.take(e.id); taken != nil {
				d.publish(EventClosed, e.id, agentName, noteOf(e.rec), "")
				if taken.onClose != nil {
					taken.onClose()
				}
			}
			return
		}
	}
}

type workerMessage struct {
	Action string `json:"action"`
	ID     int64  `json:"id"`
}

// ensureWorkerPump starts exactly one message listener per worker
// registration. The listener releases registry entries when the worker
// signals a close action with a matching id; every other action is ignored.
func (d *Dispatcher) ensureWorkerPump(reg host.Registration) {
	d.pumpMu.Lock()
	if _, running := d.pumps[reg]; running {
		d.pumpMu.Unlock()
		return
	}
	d.pumps[reg] = struct{}{}
	d.pumpMu.Unlock()

	go func() {
		for body := range reg.Messages() {
			var msg workerMessage
			if err := json.Unmarshal(body, &msg); err != nil {
				d.log.Debug("unparsable worker message", logx.Err(err))
				continue
			}
			if msg.Action != "close" {
				continue
			}
			if taken := d.reg.take(msg.ID); taken != nil {
				d.publish(EventClosed, msg.ID, d.worker.Name(), noteOf(taken.rec), "")
				if taken.onClose != nil {
					taken.onClose()
				}
			}
		}
	}()
}

// closeID closes one registered notification through its agent. The entry
// stays registered when the agent refuses closure (the notification is still
// on screen); it reports false then, and also for ids already gone.
func (d *Dispatcher) closeID(id int64) bool {
	e := d.reg.get(id)
	if e == nil {
		return false
	}
	if err := e.ag.Close(e.rec); err != nil {
		d.log.Warn("close refused", logx.Int64("id", id), logx.Err(err))
		return false
	}
	taken := d.reg.take(id)
	if taken == nil {
		// A native close event won the race; that path already ran the
		// callback and published the event.
		return false
	}
	d.publish(EventClosed, id, e.ag.Name(), noteOf(e.rec), "")
	if taken.onClose != nil {
		taken.onClose()
	}
	return true
}

// Close closes the first registered notification carrying the tag, in
// insertion order. At most one notification is affected even when several
// share the tag. It reports false when nothing matches.
func (d *Dispatcher) Close(tag string) bool {
	e := d.reg.firstByTag(tag)
	if e == nil {
		return false
	}
	return d.closeID(e.id)
}

// Clear closes every registered notification. It reports true only when
// every individual closure succeeded; a refusal flips the result to false
// but the remaining closures still proceed.
func (d *Dispatcher) Clear() bool {
	ok := true
	for _, e := range d.reg.snapshot() {
		if d.reg.get(e.id) == nil {
			// Closed concurrently by a native event; nothing left to do.
			continue
		}
		if !d.closeID(e.id) {
			ok = false
		}
	}
	return ok
}

func noteOf(rec *host.Record) host.Note {
	if rec == nil {
		return host.Note{}
	}
	return host.Note{Title: rec.Title, Body: rec.Body, Icon: rec.Icon, Tag: rec.Tag}
}

func (d *Dispatcher) publish(typ string, id int64, agentName string, n host.Note, errText string) {
	if d.bus == nil {
		return
	}
	now := time.Now()
	d.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: NotificationEvent{
		ID:    id,
		Tag:   n.Tag,
		Title: n.Title,
		Agent: agentName,
		At:    now,
		Error: errText,
	}})
}
