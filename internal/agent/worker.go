package agent

import (
	"context"
	"fmt"

	"notibridge/internal/host"
	"notibridge/pkg/logx"
)

// errPrefix is the fixed prefix carried by every failure surfaced from the
// service-worker round trip, followed by the underlying error text.
const errPrefix = "service worker"

// DefaultWorkerScript is used when no script path has been configured.
const DefaultWorkerScript = "/serviceWorker.min.js"

// ServiceWorker is the deferred agent for service-worker mediated display
// (mobile Chrome). Creation is a multi-step round trip: register the worker
// script, wait for it to become ready, ask it to display, enumerate what is
// on screen, then ping the worker so it can identify its client channel.
type ServiceWorker struct {
	env host.Env
	// script returns the currently configured worker script path; it is read
	// once per creation so config updates apply to subsequent creates only.
	script func() string
	log    logx.Logger
}

func NewServiceWorker(env host.Env, script func() string, log logx.Logger) *ServiceWorker {
	return &ServiceWorker{env: env, script: script, log: log}
}

func (a *ServiceWorker) Name() string { return "serviceworker" }

func (a *ServiceWorker) Supported() bool { return a.env.Has(host.CapServiceWorker) }

// Create drives the asynchronous protocol. Failures are not absorbed here;
// they carry the fixed prefix and propagate to whoever invoked the creation.
func (a *ServiceWorker) Create(ctx context.Context, req Request, shown ShownFunc) error {
	w := a.env.ServiceWorker()
	if w == nil {
		return fmt.Errorf("%s: %w", errPrefix, host.ErrNoWorker)
	}

	script := a.script()
	if script == "" {
		script = DefaultWorkerScript
	}

	reg, err := w.Register(ctx, script)
	if err != nil {
		return fmt.Errorf("%s: %v", errPrefix, err)
	}
	if err := reg.Ready(ctx); err != nil {
		return fmt.Errorf("%s: %v", errPrefix, err)
	}

	payload := map[string]any{
		"note": req.Note,
		"data": WirePayload(req, a.env.Origin()),
	}
	if err := reg.Show(ctx, payload); err != nil {
		return fmt.Errorf("%s: %v", errPrefix, err)
	}

	list, err := reg.Notifications(ctx)
	if err != nil {
		return fmt.Errorf("%s: %v", errPrefix, err)
	}
	if err := shown(reg, list); err != nil {
		return err
	}

	// Empty message so the worker can identify its client channel. Display
	// already succeeded; a lost ping only degrades close signaling.
	if err := reg.PostMessage(ctx, nil); err != nil {
		a.log.Warn("worker client ping failed", logx.Err(err))
	}
	return nil
}

// Close is a no-op: a worker-displayed notification cannot be closed from
// this side.
func (a *ServiceWorker) Close(*host.Record) error { return nil }

// WirePayload assembles the serializable message body handed to the worker:
// id, link, origin and the script bodies for the click/close hooks, merged
// with caller-supplied data (caller entries win on collision).
func WirePayload(req Request, origin string) map[string]any {
	p := map[string]any{
		"id":      req.ID,
		"origin":  origin,
		"onClick": req.ClickScript,
		"onClose": req.CloseScript,
	}
	if req.Link != "" {
		p["link"] = req.Link
	}
	for k, v := range req.Data {
		p[k] = v
	}
	return p
}
