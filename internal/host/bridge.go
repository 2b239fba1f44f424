package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"notibridge/pkg/logx"
)

// Bridge is the production Env: a newline-delimited JSON frame client over a
// single duplex connection to the browser-side companion.
//
// Frame shapes:
//
//	request:  {"seq":N,"op":"show","data":{...}}
//	response: {"ack":N,"ok":true,"data":{...}} | {"ack":N,"ok":false,"error":"..."}
//	event:    {"event":"signal","data":{"id":3,"kind":"click"}}
//	          {"event":"worker","data":{"body":"..."}}
//
// Requests are answered in any order; events arrive unsolicited. One reader
// goroutine routes everything.
type Bridge struct {
	conn io.ReadWriteCloser
	log  logx.Logger

	// callTimeout bounds a single round trip when the caller's ctx has no
	// earlier deadline.
	callTimeout time.Duration

	encMu sync.Mutex
	enc   *json.Encoder

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]chan frame
	records map[int64]*Record
	reg     *workerRegistration
	origin  string
	err     error
	closed  chan struct{}
}

type frame struct {
	Seq   uint64          `json:"seq,omitempty"`
	Op    string          `json:"op,omitempty"`
	Ack   uint64          `json:"ack,omitempty"`
	OK    bool            `json:"ok,omitempty"`
	Error string          `json:"error,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type signalEvent struct {
	ID   int64      `json:"id"`
	Kind SignalKind `json:"kind"`
	Err  string     `json:"error,omitempty"`
}

type workerEvent struct {
	Body json.RawMessage `json:"body"`
}

type showResult struct {
	ID int64 `json:"id"`
}

const defaultCallTimeout = 10 * time.Second

// NewBridge attaches to an already-established companion connection and
// performs the initial handshake (origin exchange).
func NewBridge(ctx context.Context, conn io.ReadWriteCloser, log logx.Logger) (*Bridge, error) {
	b := &Bridge{
		conn:        conn,
		log:         log,
		callTimeout: defaultCallTimeout,
		enc:         json.NewEncoder(conn),
		pending:     map[uint64]chan frame{},
		records:     map[int64]*Record{},
		closed:      make(chan struct{}),
	}
	go b.readLoop()

	var hello struct {
		Origin string `json:"origin"`
	}
	if err := b.call(ctx, "hello", nil, &hello); err != nil {
		_ = b.Shutdown()
		return nil, fmt.Errorf("host: handshake: %w", err)
	}
	b.mu.Lock()
	b.origin = hello.Origin
	b.mu.Unlock()
	b.log.Debug("bridge attached", logx.String("origin", hello.Origin))
	return b, nil
}

// Shutdown tears the connection down. Pending calls fail with ErrBridgeClosed.
func (b *Bridge) Shutdown() error {
	b.fail(ErrBridgeClosed)
	return b.conn.Close()
}

// Done is closed once the bridge becomes unusable.
func (b *Bridge) Done() <-chan struct{} { return b.closed }

func (b *Bridge) fail(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
		close(b.closed)
		for seq, ch := range b.pending {
			delete(b.pending, seq)
			close(ch)
		}
		// Live records will never see another signal; cancel them so the
		// dispatch core can release their registry entries.
		for id, rec := range b.records {
			delete(b.records, id)
			rec.Emit(Signal{Kind: SignalCancel})
		}
	}
	b.mu.Unlock()
}

func (b *Bridge) readLoop() {
	dec := json.NewDecoder(b.conn)
	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			if !errors.Is(err, io.EOF) {
				b.log.Warn("bridge read failed", logx.Err(err))
			}
			b.fail(ErrBridgeClosed)
			return
		}
		switch {
		case f.Ack != 0:
			b.mu.Lock()
			ch := b.pending[f.Ack]
			delete(b.pending, f.Ack)
			b.mu.Unlock()
			if ch != nil {
				ch <- f
			}
		case f.Event != "":
			b.handleEvent(f)
		default:
			b.log.Debug("bridge frame ignored", logx.String("op", f.Op))
		}
	}
}

func (b *Bridge) handleEvent(f frame) {
	switch f.Event {
	case "signal":
		var ev signalEvent
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			b.log.Warn("bad signal event", logx.Err(err))
			return
		}
		b.mu.Lock()
		rec := b.records[ev.ID]
		if ev.Kind == SignalClose || ev.Kind == SignalCancel {
			delete(b.records, ev.ID)
		}
		b.mu.Unlock()
		if rec != nil {
			rec.Emit(Signal{Kind: ev.Kind, Err: ev.Err})
		}
	case "worker":
		var ev workerEvent
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			b.log.Warn("bad worker event", logx.Err(err))
			return
		}
		b.mu.Lock()
		reg := b.reg
		b.mu.Unlock()
		if reg != nil {
			reg.deliver([]byte(ev.Body))
		}
	}
}

// call performs one request/response round trip.
func (b *Bridge) call(ctx context.Context, op string, in any, out any) error {
	b.mu.Lock()
	if b.err != nil {
		err := b.err
		b.mu.Unlock()
		return err
	}
	b.seq++
	seq := b.seq
	ch := make(chan frame, 1)
	b.pending[seq] = ch
	b.mu.Unlock()

	var data json.RawMessage
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		data = raw
	}

	b.encMu.Lock()
	err := b.enc.Encode(frame{Seq: seq, Op: op, Data: data})
	b.encMu.Unlock()
	if err != nil {
		b.mu.Lock()
		delete(b.pending, seq)
		b.mu.Unlock()
		b.fail(ErrBridgeClosed)
		return ErrBridgeClosed
	}

	if _, ok := ctx.Deadline(); !ok && b.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
	}

	select {
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, seq)
		b.mu.Unlock()
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return ErrBridgeClosed
		}
		if !resp.OK {
			if resp.Error == "" {
				resp.Error = "unspecified host error"
			}
			return errors.New(resp.Error)
		}
		if out != nil && len(resp.Data) > 0 {
			return json.Unmarshal(resp.Data, out)
		}
		return nil
	}
}

// ---- Env ----

func (b *Bridge) Origin() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.origin
}

// Has re-probes the live context on every call. Any transport trouble reads
// as "not supported"; probes never fail loudly.
func (b *Bridge) Has(c Capability) bool {
	var res struct {
		Supported bool `json:"supported"`
	}
	if err := b.call(context.Background(), "probe", map[string]any{"capability": c}, &res); err != nil {
		return false
	}
	return res.Supported
}

func (b *Bridge) Permission() Permission {
	var res struct {
		State Permission `json:"state"`
	}
	if err := b.call(context.Background(), "permission", nil, &res); err != nil {
		return PermissionDefault
	}
	return res.State
}

func (b *Bridge) RequestPermission(ctx context.Context) (Permission, error) {
	var res struct {
		State Permission `json:"state"`
	}
	// The prompt waits on the user; don't cap it with the short call timeout.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
	}
	if err := b.call(ctx, "request-permission", nil, &res); err != nil {
		return PermissionDefault, err
	}
	return res.State, nil
}

func (b *Bridge) Show(ctx context.Context, c Capability, n Note) (*Record, error) {
	var res showResult
	req := struct {
		Capability Capability `json:"capability"`
		Note       Note       `json:"note"`
	}{c, n}
	if err := b.call(ctx, "show", req, &res); err != nil {
		return nil, err
	}
	rec := NewRecord(c, res.ID, n)
	b.mu.Lock()
	b.records[res.ID] = rec
	b.mu.Unlock()
	return rec, nil
}

func (b *Bridge) Close(rec *Record) error {
	if rec == nil || rec.NativeID < 0 {
		return nil
	}
	return b.call(context.Background(), "close", map[string]any{"id": rec.NativeID}, nil)
}

func (b *Bridge) ServiceWorker() Worker {
	if !b.Has(CapServiceWorker) {
		return nil
	}
	return &bridgeWorker{b: b}
}

// ---- service worker container ----

type bridgeWorker struct{ b *Bridge }

func (w *bridgeWorker) Register(ctx context.Context, script string) (Registration, error) {
	if err := w.b.call(ctx, "sw.register", map[string]any{"script": script}, nil); err != nil {
		return nil, err
	}
	w.b.mu.Lock()
	defer w.b.mu.Unlock()
	if w.b.reg == nil || w.b.reg.script != script {
		w.b.reg = &workerRegistration{b: w.b, script: script, messages: make(chan []byte, 64)}
	}
	return w.b.reg, nil
}

type workerRegistration struct {
	b        *Bridge
	script   string
	messages chan []byte
}

func (r *workerRegistration) Ready(ctx context.Context) error {
	return r.b.call(ctx, "sw.ready", nil, nil)
}

func (r *workerRegistration) Show(ctx context.Context, payload map[string]any) error {
	return r.b.call(ctx, "sw.show", payload, nil)
}

func (r *workerRegistration) Notifications(ctx context.Context) ([]Note, error) {
	var res struct {
		Notifications []Note `json:"notifications"`
	}
	if err := r.b.call(ctx, "sw.list", nil, &res); err != nil {
		return nil, err
	}
	return res.Notifications, nil
}

func (r *workerRegistration) PostMessage(ctx context.Context, body []byte) error {
	return r.b.call(ctx, "sw.post", map[string]any{"body": string(body)}, nil)
}

func (r *workerRegistration) Messages() <-chan []byte { return r.messages }

func (r *workerRegistration) deliver(body []byte) {
	select {
	case r.messages <- body:
	default:
		// Slow consumer; drop the oldest so close actions stay timely.
		select {
		case <-r.messages:
		default:
		}
		select {
		case r.messages <- body:
		default:
		}
	}
}
