package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"notibridge/internal/host"
)

// fakeEnv is an in-memory host.Env with scriptable capabilities, permission
// decisions and failure injection.
type fakeEnv struct {
	mu sync.Mutex

	origin string
	caps   map[host.Capability]bool
	perm   host.Permission

	requestResult host.Permission
	requestErr    error
	requests      int

	showErr    map[host.Capability]error
	showNil    bool
	nextNative int64
	shown      []*host.Record

	closeErrTag string
	closed      []*host.Record

	worker *fakeWorker
}

func newFakeEnv(caps ...host.Capability) *fakeEnv {
	m := map[host.Capability]bool{}
	for _, c := range caps {
		m[c] = true
	}
	return &fakeEnv{
		origin:        "https://example.test",
		caps:          m,
		perm:          host.PermissionGranted,
		requestResult: host.PermissionGranted,
		showErr:       map[host.Capability]error{},
	}
}

func (f *fakeEnv) Origin() string { return f.origin }

func (f *fakeEnv) Has(c host.Capability) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caps[c]
}

func (f *fakeEnv) Permission() host.Permission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perm
}

func (f *fakeEnv) RequestPermission(ctx context.Context) (host.Permission, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	if f.requestErr != nil {
		return host.PermissionDefault, f.requestErr
	}
	f.perm = f.requestResult
	return f.perm, nil
}

func (f *fakeEnv) Show(ctx context.Context, c host.Capability, n host.Note) (*host.Record, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.showErr[c]; err != nil {
		return nil, err
	}
	if f.showNil {
		return nil, nil
	}
	id := f.nextNative
	f.nextNative++
	rec := host.NewRecord(c, id, n)
	f.shown = append(f.shown, rec)
	return rec, nil
}

func (f *fakeEnv) Close(rec *host.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeErrTag != "" && rec != nil && rec.Tag == f.closeErrTag {
		return errors.New("close refused")
	}
	f.closed = append(f.closed, rec)
	return nil
}

func (f *fakeEnv) ServiceWorker() host.Worker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.worker == nil {
		return nil
	}
	return f.worker
}

func (f *fakeEnv) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

type fakeWorker struct {
	reg *fakeRegistration
}

func (w *fakeWorker) Register(ctx context.Context, script string) (host.Registration, error) {
	_ = ctx
	w.reg.script = script
	return w.reg, nil
}

type fakeRegistration struct {
	mu sync.Mutex

	script   string
	notes    []host.Note
	payloads []map[string]any
	posted   [][]byte
	msgs     chan []byte

	// suppressNote makes Show accept the display without it ever appearing
	// in Notifications, modelling a worker that resolves empty.
	suppressNote bool

	readyErr error
	showErr  error
	listErr  error
}

func newFakeRegistration() *fakeRegistration {
	return &fakeRegistration{msgs: make(chan []byte, 8)}
}

func (r *fakeRegistration) Ready(ctx context.Context) error {
	_ = ctx
	return r.readyErr
}

func (r *fakeRegistration) Show(ctx context.Context, payload map[string]any) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.showErr != nil {
		return r.showErr
	}
	r.payloads = append(r.payloads, payload)
	if n, ok := payload["note"].(host.Note); ok && !r.suppressNote {
		r.notes = append(r.notes, n)
	}
	return nil
}

func (r *fakeRegistration) Notifications(ctx context.Context) ([]host.Note, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	return append([]host.Note(nil), r.notes...), nil
}

func (r *fakeRegistration) PostMessage(ctx context.Context, body []byte) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posted = append(r.posted, body)
	return nil
}

func (r *fakeRegistration) Messages() <-chan []byte { return r.msgs }

func (r *fakeRegistration) lastPayload() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.payloads) == 0 {
		return nil
	}
	return r.payloads[len(r.payloads)-1]
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestCreateRejectsEmptyTitle(t *testing.T) {
	t.Parallel()
	env := newFakeEnv(host.CapDesktop)
	env.perm = host.PermissionDefault
	d := New(env)

	for _, title := range []string{"", "   ", "\t"} {
		if _, err := d.Create(context.Background(), title, Options{}); !errors.Is(err, ErrInvalidTitle) {
			t.Fatalf("Create(%q) error = %v, want ErrInvalidTitle", title, err)
		}
	}
	if got := env.requestCount(); got != 0 {
		t.Fatalf("permission requested %d times for invalid titles, want 0", got)
	}
	if d.Count() != 0 {
		t.Fatalf("Count() = %d after rejected creates, want 0", d.Count())
	}
}

func TestCreateRequestsPermissionOnce(t *testing.T) {
	t.Parallel()
	env := newFakeEnv(host.CapDesktop)
	env.perm = host.PermissionDefault
	d := New(env)

	for i := 0; i < 3; i++ {
		if _, err := d.Create(context.Background(), "hello", Options{}); err != nil {
			t.Fatalf("Create #%d error: %v", i, err)
		}
	}
	if got := env.requestCount(); got != 1 {
		t.Fatalf("permission requested %d times, want 1", got)
	}
}

func TestCreateDeniedPermission(t *testing.T) {
	t.Parallel()
	env := newFakeEnv(host.CapDesktop)
	env.perm = host.PermissionDefault
	env.requestResult = host.PermissionDenied
	d := New(env)

	if _, err := d.Create(context.Background(), "hello", Options{}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Create error = %v, want ErrPermissionDenied", err)
	}
	if d.Count() != 0 {
		t.Fatalf("Count() = %d after denied create, want 0", d.Count())
	}
	if len(env.shown) != 0 {
		t.Fatalf("%d notifications shown despite denial", len(env.shown))
	}
}

func TestCreateNoSupportedMechanism(t *testing.T) {
	t.Parallel()
	d := New(newFakeEnv())
	if _, err := d.Create(context.Background(), "hello", Options{}); !errors.Is(err, ErrUnknownInterface) {
		t.Fatalf("Create error = %v, want ErrUnknownInterface", err)
	}
	if d.Supported() {
		t.Fatal("Supported() = true with no capabilities")
	}
}

func TestIDsAscendAndCountTracksCloses(t *testing.T) {
	t.Parallel()
	env := newFakeEnv(host.CapDesktop)
	d := New(env)

	const n = 5
	handles := make([]*Handle, 0, n)
	prev := int64(-1)
	for i := 0; i < n; i++ {
		h, err := d.Create(context.Background(), "note", Options{})
		if err != nil {
			t.Fatalf("Create #%d error: %v", i, err)
		}
		if h.ID() <= prev {
			t.Fatalf("id %d not greater than previous %d", h.ID(), prev)
		}
		prev = h.ID()
		handles = append(handles, h)
	}
	if d.Count() != n {
		t.Fatalf("Count() = %d, want %d", d.Count(), n)
	}

	const m = 2
	for i := 0; i < m; i++ {
		if !handles[i].Close() {
			t.Fatalf("Close #%d = false, want true", i)
		}
	}
	if d.Count() != n-m {
		t.Fatalf("Count() = %d after %d closes, want %d", d.Count(), m, n-m)
	}
}

func TestCloseByTagFirstMatchOnly(t *testing.T) {
	t.Parallel()
	env := newFakeEnv(host.CapDesktop)
	d := New(env)

	for _, tag := range []string{"a", "b", "a"} {
		if _, err := d.Create(context.Background(), "note "+tag, Options{Tag: tag}); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}

	if !d.Close("a") {
		t.Fatal(`Close("a") = false, want true`)
	}
	if d.Count() != 2 {
		t.Fatalf("Count() = %d after one tagged close, want 2", d.Count())
	}
	if d.Close("missing") {
		t.Fatal(`Close("missing") = true, want false`)
	}
	if !d.Close("a") {
		t.Fatal(`second Close("a") = false, want true`)
	}
	if d.Close("a") {
		t.Fatal(`third Close("a") = true, want false`)
	}
}

func TestClearReportsPartialFailure(t *testing.T) {
	t.Parallel()
	env := newFakeEnv(host.CapDesktop)
	env.closeErrTag = "stuck"
	d := New(env)

	for _, tag := range []string{"x", "stuck", "y"} {
		if _, err := d.Create(context.Background(), "note", Options{Tag: tag}); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}

	if d.Clear() {
		t.Fatal("Clear() = true despite a refused closure")
	}
	// The refused notification is still on screen and stays registered.
	if d.Count() != 1 {
		t.Fatalf("Count() = %d after Clear, want 1", d.Count())
	}
}

func TestHandleCloseIdempotent(t *testing.T) {
	t.Parallel()
	env := newFakeEnv(host.CapDesktop)
	d := New(env)

	h, err := d.Create(context.Background(), "note", Options{})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if !h.Close() {
		t.Fatal("first Close() = false, want true")
	}
	if h.Close() {
		t.Fatal("second Close() = true, want false")
	}
	if h.Live() {
		t.Fatal("Live() = true after close")
	}
	if h.Get() != nil {
		t.Fatal("Get() != nil after close")
	}
}

func TestOnCloseFiresOnceAcrossRacingPaths(t *testing.T) {
	t.Parallel()
	env := newFakeEnv(host.CapDesktop)
	d := New(env)

	var mu sync.Mutex
	closes := 0
	h, err := d.Create(context.Background(), "note", Options{
		OnClose: func() { mu.Lock(); closes++; mu.Unlock() },
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	rec := h.Get()
	if rec == nil {
		t.Fatal("Get() = nil for live handle")
	}
	rec.Emit(host.Signal{Kind: host.SignalClose})
	h.Close()

	waitFor(t, func() bool { return d.Count() == 0 })
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return closes == 1
	})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if closes != 1 {
		t.Fatalf("OnClose fired %d times, want exactly 1", closes)
	}
}

func TestLifecycleCallbacks(t *testing.T) {
	t.Parallel()
	env := newFakeEnv(host.CapDesktop)
	d := New(env)

	var mu sync.Mutex
	var got []string
	cb := func(name string) func() {
		return func() { mu.Lock(); got = append(got, name); mu.Unlock() }
	}

	h, err := d.Create(context.Background(), "note", Options{
		OnShow:  cb("show"),
		OnClick: cb("click"),
		OnClose: cb("close"),
		OnError: func(error) { cb("error")() },
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	rec := h.Get()
	rec.Emit(host.Signal{Kind: host.SignalShow})
	rec.Emit(host.Signal{Kind: host.SignalClick})
	rec.Emit(host.Signal{Kind: host.SignalClose})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})
	mu.Lock()
	defer mu.Unlock()
	for i, want := range []string{"show", "click", "close"} {
		if got[i] != want {
			t.Fatalf("callback order = %v, want [show click close]", got)
		}
	}
}

func TestAutocloseTimeout(t *testing.T) {
	t.Parallel()
	env := newFakeEnv(host.CapDesktop)
	d := New(env)

	h, err := d.Create(context.Background(), "note", Options{Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if !h.Live() {
		t.Fatal("handle not live right after create")
	}
	waitFor(t, func() bool { return d.Count() == 0 })
}

func TestDesktopFailureFallsBackToWorker(t *testing.T) {
	t.Parallel()
	env := newFakeEnv(host.CapDesktop, host.CapServiceWorker)
	env.showErr[host.CapDesktop] = errors.New("constructor threw")
	env.worker = &fakeWorker{reg: newFakeRegistration()}
	d := New(env)

	h, err := d.Create(context.Background(), "note", Options{})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if !h.Live() {
		t.Fatal("handle not live after fallback")
	}
	rec := h.Get()
	if rec.Cap != host.CapServiceWorker {
		t.Fatalf("record capability = %s, want %s", rec.Cap, host.CapServiceWorker)
	}
}

func TestDeferredCreatePayloadAndPing(t *testing.T) {
	t.Parallel()
	env := newFakeEnv(host.CapServiceWorker)
	reg := newFakeRegistration()
	env.worker = &fakeWorker{reg: reg}
	d := New(env)

	h, err := d.Create(context.Background(), "note", Options{
		Link:        "/inbox",
		ClickScript: "self.clients.openWindow(data.link)",
		Data:        map[string]any{"origin": "overridden", "extra": 7},
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if !h.Live() {
		t.Fatal("handle not live after deferred create")
	}

	payload := reg.lastPayload()
	if payload == nil {
		t.Fatal("no wire payload recorded")
	}
	data, ok := payload["data"].(map[string]any)
	if !ok {
		t.Fatalf("payload has no data map: %#v", payload)
	}
	if data["id"] != h.ID() {
		t.Fatalf("payload id = %v, want %d", data["id"], h.ID())
	}
	if data["link"] != "/inbox" {
		t.Fatalf("payload link = %v, want /inbox", data["link"])
	}
	if data["onClick"] != "self.clients.openWindow(data.link)" {
		t.Fatalf("payload onClick = %v", data["onClick"])
	}
	// Caller-supplied data wins on collision.
	if data["origin"] != "overridden" {
		t.Fatalf("payload origin = %v, want caller override", data["origin"])
	}
	if data["extra"] != 7 {
		t.Fatalf("payload extra = %v, want 7", data["extra"])
	}

	// The client ping follows a successful display.
	reg.mu.Lock()
	posted := len(reg.posted)
	reg.mu.Unlock()
	if posted != 1 {
		t.Fatalf("%d messages posted to worker, want 1", posted)
	}
}

func TestDeferredCreateEmptyListIsInert(t *testing.T) {
	t.Parallel()
	env := newFakeEnv(host.CapServiceWorker)
	reg := newFakeRegistration()
	reg.suppressNote = true
	env.worker = &fakeWorker{reg: reg}
	d := New(env)

	// The worker accepts the display but enumerates nothing: resolved-empty,
	// which is an inert handle rather than an error.
	h, err := d.Create(context.Background(), "note", Options{})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if h.ID() != -1 {
		t.Fatalf("inert handle ID = %d, want -1", h.ID())
	}
	if h.Live() {
		t.Fatal("inert handle reports Live")
	}
	if d.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", d.Count())
	}
}

func TestWorkerCloseMessageReleasesEntry(t *testing.T) {
	t.Parallel()
	env := newFakeEnv(host.CapServiceWorker)
	reg := newFakeRegistration()
	env.worker = &fakeWorker{reg: reg}
	d := New(env)

	var mu sync.Mutex
	closed := 0
	h, err := d.Create(context.Background(), "note", Options{
		OnClose: func() { mu.Lock(); closed++; mu.Unlock() },
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if !h.Live() {
		t.Fatal("handle not live")
	}

	// Unrelated actions are ignored.
	other, _ := json.Marshal(map[string]any{"action": "focus", "id": h.ID()})
	reg.msgs <- other
	// The close action for this id releases the entry.
	closeMsg, _ := json.Marshal(map[string]any{"action": "close", "id": h.ID()})
	reg.msgs <- closeMsg

	waitFor(t, func() bool { return d.Count() == 0 })
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return closed == 1
	})
}

func TestCreateWithNoRecordIsInert(t *testing.T) {
	t.Parallel()
	env := newFakeEnv(host.CapDesktop)
	env.showNil = true
	d := New(env)

	h, err := d.Create(context.Background(), "note", Options{})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if h.ID() != -1 {
		t.Fatalf("inert handle ID = %d, want -1", h.ID())
	}
	if h.Live() {
		t.Fatal("inert handle reports Live")
	}
	if h.Close() {
		t.Fatal("inert handle Close() = true")
	}
	if d.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", d.Count())
	}
}

func TestDefaultTimeoutFromSettings(t *testing.T) {
	t.Parallel()
	env := newFakeEnv(host.CapDesktop)
	d := New(env)
	d.Configure(Settings{DefaultTimeout: 50 * time.Millisecond})

	if _, err := d.Create(context.Background(), "note", Options{}); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	waitFor(t, func() bool { return d.Count() == 0 })
}
