package telegrammirror

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"notibridge/internal/eventbus"
	"notibridge/internal/notify"
	"notibridge/internal/plugin"
	"notibridge/pkg/logx"
)

func TestFormat(t *testing.T) {
	t.Parallel()
	ev := eventbus.Event{
		Type: notify.EventClosed,
		Time: time.Now(),
		Data: notify.NotificationEvent{
			ID:    4,
			Title: "Build done",
			Tag:   "ci",
			Agent: "desktop",
		},
	}
	got := format(ev)
	want := `notify.closed #4 "Build done" [ci] via desktop`
	if got != want {
		t.Fatalf("format = %q, want %q", got, want)
	}
}

func TestFormatFailureCarriesError(t *testing.T) {
	t.Parallel()
	ev := eventbus.Event{
		Type: notify.EventFailed,
		Data: notify.NotificationEvent{ID: 1, Title: "x", Error: "constructor threw"},
	}
	got := format(ev)
	if got != `notify.failed #1 "x": constructor threw` {
		t.Fatalf("format = %q", got)
	}
}

func TestFormatUnknownPayload(t *testing.T) {
	t.Parallel()
	if got := format(eventbus.Event{Type: "other"}); got != "other" {
		t.Fatalf("format = %q", got)
	}
}

func TestOnConfigChangeValidation(t *testing.T) {
	t.Parallel()
	m := New()
	if err := m.Init(context.Background(), plugin.Deps{Log: logx.Nop(), Bus: eventbus.New()}); err != nil {
		t.Fatalf("Init error: %v", err)
	}

	if err := m.OnConfigChange(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Fatal("missing token accepted")
	}
	if err := m.OnConfigChange(context.Background(), json.RawMessage(`{"token":"x"}`)); err == nil {
		t.Fatal("missing chat_id accepted")
	}
	if err := m.OnConfigChange(context.Background(), json.RawMessage(`{"token":"x","chat_id":5}`)); err != nil {
		t.Fatalf("valid options rejected: %v", err)
	}
	if err := m.OnConfigChange(context.Background(), json.RawMessage(`not json`)); err == nil {
		t.Fatal("garbage options accepted")
	}
}

func TestWantsFiltersKinds(t *testing.T) {
	t.Parallel()
	m := New()
	if !m.wants(notify.EventShown) {
		t.Fatal("empty filter should mirror everything")
	}
	m.opts.Kinds = []string{notify.EventFailed}
	if m.wants(notify.EventShown) {
		t.Fatal("filtered kind still mirrored")
	}
	if !m.wants(notify.EventFailed) {
		t.Fatal("allowed kind not mirrored")
	}
}
