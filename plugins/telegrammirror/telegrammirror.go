// Package telegrammirror forwards notification lifecycle events to a
// Telegram chat, so an operator can follow dispatch activity remotely.
package telegrammirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"notibridge/internal/eventbus"
	"notibridge/internal/notify"
	"notibridge/internal/plugin"
	"notibridge/pkg/logx"
)

type Options struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`

	// PollTimeout is a Go duration string; empty means "10s".
	PollTimeout string `json:"poll_timeout,omitempty"`

	// Kinds limits which event types are mirrored. Empty mirrors all.
	Kinds []string `json:"kinds,omitempty"`
}

type Mirror struct {
	mu   sync.Mutex
	log  logx.Logger
	bus  *eventbus.Bus
	opts Options

	bot   *tele.Bot
	chat  *tele.Chat
	unsub func()
	wg    sync.WaitGroup
}

func New() *Mirror { return &Mirror{} }

func (m *Mirror) Name() string { return "telegrammirror" }

func (m *Mirror) Init(ctx context.Context, deps plugin.Deps) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = deps.Log.With(logx.String("plugin", m.Name()))
	m.bus = deps.Bus
	if m.bus == nil {
		return errors.New("telegrammirror: event bus is required")
	}
	return nil
}

func (m *Mirror) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	_ = ctx
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return fmt.Errorf("telegrammirror: decode options: %w", err)
		}
	}
	if strings.TrimSpace(opts.Token) == "" {
		return errors.New("telegrammirror: token is required")
	}
	if opts.ChatID == 0 {
		return errors.New("telegrammirror: chat_id is required")
	}
	m.mu.Lock()
	m.opts = opts
	m.mu.Unlock()
	return nil
}

func (m *Mirror) Start(ctx context.Context) error {
	m.mu.Lock()
	opts := m.opts
	m.mu.Unlock()

	timeout := 10 * time.Second
	if s := strings.TrimSpace(opts.PollTimeout); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			timeout = d
		}
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  opts.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return fmt.Errorf("telegrammirror: %w", err)
	}

	events, unsub := m.bus.Subscribe(64)

	m.mu.Lock()
	m.bot = bot
	m.chat = &tele.Chat{ID: opts.ChatID}
	m.unsub = unsub
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.pump(ctx, events)
	}()
	return nil
}

func (m *Mirror) Stop(ctx context.Context) error {
	_ = ctx
	m.mu.Lock()
	unsub := m.unsub
	m.unsub = nil
	bot := m.bot
	m.bot = nil
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	m.wg.Wait()
	if bot != nil {
		bot.Stop()
	}
	return nil
}

func (m *Mirror) pump(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !m.wants(ev.Type) {
				continue
			}
			m.send(ev)
		}
	}
}

func (m *Mirror) wants(typ string) bool {
	m.mu.Lock()
	kinds := m.opts.Kinds
	m.mu.Unlock()
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == typ {
			return true
		}
	}
	return false
}

func (m *Mirror) send(ev eventbus.Event) {
	m.mu.Lock()
	bot, chat := m.bot, m.chat
	m.mu.Unlock()
	if bot == nil || chat == nil {
		return
	}
	if _, err := bot.Send(chat, format(ev)); err != nil {
		m.log.Warn("mirror send failed", logx.String("event", ev.Type), logx.Err(err))
	}
}

func format(ev eventbus.Event) string {
	ne, ok := ev.Data.(notify.NotificationEvent)
	if !ok {
		return ev.Type
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s #%d", ev.Type, ne.ID)
	if ne.Title != "" {
		fmt.Fprintf(&b, " %q", ne.Title)
	}
	if ne.Tag != "" {
		fmt.Fprintf(&b, " [%s]", ne.Tag)
	}
	if ne.Agent != "" {
		fmt.Fprintf(&b, " via %s", ne.Agent)
	}
	if ne.Error != "" {
		fmt.Fprintf(&b, ": %s", ne.Error)
	}
	return b.String()
}
