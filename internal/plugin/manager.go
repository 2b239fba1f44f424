package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"sync"
	"time"

	"notibridge/internal/config"
	"notibridge/pkg/logx"
)

const callTimeout = 10 * time.Second

// Manager reconciles registered plugins against the config's enable flags:
// enabled-but-stopped plugins start, disabled-but-running plugins stop, and
// running plugins whose config blob changed get OnConfigChange.
type Manager struct {
	mu sync.Mutex

	log  logx.Logger
	deps Deps

	reg     map[string]Plugin
	order   []string
	run     map[string]bool
	pcancel map[string]context.CancelFunc

	// last config blob hash per running plugin, to skip redundant
	// OnConfigChange calls on unrelated reloads.
	lastRawHash map[string]uint64

	// Long-lived base context for plugin run contexts. The app ctx passed to
	// StartAll may be call-scoped, so it is only bridged in.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	bound      bool
}

func NewManager(log logx.Logger, deps Deps) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Manager{
		log:         log,
		deps:        deps,
		reg:         map[string]Plugin{},
		run:         map[string]bool{},
		pcancel:     map[string]context.CancelFunc{},
		lastRawHash: map[string]uint64{},
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
	}
}

// Register adds plugins to the registry. A plugin with an empty name is a
// hard failure: silently dropping it would hide a broken registration.
func (m *Manager) Register(ps ...Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range ps {
		name := p.Name()
		if name == "" {
			return errors.New("plugin: registration with empty name")
		}
		if _, dup := m.reg[name]; dup {
			return fmt.Errorf("plugin: duplicate registration %q", name)
		}
		m.reg[name] = p
		m.order = append(m.order, name)
	}
	return nil
}

func (m *Manager) bindContext(appCtx context.Context) {
	m.mu.Lock()
	if m.bound || appCtx == nil {
		m.mu.Unlock()
		return
	}
	m.bound = true
	cancel := m.baseCancel
	m.mu.Unlock()

	go func() {
		<-appCtx.Done()
		cancel()
	}()
}

func (m *Manager) StartAll(ctx context.Context, cfg *config.Config) {
	m.bindContext(ctx)
	m.reconcile(cfg)
}

func (m *Manager) OnConfigUpdate(ctx context.Context, cfg *config.Config) {
	m.bindContext(ctx)
	m.reconcile(cfg)
}

func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	names := append([]string(nil), m.order...)
	m.mu.Unlock()

	// Stop in reverse registration order.
	for i := len(names) - 1; i >= 0; i-- {
		m.stopOne(ctx, names[i])
	}
	m.baseCancel()
}

func (m *Manager) reconcile(cfg *config.Config) {
	type op struct {
		name    string
		p       Plugin
		raw     config.PluginConfigRaw
		enabled bool
		running bool
	}

	m.mu.Lock()
	ops := make([]op, 0, len(m.order))
	for _, name := range m.order {
		raw, ok := cfg.Plugins[name]
		ops = append(ops, op{
			name:    name,
			p:       m.reg[name],
			raw:     raw,
			enabled: ok && raw.Enabled,
			running: m.run[name],
		})
	}
	m.mu.Unlock()

	for _, o := range ops {
		switch {
		case o.enabled && !o.running:
			m.startOne(o.name, o.p, o.raw)
		case !o.enabled && o.running:
			stopCtx, cancel := context.WithTimeout(m.baseCtx, callTimeout)
			m.stopOne(stopCtx, o.name)
			cancel()
		case o.enabled && o.running:
			m.reconfigureOne(o.name, o.p, o.raw)
		}
	}
}

func (m *Manager) startOne(name string, p Plugin, raw config.PluginConfigRaw) {
	pctx, cancel := context.WithCancel(m.baseCtx)

	ictx, icancel := context.WithTimeout(pctx, callTimeout)
	err := m.safeCall("init "+name, func() error { return p.Init(ictx, m.deps) })
	icancel()
	if err != nil {
		m.log.Error("plugin init failed", logx.String("plugin", name), logx.Err(err))
		cancel()
		return
	}

	if cp, ok := p.(ConfigurablePlugin); ok {
		cctx, ccancel := context.WithTimeout(pctx, callTimeout)
		err := m.safeCall("config "+name, func() error { return cp.OnConfigChange(cctx, raw.Options) })
		ccancel()
		if err != nil {
			m.log.Error("plugin config failed", logx.String("plugin", name), logx.Err(err))
			cancel()
			return
		}
	}

	// Start gets the long-lived plugin ctx; the timeout is enforced outside.
	startErr := make(chan error, 1)
	go func() { startErr <- m.safeCall("start "+name, func() error { return p.Start(pctx) }) }()
	select {
	case err = <-startErr:
	case <-time.After(callTimeout):
		err = errors.New("start timeout")
	}
	if err != nil {
		m.log.Error("plugin start failed", logx.String("plugin", name), logx.Err(err))
		cancel()
		return
	}

	m.mu.Lock()
	m.run[name] = true
	m.pcancel[name] = cancel
	m.lastRawHash[name] = hashRaw(raw.Options)
	m.mu.Unlock()
	m.log.Info("plugin started", logx.String("plugin", name))
}

func (m *Manager) reconfigureOne(name string, p Plugin, raw config.PluginConfigRaw) {
	cp, ok := p.(ConfigurablePlugin)
	if !ok {
		return
	}
	newHash := hashRaw(raw.Options)
	m.mu.Lock()
	oldHash := m.lastRawHash[name]
	m.mu.Unlock()
	if newHash == oldHash {
		return
	}
	m.mu.Lock()
	m.lastRawHash[name] = newHash
	m.mu.Unlock()

	cctx, cancel := context.WithTimeout(m.baseCtx, callTimeout)
	defer cancel()
	if err := m.safeCall("config "+name, func() error { return cp.OnConfigChange(cctx, raw.Options) }); err != nil {
		m.log.Warn("plugin reconfigure failed", logx.String("plugin", name), logx.Err(err))
	}
}

func (m *Manager) stopOne(stopCtx context.Context, name string) {
	m.mu.Lock()
	p := m.reg[name]
	running := m.run[name]
	cancel := m.pcancel[name]
	m.mu.Unlock()
	if !running || p == nil {
		return
	}

	// Cancel the plugin context first so background loops wind down promptly.
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		_ = m.safeCall("stop "+name, func() error { return p.Stop(stopCtx) })
		close(done)
	}()
	select {
	case <-done:
	case <-stopCtx.Done():
		m.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name))
	}

	m.mu.Lock()
	m.run[name] = false
	delete(m.pcancel, name)
	delete(m.lastRawHash, name)
	m.mu.Unlock()
	m.log.Info("plugin stopped", logx.String("plugin", name))
}

func (m *Manager) safeCall(what string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s panicked: %v", what, r)
			m.log.Error("plugin panic", logx.String("call", what),
				logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return fn()
}

func hashRaw(raw json.RawMessage) uint64 {
	if len(raw) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(raw)
	return h.Sum64()
}
