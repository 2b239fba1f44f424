// Package app wires the daemon together: config, logging, bridge connection,
// dispatch core, scheduler, storage and plugins.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"notibridge/internal/config"
	"notibridge/internal/eventbus"
	"notibridge/internal/host"
	"notibridge/internal/notify"
	"notibridge/internal/plugin"
	"notibridge/internal/scheduler"
	"notibridge/internal/storage"
	"notibridge/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.Bus

	store  storage.Store
	bridge *host.Bridge
	disp   *notify.Dispatcher
	sched  *scheduler.Service
	pm     *plugin.Manager
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if st != nil {
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	dialTimeout, err := config.ParseDurationOrDefault("bridge.dial_timeout", cfg.Bridge.DialTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	bridge, err := host.Dial(context.Background(), cfg.Bridge.Addr, dialTimeout,
		log.With(logx.String("comp", "bridge")))
	if err != nil {
		return nil, err
	}

	disp := notify.New(bridge,
		notify.WithLogger(log.With(logx.String("comp", "notify"))),
		notify.WithBus(bus),
		notify.WithRateLimit(cfg.Notify.RatePerSec),
	)
	settings, err := mapNotifySettings(cfg)
	if err != nil {
		return nil, err
	}
	disp.Configure(settings)

	sched := scheduler.New(disp, log.With(logx.String("comp", "scheduler")))

	pm := plugin.NewManager(log.With(logx.String("comp", "plugins")), plugin.Deps{
		Log:    log,
		Notify: disp,
		Bus:    bus,
		Config: cfgm,
	})

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		bridge:  bridge,
		disp:    disp,
		sched:   sched,
		pm:      pm,
	}, nil
}

func (a *App) Plugins() *plugin.Manager   { return a.pm }
func (a *App) Notify() *notify.Dispatcher { return a.disp }
func (a *App) Bus() *eventbus.Bus         { return a.bus }
func (a *App) History() storage.Store     { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or
// Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if strings.TrimSpace(cfg.Bridge.Addr) == "" {
			return fmt.Errorf("bridge.addr is required")
		}
		if _, err := config.ParseDurationField("bridge.dial_timeout", cfg.Bridge.DialTimeout); err != nil {
			return err
		}
		if cfg.Notify.RatePerSec < 0 {
			return fmt.Errorf("notify.rate_per_sec must be >= 0")
		}
		if _, err := mapNotifySettings(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return a.sched.Validate(cfg.Schedules)
	})

	cfg := a.cfgm.Get()

	a.sched.Start(a.sup.Context(), cfg.Schedules)
	a.pm.StartAll(a.sup.Context(), cfg)

	// Lifecycle history: persist every bus event that carries notification data.
	if a.store != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("history.record", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case ev, ok := <-events:
					if !ok {
						return
					}
					ne, ok := ev.Data.(notify.NotificationEvent)
					if !ok {
						continue
					}
					err := a.store.Append(c, storage.Entry{
						At:    ev.Time,
						ID:    ne.ID,
						Kind:  ev.Type,
						Tag:   ne.Tag,
						Title: ne.Title,
						Agent: ne.Agent,
						Error: ne.Error,
					})
					if err != nil {
						a.log.Warn("history append failed", logx.Err(err))
					}
				}
			}
		})
	}

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, newCfg)
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	// Losing the bridge is fatal: every notification operation depends on it,
	// and the companion re-establishes the connection by restarting us.
	a.sup.Go("bridge.monitor", func(c context.Context) error {
		select {
		case <-c.Done():
			return nil
		case <-a.bridge.Done():
			return host.ErrBridgeClosed
		}
	})

	a.log.Info("started",
		logx.String("config", a.cfgPath),
		logx.Bool("supported", a.disp.Supported()))
	return nil
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	// Validated before publish, so mapping cannot fail here.
	if settings, err := mapNotifySettings(cfg); err == nil {
		a.disp.Configure(settings)
	}
	a.disp.SetRateLimit(cfg.Notify.RatePerSec)

	a.sched.Apply(cfg.Schedules)
	a.pm.OnConfigUpdate(ctx, cfg)
	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	a.sched.Stop()
	a.pm.StopAll(ctx)

	if a.bridge != nil {
		_ = a.bridge.Shutdown()
	}

	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}

	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
	return err
}

func mapNotifySettings(cfg *config.Config) (notify.Settings, error) {
	dt, err := config.ParseDurationField("notify.default_timeout", cfg.Notify.DefaultTimeout)
	if err != nil {
		return notify.Settings{}, err
	}
	return notify.Settings{
		ServiceWorker:  cfg.Notify.ServiceWorker,
		DefaultTimeout: dt,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{}, nil
	}
	bt, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	if cfg.Storage.KeepDays < 0 {
		return storage.Config{}, fmt.Errorf("storage.keep_days must be >= 0")
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: bt,
		KeepDays:    cfg.Storage.KeepDays,
	}, nil
}
