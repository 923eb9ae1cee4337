package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/delivery"
	"remindbot/internal/eventbus"
	"remindbot/internal/ingest"
	"remindbot/internal/reminder"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
)

// Bot menu entries registered with Telegram on start.
var menuCommands = []kit.BotCommand{
	{Command: "timezone", Description: "Show or set your timezone"},
	{Command: "list", Description: "Upcoming reminders"},
	{Command: "help", Description: "How to set a reminder"},
}

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	// nil when telegram is disabled
	adapter *telegram.Adapter

	router   *delivery.Router
	engine   *reminder.Engine
	sched    *scheduler.Service
	pipeline *ingest.Pipeline

	updates chan kit.Update
	notify  notifier

	// drain bounds the wait for an in-flight tick during Stop.
	drain time.Duration
}

// Shutdown budget beyond the tick drain: adapter, storage and supervisor steps.
const (
	drainMargin  = 5 * time.Second
	stopOverhead = 10 * time.Second
)

// New loads the config and builds every component. Nothing runs until
// Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateRuntime(context.Background(), cfg); err != nil {
		return nil, err
	}

	// The ops sink gets its sender once the adapter exists.
	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	appLog := log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	appLog.Info("storage ready", logx.String("driver", sc.Driver))

	a, err := build(cfg, log, logSvc, bus, store)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgPath = cfgPath
	a.cfgm = cfgm
	return a, nil
}

func build(cfg *config.Config, log logx.Logger, logSvc *logx.Service, bus eventbus.Bus, store storage.Store) (*App, error) {
	a := &App{
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		updates: make(chan kit.Update, 256),
		notify:  systemdNotifier{},
	}

	if cfg.Telegram.Enabled {
		tc, err := mapAdapterConfig(cfg)
		if err != nil {
			return nil, err
		}
		ad, err := telegram.New(tc, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram adapter: %w", err)
		}
		a.adapter = ad
		logSvc.SetSender(ad)
	}

	dc, err := mapDeliveryConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.router = delivery.NewRouter(dc, log.With(logx.String("comp", "delivery")), bus)
	if a.adapter != nil {
		a.router.Register(delivery.NewTelegram(a.adapter))
	}
	if cfg.WhatsApp.Enabled {
		wc, err := mapWhatsAppConfig(cfg)
		if err != nil {
			return nil, err
		}
		wa, err := delivery.NewWhatsApp(wc, nil)
		if err != nil {
			return nil, fmt.Errorf("whatsapp channel: %w", err)
		}
		a.router.Register(wa)
	}

	ec, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.engine = reminder.New(ec, store, a.router, log.With(logx.String("comp", "reminders")), reminder.WithEventBus(bus))
	a.sched = scheduler.New(mapSchedulerConfig(cfg), log.With(logx.String("comp", "scheduler")))
	if err := a.engine.Register(a.sched); err != nil {
		return nil, err
	}
	a.drain = a.engine.TickTimeout() + drainMargin

	a.pipeline = ingest.New(store, store, nil, log.With(logx.String("comp", "ingest")))
	return a, nil
}

// StopTimeout is the context budget Stop needs to drain an in-flight tick
// and close everything after it.
func (a *App) StopTimeout() time.Duration { return a.drain + stopOverhead }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
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
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(validateRuntime)
	}

	if a.adapter != nil {
		if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
			return err
		}
		menuCtx, cancel := context.WithTimeout(a.sup.Context(), 10*time.Second)
		if err := a.adapter.UpdateMenuCommands(menuCtx, menuCommands); err != nil {
			a.log.Warn("bot menu update failed", logx.Err(err))
		}
		cancel()
	} else {
		a.log.Warn("telegram disabled; no inbound messages will be read")
	}

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Warn("scheduler disabled; reminders will not be delivered")
	}

	a.startDispatch()

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					// Every tick publishes, so keep this at debug.
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	if a.cfgm != nil {
		a.startReload()
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.notifyReady()
	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notifyStopping()

	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component cannot stall the rest.
	// It reports whether fn returned nil within its bound.
	step := func(name string, max time.Duration, fn func(context.Context) error) bool {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// never extend the caller's deadline
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
			return err == nil
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
			return false
		}
	}

	// The cron stop drains an in-flight tick before delivery and storage go
	// away; a tick never runs longer than its own timeout.
	drained := step("scheduler", a.drain, func(c context.Context) error {
		a.sched.Stop(c)
		return c.Err()
	})
	step("adapter", 2*time.Second, func(c context.Context) error {
		if a.adapter == nil {
			return nil
		}
		return a.adapter.Stop(c)
	})
	if drained {
		step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })
	} else {
		// Closing under a running tick would lose its MarkSent and successor.
		a.log.Warn("reminder tick still running; leaving storage open for process exit")
	}
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
