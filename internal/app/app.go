package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"folibot/internal/bot"
	"folibot/internal/config"
	"folibot/internal/deadline"
	"folibot/internal/eventbus"
	"folibot/internal/folio"
	"folibot/internal/httpapi"
	"folibot/internal/intake"
	"folibot/internal/notifier"
	rtsup "folibot/internal/runtime/supervisor"
	"folibot/internal/storage"
	"folibot/internal/sweep"
	kit "folibot/internal/transport"
	telegram "folibot/internal/transport/telegram/adapter"
	"folibot/internal/transport/telegram/router"
	logx "folibot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor
	reg  *rtsup.Registry

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter

	notif  *notifier.Service
	timers *deadline.Service
	intake *intake.Manager
	folios *folio.Service
	bot    *bot.Bot
	sweep  *sweep.Service
	http   *httpapi.Service

	cmdm *router.CommandManager

	updates chan kit.Update
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	// transactional config reload: validate before commit/publish
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return ValidateConfig(cfg) })
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO")

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), ad)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()
	reg := rtsup.NewRegistry()

	store, err := OpenStore(cfg, log)
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", cfg.Storage.Driver))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, ad, log, bus)

	dcfg, err := mapDeadlineConfig(cfg)
	if err != nil {
		return nil, err
	}
	icfg, err := mapIntakeConfig(cfg)
	if err != nil {
		return nil, err
	}
	scfg, err := mapSweepConfig(cfg, dcfg.Schedule.Deadline())
	if err != nil {
		return nil, err
	}
	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}

	// The timer texts follow the live folio terms; folios is set right below.
	var folios *folio.Service
	timers := deadline.New(dcfg, notif, store, log,
		deadline.WithBus(bus),
		deadline.WithFormatter(folio.TermsFormatter(func() folio.Config { return folios.Config() })),
	)
	folios = folio.New(mapFolioConfig(cfg, dcfg.Schedule.Deadline()), store, timers, notif, log, folio.WithBus(bus))
	intakes := intake.New(icfg, log)

	b := bot.New(bot.Deps{Folios: folios, Intake: intakes, Timers: timers, Notifier: notif}, log)

	workers := cfg.Telegram.Workers
	cmdm := router.NewCommandManager(log, ad, cfg.Telegram.OwnerUserIDs,
		router.WithWorkers(workers),
		router.WithRegistry(reg),
	)
	if d, err := config.ParseDurationField("telegram.handler_timeout", cfg.Telegram.HandlerTimeout); err == nil {
		cmdm.SetDefaultTimeout(d)
	}
	cmdm.SetFallback(b.HandleMessage)

	sw := sweep.New(scfg, store, timers, log, sweep.WithBus(bus))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		reg:     reg,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		notif:   notif,
		timers:  timers,
		intake:  intakes,
		folios:  folios,
		bot:     b,
		sweep:   sw,
		cmdm:    cmdm,
		updates: make(chan kit.Update, 256),
	}
	a.http = httpapi.New(hcfg, folios, a.health, log,
		httpapi.WithEntity(func() string { return folios.Config().Entity }))
	return a, nil
}

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

func (a *App) health() httpapi.Health {
	st := a.timers.Stats()
	extra := map[string]any{
		"timers_started": st.Started,
		"notifier":       a.notif.Stats(),
		"sweep":          a.sweep.Stats(),
		"supervisors":    a.reg.Snapshots(),
	}
	return httpapi.Health{
		ActiveTimers: st.Active,
		Owners:       st.Owners,
		Intakes:      a.intake.Len(),
		Extra:        extra,
	}
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.reg.Set("app", a.sup)
	a.reg.Set("deadline", a.timers.Supervisor())

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if sup := a.adapter.Supervisor(); sup != nil {
		a.reg.Set("telegram.adapter", sup)
	}

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
		if sup := a.notif.Supervisor(); sup != nil {
			a.reg.Set("notifier", sup)
		}
	}

	if err := a.sweep.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.http.Start(a.sup.Context()); err != nil {
		// the bot is still useful without the lookup page
		a.log.Error("http start failed", logx.Err(err))
	}
	a.reg.Set("http", a.http.Supervisor())

	a.cmdm.SetRegistry(a.sup.Context(), a.bot.Commands())
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	a.startEventLog()
	a.startConfigReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// startEventLog logs bus events for debugging. Expiries are worth an info line.
func (a *App) startEventLog() {
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
				if e.Type == eventbus.DeadlineExpired {
					a.log.Info("event", logx.String("type", e.Type), logx.Any("data", e.Data))
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})
}

func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

// applyConfig pushes an accepted config to every live component.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if rr := config.RestartRequired(sections); len(rr) > 0 {
		a.log.Warn("config change needs a restart to take effect", logx.Strings("sections", rr))
	}
	if prev != nil && prev.Telegram.Token != next.Telegram.Token {
		a.log.Warn("telegram token changed; restart required")
	}

	// logs first so the lines below go to the new outputs
	a.logs.Apply(mapLoggingConfig(next))

	a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)
	if d, err := config.ParseDurationField("telegram.handler_timeout", next.Telegram.HandlerTimeout); err == nil {
		a.cmdm.SetDefaultTimeout(d)
	}

	window := a.folios.Config().Deadline
	if dcfg, err := mapDeadlineConfig(next); err != nil {
		a.log.Warn("invalid deadline config; keeping previous", logx.Err(err))
	} else {
		// running timers keep the schedule they started with
		a.timers.Apply(dcfg)
		window = dcfg.Schedule.Deadline()
	}
	a.folios.Apply(mapFolioConfig(next, window))

	if icfg, err := mapIntakeConfig(next); err != nil {
		a.log.Warn("invalid intake config; keeping previous", logx.Err(err))
	} else {
		a.intake.Apply(icfg)
	}

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
			a.reg.Delete("notifier")
		case !wasEnabled && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
			if sup := a.notif.Supervisor(); sup != nil {
				a.reg.Set("notifier", sup)
			}
		}
	}

	if scfg, err := mapSweepConfig(next, window); err != nil {
		a.log.Warn("invalid sweep config; keeping previous", logx.Err(err))
	} else if err := a.sweep.Apply(ctx, scfg); err != nil {
		a.log.Warn("sweep reconfigure failed", logx.Err(err))
	}

	if hcfg, err := mapHTTPConfig(next); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		if err := a.http.Reconfigure(ctx, hcfg); err != nil {
			a.log.Warn("http reconfigure failed", logx.Err(err))
		}
		if sup := a.http.Supervisor(); sup != nil {
			a.reg.Set("http", sup)
		} else {
			a.reg.Delete("http")
		}
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// step runs one shutdown step bounded by max so one component can't stall
	// the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < limit {
					limit = max(rem, 0)
				}
			}
			if limit > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, limit)
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
		case <-stepCtx.Done():
			// fn must honor stepCtx; if it doesn't, log when it eventually ends.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Warn("stop step finished after deadline",
					logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	step("sweep", 2*time.Second, func(c context.Context) error { a.sweep.Stop(c); return nil })
	step("http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("deadline", 2*time.Second, func(c context.Context) error { return a.timers.Shutdown(c) })
	step("notifier", time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", time.Second, func(c context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, dispatcher).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
