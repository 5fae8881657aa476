package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"subwatch/internal/config"
	"subwatch/internal/difficulty"
	"subwatch/internal/eventbus"
	"subwatch/internal/fetch"
	"subwatch/internal/metrics"
	"subwatch/internal/monitor"
	"subwatch/internal/notifier"
	rtsup "subwatch/internal/runtime/supervisor"
	"subwatch/internal/scheduler"
	"subwatch/internal/storage"
	"subwatch/internal/transport/telegram"
	logx "subwatch/pkg/logx"
	"subwatch/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	fetcher *fetch.HTTPFetcher
	index   *difficulty.FileSource
	metrics *metrics.Metrics
	msrv    *metrics.Server

	adapter *telegram.Adapter
	notif   *notifier.Service

	sess  *monitor.Session
	sched *scheduler.Service
	sd    *systemd.Notifier
}

// Options overrides parts of the wiring, mainly for tests.
type Options struct {
	// Logger replaces the configured logging service when set.
	Logger logx.Logger
}

func NewApp(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	set, err := cfg.Settings()
	if err != nil {
		return nil, err
	}

	var logSvc *logx.Service
	log := opts.Logger
	if log.IsZero() {
		logSvc, log = logx.New(set.Logging)
	}
	appLog := log.With(logx.Component("app"))

	if set.Source.BaseURL == "" {
		return nil, fmt.Errorf("%w: source.base_url is required", config.ErrInvalid)
	}
	fetcher, err := fetch.NewHTTPFetcher(fetcherOptions(set))
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(storageConfig(set), log.With(logx.Component("storage")))
	if err != nil {
		return nil, err
	}
	appLog.Info("storage opened", logx.String("driver", set.Storage.Driver), logx.String("path", set.Storage.Path))

	bus := eventbus.New()
	m := metrics.New(metrics.WithProcessCollectors())
	sd := systemd.New(set.SystemdNotify, log)

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		fetcher: fetcher,
		index:   difficulty.NewFileSource(set.DifficultyPath),
		metrics: m,
		msrv:    metrics.NewServer(m, log),
		sd:      sd,
	}

	var sinks notifier.Multi
	if set.Notify.Log {
		sinks = append(sinks, notifier.LogSink{Log: log.With(logx.Component("notify"))})
	}
	if set.Notify.Telegram.Enabled {
		ad, err := telegram.New(telegram.Config{Token: set.TelegramToken, Timeout: 15 * time.Second},
			log.With(logx.Component("telegram")))
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		a.adapter = ad
		a.notif = notifier.NewService(notifierConfig(set), ad, log.With(logx.Component("notifier")), bus, m)
		sinks = append(sinks, a.notif)
	}

	sess, err := monitor.NewSession(monitor.Deps{
		Config:    cfgm,
		Store:     store,
		Fetcher:   fetcher,
		Index:     a.index,
		Sink:      sinks,
		Bus:       bus,
		Observer:  m,
		Heartbeat: sd.Heartbeat,
	}, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.sess = sess

	a.sched = scheduler.New(set.Location, log.With(logx.Component("scheduler")))
	if set.Catalog.Enabled {
		if err := a.sched.Add("catalog.refresh", set.Catalog.Schedule, 0, a.refreshCatalog); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("%w: catalog.schedule: %w", config.ErrInvalid, err)
		}
	}
	return a, nil
}

func (a *App) Session() *monitor.Session { return a.sess }

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Store() storage.Store { return a.store }

// MetricsAddr is the bound /metrics address, empty when disabled.
func (a *App) MetricsAddr() string { return a.msrv.Addr() }

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

// RunOnce runs a single monitor cycle with the delivery pipeline up, then
// drains the pipeline. Start must not have been called.
func (a *App) RunOnce(ctx context.Context) (monitor.CycleStats, error) {
	if a.notif != nil {
		a.notif.Start(ctx)
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			a.notif.Stop(stopCtx)
		}()
	}
	return a.sess.RunOnce(ctx)
}

func (a *App) refreshCatalog(ctx context.Context) error {
	set, err := a.cfgm.Current()
	if err != nil {
		return err
	}
	_, err = RefreshCatalog(ctx, set, a.fetcher, a.index, a.log.With(logx.Component("catalog")), a.bus, a.metrics)
	return err
}

func (a *App) Start(ctx context.Context) error {
	set, err := a.cfgm.Current()
	if err != nil {
		return err
	}
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithObserver(a.metrics),
		rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		s, err := cfg.Settings()
		if err != nil {
			return err
		}
		if s.Catalog.Enabled {
			if _, err := scheduler.ParseSchedule(s.Catalog.Schedule); err != nil {
				return fmt.Errorf("catalog.schedule: %w", err)
			}
		}
		return nil
	})

	if err := a.msrv.Apply(a.sup.Context(), metricsConfig(set)); err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	if a.notif != nil {
		// detached so Stop can drain the queue after the run context ends
		a.notif.Start(context.WithoutCancel(a.sup.Context()))
	}
	if err := a.sess.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	for _, e := range a.sched.Entries() {
		a.log.Info("job scheduled", logx.String("job", e.Name), logx.String("spec", e.Spec), logx.Time("next", e.Next))
	}

	// Bus events drive the systemd status line.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.status", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				if line, ok := statusLine(e); ok {
					a.sd.Status(line)
				}
			}
		}
	})

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

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return a.sd.Run(c, func() time.Duration {
			s, err := a.cfgm.Current()
			if err != nil {
				return 15 * time.Minute
			}
			return staleAfter(s)
		})
	})

	a.sd.Ready()
	a.sd.Status("monitoring viewer " + set.Viewer)
	a.log.Info("app started",
		logx.String("session", a.sess.ID),
		logx.String("viewer", set.Viewer),
		logx.Duration("interval", set.Interval),
		logx.Bool("catalog", set.Catalog.Enabled),
		logx.Bool("telegram", a.notif != nil))
	return nil
}

// applyConfig pushes a committed config into the components that can change
// live. The monitor loop and dispatcher read settings on every cycle.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	set, err := newCfg.Settings()
	if err != nil {
		a.log.Warn("reloaded config does not resolve; keeping previous", logx.Err(err))
		return
	}
	a.sd.Reloading()
	defer a.sd.Ready()

	if restart := config.RequiresRestart(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that take effect after restart",
			logx.String("sections", strings.Join(restart, ",")))
	}
	if a.logs != nil {
		a.logs.Apply(set.Logging)
	}
	if err := a.msrv.Apply(ctx, metricsConfig(set)); err != nil {
		a.log.Warn("metrics listener reconfigure failed", logx.Err(err))
	}
	if a.notif != nil {
		ncfg := notifierConfig(set)
		a.notif.Apply(ncfg)
		if !ncfg.Enabled {
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		} else {
			a.notif.Start(context.WithoutCancel(ctx))
		}
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.store.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		stepCtx, cancel := context.WithTimeout(ctx, max(limit, 0))
		defer cancel()

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
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	// An in-flight cycle is allowed to finish and persist.
	step("monitor", 60*time.Second, a.sess.Stop)
	step("notifier", 3*time.Second, func(c context.Context) error {
		if a.notif != nil {
			a.notif.Stop(c)
		}
		return nil
	})
	step("adapter", 2*time.Second, func(c context.Context) error {
		if a.adapter != nil {
			return a.adapter.Stop(c)
		}
		return nil
	})
	step("metrics", time.Second, func(c context.Context) error { a.msrv.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, a.sup.Wait)

	fields := []logx.Field{logx.Uint64("cycles", a.sess.Cycles())}
	if a.notif != nil {
		fields = append(fields, logx.Any("deliveries", a.notif.Stats()))
	}
	a.log.Info("stopped", fields...)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
