package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"remindd/internal/action"
	"remindd/internal/config"
	"remindd/internal/diag"
	"remindd/internal/eventbus"
	"remindd/internal/housekeeping"
	"remindd/internal/metrics"
	"remindd/internal/reminder"
	rtsup "remindd/internal/runtime/supervisor"
	"remindd/internal/storage"
	"remindd/internal/task/bridge"
	"remindd/internal/task/scheduler"
	kit "remindd/internal/transport"
	telegram "remindd/internal/transport/telegram/adapter"
	"remindd/internal/transport/telegram/router"
	logx "remindd/pkg/logx"
	"remindd/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log    logx.Logger
	logs   *logx.Service
	notify *systemd.Notifier
	bus    eventbus.Bus

	backend storage.Store
	reg     *action.Registry
	loop    *bridge.Loop
	jobs    *scheduler.Store
	sched   *scheduler.Service

	reminders *reminder.Service
	metrics   *metrics.Metrics
	diag      *diag.Service

	// adapter and router are nil when telegram is disabled.
	adapter *telegram.Adapter
	router  *router.Router
	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLoggingConfig(cfg), nil)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	loc, err := scheduler.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, errors.Wrap(err, "scheduler.timezone")
	}
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	diagCfg, err := mapDiagConfig(cfg)
	if err != nil {
		return nil, err
	}
	cooldown, err := config.ParseDurationOrDefault("reminders.cooldown", cfg.Reminders.Cooldown, 3*time.Second)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logs,
		notify:  systemd.NewNotifier(log.With(logx.String("comp", "systemd"))),
		bus:     eventbus.New(),
		updates: make(chan kit.Update, 128),
	}

	// Reminders still fire without telegram; they end up in the log.
	var sender kit.Sender = logSender{log: log.With(logx.String("comp", "reminder.delivery"))}
	if cfg.Telegram.Enabled {
		poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		ad, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: poll,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		a.adapter = ad
		sender = ad
		logs.SetSender(ad)
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.backend, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	a.log.Info("storage opened", logx.String("store", a.backend.Describe()))

	a.reg = action.NewRegistry()
	a.loop = bridge.NewLoop(cfg.Bridge.QueueSize, log.With(logx.String("comp", "bridge")))
	a.jobs = scheduler.NewStore(a.backend, a.reg, loc, log.With(logx.String("comp", "store")))
	a.sched = scheduler.New(schedCfg, loc, a.jobs, a.reg,
		bridge.New(a.reg, a.loop, log.With(logx.String("comp", "bridge"))),
		log.With(logx.String("comp", "scheduler")),
		scheduler.WithBus(a.bus),
	)

	reminder.RegisterActions(a.reg, sender)
	housekeeping.NewSnapshotter(cfg.Scheduler.BackupDir, a.jobs, log.With(logx.String("comp", "housekeeping"))).Register(a.reg)
	a.reg.Freeze()

	a.reminders = reminder.NewService(a.sched, reminder.Config{
		LimitPerUser:  cfg.Reminders.LimitPerUser,
		MaxMessageLen: cfg.Reminders.MaxMessageLen,
	}, log.With(logx.String("comp", "reminder")))

	a.metrics = metrics.New()
	a.metrics.GaugeFunc("jobs_active", "Jobs in the active set.", func() float64 { return float64(a.sched.Len()) })
	a.metrics.GaugeFunc("bridge_pending", "Calls waiting for the host loop.", func() float64 { return float64(a.loop.Pending()) })
	a.metrics.GaugeFunc("eventbus_dropped", "Events dropped for slow subscribers.", func() float64 { return float64(a.bus.Dropped()) })

	a.diag = diag.New(diagCfg, diag.Sources{
		Health:  a.health,
		Jobs:    func() any { return jobViews(a.sched.ListActiveJobs()) },
		Metrics: a.metrics.Handler(),
	}, log)

	if a.adapter != nil {
		a.router = router.New(log.With(logx.String("comp", "router")), a.adapter, a.loop)
		a.router.Register(a.reminders.Commands(cooldown)...)
		a.router.Register(a.jobsCommand())
		a.router.SetOwners(cfg.Telegram.OwnerUserIDs)
	}
	return a, nil
}

// Start restores the job set and starts every loop. It returns once the
// daemon is serving.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		rtsup.WithCancelOnError(true),
	)
	run := a.sup.Context()

	// Reject a hot reload the daemon could not apply.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapDiagConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	a.sup.Go("bridge.loop", a.loop.Run)

	st := a.sched.Restore(run)
	if err := a.ensureBuiltins(run); err != nil {
		a.sup.Cancel()
		return err
	}

	events, unsub := a.bus.Subscribe(256, "job.")
	a.sup.Go("metrics.consume", func(c context.Context) error {
		defer unsub()
		return a.metrics.Consume(c, events)
	})
	a.sup.GoRestart("scheduler.tick", a.sched.Run,
		rtsup.WithBackoff(time.Second, 30*time.Second),
	)

	if a.adapter != nil {
		if err := a.adapter.Start(run, a.updates); err != nil {
			a.sup.Cancel()
			return err
		}
		a.sup.Go("router.dispatch", func(c context.Context) error {
			return a.router.Run(c, a.updates)
		})
		a.sup.Go("telegram.menu", func(c context.Context) error {
			if err := a.router.PublishMenu(c); err != nil {
				a.log.Warn("publish command menu failed", logx.Err(err))
			}
			return nil
		})
	}

	a.diag.Start(run)

	a.sup.Go("systemd.watchdog", a.notify.Watchdog)
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.notify.Ready()
	a.notify.Status(fmt.Sprintf("%d jobs active, %d rescheduled at start", a.sched.Len(), st.Rescheduled))
	a.log.Info("app started",
		logx.Int("jobs", a.sched.Len()),
		logx.Strings("actions", refNames(a.reg.Names())),
		logx.Bool("telegram", a.adapter != nil),
	)
	return nil
}

// ensureBuiltins upserts the configured builtin jobs. A stored job with the
// same id keeps its state.
func (a *App) ensureBuiltins(ctx context.Context) error {
	for _, b := range a.cfgm.Get().Scheduler.BuiltinJobs {
		spec, err := builtinSpec(b)
		if err != nil {
			return err
		}
		j, created, err := a.sched.Ensure(ctx, spec)
		if err != nil {
			return errors.Wrapf(err, "builtin job %q", spec.ID)
		}
		a.log.Info("builtin job",
			logx.String("job", j.ID),
			logx.String("action", string(j.Action)),
			logx.Bool("created", created),
			logx.Time("next_run", j.NextRun),
		)
	}
	return nil
}

func (a *App) reloadLoop(c context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			a.applyConfig(c, last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(c context.Context, prev, next *config.Config) {
	done := a.notify.Reloading()
	defer done()

	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(prev, next); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", restart))
	}

	a.logs.Apply(mapLoggingConfig(next))
	if a.router != nil {
		a.router.SetOwners(next.Telegram.OwnerUserIDs)
	}
	if dc, err := mapDiagConfig(next); err != nil {
		a.log.Warn("invalid diag config; keeping previous", logx.Err(err))
	} else {
		a.diag.Reconfigure(c, dc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) health() diag.Health {
	h := diag.Health{OK: true, Components: map[string]any{}}
	if a.sup != nil {
		snap := a.sup.Snapshot()
		h.OK = snap.FirstError == ""
		h.Components["supervisor"] = snap
	}
	h.Components["scheduler"] = a.sched.Snapshot()
	h.Components["bridge_pending"] = a.loop.Pending()
	if a.adapter != nil {
		if s := a.adapter.Supervisor(); s != nil {
			h.Components["telegram"] = s.Snapshot()
		}
	}
	return h
}

// Done is closed when the app stops running, by Stop or after a fatal
// task error.
func (a *App) Done() <-chan struct{} { return a.sup.Done() }

// Err is the first fatal task error.
func (a *App) Err() error { return a.sup.Err() }

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify.Stopping()

	// Cancel first so every loop starts unwinding at once.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- errors.Newf("panic in stop step %s: %v", name, r)
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
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	if a.adapter != nil {
		step("adapter", 2*time.Second, a.adapter.Stop)
	}
	step("diag", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	// The tick loop must be gone before the store closes.
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.backend.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// logSender delivers chat text to the log when no transport is configured.
type logSender struct{ log logx.Logger }

func (s logSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) error {
	s.log.Info("chat message (no transport)", logx.Int64("chat", to.ChatID), logx.String("text", text))
	return nil
}

func refNames(refs []action.Ref) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = string(r)
	}
	return out
}
