// Package app wires the store, engine, scheduler, jobs and HTTP API
// together and keeps them in step with the config file.
package app

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"tracksched/internal/api"
	"tracksched/internal/config"
	"tracksched/internal/crawler"
	"tracksched/internal/eventbus"
	"tracksched/internal/jobs"
	"tracksched/internal/kpi"
	"tracksched/internal/lifecycle"
	"tracksched/internal/notifier"
	"tracksched/internal/ops"
	"tracksched/internal/report"
	"tracksched/internal/runtime/supervisor"
	"tracksched/internal/storage"
	"tracksched/internal/task/engine"
	"tracksched/internal/task/scheduler"
	"tracksched/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine  *engine.Service
	sched   *scheduler.Service
	disp    *jobs.Dispatcher
	sweeper *lifecycle.Sweeper
	reports *report.Job
	outbox  *notifier.Service
	kpi     *kpi.Aggregator
	ops     *ops.Service
	http    *api.Server
}

// Status is what /api/v1/status returns.
type Status struct {
	Engine     engine.Snapshot        `json:"engine"`
	Scheduler  scheduler.Snapshot     `json:"scheduler"`
	Deliveries []notifier.HistoryItem `json:"deliveries"`
	Supervisor supervisor.Counters    `json:"supervisor"`
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg)
}

func build(cfgm *config.Manager, cfg *config.Config) (*App, error) {
	logSvc, log := logx.New(mapLogging(cfg))
	fail := func(err error) (*App, error) {
		_ = logSvc.Close()
		return nil, err
	}
	bus := eventbus.New()

	sc, err := mapStorage(cfg)
	if err != nil {
		return fail(err)
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return fail(errors.Wrap(err, "open storage"))
	}
	fail = func(err error) (*App, error) {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	engCfg, err := mapEngine(cfg)
	if err != nil {
		return fail(err)
	}
	schedCfg, err := mapScheduler(cfg)
	if err != nil {
		return fail(err)
	}
	rep, err := mapReport(cfg)
	if err != nil {
		return fail(err)
	}
	delivery, err := mapDelivery(cfg)
	if err != nil {
		return fail(err)
	}
	cmds, err := mapCommands(cfg)
	if err != nil {
		return fail(err)
	}
	specs, err := crawler.Specs(cmds, log)
	if err != nil {
		return fail(err)
	}

	eng := engine.New(engCfg, log.With(logx.Component("taskengine")), bus)
	sweeper := lifecycle.New(store, bus, log)
	sink := report.LogDeliverer{Log: log.With(logx.Component("report")), Bus: bus}
	outbox := notifier.New(delivery, sink, log, bus)
	reports := report.NewJob(store, outbox, nil, log)
	specs = append(specs, reports.Spec(rep.timeLimit), sweeper.Spec(defaultSweepTimeLimit))

	reg, err := jobs.NewRegistry(specs...)
	if err != nil {
		return fail(err)
	}
	disp := jobs.NewDispatcher(reg, eng, log.With(logx.Component("dispatcher")))
	sched := scheduler.New(schedCfg, disp, store, log, scheduler.WithReportExpires(rep.expires))
	reports.SetLocation(sched.Location())

	sweeper.OnDisabled = func(ctx context.Context, ids []int64) {
		if _, err := sched.Reconcile(ctx); err != nil {
			log.Warn("reconcile after sweep failed", logx.Int("disabled", len(ids)), logx.Err(err))
		}
	}

	agg := kpi.NewAggregator(store, mapIdentity(cfg))
	agg.SetLocation(sched.Location())
	opsSvc := ops.New(ops.Deps{
		Store:      store,
		Dispatcher: disp,
		Scheduler:  sched,
		KPI:        agg,
		Sweeper:    sweeper,
		Bus:        bus,
		Log:        log,
	})

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.Component("app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		engine:  eng,
		sched:   sched,
		disp:    disp,
		sweeper: sweeper,
		reports: reports,
		outbox:  outbox,
		kpi:     agg,
		ops:     opsSvc,
	}
	if cfg.HTTP.Enabled {
		a.http = api.New(mapHTTP(cfg), api.Deps{Ops: opsSvc, Bus: bus, Status: func() any { return a.Status() }, Log: log})
	}
	a.log.Info("built",
		logx.Int("jobs", len(reg.Names())),
		logx.String("storage", sc.Path),
		logx.Bool("http", a.http != nil),
	)
	return a, nil
}

// Ops is the operation surface shared by the HTTP API and the CLI.
func (a *App) Ops() *ops.Service { return a.ops }

func (a *App) Status() Status {
	st := Status{Engine: a.engine.Snapshot(), Scheduler: a.sched.Snapshot(), Deliveries: a.outbox.History()}
	if a.sup != nil {
		st.Supervisor = a.sup.Counters()
	}
	return st
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

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start loads the schedules and begins triggering, executing and serving.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapEngine(cfg); err != nil {
			return err
		}
		if _, err := mapScheduler(cfg); err != nil {
			return err
		}
		if _, err := mapReport(cfg); err != nil {
			return err
		}
		if _, err := mapDelivery(cfg); err != nil {
			return err
		}
		cmds, err := mapCommands(cfg)
		if err != nil {
			return err
		}
		_, err = crawler.Specs(cmds, logx.Nop())
		return err
	})

	a.outbox.Start(a.sup.Context())
	if a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
	}
	res, err := a.sched.Reconcile(a.sup.Context())
	if err != nil {
		return errors.Wrap(err, "load schedules")
	}
	a.log.Info("schedules loaded", logx.Int("registered", len(res.Registered)), logx.Int("skipped", len(res.Skipped)))
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	if a.http != nil {
		a.sup.Go("http", a.http.Serve)
	}

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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

// Stop unwinds in reverse dependency order. Each step is bounded so one
// component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "outbox", 2*time.Second, func(c context.Context) error { a.outbox.Stop(c); return nil })
	a.step(ctx, "supervisor", 4*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// Close releases the store and log sinks of an app that was never started.
func (a *App) Close() error {
	err := a.store.Close()
	if lerr := a.logs.Close(); err == nil {
		err = lerr
	}
	return err
}

func (a *App) restartNeeded(sections []string) {
	if len(sections) == 0 {
		return
	}
	a.log.Warn("config change needs a restart to take effect", logx.String("sections", strings.Join(sections, ",")))
}
