package jobs

import (
	"time"

	"github.com/cockroachdb/errors"

	"tracksched/internal/task/engine"
	"tracksched/pkg/logx"
)

// Submitter accepts work without blocking. *engine.Service implements it.
type Submitter interface {
	Enqueue(t engine.Task) error
}

type Dispatcher struct {
	reg *Registry
	sub Submitter
	log logx.Logger
}

func NewDispatcher(reg *Registry, sub Submitter, log logx.Logger) *Dispatcher {
	return &Dispatcher{reg: reg, sub: sub, log: log.With(logx.Component("dispatcher"))}
}

func (d *Dispatcher) Registry() *Registry { return d.reg }

type DispatchOption func(*engine.TaskOptions)

// SkipIfRunning refuses the dispatch while a run of the same job is queued
// or executing.
func SkipIfRunning() DispatchOption {
	return func(o *engine.TaskOptions) { o.Overlap = engine.OverlapSkipIfRunning }
}

// Expires drops the run if it waits in the queue longer than after.
func Expires(after time.Duration) DispatchOption {
	return func(o *engine.TaskOptions) { o.Expires = after }
}

// Dispatch submits h once and returns its task id. The run is cut off after
// budget; a non-positive budget falls back to the job's time limit and then
// to the engine default. Nothing is retried: the outcome shows up only in
// the log tables and the engine history.
func (d *Dispatcher) Dispatch(h Handle, budget time.Duration, opts ...DispatchOption) (string, error) {
	if h.spec.Run == nil {
		return "", errors.Wrap(ErrUnknownJob, "empty handle")
	}
	if budget <= 0 {
		budget = h.TimeLimit()
	}
	var opt engine.TaskOptions
	for _, o := range opts {
		o(&opt)
	}

	id := engine.NewTaskID()
	err := d.sub.Enqueue(engine.Task{
		ID:      id,
		Name:    h.Name(),
		Timeout: budget,
		Run:     h.run,
		Opt:     opt,
	})
	if err != nil {
		if errors.Is(err, engine.ErrOverlapSkip) {
			d.log.Debug("dispatch skipped: already running", logx.Job(h.Name()))
		} else {
			d.log.Warn("dispatch failed", logx.Job(h.Name()), logx.Err(err))
		}
		return "", errors.Wrapf(err, "dispatch %s", h.Name())
	}
	d.log.Info("job dispatched", logx.Job(h.Name()), logx.String("id", id), logx.Duration("budget", budget))
	return id, nil
}

// DispatchName resolves name and dispatches it under its own time limit.
// ErrUnknownJob is returned before anything is queued.
func (d *Dispatcher) DispatchName(name string, opts ...DispatchOption) (string, error) {
	h, err := d.reg.Resolve(name)
	if err != nil {
		d.log.Error("dispatch rejected", logx.Job(name), logx.Err(err))
		return "", err
	}
	return d.Dispatch(h, 0, opts...)
}
