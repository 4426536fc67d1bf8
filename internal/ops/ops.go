// Package ops implements the operations the HTTP API and the CLI expose:
// schedule CRUD, run-now, KPI computation, sweeps and log ingestion. Every
// operation returns a JSON friendly view or a classified error.
package ops

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"tracksched/internal/eventbus"
	"tracksched/internal/jobs"
	"tracksched/internal/kpi"
	"tracksched/internal/lifecycle"
	"tracksched/internal/model"
	"tracksched/internal/storage"
	"tracksched/internal/task/scheduler"
	"tracksched/pkg/logx"
)

// ErrInvalidInput marks a request the caller has to fix.
var ErrInvalidInput = errors.New("invalid input")

// Dispatcher is the part of *jobs.Dispatcher ops uses.
type Dispatcher interface {
	Dispatch(h jobs.Handle, budget time.Duration, opts ...jobs.DispatchOption) (string, error)
	DispatchName(name string, opts ...jobs.DispatchOption) (string, error)
	Registry() *jobs.Registry
}

// Scheduler is the part of *scheduler.Service ops uses.
type Scheduler interface {
	Reconcile(ctx context.Context) (scheduler.ReconcileResult, error)
	Resolve(def model.JobDefinition) (jobs.Handle, []jobs.DispatchOption, error)
	NextRun(id int64) (time.Time, bool)
}

type Deps struct {
	Store      storage.Store
	Dispatcher Dispatcher
	Scheduler  Scheduler
	KPI        *kpi.Aggregator
	Sweeper    *lifecycle.Sweeper
	Bus        eventbus.Bus
	Log        logx.Logger
}

type Service struct {
	store   storage.Store
	disp    Dispatcher
	sched   Scheduler
	kpi     *kpi.Aggregator
	sweeper *lifecycle.Sweeper
	bus     eventbus.Bus
	log     logx.Logger
}

func New(d Deps) *Service {
	bus := d.Bus
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{
		store:   d.Store,
		disp:    d.Dispatcher,
		sched:   d.Scheduler,
		kpi:     d.KPI,
		sweeper: d.Sweeper,
		bus:     bus,
		log:     d.Log.With(logx.Component("ops")),
	}
}

// reconcile refreshes the cron entries after a schedule change. A failure
// is logged; the change itself is already committed.
func (s *Service) reconcile(ctx context.Context) {
	if s.sched == nil {
		return
	}
	if _, err := s.sched.Reconcile(ctx); err != nil {
		s.log.Warn("reconcile after change failed", logx.Err(err))
	}
}

func invalid(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidInput)
}
