// Package lifecycle disables scheduled jobs once their disable time passes.
package lifecycle

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"tracksched/internal/eventbus"
	"tracksched/internal/jobs"
	"tracksched/internal/model"
	"tracksched/internal/schedule"
	"tracksched/pkg/logx"
)

// JobName is the registry key of the sweep job.
const JobName = "scheduled_task_cleanup"

// Store is the part of the trigger store the sweeper needs.
type Store interface {
	ListExpired(ctx context.Context, now time.Time) ([]model.JobDefinition, error)
	DisableExpired(ctx context.Context, id int64, now time.Time) (bool, error)
}

type Result struct {
	Disabled []int64 `json:"disabled"`
	Skipped  []int64 `json:"skipped,omitempty"`
}

type Sweeper struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	// OnDisabled runs after a sweep that disabled at least one job, so
	// the cron entries can be reconciled.
	OnDisabled func(ctx context.Context, ids []int64)
}

func New(store Store, bus eventbus.Bus, log logx.Logger) *Sweeper {
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Sweeper{store: store, bus: bus, log: log.With(logx.Component("sweeper")), now: time.Now}
}

// Sweep disables every enabled definition whose disable_at <= now. A
// definition whose trigger fails to decode is logged and left alone. A
// second sweep at the same instant changes nothing.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	now := s.now()
	due, err := s.store.ListExpired(ctx, now)
	if err != nil {
		return Result{}, errors.Wrap(err, "list expired")
	}

	var res Result
	for _, def := range due {
		if def.DisableAt == nil {
			continue
		}
		if _, err := schedule.Decode(def.Category, def.Trigger); err != nil {
			s.log.Warn("sweep.skipped", logx.ScheduleID(def.ID), logx.String("name", def.Name), logx.Err(err))
			res.Skipped = append(res.Skipped, def.ID)
			continue
		}
		changed, err := s.store.DisableExpired(ctx, def.ID, now)
		if err != nil {
			s.log.Warn("sweep.disable_failed", logx.ScheduleID(def.ID), logx.String("name", def.Name), logx.Err(err))
			res.Skipped = append(res.Skipped, def.ID)
			continue
		}
		if changed {
			s.log.Info("sweep.disabled", logx.ScheduleID(def.ID), logx.String("name", def.Name),
				logx.Time("disable_at", *def.DisableAt))
			res.Disabled = append(res.Disabled, def.ID)
		}
	}

	if len(res.Disabled) > 0 {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeSweepDisabled, Data: res})
		if s.OnDisabled != nil {
			s.OnDisabled(ctx, res.Disabled)
		}
	}
	return res, nil
}

// Spec exposes the sweep as a registry job.
func (s *Sweeper) Spec(timeLimit time.Duration) jobs.Spec {
	return jobs.Spec{
		Name:      JobName,
		Category:  schedule.Other,
		TimeLimit: timeLimit,
		Run: func(ctx context.Context, _ jobs.Params) error {
			_, err := s.Sweep(ctx)
			return err
		},
	}
}
