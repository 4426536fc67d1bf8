package app

import (
	"context"
	"strings"

	"tracksched/internal/config"
	"tracksched/pkg/logx"
)

// applyConfig pushes a validated config into the running components.
// Storage, HTTP listener, report and job catalog changes only log a
// restart notice.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	changed, attrs, restart := config.SummarizeChange(prev, next)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogging(next))

	if engCfg, err := mapEngine(next); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, engCfg)
	}

	if schedCfg, err := mapScheduler(next); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.sched.Enabled()
		a.sched.Apply(schedCfg)
		a.reports.SetLocation(a.sched.Location())
		a.kpi.SetLocation(a.sched.Location())
		switch {
		case wasEnabled && !schedCfg.Enabled:
			a.log.Info("scheduler disabled via config")
			a.sched.Stop(ctx)
		case !wasEnabled && schedCfg.Enabled:
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}

	if dc, err := mapDelivery(next); err != nil {
		a.log.Warn("invalid report.delivery config; keeping previous", logx.Err(err))
	} else {
		a.outbox.Apply(dc)
	}
	a.kpi.SetIdentity(mapIdentity(next))
	if a.http != nil {
		a.http.SetRunNowLimit(next.HTTP.RunNowRPS, next.HTTP.RunNowBurst)
	}
	a.restartNeeded(restart)

	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
