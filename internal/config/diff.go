package config

import (
	"reflect"
	"sort"
	"strings"

	logx "tracksched/pkg/logx"
)

// SummarizeChange lists the changed top-level sections and a few fields
// worth logging. restart reports sections that only apply after a restart.
func SummarizeChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.sweep_every", strings.TrimSpace(newCfg.Scheduler.SweepEvery)),
		)
	}

	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "task_engine")
		te := newCfg.TaskEngine
		enabled := newCfg.Scheduler.Enabled
		if te.Enabled != nil {
			enabled = *te.Enabled
		}
		attrs = append(attrs,
			logx.Bool("task_engine.enabled", enabled),
			logx.Int("task_engine.workers", te.Workers),
			logx.Int("task_engine.queue_size", te.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(te.DefaultTimeout)),
			logx.String("task_engine.max_queue_delay", strings.TrimSpace(te.MaxQueueDelay)),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		if oldCfg.HTTP.Enabled != newCfg.HTTP.Enabled || oldCfg.HTTP.Addr != newCfg.HTTP.Addr || oldCfg.HTTP.Pprof != newCfg.HTTP.Pprof {
			restart = append(restart, "http")
		}
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Float64("http.run_now_rps", newCfg.HTTP.RunNowRPS),
		)
	}

	if oldCfg.KPI != newCfg.KPI {
		changed = append(changed, "kpi")
	}
	if oldCfg.Report != newCfg.Report {
		changed = append(changed, "report")
		o, n := oldCfg.Report, newCfg.Report
		if o.TimeLimit != n.TimeLimit || o.Expires != n.Expires || o.Delivery.Enabled != n.Delivery.Enabled {
			restart = append(restart, "report")
		}
		attrs = append(attrs,
			logx.Bool("report.delivery.enabled", n.Delivery.Enabled),
			logx.Int("report.delivery.rate_per_sec", n.Delivery.RatePerSec),
		)
	}

	if jobs := diffJobs(oldCfg.Jobs, newCfg.Jobs); len(jobs) > 0 {
		changed = append(changed, "jobs")
		restart = append(restart, "jobs")
		attrs = append(attrs, logx.Strings("jobs.changed", jobs))
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}

// diffJobs returns the names of jobs added, removed or edited.
func diffJobs(oldJobs, newJobs []JobConfig) []string {
	index := func(js []JobConfig) map[string]JobConfig {
		m := make(map[string]JobConfig, len(js))
		for _, j := range js {
			m[strings.TrimSpace(j.Name)] = j
		}
		return m
	}
	o, n := index(oldJobs), index(newJobs)
	set := map[string]struct{}{}
	for k := range o {
		set[k] = struct{}{}
	}
	for k := range n {
		set[k] = struct{}{}
	}
	var out []string
	for name := range set {
		oj, inOld := o[name]
		nj, inNew := n[name]
		if inOld != inNew || !reflect.DeepEqual(oj, nj) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
