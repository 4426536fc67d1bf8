package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Validate checks everything that can be checked without opening
// resources: durations, bounds, timezone, storage driver and job entries.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" && !strings.EqualFold(tz, "local") {
		if _, err := time.LoadLocation(tz); err != nil {
			return errors.Wrapf(err, "scheduler.timezone: invalid %q", tz)
		}
	}
	te := cfg.TaskEngine
	switch {
	case te.Workers < 0:
		return errors.New("task_engine.workers must be >= 0")
	case te.QueueSize < 0:
		return errors.New("task_engine.queue_size must be >= 0")
	case te.HistorySize < 0:
		return errors.New("task_engine.history_size must be >= 0")
	}
	if cfg.Scheduler.Enabled && te.Enabled != nil && !*te.Enabled {
		return errors.New("task_engine.enabled cannot be false while scheduler.enabled is true")
	}

	durations := []struct{ path, raw string }{
		{"scheduler.sweep_every", cfg.Scheduler.SweepEvery},
		{"task_engine.default_timeout", te.DefaultTimeout},
		{"task_engine.max_queue_delay", te.MaxQueueDelay},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"report.time_limit", cfg.Report.TimeLimit},
		{"report.expires", cfg.Report.Expires},
		{"report.delivery.retry_base", cfg.Report.Delivery.RetryBase},
		{"report.delivery.retry_max_delay", cfg.Report.Delivery.RetryMaxDelay},
		{"report.delivery.dedup_window", cfg.Report.Delivery.DedupWindow},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "none":
	default:
		return errors.Newf("storage.driver: unknown %q", cfg.Storage.Driver)
	}
	if cfg.HTTP.RunNowRPS < 0 || cfg.HTTP.RunNowBurst < 0 {
		return errors.New("http.run_now_rps and http.run_now_burst must be >= 0")
	}

	seen := map[string]bool{}
	for i, j := range cfg.Jobs {
		name := strings.TrimSpace(j.Name)
		if name == "" {
			return errors.Newf("jobs[%d].name required", i)
		}
		if seen[name] {
			return errors.Newf("jobs[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		if strings.TrimSpace(j.Command) == "" {
			return errors.Newf("jobs[%d] (%s): command required", i, name)
		}
		switch strings.ToLower(strings.TrimSpace(j.Category)) {
		case "", "import", "export", "other":
		default:
			return errors.Newf("jobs[%d] (%s): category must be Import, Export or Other", i, name)
		}
		if _, err := ParseDurationField("jobs."+name+".time_limit", j.TimeLimit); err != nil {
			return err
		}
	}
	return nil
}
