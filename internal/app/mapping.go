package app

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"tracksched/internal/api"
	"tracksched/internal/config"
	"tracksched/internal/crawler"
	"tracksched/internal/kpi"
	"tracksched/internal/notifier"
	"tracksched/internal/schedule"
	"tracksched/internal/storage"
	"tracksched/internal/task/engine"
	"tracksched/internal/task/scheduler"
	"tracksched/pkg/logx"
)

const (
	defaultWorkers        = 4
	defaultQueueSize      = 256
	defaultHistorySize    = 200
	defaultTaskTimeout    = 2500 * time.Second
	defaultSweepEvery     = time.Minute
	defaultReportLimit    = 10 * time.Minute
	defaultStoragePath    = "data/tracksched.db"
	defaultBusyTimeout    = time.Second
	defaultSweepTimeLimit = time.Minute
	defaultDedupWindow    = 10 * time.Minute

	defaultDeliveryRetries = 3
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "none" {
		return storage.Config{}, errors.WithHint(storage.ErrDisabled, "schedules live in the store; set storage.driver to sqlite")
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = defaultStoragePath
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
}

// mapEngine fills engine defaults. An omitted task_engine.enabled follows
// scheduler.enabled.
func mapEngine(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	enabled := cfg.Scheduler.Enabled
	if te.Enabled != nil {
		enabled = *te.Enabled
	}
	if cfg.Scheduler.Enabled && !enabled {
		return engine.Config{}, errors.New("task_engine.enabled cannot be false while scheduler.enabled is true")
	}
	workers := te.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := te.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	history := te.HistorySize
	if history <= 0 {
		history = defaultHistorySize
	}
	timeout, err := config.ParseDurationOrDefault("task_engine.default_timeout", te.DefaultTimeout, defaultTaskTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Enabled:        enabled,
		Workers:        workers,
		QueueSize:      queueSize,
		DefaultTimeout: timeout,
		MaxQueueDelay:  maxDelay,
		HistorySize:    history,
	}, nil
}

func mapScheduler(cfg *config.Config) (scheduler.Config, error) {
	every, err := config.ParseDurationKeepZero("scheduler.sweep_every", cfg.Scheduler.SweepEvery, defaultSweepEvery)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:    cfg.Scheduler.Enabled,
		Timezone:   cfg.Scheduler.Timezone,
		SweepEvery: every,
	}, nil
}

type reportSettings struct {
	timeLimit time.Duration
	expires   time.Duration
}

func mapReport(cfg *config.Config) (reportSettings, error) {
	limit, err := config.ParseDurationOrDefault("report.time_limit", cfg.Report.TimeLimit, defaultReportLimit)
	if err != nil {
		return reportSettings{}, err
	}
	expires, err := config.ParseDurationOrDefault("report.expires", cfg.Report.Expires, scheduler.DefaultReportExpires)
	if err != nil {
		return reportSettings{}, err
	}
	return reportSettings{timeLimit: limit, expires: expires}, nil
}

// mapCommands overlays the configured jobs on the stock crawler catalog.
func mapCommands(cfg *config.Config) ([]crawler.Command, error) {
	override := make([]crawler.Command, 0, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		name := strings.TrimSpace(j.Name)
		cat := schedule.Import
		if strings.TrimSpace(j.Category) != "" {
			c, err := schedule.ParseCategory(j.Category)
			if err != nil {
				return nil, errors.Wrapf(err, "jobs[%s].category", name)
			}
			cat = c
		}
		limit, err := config.ParseDurationField("jobs["+name+"].time_limit", j.TimeLimit)
		if err != nil {
			return nil, err
		}
		override = append(override, crawler.Command{
			Name:      name,
			Category:  cat,
			Command:   j.Command,
			Dir:       j.Dir,
			Env:       j.Env,
			TimeLimit: limit,
		})
	}
	return crawler.Merge(crawler.DefaultCatalog(), override), nil
}

func mapDelivery(cfg *config.Config) (notifier.Config, error) {
	d := cfg.Report.Delivery
	base, err := config.ParseDurationField("report.delivery.retry_base", d.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("report.delivery.retry_max_delay", d.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.ParseDurationKeepZero("report.delivery.dedup_window", d.DedupWindow, defaultDedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	retries := d.RetryMax
	switch {
	case retries == 0:
		retries = defaultDeliveryRetries
	case retries < 0:
		retries = 0
	}
	return notifier.Config{
		Enabled:       d.Enabled,
		Workers:       d.Workers,
		QueueSize:     d.QueueSize,
		RatePerSec:    d.RatePerSec,
		RetryMax:      retries,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		DedupWindow:   window,
	}, nil
}

func mapIdentity(cfg *config.Config) kpi.Identity {
	return kpi.Identity{
		InternalSystem: cfg.KPI.InternalSystem,
		Hub:            cfg.KPI.Hub,
		ReadMethod:     cfg.KPI.ReadMethod,
		WriteMethod:    cfg.KPI.WriteMethod,
	}
}

func mapHTTP(cfg *config.Config) api.Config {
	return api.Config{
		Addr:        cfg.HTTP.Addr,
		RunNowRPS:   cfg.HTTP.RunNowRPS,
		RunNowBurst: cfg.HTTP.RunNowBurst,
		Pprof:       cfg.HTTP.Pprof,
	}
}
