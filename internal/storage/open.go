package storage

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"tracksched/internal/model"
	"tracksched/internal/schedule"
	"tracksched/pkg/logx"
)

// Schedules is the trigger store: job definitions and the triggers they own.
type Schedules interface {
	CreateSchedule(ctx context.Context, def *model.JobDefinition) error
	UpdateSchedule(ctx context.Context, def *model.JobDefinition) error
	DeleteSchedule(ctx context.Context, id int64) error
	GetSchedule(ctx context.Context, id int64) (model.JobDefinition, error)
	// ListSchedules returns definitions of the given categories, or all
	// of them when none are given, ordered by id.
	ListSchedules(ctx context.Context, cats ...schedule.Category) ([]model.JobDefinition, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	// ListExpired returns enabled definitions whose disable_at <= now.
	ListExpired(ctx context.Context, now time.Time) ([]model.JobDefinition, error)
	// DisableExpired turns the trigger off if it is still enabled and
	// still past its disable_at. It reports whether a row changed.
	DisableExpired(ctx context.Context, id int64, now time.Time) (bool, error)
}

// Logs holds the append-only tables written by job execution.
type Logs interface {
	AppendRequestLog(ctx context.Context, rec *model.RequestLog) error
	ListRequestLogs(ctx context.Context, f RequestLogFilter) ([]model.RequestLog, error)
	AppendTraceReport(ctx context.Context, rec *model.TraceReport) error
	ListTraceReports(ctx context.Context, from, to time.Time) ([]model.TraceReport, error)
	UpsertWebsite(ctx context.Context, w model.Website) error
	ListWebsites(ctx context.Context) ([]model.Website, error)
}

type Store interface {
	Schedules
	Logs
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite", "sqlite3":
		st, err := openSQLite(cfg, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "none":
		return nil, ErrDisabled
	default:
		return nil, errors.Newf("unknown storage driver %q", driver)
	}
}
