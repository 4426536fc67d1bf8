package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tracksched/internal/jobs"
	"tracksched/internal/model"
	"tracksched/internal/schedule"
	"tracksched/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "America/Chicago"
	// SweepEvery is the lifecycle sweep interval; zero disables the entry.
	SweepEvery time.Duration
}

// Dispatcher is the slice of *jobs.Dispatcher the scheduler uses.
type Dispatcher interface {
	Dispatch(h jobs.Handle, budget time.Duration, opts ...jobs.DispatchOption) (string, error)
	Registry() *jobs.Registry
}

// Source lists the stored job definitions.
type Source interface {
	ListSchedules(ctx context.Context, cats ...schedule.Category) ([]model.JobDefinition, error)
}

const sweepKey = "sweep"

type entry struct {
	key     string
	defID   int64
	job     string
	spec    string
	handle  jobs.Handle
	opts    []jobs.DispatchOption
	entryID cron.EntryID
	spread  time.Duration
}

type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	loc  *time.Location
	disp Dispatcher
	src  Source

	reportExpires time.Duration

	parser  cron.Parser
	c       *cron.Cron
	entries []entry

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

// EntryInfo describes one registered cron entry.
type EntryInfo struct {
	Key          string    `json:"key"`
	DefinitionID int64     `json:"definition_id,omitempty"`
	Job          string    `json:"job"`
	Spec         string    `json:"spec"`
	Next         time.Time `json:"next,omitempty"`
	Prev         time.Time `json:"prev,omitempty"`
}

type Snapshot struct {
	Enabled  bool        `json:"enabled"`
	Running  bool        `json:"running"`
	Timezone string      `json:"timezone"`
	Entries  []EntryInfo `json:"entries"`
}

// ReconcileResult lists which definitions got cron entries.
type ReconcileResult struct {
	Registered []int64 `json:"registered"`
	Skipped    []int64 `json:"skipped,omitempty"`
}
