package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the execution engine. The app layer maps the task_engine
// config section into it.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout is the hard budget for tasks that set none.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops tasks queued longer than this. 0 disables it;
	// TaskOptions.Expires overrides it per task.
	MaxQueueDelay time.Duration

	HistorySize int
}

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	// OverlapSkipIfRunning refuses a task while another run with the same
	// name is queued or still executing, including runs abandoned after
	// their budget.
	OverlapSkipIfRunning
)

type TaskOptions struct {
	Overlap OverlapPolicy
	Expires time.Duration
}

// RunState counts queued or running instances of one task name.
type RunState struct {
	mu       sync.Mutex
	inflight int
}

func (s *RunState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *RunState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

type HistoryItem struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// TaskEvent is the payload of task.* bus events.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Budget     time.Duration `json:"budget,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Task is one unit of work. Run must honour ctx; when it does not, the
// worker still moves on once Timeout elapses.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions
	State   *RunState
}

type Snapshot struct {
	Enabled  bool `json:"enabled"`
	Workers  int  `json:"workers"`
	QueueLen int  `json:"queue_len"`
	QueueCap int  `json:"queue_cap"`
	InFlight int  `json:"in_flight"`

	// Abandoned counts runs past their budget whose goroutine has not
	// returned yet.
	Abandoned int `json:"abandoned"`

	Dropped          uint64 `json:"dropped"`
	DroppedQueueFull uint64 `json:"dropped_queue_full"`
	DroppedStale     uint64 `json:"dropped_stale"`
	DroppedStopped   uint64 `json:"dropped_stopped"`
	TimedOut         uint64 `json:"timed_out"`

	DefaultTimeout time.Duration `json:"default_timeout"`
	MaxQueueDelay  time.Duration `json:"max_queue_delay"`

	History []HistoryItem `json:"history"`
}
