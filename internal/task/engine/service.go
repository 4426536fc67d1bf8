package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"tracksched/internal/eventbus"
	rtsup "tracksched/internal/runtime/supervisor"
	"tracksched/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q chan queuedTask

	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	stateMu sync.Mutex
	states  map[string]*RunState

	hmu     sync.Mutex
	history []HistoryItem

	inFlight  atomic.Int32
	abandoned atomic.Int32

	dropped          atomic.Uint64
	droppedQueueFull atomic.Uint64
	droppedStale     atomic.Uint64
	droppedStopped   atomic.Uint64
	timedOut         atomic.Uint64

	lastQueueFullWarnAt atomic.Int64
	lastStaleWarnAt     atomic.Int64
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
	expires    time.Duration
	state      *RunState
	track      bool
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{
		cfg:    withDefaults(cfg),
		log:    log,
		bus:    bus,
		states: make(map[string]*RunState),
	}
}

func withDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	return cfg
}

// NewTaskID returns a fresh task id.
func NewTaskID() string { return "tsk-" + uuid.NewString() }

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config and restarts workers when the pool shape changed.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = withDefaults(cfg)
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	switch {
	case running && !cfg.Enabled:
		s.Stop(ctx)
	case running && (prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize):
		s.Stop(ctx)
		s.Start(ctx)
	case !running && cfg.Enabled:
		s.Start(ctx)
	}
}

// Start is idempotent. Queued tasks do not survive a Stop/Start cycle.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	if s.stopCh != nil {
		done := s.stopDone
		s.mu.Unlock()
		if done == nil {
			return
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		if s.stopCh != nil {
			s.mu.Unlock()
			return
		}
	}

	cfg := s.cfg
	s.q = make(chan queuedTask, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	stopCh, queue := s.stopCh, s.q
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.Component("taskengine"))))
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return nil
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}

	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cap(queue)),
		logx.Duration("default_timeout", cfg.DefaultTimeout))
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup, queue := s.sup, s.q
	s.mu.Unlock()

	sup.Cancel()
	go func() {
		_ = sup.Wait(context.Background())
		s.drain(queue)
		s.mu.Lock()
		s.q, s.stopCh, s.stopDone, s.sup = nil, nil, nil, nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("task engine stopped")
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

// Enqueue hands t to the pool without blocking. A full queue drops the task
// and returns ErrQueueFull.
func (s *Service) Enqueue(t Task) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.New("task Name is required")
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = NewTaskID()
	}

	s.mu.Lock()
	cfg := s.cfg
	switch {
	case !cfg.Enabled:
		s.mu.Unlock()
		return ErrDisabled
	case s.q == nil || s.stopCh == nil:
		s.mu.Unlock()
		return ErrStopped
	case s.stopDone != nil:
		s.mu.Unlock()
		return ErrStopping
	}

	now := time.Now()
	qt := queuedTask{task: t, enqueuedAt: now, timeout: t.Timeout, expires: t.Opt.Expires}
	if qt.timeout <= 0 {
		qt.timeout = cfg.DefaultTimeout
	}
	if qt.expires <= 0 {
		qt.expires = cfg.MaxQueueDelay
	}
	qt.state = t.State
	if qt.state == nil {
		qt.state = s.stateFor(t.Name)
	}
	if t.Opt.Overlap == OverlapSkipIfRunning {
		qt.track = true
		if !qt.state.tryAcquire() {
			s.mu.Unlock()
			s.log.Debug("task skipped due to overlap", logx.String("task", t.Name), logx.String("id", t.ID))
			return ErrOverlapSkip
		}
	}

	// Sent under mu so Stop's drain sees every task that made it in.
	q := s.q
	select {
	case q <- qt:
		s.mu.Unlock()
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskQueued, Time: now,
			Data: TaskEvent{ID: t.ID, Name: t.Name, Budget: qt.timeout}})
		return nil
	default:
		s.mu.Unlock()
		if qt.track {
			qt.state.release()
		}
		s.onQueueFullDropped(now, t, q)
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, q := s.cfg, s.q
	s.mu.Unlock()

	s.hmu.Lock()
	h := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()

	snap := Snapshot{
		Enabled:          cfg.Enabled,
		Workers:          cfg.Workers,
		InFlight:         int(s.inFlight.Load()),
		Abandoned:        int(s.abandoned.Load()),
		Dropped:          s.dropped.Load(),
		DroppedQueueFull: s.droppedQueueFull.Load(),
		DroppedStale:     s.droppedStale.Load(),
		DroppedStopped:   s.droppedStopped.Load(),
		TimedOut:         s.timedOut.Load(),
		DefaultTimeout:   cfg.DefaultTimeout,
		MaxQueueDelay:    cfg.MaxQueueDelay,
		History:          h,
	}
	if q != nil {
		snap.QueueLen, snap.QueueCap = len(q), cap(q)
	}
	return snap
}

func (s *Service) stateFor(name string) *RunState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.states[name]
	if st == nil {
		st = &RunState{}
		s.states[name] = st
	}
	return st
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

func shouldWarn(last *atomic.Int64, now time.Time) bool {
	prev := last.Load()
	n := now.UnixNano()
	if prev != 0 && n-prev < int64(warnThrottleEvery) {
		return false
	}
	return last.CompareAndSwap(prev, n)
}

func (s *Service) onQueueFullDropped(now time.Time, t Task, q chan queuedTask) {
	s.dropped.Add(1)
	s.droppedQueueFull.Add(1)
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskDropped, Time: now,
		Data: TaskEvent{ID: t.ID, Name: t.Name, Error: "queue_full"}})
	if shouldWarn(&s.lastQueueFullWarnAt, now) {
		s.log.Warn("task dropped: queue full",
			logx.String("task", t.Name),
			logx.String("id", t.ID),
			logx.Int("queue_cap", cap(q)),
			logx.Int64("dropped_queue_full", int64(s.droppedQueueFull.Load())),
		)
	}
}

// drain drops whatever the stopped workers left in q and frees the overlap
// slots those tasks hold, so the same names can be queued after a restart.
func (s *Service) drain(q chan queuedTask) {
	now := time.Now()
	n := 0
	for {
		select {
		case qt := <-q:
			if qt.track {
				qt.state.release()
			}
			t := qt.task
			s.dropped.Add(1)
			s.droppedStopped.Add(1)
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskDropped, Time: now,
				Data: TaskEvent{ID: t.ID, Name: t.Name, Error: "stopped"}})
			s.record(HistoryItem{ID: t.ID, Name: t.Name, Started: now,
				QueueDelay: max(now.Sub(qt.enqueuedAt), 0), Error: "stopped"})
			n++
		default:
			if n > 0 {
				s.log.Warn("queued tasks dropped on stop", logx.Int("count", n))
			}
			return
		}
	}
}

func (s *Service) onStaleDropped(now time.Time, t Task, queueDelay time.Duration) {
	s.dropped.Add(1)
	s.droppedStale.Add(1)
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskDropped, Time: now,
		Data: TaskEvent{ID: t.ID, Name: t.Name, QueueDelay: queueDelay, Error: "expired"}})
	s.record(HistoryItem{ID: t.ID, Name: t.Name, Started: now, QueueDelay: queueDelay, Error: "expired"})
	if shouldWarn(&s.lastStaleWarnAt, now) {
		s.log.Warn("task dropped: expired in queue",
			logx.String("task", t.Name),
			logx.String("id", t.ID),
			logx.Duration("queue_delay", queueDelay),
		)
	}
}
