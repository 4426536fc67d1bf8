package notifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"tracksched/internal/eventbus"
	"tracksched/internal/report"
	rtsup "tracksched/internal/runtime/supervisor"
	"tracksched/pkg/logx"
)

var (
	ErrQueueFull = errors.New("delivery queue full")
	ErrStopped   = errors.New("delivery outbox stopped")
)

const historyCap = 300

// Sink hands a report to its destination.
type Sink interface {
	Deliver(ctx context.Context, r report.Report) error
}

type job struct {
	r   report.Report
	key string
}

// Service implements report.Deliverer on top of a queue, a worker pool, a
// rate limit, retries and dedup. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log  logx.Logger
	sink Sink
	bus  eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sink Sink, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{
		sink:  sink,
		log:   log.With(logx.Component("notifier")),
		bus:   bus,
		dedup: map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps limits and retry policy. Workers and QueueSize take effect on
// the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	s.cfg = cfg
	// burst = rate so short spikes pass
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent. A disabled outbox starts nothing.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	// outbox failures never take the app down
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	sup, q := s.sup, s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("delivery worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("outbox started", logx.Int("workers", workers))
}

// Stop closes intake and drains the queue until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil {
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
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue, s.sup, s.stopDone = nil, nil, nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Deliver queues r. A duplicate inside the dedup window is acknowledged
// and dropped.
func (s *Service) Deliver(ctx context.Context, r report.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		sink := s.sink
		s.mu.Unlock()
		return sink.Deliver(ctx, r)
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window, maxEntries := s.cfg.DedupWindow, s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := dedupKey(r)
	if window > 0 && !s.dedupAllow(key, window, maxEntries) {
		s.publish(TypeDeduped, r, key, "")
		s.log.Info("report delivery deduped", logx.String("subject", r.Subject))
		return nil
	}

	select {
	case q <- job{r: r, key: key}:
		s.publish(TypeQueued, r, key, "")
		return nil
	default:
		s.publish(TypeDropped, r, key, ErrQueueFull.Error())
		s.forget(key)
		return ErrQueueFull
	}
}

func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, r report.Report, key, errText string) {
	now := time.Now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: Event{
		Subject: r.Subject, Recipients: r.Recipients, Key: key, At: now, Error: errText,
	}})
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim, sink := s.cfg, s.limiter, s.sink
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	attempt := 1
	for ; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := sink.Deliver(callCtx, j.r)
		cancel()
		if err == nil {
			s.appendHistory(HistoryItem{At: time.Now(), Subject: j.r.Subject, Attempts: attempt})
			s.publish(TypeDelivered, j.r, j.key, "")
			return
		}
		lastErr = err
		s.log.Debug("report delivery failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt == maxAttempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	// let a later run retry the same report
	s.forget(j.key)
	s.appendHistory(HistoryItem{At: time.Now(), Subject: j.r.Subject, Attempts: attempt, Error: lastErr.Error()})
	s.publish(TypeFailed, j.r, j.key, lastErr.Error())
	s.log.Warn("report delivery gave up", logx.String("subject", j.r.Subject), logx.Int("attempts", attempt), logx.Err(lastErr))
}

func dedupKey(r report.Report) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(r.Subject))
	_, _ = h.Write([]byte("|" + strings.Join(r.Recipients, ",") + "|"))
	_, _ = fmt.Fprintf(h, "%d|%d|%d", r.From.UnixMilli(), r.To.Truncate(time.Minute).UnixMilli(), len(r.Rows))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(key string, window time.Duration, maxEntries int) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)

	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > maxEntries {
		var (
			oldest string
			at     time.Time
		)
		for k, t := range s.dedup {
			if oldest == "" || t.Before(at) {
				oldest, at = k, t
			}
		}
		delete(s.dedup, oldest)
	}
	return true
}

func (s *Service) forget(key string) {
	s.dmu.Lock()
	delete(s.dedup, key)
	s.dmu.Unlock()
}

// retryDelay is the wait before attempt+1: base * 2^(attempt-1), capped,
// with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = min(d, cfg.RetryMaxDelay)
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
