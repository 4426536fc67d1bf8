package engine

import (
	"context"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"tracksched/internal/eventbus"
	"tracksched/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, qt)
			s.inFlight.Add(-1)
		}
	}
}

// execOne runs a task under its hard budget. Run executes on its own
// goroutine; when the budget elapses the context is cancelled and the
// worker records a timeout and returns to the queue without waiting. The
// overlap slot is released only once Run really returns.
func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	t := qt.task
	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)

	if qt.expires > 0 && queueDelay > qt.expires {
		if qt.track {
			qt.state.release()
		}
		s.onStaleDropped(start, t, queueDelay)
		return
	}

	log := s.log.With(logx.String("task", t.Name), logx.String("id", t.ID))
	log.Debug("task.started", logx.Duration("queue_delay", queueDelay), logx.Duration("budget", qt.timeout))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskStarted, Time: start,
		Data: TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Budget: qt.timeout}})

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if qt.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
	}

	// settled is won by whichever side finishes first: the run handing
	// back its error, or the worker giving up on it.
	var settled atomic.Bool
	done := make(chan error, 1)
	go func() {
		var runErr error
		defer func() {
			if r := recover(); r != nil {
				log.Error("task.panic", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				runErr = errors.Newf("panic: %v", r)
			}
			if qt.track {
				qt.state.release()
			}
			if settled.CompareAndSwap(false, true) {
				done <- runErr
				return
			}
			s.abandoned.Add(-1)
			log.Warn("task.returned_after_budget", logx.Duration("dur", time.Since(start)))
		}()
		runErr = t.Run(runCtx)
	}()

	var (
		err      error
		timedOut bool
	)
	select {
	case err = <-done:
	case <-runCtx.Done():
		s.abandoned.Add(1)
		if !settled.CompareAndSwap(false, true) {
			s.abandoned.Add(-1)
			err = <-done
			break
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			timedOut = true
			err = errors.Wrapf(ErrTimeLimit, "budget %s", qt.timeout)
		} else {
			err = errors.Wrap(runCtx.Err(), "abandoned on shutdown")
		}
	}
	cancel()

	dur := time.Since(start)
	item := HistoryItem{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur, TimedOut: timedOut}
	ev := TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Budget: qt.timeout}
	switch {
	case timedOut:
		s.timedOut.Add(1)
		item.Error, ev.Error = err.Error(), err.Error()
		log.Warn("task.timeout", logx.Duration("budget", qt.timeout), logx.Duration("dur", dur))
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskTimeout, Data: ev})
	case err != nil:
		item.Error, ev.Error = err.Error(), err.Error()
		log.Warn("task.failed", logx.Err(err), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFinished, Data: ev})
	default:
		if dur >= 750*time.Millisecond {
			log.Info("task.completed", logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		} else {
			log.Debug("task.completed", logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		}
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFinished, Data: ev})
	}
	s.record(item)
}
