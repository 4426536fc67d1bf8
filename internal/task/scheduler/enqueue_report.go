package scheduler

import (
	"time"

	"github.com/cockroachdb/errors"

	"tracksched/internal/task/engine"
	logx "tracksched/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// reportEnqueueError logs a failed firing, at most once per key per
// throttle window. Overlap skips are routine and stay at debug.
func (s *Service) reportEnqueueError(key string, err error) {
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("schedule trigger skipped", logx.String("key", key), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[key]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[key] = now
	s.enqMu.Unlock()

	s.log.Warn("schedule failed to enqueue task", logx.String("key", key), logx.Err(err))
}
