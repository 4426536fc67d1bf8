package engine

import "github.com/cockroachdb/errors"

var (
	ErrDisabled    = errors.New("task engine disabled")
	ErrStopped     = errors.New("task engine stopped")
	ErrStopping    = errors.New("task engine stopping")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped due to overlap policy")

	// ErrTimeLimit is recorded for runs cut off by their budget.
	ErrTimeLimit = errors.New("time limit exceeded")
)
