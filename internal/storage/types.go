package storage

import (
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrDisabled  = errors.New("storage disabled")
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate name")
)

// Config configures storage. Driver is "sqlite" (the default); Path may be
// ":memory:" for throwaway databases.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

// RequestLogFilter narrows a request log query. Zero values do not filter.
type RequestLogFilter struct {
	Website string
	Since   time.Time
	Until   time.Time
}
