package notifier

import "time"

// Config controls the outbox.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

type HistoryItem struct {
	At       time.Time `json:"at"`
	Subject  string    `json:"subject"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
}

// Event is the payload of delivery.* bus events.
type Event struct {
	Subject    string    `json:"subject"`
	Recipients []string  `json:"recipients"`
	Key        string    `json:"key"`
	At         time.Time `json:"at"`
	Error      string    `json:"error,omitempty"`
}

const (
	TypeQueued    = "delivery.queued"
	TypeDeduped   = "delivery.deduped"
	TypeDropped   = "delivery.dropped"
	TypeDelivered = "delivery.sent"
	TypeFailed    = "delivery.failed"
)
