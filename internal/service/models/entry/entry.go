package entry

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by the entry store when an entry is absent from the
// expected source partition, e.g. when another pass already claimed it.
var ErrNotFound = errors.New("entry not found in partition")

// State is the partition a queue entry currently lives in.
type State string

const (
	// StatePending holds entries waiting for a delivery attempt.
	StatePending State = "pending"
	// StateProcessing holds entries claimed by an in-flight pass.
	StateProcessing State = "processing"
	// StateFailed holds terminally failed entries. No automatic transitions
	// happen from here.
	StateFailed State = "failed"
)

// States lists all partitions in a fixed order, used for reporting.
var States = []State{StatePending, StateProcessing, StateFailed}

// QueueEntry is the unit of work: one webhook payload awaiting delivery.
type QueueEntry struct {
	RequestID     string          `json:"request_id"`
	Payload       json.RawMessage `json:"payload"`
	RetryCount    int             `json:"retry_count"`
	FailureReason string          `json:"failure_reason,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	LastAttemptAt time.Time       `json:"last_attempt_at,omitempty"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
}

// PartitionCounts is a snapshot of the partition sizes, used for reporting only.
type PartitionCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
}

// PassSummary is the value returned by one processing pass. Counters are
// accumulated per pass rather than kept as process-wide state.
type PassSummary struct {
	Delivered int           `json:"delivered"`
	Requeued  int           `json:"requeued"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`

	CountsBefore PartitionCounts `json:"counts_before"`
	CountsAfter  PartitionCounts `json:"counts_after"`
}
