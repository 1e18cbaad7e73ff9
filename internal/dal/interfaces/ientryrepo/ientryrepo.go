package ientryrepo

import (
	"context"
	"time"

	"github.com/happydotemdr/hookrelay/internal/service/models/entry"
)

// IEntryRepository is durable keyed storage for queue entries partitioned by
// state. A request id exists in at most one partition at any time; all
// cross-partition movement goes through MoveTo, which claims atomically.
type IEntryRepository interface {
	// Insert adds a new entry to the given partition. Used by the producer
	// to enqueue into pending.
	Insert(ctx context.Context, state entry.State, e entry.QueueEntry) error

	// ListReady returns pending entries whose NextAttemptAt is at or before
	// now, in ascending enqueue order.
	ListReady(ctx context.Context, now time.Time) ([]entry.QueueEntry, error)

	// List returns entries from one partition in ascending enqueue order,
	// for operator inspection.
	List(ctx context.Context, state entry.State, limit, offset int) ([]entry.QueueEntry, error)

	// MoveTo atomically removes the entry from the source partition and
	// writes it, mutated, into the destination. Returns entry.ErrNotFound
	// if the entry is absent from the source, e.g. already claimed; callers
	// treat that as "skip".
	MoveTo(ctx context.Context, requestID string, from, to entry.State, mutate func(*entry.QueueEntry)) error

	// Delete permanently removes the entry from the given partition. Used
	// on successful delivery. Returns entry.ErrNotFound if absent.
	Delete(ctx context.Context, requestID string, from entry.State) error

	// Count returns the partition size. Reporting only, never control flow.
	Count(ctx context.Context, state entry.State) (int, error)

	// ReclaimStale moves processing entries whose last attempt started
	// before cutoff back to pending, returning how many were moved. Run at
	// startup to recover entries stranded by a killed pass.
	ReclaimStale(ctx context.Context, cutoff time.Time) (int, error)
}
