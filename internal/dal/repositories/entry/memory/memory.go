// Package memory implements the entry repository in process memory.
// Safe for concurrent use. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/happydotemdr/hookrelay/internal/dal/interfaces/ientryrepo"
	"github.com/happydotemdr/hookrelay/internal/service/models/entry"
)

var _ ientryrepo.IEntryRepository = (*EntryRepository)(nil)

// EntryRepository keeps one map per partition, keyed by request id.
type EntryRepository struct {
	mu         sync.Mutex
	partitions map[entry.State]map[string]entry.QueueEntry
}

// NewEntryRepository returns an empty in-memory repository.
func NewEntryRepository() *EntryRepository {
	partitions := make(map[entry.State]map[string]entry.QueueEntry, len(entry.States))
	for _, s := range entry.States {
		partitions[s] = make(map[string]entry.QueueEntry)
	}

	return &EntryRepository{partitions: partitions}
}

// Insert adds a new entry to the given partition.
func (r *EntryRepository) Insert(_ context.Context, state entry.State, e entry.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.partitions[state][e.RequestID] = e

	return nil
}

// ListReady returns eligible pending entries in ascending enqueue order.
func (r *EntryRepository) ListReady(_ context.Context, now time.Time) ([]entry.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ready []entry.QueueEntry
	for _, e := range r.partitions[entry.StatePending] {
		if !e.NextAttemptAt.After(now) {
			ready = append(ready, e)
		}
	}
	sortByEnqueueOrder(ready)

	return ready, nil
}

// List returns a page of one partition in ascending enqueue order.
func (r *EntryRepository) List(_ context.Context, state entry.State, limit, offset int) ([]entry.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]entry.QueueEntry, 0, len(r.partitions[state]))
	for _, e := range r.partitions[state] {
		entries = append(entries, e)
	}
	sortByEnqueueOrder(entries)

	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}

	return entries, nil
}

// MoveTo claims the entry out of from and writes the mutated copy into to.
func (r *EntryRepository) MoveTo(
	_ context.Context,
	requestID string,
	from, to entry.State,
	mutate func(*entry.QueueEntry),
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.partitions[from][requestID]
	if !ok {
		return entry.ErrNotFound
	}

	delete(r.partitions[from], requestID)
	if mutate != nil {
		mutate(&e)
	}
	r.partitions[to][requestID] = e

	return nil
}

// Delete removes the entry from the given partition.
func (r *EntryRepository) Delete(_ context.Context, requestID string, from entry.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.partitions[from][requestID]; !ok {
		return entry.ErrNotFound
	}
	delete(r.partitions[from], requestID)

	return nil
}

// Count returns the partition size.
func (r *EntryRepository) Count(_ context.Context, state entry.State) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.partitions[state]), nil
}

// ReclaimStale moves processing entries last attempted before cutoff back to
// pending.
func (r *EntryRepository) ReclaimStale(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	moved := 0
	for id, e := range r.partitions[entry.StateProcessing] {
		if e.LastAttemptAt.Before(cutoff) {
			delete(r.partitions[entry.StateProcessing], id)
			r.partitions[entry.StatePending][id] = e
			moved++
		}
	}

	return moved, nil
}

func sortByEnqueueOrder(entries []entry.QueueEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].EnqueuedAt.Equal(entries[j].EnqueuedAt) {
			return entries[i].RequestID < entries[j].RequestID
		}
		return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt)
	})
}
