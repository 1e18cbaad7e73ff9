// Package redis implements the entry repository on Redis. Each partition is a
// hash keyed by request id with JSON-encoded entries; moves run through a Lua
// script so a claim removes the source field and writes the destination field
// in one atomic step.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/happydotemdr/hookrelay/internal/dal/interfaces/ientryrepo"
	"github.com/happydotemdr/hookrelay/internal/dal/redis"
	"github.com/happydotemdr/hookrelay/internal/service/models/entry"
)

var _ ientryrepo.IEntryRepository = (*EntryRepository)(nil)

// All keys are prefixed with "hookrelay:" to avoid collisions.
const keyPrefix = "hookrelay:"

// partitionKey returns the hash key for a partition: hookrelay:{state}
func partitionKey(state entry.State) string {
	return keyPrefix + string(state)
}

// moveScript removes the entry from the source hash and, only if that
// succeeded, writes the new encoding into the destination hash.
// KEYS[1]=source, KEYS[2]=destination, ARGV[1]=request id, ARGV[2]=entry JSON.
var moveScript = goredis.NewScript(`
if redis.call('HDEL', KEYS[1], ARGV[1]) == 1 then
	redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
	return 1
end
return 0
`)

// EntryRepository implements the entry repository for Redis.
type EntryRepository struct {
	client *redis.Client
}

// NewEntryRepository creates a new entry repository.
func NewEntryRepository(client *redis.Client) *EntryRepository {
	return &EntryRepository{
		client: client,
	}
}

// Insert adds a new entry to the given partition.
func (r *EntryRepository) Insert(ctx context.Context, state entry.State, e entry.QueueEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal queue entry: %w", err)
	}

	if err := r.client.DB().HSet(ctx, partitionKey(state), e.RequestID, data).Err(); err != nil {
		return fmt.Errorf("failed to insert queue entry: %w", err)
	}

	return nil
}

// ListReady retrieves pending entries whose next attempt time has elapsed.
func (r *EntryRepository) ListReady(ctx context.Context, now time.Time) ([]entry.QueueEntry, error) {
	entries, err := r.listAll(ctx, entry.StatePending)
	if err != nil {
		return nil, err
	}

	ready := entries[:0]
	for _, e := range entries {
		if !e.NextAttemptAt.After(now) {
			ready = append(ready, e)
		}
	}

	return ready, nil
}

// List retrieves a page of one partition in ascending enqueue order.
func (r *EntryRepository) List(ctx context.Context, state entry.State, limit, offset int) ([]entry.QueueEntry, error) {
	entries, err := r.listAll(ctx, state)
	if err != nil {
		return nil, err
	}

	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}

	return entries, nil
}

// MoveTo atomically claims the entry out of from and writes the mutated copy
// into to. The HDEL result inside the script decides the claim: losing racers
// get entry.ErrNotFound.
func (r *EntryRepository) MoveTo(
	ctx context.Context,
	requestID string,
	from, to entry.State,
	mutate func(*entry.QueueEntry),
) error {
	data, err := r.client.DB().HGet(ctx, partitionKey(from), requestID).Result()
	if err != nil {
		if err == goredis.Nil {
			return entry.ErrNotFound
		}
		return fmt.Errorf("failed to load queue entry: %w", err)
	}

	var e entry.QueueEntry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return fmt.Errorf("failed to unmarshal queue entry: %w", err)
	}

	if mutate != nil {
		mutate(&e)
	}

	encoded, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal queue entry: %w", err)
	}

	moved, err := moveScript.Run(
		ctx,
		r.client.DB(),
		[]string{partitionKey(from), partitionKey(to)},
		requestID,
		encoded,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to move queue entry: %w", err)
	}
	if moved == 0 {
		return entry.ErrNotFound
	}

	return nil
}

// Delete removes the entry from the given partition.
func (r *EntryRepository) Delete(ctx context.Context, requestID string, from entry.State) error {
	removed, err := r.client.DB().HDel(ctx, partitionKey(from), requestID).Result()
	if err != nil {
		return fmt.Errorf("failed to delete queue entry: %w", err)
	}
	if removed == 0 {
		return entry.ErrNotFound
	}

	return nil
}

// Count returns the partition size.
func (r *EntryRepository) Count(ctx context.Context, state entry.State) (int, error) {
	count, err := r.client.DB().HLen(ctx, partitionKey(state)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count queue entries: %w", err)
	}

	return int(count), nil
}

// ReclaimStale moves processing entries last attempted before cutoff back to
// pending, reusing the same atomic move script per entry.
func (r *EntryRepository) ReclaimStale(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := r.listAll(ctx, entry.StateProcessing)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, e := range entries {
		if !e.LastAttemptAt.Before(cutoff) {
			continue
		}
		err := r.MoveTo(ctx, e.RequestID, entry.StateProcessing, entry.StatePending, nil)
		if err != nil {
			if err == entry.ErrNotFound {
				continue
			}
			return moved, err
		}
		moved++
	}

	return moved, nil
}

func (r *EntryRepository) listAll(ctx context.Context, state entry.State) ([]entry.QueueEntry, error) {
	vals, err := r.client.DB().HGetAll(ctx, partitionKey(state)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}

	entries := make([]entry.QueueEntry, 0, len(vals))
	for _, data := range vals {
		var e entry.QueueEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal queue entry: %w", err)
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].EnqueuedAt.Equal(entries[j].EnqueuedAt) {
			return entries[i].RequestID < entries[j].RequestID
		}
		return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt)
	})

	return entries, nil
}
