package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/happydotemdr/hookrelay/internal/dal/interfaces/ientryrepo"
	"github.com/happydotemdr/hookrelay/internal/dal/postgres"
	"github.com/happydotemdr/hookrelay/internal/service/models/entry"
)

var _ ientryrepo.IEntryRepository = (*EntryRepository)(nil)

const table = "queue_entries"

var columns = []string{
	"request_id",
	"state",
	"payload",
	"retry_count",
	"failure_reason",
	"enqueued_at",
	"last_attempt_at",
	"next_attempt_at",
}

// EntryRepository implements the entry repository for PostgreSQL. All entries
// live in one table; the state column is the partition, and conditional
// updates on (request_id, state) give the atomic claim-on-move semantics.
type EntryRepository struct {
	client *postgres.Client
}

// NewEntryRepository creates a new entry repository.
func NewEntryRepository(client *postgres.Client) *EntryRepository {
	return &EntryRepository{
		client: client,
	}
}

// Insert adds a new entry to the given partition.
func (r *EntryRepository) Insert(ctx context.Context, state entry.State, e entry.QueueEntry) error {
	query, args, err := sq.Insert(table).
		Columns(columns...).
		Values(
			e.RequestID,
			string(state),
			e.Payload,
			e.RetryCount,
			e.FailureReason,
			e.EnqueuedAt,
			nullableTime(e.LastAttemptAt),
			e.NextAttemptAt,
		).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert query: %w", err)
	}

	if _, err := r.client.Pool().Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert queue entry: %w", err)
	}

	return nil
}

// ListReady retrieves pending entries whose next attempt time has elapsed.
func (r *EntryRepository) ListReady(ctx context.Context, now time.Time) ([]entry.QueueEntry, error) {
	builder := sq.Select(columns...).
		From(table).
		Where(sq.Eq{"state": string(entry.StatePending)}).
		Where(sq.LtOrEq{"next_attempt_at": now}).
		OrderBy("enqueued_at ASC", "request_id ASC")

	return r.selectEntries(ctx, builder)
}

// List retrieves a page of one partition in ascending enqueue order.
func (r *EntryRepository) List(ctx context.Context, state entry.State, limit, offset int) ([]entry.QueueEntry, error) {
	builder := sq.Select(columns...).
		From(table).
		Where(sq.Eq{"state": string(state)}).
		OrderBy("enqueued_at ASC", "request_id ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	if offset > 0 {
		builder = builder.Offset(uint64(offset))
	}

	return r.selectEntries(ctx, builder)
}

// MoveTo atomically claims the entry out of from and writes the mutated row
// into to. The SELECT FOR UPDATE inside a transaction keeps the claim
// exclusive; zero matching rows means another pass already took it.
func (r *EntryRepository) MoveTo(
	ctx context.Context,
	requestID string,
	from, to entry.State,
	mutate func(*entry.QueueEntry),
) error {
	tx, err := r.client.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin move transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query, args, err := sq.Select(columns...).
		From(table).
		Where(sq.Eq{"request_id": requestID, "state": string(from)}).
		Suffix("FOR UPDATE").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build select query: %w", err)
	}

	row := tx.QueryRow(ctx, query, args...)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entry.ErrNotFound
		}
		return fmt.Errorf("failed to load queue entry: %w", err)
	}

	if mutate != nil {
		mutate(&e)
	}

	query, args, err = sq.Update(table).
		Set("state", string(to)).
		Set("retry_count", e.RetryCount).
		Set("failure_reason", e.FailureReason).
		Set("last_attempt_at", nullableTime(e.LastAttemptAt)).
		Set("next_attempt_at", e.NextAttemptAt).
		Where(sq.Eq{"request_id": requestID, "state": string(from)}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to move queue entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entry.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit move transaction: %w", err)
	}

	return nil
}

// Delete removes the entry from the given partition.
func (r *EntryRepository) Delete(ctx context.Context, requestID string, from entry.State) error {
	query, args, err := sq.Delete(table).
		Where(sq.Eq{"request_id": requestID, "state": string(from)}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}

	tag, err := r.client.Pool().Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete queue entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entry.ErrNotFound
	}

	return nil
}

// Count returns the partition size.
func (r *EntryRepository) Count(ctx context.Context, state entry.State) (int, error) {
	query, args, err := sq.Select("count(*)").
		From(table).
		Where(sq.Eq{"state": string(state)}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var count int
	if err := r.client.Pool().QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count queue entries: %w", err)
	}

	return count, nil
}

// ReclaimStale moves processing entries last attempted before cutoff back to
// pending.
func (r *EntryRepository) ReclaimStale(ctx context.Context, cutoff time.Time) (int, error) {
	query, args, err := sq.Update(table).
		Set("state", string(entry.StatePending)).
		Where(sq.Eq{"state": string(entry.StateProcessing)}).
		Where(sq.Lt{"last_attempt_at": cutoff}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build reclaim query: %w", err)
	}

	tag, err := r.client.Pool().Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale entries: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

func (r *EntryRepository) selectEntries(ctx context.Context, builder sq.SelectBuilder) ([]entry.QueueEntry, error) {
	query, args, err := builder.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.client.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue entries: %w", err)
	}
	defer rows.Close()

	var entries []entry.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue entries: %w", err)
	}

	return entries, nil
}

func scanEntry(row pgx.Row) (entry.QueueEntry, error) {
	var (
		e             entry.QueueEntry
		state         string
		lastAttemptAt *time.Time
	)
	err := row.Scan(
		&e.RequestID,
		&state,
		&e.Payload,
		&e.RetryCount,
		&e.FailureReason,
		&e.EnqueuedAt,
		&lastAttemptAt,
		&e.NextAttemptAt,
	)
	if err != nil {
		return entry.QueueEntry{}, err
	}
	if lastAttemptAt != nil {
		e.LastAttemptAt = *lastAttemptAt
	}

	return e, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
