package queuesvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/happydotemdr/hookrelay/internal/backoff"
	"github.com/happydotemdr/hookrelay/internal/dal/interfaces/ientryrepo"
	"github.com/happydotemdr/hookrelay/internal/delivery"
	"github.com/happydotemdr/hookrelay/internal/events"
	"github.com/happydotemdr/hookrelay/internal/service/models/entry"
)

// deliverer performs one delivery attempt. Satisfied by *delivery.Client.
type deliverer interface {
	Send(ctx context.Context, payload []byte, meta delivery.AttemptMetadata) delivery.Result
}

// QueueService orchestrates the webhook retry queue: producers enqueue into
// pending, RunOnce drains eligible entries through the delivery client and
// applies the state transitions. The entry repository is the single source of
// truth; the service holds no queue state between calls.
type QueueService struct {
	repo       ientryrepo.IEntryRepository
	client     deliverer
	policy     backoff.Policy
	sink       events.Sink
	maxRetries int
	staleAfter time.Duration
	now        func() time.Time
}

// option is a function that configures the QueueService.
type option func(*QueueService)

// MustNewQueueService creates a new QueueService.
func MustNewQueueService(opts ...option) *QueueService {
	s := &QueueService{
		policy:     backoff.Default(),
		sink:       events.NewSlogSink(),
		maxRetries: 5,
		staleAfter: 15 * time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.repo == nil {
		panic("queuesvc: entry repository is required")
	}
	if s.client == nil {
		panic("queuesvc: delivery client is required")
	}
	if s.maxRetries < 1 {
		panic("queuesvc: max retries must be at least 1")
	}

	return s
}

// WithEntryRepository sets the entry repository.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithEntryRepository(repo ientryrepo.IEntryRepository) option {
	return func(s *QueueService) {
		s.repo = repo
	}
}

// WithDeliveryClient sets the delivery client.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithDeliveryClient(client deliverer) option {
	return func(s *QueueService) {
		s.client = client
	}
}

// WithBackoffPolicy sets the backoff policy.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithBackoffPolicy(policy backoff.Policy) option {
	return func(s *QueueService) {
		s.policy = policy
	}
}

// WithEventSink sets the observability sink.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithEventSink(sink events.Sink) option {
	return func(s *QueueService) {
		s.sink = sink
	}
}

// WithMaxRetries sets the retry budget.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithMaxRetries(n int) option {
	return func(s *QueueService) {
		s.maxRetries = n
	}
}

// WithStaleAfter sets the staleness threshold for reclaiming processing
// entries stranded by a killed pass.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithStaleAfter(d time.Duration) option {
	return func(s *QueueService) {
		s.staleAfter = d
	}
}

// WithClock overrides the time source. Tests use this to control backoff
// eligibility.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithClock(now func() time.Time) option {
	return func(s *QueueService) {
		s.now = now
	}
}

// Enqueue pushes a new entry into pending with a zero retry count. The first
// attempt becomes eligible after the policy's minimum delay; the producer
// already tried a direct delivery before queuing. An empty request id gets a
// generated one.
func (s *QueueService) Enqueue(ctx context.Context, requestID string, payload json.RawMessage) (entry.QueueEntry, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}

	now := s.now()
	e := entry.QueueEntry{
		RequestID:     requestID,
		Payload:       payload,
		RetryCount:    0,
		EnqueuedAt:    now,
		NextAttemptAt: now.Add(s.policy.Delay(0)),
	}

	if err := s.repo.Insert(ctx, entry.StatePending, e); err != nil {
		return entry.QueueEntry{}, fmt.Errorf("failed to enqueue entry: %w", err)
	}

	return e, nil
}

// RunOnce executes one processing pass: claim eligible pending entries one at
// a time, deliver, and transition each to exactly one of deleted, pending or
// failed. Per-entry delivery failures never abort the pass; only store I/O
// errors do, and those propagate to the caller.
func (s *QueueService) RunOnce(ctx context.Context) (entry.PassSummary, error) {
	ctx, span := otel.Tracer("hookrelay").Start(ctx, "queue.pass")
	defer span.End()

	start := time.Now()
	summary := entry.PassSummary{}

	countsBefore, err := s.partitionCounts(ctx)
	if err != nil {
		return summary, fmt.Errorf("queue pass aborted: %w", err)
	}
	summary.CountsBefore = countsBefore
	s.sink.PassStarted(ctx, countsBefore)

	ready, err := s.repo.ListReady(ctx, s.now())
	if err != nil {
		return summary, fmt.Errorf("queue pass aborted: %w", err)
	}

	for _, e := range ready {
		if err := s.processEntry(ctx, e, &summary); err != nil {
			summary.Duration = time.Since(start)
			return summary, fmt.Errorf("queue pass aborted: %w", err)
		}
	}

	countsAfter, err := s.partitionCounts(ctx)
	if err != nil {
		return summary, fmt.Errorf("queue pass aborted: %w", err)
	}
	summary.CountsAfter = countsAfter
	summary.Duration = time.Since(start)
	s.sink.PassCompleted(ctx, summary)

	return summary, nil
}

// processEntry runs one entry through the transition table. The returned
// error is non-nil only for store I/O failures.
func (s *QueueService) processEntry(ctx context.Context, e entry.QueueEntry, summary *entry.PassSummary) error {
	now := s.now()

	err := s.repo.MoveTo(ctx, e.RequestID, entry.StatePending, entry.StateProcessing, func(e *entry.QueueEntry) {
		e.LastAttemptAt = now
	})
	if err != nil {
		if errors.Is(err, entry.ErrNotFound) {
			// Another pass claimed it first.
			summary.Skipped++
			return nil
		}
		return err
	}
	e.LastAttemptAt = now

	res := s.client.Send(ctx, e.Payload, delivery.AttemptMetadata{
		RequestID:  e.RequestID,
		RetryCount: e.RetryCount,
	})

	switch res.Outcome {
	case delivery.OutcomeSuccess:
		if err := s.repo.Delete(ctx, e.RequestID, entry.StateProcessing); err != nil {
			if errors.Is(err, entry.ErrNotFound) {
				summary.Skipped++
				return nil
			}
			return err
		}
		summary.Delivered++
		s.sink.EntryDelivered(ctx, e, res.StatusCode)

	case delivery.OutcomeRetryable:
		// Increment first, then check the budget: an entry one short of
		// the budget goes terminal now rather than getting a free extra
		// attempt.
		newRetryCount := e.RetryCount + 1
		if newRetryCount >= s.maxRetries {
			reason := fmt.Sprintf("max retries exceeded after %d attempts", newRetryCount)
			return s.failEntry(ctx, e, summary, newRetryCount, reason)
		}

		nextAttemptAt := now.Add(s.policy.Delay(newRetryCount))
		err := s.repo.MoveTo(ctx, e.RequestID, entry.StateProcessing, entry.StatePending, func(e *entry.QueueEntry) {
			e.RetryCount = newRetryCount
			e.NextAttemptAt = nextAttemptAt
		})
		if err != nil {
			if errors.Is(err, entry.ErrNotFound) {
				summary.Skipped++
				return nil
			}
			return err
		}
		e.RetryCount = newRetryCount
		summary.Requeued++
		s.sink.EntryRequeued(ctx, e, nextAttemptAt, res.Err)

	case delivery.OutcomeNonRetryable:
		reason := "non-retryable: " + res.Err.Error()
		return s.failEntry(ctx, e, summary, e.RetryCount, reason)
	}

	return nil
}

// failEntry moves the entry to the terminal failed partition.
func (s *QueueService) failEntry(
	ctx context.Context,
	e entry.QueueEntry,
	summary *entry.PassSummary,
	retryCount int,
	reason string,
) error {
	err := s.repo.MoveTo(ctx, e.RequestID, entry.StateProcessing, entry.StateFailed, func(e *entry.QueueEntry) {
		e.RetryCount = retryCount
		e.FailureReason = reason
	})
	if err != nil {
		if errors.Is(err, entry.ErrNotFound) {
			summary.Skipped++
			return nil
		}
		return err
	}

	e.RetryCount = retryCount
	summary.Failed++
	s.sink.EntryFailed(ctx, e, reason)

	return nil
}

// ReclaimStale moves processing entries stranded longer than the staleness
// threshold back to pending. Run at startup; a pass never reclaims within its
// own run.
func (s *QueueService) ReclaimStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)

	moved, err := s.repo.ReclaimStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale entries: %w", err)
	}

	return moved, nil
}

// Stats returns the current partition sizes.
func (s *QueueService) Stats(ctx context.Context) (entry.PartitionCounts, error) {
	return s.partitionCounts(ctx)
}

// ListFailed returns a page of the terminal partition for operator
// inspection.
func (s *QueueService) ListFailed(ctx context.Context, limit, offset int) ([]entry.QueueEntry, error) {
	entries, err := s.repo.List(ctx, entry.StateFailed, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed entries: %w", err)
	}

	return entries, nil
}

func (s *QueueService) partitionCounts(ctx context.Context) (entry.PartitionCounts, error) {
	var counts entry.PartitionCounts

	pending, err := s.repo.Count(ctx, entry.StatePending)
	if err != nil {
		return counts, fmt.Errorf("failed to count pending entries: %w", err)
	}
	processing, err := s.repo.Count(ctx, entry.StateProcessing)
	if err != nil {
		return counts, fmt.Errorf("failed to count processing entries: %w", err)
	}
	failed, err := s.repo.Count(ctx, entry.StateFailed)
	if err != nil {
		return counts, fmt.Errorf("failed to count failed entries: %w", err)
	}

	counts.Pending = pending
	counts.Processing = processing
	counts.Failed = failed

	return counts, nil
}
