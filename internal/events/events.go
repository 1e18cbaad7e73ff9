// Package events is the one-way operational reporting surface of the queue.
// The processor emits; sinks never feed anything back.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/happydotemdr/hookrelay/internal/service/models/entry"
)

// Sink receives structured operational events from a processing pass.
type Sink interface {
	PassStarted(ctx context.Context, counts entry.PartitionCounts)
	EntryDelivered(ctx context.Context, e entry.QueueEntry, statusCode int)
	EntryRequeued(ctx context.Context, e entry.QueueEntry, nextAttemptAt time.Time, cause error)
	EntryFailed(ctx context.Context, e entry.QueueEntry, reason string)
	PassCompleted(ctx context.Context, summary entry.PassSummary)
}

// SlogSink logs every event through the default structured logger.
type SlogSink struct{}

// NewSlogSink creates the logging sink.
func NewSlogSink() *SlogSink {
	return &SlogSink{}
}

func (s *SlogSink) PassStarted(_ context.Context, counts entry.PartitionCounts) {
	slog.Info("Queue pass started",
		"pending", counts.Pending,
		"processing", counts.Processing,
		"failed", counts.Failed,
	)
}

func (s *SlogSink) EntryDelivered(_ context.Context, e entry.QueueEntry, statusCode int) {
	slog.Info("Webhook delivered",
		"request_id", e.RequestID,
		"retry_count", e.RetryCount,
		"status_code", statusCode,
	)
}

func (s *SlogSink) EntryRequeued(_ context.Context, e entry.QueueEntry, nextAttemptAt time.Time, cause error) {
	slog.Warn("Webhook delivery failed, requeued",
		"request_id", e.RequestID,
		"retry_count", e.RetryCount,
		"next_attempt", nextAttemptAt,
		"error", cause,
	)
}

func (s *SlogSink) EntryFailed(_ context.Context, e entry.QueueEntry, reason string) {
	slog.Error("Webhook delivery failed permanently",
		"request_id", e.RequestID,
		"retry_count", e.RetryCount,
		"reason", reason,
	)
}

func (s *SlogSink) PassCompleted(_ context.Context, summary entry.PassSummary) {
	slog.Info("Queue pass completed",
		"delivered", summary.Delivered,
		"requeued", summary.Requeued,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"duration", summary.Duration,
		"pending", summary.CountsAfter.Pending,
		"processing", summary.CountsAfter.Processing,
		"failed_total", summary.CountsAfter.Failed,
	)
}

// MultiSink fans every event out to all configured sinks.
type MultiSink []Sink

// NewMultiSink combines sinks into one.
func NewMultiSink(sinks ...Sink) MultiSink {
	return MultiSink(sinks)
}

func (m MultiSink) PassStarted(ctx context.Context, counts entry.PartitionCounts) {
	for _, s := range m {
		s.PassStarted(ctx, counts)
	}
}

func (m MultiSink) EntryDelivered(ctx context.Context, e entry.QueueEntry, statusCode int) {
	for _, s := range m {
		s.EntryDelivered(ctx, e, statusCode)
	}
}

func (m MultiSink) EntryRequeued(ctx context.Context, e entry.QueueEntry, nextAttemptAt time.Time, cause error) {
	for _, s := range m {
		s.EntryRequeued(ctx, e, nextAttemptAt, cause)
	}
}

func (m MultiSink) EntryFailed(ctx context.Context, e entry.QueueEntry, reason string) {
	for _, s := range m {
		s.EntryFailed(ctx, e, reason)
	}
}

func (m MultiSink) PassCompleted(ctx context.Context, summary entry.PassSummary) {
	for _, s := range m {
		s.PassCompleted(ctx, summary)
	}
}
