package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/viper"

	"github.com/happydotemdr/hookrelay/internal/service/services/queuesvc"
)

// Worker triggers queue passes on a fixed interval. Passes never overlap:
// each tick runs one pass to completion before the next is considered.
type Worker struct {
	queueSvc     *queuesvc.QueueService
	pollInterval time.Duration
	stopCh       chan struct{}
}

// NewWorker creates a new delivery worker.
func NewWorker(queueSvc *queuesvc.QueueService) *Worker {
	pollIntervalSeconds := viper.GetInt("queue.poll_interval_seconds")
	if pollIntervalSeconds == 0 {
		pollIntervalSeconds = 10
	}

	return &Worker{
		queueSvc:     queueSvc,
		pollInterval: time.Duration(pollIntervalSeconds) * time.Second,
		stopCh:       make(chan struct{}),
	}
}

// Start reclaims entries stranded by a previous crash, then begins the pass
// loop.
func (w *Worker) Start(ctx context.Context) {
	moved, err := w.queueSvc.ReclaimStale(ctx)
	if err != nil {
		slog.Error("Failed to reclaim stale processing entries", "error", err)
	} else if moved > 0 {
		slog.Info("Reclaimed stale processing entries", "count", moved)
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	slog.Info("Delivery worker started", "poll_interval", w.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Delivery worker shutting down")

			return
		case <-w.stopCh:
			slog.Info("Delivery worker stopped")

			return
		case <-ticker.C:
			if _, err := w.queueSvc.RunOnce(ctx); err != nil {
				// Per-entry failures are handled inside the pass; an
				// error here means the store itself is unhealthy.
				slog.Error("Queue pass aborted", "error", err)
			}
		}
	}
}

// Stop stops the worker.
func (w *Worker) Stop() {
	close(w.stopCh)
}
