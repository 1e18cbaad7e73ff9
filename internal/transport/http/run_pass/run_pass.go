package runpass

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/happydotemdr/hookrelay/internal/service/models/entry"
)

type service interface {
	RunOnce(ctx context.Context) (entry.PassSummary, error)
}

// RunPass triggers one processing pass synchronously and returns its summary.
// Session-lifecycle hooks call this instead of waiting for the next tick.
// Per-entry delivery failures are normal operation and still yield 200; only
// a pass-level fault is an error response.
func RunPass(w http.ResponseWriter, r *http.Request, service service) {
	summary, err := service.RunOnce(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Queue pass aborted", "error", err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error sending response for run pass", "error", err)
	}
}
