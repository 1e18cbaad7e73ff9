package queuestats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/happydotemdr/hookrelay/internal/service/models/entry"
)

type service interface {
	Stats(ctx context.Context) (entry.PartitionCounts, error)
}

// QueueStats handles the partition-counts request.
func QueueStats(w http.ResponseWriter, r *http.Request, service service) {
	counts, err := service.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error getting queue stats", "error", err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(counts); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error sending response for queue stats", "error", err)
	}
}
