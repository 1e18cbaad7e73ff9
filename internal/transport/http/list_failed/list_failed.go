package listfailed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/schema"

	"github.com/happydotemdr/hookrelay/internal/service/models/entry"
)

type service interface {
	ListFailed(ctx context.Context, limit, offset int) ([]entry.QueueEntry, error)
}

type listFailedRequest struct {
	Limit  int `schema:"limit,omitempty"`
	Offset int `schema:"offset,omitempty"`
}

// ListFailed handles listing of terminally failed entries.
func ListFailed(w http.ResponseWriter, r *http.Request, service service) {
	decoder := schema.NewDecoder()
	query := &listFailedRequest{Limit: 50}
	err := decoder.Decode(query, r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		slog.Error("Error decoding request", "error", err)

		return
	}

	entries, err := service.ListFailed(r.Context(), query.Limit, query.Offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error listing failed entries", "error", err)

		return
	}

	if entries == nil {
		entries = []entry.QueueEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error sending response", "error", err)
	}
}
