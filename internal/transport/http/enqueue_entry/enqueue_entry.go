package enqueueentry

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/happydotemdr/hookrelay/internal/service/models/entry"
)

// service is an interface for the service layer.
type service interface {
	Enqueue(ctx context.Context, requestID string, payload json.RawMessage) (entry.QueueEntry, error)
}

// enqueueEntryRequest represents an enqueue request. The payload is delivered
// verbatim to the destination endpoint; request id is optional and generated
// when absent.
type enqueueEntryRequest struct {
	RequestID string          `json:"requestId"`
	Payload   json.RawMessage `json:"payload"   validate:"required"`
}

// Validate validates the enqueue request.
func (r *enqueueEntryRequest) Validate() error {
	return validator.New().Struct(r)
}

// enqueueEntryResponse acknowledges acceptance; delivery happens
// asynchronously.
type enqueueEntryResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"requestId"`
}

// EnqueueEntry handles the enqueue request.
func EnqueueEntry(w http.ResponseWriter, r *http.Request, service service) {
	req := enqueueEntryRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		slog.Error("Error decoding request body for enqueue", "error", err)

		return
	}

	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		slog.Error("Error validating request body for enqueue", "error", err)

		return
	}

	e, err := service.Enqueue(r.Context(), req.RequestID, req.Payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error enqueuing entry", "error", err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(enqueueEntryResponse{
		Status:    "accepted",
		RequestID: e.RequestID,
	}); err != nil {
		slog.Error("Error sending response for enqueue", "error", err)
	}
}
