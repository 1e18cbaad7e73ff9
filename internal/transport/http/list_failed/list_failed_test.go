package listfailed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/happydotemdr/hookrelay/internal/service/models/entry"
)

type stubService struct {
	gotLimit  int
	gotOffset int
	entries   []entry.QueueEntry
}

func (s *stubService) ListFailed(_ context.Context, limit, offset int) ([]entry.QueueEntry, error) {
	s.gotLimit = limit
	s.gotOffset = offset
	return s.entries, nil
}

func TestListFailed_DecodesQueryParams(t *testing.T) {
	svc := &stubService{entries: []entry.QueueEntry{{RequestID: "dead-1"}}}
	req := httptest.NewRequest(http.MethodGet, "/api/queue/failed?limit=10&offset=20", nil)
	rec := httptest.NewRecorder()

	ListFailed(rec, req, svc)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if svc.gotLimit != 10 || svc.gotOffset != 20 {
		t.Errorf("limit/offset = %d/%d, want 10/20", svc.gotLimit, svc.gotOffset)
	}

	var got []entry.QueueEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 1 || got[0].RequestID != "dead-1" {
		t.Errorf("entries = %+v, want [dead-1]", got)
	}
}

func TestListFailed_DefaultsLimit(t *testing.T) {
	svc := &stubService{}
	req := httptest.NewRequest(http.MethodGet, "/api/queue/failed", nil)
	rec := httptest.NewRecorder()

	ListFailed(rec, req, svc)

	if svc.gotLimit != 50 {
		t.Errorf("default limit = %d, want 50", svc.gotLimit)
	}
}

func TestListFailed_EmptyPartitionIsEmptyArray(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/queue/failed", nil)
	rec := httptest.NewRecorder()

	ListFailed(rec, req, &stubService{})

	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("body = %q, want empty JSON array", body)
	}
}
