package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lunargate/giftwatch/internal/db"
)

type fakeEvents struct {
	gifts      []*db.GiftEvent
	lastFilter db.SearchFilter
}

func (f *fakeEvents) Search(_ context.Context, filter db.SearchFilter) ([]*db.GiftEvent, error) {
	f.lastFilter = filter
	return f.gifts, nil
}

type fakeQueue struct {
	messages   []*db.QueueMessage
	requeueErr error
	lastStatus string
}

func (f *fakeQueue) List(_ context.Context, _ int64, status string, _, _ int) ([]*db.QueueMessage, error) {
	f.lastStatus = status
	return f.messages, nil
}

func (f *fakeQueue) Requeue(_ context.Context, id int64, _ time.Time) (*db.QueueMessage, error) {
	if f.requeueErr != nil {
		return nil, f.requeueErr
	}
	return &db.QueueMessage{ID: id + 1000, Status: db.StatusPending}, nil
}

type fakeIngestor struct {
	raw []byte
	err error
}

func (f *fakeIngestor) Handle(_ context.Context, raw []byte) error {
	f.raw = raw
	return f.err
}

func testRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/v1/gifts", h.ListGifts)
	r.Get("/v1/queue", h.ListQueue)
	r.Post("/v1/queue/{id}/requeue", h.RequeueMessage)
	r.Post("/v1/events", h.IngestEvent)
	return r
}

func TestListGifts_FiltersApplied(t *testing.T) {
	events := &fakeEvents{gifts: []*db.GiftEvent{{ID: 1, GiftName: "人气票"}}}
	h := NewHandler(zap.NewNop(), 1234, events, &fakeQueue{}, nil)
	router := testRouter(h)

	req := httptest.NewRequest("GET", "/v1/gifts?name=甲&gift=人气&from=100&to=200&limit=10&offset=5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	f := events.lastFilter
	if f.RoomID != 1234 || f.DonorName != "甲" || f.GiftName != "人气" {
		t.Errorf("filter = %+v", f)
	}
	if f.FromTs != 100 || f.ToTs != 200 || f.Limit != 10 || f.Offset != 5 {
		t.Errorf("filter = %+v", f)
	}

	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Count != 1 {
		t.Errorf("count = %d", body.Count)
	}
}

func TestListGifts_BadTimestamp(t *testing.T) {
	h := NewHandler(zap.NewNop(), 1234, &fakeEvents{}, &fakeQueue{}, nil)
	router := testRouter(h)

	req := httptest.NewRequest("GET", "/v1/gifts?from=abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListGifts_LimitCapped(t *testing.T) {
	events := &fakeEvents{}
	h := NewHandler(zap.NewNop(), 1234, events, &fakeQueue{}, nil)
	router := testRouter(h)

	req := httptest.NewRequest("GET", "/v1/gifts?limit=9999", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if events.lastFilter.Limit != 200 {
		t.Errorf("oversized limit should clamp to the cap, got %d", events.lastFilter.Limit)
	}
}

func TestListQueue_StatusValidated(t *testing.T) {
	queue := &fakeQueue{}
	h := NewHandler(zap.NewNop(), 1234, &fakeEvents{}, queue, nil)
	router := testRouter(h)

	req := httptest.NewRequest("GET", "/v1/queue?status=bogus", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}

	req = httptest.NewRequest("GET", "/v1/queue?status=failed", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if queue.lastStatus != db.StatusFailed {
		t.Errorf("status filter = %q", queue.lastStatus)
	}
}

func TestRequeue_Success(t *testing.T) {
	h := NewHandler(zap.NewNop(), 1234, &fakeEvents{}, &fakeQueue{}, nil)
	router := testRouter(h)

	req := httptest.NewRequest("POST", "/v1/queue/7/requeue", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		NewID int64 `json:"new_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.NewID != 1007 {
		t.Errorf("new_id = %d", body.NewID)
	}
}

func TestRequeue_NotFound(t *testing.T) {
	queue := &fakeQueue{requeueErr: db.ErrMessageNotFound}
	h := NewHandler(zap.NewNop(), 1234, &fakeEvents{}, queue, nil)
	router := testRouter(h)

	req := httptest.NewRequest("POST", "/v1/queue/999/requeue", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRequeue_BadID(t *testing.T) {
	h := NewHandler(zap.NewNop(), 1234, &fakeEvents{}, &fakeQueue{}, nil)
	router := testRouter(h)

	req := httptest.NewRequest("POST", "/v1/queue/abc/requeue", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestIngestEvent_PassedToPipeline(t *testing.T) {
	ing := &fakeIngestor{}
	h := NewHandler(zap.NewNop(), 1234, &fakeEvents{}, &fakeQueue{}, ing)
	router := testRouter(h)

	payload := `{"cmd":"SEND_GIFT","data":{"uname":"观众甲","gift_name":"人气票"}}`
	req := httptest.NewRequest("POST", "/v1/events", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if string(ing.raw) != payload {
		t.Errorf("pipeline got %q", ing.raw)
	}
}

func TestIngestEvent_DisabledWithoutPipeline(t *testing.T) {
	h := NewHandler(zap.NewNop(), 1234, &fakeEvents{}, &fakeQueue{}, nil)
	router := testRouter(h)

	req := httptest.NewRequest("POST", "/v1/events", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}
