package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lunargate/giftwatch/internal/db"
)

// EventReader is the read side of the gift event store.
type EventReader interface {
	Search(ctx context.Context, f db.SearchFilter) ([]*db.GiftEvent, error)
}

// QueueAdmin covers the queue operations the API exposes.
type QueueAdmin interface {
	List(ctx context.Context, roomID int64, status string, limit, offset int) ([]*db.QueueMessage, error)
	Requeue(ctx context.Context, id int64, now time.Time) (*db.QueueMessage, error)
}

// Ingestor accepts raw platform envelopes pushed over HTTP.
type Ingestor interface {
	Handle(ctx context.Context, raw []byte) error
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

const maxPageSize = 200

// Handler holds dependencies for API handlers
type Handler struct {
	logger   *zap.Logger
	roomID   int64
	events   EventReader
	queue    QueueAdmin
	ingestor Ingestor // nil when HTTP ingestion is disabled
	now      func() time.Time
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, roomID int64, events EventReader, queue QueueAdmin, ingestor Ingestor) *Handler {
	return &Handler{
		logger:   logger,
		roomID:   roomID,
		events:   events,
		queue:    queue,
		ingestor: ingestor,
		now:      time.Now,
	}
}

// ListGifts handles GET /v1/gifts?name=&gift=&from=&to=&limit=&offset=
func (h *Handler) ListGifts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := db.SearchFilter{
		RoomID:    h.roomID,
		DonorName: q.Get("name"),
		GiftName:  q.Get("gift"),
	}

	var err error
	if filter.FromTs, err = parseOptionalInt64(q.Get("from")); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid from", "from must be a unix timestamp")
		return
	}
	if filter.ToTs, err = parseOptionalInt64(q.Get("to")); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid to", "to must be a unix timestamp")
		return
	}
	filter.Limit, filter.Offset = parsePagination(q.Get("limit"), q.Get("offset"))

	gifts, err := h.events.Search(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to search gifts", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to search gifts", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":   gifts,
		"limit":  filter.Limit,
		"offset": filter.Offset,
		"count":  len(gifts),
	})
}

// ListQueue handles GET /v1/queue?status=&limit=&offset=
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := q.Get("status")
	switch status {
	case "", db.StatusPending, db.StatusSent, db.StatusFailed:
	default:
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid status",
			"status must be one of: pending, sent, failed")
		return
	}
	limit, offset := parsePagination(q.Get("limit"), q.Get("offset"))

	messages, err := h.queue.List(r.Context(), h.roomID, status, limit, offset)
	if err != nil {
		h.logger.Error("failed to list queue", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list queue", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":   messages,
		"limit":  limit,
		"offset": offset,
		"count":  len(messages),
	})
}

// RequeueMessage handles POST /v1/queue/{id}/requeue. Only failed
// messages can be re-enqueued; the original row stays as history.
func (h *Handler) RequeueMessage(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid message ID", "ID must be an integer")
		return
	}

	msg, err := h.queue.Requeue(r.Context(), id, h.now())
	if err != nil {
		if errors.Is(err, db.ErrMessageNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "No failed message with that ID", "")
			return
		}
		h.logger.Error("failed to requeue message", zap.Error(err), zap.Int64("id", id))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to requeue message", "")
		return
	}

	h.logger.Info("message requeued via api",
		zap.Int64("failed_id", id),
		zap.Int64("new_id", msg.ID),
	)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"new_id": msg.ID,
		"status": msg.Status,
	})
}

// IngestEvent handles POST /v1/events: the raw platform envelope goes
// straight into the ingestion pipeline.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	if h.ingestor == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "HTTP ingestion disabled", "")
		return
	}

	raw, err := readBody(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Unreadable body", err.Error())
		return
	}

	if err := h.ingestor.Handle(r.Context(), raw); err != nil {
		h.logger.Error("failed to ingest event", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, "ingest_error", "Failed to process event", err.Error())
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func parsePagination(limitStr, offsetStr string) (limit, offset int) {
	limit = 50
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = min(l, maxPageSize)
		}
	}
	if offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, 1<<20))
}

func parseOptionalInt64(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
