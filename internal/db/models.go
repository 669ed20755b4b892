package db

import (
	"encoding/json"
	"fmt"
	"time"
)

// GiftEvent is one observed donation. Rows are append-only: the core
// never updates or deletes them, so daily totals can always be
// recomputed from the table.
type GiftEvent struct {
	ID         int64           `json:"id"`
	Ts         int64           `json:"ts"` // event time, unix seconds
	RoomID     int64           `json:"room_id"`
	DonorUID   *int64          `json:"donor_uid,omitempty"` // nil for anonymous donors
	DonorName  string          `json:"donor_name"`
	GiftID     int64           `json:"gift_id"`
	GiftName   string          `json:"gift_name"`
	Quantity   int             `json:"quantity"`
	TotalPrice int64           `json:"total_price"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// DonorKey identifies the donor for daily accounting. Anonymous donors
// are keyed by display name so repeated guest gifts still accumulate.
func (e *GiftEvent) DonorKey() string {
	if e.DonorUID != nil && *e.DonorUID != 0 {
		return fmt.Sprintf("uid:%d", *e.DonorUID)
	}
	return "guest:" + e.DonorName
}

// QueueMessage is a pending or historical outbound chat message.
// Status transitions are one-way: pending -> sent or pending -> failed.
// Failed rows are terminal history; operators re-enqueue by inserting a
// new row (see QueueRepository.Requeue).
type QueueMessage struct {
	ID        int64      `json:"id"`
	RoomID    int64      `json:"room_id"`
	DonorKey  string     `json:"donor_key,omitempty"`
	DonorDay  string     `json:"donor_day,omitempty"`
	Message   string     `json:"message"`
	Status    string     `json:"status"`
	NotBefore float64    `json:"not_before"` // earliest eligible send, unix seconds
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	LastError *string    `json:"last_error,omitempty"`
}

// Queue message statuses
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// QueueMeta holds the per-room rate-limit state. last_sent_at is the
// single piece of shared mutable state in the system and only advances.
type QueueMeta struct {
	RoomID     int64   `json:"room_id"`
	LastSentAt float64 `json:"last_sent_at"` // unix seconds, 0 before first send
}
