package redis

import (
	"context"
	"fmt"
	"time"
)

// DedupTTL is how long an event's natural key is remembered. Daily
// totals only look back one calendar day, so 48h comfortably covers
// timezone skew between the platform clock and the room clock.
const DedupTTL = 48 * time.Hour

// Deduper filters duplicate gift events at the ingestion boundary.
//
// The live-room listener may redeliver the same underlying platform
// event; because the aggregation engine recomputes totals from stored
// rows, a duplicate row would double-count quantity. Dedup therefore
// happens before the append, keyed by the event's natural key.
type Deduper struct {
	client *Client
	ttl    time.Duration
}

// NewDeduper creates a deduper with the default TTL.
func NewDeduper(client *Client) *Deduper {
	return &Deduper{client: client, ttl: DedupTTL}
}

// EventKey builds the natural key of a gift event:
// (room, donor uid, gift id, platform event time, quantity).
func EventKey(roomID int64, donorUID *int64, giftID, ts int64, quantity int) string {
	uid := int64(0)
	if donorUID != nil {
		uid = *donorUID
	}
	return fmt.Sprintf("giftwatch:event:%d:%d:%d:%d:%d", roomID, uid, giftID, ts, quantity)
}

// Seen atomically records the key and reports whether it was already
// present. The first caller for a key gets false; redeliveries get true.
func (d *Deduper) Seen(ctx context.Context, key string) (bool, error) {
	set, err := d.client.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return !set, nil
}
