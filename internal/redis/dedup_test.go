package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := &Client{rdb: rdb, logger: zap.NewNop()}

	return client, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestDeduper_NewEvent(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	d := NewDeduper(client)
	ctx := context.Background()

	uid := int64(42)
	key := EventKey(1234, &uid, 31036, 1700000000, 5)

	seen, err := d.Seen(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen {
		t.Fatal("first sighting should not be a duplicate")
	}
}

func TestDeduper_DuplicateEvent(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	d := NewDeduper(client)
	ctx := context.Background()

	uid := int64(42)
	key := EventKey(1234, &uid, 31036, 1700000000, 5)

	if _, err := d.Seen(ctx, key); err != nil {
		t.Fatalf("first check failed: %v", err)
	}

	seen, err := d.Seen(ctx, key)
	if err != nil {
		t.Fatalf("second check failed: %v", err)
	}
	if !seen {
		t.Fatal("second sighting should be a duplicate")
	}
}

func TestEventKey_GuestUsesZeroUID(t *testing.T) {
	withUID := EventKey(1234, nil, 31036, 1700000000, 1)
	uid := int64(0)
	explicitZero := EventKey(1234, &uid, 31036, 1700000000, 1)

	if withUID != explicitZero {
		t.Errorf("nil uid and zero uid should key identically: %q vs %q", withUID, explicitZero)
	}
}

func TestEventKey_DistinguishesQuantity(t *testing.T) {
	uid := int64(42)
	a := EventKey(1234, &uid, 31036, 1700000000, 1)
	b := EventKey(1234, &uid, 31036, 1700000000, 2)

	if a == b {
		t.Error("different quantities should produce different keys")
	}
}
