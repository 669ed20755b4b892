package announce

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lunargate/giftwatch/internal/db"
)

type captureQueue struct {
	enqueued []*db.QueueMessage
}

func (q *captureQueue) Enqueue(_ context.Context, msg *db.QueueMessage) error {
	q.enqueued = append(q.enqueued, msg)
	return nil
}

func TestAnnouncer_RotatesMessages(t *testing.T) {
	queue := &captureQueue{}
	a := New(queue, Config{
		RoomID:   1234,
		Interval: time.Minute,
		Messages: []string{"公告一", "公告二"},
	}, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := a.announceNext(ctx); err != nil {
			t.Fatalf("announce %d failed: %v", i, err)
		}
	}

	if len(queue.enqueued) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(queue.enqueued))
	}
	want := []string{"公告一", "公告二", "公告一"}
	for i, msg := range queue.enqueued {
		if msg.Message != want[i] {
			t.Errorf("message %d = %q, want %q", i, msg.Message, want[i])
		}
		if msg.Status != db.StatusPending || msg.RoomID != 1234 {
			t.Errorf("message %d: %+v", i, msg)
		}
	}
}

func TestAnnouncer_NoMessagesNoRun(t *testing.T) {
	queue := &captureQueue{}
	a := New(queue, Config{RoomID: 1234, Interval: time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	a.Run(ctx)

	if len(queue.enqueued) != 0 {
		t.Fatal("no messages configured, nothing should be queued")
	}
}
