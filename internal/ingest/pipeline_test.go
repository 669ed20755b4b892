package ingest

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/lunargate/giftwatch/internal/db"
)

type fakeDedup struct {
	seen map[string]bool
	err  error
}

func (f *fakeDedup) Seen(_ context.Context, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	was := f.seen[key]
	f.seen[key] = true
	return was, nil
}

type fakeStore struct {
	appended []*db.GiftEvent
	err      error
}

func (f *fakeStore) Append(_ context.Context, ev *db.GiftEvent) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.appended = append(f.appended, ev)
	return int64(len(f.appended)), nil
}

type fakeEvaluator struct {
	evaluated int
	guards    int
}

func (f *fakeEvaluator) Evaluate(_ context.Context, _ *db.GiftEvent) (bool, error) {
	f.evaluated++
	return false, nil
}

func (f *fakeEvaluator) EvaluateGuard(_ context.Context, _ *db.GiftEvent) (bool, error) {
	f.guards++
	return false, nil
}

func giftRaw() []byte {
	return []byte(`{"cmd": "SEND_GIFT", "data": {"uid": 42, "uname": "观众甲", "gift_name": "人气票", "gift_id": 31036, "num": 5, "timestamp": 1717243200}}`)
}

func TestPipeline_StoresAndEvaluates(t *testing.T) {
	store := &fakeStore{}
	eval := &fakeEvaluator{}
	p := NewPipeline(testParser(), nil, store, eval, zap.NewNop())

	if err := p.Handle(context.Background(), giftRaw()); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(store.appended) != 1 {
		t.Fatalf("expected one stored event, got %d", len(store.appended))
	}
	if eval.evaluated != 1 || eval.guards != 0 {
		t.Errorf("evaluated=%d guards=%d", eval.evaluated, eval.guards)
	}
}

func TestPipeline_GuardBuyRoutesToGuardPath(t *testing.T) {
	store := &fakeStore{}
	eval := &fakeEvaluator{}
	p := NewPipeline(testParser(), nil, store, eval, zap.NewNop())

	raw := []byte(`{"cmd": "GUARD_BUY", "data": {"uid": 7, "username": "观众丙", "guard_level": 3}}`)
	if err := p.Handle(context.Background(), raw); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if eval.guards != 1 || eval.evaluated != 0 {
		t.Errorf("evaluated=%d guards=%d", eval.evaluated, eval.guards)
	}
}

func TestPipeline_DuplicateDropped(t *testing.T) {
	store := &fakeStore{}
	eval := &fakeEvaluator{}
	p := NewPipeline(testParser(), &fakeDedup{}, store, eval, zap.NewNop())

	ctx := context.Background()
	if err := p.Handle(ctx, giftRaw()); err != nil {
		t.Fatalf("first handle failed: %v", err)
	}
	if err := p.Handle(ctx, giftRaw()); err != nil {
		t.Fatalf("second handle failed: %v", err)
	}

	if len(store.appended) != 1 {
		t.Errorf("duplicate should not be stored, got %d rows", len(store.appended))
	}
	if eval.evaluated != 1 {
		t.Errorf("duplicate should not be evaluated, got %d", eval.evaluated)
	}
}

func TestPipeline_DedupFailureIsOpen(t *testing.T) {
	store := &fakeStore{}
	eval := &fakeEvaluator{}
	dedup := &fakeDedup{err: errors.New("connection refused")}
	p := NewPipeline(testParser(), dedup, store, eval, zap.NewNop())

	if err := p.Handle(context.Background(), giftRaw()); err != nil {
		t.Fatalf("handle should survive dedup outage: %v", err)
	}
	if len(store.appended) != 1 {
		t.Errorf("event should be processed when dedup is down, got %d rows", len(store.appended))
	}
}

func TestPipeline_NonGiftIgnored(t *testing.T) {
	store := &fakeStore{}
	eval := &fakeEvaluator{}
	p := NewPipeline(testParser(), nil, store, eval, zap.NewNop())

	raw := []byte(`{"cmd": "DANMU_MSG", "data": {"uname": "观众甲"}}`)
	if err := p.Handle(context.Background(), raw); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(store.appended) != 0 || eval.evaluated != 0 {
		t.Error("non-gift command should be a no-op")
	}
}

func TestPipeline_StoreErrorPropagates(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	eval := &fakeEvaluator{}
	p := NewPipeline(testParser(), nil, store, eval, zap.NewNop())

	if err := p.Handle(context.Background(), giftRaw()); err == nil {
		t.Fatal("expected an error")
	}
	if eval.evaluated != 0 {
		t.Error("evaluation must not run when storage failed")
	}
}
