package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lunargate/giftwatch/internal/db"
	"github.com/lunargate/giftwatch/internal/metrics"
	"github.com/lunargate/giftwatch/internal/redis"
)

// Deduper answers whether an event key has been seen recently.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
}

// EventStore is the slice of the event repository the pipeline needs.
type EventStore interface {
	Append(ctx context.Context, ev *db.GiftEvent) (int64, error)
}

// Evaluator runs the acknowledgement decision for a stored event.
type Evaluator interface {
	Evaluate(ctx context.Context, ev *db.GiftEvent) (bool, error)
	EvaluateGuard(ctx context.Context, ev *db.GiftEvent) (bool, error)
}

// Pipeline takes raw envelopes through parse, dedup, append, evaluate.
type Pipeline struct {
	parser *Parser
	dedup  Deduper
	events EventStore
	engine Evaluator
	logger *zap.Logger
}

// NewPipeline creates an ingestion pipeline. dedup may be nil, in which
// case every event is treated as first-seen.
func NewPipeline(parser *Parser, dedup Deduper, events EventStore, engine Evaluator, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		parser: parser,
		dedup:  dedup,
		events: events,
		engine: engine,
		logger: logger,
	}
}

// Handle processes one raw envelope. Non-gift commands are ignored.
// Duplicate events are dropped before they reach storage; if the dedup
// store is unreachable the event is processed anyway, since a possible
// duplicate acknowledgement beats a lost one.
func (p *Pipeline) Handle(ctx context.Context, raw []byte) error {
	ev, cmd, err := p.parser.Parse(raw)
	if err != nil {
		return err
	}
	if ev == nil {
		if cmd != "" {
			p.logger.Debug("ignoring event", zap.String("cmd", cmd))
		}
		return nil
	}

	if p.dedup != nil {
		key := redis.EventKey(ev.RoomID, ev.DonorUID, ev.GiftID, ev.Ts, ev.Quantity)
		seen, derr := p.dedup.Seen(ctx, key)
		switch {
		case derr != nil:
			p.logger.Warn("dedup check unavailable, processing anyway", zap.Error(derr))
		case seen:
			metrics.RecordDuplicateSkipped()
			p.logger.Debug("duplicate event skipped", zap.String("key", key))
			return nil
		}
	}

	if _, err := p.events.Append(ctx, ev); err != nil {
		return fmt.Errorf("store gift event: %w", err)
	}
	metrics.RecordGiftIngested(cmd)

	p.logger.Info("gift received",
		zap.String("donor", ev.DonorName),
		zap.String("gift", ev.GiftName),
		zap.Int("quantity", ev.Quantity),
		zap.Int64("total_price", ev.TotalPrice),
	)

	if cmd == CmdGuardBuy {
		_, err = p.engine.EvaluateGuard(ctx, ev)
	} else {
		_, err = p.engine.Evaluate(ctx, ev)
	}
	if err != nil {
		return fmt.Errorf("evaluate gift event: %w", err)
	}
	return nil
}
