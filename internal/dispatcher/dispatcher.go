// Package dispatcher drains the outbound queue. One message per wake at
// most, and never two sends closer together than the room's minimum
// interval: the platform silently drops chat messages sent too fast.
package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lunargate/giftwatch/internal/circuitbreaker"
	"github.com/lunargate/giftwatch/internal/db"
	"github.com/lunargate/giftwatch/internal/metrics"
	"github.com/lunargate/giftwatch/internal/sender"
)

// Store is the slice of the queue repository the dispatcher needs.
type Store interface {
	LastSentAt(ctx context.Context, roomID int64) (time.Time, error)
	NextEligible(ctx context.Context, roomID int64, now time.Time) (*db.QueueMessage, error)
	MarkSent(ctx context.Context, id int64, roomID int64, sentAt time.Time) error
	MarkFailed(ctx context.Context, id int64, errText string) error
	WithRoomLock(ctx context.Context, roomID int64, fn func(ctx context.Context) error) (bool, error)
}

// Config tunes the dispatch loop.
type Config struct {
	RoomID      int64
	MinInterval time.Duration
	Poll        time.Duration
	SendTimeout time.Duration
}

// Dispatcher wakes on a fixed interval and attempts at most one
// delivery per cycle, under a per-room lock so concurrent instances
// never race on the cooldown.
type Dispatcher struct {
	store  Store
	sender sender.Sender
	config Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates a dispatcher. Each instance gets a short identity so
// overlapping deployments can be told apart in logs.
func New(store Store, snd sender.Sender, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	instanceID := uuid.New().String()[:8]
	return &Dispatcher{
		store:  store,
		sender: snd,
		config: cfg,
		logger: logger.With(zap.String("dispatcher_id", instanceID)),
		now:    time.Now,
	}
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started",
		zap.Int64("room_id", d.config.RoomID),
		zap.Duration("poll", d.config.Poll),
		zap.Duration("min_interval", d.config.MinInterval),
	)

	ticker := time.NewTicker(d.config.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher shutting down")
			return
		case <-ticker.C:
			d.runCycle(ctx)
		}
	}
}

// runCycle takes the room lock and runs one dispatch attempt. Another
// instance holding the lock just means this wake is skipped.
func (d *Dispatcher) runCycle(ctx context.Context) {
	held, err := d.store.WithRoomLock(ctx, d.config.RoomID, d.cycle)
	if err != nil {
		d.logger.Error("dispatch cycle failed", zap.Error(err))
		return
	}
	if !held {
		d.logger.Debug("room lock held elsewhere, skipping cycle")
	}
}

func (d *Dispatcher) cycle(ctx context.Context) error {
	now := d.now()

	last, err := d.store.LastSentAt(ctx, d.config.RoomID)
	if err != nil {
		return err
	}
	if !last.IsZero() && now.Before(last.Add(d.config.MinInterval)) {
		return nil
	}

	msg, err := d.store.NextEligible(ctx, d.config.RoomID, now)
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	defer cancel()

	start := time.Now()
	sendErr := d.sender.Send(sendCtx, msg.RoomID, msg.Message)
	metrics.RecordSendLatency(time.Since(start))

	if errors.Is(sendErr, circuitbreaker.ErrCircuitOpen) {
		// No attempt reached the platform. Leave the message pending
		// and try again once the breaker lets traffic through.
		d.logger.Warn("chat circuit open, send deferred", zap.Int64("message_id", msg.ID))
		return nil
	}

	if sendErr != nil {
		// The cooldown clock stays put: a failed attempt used no rate
		// budget. The message is terminal; operators requeue explicitly.
		metrics.RecordMessageSent(db.StatusFailed)
		d.logger.Error("chat send failed, message marked failed",
			zap.Int64("message_id", msg.ID),
			zap.Error(sendErr),
		)
		if err := d.store.MarkFailed(ctx, msg.ID, sendErr.Error()); err != nil {
			d.logger.Error("failed to record send failure", zap.Int64("message_id", msg.ID), zap.Error(err))
		}
		return nil
	}

	sentAt := d.now()
	if err := d.store.MarkSent(ctx, msg.ID, msg.RoomID, sentAt); err != nil {
		// The message went out but the bookkeeping failed. Surface it
		// loudly: the row is still pending and may be re-sent.
		d.logger.Error("sent but could not mark sent",
			zap.Int64("message_id", msg.ID),
			zap.Error(err),
		)
		return err
	}

	metrics.RecordMessageSent(db.StatusSent)
	metrics.RecordQueueWait(sentAt.Sub(msg.CreatedAt))
	d.logger.Info("message delivered",
		zap.Int64("message_id", msg.ID),
		zap.String("donor_key", msg.DonorKey),
	)
	return nil
}
