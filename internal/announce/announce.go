// Package announce periodically queues operator-configured messages to
// keep the room chat warm. Announcements go through the same outbound
// queue as thank-yous, so they share the room's send cooldown instead
// of competing with it.
package announce

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lunargate/giftwatch/internal/db"
)

// Queue accepts outbound messages.
type Queue interface {
	Enqueue(ctx context.Context, msg *db.QueueMessage) error
}

// Config for the announcer.
type Config struct {
	RoomID   int64
	Interval time.Duration
	Messages []string
}

// Announcer rotates through the configured messages on a fixed
// interval.
type Announcer struct {
	queue  Queue
	config Config
	logger *zap.Logger
	now    func() time.Time

	index int
}

// New creates an announcer.
func New(queue Queue, cfg Config, logger *zap.Logger) *Announcer {
	return &Announcer{
		queue:  queue,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Run enqueues until the context is cancelled. The first announcement
// waits one full interval; a restart should not immediately talk.
func (a *Announcer) Run(ctx context.Context) {
	if len(a.config.Messages) == 0 {
		return
	}

	a.logger.Info("announcer started",
		zap.Duration("interval", a.config.Interval),
		zap.Int("messages", len(a.config.Messages)),
	)

	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("announcer shutting down")
			return
		case <-ticker.C:
			if err := a.announceNext(ctx); err != nil {
				a.logger.Error("failed to queue announcement", zap.Error(err))
			}
		}
	}
}

func (a *Announcer) announceNext(ctx context.Context) error {
	text := a.config.Messages[a.index%len(a.config.Messages)]
	a.index++

	msg := &db.QueueMessage{
		RoomID:    a.config.RoomID,
		Message:   text,
		Status:    db.StatusPending,
		NotBefore: db.UnixSeconds(a.now()),
	}
	if err := a.queue.Enqueue(ctx, msg); err != nil {
		return err
	}

	a.logger.Debug("announcement queued", zap.String("text", text))
	return nil
}
