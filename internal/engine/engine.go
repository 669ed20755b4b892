// Package engine decides when a stored gift event earns an
// acknowledgement. Totals are always recomputed from the event store,
// never tracked in memory, so replays and restarts converge on the
// same answer.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lunargate/giftwatch/internal/db"
	"github.com/lunargate/giftwatch/internal/metrics"
	"github.com/lunargate/giftwatch/internal/rules"
)

// EventStore is the slice of the event repository the engine needs.
type EventStore interface {
	SumQuantityByNames(ctx context.Context, roomID int64, donorKey string, names []string, fromTs, toTs int64) (int, error)
	SumQuantityByIDs(ctx context.Context, roomID int64, donorKey string, ids []int64, fromTs, toTs int64) (int, error)
}

// Queue is the slice of the queue repository the engine needs.
type Queue interface {
	Enqueue(ctx context.Context, msg *db.QueueMessage) error
	CountForDonorDay(ctx context.Context, roomID int64, donorKey, day string) (int, error)
}

// Options carries the operator-facing acknowledgement policy.
type Options struct {
	RoomID        int64
	DailyLimit    int // acknowledgements per donor per day; 0 is unlimited
	ThankTemplate string
	GuardTemplate string
	ThankGuard    bool
	AnonymousName string
	Location      *time.Location
}

// Engine evaluates stored gift events against the matching rules.
type Engine struct {
	events EventStore
	queue  Queue
	rules  rules.Set
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// New creates an engine. Location defaults to UTC when unset.
func New(events EventStore, queue Queue, ruleSet rules.Set, opts Options, logger *zap.Logger) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Engine{
		events: events,
		queue:  queue,
		rules:  ruleSet,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Evaluate runs the threshold check for one just-stored gift event and
// enqueues at most one acknowledgement. Re-evaluating the same event is
// harmless: totals are recomputed from storage and the daily cap counts
// rows already queued.
func (e *Engine) Evaluate(ctx context.Context, ev *db.GiftEvent) (bool, error) {
	matched := e.rules.Matching(ev)
	if len(matched) == 0 {
		return false, nil
	}

	day, fromTs, toTs := e.dayBounds(ev.Ts)
	donorKey := ev.DonorKey()

	// Families are checked independently; the first one at or past its
	// threshold wins and the rest are not consulted.
	var hit *rules.Rule
	var total int
	for i := range matched {
		t, err := e.familyTotal(ctx, &matched[i], donorKey, fromTs, toTs)
		if err != nil {
			return false, fmt.Errorf("recompute daily total: %w", err)
		}
		if t >= matched[i].Threshold {
			hit = &matched[i]
			total = t
			break
		}
	}
	if hit == nil {
		return false, nil
	}

	kind := string(hit.Kind)
	capped, err := e.dailyCapReached(ctx, donorKey, day, kind)
	if err != nil || capped {
		return false, err
	}

	text := RenderTemplate(e.opts.ThankTemplate, thankVars(e.displayName(ev), ev.GiftName, total))
	if err := e.enqueue(ctx, donorKey, day, text); err != nil {
		return false, err
	}

	metrics.RecordThankTriggered(kind)
	e.logger.Info("threshold reached, acknowledgement queued",
		zap.String("donor_key", donorKey),
		zap.String("day", day),
		zap.String("kind", kind),
		zap.Int("total", total),
		zap.Int("threshold", hit.Threshold),
	)
	return true, nil
}

// EvaluateGuard handles a guard purchase, which is thanked immediately
// without threshold accumulation. The acknowledgement still passes
// through the queue and counts against the donor's daily cap.
func (e *Engine) EvaluateGuard(ctx context.Context, ev *db.GiftEvent) (bool, error) {
	if !e.opts.ThankGuard {
		return false, nil
	}

	day, _, _ := e.dayBounds(ev.Ts)
	donorKey := ev.DonorKey()

	capped, err := e.dailyCapReached(ctx, donorKey, day, "guard")
	if err != nil || capped {
		return false, err
	}

	text := RenderTemplate(e.opts.GuardTemplate, guardVars(e.displayName(ev), ev.GiftName))
	if err := e.enqueue(ctx, donorKey, day, text); err != nil {
		return false, err
	}

	metrics.RecordThankTriggered("guard")
	e.logger.Info("guard purchase acknowledgement queued",
		zap.String("donor_key", donorKey),
		zap.String("guard_name", ev.GiftName),
	)
	return true, nil
}

func (e *Engine) familyTotal(ctx context.Context, r *rules.Rule, donorKey string, fromTs, toTs int64) (int, error) {
	switch r.Kind {
	case rules.KindName:
		return e.events.SumQuantityByNames(ctx, e.opts.RoomID, donorKey, r.Names, fromTs, toTs)
	case rules.KindID:
		return e.events.SumQuantityByIDs(ctx, e.opts.RoomID, donorKey, r.IDs, fromTs, toTs)
	default:
		return 0, fmt.Errorf("unknown rule kind %q", r.Kind)
	}
}

func (e *Engine) dailyCapReached(ctx context.Context, donorKey, day, kind string) (bool, error) {
	// A zero or negative limit disables the cap entirely.
	if e.opts.DailyLimit <= 0 {
		return false, nil
	}
	count, err := e.queue.CountForDonorDay(ctx, e.opts.RoomID, donorKey, day)
	if err != nil {
		return false, fmt.Errorf("count daily acknowledgements: %w", err)
	}
	if count >= e.opts.DailyLimit {
		metrics.RecordThankSuppressed(kind)
		e.logger.Debug("daily cap reached, acknowledgement suppressed",
			zap.String("donor_key", donorKey),
			zap.String("day", day),
			zap.Int("count", count),
		)
		return true, nil
	}
	return false, nil
}

func (e *Engine) enqueue(ctx context.Context, donorKey, day, text string) error {
	msg := &db.QueueMessage{
		RoomID:    e.opts.RoomID,
		DonorKey:  donorKey,
		DonorDay:  day,
		Message:   text,
		Status:    db.StatusPending,
		NotBefore: db.UnixSeconds(e.now()),
	}
	if err := e.queue.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue acknowledgement: %w", err)
	}
	return nil
}

func (e *Engine) displayName(ev *db.GiftEvent) string {
	if ev.DonorName != "" {
		return ev.DonorName
	}
	return e.opts.AnonymousName
}

// dayBounds resolves the calendar day of an event timestamp in the
// room's time zone and returns the day label plus its [from, to) unix
// second bounds.
func (e *Engine) dayBounds(ts int64) (day string, fromTs, toTs int64) {
	t := time.Unix(ts, 0).In(e.opts.Location)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, e.opts.Location)
	return start.Format("2006-01-02"), start.Unix(), start.AddDate(0, 0, 1).Unix()
}
