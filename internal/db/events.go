package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// EventRepository persists and queries gift events. It is the append-only
// source of truth the aggregation engine recomputes daily totals from.
type EventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewEventRepository creates a new gift event repository
func NewEventRepository(db *DB, logger *zap.Logger) *EventRepository {
	return &EventRepository{
		db:     db,
		logger: logger,
	}
}

// Append inserts a gift event and returns its id. Storage errors are
// propagated to the caller; a lost event is a correctness violation.
func (r *EventRepository) Append(ctx context.Context, ev *GiftEvent) (int64, error) {
	query := `
		INSERT INTO gift_events (
			ts, room_id, donor_uid, donor_key, donor_name,
			gift_id, gift_name, quantity, total_price, raw_payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		ev.Ts,
		ev.RoomID,
		ev.DonorUID,
		ev.DonorKey(),
		ev.DonorName,
		ev.GiftID,
		ev.GiftName,
		ev.Quantity,
		ev.TotalPrice,
		ev.RawPayload,
	).Scan(&ev.ID, &ev.CreatedAt)

	if err != nil {
		r.logger.Error("failed to append gift event",
			zap.Error(err),
			zap.Int64("room_id", ev.RoomID),
			zap.String("gift_name", ev.GiftName),
		)
		return 0, fmt.Errorf("insert gift event: %w", err)
	}

	return ev.ID, nil
}

// SearchFilter narrows Search results. Zero values mean "no filter".
type SearchFilter struct {
	RoomID    int64
	DonorName string // substring match on donor display name
	GiftName  string // substring match on gift name
	FromTs    int64  // inclusive
	ToTs      int64  // inclusive
	Limit     int
	Offset    int
}

// Search returns matching events ordered by event time descending.
// Result sets are unbounded upstream, so pagination is mandatory.
func (r *EventRepository) Search(ctx context.Context, f SearchFilter) ([]*GiftEvent, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}

	query := `
		SELECT id, ts, room_id, donor_uid, donor_name,
		       gift_id, gift_name, quantity, total_price, created_at
		FROM gift_events
		WHERE room_id = $1
	`
	args := []any{f.RoomID}

	if f.DonorName != "" {
		args = append(args, "%"+f.DonorName+"%")
		query += fmt.Sprintf(" AND donor_name ILIKE $%d", len(args))
	}
	if f.GiftName != "" {
		args = append(args, "%"+f.GiftName+"%")
		query += fmt.Sprintf(" AND gift_name ILIKE $%d", len(args))
	}
	if f.FromTs > 0 {
		args = append(args, f.FromTs)
		query += fmt.Sprintf(" AND ts >= $%d", len(args))
	}
	if f.ToTs > 0 {
		args = append(args, f.ToTs)
		query += fmt.Sprintf(" AND ts <= $%d", len(args))
	}

	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY ts DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query gift events: %w", err)
	}
	defer rows.Close()

	var events []*GiftEvent
	for rows.Next() {
		var ev GiftEvent
		err := rows.Scan(
			&ev.ID,
			&ev.Ts,
			&ev.RoomID,
			&ev.DonorUID,
			&ev.DonorName,
			&ev.GiftID,
			&ev.GiftName,
			&ev.Quantity,
			&ev.TotalPrice,
			&ev.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan gift event: %w", err)
		}
		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return events, nil
}

// SumQuantityByNames recomputes the cumulative quantity a donor gave of
// the named gifts inside [fromTs, toTs). Summing over stored rows keeps
// the total idempotent under replays and restarts.
func (r *EventRepository) SumQuantityByNames(ctx context.Context, roomID int64, donorKey string, names []string, fromTs, toTs int64) (int, error) {
	if len(names) == 0 {
		return 0, nil
	}

	query := `
		SELECT COALESCE(SUM(quantity), 0)
		FROM gift_events
		WHERE room_id = $1 AND donor_key = $2 AND gift_name = ANY($3)
		  AND ts >= $4 AND ts < $5
	`
	var total int
	err := r.db.Pool().QueryRow(ctx, query, roomID, donorKey, names, fromTs, toTs).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum quantity by names: %w", err)
	}
	return total, nil
}

// SumQuantityByIDs is SumQuantityByNames for the gift-id rule family.
func (r *EventRepository) SumQuantityByIDs(ctx context.Context, roomID int64, donorKey string, ids []int64, fromTs, toTs int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `
		SELECT COALESCE(SUM(quantity), 0)
		FROM gift_events
		WHERE room_id = $1 AND donor_key = $2 AND gift_id = ANY($3)
		  AND ts >= $4 AND ts < $5
	`
	var total int
	err := r.db.Pool().QueryRow(ctx, query, roomID, donorKey, ids, fromTs, toTs).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum quantity by ids: %w", err)
	}
	return total, nil
}

// Recent is a convenience wrapper for the default dashboard view.
func (r *EventRepository) Recent(ctx context.Context, roomID int64, limit int) ([]*GiftEvent, error) {
	return r.Search(ctx, SearchFilter{RoomID: roomID, Limit: limit})
}
