package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrMessageNotFound is returned when a queue mutation targets a row
// that does not exist or is no longer in the expected status.
var ErrMessageNotFound = errors.New("queue message not found")

// QueueRepository owns the thank_queue and thank_queue_meta tables.
// The dispatcher is the only writer of status transitions; the
// aggregation engine only inserts pending rows.
type QueueRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewQueueRepository creates a new outbound queue repository
func NewQueueRepository(db *DB, logger *zap.Logger) *QueueRepository {
	return &QueueRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureMeta creates the per-room meta row if it does not exist yet.
// Called once at startup so the dispatcher can assume the row is there.
func (r *QueueRepository) EnsureMeta(ctx context.Context, roomID int64) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO thank_queue_meta (room_id, last_sent_at)
		VALUES ($1, 0)
		ON CONFLICT (room_id) DO NOTHING
	`, roomID)
	if err != nil {
		return fmt.Errorf("ensure queue meta: %w", err)
	}
	return nil
}

// Enqueue inserts a new pending message.
func (r *QueueRepository) Enqueue(ctx context.Context, msg *QueueMessage) error {
	if msg.Status == "" {
		msg.Status = StatusPending
	}
	query := `
		INSERT INTO thank_queue (room_id, donor_key, donor_day, message, status, not_before)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := r.db.Pool().QueryRow(ctx, query,
		msg.RoomID, msg.DonorKey, msg.DonorDay, msg.Message, msg.Status, msg.NotBefore,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		r.logger.Error("failed to enqueue message",
			zap.Error(err),
			zap.Int64("room_id", msg.RoomID),
		)
		return fmt.Errorf("insert queue message: %w", err)
	}

	r.logger.Info("message enqueued",
		zap.Int64("id", msg.ID),
		zap.Int64("room_id", msg.RoomID),
		zap.String("donor_key", msg.DonorKey),
	)
	return nil
}

// NextEligible returns the oldest pending message for the room whose
// not_before has passed, FIFO within eligibility. Returns (nil, nil)
// when the queue is drained.
func (r *QueueRepository) NextEligible(ctx context.Context, roomID int64, now time.Time) (*QueueMessage, error) {
	query := `
		SELECT id, room_id, donor_key, donor_day, message, status,
		       not_before, created_at, sent_at, last_error
		FROM thank_queue
		WHERE room_id = $1 AND status = $2 AND not_before <= $3
		ORDER BY not_before ASC, id ASC
		LIMIT 1
	`
	var msg QueueMessage
	err := r.db.Pool().QueryRow(ctx, query, roomID, StatusPending, UnixSeconds(now)).Scan(
		&msg.ID, &msg.RoomID, &msg.DonorKey, &msg.DonorDay, &msg.Message, &msg.Status,
		&msg.NotBefore, &msg.CreatedAt, &msg.SentAt, &msg.LastError,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query next eligible: %w", err)
	}
	return &msg, nil
}

// LastSentAt reads the per-room cooldown clock.
func (r *QueueRepository) LastSentAt(ctx context.Context, roomID int64) (time.Time, error) {
	var ts float64
	err := r.db.Pool().QueryRow(ctx,
		`SELECT last_sent_at FROM thank_queue_meta WHERE room_id = $1`, roomID,
	).Scan(&ts)
	if err != nil {
		if isNoRows(err) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("query queue meta: %w", err)
	}
	return FromUnixSeconds(ts), nil
}

// MarkSent completes a delivery: the pending row becomes sent and the
// room cooldown clock advances, both inside one transaction so two
// dispatcher passes can never both observe a cleared cooldown.
func (r *QueueRepository) MarkSent(ctx context.Context, id int64, roomID int64, sentAt time.Time) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE thank_queue
		SET status = $1, sent_at = $2
		WHERE id = $3 AND status = $4
	`, StatusSent, sentAt, id, StatusPending)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}

	// last_sent_at only advances
	_, err = tx.Exec(ctx, `
		UPDATE thank_queue_meta
		SET last_sent_at = GREATEST(last_sent_at, $2)
		WHERE room_id = $1
	`, roomID, UnixSeconds(sentAt))
	if err != nil {
		return fmt.Errorf("advance queue meta: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// MarkFailed records a terminal delivery failure. The cooldown clock is
// deliberately not touched: a failed attempt consumes no rate budget.
func (r *QueueRepository) MarkFailed(ctx context.Context, id int64, errText string) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE thank_queue
		SET status = $1, last_error = $2
		WHERE id = $3 AND status = $4
	`, StatusFailed, errText, id, StatusPending)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// CountForDonorDay counts every acknowledgement ever queued for the
// donor on the given day, regardless of outcome. A failed attempt still
// represents a used daily slot.
func (r *QueueRepository) CountForDonorDay(ctx context.Context, roomID int64, donorKey, day string) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx, `
		SELECT COUNT(1) FROM thank_queue
		WHERE room_id = $1 AND donor_key = $2 AND donor_day = $3
	`, roomID, donorKey, day).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count donor day: %w", err)
	}
	return count, nil
}

// Requeue copies a failed message into a fresh pending row. The failed
// row stays in place as history. This is the only retry path; nothing
// retries automatically.
func (r *QueueRepository) Requeue(ctx context.Context, id int64, now time.Time) (*QueueMessage, error) {
	var msg QueueMessage
	err := r.db.Pool().QueryRow(ctx, `
		INSERT INTO thank_queue (room_id, donor_key, donor_day, message, status, not_before)
		SELECT room_id, donor_key, donor_day, message, $2, $3
		FROM thank_queue
		WHERE id = $1 AND status = $4
		RETURNING id, room_id, donor_key, donor_day, message, status, not_before, created_at
	`, id, StatusPending, UnixSeconds(now), StatusFailed).Scan(
		&msg.ID, &msg.RoomID, &msg.DonorKey, &msg.DonorDay, &msg.Message, &msg.Status,
		&msg.NotBefore, &msg.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("requeue message: %w", err)
	}

	r.logger.Info("failed message re-enqueued",
		zap.Int64("failed_id", id),
		zap.Int64("new_id", msg.ID),
	)
	return &msg, nil
}

// List returns queue history for a room, newest first.
func (r *QueueRepository) List(ctx context.Context, roomID int64, status string, limit, offset int) ([]*QueueMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, room_id, donor_key, donor_day, message, status,
		       not_before, created_at, sent_at, last_error
		FROM thank_queue
		WHERE room_id = $1
	`
	args := []any{roomID}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	var messages []*QueueMessage
	for rows.Next() {
		var msg QueueMessage
		err := rows.Scan(
			&msg.ID, &msg.RoomID, &msg.DonorKey, &msg.DonorDay, &msg.Message, &msg.Status,
			&msg.NotBefore, &msg.CreatedAt, &msg.SentAt, &msg.LastError,
		)
		if err != nil {
			return nil, fmt.Errorf("scan queue message: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return messages, nil
}

// WithRoomLock runs fn while holding a session advisory lock for the
// room, making the dispatcher cycle single-flight across processes.
// If another instance holds the lock, fn is skipped (held=false).
func (r *QueueRepository) WithRoomLock(ctx context.Context, roomID int64, fn func(ctx context.Context) error) (held bool, err error) {
	conn, err := r.db.Pool().Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, roomID).Scan(&held); err != nil {
		return false, fmt.Errorf("acquire room lock: %w", err)
	}
	if !held {
		return false, nil
	}
	defer func() {
		var unlocked bool
		if uerr := conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, roomID).Scan(&unlocked); uerr != nil && err == nil {
			err = fmt.Errorf("release room lock: %w", uerr)
		}
	}()

	return true, fn(ctx)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// UnixSeconds converts a time to the fractional epoch-seconds form the
// queue tables store for cooldown arithmetic.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000.0
}

// FromUnixSeconds is the inverse of UnixSeconds. Zero maps to the zero
// time, meaning no send has happened yet.
func FromUnixSeconds(ts float64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ts * 1000.0))
}
