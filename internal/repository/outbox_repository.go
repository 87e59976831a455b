package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/dispatch-board/internal/database"
	"github.com/vaidashi/dispatch-board/internal/models"
	"github.com/vaidashi/dispatch-board/pkg/logger"
)

// OutboxRepository handles database operations for outbox messages
type OutboxRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewOutboxRepository creates a new OutboxRepository
func NewOutboxRepository(db *database.Database, logger logger.Logger) *OutboxRepository {
	return &OutboxRepository{
		db:     db,
		logger: logger,
	}
}

// CreateInTx records a message in the same transaction as the order write
func (r *OutboxRepository) CreateInTx(ctx context.Context, tx *sqlx.Tx, message *models.OutboxMessage) error {
	query := `
		INSERT INTO outbox_messages (
			aggregate_type, aggregate_id, event_type, payload,
			created_at, status
		) VALUES (
			$1, $2, $3, $4, $5, $6
		) RETURNING id
	`

	var id int64

	err := tx.QueryRowxContext(
		ctx,
		query,
		message.AggregateType,
		message.AggregateID,
		message.EventType,
		message.Payload,
		message.CreatedAt,
		message.Status,
	).Scan(&id)

	if err != nil {
		r.logger.Error("Failed to create outbox message", "error", err, "aggregateID", message.AggregateID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	message.ID = id
	return nil
}

// GetPendingMessages retrieves pending outbox messages, oldest first
func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload,
			   created_at, processed_at, processing_attempts, last_error, status
		FROM outbox_messages
		WHERE status = $1
		ORDER BY id ASC
		LIMIT $2
	`

	var messages []*models.OutboxMessage

	if err := r.db.DB.SelectContext(ctx, &messages, query, models.OutboxStatusPending, limit); err != nil {
		r.logger.Error("Failed to get pending outbox messages", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return messages, nil
}

// MarkAsProcessing claims a pending message and counts the attempt. A
// message another replica claimed first returns models.ErrMessageClaimed.
func (r *OutboxRepository) MarkAsProcessing(ctx context.Context, id int64) error {
	res, err := r.db.DB.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $1, processing_attempts = processing_attempts + 1
		WHERE id = $2 AND status = $3
	`, models.OutboxStatusProcessing, id, models.OutboxStatusPending)
	if err != nil {
		r.logger.Error("Failed to update outbox message", "error", err, "status", "processing")
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	if n == 0 {
		return models.ErrMessageClaimed
	}
	return nil
}

// MarkAsCompleted updates the status of an outbox message to completed
func (r *OutboxRepository) MarkAsCompleted(ctx context.Context, id int64) error {
	return r.exec(ctx, "completed", `
		UPDATE outbox_messages
		SET status = $1, processed_at = $2
		WHERE id = $3
	`, models.OutboxStatusCompleted, time.Now().UTC(), id)
}

// MarkForRetry puts a message back in the pending queue with its last error
func (r *OutboxRepository) MarkForRetry(ctx context.Context, id int64, errorMessage string) error {
	return r.exec(ctx, "pending", `
		UPDATE outbox_messages
		SET status = $1, last_error = $2
		WHERE id = $3
	`, models.OutboxStatusPending, errorMessage, id)
}

// MarkAsFailed parks a message that will not be retried
func (r *OutboxRepository) MarkAsFailed(ctx context.Context, id int64, errorMessage string) error {
	return r.exec(ctx, "failed", `
		UPDATE outbox_messages
		SET status = $1, last_error = $2
		WHERE id = $3
	`, models.OutboxStatusFailed, errorMessage, id)
}

func (r *OutboxRepository) exec(ctx context.Context, target, query string, args ...interface{}) error {
	if _, err := r.db.DB.ExecContext(ctx, query, args...); err != nil {
		r.logger.Error("Failed to update outbox message", "error", err, "status", target)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return nil
}
