package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/dispatch-board/internal/database"
	"github.com/vaidashi/dispatch-board/internal/models"
	apperrors "github.com/vaidashi/dispatch-board/pkg/errors"
	"github.com/vaidashi/dispatch-board/pkg/logger"
)

var (
	ErrNotFound = apperrors.ErrNotFound
	ErrDatabase = apperrors.ErrStoreUnavailable
)

const orderColumns = `id, order_number, year, make, model, location, status,
	appointment_at, appointment_label, decline_reason, notes,
	COALESCE(created_at, 'epoch'::timestamptz) AS created_at, updated_at`

// OrderRepository handles database operations for orders
type OrderRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewOrderRepository creates a new OrderRepository
func NewOrderRepository(db *database.Database, logger logger.Logger) *OrderRepository {
	return &OrderRepository{
		db:     db,
		logger: logger,
	}
}

// List loads the whole collection. Rows with no created_at come back with
// the zero time so they sort last.
func (r *OrderRepository) List(ctx context.Context) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`

	var orders []models.Order
	if err := r.db.DB.SelectContext(ctx, &orders, query); err != nil {
		r.logger.Error("Failed to list orders", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	for i := range orders {
		normalize(&orders[i])
	}

	return orders, nil
}

// GetByIDInTx loads one order and locks its row until the transaction ends
func (r *OrderRepository) GetByIDInTx(ctx context.Context, tx *sqlx.Tx, id string) (models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	var order models.Order
	if err := tx.GetContext(ctx, &order, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Order{}, apperrors.NewNotFoundError(fmt.Sprintf("order %s not found", id))
		}
		r.logger.Error("Failed to get order by ID", "error", err, "orderID", id)
		return models.Order{}, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	normalize(&order)
	return order, nil
}

// CreateInTx inserts a new order within a transaction
func (r *OrderRepository) CreateInTx(ctx context.Context, tx *sqlx.Tx, order models.Order) error {
	query := `
		INSERT INTO orders (id, order_number, year, make, model, location, status,
			appointment_at, appointment_label, decline_reason, notes, created_at, updated_at)
		VALUES (:id, :order_number, :year, :make, :model, :location, :status,
			:appointment_at, :appointment_label, :decline_reason, :notes, :created_at, :updated_at)
	`

	if _, err := tx.NamedExecContext(ctx, query, order); err != nil {
		r.logger.Error("Failed to create order", "error", err, "orderID", order.ID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// PatchInTx writes only the columns the patch names
func (r *OrderRepository) PatchInTx(ctx context.Context, tx *sqlx.Tx, id string, patch models.Patch, now time.Time) error {
	query, args := BuildPatch(id, patch, now)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to patch order", "error", err, "orderID", id, "fields", patch.Fields())
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return checkAffected(result, id)
}

// DeleteInTx removes an order and returns the row as it was
func (r *OrderRepository) DeleteInTx(ctx context.Context, tx *sqlx.Tx, id string) (models.Order, error) {
	query := `DELETE FROM orders WHERE id = $1 RETURNING ` + orderColumns

	var order models.Order
	if err := tx.GetContext(ctx, &order, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Order{}, apperrors.NewNotFoundError(fmt.Sprintf("order %s not found", id))
		}
		r.logger.Error("Failed to delete order", "error", err, "orderID", id)
		return models.Order{}, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	normalize(&order)
	return order, nil
}

// NotifyInTx queues a NOTIFY that Postgres delivers when the transaction commits
func (r *OrderRepository) NotifyInTx(ctx context.Context, tx *sqlx.Tx, channel, payload string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channel, payload); err != nil {
		r.logger.Error("Failed to notify listeners", "error", err, "channel", channel)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return nil
}

// BuildPatch renders the UPDATE statement for a patch. updated_at is always
// set; no other column outside the patch is touched.
func BuildPatch(id string, patch models.Patch, now time.Time) (string, []interface{}) {
	var (
		sets []string
		args []interface{}
	)

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.OrderNumber != nil {
		add("order_number", *patch.OrderNumber)
	}
	if patch.Year != nil {
		add("year", *patch.Year)
	}
	if patch.Make != nil {
		add("make", *patch.Make)
	}
	if patch.Model != nil {
		add("model", *patch.Model)
	}
	if patch.Location != nil {
		add("location", *patch.Location)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.DeclineReason != nil {
		add("decline_reason", *patch.DeclineReason)
	}
	if patch.Notes != nil {
		add("notes", *patch.Notes)
	}

	switch {
	case patch.ClearAppointment:
		add("appointment_at", nil)
		add("appointment_label", "")
	case patch.AppointmentAt != nil:
		add("appointment_at", patch.AppointmentAt.UTC())
		add("appointment_label", "")
	}

	add("updated_at", now.UTC())
	args = append(args, id)

	query := fmt.Sprintf("UPDATE orders SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	return query, args
}

func checkAffected(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if rowsAffected == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("order %s not found", id))
	}

	return nil
}

// normalize maps the epoch placeholder back to a missing creation time
func normalize(o *models.Order) {
	if o.CreatedAt.Unix() == 0 {
		o.CreatedAt = time.Time{}
	}
}
