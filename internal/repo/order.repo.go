package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"checkout-core/internal/domain"
)

type OrderRepo interface {
	FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// FindByIdempotencyKey returns the prior order created under the key, or
	// nil when the key was never used.
	FindByIdempotencyKey(ctx context.Context, sellerID, key string) (*domain.Order, error)
	// CreateWithItems writes the draft order and its line items. If item
	// insertion fails the order row is deleted before the error returns; an
	// order must never exist without its items.
	CreateWithItems(ctx context.Context, order *domain.Order, items []domain.OrderItem) error
	UpdateStatus(ctx context.Context, order *domain.Order) error
	// UpdateItemRouting persists the per-item fulfillment assignment.
	UpdateItemRouting(ctx context.Context, items []domain.OrderItem) error
	ItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error)
	FindStuckOrders(ctx context.Context, olderThan time.Duration) ([]domain.Order, error)
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `id, order_number, seller_id, location_id, register_id, session_id,
	channel, customer_id, status, payment_status, subtotal, tax, discount, tip, total,
	idempotency_key, metadata, created_by, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var o domain.Order
	var metadata []byte
	err := row.Scan(
		&o.ID, &o.Number, &o.SellerID, &o.LocationID, &o.RegisterID, &o.SessionID,
		&o.Channel, &o.CustomerID, &o.Status, &o.PaymentStatus,
		&o.Subtotal, &o.Tax, &o.Discount, &o.Tip, &o.Total,
		&o.IdempotencyKey, &metadata, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err // system error
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &o.Metadata)
	}
	return &o, nil
}

func (r *orderRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (r *orderRepo) FindByIdempotencyKey(ctx context.Context, sellerID, key string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE seller_id = $1 AND idempotency_key = $2`,
		sellerID, key,
	)
	return scanOrder(row)
}

func (r *orderRepo) CreateWithItems(ctx context.Context, order *domain.Order, items []domain.OrderItem) error {
	metadata, err := json.Marshal(order.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		order.ID, order.Number, order.SellerID, order.LocationID, order.RegisterID,
		order.SessionID, order.Channel, order.CustomerID, order.Status, order.PaymentStatus,
		order.Subtotal, order.Tax, order.Discount, order.Tip, order.Total,
		order.IdempotencyKey, metadata, order.CreatedBy, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if err := r.insertItems(ctx, items); err != nil {
		// compensate: the order row must not outlive a failed item write
		_, delErr := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, order.ID)
		if delErr != nil {
			return domain.Internal(delErr, "order %s left without items after failed insert", order.ID)
		}
		return domain.Internal(err, "line item insert failed, order rolled back")
	}
	return nil
}

func (r *orderRepo) insertItems(ctx context.Context, items []domain.OrderItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, it := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items
				(id, order_id, product_id, quantity, unit_price, line_total,
				 inventory_ref, tier_qty, tier_label, fulfillment_type, location_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			it.ID, it.OrderID, it.ProductID, it.Quantity, it.UnitPrice, it.LineTotal,
			it.InventoryRef, it.TierQty, it.TierLabel, it.FulfillmentType, it.LocationID,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *orderRepo) UpdateStatus(ctx context.Context, order *domain.Order) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = $1, payment_status = $2, updated_at = $3 WHERE id = $4`,
		order.Status, order.PaymentStatus, order.UpdatedAt, order.ID,
	)
	if err != nil {
		return err
	}
	return nil
}

func (r *orderRepo) UpdateItemRouting(ctx context.Context, items []domain.OrderItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, it := range items {
		var loc any
		if it.LocationID != "" {
			loc = it.LocationID
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE order_items SET fulfillment_type = $1, location_id = $2 WHERE id = $3`,
			it.FulfillmentType, loc, it.ID,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *orderRepo) ItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price, line_total,
		       inventory_ref, tier_qty, tier_label, fulfillment_type, COALESCE(location_id, '')
		FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(
			&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.LineTotal,
			&it.InventoryRef, &it.TierQty, &it.TierLabel, &it.FulfillmentType, &it.LocationID,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *orderRepo) FindStuckOrders(ctx context.Context, olderThan time.Duration) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = 'PENDING' AND payment_status = 'PENDING' AND updated_at < $1`,
		time.Now().Add(-olderThan),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}
