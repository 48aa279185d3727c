package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"checkout-core/internal/domain"
)

type InventoryRepo interface {
	// Reserve places the two-phase hold: available stock is decremented
	// atomically under row locks, on-hand stock is untouched. Insufficient
	// stock on any item fails the whole reservation.
	Reserve(ctx context.Context, orderID uuid.UUID, items []domain.HoldItem) (*domain.InventoryHold, error)
	// Finalize converts a reserved hold into a permanent on-hand deduction.
	Finalize(ctx context.Context, holdID uuid.UUID) error
	// Release returns a reserved hold to available stock.
	Release(ctx context.Context, holdID uuid.UUID) error

	// StockAt reports available stock for one inventory record at a
	// location; zero when no record exists.
	StockAt(ctx context.Context, inventoryRef, locationID string) (float64, error)
	// LocationsWithStock lists locations holding at least qty available,
	// best-stocked first.
	LocationsWithStock(ctx context.Context, inventoryRef string, qty float64) ([]string, error)
}

type inventoryRepo struct {
	db *sql.DB
}

func NewInventoryRepo(db *sql.DB) InventoryRepo {
	return &inventoryRepo{db: db}
}

func (r *inventoryRepo) Reserve(ctx context.Context, orderID uuid.UUID, items []domain.HoldItem) (*domain.InventoryHold, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	for _, it := range items {
		var available float64
		err := tx.QueryRowContext(ctx,
			`SELECT available FROM inventory WHERE ref = $1 AND location_id = $2 FOR UPDATE`,
			it.InventoryRef, it.LocationID,
		).Scan(&available)
		if err == sql.ErrNoRows {
			return nil, domain.InsufficientInventory("no stock record for %s at location %s", it.InventoryRef, it.LocationID)
		}
		if err != nil {
			return nil, err
		}
		if available < it.Quantity {
			return nil, domain.InsufficientInventory("insufficient stock for %s at location %s: have %.2f, need %.2f",
				it.InventoryRef, it.LocationID, available, it.Quantity)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE inventory SET available = available - $1 WHERE ref = $2 AND location_id = $3`,
			it.Quantity, it.InventoryRef, it.LocationID,
		)
		if err != nil {
			return nil, err
		}
	}

	hold := &domain.InventoryHold{
		ID:        uuid.New(),
		OrderID:   orderID,
		Status:    domain.HoldReserved,
		Items:     items,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO inventory_holds (id, order_id, status, created_at) VALUES ($1,$2,$3,$4)`,
		hold.ID, hold.OrderID, hold.Status, hold.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO inventory_hold_items (hold_id, inventory_ref, location_id, quantity) VALUES ($1,$2,$3,$4)`,
			hold.ID, it.InventoryRef, it.LocationID, it.Quantity,
		)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return hold, nil
}

func (r *inventoryRepo) Finalize(ctx context.Context, holdID uuid.UUID) error {
	return r.settle(ctx, holdID, domain.HoldFinalized)
}

func (r *inventoryRepo) Release(ctx context.Context, holdID uuid.UUID) error {
	return r.settle(ctx, holdID, domain.HoldReleased)
}

// settle moves a RESERVED hold to its terminal state. Finalizing deducts
// on-hand stock; releasing returns available stock. A hold already settled
// (or expired by the store's TTL sweep) is left alone.
func (r *inventoryRepo) settle(ctx context.Context, holdID uuid.UUID, to domain.HoldStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE inventory_holds SET status = $1 WHERE id = $2 AND status = $3`,
		to, holdID, domain.HoldReserved,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return nil // already settled or expired
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT inventory_ref, location_id, quantity FROM inventory_hold_items WHERE hold_id = $1`, holdID)
	if err != nil {
		return err
	}
	var items []domain.HoldItem
	for rows.Next() {
		var it domain.HoldItem
		if err := rows.Scan(&it.InventoryRef, &it.LocationID, &it.Quantity); err != nil {
			rows.Close()
			return err
		}
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, it := range items {
		var stmt string
		if to == domain.HoldFinalized {
			stmt = `UPDATE inventory SET on_hand = on_hand - $1 WHERE ref = $2 AND location_id = $3`
		} else {
			stmt = `UPDATE inventory SET available = available + $1 WHERE ref = $2 AND location_id = $3`
		}
		if _, err := tx.ExecContext(ctx, stmt, it.Quantity, it.InventoryRef, it.LocationID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *inventoryRepo) StockAt(ctx context.Context, inventoryRef, locationID string) (float64, error) {
	var available float64
	err := r.db.QueryRowContext(ctx,
		`SELECT available FROM inventory WHERE ref = $1 AND location_id = $2`,
		inventoryRef, locationID,
	).Scan(&available)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return available, nil
}

func (r *inventoryRepo) LocationsWithStock(ctx context.Context, inventoryRef string, qty float64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT location_id FROM inventory WHERE ref = $1 AND available >= $2 ORDER BY available DESC`,
		inventoryRef, qty,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []string
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}
