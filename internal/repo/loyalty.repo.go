package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"checkout-core/internal/domain"
)

// ErrInsufficientBalance is returned when a redemption exceeds the customer's
// current balance. Post-payment this is non-fatal: the orchestrator queues it
// for reconciliation instead of failing the sale.
var ErrInsufficientBalance = errors.New("loyalty: insufficient point balance")

// ErrNoCustomer is returned when the adjustment references an unknown customer.
var ErrNoCustomer = errors.New("loyalty: customer not found")

type LoyaltyRepo interface {
	// Balance reads the customer's current point balance without locking.
	Balance(ctx context.Context, customerID string) (int64, error)
	// PointsToEarn computes earned points from the seller's configured rule.
	// Never trusted from the client.
	PointsToEarn(ctx context.Context, sellerID string, total float64) (int64, error)
	// PointsToRedeem converts a loyalty discount amount into the points it
	// costs under the seller's redemption rule.
	PointsToRedeem(ctx context.Context, sellerID string, discount float64) (int64, error)
	// ApplyAdjustment mutates the customer balance under a row lock and
	// records the adjustment. The balance check and the mutation happen in
	// one transaction so concurrent orders cannot lose an update.
	ApplyAdjustment(ctx context.Context, adj *domain.LoyaltyAdjustment) error
}

type loyaltyRepo struct {
	db *sql.DB
}

func NewLoyaltyRepo(db *sql.DB) LoyaltyRepo {
	return &loyaltyRepo{db: db}
}

func (r *loyaltyRepo) Balance(ctx context.Context, customerID string) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx,
		`SELECT points_balance FROM customers WHERE id = $1`, customerID,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrNoCustomer
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *loyaltyRepo) PointsToRedeem(ctx context.Context, sellerID string, discount float64) (int64, error) {
	if discount <= 0 {
		return 0, nil
	}
	var redeemPerUnit float64
	err := r.db.QueryRowContext(ctx,
		`SELECT redeem_points_per_unit FROM loyalty_rules WHERE seller_id = $1`,
		sellerID,
	).Scan(&redeemPerUnit)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	points := decimal.NewFromFloat(discount).Mul(decimal.NewFromFloat(redeemPerUnit))
	return points.Ceil().IntPart(), nil
}

func (r *loyaltyRepo) PointsToEarn(ctx context.Context, sellerID string, total float64) (int64, error) {
	var pointsPerUnit float64
	err := r.db.QueryRowContext(ctx,
		`SELECT points_per_currency_unit FROM loyalty_rules WHERE seller_id = $1`,
		sellerID,
	).Scan(&pointsPerUnit)
	if err == sql.ErrNoRows {
		return 0, nil // seller has no loyalty program
	}
	if err != nil {
		return 0, err
	}
	earned := decimal.NewFromFloat(total).Mul(decimal.NewFromFloat(pointsPerUnit))
	return earned.Floor().IntPart(), nil
}

func (r *loyaltyRepo) ApplyAdjustment(ctx context.Context, adj *domain.LoyaltyAdjustment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT points_balance FROM customers WHERE id = $1 FOR UPDATE`,
		adj.CustomerID,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return ErrNoCustomer
	}
	if err != nil {
		return err
	}
	if adj.PointsRedeemed > balance {
		return ErrInsufficientBalance
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE customers SET points_balance = points_balance + $1 - $2 WHERE id = $3`,
		adj.PointsEarned, adj.PointsRedeemed, adj.CustomerID,
	)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO loyalty_adjustments (customer_id, order_id, points_earned, points_redeemed, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		adj.CustomerID, adj.OrderID, adj.PointsEarned, adj.PointsRedeemed, time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}
