package repo

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"checkout-core/internal/domain"
)

type PaymentRepo interface {
	// CreateAttempt writes the audit row for a gateway call. It is written
	// before the order is updated so a crash between the two still leaves a
	// record of money movement.
	CreateAttempt(ctx context.Context, attempt *domain.PaymentAttempt) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.PaymentAttempt, error)
}

type paymentRepo struct {
	db *sql.DB
}

func NewPaymentRepo(db *sql.DB) PaymentRepo {
	return &paymentRepo{db: db}
}

func (r *paymentRepo) CreateAttempt(ctx context.Context, attempt *domain.PaymentAttempt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_attempts
			(id, order_id, gateway, amount, status, gateway_ref, auth_code,
			 card_type, card_last4, raw_response, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		attempt.ID, attempt.OrderID, attempt.Gateway, attempt.Amount, attempt.Status,
		attempt.GatewayRef, attempt.AuthCode, attempt.CardType, attempt.CardLast4,
		attempt.RawResponse, attempt.CreatedAt,
	)
	if err != nil {
		return err
	}
	return nil
}

func (r *paymentRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.PaymentAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, gateway, amount, status, gateway_ref, auth_code,
		       card_type, card_last4, raw_response, created_at
		FROM payment_attempts WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []domain.PaymentAttempt
	for rows.Next() {
		var a domain.PaymentAttempt
		if err := rows.Scan(
			&a.ID, &a.OrderID, &a.Gateway, &a.Amount, &a.Status, &a.GatewayRef,
			&a.AuthCode, &a.CardType, &a.CardLast4, &a.RawResponse, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
