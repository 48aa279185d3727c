package repo

import (
	"context"
	"database/sql"

	"checkout-core/internal/domain"
)

type SessionRepo interface {
	// Increment adds the order amount to the register session's running
	// total and its per-method breakdown. Best-effort; callers log failures
	// and move on.
	Increment(ctx context.Context, totals *domain.SessionTotals) error
}

type sessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) Increment(ctx context.Context, totals *domain.SessionTotals) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO session_totals (session_id, payment_method, total, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (session_id, payment_method)
		DO UPDATE SET total = session_totals.total + EXCLUDED.total, updated_at = now()`,
		totals.SessionID, totals.PaymentMethod, totals.Amount,
	)
	if err != nil {
		return err
	}
	return nil
}
