package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"checkout-core/internal/domain"
)

// ReconSink is the port the orchestrator writes deferred fix-ups through.
// Only non-fatal post-payment failures land here.
type ReconSink interface {
	Enqueue(ctx context.Context, entry *domain.ReconciliationEntry) error
}

// ReconRepo adds the drain-side operations used by cmd/reconcile.
type ReconRepo interface {
	ReconSink
	Pending(ctx context.Context, limit int) ([]domain.ReconciliationEntry, error)
	MarkResolved(ctx context.Context, id uuid.UUID) error
	MarkAbandoned(ctx context.Context, id uuid.UUID) error
	IncrementAttempts(ctx context.Context, id uuid.UUID) error
}

type reconRepo struct {
	db *sql.DB
}

func NewReconRepo(db *sql.DB) ReconRepo {
	return &reconRepo{db: db}
}

func (r *reconRepo) Enqueue(ctx context.Context, entry *domain.ReconciliationEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reconciliation_entries (id, subject, order_id, payload, error_text, status, attempts, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.ID, entry.Subject, entry.OrderID, entry.Payload, entry.ErrorText,
		domain.ReconPending, 0, entry.CreatedAt,
	)
	if err != nil {
		return err
	}
	return nil
}

func (r *reconRepo) Pending(ctx context.Context, limit int) ([]domain.ReconciliationEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, subject, order_id, payload, error_text, status, attempts, created_at
		FROM reconciliation_entries
		WHERE status = $1 ORDER BY created_at LIMIT $2`,
		domain.ReconPending, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.ReconciliationEntry
	for rows.Next() {
		var e domain.ReconciliationEntry
		if err := rows.Scan(
			&e.ID, &e.Subject, &e.OrderID, &e.Payload, &e.ErrorText, &e.Status, &e.Attempts, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *reconRepo) MarkResolved(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, domain.ReconResolved)
}

func (r *reconRepo) MarkAbandoned(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, domain.ReconAbandoned)
}

func (r *reconRepo) setStatus(ctx context.Context, id uuid.UUID, status domain.ReconStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE reconciliation_entries SET status = $1 WHERE id = $2`, status, id)
	return err
}

func (r *reconRepo) IncrementAttempts(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE reconciliation_entries SET attempts = attempts + 1 WHERE id = $1`, id)
	return err
}
