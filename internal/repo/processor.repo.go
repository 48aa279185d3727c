package repo

import (
	"context"
	"database/sql"

	"checkout-core/internal/domain"
)

type ProcessorRepo interface {
	// ForRegister resolves the processor bound to a POS register. Returns
	// nil when none is configured; the caller decides that is a 400.
	ForRegister(ctx context.Context, registerID string) (*domain.ProcessorConfig, error)
	// ForSeller resolves the seller's e-commerce processor.
	ForSeller(ctx context.Context, sellerID string) (*domain.ProcessorConfig, error)
}

type processorRepo struct {
	db *sql.DB
}

func NewProcessorRepo(db *sql.DB) ProcessorRepo {
	return &processorRepo{db: db}
}

func scanProcessor(row *sql.Row) (*domain.ProcessorConfig, error) {
	var p domain.ProcessorConfig
	err := row.Scan(
		&p.ID, &p.SellerID, &p.RegisterID, &p.Gateway, &p.Endpoint, &p.Credential, &p.MerchantRef,
	)
	if err == sql.ErrNoRows {
		return nil, nil // not configured
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *processorRepo) ForRegister(ctx context.Context, registerID string) (*domain.ProcessorConfig, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, seller_id, COALESCE(register_id, ''), gateway, endpoint, credential, merchant_ref
		FROM processors WHERE register_id = $1`, registerID)
	return scanProcessor(row)
}

func (r *processorRepo) ForSeller(ctx context.Context, sellerID string) (*domain.ProcessorConfig, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, seller_id, COALESCE(register_id, ''), gateway, endpoint, credential, merchant_ref
		FROM processors WHERE seller_id = $1 AND channel = 'ecommerce'`, sellerID)
	return scanProcessor(row)
}
