package payment

import (
	"context"

	"checkout-core/internal/domain"
)

// CashGateway is the no-op path for cash tenders: no network call, the
// payment is immediately paid. It exists so the orchestration code has no
// cash-specific branch deeper than gateway selection.
type CashGateway struct{}

func NewCashGateway() *CashGateway { return &CashGateway{} }

func (g *CashGateway) Type() domain.GatewayType { return domain.GatewayCash }

func (g *CashGateway) Charge(_ context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	return &domain.ChargeResult{
		Approved:   true,
		GatewayRef: "cash-" + req.OrderNumber,
		Message:    "cash tender",
	}, nil
}

func (g *CashGateway) Verify(context.Context, string) (bool, error) {
	return true, nil
}
