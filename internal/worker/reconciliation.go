// Package worker drains the reconciliation queue. It runs in cmd/reconcile,
// outside the request path: the checkout core only ever writes entries.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"checkout-core/internal/domain"
	"checkout-core/internal/infrastructure/payment"
	"checkout-core/internal/repo"
)

// GatewayResolver finds the gateway that handled an order's payment, for
// verifying charges on orders stuck mid-payment.
type GatewayResolver func(ctx context.Context, order *domain.Order) (payment.Gateway, error)

type ReconciliationWorker struct {
	recon     repo.ReconRepo
	orders    repo.OrderRepo
	inventory repo.InventoryRepo
	loyalty   repo.LoyaltyRepo
	payments  repo.PaymentRepo
	resolve   GatewayResolver
	interval  time.Duration
	log       *slog.Logger
}

// maxAttempts bounds retries per entry; after that the entry is abandoned
// for manual follow-up.
const maxAttempts = 5

// stuckAfter is how long a PENDING/PENDING order may sit before the sweep
// asks the gateway what really happened.
const stuckAfter = 5 * time.Minute

func NewReconciliationWorker(
	recon repo.ReconRepo,
	orders repo.OrderRepo,
	inventory repo.InventoryRepo,
	loyalty repo.LoyaltyRepo,
	payments repo.PaymentRepo,
	resolve GatewayResolver,
	interval time.Duration,
	log *slog.Logger,
) *ReconciliationWorker {
	return &ReconciliationWorker{
		recon:     recon,
		orders:    orders,
		inventory: inventory,
		loyalty:   loyalty,
		payments:  payments,
		resolve:   resolve,
		interval:  interval,
		log:       log,
	}
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.log.Info("reconciliation worker started", "interval", rw.interval.String())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rw.drainQueue(ctx); err != nil {
				rw.log.Error("queue drain failed", "error", err)
			}
			if err := rw.sweepStuckOrders(ctx); err != nil {
				rw.log.Error("stuck order sweep failed", "error", err)
			}
		}
	}
}

func (rw *ReconciliationWorker) drainQueue(ctx context.Context) error {
	entries, err := rw.recon.Pending(ctx, 50)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Attempts >= maxAttempts {
			rw.log.Warn("abandoning reconciliation entry",
				"entry_id", entry.ID.String(), "subject", string(entry.Subject))
			if err := rw.recon.MarkAbandoned(ctx, entry.ID); err != nil {
				rw.log.Error("mark abandoned failed", "entry_id", entry.ID.String(), "error", err)
			}
			continue
		}
		if err := rw.recon.IncrementAttempts(ctx, entry.ID); err != nil {
			rw.log.Error("increment attempts failed", "entry_id", entry.ID.String(), "error", err)
			continue
		}

		var retryErr error
		switch entry.Subject {
		case domain.ReconInventory:
			retryErr = rw.retryInventory(ctx, &entry)
		case domain.ReconLoyalty:
			retryErr = rw.retryLoyalty(ctx, &entry)
		default:
			rw.log.Warn("unknown reconciliation subject", "subject", string(entry.Subject))
			continue
		}

		if retryErr != nil {
			rw.log.Warn("reconciliation retry failed",
				"entry_id", entry.ID.String(), "subject", string(entry.Subject), "error", retryErr)
			continue
		}
		if err := rw.recon.MarkResolved(ctx, entry.ID); err != nil {
			rw.log.Error("mark resolved failed", "entry_id", entry.ID.String(), "error", err)
		}
	}
	return nil
}

func (rw *ReconciliationWorker) retryInventory(ctx context.Context, entry *domain.ReconciliationEntry) error {
	var payload struct {
		HoldID string `json:"hold_id"`
	}
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return err
	}
	holdID, err := uuid.Parse(payload.HoldID)
	if err != nil {
		return err
	}
	// Finalize is idempotent on settled holds
	return rw.inventory.Finalize(ctx, holdID)
}

func (rw *ReconciliationWorker) retryLoyalty(ctx context.Context, entry *domain.ReconciliationEntry) error {
	var payload struct {
		CustomerID     string `json:"customer_id"`
		PointsEarned   int64  `json:"points_earned"`
		PointsRedeemed int64  `json:"points_redeemed"`
	}
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return err
	}
	if payload.PointsEarned == 0 && payload.PointsRedeemed == 0 {
		return nil
	}
	return rw.loyalty.ApplyAdjustment(ctx, &domain.LoyaltyAdjustment{
		CustomerID:     payload.CustomerID,
		OrderID:        entry.OrderID,
		PointsEarned:   payload.PointsEarned,
		PointsRedeemed: payload.PointsRedeemed,
	})
}

// sweepStuckOrders handles orders abandoned mid-payment (crash or kill
// between charge and status update). The gateway is the source of truth: a
// captured charge completes the order, anything else cancels it.
func (rw *ReconciliationWorker) sweepStuckOrders(ctx context.Context) error {
	stuck, err := rw.orders.FindStuckOrders(ctx, stuckAfter)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}

	rw.log.Info("found stuck orders", "count", len(stuck))

	for i := range stuck {
		order := &stuck[i]
		charged, err := rw.chargeWentThrough(ctx, order)
		if err != nil {
			rw.log.Warn("charge verification failed", "order_id", order.ID.String(), "error", err)
			continue // leave for the next sweep
		}

		if charged {
			if err := order.TransitionPayment(domain.PaymentPaid); err != nil {
				rw.log.Error("illegal transition", "order_id", order.ID.String(), "error", err)
				continue
			}
			if order.Channel == domain.ChannelPOS {
				if err := order.Transition(domain.OrderCompleted); err != nil {
					rw.log.Error("illegal transition", "order_id", order.ID.String(), "error", err)
					continue
				}
			}
			rw.log.Info("stuck order was charged, completing", "order_id", order.ID.String())
		} else {
			if err := order.Transition(domain.OrderCancelled); err != nil {
				rw.log.Error("illegal transition", "order_id", order.ID.String(), "error", err)
				continue
			}
			if err := order.TransitionPayment(domain.PaymentFailed); err != nil {
				rw.log.Error("illegal transition", "order_id", order.ID.String(), "error", err)
				continue
			}
			rw.log.Info("stuck order was never charged, cancelling", "order_id", order.ID.String())
		}

		if err := rw.orders.UpdateStatus(ctx, order); err != nil {
			rw.log.Error("status update failed", "order_id", order.ID.String(), "error", err)
		}
	}
	return nil
}

func (rw *ReconciliationWorker) chargeWentThrough(ctx context.Context, order *domain.Order) (bool, error) {
	attempts, err := rw.payments.ListByOrder(ctx, order.ID)
	if err != nil {
		return false, err
	}
	var ref string
	for _, a := range attempts {
		if a.Gateway != domain.GatewayCash && a.GatewayRef != "" {
			ref = a.GatewayRef
		}
	}
	if ref == "" {
		// no gateway reference was ever recorded, so no money moved
		return false, nil
	}

	gw, err := rw.resolve(ctx, order)
	if err != nil {
		return false, err
	}
	return gw.Verify(ctx, ref)
}
