package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"checkout-core/internal/domain"
	"checkout-core/internal/infrastructure/payment"
	"checkout-core/internal/observability"
	"checkout-core/internal/repo"
)

// GatewayFactory resolves the adapter for a processor configuration. Injected
// so tests can substitute gateways without an HTTP server.
type GatewayFactory func(cfg *domain.ProcessorConfig) (payment.Gateway, error)

type CheckoutService struct {
	orders     repo.OrderRepo
	payments   repo.PaymentRepo
	processors repo.ProcessorRepo
	inventory  repo.InventoryRepo
	loyalty    repo.LoyaltyRepo
	sessions   repo.SessionRepo
	recon      repo.ReconSink
	router     *Router
	cash       payment.Gateway
	gatewayFor GatewayFactory
	metrics    *observability.Metrics
	log        *slog.Logger
}

func NewCheckoutService(
	orders repo.OrderRepo,
	payments repo.PaymentRepo,
	processors repo.ProcessorRepo,
	inventory repo.InventoryRepo,
	loyalty repo.LoyaltyRepo,
	sessions repo.SessionRepo,
	recon repo.ReconSink,
	router *Router,
	gatewayFor GatewayFactory,
	metrics *observability.Metrics,
	log *slog.Logger,
) *CheckoutService {
	return &CheckoutService{
		orders:     orders,
		payments:   payments,
		processors: processors,
		inventory:  inventory,
		loyalty:    loyalty,
		sessions:   sessions,
		recon:      recon,
		router:     router,
		cash:       payment.NewCashGateway(),
		gatewayFor: gatewayFor,
		metrics:    metrics,
		log:        log,
	}
}

// orderNumberLen bounds generated order numbers; the SwipeLink INVOICE field
// truncates past 20 characters.
const orderNumberLen = 18

func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	n := "CK" + now.Format("060102") + "-" + suffix
	return n[:orderNumberLen]
}

// Process runs the checkout saga. Steps through payment are fatal: they
// compensate (cancel the order, release the hold) and abort. Steps after a
// successful payment are recoverable: the customer has been charged, so
// failures are captured, queued for reconciliation where applicable, and the
// checkout still reports success.
func (s *CheckoutService) Process(ctx context.Context, cmd *domain.CheckoutCommand, caller *domain.Caller, obs observability.Port) (*domain.CheckoutResult, error) {
	// validation happens before any side effect
	done := obs.Span("validate")
	flagged, err := cmd.Validate()
	done()
	if err != nil {
		return nil, err
	}
	if flagged {
		obs.Breadcrumb("validate", "total above fraud review threshold", "total", cmd.Total)
	}

	key := s.idempotencyKey(cmd, caller)
	if result, ok := s.replay(ctx, cmd, key, obs); ok {
		return result, nil
	}

	gateway, err := s.selectGateway(ctx, cmd)
	if err != nil {
		return nil, err
	}

	order, items, err := s.writeDraft(ctx, cmd, caller, key, obs)
	if err != nil {
		return nil, err
	}

	if err := s.router.Route(ctx, obs, order, items); err != nil {
		// non-fatal: unrouted items get assigned manually
		obs.Capture(err, "step", "route")
	}

	hold, err := s.reserve(ctx, order, items, obs)
	if err != nil {
		s.cancelOrder(ctx, order, obs)
		return nil, err
	}

	attempts, err := s.pay(ctx, cmd, order, gateway, obs)
	if err != nil {
		s.cancelOrder(ctx, order, obs)
		s.releaseHold(ctx, hold, obs)
		return nil, err
	}

	// payment has succeeded; everything from here is recoverable
	s.finalizeHold(ctx, order, hold, obs)

	if err := order.TransitionPayment(domain.PaymentPaid); err != nil {
		return nil, err
	}
	if cmd.Channel == domain.ChannelPOS {
		// e-commerce orders stay PENDING for the fulfillment workflow
		if err := order.Transition(domain.OrderCompleted); err != nil {
			return nil, err
		}
	}
	if err := s.orders.UpdateStatus(ctx, order); err != nil {
		return nil, domain.Internal(err, "persist order status")
	}

	earned, redeemed := s.applyLoyalty(ctx, cmd, order, obs)
	s.accumulateSession(ctx, cmd, obs)

	result := &domain.CheckoutResult{
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		OrderStatus:    string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		Total:          order.Total,
		PointsEarned:   earned,
		PointsRedeemed: redeemed,
	}
	for _, a := range attempts {
		if a.Status == domain.AttemptApproved && a.Gateway != domain.GatewayCash {
			result.AuthCode = a.AuthCode
			result.CardType = a.CardType
			result.CardLast4 = a.CardLast4
		}
	}
	return result, nil
}

// idempotencyKey uses the client key when present, otherwise synthesizes one
// from the seller, the submission time, and the request id.
func (s *CheckoutService) idempotencyKey(cmd *domain.CheckoutCommand, caller *domain.Caller) string {
	if cmd.IdempotencyKey != "" {
		return cmd.IdempotencyKey
	}
	return fmt.Sprintf("%s:%d:%s", cmd.SellerID, time.Now().UnixMilli(), caller.RequestID)
}

// replay short-circuits on any prior order under the same key, returning the
// outcome that attempt reached: the key is unique per seller, so re-entering
// the flow can only die on the order insert. Declined and cancelled attempts
// replay their recorded terminal state; an order still pending is mid-flight
// or awaiting the stuck-order sweep, and its current state is returned as-is.
// A failed lookup logs and continues: for a single attempt idempotency is an
// optimization, not a correctness requirement.
func (s *CheckoutService) replay(ctx context.Context, cmd *domain.CheckoutCommand, key string, obs observability.Port) (*domain.CheckoutResult, bool) {
	prior, err := s.orders.FindByIdempotencyKey(ctx, cmd.SellerID, key)
	if err != nil {
		obs.Capture(err, "step", "idempotency")
		return nil, false
	}
	if prior == nil {
		return nil, false
	}

	obs.Breadcrumb("idempotency", "replayed order", "order_id", prior.ID.String(),
		"order_status", string(prior.Status), "payment_status", string(prior.PaymentStatus))
	return &domain.CheckoutResult{
		OrderID:       prior.ID,
		OrderNumber:   prior.Number,
		OrderStatus:   string(prior.Status),
		PaymentStatus: string(prior.PaymentStatus),
		Total:         prior.Total,
		Replayed:      true,
	}, true
}

// selectGateway resolves the processor for the channel. Cash-only tenders
// need no processor at all. A missing configuration is the seller's problem,
// not ours: 400, not 500.
func (s *CheckoutService) selectGateway(ctx context.Context, cmd *domain.CheckoutCommand) (payment.Gateway, error) {
	if cmd.PaymentMethod == domain.PaymentMethodCash {
		return nil, nil
	}

	var cfg *domain.ProcessorConfig
	var err error
	switch cmd.Channel {
	case domain.ChannelPOS:
		cfg, err = s.processors.ForRegister(ctx, cmd.RegisterID)
	case domain.ChannelEcommerce:
		cfg, err = s.processors.ForSeller(ctx, cmd.SellerID)
	default:
		return nil, domain.Validation("unknown channel %q", cmd.Channel)
	}
	if err != nil {
		return nil, domain.Internal(err, "processor lookup")
	}
	if cfg == nil {
		return nil, domain.Configuration("no payment processor configured for this %s", cmd.Channel)
	}

	return s.gatewayFor(cfg)
}

// writeDraft creates the order row and its line items. Tier quantity is a
// financial-integrity invariant: an item that deducts stock must say how
// much, so a missing tier aborts before anything is written.
func (s *CheckoutService) writeDraft(ctx context.Context, cmd *domain.CheckoutCommand, caller *domain.Caller, key string, obs observability.Port) (*domain.Order, []domain.OrderItem, error) {
	for i, it := range cmd.Items {
		if it.InventoryRef != "" && it.TierQty <= 0 {
			return nil, nil, domain.Internal(nil, "item %d (%s): missing tier quantity", i, it.ProductID)
		}
	}

	now := time.Now().UTC()
	createdBy := caller.UserID
	if caller.Service {
		createdBy = "service:ecommerce"
	}
	order := &domain.Order{
		ID:             uuid.New(),
		Number:         newOrderNumber(now),
		SellerID:       cmd.SellerID,
		LocationID:     cmd.LocationID,
		RegisterID:     cmd.RegisterID,
		SessionID:      cmd.SessionID,
		Channel:        cmd.Channel,
		CustomerID:     cmd.CustomerID,
		Status:         domain.OrderPending,
		PaymentStatus:  domain.PaymentPending,
		Subtotal:       cmd.Subtotal,
		Tax:            cmd.Tax,
		Discount:       cmd.LoyaltyDiscount + cmd.CampaignDiscount,
		Tip:            cmd.TipAmount,
		Total:          cmd.Total,
		IdempotencyKey: key,
		Metadata:       cmd.Metadata,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	items := make([]domain.OrderItem, 0, len(cmd.Items))
	for _, it := range cmd.Items {
		items = append(items, domain.OrderItem{
			ID:           uuid.New(),
			OrderID:      order.ID,
			ProductID:    it.ProductID,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice,
			LineTotal:    it.LineTotal,
			InventoryRef: it.InventoryRef,
			TierQty:      it.TierQty,
			TierLabel:    it.TierLabel,
			LocationID:   it.LocationID,
		})
	}

	done := obs.Span("write_draft")
	err := s.orders.CreateWithItems(ctx, order, items)
	done()
	if err != nil {
		return nil, nil, domain.AsError(err)
	}
	obs.Breadcrumb("ledger", "draft order created", "order_id", order.ID.String(), "order_number", order.Number)
	return order, items, nil
}

// reserve places the pre-payment hold for every item with an inventory
// reference. Insufficient stock on any item aborts the checkout before a
// payment is attempted. An item the router left unrouted (a transient stock
// read error, say) gets one more location lookup here, so only a genuine lack
// of stock reaches the caller as insufficient inventory.
func (s *CheckoutService) reserve(ctx context.Context, order *domain.Order, items []domain.OrderItem, obs observability.Port) (*domain.InventoryHold, error) {
	var holdItems []domain.HoldItem
	for _, it := range items {
		if it.InventoryRef == "" {
			continue
		}
		qty := it.TierQty * it.Quantity
		location := it.LocationID
		if location == "" {
			location = order.LocationID
		}
		if location == "" {
			locations, err := s.inventory.LocationsWithStock(ctx, it.InventoryRef, qty)
			if err != nil {
				return nil, domain.Internal(err, "locate stock for %s", it.InventoryRef)
			}
			if len(locations) == 0 {
				return nil, domain.InsufficientInventory("no location has stock for %s", it.InventoryRef)
			}
			location = locations[0]
		}
		holdItems = append(holdItems, domain.HoldItem{
			InventoryRef: it.InventoryRef,
			LocationID:   location,
			Quantity:     qty,
		})
	}
	if len(holdItems) == 0 {
		return nil, nil
	}

	done := obs.Span("reserve_inventory")
	hold, err := s.inventory.Reserve(ctx, order.ID, holdItems)
	done()
	if err != nil {
		return nil, domain.AsError(err)
	}
	obs.Breadcrumb("inventory", "hold reserved", "hold_id", hold.ID.String())
	return hold, nil
}

// pay runs the tender. Cash bypasses any gateway. Split records the cash
// portion first, the order staying pending until the card portion resolves.
// Every attempt is written as an audit row before the order is touched.
func (s *CheckoutService) pay(ctx context.Context, cmd *domain.CheckoutCommand, order *domain.Order, gateway payment.Gateway, obs observability.Port) ([]domain.PaymentAttempt, error) {
	switch cmd.PaymentMethod {
	case domain.PaymentMethodCash:
		attempt, err := s.charge(ctx, order, s.cash, domain.ChargeRequest{
			OrderID:        order.ID,
			OrderNumber:    order.Number,
			Amount:         order.Total,
			Tip:            cmd.TipAmount,
			IdempotencyKey: order.IdempotencyKey,
		}, obs)
		if err != nil {
			return nil, err
		}
		return []domain.PaymentAttempt{*attempt}, nil

	case domain.PaymentMethodCard:
		attempt, err := s.charge(ctx, order, gateway, domain.ChargeRequest{
			OrderID:        order.ID,
			OrderNumber:    order.Number,
			Amount:         order.Total,
			Tip:            cmd.TipAmount,
			IdempotencyKey: order.IdempotencyKey,
			CardToken:      cmd.CardToken,
		}, obs)
		if err != nil {
			return nil, err
		}
		return []domain.PaymentAttempt{*attempt}, nil

	case domain.PaymentMethodSplit:
		cashAttempt, err := s.charge(ctx, order, s.cash, domain.ChargeRequest{
			OrderID:        order.ID,
			OrderNumber:    order.Number,
			Amount:         cmd.SplitCashAmount,
			IdempotencyKey: order.IdempotencyKey + ":cash",
		}, obs)
		if err != nil {
			return nil, err
		}
		cardAttempt, err := s.charge(ctx, order, gateway, domain.ChargeRequest{
			OrderID:        order.ID,
			OrderNumber:    order.Number,
			Amount:         cmd.SplitCardAmount,
			Tip:            cmd.TipAmount,
			IdempotencyKey: order.IdempotencyKey + ":card",
			CardToken:      cmd.CardToken,
		}, obs)
		if err != nil {
			return nil, err
		}
		return []domain.PaymentAttempt{*cashAttempt, *cardAttempt}, nil

	default:
		return nil, domain.Validation("unsupported payment method %q", cmd.PaymentMethod)
	}
}

// charge calls one gateway and writes the attempt row whatever the outcome.
func (s *CheckoutService) charge(ctx context.Context, order *domain.Order, gw payment.Gateway, req domain.ChargeRequest, obs observability.Port) (*domain.PaymentAttempt, error) {
	done := obs.Span("gateway_charge")
	result, err := gw.Charge(ctx, req)
	done()

	attempt := &domain.PaymentAttempt{
		ID:        uuid.New(),
		OrderID:   order.ID,
		Gateway:   gw.Type(),
		Amount:    req.Amount,
		CreatedAt: time.Now().UTC(),
	}

	if err != nil {
		attempt.Status = domain.AttemptError
		attempt.RawResponse = err.Error()
		if logErr := s.payments.CreateAttempt(ctx, attempt); logErr != nil {
			obs.Capture(logErr, "step", "payment_attempt_log")
		}
		if domain.KindOf(err) == domain.KindPaymentTimeout {
			s.metrics.GatewayCalls.WithLabelValues(string(gw.Type()), "timeout").Inc()
			return nil, err
		}
		s.metrics.GatewayCalls.WithLabelValues(string(gw.Type()), "error").Inc()
		obs.Capture(err, "step", "gateway_charge", "gateway", string(gw.Type()))
		return nil, domain.PaymentDeclined("payment failed: gateway error")
	}

	attempt.GatewayRef = result.GatewayRef
	attempt.AuthCode = result.AuthCode
	attempt.CardType = result.CardType
	attempt.CardLast4 = result.CardLast4
	attempt.RawResponse = result.RawResponse
	if result.Approved {
		attempt.Status = domain.AttemptApproved
		s.metrics.GatewayCalls.WithLabelValues(string(gw.Type()), "approved").Inc()
	} else {
		attempt.Status = domain.AttemptDeclined
		s.metrics.GatewayCalls.WithLabelValues(string(gw.Type()), "declined").Inc()
	}
	if logErr := s.payments.CreateAttempt(ctx, attempt); logErr != nil {
		obs.Capture(logErr, "step", "payment_attempt_log")
	}

	if !result.Approved {
		msg := result.Message
		if msg == "" {
			msg = "card declined"
		}
		return nil, domain.PaymentDeclined("%s", msg)
	}
	obs.Breadcrumb("payment", "charge approved",
		"gateway", string(gw.Type()), "gateway_ref", result.GatewayRef, "amount", req.Amount)
	return attempt, nil
}

// cancelOrder is the fatal-path compensation: PENDING -> CANCELLED/FAILED.
func (s *CheckoutService) cancelOrder(ctx context.Context, order *domain.Order, obs observability.Port) {
	if err := order.Transition(domain.OrderCancelled); err != nil {
		obs.Capture(err, "step", "cancel_order")
		return
	}
	if err := order.TransitionPayment(domain.PaymentFailed); err != nil {
		obs.Capture(err, "step", "cancel_order")
		return
	}
	if err := s.orders.UpdateStatus(ctx, order); err != nil {
		obs.Capture(err, "step", "cancel_order")
	}
}

func (s *CheckoutService) releaseHold(ctx context.Context, hold *domain.InventoryHold, obs observability.Port) {
	if hold == nil {
		return
	}
	if err := s.inventory.Release(ctx, hold.ID); err != nil {
		obs.Capture(err, "step", "release_hold", "hold_id", hold.ID.String())
	}
}

// finalizeHold converts the reservation into a real deduction. The customer
// has been charged, so a failure here must not fail the checkout: it goes to
// the reconciliation queue instead.
func (s *CheckoutService) finalizeHold(ctx context.Context, order *domain.Order, hold *domain.InventoryHold, obs observability.Port) {
	if hold == nil {
		return
	}
	if err := s.inventory.Finalize(ctx, hold.ID); err != nil {
		obs.Capture(err, "step", "finalize_hold", "hold_id", hold.ID.String())
		s.enqueueRecon(ctx, obs, domain.ReconInventory, order.ID, map[string]any{
			"hold_id": hold.ID.String(),
			"action":  "finalize",
		}, err)
	}
}

// applyLoyalty earns and redeems points after a completed payment. Earned
// points come from the seller's rules, never the client. An insufficient
// balance is rejected before the atomic update and queued; any other failure
// is queued too. None of it fails the checkout.
func (s *CheckoutService) applyLoyalty(ctx context.Context, cmd *domain.CheckoutCommand, order *domain.Order, obs observability.Port) (earned, redeemed int64) {
	if cmd.CustomerID == "" {
		return 0, 0
	}

	earned, err := s.loyalty.PointsToEarn(ctx, cmd.SellerID, order.Total)
	if err != nil {
		s.enqueueRecon(ctx, obs, domain.ReconLoyalty, order.ID, s.loyaltyPayload(cmd, 0, 0), err)
		return 0, 0
	}
	redeemed, err = s.loyalty.PointsToRedeem(ctx, cmd.SellerID, cmd.LoyaltyDiscount)
	if err != nil {
		s.enqueueRecon(ctx, obs, domain.ReconLoyalty, order.ID, s.loyaltyPayload(cmd, earned, 0), err)
		return 0, 0
	}
	if earned == 0 && redeemed == 0 {
		return 0, 0
	}

	if redeemed > 0 {
		balance, err := s.loyalty.Balance(ctx, cmd.CustomerID)
		if err != nil {
			s.enqueueRecon(ctx, obs, domain.ReconLoyalty, order.ID, s.loyaltyPayload(cmd, earned, redeemed), err)
			return 0, 0
		}
		if redeemed > balance {
			// payment already captured; support settles the points later
			err := fmt.Errorf("redemption of %d points exceeds balance %d", redeemed, balance)
			s.enqueueRecon(ctx, obs, domain.ReconLoyalty, order.ID, s.loyaltyPayload(cmd, earned, redeemed), err)
			return 0, 0
		}
	}

	adj := &domain.LoyaltyAdjustment{
		CustomerID:     cmd.CustomerID,
		OrderID:        order.ID,
		PointsEarned:   earned,
		PointsRedeemed: redeemed,
	}
	if err := s.loyalty.ApplyAdjustment(ctx, adj); err != nil {
		s.enqueueRecon(ctx, obs, domain.ReconLoyalty, order.ID, s.loyaltyPayload(cmd, earned, redeemed), err)
		return 0, 0
	}
	return earned, redeemed
}

func (s *CheckoutService) loyaltyPayload(cmd *domain.CheckoutCommand, earned, redeemed int64) map[string]any {
	return map[string]any{
		"customer_id":     cmd.CustomerID,
		"seller_id":       cmd.SellerID,
		"points_earned":   earned,
		"points_redeemed": redeemed,
	}
}

func (s *CheckoutService) enqueueRecon(ctx context.Context, obs observability.Port, subject domain.ReconSubject, orderID uuid.UUID, payload map[string]any, cause error) {
	obs.Capture(cause, "step", string(subject))
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	entry := &domain.ReconciliationEntry{
		Subject:   subject,
		OrderID:   orderID,
		Payload:   raw,
		ErrorText: cause.Error(),
	}
	if err := s.recon.Enqueue(ctx, entry); err != nil {
		// last resort: the entry is lost, leave a loud trace
		obs.Capture(err, "step", "reconciliation_enqueue", "subject", string(subject))
	}
}

// accumulateSession is the best-effort running total for the register
// session. Failure never affects the response.
func (s *CheckoutService) accumulateSession(ctx context.Context, cmd *domain.CheckoutCommand, obs observability.Port) {
	if cmd.SessionID == "" {
		return
	}
	var totals []domain.SessionTotals
	if cmd.PaymentMethod == domain.PaymentMethodSplit {
		totals = []domain.SessionTotals{
			{SessionID: cmd.SessionID, Amount: cmd.SplitCashAmount, PaymentMethod: domain.PaymentMethodCash},
			{SessionID: cmd.SessionID, Amount: cmd.SplitCardAmount + cmd.TipAmount, PaymentMethod: domain.PaymentMethodCard},
		}
	} else {
		totals = []domain.SessionTotals{
			{SessionID: cmd.SessionID, Amount: cmd.Total + cmd.TipAmount, PaymentMethod: cmd.PaymentMethod},
		}
	}
	for i := range totals {
		if err := s.sessions.Increment(ctx, &totals[i]); err != nil {
			s.log.Warn("session increment failed", "session_id", cmd.SessionID, "error", err)
		}
	}
}
