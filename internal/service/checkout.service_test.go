package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkout-core/internal/domain"
	"checkout-core/internal/infrastructure/payment"
	"checkout-core/internal/observability"
	"checkout-core/internal/repo"
)

// --- fakes ---

type fakeOrders struct {
	byKey         map[string]*domain.Order
	created       []*domain.Order
	createdItems  map[uuid.UUID][]domain.OrderItem
	statusUpdates []domain.Order
	lookupErr     error
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		byKey:        map[string]*domain.Order{},
		createdItems: map[uuid.UUID][]domain.OrderItem{},
	}
}

func (f *fakeOrders) FindById(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	for _, o := range f.created {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, nil
}

func (f *fakeOrders) FindByIdempotencyKey(_ context.Context, _, key string) (*domain.Order, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.byKey[key], nil
}

func (f *fakeOrders) CreateWithItems(_ context.Context, order *domain.Order, items []domain.OrderItem) error {
	// mirrors the store's UNIQUE (seller_id, idempotency_key) constraint
	if _, taken := f.byKey[order.IdempotencyKey]; taken {
		return errors.New(`pq: duplicate key value violates unique constraint "orders_seller_id_idempotency_key_key"`)
	}
	f.byKey[order.IdempotencyKey] = order
	f.created = append(f.created, order)
	f.createdItems[order.ID] = items
	return nil
}

func (f *fakeOrders) UpdateStatus(_ context.Context, order *domain.Order) error {
	f.statusUpdates = append(f.statusUpdates, *order)
	return nil
}

func (f *fakeOrders) UpdateItemRouting(context.Context, []domain.OrderItem) error { return nil }

func (f *fakeOrders) ItemsByOrder(_ context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	return f.createdItems[orderID], nil
}

func (f *fakeOrders) FindStuckOrders(context.Context, time.Duration) ([]domain.Order, error) {
	return nil, nil
}

type fakeInventory struct {
	stock             map[string]map[string]float64 // ref -> location -> available
	reserveErr        error
	finalizeErr       error
	locationsFailures int // LocationsWithStock fails this many times, then recovers
	holds             []*domain.InventoryHold
	finalized         []uuid.UUID
	released          []uuid.UUID
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{stock: map[string]map[string]float64{}}
}

func (f *fakeInventory) setStock(ref, location string, qty float64) {
	if f.stock[ref] == nil {
		f.stock[ref] = map[string]float64{}
	}
	f.stock[ref][location] = qty
}

func (f *fakeInventory) Reserve(_ context.Context, orderID uuid.UUID, items []domain.HoldItem) (*domain.InventoryHold, error) {
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}
	hold := &domain.InventoryHold{ID: uuid.New(), OrderID: orderID, Status: domain.HoldReserved, Items: items}
	f.holds = append(f.holds, hold)
	return hold, nil
}

func (f *fakeInventory) Finalize(_ context.Context, holdID uuid.UUID) error {
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	f.finalized = append(f.finalized, holdID)
	return nil
}

func (f *fakeInventory) Release(_ context.Context, holdID uuid.UUID) error {
	f.released = append(f.released, holdID)
	return nil
}

func (f *fakeInventory) StockAt(_ context.Context, ref, location string) (float64, error) {
	return f.stock[ref][location], nil
}

func (f *fakeInventory) LocationsWithStock(_ context.Context, ref string, qty float64) ([]string, error) {
	if f.locationsFailures > 0 {
		f.locationsFailures--
		return nil, errors.New("stock read timed out")
	}
	var out []string
	for loc, avail := range f.stock[ref] {
		if avail >= qty {
			out = append(out, loc)
		}
	}
	return out, nil
}

type fakePayments struct {
	attempts []domain.PaymentAttempt
}

func (f *fakePayments) CreateAttempt(_ context.Context, a *domain.PaymentAttempt) error {
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakePayments) ListByOrder(_ context.Context, orderID uuid.UUID) ([]domain.PaymentAttempt, error) {
	var out []domain.PaymentAttempt
	for _, a := range f.attempts {
		if a.OrderID == orderID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeProcessors struct {
	byRegister map[string]*domain.ProcessorConfig
	bySeller   map[string]*domain.ProcessorConfig
}

func (f *fakeProcessors) ForRegister(_ context.Context, registerID string) (*domain.ProcessorConfig, error) {
	return f.byRegister[registerID], nil
}

func (f *fakeProcessors) ForSeller(_ context.Context, sellerID string) (*domain.ProcessorConfig, error) {
	return f.bySeller[sellerID], nil
}

type fakeLoyalty struct {
	balances    map[string]int64
	earnRate    float64
	redeemRate  float64
	adjustments []domain.LoyaltyAdjustment
	applyErr    error
}

func (f *fakeLoyalty) Balance(_ context.Context, customerID string) (int64, error) {
	b, ok := f.balances[customerID]
	if !ok {
		return 0, repo.ErrNoCustomer
	}
	return b, nil
}

func (f *fakeLoyalty) PointsToEarn(_ context.Context, _ string, total float64) (int64, error) {
	return int64(total * f.earnRate), nil
}

func (f *fakeLoyalty) PointsToRedeem(_ context.Context, _ string, discount float64) (int64, error) {
	if discount <= 0 {
		return 0, nil
	}
	return int64(discount * f.redeemRate), nil
}

func (f *fakeLoyalty) ApplyAdjustment(_ context.Context, adj *domain.LoyaltyAdjustment) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.adjustments = append(f.adjustments, *adj)
	return nil
}

type fakeSessions struct {
	increments []domain.SessionTotals
	err        error
}

func (f *fakeSessions) Increment(_ context.Context, t *domain.SessionTotals) error {
	if f.err != nil {
		return f.err
	}
	f.increments = append(f.increments, *t)
	return nil
}

type fakeRecon struct {
	entries []domain.ReconciliationEntry
}

func (f *fakeRecon) Enqueue(_ context.Context, e *domain.ReconciliationEntry) error {
	f.entries = append(f.entries, *e)
	return nil
}

type fakeGateway struct {
	gwType  domain.GatewayType
	calls   int
	results []chargeResponse
	result  chargeResponse
}

type chargeResponse struct {
	res *domain.ChargeResult
	err error
}

func (f *fakeGateway) Type() domain.GatewayType { return f.gwType }

func (f *fakeGateway) Charge(_ context.Context, _ domain.ChargeRequest) (*domain.ChargeResult, error) {
	f.calls++
	if len(f.results) > 0 {
		next := f.results[0]
		f.results = f.results[1:]
		return next.res, next.err
	}
	return f.result.res, f.result.err
}

func (f *fakeGateway) Verify(context.Context, string) (bool, error) { return false, nil }

// --- harness ---

type harness struct {
	svc        *CheckoutService
	orders     *fakeOrders
	inventory  *fakeInventory
	payments   *fakePayments
	processors *fakeProcessors
	loyalty    *fakeLoyalty
	sessions   *fakeSessions
	recon      *fakeRecon
	gateway    *fakeGateway
	metrics    *observability.Metrics
	gwFactory  int // times the factory was invoked
}

func newHarness() *harness {
	h := &harness{
		orders:    newFakeOrders(),
		inventory: newFakeInventory(),
		payments:  &fakePayments{},
		processors: &fakeProcessors{
			byRegister: map[string]*domain.ProcessorConfig{},
			bySeller:   map[string]*domain.ProcessorConfig{},
		},
		loyalty:  &fakeLoyalty{balances: map[string]int64{}},
		sessions: &fakeSessions{},
		recon:    &fakeRecon{},
		gateway:  &fakeGateway{gwType: domain.GatewayFastPay},
	}
	h.gateway.result = chargeResponse{res: &domain.ChargeResult{
		Approved: true, GatewayRef: "txn-1", AuthCode: "A1", CardType: "visa", CardLast4: "4242",
	}}
	h.processors.byRegister["reg-1"] = &domain.ProcessorConfig{Gateway: domain.GatewayFastPay}
	h.processors.bySeller["v-1"] = &domain.ProcessorConfig{Gateway: domain.GatewayFastPay}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	h.metrics = observability.NewMetrics(prometheus.NewRegistry())
	router := NewRouter(h.inventory, h.orders)
	h.svc = NewCheckoutService(
		h.orders, h.payments, h.processors, h.inventory, h.loyalty, h.sessions,
		h.recon, router,
		func(cfg *domain.ProcessorConfig) (payment.Gateway, error) {
			h.gwFactory++
			return h.gateway, nil
		},
		h.metrics,
		log,
	)
	return h
}

func posCashCommand() *domain.CheckoutCommand {
	return &domain.CheckoutCommand{
		SellerID:   "v-1",
		LocationID: "loc-1",
		RegisterID: "reg-1",
		SessionID:  "sess-1",
		Channel:    domain.ChannelPOS,
		Items: []domain.CommandItem{
			{ProductID: "p1", Quantity: 2, UnitPrice: 10, LineTotal: 20, InventoryRef: "inv-1", TierQty: 1},
		},
		Subtotal:       20,
		Tax:            1.6,
		Total:          21.6,
		PaymentMethod:  domain.PaymentMethodCash,
		IdempotencyKey: "key-1",
	}
}

func posCardCommand() *domain.CheckoutCommand {
	cmd := posCashCommand()
	cmd.PaymentMethod = domain.PaymentMethodCard
	cmd.CardToken = "tok_x"
	return cmd
}

func caller() *domain.Caller {
	return &domain.Caller{UserID: "user-1", SellerID: "v-1", RequestID: uuid.New()}
}

func process(t *testing.T, h *harness, cmd *domain.CheckoutCommand) (*domain.CheckoutResult, error) {
	t.Helper()
	return h.svc.Process(context.Background(), cmd, caller(), observability.Nop())
}

// --- tests ---

func TestCashCheckoutCompletes(t *testing.T) {
	h := newHarness()
	h.inventory.setStock("inv-1", "loc-1", 10)

	result, err := process(t, h, posCashCommand())
	require.NoError(t, err)

	assert.Equal(t, string(domain.OrderCompleted), result.OrderStatus)
	assert.Equal(t, string(domain.PaymentPaid), result.PaymentStatus)
	assert.Equal(t, 21.6, result.Total)
	assert.NotEmpty(t, result.OrderNumber)

	assert.Zero(t, h.gwFactory, "cash must never resolve a gateway")
	assert.Zero(t, h.gateway.calls)

	require.Len(t, h.payments.attempts, 1)
	assert.Equal(t, domain.GatewayCash, h.payments.attempts[0].Gateway)
	assert.Equal(t, domain.AttemptApproved, h.payments.attempts[0].Status)

	require.Len(t, h.inventory.holds, 1)
	assert.Equal(t, h.inventory.holds[0].ID, h.inventory.finalized[0])
	assert.Empty(t, h.inventory.released)
}

func TestMismatchedTotalRejectedBeforeSideEffects(t *testing.T) {
	h := newHarness()
	cmd := posCashCommand()
	cmd.Total = 25

	_, err := process(t, h, cmd)
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	assert.Empty(t, h.orders.created, "no order may exist after a validation failure")
	assert.Empty(t, h.payments.attempts)
	assert.Empty(t, h.inventory.holds)
}

func TestIdempotentReplaySkipsEverything(t *testing.T) {
	h := newHarness()
	prior := &domain.Order{
		ID:            uuid.New(),
		Number:        "CK260901-PRIOR1",
		Status:        domain.OrderCompleted,
		PaymentStatus: domain.PaymentPaid,
		Total:         21.6,
	}
	h.orders.byKey["key-1"] = prior

	result, err := process(t, h, posCardCommand())
	require.NoError(t, err)

	assert.Equal(t, prior.ID, result.OrderID)
	assert.True(t, result.Replayed)
	assert.Zero(t, h.gateway.calls, "replay must not re-invoke the gateway")
	assert.Empty(t, h.orders.created)
	assert.Empty(t, h.inventory.holds)
}

func TestReusedKeyAfterDeclineReplaysTerminalState(t *testing.T) {
	h := newHarness()
	h.inventory.setStock("inv-1", "loc-1", 10)
	h.orders.byKey["key-1"] = &domain.Order{
		ID:             uuid.New(),
		Number:         "CK260901-DECLINE1",
		Status:         domain.OrderCancelled,
		PaymentStatus:  domain.PaymentFailed,
		Total:          21.6,
		IdempotencyKey: "key-1",
	}

	result, err := process(t, h, posCardCommand())
	require.NoError(t, err, "a reused key must replay the recorded outcome, not re-enter the flow")

	assert.True(t, result.Replayed)
	assert.Equal(t, string(domain.OrderCancelled), result.OrderStatus)
	assert.Equal(t, string(domain.PaymentFailed), result.PaymentStatus)
	assert.Zero(t, h.gateway.calls)
	assert.Empty(t, h.orders.created, "the unique key must never reach a second insert")
	assert.Empty(t, h.inventory.holds)
}

func TestReusedKeyWhileFirstAttemptInFlight(t *testing.T) {
	h := newHarness()
	h.orders.byKey["key-1"] = &domain.Order{
		ID:             uuid.New(),
		Number:         "CK260901-INFLIGHT",
		Status:         domain.OrderPending,
		PaymentStatus:  domain.PaymentPending,
		Total:          21.6,
		IdempotencyKey: "key-1",
	}

	result, err := process(t, h, posCardCommand())
	require.NoError(t, err)

	assert.True(t, result.Replayed)
	assert.Equal(t, string(domain.OrderPending), result.OrderStatus)
	assert.Empty(t, h.orders.created)
	assert.Zero(t, h.gateway.calls)
}

func TestIdempotencyLookupFailureContinues(t *testing.T) {
	h := newHarness()
	h.inventory.setStock("inv-1", "loc-1", 10)
	h.orders.lookupErr = errors.New("index offline")

	result, err := process(t, h, posCashCommand())
	require.NoError(t, err, "idempotency lookup failure must not fail the attempt")
	assert.False(t, result.Replayed)
	require.Len(t, h.orders.created, 1)
}

func TestNoProcessorConfigured(t *testing.T) {
	h := newHarness()
	cmd := posCardCommand()
	cmd.RegisterID = "reg-unbound"

	_, err := process(t, h, cmd)
	require.Error(t, err)
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
	assert.Empty(t, h.orders.created)
}

func TestInsufficientInventoryAbortsBeforePayment(t *testing.T) {
	h := newHarness()
	h.inventory.reserveErr = domain.InsufficientInventory("insufficient stock for inv-1")

	_, err := process(t, h, posCardCommand())
	require.Error(t, err)
	assert.Equal(t, domain.KindInsufficientInventory, domain.KindOf(err))

	assert.Zero(t, h.gateway.calls, "no payment may be attempted without stock")
	require.Len(t, h.orders.statusUpdates, 1)
	assert.Equal(t, domain.OrderCancelled, h.orders.statusUpdates[0].Status)
	assert.Equal(t, domain.PaymentFailed, h.orders.statusUpdates[0].PaymentStatus)
}

func TestCardDeclineReleasesHold(t *testing.T) {
	h := newHarness()
	h.inventory.setStock("inv-1", "loc-1", 10)
	h.gateway.result = chargeResponse{res: &domain.ChargeResult{Approved: false, Message: "card declined"}}

	_, err := process(t, h, posCardCommand())
	require.Error(t, err)
	assert.Equal(t, domain.KindPaymentDeclined, domain.KindOf(err))
	assert.Contains(t, err.Error(), "card declined")

	require.Len(t, h.inventory.holds, 1)
	assert.Equal(t, h.inventory.holds[0].ID, h.inventory.released[0])
	assert.Empty(t, h.inventory.finalized)

	require.Len(t, h.orders.statusUpdates, 1)
	assert.Equal(t, domain.OrderCancelled, h.orders.statusUpdates[0].Status)

	require.Len(t, h.payments.attempts, 1)
	assert.Equal(t, domain.AttemptDeclined, h.payments.attempts[0].Status)
}

func TestGatewayTimeoutIsDistinctAndCompensates(t *testing.T) {
	h := newHarness()
	h.inventory.setStock("inv-1", "loc-1", 10)
	h.gateway.result = chargeResponse{err: domain.PaymentTimeout("gateway timeout after 120s")}

	_, err := process(t, h, posCardCommand())
	require.Error(t, err)
	assert.Equal(t, domain.KindPaymentTimeout, domain.KindOf(err))

	require.Len(t, h.inventory.released, 1)
	require.Len(t, h.orders.statusUpdates, 1)
	assert.Equal(t, domain.OrderCancelled, h.orders.statusUpdates[0].Status)

	require.Len(t, h.payments.attempts, 1)
	assert.Equal(t, domain.AttemptError, h.payments.attempts[0].Status)
}

func TestSplitPaymentRecordsBothAttempts(t *testing.T) {
	h := newHarness()
	h.inventory.setStock("inv-1", "loc-1", 10)

	cmd := posCardCommand()
	cmd.Items[0].Quantity = 2.5
	cmd.Items[0].LineTotal = 25
	cmd.Subtotal = 25
	cmd.Tax = 0
	cmd.Total = 25
	cmd.PaymentMethod = domain.PaymentMethodSplit
	cmd.SplitCashAmount = 10
	cmd.SplitCardAmount = 15

	result, err := process(t, h, cmd)
	require.NoError(t, err)
	assert.Equal(t, string(domain.OrderCompleted), result.OrderStatus)

	require.Len(t, h.payments.attempts, 2)
	assert.Equal(t, domain.GatewayCash, h.payments.attempts[0].Gateway)
	assert.Equal(t, domain.GatewayFastPay, h.payments.attempts[1].Gateway)
	assert.Equal(t, 25.0, h.payments.attempts[0].Amount+h.payments.attempts[1].Amount)
	assert.Equal(t, 1, h.gateway.calls, "only the card portion hits the gateway")
}

func TestSplitCardFailureCancelsOrder(t *testing.T) {
	h := newHarness()
	h.inventory.setStock("inv-1", "loc-1", 10)
	h.gateway.result = chargeResponse{res: &domain.ChargeResult{Approved: false, Message: "declined"}}

	cmd := posCardCommand()
	cmd.Items[0].Quantity = 2.5
	cmd.Items[0].LineTotal = 25
	cmd.Subtotal = 25
	cmd.Tax = 0
	cmd.Total = 25
	cmd.PaymentMethod = domain.PaymentMethodSplit
	cmd.SplitCashAmount = 10
	cmd.SplitCardAmount = 15

	_, err := process(t, h, cmd)
	require.Error(t, err)
	assert.Equal(t, domain.KindPaymentDeclined, domain.KindOf(err))

	// cash attempt recorded, card attempt declined, order rolled back
	require.Len(t, h.payments.attempts, 2)
	require.Len(t, h.orders.statusUpdates, 1)
	assert.Equal(t, domain.OrderCancelled, h.orders.statusUpdates[0].Status)
	require.Len(t, h.inventory.released, 1)
}

func TestEcommerceApprovalStaysPending(t *testing.T) {
	h := newHarness()
	h.inventory.setStock("inv-1", "loc-2", 10)

	cmd := posCardCommand()
	cmd.Channel = domain.ChannelEcommerce
	cmd.LocationID = ""
	cmd.RegisterID = ""

	result, err := process(t, h, cmd)
	require.NoError(t, err)

	assert.Equal(t, string(domain.OrderPending), result.OrderStatus, "e-commerce orders await fulfillment")
	assert.Equal(t, string(domain.PaymentPaid), result.PaymentStatus)
	assert.Equal(t, "A1", result.AuthCode)
	assert.Equal(t, "4242", result.CardLast4)
}

func TestUnroutedItemReservedAfterRetry(t *testing.T) {
	h := newHarness()
	h.inventory.setStock("inv-1", "warehouse", 10)
	h.inventory.locationsFailures = 1 // routing read fails once, reserve retries

	cmd := posCardCommand()
	cmd.Channel = domain.ChannelEcommerce
	cmd.LocationID = ""
	cmd.RegisterID = ""

	result, err := process(t, h, cmd)
	require.NoError(t, err, "a transient routing error must not fail a reservable checkout")
	assert.Equal(t, string(domain.PaymentPaid), result.PaymentStatus)

	require.Len(t, h.inventory.holds, 1)
	require.Len(t, h.inventory.holds[0].Items, 1)
	assert.Equal(t, "warehouse", h.inventory.holds[0].Items[0].LocationID)
}

func TestNoStockAnywhereFailsBeforePayment(t *testing.T) {
	h := newHarness()

	cmd := posCardCommand()
	cmd.Channel = domain.ChannelEcommerce
	cmd.LocationID = ""
	cmd.RegisterID = ""

	_, err := process(t, h, cmd)
	require.Error(t, err)
	assert.Equal(t, domain.KindInsufficientInventory, domain.KindOf(err))

	assert.Zero(t, h.gateway.calls)
	require.Len(t, h.orders.statusUpdates, 1)
	assert.Equal(t, domain.OrderCancelled, h.orders.statusUpdates[0].Status)
}

func TestGatewayCallCounterTracksOutcomes(t *testing.T) {
	h := newHarness()
	h.inventory.setStock("inv-1", "loc-1", 100)

	_, err := process(t, h, posCardCommand())
	require.NoError(t, err)

	h.gateway.result = chargeResponse{res: &domain.ChargeResult{Approved: false, Message: "declined"}}
	declined := posCardCommand()
	declined.IdempotencyKey = "key-2"
	_, err = process(t, h, declined)
	require.Error(t, err)

	h.gateway.result = chargeResponse{err: domain.PaymentTimeout("gateway timeout after 120s")}
	timedOut := posCardCommand()
	timedOut.IdempotencyKey = "key-3"
	_, err = process(t, h, timedOut)
	require.Error(t, err)

	fastpay := string(domain.GatewayFastPay)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.GatewayCalls.WithLabelValues(fastpay, "approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.GatewayCalls.WithLabelValues(fastpay, "declined")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.GatewayCalls.WithLabelValues(fastpay, "timeout")))
}

func TestLoyaltyEarnApplied(t *testing.T) {
	h := newHarness()
	h.inventory.setStock("inv-1", "loc-1", 10)
	h.loyalty.balances["cust-1"] = 0
	h.loyalty.earnRate = 1 // one point per currency unit

	cmd := posCashCommand()
	cmd.CustomerID = "cust-1"

	result, err := process(t, h, cmd)
	require.NoError(t, err)

	assert.Equal(t, int64(21), result.PointsEarned)
	require.Len(t, h.loyalty.adjustments, 1)
	assert.Equal(t, int64(21), h.loyalty.adjustments[0].PointsEarned)
	assert.Zero(t, h.loyalty.adjustments[0].PointsRedeemed)
}

func TestLoyaltyInsufficientBalanceQueuedNotFatal(t *testing.T) {
	h := newHarness()
	h.inventory.setStock("inv-1", "loc-1", 10)
	h.loyalty.balances["cust-1"] = 5
	h.loyalty.redeemRate = 10 // 2.00 discount costs 20 points

	cmd := posCashCommand()
	cmd.CustomerID = "cust-1"
	cmd.LoyaltyDiscount = 2
	cmd.Total = 19.6

	result, err := process(t, h, cmd)
	require.NoError(t, err, "checkout must succeed; the customer was already charged")

	assert.Zero(t, result.PointsRedeemed, "unhonored redemption must not be reported as applied")
	assert.Empty(t, h.loyalty.adjustments, "balance check must reject before the atomic update")
	require.Len(t, h.recon.entries, 1)
	assert.Equal(t, domain.ReconLoyalty, h.recon.entries[0].Subject)
}

func TestLoyaltySkippedWithoutCustomer(t *testing.T) {
	h := newHarness()
	h.inventory.setStock("inv-1", "loc-1", 10)
	h.loyalty.earnRate = 1

	result, err := process(t, h, posCashCommand())
	require.NoError(t, err)
	assert.Zero(t, result.PointsEarned)
	assert.Empty(t, h.loyalty.adjustments)
}

func TestFinalizeFailureQueuedNotFatal(t *testing.T) {
	h := newHarness()
	h.inventory.setStock("inv-1", "loc-1", 10)
	h.inventory.finalizeErr = errors.New("deadlock detected")

	result, err := process(t, h, posCashCommand())
	require.NoError(t, err)
	assert.Equal(t, string(domain.OrderCompleted), result.OrderStatus)

	require.Len(t, h.recon.entries, 1)
	assert.Equal(t, domain.ReconInventory, h.recon.entries[0].Subject)
	assert.Equal(t, result.OrderID, h.recon.entries[0].OrderID)
}

func TestSessionFailureIgnored(t *testing.T) {
	h := newHarness()
	h.inventory.setStock("inv-1", "loc-1", 10)
	h.sessions.err = errors.New("session table locked")

	_, err := process(t, h, posCashCommand())
	require.NoError(t, err)
}

func TestSessionBreakdownForSplit(t *testing.T) {
	h := newHarness()
	h.inventory.setStock("inv-1", "loc-1", 10)

	cmd := posCardCommand()
	cmd.Items[0].Quantity = 2.5
	cmd.Items[0].LineTotal = 25
	cmd.Subtotal = 25
	cmd.Tax = 0
	cmd.Total = 25
	cmd.PaymentMethod = domain.PaymentMethodSplit
	cmd.SplitCashAmount = 10
	cmd.SplitCardAmount = 15

	_, err := process(t, h, cmd)
	require.NoError(t, err)

	require.Len(t, h.sessions.increments, 2)
	assert.Equal(t, domain.PaymentMethodCash, h.sessions.increments[0].PaymentMethod)
	assert.Equal(t, 10.0, h.sessions.increments[0].Amount)
	assert.Equal(t, domain.PaymentMethodCard, h.sessions.increments[1].PaymentMethod)
	assert.Equal(t, 15.0, h.sessions.increments[1].Amount)
}

func TestMissingTierQtyAborts(t *testing.T) {
	h := newHarness()
	cmd := posCashCommand()
	cmd.Items[0].TierQty = 0

	_, err := process(t, h, cmd)
	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
	assert.Empty(t, h.orders.created, "integrity failure must abort before the draft is written")
}

func TestItemsWithoutInventoryRefSkipReservation(t *testing.T) {
	h := newHarness()
	cmd := posCashCommand()
	cmd.Items[0].InventoryRef = ""
	cmd.Items[0].TierQty = 0 // non-stocked items carry no tier

	result, err := process(t, h, cmd)
	require.NoError(t, err)
	assert.Equal(t, string(domain.OrderCompleted), result.OrderStatus)
	assert.Empty(t, h.inventory.holds)
}

func TestOrderNumberBounded(t *testing.T) {
	n := newOrderNumber(time.Now())
	assert.Len(t, n, orderNumberLen)
	assert.Regexp(t, `^CK\d{6}-`, n)
}
