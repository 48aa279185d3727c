package domain

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCancelled OrderStatus = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)

// orderTransitions is the closed transition table. COMPLETED and CANCELLED
// are terminal; an idempotent replay never re-enters the machine.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending: {OrderCompleted, OrderCancelled},
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentPaid, PaymentFailed},
}

func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	for _, next := range paymentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type FulfillmentType string

const (
	FulfillmentPickup FulfillmentType = "pickup"
	FulfillmentShip   FulfillmentType = "ship"
)

type Order struct {
	ID             uuid.UUID
	Number         string
	SellerID       string
	LocationID     string
	RegisterID     string
	SessionID      string
	Channel        Channel
	CustomerID     string
	Status         OrderStatus
	PaymentStatus  PaymentStatus
	Subtotal       float64
	Tax            float64
	Discount       float64
	Tip            float64
	Total          float64
	IdempotencyKey string
	Metadata       map[string]any
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Transition moves the order status, rejecting anything not in the table.
func (o *Order) Transition(to OrderStatus) error {
	if !o.Status.CanTransition(to) {
		return Internal(nil, "illegal order transition %s -> %s", o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// TransitionPayment moves the payment status, rejecting anything not in the
// table.
func (o *Order) TransitionPayment(to PaymentStatus) error {
	if !o.PaymentStatus.CanTransition(to) {
		return Internal(nil, "illegal payment transition %s -> %s", o.PaymentStatus, to)
	}
	o.PaymentStatus = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// OrderItem is a persisted line item. TierQty must be positive before the
// row is written; a zero tier quantity would corrupt inventory math.
type OrderItem struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	ProductID       string
	Quantity        float64
	UnitPrice       float64
	LineTotal       float64
	InventoryRef    string
	TierQty         float64
	TierLabel       string
	FulfillmentType FulfillmentType
	LocationID      string
}
