package domain

import (
	"github.com/google/uuid"
)

type Channel string

const (
	ChannelPOS       Channel = "pos"
	ChannelEcommerce Channel = "ecommerce"
)

type PaymentMethod string

const (
	PaymentMethodCash  PaymentMethod = "cash"
	PaymentMethodCard  PaymentMethod = "card"
	PaymentMethodSplit PaymentMethod = "split"
)

// CommandItem is one cart line as submitted by the caller. TierQty is the
// stock-unit amount deducted per purchased unit; it can differ from the
// display quantity (a "3.5g" tier deducts 3.5 stock units each).
type CommandItem struct {
	ProductID    string
	Quantity     float64
	UnitPrice    float64
	LineTotal    float64
	InventoryRef string
	TierQty      float64
	TierLabel    string
	LocationID   string
}

type Address struct {
	Line1      string
	Line2      string
	City       string
	Region     string
	PostalCode string
	Country    string
}

// CheckoutCommand is the canonical request produced by the normalizer. Both
// calling conventions map onto this one shape; nothing downstream branches on
// the original wire format.
type CheckoutCommand struct {
	SellerID         string
	LocationID       string
	RegisterID       string
	SessionID        string
	Channel          Channel
	Items            []CommandItem
	Subtotal         float64
	Tax              float64
	LoyaltyDiscount  float64
	CampaignDiscount float64
	Total            float64
	PaymentMethod    PaymentMethod
	CardToken        string
	TipAmount        float64
	CustomerID       string
	IdempotencyKey   string
	SplitCashAmount  float64
	SplitCardAmount  float64
	ShippingAddress  *Address
	BillingAddress   *Address
	Metadata         map[string]any
}

// Caller identifies who submitted the checkout, set by the authenticator.
type Caller struct {
	UserID    string
	SellerID  string
	Service   bool
	RequestID uuid.UUID
}

// CheckoutResult is the success payload returned to the caller.
type CheckoutResult struct {
	OrderID        uuid.UUID `json:"orderId"`
	OrderNumber    string    `json:"orderNumber"`
	OrderStatus    string    `json:"orderStatus"`
	PaymentStatus  string    `json:"paymentStatus"`
	Total          float64   `json:"total"`
	AuthCode       string    `json:"authCode,omitempty"`
	CardType       string    `json:"cardType,omitempty"`
	CardLast4      string    `json:"cardLast4,omitempty"`
	PointsEarned   int64     `json:"pointsEarned"`
	PointsRedeemed int64     `json:"pointsRedeemed"`
	Replayed       bool      `json:"replayed,omitempty"`
}
