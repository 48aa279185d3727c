package domain

import (
	"time"

	"github.com/google/uuid"
)

type AttemptStatus string

const (
	AttemptApproved AttemptStatus = "APPROVED"
	AttemptDeclined AttemptStatus = "DECLINED"
	AttemptError    AttemptStatus = "ERROR"
)

type GatewayType string

const (
	GatewayFastPay   GatewayType = "fastpay"
	GatewaySwipeLink GatewayType = "swipelink"
	GatewayCash      GatewayType = "cash"
)

// PaymentAttempt is the audit row written for every gateway call, success or
// failure, before the order itself is updated. A split payment produces one
// row for the cash portion and one for the card portion.
type PaymentAttempt struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	Gateway     GatewayType
	Amount      float64
	Status      AttemptStatus
	GatewayRef  string
	AuthCode    string
	CardType    string
	CardLast4   string
	RawResponse string
	CreatedAt   time.Time
}

// ProcessorConfig is the gateway binding resolved per channel: POS registers
// bind a processor directly, e-commerce sellers bind one per storefront.
type ProcessorConfig struct {
	ID          uuid.UUID
	SellerID    string
	RegisterID  string
	Gateway     GatewayType
	Endpoint    string
	Credential  string
	MerchantRef string
}

// ChargeRequest is what the orchestrator hands a gateway implementation.
type ChargeRequest struct {
	OrderID        uuid.UUID
	OrderNumber    string
	Amount         float64
	Tip            float64
	IdempotencyKey string
	CardToken      string
}

// ChargeResult is gateway-agnostic: each protocol adapter maps its own wire
// response into this shape.
type ChargeResult struct {
	Approved    bool
	GatewayRef  string
	AuthCode    string
	CardType    string
	CardLast4   string
	Message     string
	RawResponse string
}
