package domain

import (
	"time"

	"github.com/google/uuid"
)

type HoldStatus string

const (
	HoldReserved  HoldStatus = "RESERVED"
	HoldFinalized HoldStatus = "FINALIZED"
	HoldReleased  HoldStatus = "RELEASED"
)

// InventoryHold reserves stock before payment. Reserved holds decrement
// available but not on-hand stock; the store expires holds that are never
// finalized or released within the TTL.
type InventoryHold struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	Status    HoldStatus
	Items     []HoldItem
	CreatedAt time.Time
}

type HoldItem struct {
	InventoryRef string
	LocationID   string
	Quantity     float64
}

// LoyaltyAdjustment records points earned and redeemed for one order. Earned
// points are always computed server-side from the seller's rules.
type LoyaltyAdjustment struct {
	CustomerID     string
	OrderID        uuid.UUID
	PointsEarned   int64
	PointsRedeemed int64
}

type ReconSubject string

const (
	ReconInventory ReconSubject = "inventory"
	ReconLoyalty   ReconSubject = "loyalty"
)

type ReconStatus string

const (
	ReconPending   ReconStatus = "PENDING"
	ReconResolved  ReconStatus = "RESOLVED"
	ReconAbandoned ReconStatus = "ABANDONED"
)

// ReconciliationEntry is a deferred fix-up written when a non-fatal step
// fails after payment has already succeeded. The core only writes entries;
// cmd/reconcile drains them.
type ReconciliationEntry struct {
	ID        uuid.UUID
	Subject   ReconSubject
	OrderID   uuid.UUID
	Payload   []byte
	ErrorText string
	Status    ReconStatus
	Attempts  int
	CreatedAt time.Time
}

// SessionTotals is the best-effort register session increment.
type SessionTotals struct {
	SessionID     string
	Amount        float64
	PaymentMethod PaymentMethod
}
