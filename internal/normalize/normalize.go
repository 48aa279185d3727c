// Package normalize maps the two checkout calling conventions onto one
// canonical command. The POS clients send camelCase bodies; the e-commerce
// storefront submits snake_case with a nested payment object. This is the
// only place in the codebase that knows two wire shapes exist.
package normalize

import (
	"encoding/json"

	"checkout-core/internal/domain"
)

type posItem struct {
	ProductID    string  `json:"productId"`
	Quantity     float64 `json:"quantity"`
	UnitPrice    float64 `json:"unitPrice"`
	LineTotal    float64 `json:"lineTotal"`
	InventoryRef string  `json:"inventoryId"`
	TierQty      float64 `json:"tierQty"`
	TierLabel    string  `json:"tierLabel"`
	LocationID   string  `json:"locationId"`
}

type posAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type posRequest struct {
	VendorID         string         `json:"vendorId"`
	LocationID       string         `json:"locationId"`
	RegisterID       string         `json:"registerId"`
	SessionID        string         `json:"sessionId"`
	Channel          string         `json:"channel"`
	Items            []posItem      `json:"items"`
	Subtotal         float64        `json:"subtotal"`
	Tax              float64        `json:"tax"`
	LoyaltyDiscount  float64        `json:"loyaltyDiscount"`
	CampaignDiscount float64        `json:"campaignDiscount"`
	Total            float64        `json:"total"`
	PaymentMethod    string         `json:"paymentMethod"`
	CardToken        string         `json:"cardToken"`
	TipAmount        float64        `json:"tipAmount"`
	CustomerID       string         `json:"customerId"`
	IdempotencyKey   string         `json:"idempotencyKey"`
	SplitCashAmount  float64        `json:"splitCashAmount"`
	SplitCardAmount  float64        `json:"splitCardAmount"`
	ShippingAddress  *posAddress    `json:"shippingAddress"`
	BillingAddress   *posAddress    `json:"billingAddress"`
	Metadata         map[string]any `json:"metadata"`
}

type ecomItem struct {
	ProductID    string  `json:"product_id"`
	Quantity     float64 `json:"quantity"`
	UnitPrice    float64 `json:"unit_price"`
	LineTotal    float64 `json:"line_total"`
	InventoryRef string  `json:"inventory_id"`
	TierQty      float64 `json:"tier_qty"`
	TierLabel    string  `json:"tier_label"`
	LocationID   string  `json:"location_id"`
}

type ecomAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type ecomPayment struct {
	Method    string `json:"method"`
	CardToken string `json:"card_token"`
}

type ecomRequest struct {
	VendorID         string         `json:"vendor_id"`
	LocationID       string         `json:"location_id"`
	SessionID        string         `json:"session_id"`
	Channel          string         `json:"channel"`
	Items            []ecomItem     `json:"items"`
	Subtotal         float64        `json:"subtotal"`
	Tax              float64        `json:"tax"`
	LoyaltyDiscount  float64        `json:"loyalty_discount"`
	CampaignDiscount float64        `json:"campaign_discount"`
	Total            float64        `json:"total"`
	Payment          *ecomPayment   `json:"payment"`
	PaymentMethod    string         `json:"payment_method"`
	TipAmount        float64        `json:"tip_amount"`
	CustomerID       string         `json:"customer_id"`
	IdempotencyKey   string         `json:"idempotency_key"`
	ShippingAddress  *ecomAddress   `json:"shipping_address"`
	BillingAddress   *ecomAddress   `json:"billing_address"`
	Metadata         map[string]any `json:"metadata"`
}

// Command reshapes a raw request body into the canonical command. The shape
// is detected by which vendor-id spelling carries a value; no validation
// happens here.
func Command(body []byte) (*domain.CheckoutCommand, error) {
	var pos posRequest
	if err := json.Unmarshal(body, &pos); err != nil {
		return nil, domain.Validation("malformed request body: %v", err)
	}
	if pos.VendorID != "" {
		return fromPOS(&pos), nil
	}

	var ecom ecomRequest
	if err := json.Unmarshal(body, &ecom); err != nil {
		return nil, domain.Validation("malformed request body: %v", err)
	}
	if ecom.VendorID == "" {
		return nil, domain.Validation("request is missing a vendor id")
	}
	return fromEcom(&ecom), nil
}

func fromPOS(r *posRequest) *domain.CheckoutCommand {
	cmd := &domain.CheckoutCommand{
		SellerID:         r.VendorID,
		LocationID:       r.LocationID,
		RegisterID:       r.RegisterID,
		SessionID:        r.SessionID,
		Channel:          domain.Channel(r.Channel),
		Subtotal:         r.Subtotal,
		Tax:              r.Tax,
		LoyaltyDiscount:  r.LoyaltyDiscount,
		CampaignDiscount: r.CampaignDiscount,
		Total:            r.Total,
		PaymentMethod:    domain.PaymentMethod(r.PaymentMethod),
		CardToken:        r.CardToken,
		TipAmount:        r.TipAmount,
		CustomerID:       r.CustomerID,
		IdempotencyKey:   r.IdempotencyKey,
		SplitCashAmount:  r.SplitCashAmount,
		SplitCardAmount:  r.SplitCardAmount,
		ShippingAddress:  posAddr(r.ShippingAddress),
		BillingAddress:   posAddr(r.BillingAddress),
		Metadata:         r.Metadata,
	}
	if cmd.Channel == "" {
		cmd.Channel = domain.ChannelPOS
	}
	for _, it := range r.Items {
		cmd.Items = append(cmd.Items, domain.CommandItem{
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
	return cmd
}

func fromEcom(r *ecomRequest) *domain.CheckoutCommand {
	method := r.PaymentMethod
	cardToken := ""
	if r.Payment != nil {
		if r.Payment.Method != "" {
			method = r.Payment.Method
		}
		cardToken = r.Payment.CardToken
	}
	cmd := &domain.CheckoutCommand{
		SellerID:         r.VendorID,
		LocationID:       r.LocationID,
		SessionID:        r.SessionID,
		Channel:          domain.Channel(r.Channel),
		Subtotal:         r.Subtotal,
		Tax:              r.Tax,
		LoyaltyDiscount:  r.LoyaltyDiscount,
		CampaignDiscount: r.CampaignDiscount,
		Total:            r.Total,
		PaymentMethod:    domain.PaymentMethod(method),
		CardToken:        cardToken,
		TipAmount:        r.TipAmount,
		CustomerID:       r.CustomerID,
		IdempotencyKey:   r.IdempotencyKey,
		ShippingAddress:  ecomAddr(r.ShippingAddress),
		BillingAddress:   ecomAddr(r.BillingAddress),
		Metadata:         r.Metadata,
	}
	if cmd.Channel == "" {
		cmd.Channel = domain.ChannelEcommerce
	}
	for _, it := range r.Items {
		cmd.Items = append(cmd.Items, domain.CommandItem{
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
	return cmd
}

func posAddr(a *posAddress) *domain.Address {
	if a == nil {
		return nil
	}
	return &domain.Address{
		Line1: a.Line1, Line2: a.Line2, City: a.City,
		Region: a.Region, PostalCode: a.PostalCode, Country: a.Country,
	}
}

func ecomAddr(a *ecomAddress) *domain.Address {
	if a == nil {
		return nil
	}
	return &domain.Address{
		Line1: a.Line1, Line2: a.Line2, City: a.City,
		Region: a.Region, PostalCode: a.PostalCode, Country: a.Country,
	}
}
