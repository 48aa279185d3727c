package domain

import (
	"github.com/shopspring/decimal"
)

// epsilon is the tolerance for money comparisons: one cent. Callers send
// float totals, so exact equality is not meaningful on the wire.
var epsilon = decimal.NewFromFloat(0.01)

// fraudReviewThreshold flags (never rejects) unusually large totals.
var fraudReviewThreshold = decimal.NewFromInt(10000)

func withinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(epsilon)
}

// Validate checks the command's arithmetic and bound invariants:
//
//	lineTotal == quantity * unitPrice        per item
//	subtotal  == sum(lineTotal)
//	total     == subtotal - discounts + tax
//
// each within epsilon. The returned flag marks the command for fraud review
// without rejecting it. Violations are validation errors; nothing here has
// side effects.
func (c *CheckoutCommand) Validate() (flagged bool, err error) {
	if len(c.Items) == 0 {
		return false, Validation("checkout requires at least one line item")
	}

	sum := decimal.Zero
	for i, item := range c.Items {
		if item.Quantity <= 0 {
			return false, Validation("item %d: quantity must be positive", i)
		}
		if item.UnitPrice < 0 {
			return false, Validation("item %d: unit price must not be negative", i)
		}
		qty := decimal.NewFromFloat(item.Quantity)
		price := decimal.NewFromFloat(item.UnitPrice)
		lineTotal := decimal.NewFromFloat(item.LineTotal)
		if !withinEpsilon(lineTotal, qty.Mul(price)) {
			return false, Validation("item %d: line total %s does not match quantity * unit price", i, lineTotal)
		}
		sum = sum.Add(lineTotal)
	}

	subtotal := decimal.NewFromFloat(c.Subtotal)
	if !withinEpsilon(sum, subtotal) {
		return false, Validation("subtotal %s does not match sum of line totals %s", subtotal, sum)
	}

	discounts := decimal.NewFromFloat(c.LoyaltyDiscount).Add(decimal.NewFromFloat(c.CampaignDiscount))
	expected := subtotal.Sub(discounts).Add(decimal.NewFromFloat(c.Tax))
	total := decimal.NewFromFloat(c.Total)
	if !withinEpsilon(expected, total) {
		return false, Validation("total %s does not match subtotal - discounts + tax = %s", total, expected)
	}

	if total.LessThanOrEqual(decimal.Zero) {
		return false, Validation("total must be positive")
	}

	if c.PaymentMethod == PaymentMethodSplit {
		split := decimal.NewFromFloat(c.SplitCashAmount).Add(decimal.NewFromFloat(c.SplitCardAmount))
		if !withinEpsilon(split, total) {
			return false, Validation("split amounts %s do not sum to total %s", split, total)
		}
		if c.SplitCashAmount <= 0 || c.SplitCardAmount <= 0 {
			return false, Validation("split payment requires positive cash and card portions")
		}
	}

	return total.GreaterThan(fraudReviewThreshold), nil
}
