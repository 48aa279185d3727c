package service

import (
	"context"

	"checkout-core/internal/domain"
	"checkout-core/internal/observability"
	"checkout-core/internal/repo"
)

// Router assigns each line item a fulfillment type and location from live
// stock. Pickup orders keep in-stock items at the register's location and
// reroute the rest to ship from wherever has stock; ship-only orders route
// everything by stock. A single order can split across locations.
type Router struct {
	inventory repo.InventoryRepo
	orders    repo.OrderRepo
}

func NewRouter(inventory repo.InventoryRepo, orders repo.OrderRepo) *Router {
	return &Router{inventory: inventory, orders: orders}
}

// Route mutates items in place and persists the assignment. Errors leave the
// affected items unrouted (no location) for manual assignment; the caller
// treats any returned error as non-fatal.
func (r *Router) Route(ctx context.Context, obs observability.Port, order *domain.Order, items []domain.OrderItem) error {
	var firstErr error
	for i := range items {
		it := &items[i]
		if it.InventoryRef == "" {
			// non-stocked item (service fee, delivery charge): fulfill at
			// the order's location when there is one
			it.FulfillmentType = domain.FulfillmentPickup
			it.LocationID = order.LocationID
			continue
		}

		needed := it.TierQty * it.Quantity

		if order.LocationID != "" {
			stock, err := r.inventory.StockAt(ctx, it.InventoryRef, order.LocationID)
			if err != nil {
				it.LocationID = ""
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if stock >= needed {
				it.FulfillmentType = domain.FulfillmentPickup
				it.LocationID = order.LocationID
				continue
			}
		}

		locations, err := r.inventory.LocationsWithStock(ctx, it.InventoryRef, needed)
		if err != nil {
			it.LocationID = ""
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(locations) == 0 {
			obs.Breadcrumb("router", "no location with stock, leaving item unrouted",
				"inventory_ref", it.InventoryRef)
			it.LocationID = ""
			continue
		}
		it.FulfillmentType = domain.FulfillmentShip
		it.LocationID = locations[0]
	}

	if err := r.orders.UpdateItemRouting(ctx, items); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
