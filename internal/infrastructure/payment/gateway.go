// Package payment adapts the two gateway wire protocols (and the synthetic
// cash path) behind one interface. The orchestrator never sees a protocol
// detail; it calls Charge and gets a gateway-agnostic result.
package payment

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"checkout-core/internal/domain"
)

// DefaultTimeout is the client-side bound on a gateway call. It sits inside
// the platform execution ceiling so a hung gateway still produces a clean
// error response instead of the request being killed mid-flight.
const DefaultTimeout = 120 * time.Second

type Gateway interface {
	Type() domain.GatewayType
	// Charge attempts the payment. A decline comes back as a result with
	// Approved=false, not an error; errors mean the call itself failed
	// (timeout, transport, malformed response).
	Charge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error)
	// Verify asks the gateway whether a charge actually went through. Used
	// only by the reconciler for orders stuck mid-payment.
	Verify(ctx context.Context, gatewayRef string) (bool, error)
}

// ForProcessor returns the adapter for the processor's declared gateway type.
func ForProcessor(cfg *domain.ProcessorConfig, client *http.Client, timeout time.Duration) (Gateway, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	switch cfg.Gateway {
	case domain.GatewayFastPay:
		return &fastPayGateway{cfg: cfg, client: client, timeout: timeout}, nil
	case domain.GatewaySwipeLink:
		return &swipeLinkGateway{cfg: cfg, client: client, timeout: timeout}, nil
	default:
		return nil, domain.Configuration("unsupported gateway type %q", cfg.Gateway)
	}
}

// isTimeout distinguishes an aborted call from other transport failures; a
// timeout is reported to the caller as its own error kind.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
