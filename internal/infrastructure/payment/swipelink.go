package payment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"checkout-core/internal/domain"
)

// swipeLinkGateway speaks SwipeLink's legacy form-encoded protocol: every
// request is a key/value POST, every response a urlencoded string with a
// two-digit result code. Code "00" is the only approval.
type swipeLinkGateway struct {
	cfg     *domain.ProcessorConfig
	client  *http.Client
	timeout time.Duration
}

const swipeLinkApproved = "00"

func (g *swipeLinkGateway) Type() domain.GatewayType { return domain.GatewaySwipeLink }

func (g *swipeLinkGateway) Charge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	form := url.Values{}
	form.Set("APIKEY", g.cfg.Credential)
	form.Set("MERCHANT", g.cfg.MerchantRef)
	form.Set("TXNTYPE", "SALE")
	form.Set("AMOUNT", fmt.Sprintf("%.2f", req.Amount))
	if req.Tip > 0 {
		form.Set("TIP", fmt.Sprintf("%.2f", req.Tip))
	}
	form.Set("TOKEN", req.CardToken)
	form.Set("INVOICE", req.OrderNumber)
	form.Set("CLIENTREF", req.IdempotencyKey)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint+"/txn", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, domain.Internal(err, "swipelink: build request")
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, domain.PaymentTimeout("swipelink: gateway timeout after %s", g.timeout)
		}
		return nil, domain.Internal(err, "swipelink: charge call failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, domain.Internal(err, "swipelink: read response")
	}

	fields, err := url.ParseQuery(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, domain.Internal(err, "swipelink: malformed response (status %d)", resp.StatusCode)
	}

	message := fields.Get("MESSAGE")
	if message == "" {
		message = fields.Get("RESPTEXT")
	}

	return &domain.ChargeResult{
		Approved:    fields.Get("CODE") == swipeLinkApproved,
		GatewayRef:  fields.Get("REFNUM"),
		AuthCode:    fields.Get("AUTHCODE"),
		CardType:    fields.Get("CARDTYPE"),
		CardLast4:   fields.Get("LAST4"),
		Message:     message,
		RawResponse: string(raw),
	}, nil
}

func (g *swipeLinkGateway) Verify(ctx context.Context, gatewayRef string) (bool, error) {
	form := url.Values{}
	form.Set("APIKEY", g.cfg.Credential)
	form.Set("MERCHANT", g.cfg.MerchantRef)
	form.Set("TXNTYPE", "QUERY")
	form.Set("REFNUM", gatewayRef)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint+"/txn", strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, err
	}
	fields, err := url.ParseQuery(strings.TrimSpace(string(raw)))
	if err != nil {
		return false, err
	}
	return fields.Get("CODE") == swipeLinkApproved, nil
}
