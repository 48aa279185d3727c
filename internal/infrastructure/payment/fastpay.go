package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"checkout-core/internal/domain"
)

// fastPayGateway speaks FastPay's JSON protocol: bearer-authenticated POST,
// amounts in integer cents.
type fastPayGateway struct {
	cfg     *domain.ProcessorConfig
	client  *http.Client
	timeout time.Duration
}

type fastPayChargeRequest struct {
	Merchant       string `json:"merchant"`
	AmountCents    int64  `json:"amount_cents"`
	TipCents       int64  `json:"tip_cents,omitempty"`
	Currency       string `json:"currency"`
	CardToken      string `json:"card_token"`
	OrderRef       string `json:"order_ref"`
	IdempotencyKey string `json:"idempotency_key"`
}

type fastPayChargeResponse struct {
	Approved bool   `json:"approved"`
	TxnID    string `json:"txn_id"`
	AuthCode string `json:"auth_code"`
	Card     struct {
		Brand string `json:"brand"`
		Last4 string `json:"last4"`
	} `json:"card"`
	Message string `json:"message"`
}

func cents(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func (g *fastPayGateway) Type() domain.GatewayType { return domain.GatewayFastPay }

func (g *fastPayGateway) Charge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	body, err := json.Marshal(fastPayChargeRequest{
		Merchant:       g.cfg.MerchantRef,
		AmountCents:    cents(req.Amount),
		TipCents:       cents(req.Tip),
		Currency:       "USD",
		CardToken:      req.CardToken,
		OrderRef:       req.OrderNumber,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, domain.Internal(err, "fastpay: encode charge")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint+"/v1/charges", bytes.NewReader(body))
	if err != nil {
		return nil, domain.Internal(err, "fastpay: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.cfg.Credential)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, domain.PaymentTimeout("fastpay: gateway timeout after %s", g.timeout)
		}
		return nil, domain.Internal(err, "fastpay: charge call failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, domain.Internal(err, "fastpay: read response")
	}

	var out fastPayChargeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, domain.Internal(err, "fastpay: malformed response (status %d)", resp.StatusCode)
	}

	return &domain.ChargeResult{
		Approved:    out.Approved,
		GatewayRef:  out.TxnID,
		AuthCode:    out.AuthCode,
		CardType:    out.Card.Brand,
		CardLast4:   out.Card.Last4,
		Message:     out.Message,
		RawResponse: string(raw),
	}, nil
}

func (g *fastPayGateway) Verify(ctx context.Context, gatewayRef string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.Endpoint+"/v1/charges/"+gatewayRef, nil)
	if err != nil {
		return false, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.cfg.Credential)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, err
	}
	return out.Status == "captured", nil
}
