// Package auth verifies who is submitting a checkout. End users present a
// bearer token; the e-commerce storefront submits server-to-server with a
// shared service key and is trusted for the seller id in the payload.
package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"checkout-core/internal/domain"
)

const (
	AuthorizationHeader = "Authorization"
	ServiceKeyHeader    = "X-Service-Key"
	bearerPrefix        = "Bearer "
)

type claims struct {
	VendorID string `json:"vendor_id"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret     []byte
	serviceKey string
}

func New(secret []byte, serviceKey string) *Authenticator {
	return &Authenticator{secret: secret, serviceKey: serviceKey}
}

// Authenticate resolves the caller from the request credentials and checks
// that it may act for the claimed seller. The service-key path skips the
// per-user ownership check; the bearer path requires the token's vendor to
// match the command's seller id, and a mismatch is an authorization failure,
// not an internal error.
func (a *Authenticator) Authenticate(authorization, serviceKey, claimedSellerID string) (*domain.Caller, error) {
	if serviceKey != "" {
		if a.serviceKey == "" || subtle.ConstantTimeCompare([]byte(serviceKey), []byte(a.serviceKey)) != 1 {
			return nil, domain.Authentication("invalid service credential")
		}
		return &domain.Caller{SellerID: claimedSellerID, Service: true}, nil
	}

	if !strings.HasPrefix(authorization, bearerPrefix) {
		return nil, domain.Authentication("missing credentials")
	}
	raw := strings.TrimPrefix(authorization, bearerPrefix)

	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.Authentication("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, domain.Authentication("invalid bearer token")
	}
	if c.Subject == "" {
		return nil, domain.Authentication("token has no subject")
	}
	if c.VendorID != claimedSellerID {
		return nil, domain.Authorization("caller may not act for vendor %s", claimedSellerID)
	}

	return &domain.Caller{UserID: c.Subject, SellerID: c.VendorID}, nil
}
