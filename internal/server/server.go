// Package server is the HTTP edge: one checkout endpoint, a health probe,
// and the metrics route. Everything else in the product talks to this core
// through POST /checkout and the envelope it returns.
package server

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"checkout-core/internal/auth"
	"checkout-core/internal/database"
	"checkout-core/internal/domain"
	"checkout-core/internal/normalize"
	"checkout-core/internal/observability"
	"checkout-core/internal/service"
)

// requestBodyLimit guards the JSON decoder against oversized payloads.
const requestBodyLimit = 1 << 20

type Meta struct {
	RequestID  string `json:"requestId"`
	Timestamp  string `json:"timestamp"`
	DurationMS int64  `json:"durationMs"`
}

// Envelope is the fixed response shape for every checkout outcome.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Meta    Meta   `json:"meta"`
}

type Server struct {
	engine   *gin.Engine
	checkout *service.CheckoutService
	authn    *auth.Authenticator
	health   database.Service
	sink     *observability.Sink
	metrics  *observability.Metrics
	log      *slog.Logger
}

type Config struct {
	// AllowedOrigins is the fixed CORS allowlist for browser callers.
	AllowedOrigins []string
}

func New(
	cfg Config,
	checkout *service.CheckoutService,
	authn *auth.Authenticator,
	health database.Service,
	sink *observability.Sink,
	metrics *observability.Metrics,
	log *slog.Logger,
) *Server {
	s := &Server{
		checkout: checkout,
		authn:    authn,
		health:   health,
		sink:     sink,
		metrics:  metrics,
		log:      log,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: []string{http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", auth.AuthorizationHeader, auth.ServiceKeyHeader, "Idempotency-Key"},
		MaxAge:       12 * time.Hour,
	}))

	engine.POST("/checkout", s.handleCheckout)
	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(observability.MetricsHandler()))

	s.engine = engine
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleCheckout(c *gin.Context) {
	start := time.Now()
	requestID := uuid.New()
	obs := s.sink.ForRequest(requestID.String())

	respond := func(status int, env Envelope) {
		env.Meta = Meta{
			RequestID:  requestID.String(),
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			DurationMS: time.Since(start).Milliseconds(),
		}
		c.JSON(status, env)
	}

	fail := func(err error) {
		de := domain.AsError(err)
		message := de.Message
		if !de.Public() {
			// internal detail stays in the sink; the caller gets the
			// correlation id
			obs.Capture(de)
			message = "internal error (request " + requestID.String() + ")"
		}
		s.metrics.Checkouts.WithLabelValues(string(de.Kind)).Inc()
		respond(de.HTTPStatus(), Envelope{Success: false, Error: message})
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, requestBodyLimit))
	if err != nil {
		fail(domain.Validation("unreadable request body"))
		return
	}

	cmd, err := normalize.Command(body)
	if err != nil {
		fail(err)
		return
	}

	caller, err := s.authn.Authenticate(
		c.GetHeader(auth.AuthorizationHeader),
		c.GetHeader(auth.ServiceKeyHeader),
		cmd.SellerID,
	)
	if err != nil {
		fail(err)
		return
	}
	caller.RequestID = requestID
	if caller.Service {
		obs.Tag("caller", "service:ecommerce")
	} else {
		obs.Tag("caller", caller.UserID)
	}
	obs.Tag("seller_id", cmd.SellerID)

	if key := c.GetHeader("Idempotency-Key"); key != "" && cmd.IdempotencyKey == "" {
		cmd.IdempotencyKey = key
	}

	result, err := s.checkout.Process(c.Request.Context(), cmd, caller, obs)
	if err != nil {
		fail(err)
		return
	}

	s.metrics.Checkouts.WithLabelValues("success").Inc()
	s.metrics.Duration.WithLabelValues(string(cmd.Channel)).Observe(time.Since(start).Seconds())
	respond(http.StatusOK, Envelope{Success: true, Data: result})
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.health.Health()
	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, stats)
}
