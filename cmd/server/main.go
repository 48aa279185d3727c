package main

import (
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/joho/godotenv/autoload"

	"checkout-core/internal/auth"
	"checkout-core/internal/database"
	"checkout-core/internal/domain"
	"checkout-core/internal/infrastructure/payment"
	"checkout-core/internal/observability"
	"checkout-core/internal/repo"
	"checkout-core/internal/server"
	"checkout-core/internal/service"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	db := database.NewPostgres()
	defer db.Close()

	orderRepo := repo.NewOrderRepo(db)
	paymentRepo := repo.NewPaymentRepo(db)
	processorRepo := repo.NewProcessorRepo(db)
	inventoryRepo := repo.NewInventoryRepo(db)
	loyaltyRepo := repo.NewLoyaltyRepo(db)
	sessionRepo := repo.NewSessionRepo(db)
	reconRepo := repo.NewReconRepo(db)

	gatewayTimeout := payment.DefaultTimeout
	if raw := os.Getenv("CHECKOUT_GATEWAY_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("bad CHECKOUT_GATEWAY_TIMEOUT: %v", err)
		}
		gatewayTimeout = d
	}
	httpClient := &http.Client{}
	gatewayFor := func(cfg *domain.ProcessorConfig) (payment.Gateway, error) {
		return payment.ForProcessor(cfg, httpClient, gatewayTimeout)
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	sink := observability.NewSink(logger, metrics)

	router := service.NewRouter(inventoryRepo, orderRepo)
	checkout := service.NewCheckoutService(
		orderRepo, paymentRepo, processorRepo, inventoryRepo,
		loyaltyRepo, sessionRepo, reconRepo, router, gatewayFor, metrics, logger,
	)

	secret := os.Getenv("CHECKOUT_JWT_SECRET")
	if secret == "" {
		log.Fatal("CHECKOUT_JWT_SECRET is required")
	}
	authn := auth.New([]byte(secret), os.Getenv("CHECKOUT_SERVICE_KEY"))

	origins := strings.Split(os.Getenv("CHECKOUT_CORS_ORIGINS"), ",")
	if len(origins) == 1 && origins[0] == "" {
		origins = []string{"http://localhost:3000"}
	}

	srv := server.New(
		server.Config{AllowedOrigins: origins},
		checkout, authn, database.New(db), sink, metrics, logger,
	)

	addr := os.Getenv("CHECKOUT_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	logger.Info("checkout core listening", "addr", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
