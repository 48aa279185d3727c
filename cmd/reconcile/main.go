// The reconcile binary drains the checkout core's reconciliation queue and
// sweeps orders stuck mid-payment. It runs as its own process so the request
// path never carries background work.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"checkout-core/internal/database"
	"checkout-core/internal/domain"
	"checkout-core/internal/infrastructure/payment"
	"checkout-core/internal/repo"
	"checkout-core/internal/worker"
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
	reconRepo := repo.NewReconRepo(db)

	httpClient := &http.Client{}
	resolve := func(ctx context.Context, order *domain.Order) (payment.Gateway, error) {
		var cfg *domain.ProcessorConfig
		var err error
		if order.Channel == domain.ChannelPOS {
			cfg, err = processorRepo.ForRegister(ctx, order.RegisterID)
		} else {
			cfg, err = processorRepo.ForSeller(ctx, order.SellerID)
		}
		if err != nil {
			return nil, err
		}
		if cfg == nil {
			return nil, domain.Configuration("no processor for order %s", order.ID)
		}
		return payment.ForProcessor(cfg, httpClient, payment.DefaultTimeout)
	}

	interval := 30 * time.Second
	if raw := os.Getenv("CHECKOUT_RECONCILE_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("bad CHECKOUT_RECONCILE_INTERVAL: %v", err)
		}
		interval = d
	}

	rw := worker.NewReconciliationWorker(
		reconRepo, orderRepo, inventoryRepo, loyaltyRepo, paymentRepo,
		resolve, interval, logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rw.Run(ctx)
	logger.Info("reconcile worker stopped")
}
