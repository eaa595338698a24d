package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-checkout-core.git/internal/checkout"
	"github.com/ariefcatur/go-checkout-core.git/internal/config"
	"github.com/ariefcatur/go-checkout-core.git/internal/finalize"
	"github.com/ariefcatur/go-checkout-core.git/internal/gateway"
	kafkax "github.com/ariefcatur/go-checkout-core.git/internal/kafka"
	"github.com/ariefcatur/go-checkout-core.git/internal/postgres"
	"github.com/ariefcatur/go-checkout-core.git/internal/redisx"
	"github.com/ariefcatur/go-checkout-core.git/internal/sweeper"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	cfg.MustGateway()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("db schema: %v", err)
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	pFinalized := kafkax.NewProducer(cfg.KafkaBrokers, checkout.TopicOrderFinalized, 1024)
	pFinalized.Start(ctx)
	pReconcile := kafkax.NewProducer(cfg.KafkaBrokers, checkout.TopicReconciliation, 1024)
	pReconcile.Start(ctx)

	reservations := &checkout.ReservationRepo{DB: db}
	finalizer := &finalize.Service{
		Gateway:     gateway.NewHosted(cfg.GatewayBaseURL, cfg.GatewaySecretKey),
		Store:       &checkout.OrderRepo{DB: db},
		Redis:       rdb,
		Finalized:   pFinalized,
		Reconcile:   pReconcile,
		ServiceName: cfg.ServiceName + "-worker",
	}

	// Expired-hold GC; availability reads never see expired rows, so this
	// only keeps the table small.
	go (&sweeper.Sweeper{Ledger: reservations, Interval: cfg.SweepInterval}).Run(ctx)

	group := getenv("FINALIZER_GROUP", "checkout-finalizer")
	workers := atoiDefault(os.Getenv("FINALIZER_WORKERS"), 4)
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, checkout.TopicSessionCompleted, workers)

	go func() {
		log.Printf("finalizer consumer started: group=%s topic=%s workers=%d", group, checkout.TopicSessionCompleted, workers)
		if err := cons.Start(ctx, finalizer.HandleSessionCompleted); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down worker...")
	cancel()
	time.Sleep(500 * time.Millisecond)
	pFinalized.Close()
	pReconcile.Close()
	pFinalized.WaitClosed()
	pReconcile.WaitClosed()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil || i <= 0 {
		return def
	}
	return i
}
