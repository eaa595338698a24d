package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-checkout-core.git/internal/checkout"
	"github.com/ariefcatur/go-checkout-core.git/internal/config"
	"github.com/ariefcatur/go-checkout-core.git/internal/finalize"
	"github.com/ariefcatur/go-checkout-core.git/internal/gateway"
	"github.com/ariefcatur/go-checkout-core.git/internal/hold"
	"github.com/ariefcatur/go-checkout-core.git/internal/httpx"
	kafkax "github.com/ariefcatur/go-checkout-core.git/internal/kafka"
	"github.com/ariefcatur/go-checkout-core.git/internal/postgres"
	"github.com/ariefcatur/go-checkout-core.git/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	cfg.MustGateway()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("db schema: %v", err)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per topic
	pPlaced := kafkax.NewProducer(cfg.KafkaBrokers, checkout.TopicHoldPlaced, 1024)
	pPlaced.Start(ctx)
	pRejected := kafkax.NewProducer(cfg.KafkaBrokers, checkout.TopicHoldRejected, 1024)
	pRejected.Start(ctx)
	pCompleted := kafkax.NewProducer(cfg.KafkaBrokers, checkout.TopicSessionCompleted, 1024)
	pCompleted.Start(ctx)
	pFinalized := kafkax.NewProducer(cfg.KafkaBrokers, checkout.TopicOrderFinalized, 1024)
	pFinalized.Start(ctx)
	pReconcile := kafkax.NewProducer(cfg.KafkaBrokers, checkout.TopicReconciliation, 1024)
	pReconcile.Start(ctx)

	// Repos & services
	reservations := &checkout.ReservationRepo{DB: db}
	orders := &checkout.OrderRepo{DB: db}
	gw := gateway.NewHosted(cfg.GatewayBaseURL, cfg.GatewaySecretKey)

	holds := &hold.Service{
		Ledger:      reservations,
		Placed:      pPlaced,
		Rejected:    pRejected,
		ServiceName: cfg.ServiceName,
		DefaultTTL:  cfg.HoldTTL,
		MaxTTL:      cfg.MaxHoldTTL,
	}
	finalizer := &finalize.Service{
		Gateway:     gw,
		Store:       orders,
		Redis:       rdb,
		Finalized:   pFinalized,
		Reconcile:   pReconcile,
		ServiceName: cfg.ServiceName,
	}

	router := httpx.NewRouter()
	ch := &httpx.CheckoutHandler{
		Holds:         holds,
		Finalizer:     finalizer,
		Carts:         reservations,
		Gateway:       gw,
		Completed:     pCompleted,
		WebhookSecret: cfg.GatewaySecretKey,
		SuccessURL:    cfg.GatewaySuccessURL,
		CancelURL:     cfg.GatewayCancelURL,
		Service:       cfg.ServiceName,
	}
	ch.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	for _, p := range []*kafkax.Producer{pPlaced, pRejected, pCompleted, pFinalized, pReconcile} {
		p.Close()
	}
	cancel()
	for _, p := range []*kafkax.Producer{pPlaced, pRejected, pCompleted, pFinalized, pReconcile} {
		p.WaitClosed()
	}
}
