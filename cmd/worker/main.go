package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"OrderSettlement/internal/cart"
	"OrderSettlement/internal/catalog"
	"OrderSettlement/internal/commission"
	"OrderSettlement/internal/config"
	"OrderSettlement/internal/db"
	"OrderSettlement/internal/events"
	"OrderSettlement/internal/provider"
	"OrderSettlement/internal/settlement"
	"OrderSettlement/internal/store"
	"OrderSettlement/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load("")
	if err != nil {
		fatal(logger, "config load failed", err)
	}
	if cfg.DB.Driver == "memory" {
		fatal(logger, "worker needs a shared database", fmt.Errorf("db.driver is memory"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		fatal(logger, "db connect failed", err)
	}
	defer pool.Close()
	st := store.New(pool)

	// Settlement clears carts, which must be the ones the api process fills.
	shoppingCart := cart.NewRedisCart(cfg.Cart.RedisAddr, cfg.Cart.RedisPassword, cfg.Cart.RedisDB, cfg.Cart.KeyPrefix)
	defer shoppingCart.Close()
	if err := shoppingCart.Ping(ctx); err != nil {
		fatal(logger, "redis ping failed", err)
	}

	timeout := time.Duration(cfg.Provider.TimeoutSeconds) * time.Second
	gateway, err := provider.NewMultiClient(cfg.Provider.Endpoints, cfg.Provider.APIKey, timeout, cfg.Provider.FailoverThreshold)
	if err != nil {
		fatal(logger, "provider client failed", err)
	}
	cat := catalog.NewClient(cfg.Catalog.Endpoint, time.Duration(cfg.Catalog.TimeoutSeconds)*time.Second)

	rec := settlement.New(st, gateway, shoppingCart, commission.Ledger{Rates: cat, Store: st, Logger: logger}, logger, settlement.Config{
		PollInterval: cfg.PollInterval(),
		Timeout:      cfg.SettlementTimeout(),
		MaxRetries:   cfg.Settlement.MaxProviderRetries,
		QueryRate:    cfg.Settlement.QueryRatePerSecond,
		QueryBurst:   cfg.Settlement.QueryBurst,
	})
	defer rec.Close()

	wsEndpoint := provider.StreamEndpoint(cfg.Provider.WSEndpoint, gateway.BaseURL())

	pub, err := newPublisher(cfg, logger)
	if err != nil {
		fatal(logger, "event publisher failed", err)
	}
	defer pub.Close()

	w := &worker.Worker{
		Settlement:    rec,
		Relay:         &events.Relay{Outbox: st, Publisher: pub, BatchSize: cfg.Events.BatchSize, Logger: logger},
		Logger:        logger,
		SweepInterval: time.Duration(cfg.Worker.SweepIntervalSeconds) * time.Second,
		StaleAfter:    time.Duration(cfg.Worker.StaleAfterSeconds) * time.Second,
		SweepBatch:    cfg.Worker.SweepBatch,
		RelayInterval: time.Duration(cfg.Worker.RelayIntervalSeconds) * time.Second,
		WSEndpoint:    wsEndpoint,
		WSAPIKey:      cfg.Provider.APIKey,
	}

	logger.Info("worker started", "provider", gateway.BaseURL(), "events", cfg.Events.Driver, "ws", wsEndpoint)
	w.Run(ctx)
	logger.Info("worker stopped")
}

func newPublisher(cfg *config.Config, logger *slog.Logger) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case "kafka":
		return events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
	case "amqp":
		return events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.AMQPExchange)
	case "", "log":
		return events.LogPublisher{Logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Events.Driver)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
