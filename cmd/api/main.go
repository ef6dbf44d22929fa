package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"OrderSettlement/internal/cart"
	"OrderSettlement/internal/catalog"
	"OrderSettlement/internal/commission"
	"OrderSettlement/internal/config"
	"OrderSettlement/internal/db"
	"OrderSettlement/internal/discount"
	internalhttp "OrderSettlement/internal/http"
	"OrderSettlement/internal/loyalty"
	"OrderSettlement/internal/provider"
	"OrderSettlement/internal/services"
	"OrderSettlement/internal/settlement"
	"OrderSettlement/internal/store"
	"OrderSettlement/internal/store/memory"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load("")
	if err != nil {
		fatal(logger, "config load failed", err)
	}

	ctx := context.Background()
	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		fatal(logger, "db connect failed", err)
	}
	defer closeRepo()

	var shoppingCart cart.Cart = cart.NewMemoryCart()
	if cfg.Cart.RedisAddr != "" {
		rc := cart.NewRedisCart(cfg.Cart.RedisAddr, cfg.Cart.RedisPassword, cfg.Cart.RedisDB, cfg.Cart.KeyPrefix)
		if err := rc.Ping(ctx); err != nil {
			fatal(logger, "redis ping failed", err)
		}
		defer rc.Close()
		shoppingCart = rc
	}

	timeout := time.Duration(cfg.Provider.TimeoutSeconds) * time.Second
	gateway, err := provider.NewMultiClient(cfg.Provider.Endpoints, cfg.Provider.APIKey, timeout, cfg.Provider.FailoverThreshold)
	if err != nil {
		fatal(logger, "provider client failed", err)
	}
	var signer *provider.Signer
	if cfg.Provider.CallbackSecret != "" {
		if signer, err = provider.NewSigner(cfg.Provider.CallbackSecret); err != nil {
			fatal(logger, "callback signer failed", err)
		}
	} else {
		logger.Warn("provider callbacks disabled, no callback secret configured")
	}

	cat := catalog.NewClient(cfg.Catalog.Endpoint, time.Duration(cfg.Catalog.TimeoutSeconds)*time.Second)
	commissions := commission.Ledger{Rates: cat, Store: repo, Logger: logger}
	led := loyalty.Ledger{
		Store:         repo,
		Codes:         loyalty.CodeGenerator{Prefix: cfg.Loyalty.CodePrefix},
		Rewards:       loyalty.RewardsFromConfig(cfg.Loyalty.Rewards),
		PointsDivisor: cfg.Loyalty.PointsDivisor,
		RewardExpiry:  cfg.RewardExpiry(),
		Logger:        logger,
	}

	rec := settlement.New(repo, gateway, shoppingCart, commissions, logger, settlement.Config{
		PollInterval: cfg.PollInterval(),
		Timeout:      cfg.SettlementTimeout(),
		MaxRetries:   cfg.Settlement.MaxProviderRetries,
		QueryRate:    cfg.Settlement.QueryRatePerSecond,
		QueryBurst:   cfg.Settlement.QueryBurst,
	})
	defer rec.Close()

	h := &internalhttp.Handler{
		Orders: services.OrderService{
			Store:     repo,
			Cart:      shoppingCart,
			Catalog:   cat,
			Discounts: discount.NewResolver(repo).WithRewardCodes(led.Codes),
			Payments:  rec,
			Loyalty:   led,
			Logger:    logger,
		},
		Settlement:  rec,
		Payments:    repo,
		Coupons:     repo,
		Cart:        shoppingCart,
		Loyalty:     led,
		Commissions: commissions,
		Signer:      signer,
		Logger:      logger,
		MaxWait:     cfg.SettlementTimeout(),
	}
	srv := internalhttp.NewServer(h, internalhttp.Auth{Secret: []byte(cfg.Auth.JWTSecret)})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api listening", "addr", cfg.Server.Addr, "db", cfg.DB.Driver)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal(logger, "server error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}

func openRepository(ctx context.Context, cfg *config.Config) (store.Repository, func(), error) {
	if cfg.DB.Driver == "memory" {
		return memory.New(), func() {}, nil
	}
	pool, err := db.Connect(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		return nil, nil, err
	}
	return store.New(pool), pool.Close, nil
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
