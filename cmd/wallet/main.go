package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"

	"cupcycle/internal/common/cache"
	"cupcycle/internal/common/database"
	"cupcycle/internal/common/middleware"
	natsclient "cupcycle/internal/common/nats"
	"cupcycle/internal/deposit"
	depositapi "cupcycle/internal/deposit/api"
	"cupcycle/internal/providers"
	"cupcycle/internal/providers/banktransfer"
	"cupcycle/internal/providers/momo"
	"cupcycle/internal/providers/vnpay"
	"cupcycle/internal/providers/zalopay"
	"cupcycle/internal/topup"
	topupapi "cupcycle/internal/topup/api"
	"cupcycle/internal/wallet"
	walletapi "cupcycle/internal/wallet/api"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"WALLET_PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// TopUpExpiry is how long a pending top-up may wait for settlement
	TopUpExpiry   time.Duration `envconfig:"TOPUP_EXPIRY" default:"24h"`
	SweepInterval time.Duration `envconfig:"TOPUP_SWEEP_INTERVAL" default:"10m"`

	Database database.Config
	Redis    cache.Config
	NATS     natsclient.Config
	Limits   providers.Limits
	Deposit  deposit.Config

	VNPay        vnpay.Config
	MoMo         momo.Config
	ZaloPay      zalopay.Config
	BankTransfer banktransfer.Config
}

func main() {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Run migrations before taking traffic
	if err := database.Migrate(cfg.Database, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redis, err := cache.New(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redis.Close()

	nc, err := natsclient.New(ctx, cfg.NATS, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	if _, err := nc.EnsureStream(ctx, natsclient.DefaultStreamConfig("CUPCYCLE", []string{"events.>"})); err != nil {
		logger.Error("failed to ensure event stream", "error", err)
		os.Exit(1)
	}
	publisher := natsclient.NewPublisher(nc, logger)

	registry := providers.NewRegistry(
		vnpay.NewAdapter(cfg.VNPay),
		momo.NewAdapter(cfg.MoMo),
		zalopay.NewAdapter(cfg.ZaloPay),
		banktransfer.NewAdapter(cfg.BankTransfer),
	)

	walletService := wallet.NewService(db, publisher, logger)
	topupService := topup.NewService(topup.NewStore(db), walletService, registry, cfg.Limits, publisher, logger)
	depositService := deposit.NewService(deposit.NewStore(db), walletService, cfg.Deposit, publisher, logger)

	walletHandler := walletapi.NewHandler(walletService)
	topupHandler := topupapi.NewHandler(topupService)
	depositHandler := depositapi.NewHandler(depositService)

	// Background sweep for top-ups that never settled
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := topupService.ExpirePending(ctx, cfg.TopUpExpiry); err != nil {
					logger.Error("expiry sweep failed", "error", err)
				}
			}
		}
	}()

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// Provider callbacks come from the gateways unauthenticated; the
	// adapters authenticate them by signature
	r.Route("/callbacks", func(r chi.Router) {
		r.Mount("/", topupHandler.CallbackRoutes())
	})

	// User-facing API
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.UserExtractor)
		r.Use(middleware.Idempotency(redis, 24*time.Hour))
		r.Mount("/wallet", walletHandler.Routes())
		r.Mount("/topups", topupHandler.Routes())
		r.Mount("/holds", depositHandler.Routes())
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting wallet service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"providers", registry.Names(),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
