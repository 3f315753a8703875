package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5/pgxpool"

	"bankledger/internal/api"
	"bankledger/internal/ledger"
	"bankledger/internal/repository"
	"bankledger/internal/repository/memory"
	"bankledger/internal/repository/postgres"
	"bankledger/internal/service"
	"bankledger/pkg/crypto"
	"bankledger/pkg/metrics"
)

const appName = "bankledger"

type config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	// Empty selects the in-memory store.
	DatabaseURL        string `env:"DATABASE_URL"`
	SigningKey         string `env:"SIGNING_KEY"`
	RateLimitPerSecond int    `env:"RATE_LIMIT_PER_SECOND" envDefault:"20"`
	RateLimitBurst     int    `env:"RATE_LIMIT_BURST" envDefault:"40"`
	EventWorkers       int    `env:"EVENT_WORKERS" envDefault:"3"`
	LoanRatePercent    uint64 `env:"LOAN_INTEREST_RATE_PERCENT" envDefault:"5"`
	LoanMinTermHours   int    `env:"LOAN_MIN_TERM_HOURS" envDefault:"24"`
	LoanMaxTermHours   int    `env:"LOAN_MAX_TERM_HOURS" envDefault:"8760"`
	LoanMaxAmount      uint64 `env:"LOAN_MAX_AMOUNT" envDefault:"0"`
}

func main() {
	logger := setupLogger()
	logger.Info("Starting application", slog.String("name", appName))

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		logger.Error("Failed to parse configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store, pool, err := setupStore(cfg, logger)
	if err != nil {
		logger.Error("Failed to set up account store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var signer *crypto.Signer
	if cfg.SigningKey != "" {
		signer = crypto.NewSigner(cfg.SigningKey, logger)
	}

	policy := ledger.LoanPolicy{
		InterestRatePercent: cfg.LoanRatePercent,
		MinTerm:             time.Duration(cfg.LoanMinTermHours) * time.Hour,
		MaxTerm:             time.Duration(cfg.LoanMaxTermHours) * time.Hour,
		MaxLoanAmount:       cfg.LoanMaxAmount,
	}

	metricsCollector := metrics.NewMetricsCollector(logger)
	ldg := ledger.New(store, policy, signer, logger)
	eventFeed := service.NewEventFeed([]service.EventSink{service.NewLogSink(logger)}, cfg.EventWorkers, logger)
	apiHandler := api.NewAPIHandler(ldg, metricsCollector, eventFeed, logger)

	metricsServer := metricsCollector.StartMetricsServer(cfg.MetricsAddr)
	httpServer := startHTTPServer(cfg, apiHandler, logger)

	waitForShutdown(logger, httpServer, metricsServer, eventFeed)

	if pool != nil {
		pool.Close()
	}
	logger.Info("Application shutdown complete")
}

func setupLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

func setupStore(cfg config, logger *slog.Logger) (repository.AccountStore, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("Using in-memory account store")
		return memory.NewStore(), nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	store := postgres.New(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	logger.Info("Using postgres account store")
	return store, pool, nil
}

func startHTTPServer(cfg config, handler *api.APIHandler, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	rateLimiter := api.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: rateLimiter.Handler(mux),
	}

	go func() {
		logger.Info("Starting HTTP server", slog.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", slog.String("error", err.Error()))
		}
	}()

	return server
}

func waitForShutdown(logger *slog.Logger, httpServer, metricsServer *http.Server, eventFeed *service.EventFeed) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("Shutdown signal received", slog.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", slog.String("error", err.Error()))
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("Metrics server shutdown failed", slog.String("error", err.Error()))
	}
	if err := eventFeed.Shutdown(ctx); err != nil {
		logger.Error("Event feed shutdown failed", slog.String("error", err.Error()))
	}
}
