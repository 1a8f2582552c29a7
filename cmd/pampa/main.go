package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/pampa-erp/pampa-erp/internal/app"
	"github.com/pampa-erp/pampa-erp/internal/customers"
	"github.com/pampa-erp/pampa-erp/internal/fiscal"
	"github.com/pampa-erp/pampa-erp/internal/fiscal/wsfe"
	"github.com/pampa-erp/pampa-erp/internal/observability"
	"github.com/pampa-erp/pampa-erp/internal/platform/cache"
	"github.com/pampa-erp/pampa-erp/internal/platform/db"
	"github.com/pampa-erp/pampa-erp/internal/sales"
	"github.com/pampa-erp/pampa-erp/internal/shared"
	"github.com/pampa-erp/pampa-erp/jobs"
)

// retryQueue adapts the asynq client to the fiscal handler's enqueue port.
type retryQueue struct {
	client *jobs.Client
}

func (q retryQueue) EnqueueAuthorizeRetry(ctx context.Context, invoiceID uuid.UUID, actor string) error {
	_, err := q.client.EnqueueAuthorizeRetry(ctx, invoiceID, actor)
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	locks := shared.NewRecordLock(redisClient, cfg.InvoiceLockTTL)

	authorityHTTP := &http.Client{Timeout: cfg.AuthorityTimeout}
	credentials, err := wsfe.NewCredentialManager(cfg.AuthorityLoginURL, cfg.AuthorityCertPath, cfg.AuthorityCertPass, cfg.IssuerCUIT, authorityHTTP)
	if err != nil {
		logger.Error("load authority credentials", slog.Any("error", err))
		os.Exit(1)
	}
	gateway := wsfe.NewClient(cfg.AuthorityInvoiceURL, credentials, authorityHTTP, logger, wsfe.Options{
		MaxRetries: cfg.AuthorityMaxRetries,
		Backoff:    cfg.AuthorityBackoff,
	})
	registry := wsfe.NewRegistryClient(cfg.AuthorityRegistryURL, credentials, authorityHTTP)

	issuer := fiscal.IssuerConfig{
		CUIT:        cfg.IssuerCUIT,
		Name:        cfg.IssuerName,
		Address:     cfg.IssuerAddress,
		Regime:      fiscal.Regime(cfg.IssuerRegime),
		PointOfSale: cfg.PointOfSale,
	}

	fiscalRepo := fiscal.NewRepository(pool)
	resolver := fiscal.NewProfileResolver(registry)
	assembler := fiscal.NewAssembler(issuer)
	fiscalService := fiscal.NewService(fiscalRepo, resolver, assembler, gateway, locks, auditLogger, logger, issuer).
		WithMetrics(metrics)

	customersRepo := customers.NewRepository(pool)
	customersService := customers.NewService(customersRepo)
	customersHandler := customers.NewHandler(logger, customersService)

	salesRepo := sales.NewRepository(pool)
	salesService := sales.NewService(salesRepo, customersService)
	salesHandler := sales.NewHandler(logger, salesService)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("connect job queue", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("job queue close", slog.Any("error", err))
		}
	}()

	fiscalHandler := fiscal.NewHandler(logger, fiscalService, salesService, idempotencyStore).
		WithRetryQueue(retryQueue{client: jobsClient})

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		FiscalHandler:    fiscalHandler,
		SalesHandler:     salesHandler,
		CustomersHandler: customersHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
