package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/pampa-erp/pampa-erp/internal/app"
	"github.com/pampa-erp/pampa-erp/internal/fiscal"
	"github.com/pampa-erp/pampa-erp/internal/fiscal/wsfe"
	jobmetrics "github.com/pampa-erp/pampa-erp/internal/jobs"
	"github.com/pampa-erp/pampa-erp/internal/observability"
	"github.com/pampa-erp/pampa-erp/internal/platform/cache"
	"github.com/pampa-erp/pampa-erp/internal/platform/db"
	"github.com/pampa-erp/pampa-erp/internal/shared"
	"github.com/pampa-erp/pampa-erp/jobs"
)

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
	jobMetrics := jobmetrics.NewMetrics(metrics.Registry())
	auditLogger := shared.NewAuditLogger(pool)
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

	expiryScan, err := jobs.NewCAEExpiryScanTask(72 * time.Hour)
	if err != nil {
		logger.Error("build expiry scan task", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuthorizeRetry, Handler: jobs.AuthorizeRetryHandler(fiscalService, logger, jobMetrics)},
			{Type: jobs.TaskCAEExpiryScan, Handler: jobs.CAEExpiryScanHandler(fiscalRepo, logger, jobMetrics)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 6 * * *", Task: expiryScan},
		},
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	opsRouter := chi.NewRouter()
	opsRouter.Method(http.MethodGet, "/metrics", metrics.Handler())
	opsRouter.Route("/jobs", jobsHandler.MountRoutes)
	opsServer := &http.Server{Addr: cfg.WorkerAddr, Handler: opsRouter}
	go func() {
		logger.Info("worker ops server started", slog.String("addr", cfg.WorkerAddr))
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server", slog.Any("error", err))
		}
	}()

	logger.Info("worker started", slog.String("queue", jobs.QueueDefault))
	runErr := worker.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops server shutdown", slog.Any("error", err))
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", runErr))
		os.Exit(1)
	}
}
