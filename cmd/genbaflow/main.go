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

	"github.com/hibiken/asynq"

	"github.com/genbaflow/genbaflow/internal/app"
	"github.com/genbaflow/genbaflow/internal/approval"
	"github.com/genbaflow/genbaflow/internal/directory"
	"github.com/genbaflow/genbaflow/internal/notify"
	"github.com/genbaflow/genbaflow/internal/observability"
	"github.com/genbaflow/genbaflow/internal/periods"
	"github.com/genbaflow/genbaflow/internal/platform/cache"
	"github.com/genbaflow/genbaflow/internal/platform/db"
	"github.com/genbaflow/genbaflow/internal/shared"
	"github.com/genbaflow/genbaflow/internal/sites"
	"github.com/genbaflow/genbaflow/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

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
		logger.Warn("redis unavailable, approver cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	directoryService := directory.NewService(
		directory.NewRepository(pool),
		cache.NewCache(redisClient, cfg.ApproverCacheTTL),
		logger,
	)
	siteService := sites.NewService(sites.NewRepository(pool))
	periodService := periods.NewService(periods.NewRepository(pool), logger)
	outbox := notify.NewOutbox(jobClient, logger)

	approvalService := approval.NewService(
		approval.NewRepository(pool),
		directoryService,
		siteService,
		periodService,
		outbox,
		logger,
	).
		WithAudit(shared.NewAuditLogger(pool)).
		WithMetrics(metrics)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		ApprovalHandler: approval.NewHandler(logger, approvalService),
		JobHandler:      jobs.NewHandler(asynq.NewInspector(redisOpts), logger),
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}
}
