package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/covenant-clm/covenant/internal/app"
	"github.com/covenant-clm/covenant/internal/contracts"
	"github.com/covenant-clm/covenant/internal/notifications"
	"github.com/covenant-clm/covenant/internal/observability"
	"github.com/covenant-clm/covenant/internal/paymentplans"
	"github.com/covenant-clm/covenant/internal/platform/cache"
	"github.com/covenant-clm/covenant/internal/platform/db"
	"github.com/covenant-clm/covenant/jobs"
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
		logger.Warn("redis ping", slog.Any("error", err))
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()

	planRepo := paymentplans.NewRepository(pool)
	contractRepo := contracts.NewRepository(pool)
	contractService := contracts.NewService(contractRepo, planRepo)
	planService := paymentplans.NewService(planRepo, contractService)

	notificationRepo := notifications.NewRepository(pool)
	notificationService := notifications.NewService(notificationRepo)

	contractsHandler := contracts.NewHandler(logger, contractService)
	plansHandler := paymentplans.NewHandler(logger, planService)
	notificationsHandler := notifications.NewHandler(logger, notificationService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		ContractsHandler:     contractsHandler,
		PaymentPlansHandler:  plansHandler,
		NotificationsHandler: notificationsHandler,
		JobHandler:           jobHandler,
		Metrics:              metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
