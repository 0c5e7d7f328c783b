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
		slog.Default().Info("test mode detected, skipping worker startup")
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
		logger.Error("connect database", slog.Any("error", err))
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

	// The worker owns its reminder counters, so it exposes its own scrape
	// endpoint instead of relying on the API listener.
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: cfg.WorkerAddr, Handler: mux}
	go func() {
		logger.Info("worker metrics listening", slog.String("addr", cfg.WorkerAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("worker metrics shutdown", slog.Any("error", err))
		}
	}()

	planRepo := paymentplans.NewRepository(pool)
	contractRepo := contracts.NewRepository(pool)
	contractService := contracts.NewService(contractRepo, planRepo)
	planService := paymentplans.NewService(planRepo, contractService)

	notificationRepo := notifications.NewRepository(pool)
	notificationService := notifications.NewService(notificationRepo)

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	mailer := jobs.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom)

	reminderJob := jobs.NewReminderJob(jobs.ReminderJobConfig{
		Logger:     logger,
		Plans:      planService,
		Contacts:   contractService,
		Notifier:   notificationService,
		Mail:       queueClient,
		Redis:      redisClient,
		Metrics:    metrics,
		WindowDays: cfg.ReminderWindowDays,
	})

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSendEmail, Handler: jobs.NewSendEmailHandler(mailer, logger)},
			{Type: jobs.TaskTypePaymentReminderScan, Handler: reminderJob.Handler()},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReminderCron, Task: jobs.NewPaymentReminderScanTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
