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
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/odyssey-invoice/internal/app"
	"github.com/odyssey-erp/odyssey-invoice/internal/erp/frappe"
	jobmetrics "github.com/odyssey-erp/odyssey-invoice/internal/jobs"
	"github.com/odyssey-erp/odyssey-invoice/internal/observability"
	"github.com/odyssey-erp/odyssey-invoice/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	erpClient := frappe.NewClient(frappe.Config{
		BaseURL:   cfg.ERPBaseURL,
		APIKey:    cfg.ERPAPIKey,
		APISecret: cfg.ERPAPISecret,
		AppModule: cfg.ERPAppModule,
		Timeout:   cfg.ERPTimeout,
	})

	metrics := observability.NewMetrics()
	resetJob := jobs.NewPriceListResetJob(erpClient, cfg.DefaultPriceList, logger, jobmetrics.NewMetrics(metrics.Registerer()))

	if cfg.WorkerMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	resetTask, err := jobs.NewPriceListResetTask(jobs.PriceListResetPayload{TriggeredBy: "scheduler"})
	if err != nil {
		logger.Error("build price list reset task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: cfg.AsynqRedis(),
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPriceListReset, Handler: resetJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.PriceListResetCron, Task: resetTask, Options: []asynq.Option{asynq.Unique(time.Hour)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker starting", slog.String("price_list_reset_cron", cfg.PriceListResetCron))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
