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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/authzcore/internal/app"
	jobmetrics "github.com/odyssey-erp/authzcore/internal/jobs"
	"github.com/odyssey-erp/authzcore/jobs"
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

	rt, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap", slog.Any("error", err))
		os.Exit(1)
	}
	defer rt.Close()

	metrics := jobmetrics.NewMetrics(nil)
	reconcileJob := jobs.NewStockReconcileJob(rt.Inventory, logger, metrics)
	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskStockReconcile, Handler: reconcileJob.Handle},
	}
	if cfg.SharedPermissionCache() {
		invalidateJob := jobs.NewCacheInvalidateJob(rt.Authz.Graph, logger, metrics)
		handlers = append(handlers, jobs.TaskHandler{Type: jobs.TaskRBACCacheInvalidate, Handler: invalidateJob.Handle})
	} else {
		logger.Warn("permission cache is process-local, cache invalidation tasks are not handled",
			slog.String("backend", cfg.RBACCacheBackend))
	}

	reconcileTask, err := jobs.NewStockReconcileTask(cfg.StockReconcileFix)
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := cfg.AsynqRedis()
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    handlers,
		Cron: []jobs.CronRegistration{
			{Spec: cfg.StockReconcileCron, Task: reconcileTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(redisOpts)
	defer inspector.Close()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	jobs.NewHandler(inspector, nil, logger).MountRoutes(router)

	server := &http.Server{
		Addr:              cfg.WorkerAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker http listening", slog.String("addr", cfg.WorkerAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker http", slog.Any("error", err))
			stop()
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("worker http shutdown", slog.Any("error", err))
		}
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
