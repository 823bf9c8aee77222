// Actionrun API — принимает планы действий по HTTP.
//
// API:
//   - Принимает план (POST /run-action-plan/, POST /api/v1/plans) и сразу отвечает
//   - Без RabbitMQ выполняет планы в этом процессе
//   - С RabbitMQ публикует plan.submitted для actionrun-worker
//   - Отдаёт статус runs и лог-артефакты шагов
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Actionrun/internal/api"
	"github.com/shaiso/Actionrun/internal/config"
	"github.com/shaiso/Actionrun/internal/mq"
	"github.com/shaiso/Actionrun/internal/orchestrator"
	"github.com/shaiso/Actionrun/internal/repo"
	"github.com/shaiso/Actionrun/internal/telemetry"
	"github.com/shaiso/Actionrun/internal/worker"
)

var startTime = time.Now()

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting actionrun-api")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		logger.Error("failed to create log dir", "dir", cfg.LogDir, "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	orchCfg := orchestrator.Config{
		Worker: worker.Config{
			Commands:    worker.ShellRunner{Shell: cfg.Shell},
			Artifacts:   worker.DirStore{Dir: cfg.LogDir},
			MaxParallel: cfg.MaxParallel,
			Logger:      logger,
		},
		Retention: cfg.StatusRetention,
		Logger:    logger,
	}

	// Хранилище статусов: PostgreSQL или память процесса
	if cfg.DBURL != "" {
		pool, err := repo.NewPool(ctx, cfg.DBURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		runRepo := repo.NewPlanRunRepo(pool)
		if err := runRepo.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
		orchCfg.Store = runRepo
		logger.Info("connected to database")
	}

	// RabbitMQ: планы выполняют воркеры
	if cfg.Dispatch() {
		mqConn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Error("failed to connect to RabbitMQ", "error", err)
			os.Exit(1)
		}
		defer mqConn.Close()

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Error("failed to setup topology", "error", err)
			os.Exit(1)
		}

		publisher := mq.NewPublisher(mqConn, logger)
		orchCfg.Dispatcher = publisher
		orchCfg.Events = publisher
		logger.Info("RabbitMQ connected, plans are dispatched to workers")
	}

	orch := orchestrator.New(orchCfg)
	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// Создаём API handler
	handler := api.NewHandler(api.Config{
		Runs:   orch,
		Logs:   worker.DirStore{Dir: cfg.LogDir},
		Logger: logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	// Создаём HTTP сервер с возможностью graceful shutdown
	server := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Запускаем сервер в горутине
	go func() {
		logger.Info("listening", "addr", cfg.APIAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	// Фоновые runs отменяются, их итог записывается в хранилище
	orch.Stop()

	logger.Info("stopped", "active_runs", orch.ActiveRunsCount())
}
