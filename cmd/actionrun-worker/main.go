// Actionrun Worker — выполняет планы, отправленные через RabbitMQ.
//
// Worker:
//   - Получает plan.submitted из очереди plans.submitted
//   - Загружает run из PostgreSQL и выполняет план
//   - Записывает статус каждого шага и итог run
//   - Публикует step.completed и plan.finished
//
// Workers масштабируются горизонтально: все читают одну очередь.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Actionrun/internal/config"
	"github.com/shaiso/Actionrun/internal/mq"
	"github.com/shaiso/Actionrun/internal/orchestrator"
	"github.com/shaiso/Actionrun/internal/repo"
	"github.com/shaiso/Actionrun/internal/telemetry"
	"github.com/shaiso/Actionrun/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting actionrun-worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		logger.Error("failed to create log dir", "dir", cfg.LogDir, "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool (пустой DB_URL — DSN для локальной разработки)
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
	logger.Info("database connected")

	// RabbitMQ
	mqURL := cfg.RabbitMQURL
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected")

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}

	publisher := mq.NewPublisher(mqConn, logger)

	// Оркестратор в режиме воркера: потребляет plans.submitted
	orch := orchestrator.New(orchestrator.Config{
		Store: runRepo,
		Worker: worker.Config{
			Commands:    worker.ShellRunner{Shell: cfg.Shell},
			Artifacts:   worker.DirStore{Dir: cfg.LogDir},
			MaxParallel: cfg.MaxParallel,
			Logger:      logger,
		},
		Events:    publisher,
		Conn:      mqConn,
		Retention: cfg.StatusRetention,
		Logger:    logger,
	})

	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !mqConn.IsConnected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("rabbitmq disconnected"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.WorkerAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.WorkerAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	// Останавливаем оркестратор
	orch.Stop()
	logger.Info("actionrun-worker stopped")
}
