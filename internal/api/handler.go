package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Actionrun/internal/domain"
	"github.com/shaiso/Actionrun/internal/orchestrator"
	"github.com/shaiso/Actionrun/internal/worker"
)

// Runs — операции над runs, которые нужны API.
// Реализация — orchestrator.Orchestrator.
type Runs interface {
	Submit(ctx context.Context, plan domain.ActionPlan) (*domain.PlanRun, error)
	Get(ctx context.Context, runID uuid.UUID) (*domain.PlanRun, error)
	List(ctx context.Context, filter domain.RunFilter) ([]*domain.PlanRun, error)
	Reap(ctx context.Context, runID uuid.UUID) (*domain.PlanRun, error)
}

// LogReader читает лог-артефакт шага по пути из StepRecord.LogFile.
// Реализация — worker.DirStore.
type LogReader interface {
	Read(path string) ([]byte, error)
}

var (
	_ Runs      = (*orchestrator.Orchestrator)(nil)
	_ LogReader = worker.DirStore{}
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	runs   Runs
	logs   LogReader
	logger *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Runs Runs

	// Logs — опционально; без него эндпоинт логов шага отвечает 404.
	Logs LogReader

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		runs:   cfg.Runs,
		logs:   cfg.Logs,
		logger: logger,
	}
}
