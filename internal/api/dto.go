package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Actionrun/internal/domain"
)

// RunActionPlanResponse — ответ POST /run-action-plan/.
type RunActionPlanResponse struct {
	Message string    `json:"message"`
	RunID   uuid.UUID `json:"run_id"`
}

// StartedMessage возвращает текст подтверждения запуска плана.
func StartedMessage(planName string) string {
	return "Action plan '" + planName + "' started."
}

// RunSummary — краткая запись run для списков.
type RunSummary struct {
	ID         uuid.UUID         `json:"id"`
	PlanName   string            `json:"plan_name"`
	Status     domain.PlanStatus `json:"status"`
	FailedStep string            `json:"failed_step,omitempty"`
	Steps      int               `json:"steps"`
	CreatedAt  time.Time         `json:"created_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// RunSummaryFromDomain конвертирует domain.PlanRun в RunSummary.
func RunSummaryFromDomain(r *domain.PlanRun) RunSummary {
	return RunSummary{
		ID:         r.ID,
		PlanName:   r.PlanName,
		Status:     r.Status,
		FailedStep: r.FailedStep,
		Steps:      len(r.Steps),
		CreatedAt:  r.CreatedAt,
		FinishedAt: r.FinishedAt,
	}
}

// RunResponse — полная запись run, со статусом каждого шага.
type RunResponse struct {
	*domain.PlanRun

	// DurationMs — длительность выполнения (0, пока run не завершён).
	DurationMs int64 `json:"duration_ms"`
}

// RunFromDomain конвертирует domain.PlanRun в RunResponse.
func RunFromDomain(r *domain.PlanRun) RunResponse {
	return RunResponse{
		PlanRun:    r,
		DurationMs: r.Duration().Milliseconds(),
	}
}
