package worker

import (
	"context"
	"fmt"

	"github.com/shaiso/Actionrun/internal/domain"
)

// PlanResult — итог выполнения плана.
type PlanResult struct {
	// Completed — имена шагов из реестра, в порядке завершения.
	Completed []string

	// Steps — отчёты по шагам всех запущенных стадий.
	Steps []StepReport

	// StagesRun — сколько стадий было запущено.
	StagesRun int
}

// RunPlan выполняет стадии плана строго по порядку.
//
// Стадия N+1 не запускается, пока RunStage для стадии N не вернулся.
// Ошибка стадии прерывает выполнение: следующие стадии не запускаются,
// ошибка возвращается вызывающему (с цепочкой до *StepExecutionError).
func (e *Executor) RunPlan(ctx context.Context, plan domain.ActionPlan) (*PlanResult, error) {
	reg := NewCompletionRegistry()
	return e.RunPlanWith(ctx, reg, plan)
}

// RunPlanWith выполняет план с заданным реестром.
// Реестр не должен использоваться другими runs.
func (e *Executor) RunPlanWith(ctx context.Context, reg *CompletionRegistry, plan domain.ActionPlan) (*PlanResult, error) {
	logger := e.log(ctx)
	result := &PlanResult{}

	for _, stage := range plan.Stages {
		logger.Info("stage started", "stage", stage.Name, "steps", len(stage.Steps))
		result.StagesRun++

		reports, err := e.RunStage(ctx, reg, stage)
		result.Steps = append(result.Steps, reports...)

		if err != nil {
			result.Completed = reg.Names()
			logger.Warn("stage failed, skipping remaining stages",
				"stage", stage.Name,
				"error", err,
			)
			return result, fmt.Errorf("stage %s: %w", stage.Name, err)
		}

		logger.Info("stage finished", "stage", stage.Name)
	}

	result.Completed = reg.Names()
	return result, nil
}
