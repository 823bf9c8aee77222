package worker

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Actionrun/internal/domain"
)

// RunStage запускает все шаги стадии одновременно и ждёт завершения каждого.
//
// Шаги запускаются без учёта зависимостей — порядок обеспечивает гейт
// внутри каждого шага. Ошибка одного шага не останавливает соседей:
// errgroup.Group без WithContext только собирает первую ошибку.
// Отчёты возвращаются в порядке объявления шагов.
func (e *Executor) RunStage(ctx context.Context, reg *CompletionRegistry, stage domain.Stage) ([]StepReport, error) {
	reports := make([]StepReport, len(stage.Steps))

	var g errgroup.Group
	for i, step := range stage.Steps {
		g.Go(func() error {
			report, err := e.RunStep(ctx, reg, stage.Name, step)
			reports[i] = report
			return err
		})
	}

	err := g.Wait()
	return reports, err
}
