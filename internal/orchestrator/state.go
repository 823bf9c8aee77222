package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Actionrun/internal/domain"
	"github.com/shaiso/Actionrun/internal/worker"
)

// runState — состояние выполняемого run в памяти.
//
// runState создаётся, когда оркестратор берёт run в работу,
// и удаляется после финализации. Все изменения записи run идут
// через runState: события шагов приходят из горутин конкурентно.
type runState struct {
	// run — рабочая копия записи. Доступ только под mu.
	run *domain.PlanRun

	mu sync.Mutex

	// done закрывается после финализации run.
	done chan struct{}
}

// newRunState создаёт runState для run.
func newRunState(run *domain.PlanRun) *runState {
	return &runState{
		run:  run,
		done: make(chan struct{}),
	}
}

// RunID возвращает ID run.
func (s *runState) RunID() uuid.UUID {
	return s.run.ID
}

// Done возвращает канал, закрывающийся после финализации.
func (s *runState) Done() <-chan struct{} {
	return s.done
}

// snapshot возвращает копию записи run.
func (s *runState) snapshot() *domain.PlanRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run.Clone()
}

// findStep ищет незавершённую запись шага. Имена шагов уникальны
// в валидном плане; для дублей берётся первая незавершённая запись.
func findStep(run *domain.PlanRun, stage, name string) *domain.StepRecord {
	for i := range run.Steps {
		rec := &run.Steps[i]
		if rec.Stage == stage && rec.Name == name && !rec.Status.IsTerminal() {
			return rec
		}
	}
	return nil
}

// applyRunning отмечает шаг как выполняющийся.
func applyRunning(run *domain.PlanRun, report worker.StepReport) (domain.StepRecord, bool) {
	rec := findStep(run, report.Stage, report.Step)
	if rec == nil {
		return domain.StepRecord{}, false
	}

	startedAt := report.StartedAt
	rec.Status = domain.StepStatusRunning
	rec.LogFile = report.LogFile
	rec.StartedAt = &startedAt
	return *rec, true
}

// applyFinished записывает итог шага.
func applyFinished(run *domain.PlanRun, report worker.StepReport) (domain.StepRecord, bool) {
	rec := findStep(run, report.Stage, report.Step)
	if rec == nil {
		return domain.StepRecord{}, false
	}

	if !report.StartedAt.IsZero() {
		startedAt := report.StartedAt
		rec.StartedAt = &startedAt
	}
	if report.LogFile != "" {
		rec.LogFile = report.LogFile
	}

	if report.Ran {
		exitCode := report.ExitCode
		finishedAt := report.FinishedAt
		rec.ExitCode = &exitCode
		rec.FinishedAt = &finishedAt
	}

	if report.Failed() {
		rec.Status = domain.StepStatusFailed
		rec.Error = report.Err.Error()
	} else {
		rec.Status = domain.StepStatusCompleted
	}
	return *rec, true
}

type runStateKey struct{}

// withRunState кладёт runState в контекст выполнения плана.
// Observer по нему находит run, к которому относится событие шага.
func withRunState(ctx context.Context, state *runState) context.Context {
	return context.WithValue(ctx, runStateKey{}, state)
}

// runStateFrom достаёт runState из контекста.
func runStateFrom(ctx context.Context) (*runState, bool) {
	state, ok := ctx.Value(runStateKey{}).(*runState)
	return state, ok
}
