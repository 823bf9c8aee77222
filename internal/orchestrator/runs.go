package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Actionrun/internal/domain"
	"github.com/shaiso/Actionrun/internal/repo"
	"github.com/shaiso/Actionrun/internal/telemetry"
	"github.com/shaiso/Actionrun/internal/worker"
)

// Submit принимает план и возвращается сразу, не дожидаясь выполнения.
//
// Run сохраняется в статусе PENDING, затем либо публикуется воркерам
// (Dispatcher задан), либо запускается в фоновой горутине этого процесса.
// Ошибка выполнения плана вызывающему не возвращается: она попадает
// в запись run. Submit возвращает ErrPlanSubmission, только если
// фоновое выполнение не удалось даже начать.
func (o *Orchestrator) Submit(ctx context.Context, plan domain.ActionPlan) (*domain.PlanRun, error) {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()

	if o.stopped {
		return nil, fmt.Errorf("%w: %w", ErrPlanSubmission, ErrOrchestratorStopped)
	}

	run := domain.NewPlanRun(plan)
	run.CreatedAt = o.now()
	logger := telemetry.WithPlanName(telemetry.WithRunID(o.logger, run.ID.String()), plan.Name)

	if err := o.store.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("%w: store run: %w", ErrPlanSubmission, err)
	}

	if o.dispatcher != nil {
		if err := o.dispatcher.PublishPlanSubmitted(ctx, run.ID); err != nil {
			run.MarkFailed("", "dispatch failed: "+err.Error())
			if uerr := o.store.Update(context.WithoutCancel(ctx), run); uerr != nil {
				logger.Error("failed to record dispatch failure", "error", uerr)
			}
			telemetry.PlansTotal.WithLabelValues(string(run.Status)).Inc()
			return nil, fmt.Errorf("%w: dispatch: %w", ErrPlanSubmission, err)
		}

		logger.Info("plan dispatched", "steps", plan.StepCount())
		return run, nil
	}

	state, err := o.track(run)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlanSubmission, err)
	}
	snapshot := run.Clone()

	o.runs.Add(1)
	go func() {
		defer o.runs.Done()
		if _, err := o.execute(o.runCtx, state); err != nil {
			logger.Error("plan run bookkeeping failed", "error", err)
		}
	}()

	logger.Info("plan submitted", "steps", plan.StepCount())
	return snapshot, nil
}

// Execute выполняет сохранённый run в статусе PENDING и ждёт его завершения.
//
// Используется воркером при получении plan.submitted. Сбой плана
// (StepExecutionError) ошибкой Execute не является: run финализируется
// с FAILED и возвращается. Ошибка возвращается, если run не найден,
// уже выполнялся или хранилище статусов недоступно.
func (o *Orchestrator) Execute(ctx context.Context, runID uuid.UUID) (*domain.PlanRun, error) {
	if o.IsStopped() {
		return nil, ErrOrchestratorStopped
	}

	run, err := o.store.Get(ctx, runID)
	if err != nil {
		return nil, translateStoreErr(runID, err)
	}

	if run.Status != domain.PlanStatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrRunNotPending, runID, run.Status)
	}

	state, err := o.track(run)
	if err != nil {
		return nil, err
	}

	return o.execute(ctx, state)
}

// execute проводит run через RUNNING до SUCCEEDED или FAILED.
func (o *Orchestrator) execute(ctx context.Context, state *runState) (*domain.PlanRun, error) {
	defer func() {
		o.untrack(state.RunID())
		close(state.done)
	}()

	// План после отправки не меняется, читать его можно без блокировки
	plan := state.run.Plan

	logger := telemetry.WithPlanName(telemetry.WithRunID(o.logger, state.RunID().String()), plan.Name)
	ctx = telemetry.WithLogger(ctx, logger)
	ctx = withRunState(ctx, state)

	if _, err := o.apply(ctx, state, func(r *domain.PlanRun) { r.MarkRunning() }); err != nil {
		return nil, fmt.Errorf("update run to running: %w", err)
	}

	telemetry.PlansActive.Inc()
	defer telemetry.PlansActive.Dec()

	logger.Info("plan started", "stages", len(plan.Stages), "steps", plan.StepCount())

	result, runErr := o.executor.RunPlan(ctx, plan)

	final, err := o.apply(ctx, state, func(r *domain.PlanRun) {
		if runErr != nil {
			step, _ := worker.FailedStep(runErr)
			r.MarkFailed(step, runErr.Error())
			return
		}
		r.MarkSucceeded()
	})

	telemetry.PlansTotal.WithLabelValues(string(final.Status)).Inc()
	logger.Info("plan finished",
		"status", final.Status,
		"completed_steps", len(result.Completed),
		"stages_run", result.StagesRun,
		"duration", final.Duration(),
	)

	if o.events != nil {
		if perr := o.events.PublishPlanFinished(context.WithoutCancel(ctx), final); perr != nil {
			logger.Warn("failed to publish plan.finished", "error", perr)
		}
	}

	if err != nil {
		return final, fmt.Errorf("finalize run: %w", err)
	}
	return final, nil
}

// apply изменяет запись run и сохраняет её.
//
// Запись в хранилище идёт под мьютексом run, чтобы более старый снимок
// не перезаписал более новый. Контекст отмены не наследуется: итог run
// сохраняется и во время остановки процесса.
func (o *Orchestrator) apply(ctx context.Context, state *runState, fn func(run *domain.PlanRun)) (*domain.PlanRun, error) {
	state.mu.Lock()
	defer state.mu.Unlock()

	fn(state.run)
	snapshot := state.run.Clone()

	if err := o.store.Update(context.WithoutCancel(ctx), snapshot); err != nil {
		return snapshot, translateStoreErr(snapshot.ID, err)
	}
	return snapshot, nil
}

// Get возвращает запись run.
func (o *Orchestrator) Get(ctx context.Context, runID uuid.UUID) (*domain.PlanRun, error) {
	if state, ok := o.activeRun(runID); ok {
		return state.snapshot(), nil
	}

	run, err := o.store.Get(ctx, runID)
	if err != nil {
		return nil, translateStoreErr(runID, err)
	}
	return run, nil
}

// List возвращает записи runs по фильтру.
func (o *Orchestrator) List(ctx context.Context, filter domain.RunFilter) ([]*domain.PlanRun, error) {
	return o.store.List(ctx, filter)
}

// Reap удаляет запись завершённого run и возвращает её.
// Для run в PENDING или RUNNING возвращает ErrRunNotFinished.
func (o *Orchestrator) Reap(ctx context.Context, runID uuid.UUID) (*domain.PlanRun, error) {
	if _, active := o.activeRun(runID); active {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFinished, runID)
	}

	run, err := o.store.Get(ctx, runID)
	if err != nil {
		return nil, translateStoreErr(runID, err)
	}

	if !run.IsFinished() {
		return nil, fmt.Errorf("%w: %s is %s", ErrRunNotFinished, runID, run.Status)
	}

	if err := o.store.Delete(ctx, runID); err != nil {
		return nil, translateStoreErr(runID, err)
	}

	o.logger.Info("run reaped", "run_id", runID, "status", run.Status)
	return run, nil
}

// Wait ждёт завершения run и возвращает финальную запись.
//
// Для runs этого процесса ждёт сигнала о финализации, для остальных
// опрашивает хранилище с интервалом PollInterval.
func (o *Orchestrator) Wait(ctx context.Context, runID uuid.UUID) (*domain.PlanRun, error) {
	if state, ok := o.activeRun(runID); ok {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-state.Done():
		}
	}

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		run, err := o.Get(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.IsFinished() {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep удаляет runs, завершённые раньше, чем Retention назад.
// Возвращает количество удалённых записей.
func (o *Orchestrator) Sweep(ctx context.Context) (int, error) {
	if o.retention <= 0 {
		return 0, nil
	}

	cutoff := o.now().Add(-o.retention)
	runs, err := o.store.List(ctx, domain.RunFilter{FinishedBefore: cutoff})
	if err != nil {
		return 0, fmt.Errorf("list expired runs: %w", err)
	}

	removed := 0
	for _, run := range runs {
		if _, active := o.activeRun(run.ID); active {
			continue
		}
		if err := o.store.Delete(ctx, run.ID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			return removed, fmt.Errorf("delete run %s: %w", run.ID, err)
		}
		removed++
	}

	if removed > 0 {
		o.logger.Info("retention sweep", "removed", removed, "cutoff", cutoff)
	}
	return removed, nil
}
