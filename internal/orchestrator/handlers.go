package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Actionrun/internal/domain"
	"github.com/shaiso/Actionrun/internal/mq"
	"github.com/shaiso/Actionrun/internal/telemetry"
	"github.com/shaiso/Actionrun/internal/worker"
)

var _ worker.Observer = (*Orchestrator)(nil)

// handlePlanSubmitted обрабатывает сообщение plan.submitted.
//
// Повторная доставка уже выполненного run подтверждается без выполнения.
// Несуществующий run и битый payload уходят в DLQ.
func (o *Orchestrator) handlePlanSubmitted(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.PlanSubmittedPayload](&delivery.Message)
	if err != nil {
		return fmt.Errorf("%w: parse plan.submitted: %w", mq.ErrPermanent, err)
	}

	o.logger.Debug("received plan.submitted", "run_id", payload.RunID)

	run, err := o.Execute(ctx, payload.RunID)
	switch {
	case err == nil:
		o.logger.Debug("run processed", "run_id", run.ID, "status", run.Status)
		return nil
	case errors.Is(err, ErrRunNotPending), errors.Is(err, ErrRunAlreadyActive):
		o.logger.Debug("run not processed", "run_id", payload.RunID, "reason", err)
		return nil
	case errors.Is(err, ErrRunNotFound):
		return fmt.Errorf("%w: %w", mq.ErrPermanent, err)
	default:
		return err
	}
}

// StepRunning обновляет запись шага: команда запущена.
func (o *Orchestrator) StepRunning(ctx context.Context, report worker.StepReport) {
	state, ok := runStateFrom(ctx)
	if !ok {
		return
	}

	_, err := o.apply(ctx, state, func(run *domain.PlanRun) {
		applyRunning(run, report)
	})
	if err != nil {
		telemetry.LoggerFrom(ctx, o.logger).Warn("failed to record step start",
			"step", report.Step,
			"error", err,
		)
	}
}

// StepFinished записывает итог шага и публикует step.completed.
func (o *Orchestrator) StepFinished(ctx context.Context, report worker.StepReport) {
	state, ok := runStateFrom(ctx)
	if !ok {
		return
	}
	logger := telemetry.LoggerFrom(ctx, o.logger)

	var rec domain.StepRecord
	var found bool
	_, err := o.apply(ctx, state, func(run *domain.PlanRun) {
		rec, found = applyFinished(run, report)
	})
	if err != nil {
		logger.Warn("failed to record step result", "step", report.Step, "error", err)
	}

	if !found || o.events == nil {
		return
	}
	if err := o.events.PublishStepCompleted(context.WithoutCancel(ctx), state.RunID(), rec); err != nil {
		logger.Warn("failed to publish step.completed", "step", report.Step, "error", err)
	}
}
