package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/shaiso/Actionrun/internal/domain"
	"github.com/shaiso/Actionrun/internal/telemetry"
)

// RunStep выполняет один шаг ровно один раз.
//
// Порядок:
//  1. Генерирует имя артефакта: имя шага + случайный суффикс
//  2. Запоминает время старта
//  3. Ждёт зависимости (гейт)
//  4. Создаёт артефакт и пишет заголовок
//  5. Выполняет команду через shell, stdout и stderr раздельно
//  6. Пишет вывод и время завершения, закрывает артефакт
//  7. Отмечает шаг в реестре
//
// Код выхода команды не проверяется: шаг с ненулевым кодом всё равно
// попадает в реестр. Ошибка (*StepExecutionError) возвращается только
// при сбое самого раннера, и тогда шаг в реестр не попадает.
func (e *Executor) RunStep(ctx context.Context, reg *CompletionRegistry, stage string, step domain.Step) (StepReport, error) {
	logger := telemetry.WithStep(e.log(ctx), stage, step.Name)
	report := StepReport{Stage: stage, Step: step.Name}

	fail := func(err error) (StepReport, error) {
		stepErr := &StepExecutionError{Stage: stage, Step: step.Name, Err: err}
		report.Err = stepErr

		telemetry.StepsTotal.WithLabelValues(telemetry.OutcomeFailed).Inc()
		logger.Error("step failed", "error", err)
		e.observer.StepFinished(ctx, report)

		return report, stepErr
	}

	// 1. Идентификатор артефакта
	id, err := uuid.NewRandom()
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrArtifactID, err))
	}
	name := artifactName(step.Name, strings.ReplaceAll(id.String(), "-", ""))

	// 2. Время старта
	report.StartedAt = e.now()

	// 3. Гейт зависимостей
	if err := e.awaitDependencies(ctx, reg, stage, step); err != nil {
		return fail(err)
	}

	if e.slots != nil {
		if err := e.slots.Acquire(ctx, 1); err != nil {
			return fail(err)
		}
		defer e.slots.Release(1)
	}

	// 4. Артефакт и заголовок
	artifact, err := e.artifacts.Create(name)
	if err != nil {
		return fail(fmt.Errorf("%w: create %s: %w", ErrArtifact, name, err))
	}
	report.LogFile = artifact.Path()

	if err := writeHeader(artifact, step.Name, stage, report.StartedAt); err != nil {
		return fail(closeWithError(artifact, fmt.Errorf("%w: write header: %w", ErrArtifact, err)))
	}

	report.CommandStartedAt = e.now()
	logger.Info("step started", "log_file", report.LogFile)
	e.observer.StepRunning(ctx, report)

	// 5. Команда
	result, err := e.commands.Run(ctx, step.Command)
	if err != nil {
		return fail(closeWithError(artifact, err))
	}

	// 6. Вывод и время завершения
	report.FinishedAt = e.now()
	report.ExitCode = result.ExitCode
	report.Ran = true

	if err := writeBody(artifact, result.Stdout, result.Stderr, report.FinishedAt); err != nil {
		return fail(closeWithError(artifact, fmt.Errorf("%w: write output: %w", ErrArtifact, err)))
	}
	if err := artifact.Close(); err != nil {
		return fail(fmt.Errorf("%w: close: %w", ErrArtifact, err))
	}

	// 7. Реестр
	reg.MarkComplete(step.Name)

	telemetry.StepsTotal.WithLabelValues(telemetry.OutcomeCompleted).Inc()
	telemetry.StepDuration.Observe(report.FinishedAt.Sub(report.CommandStartedAt).Seconds())
	if result.ExitCode != 0 {
		telemetry.StepNonZeroExitTotal.Inc()
	}

	logger.Info("step completed",
		"exit_code", result.ExitCode,
		"duration", report.FinishedAt.Sub(report.CommandStartedAt),
	)
	e.observer.StepFinished(ctx, report)

	return report, nil
}

// closeWithError закрывает артефакт после сбоя и возвращает исходную ошибку
// (вместе с ошибкой закрытия, если она была).
func closeWithError(artifact Artifact, err error) error {
	if closeErr := artifact.Close(); closeErr != nil {
		return errors.Join(err, fmt.Errorf("%w: close: %w", ErrArtifact, closeErr))
	}
	return err
}
