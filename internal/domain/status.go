package domain

// PlanStatus — статус выполнения плана.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
type PlanStatus string

const (
	// PlanStatusPending — план принят, но ещё не начал выполняться.
	PlanStatusPending PlanStatus = "PENDING"

	// PlanStatusRunning — план в процессе выполнения.
	PlanStatusRunning PlanStatus = "RUNNING"

	// PlanStatusSucceeded — все стадии отработали.
	// Не означает, что все команды завершились с кодом 0.
	PlanStatusSucceeded PlanStatus = "SUCCEEDED"

	// PlanStatusFailed — выполнение остановлено ошибкой шага (StepExecutionError).
	PlanStatusFailed PlanStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный (план завершён).
func (s PlanStatus) IsTerminal() bool {
	switch s {
	case PlanStatusSucceeded, PlanStatusFailed:
		return true
	default:
		return false
	}
}

// ParsePlanStatus парсит строку в PlanStatus.
// Возвращает false для неизвестного значения.
func ParsePlanStatus(s string) (PlanStatus, bool) {
	switch PlanStatus(s) {
	case PlanStatusPending, PlanStatusRunning, PlanStatusSucceeded, PlanStatusFailed:
		return PlanStatus(s), true
	default:
		return "", false
	}
}

// StepStatus — статус шага.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	                  ↘ FAILED
//
// COMPLETED выставляется независимо от кода выхода команды.
// FAILED — только при сбое самого раннера (артефакт, запуск процесса).
type StepStatus string

const (
	// StepStatusPending — шаг ждёт своих зависимостей.
	StepStatusPending StepStatus = "PENDING"

	// StepStatusRunning — команда шага выполняется.
	StepStatusRunning StepStatus = "RUNNING"

	// StepStatusCompleted — команда завершилась, имя шага в реестре завершённых.
	StepStatusCompleted StepStatus = "COMPLETED"

	// StepStatusFailed — раннер не смог выполнить шаг.
	StepStatusFailed StepStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed
}
