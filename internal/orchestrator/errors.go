package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrPlanSubmission — не удалось начать фоновое выполнение плана
	// (хранилище статусов недоступно, брокер не принял сообщение, оркестратор остановлен).
	ErrPlanSubmission = errors.New("plan submission failed")

	// ErrRunNotFound — run не найден в хранилище.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunNotFinished — run ещё выполняется, удалять его нельзя.
	ErrRunNotFinished = errors.New("run is not finished")

	// ErrRunAlreadyActive — run уже выполняется этим процессом.
	ErrRunAlreadyActive = errors.New("run already being processed")

	// ErrRunNotPending — run не в статусе PENDING (уже выполнялся).
	ErrRunNotPending = errors.New("run is not in PENDING status")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
