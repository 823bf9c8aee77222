package worker

import "errors"

// Ошибки раннера шагов.
var (
	// ErrArtifactID — не удалось сгенерировать идентификатор лог-артефакта.
	ErrArtifactID = errors.New("artifact id allocation failed")

	// ErrArtifact — не удалось создать или записать лог-артефакт.
	ErrArtifact = errors.New("log artifact failed")

	// ErrCommandLaunch — команду не удалось запустить (shell не найден, процесс убит и т.п.).
	// Ненулевой код выхода ошибкой не считается.
	ErrCommandLaunch = errors.New("command launch failed")

	// ErrArtifactOutsideDir — путь артефакта указывает за пределы каталога логов.
	ErrArtifactOutsideDir = errors.New("artifact path outside log dir")
)

// StepExecutionError — сбой механики раннера на конкретном шаге.
//
// Возникает, только если раннер не смог выполнить шаг: артефакт не создан
// или не записан, команда не запустилась, контекст отменён.
// Шаг с такой ошибкой не попадает в реестр завершённых, зависимые шаги
// остаются заблокированными.
type StepExecutionError struct {
	Stage string // имя стадии
	Step  string // имя шага
	Err   error  // причина
}

// Error реализует интерфейс error.
func (e *StepExecutionError) Error() string {
	return "failed step " + e.Step + ": " + e.Err.Error()
}

// Unwrap возвращает причину.
func (e *StepExecutionError) Unwrap() error {
	return e.Err
}

// FailedStep извлекает имя упавшего шага из цепочки ошибок.
func FailedStep(err error) (string, bool) {
	var stepErr *StepExecutionError
	if errors.As(err, &stepErr) {
		return stepErr.Step, true
	}
	return "", false
}
