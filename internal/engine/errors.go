package engine

import "errors"

// Ошибки валидации ActionPlan.
var (
	// ErrEmptyPlanName — план без имени.
	ErrEmptyPlanName = errors.New("action plan has empty name")

	// ErrEmptyStages — план не содержит стадий.
	ErrEmptyStages = errors.New("action plan has no stages")

	// ErrEmptyStageName — стадия без имени.
	ErrEmptyStageName = errors.New("stage has empty name")

	// ErrEmptyStepName — шаг без имени.
	ErrEmptyStepName = errors.New("step has empty name")

	// ErrDuplicateStepName — несколько шагов с одинаковым именем.
	ErrDuplicateStepName = errors.New("duplicate step name")

	// ErrEmptyCommand — шаг без команды.
	ErrEmptyCommand = errors.New("step has empty command")

	// ErrSelfDependency — шаг зависит от самого себя.
	ErrSelfDependency = errors.New("step depends on itself")
)

// Ошибки разбора плана.
var (
	// ErrUnknownFormat — неизвестный формат файла плана.
	ErrUnknownFormat = errors.New("unknown plan format")

	// ErrParse — план не удалось разобрать.
	ErrParse = errors.New("plan parse failed")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	Stage   string // имя стадии, где произошла ошибка
	Step    string // имя шага, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Step != "" {
		return "step " + e.Step + ": " + e.Message
	}
	if e.Stage != "" {
		return "stage " + e.Stage + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(stage, step, field, message string, err error) *ValidationError {
	return &ValidationError{
		Stage:   stage,
		Step:    step,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
