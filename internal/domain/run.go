package domain

import (
	"time"

	"github.com/google/uuid"
)

// PlanRun — запись о выполнении одного плана.
//
// PlanRun создаётся при отправке плана и хранится, пока
// вызывающий явно её не удалит (reap) или не истечёт срок хранения.
// Каждый run имеет свой реестр завершённых шагов — runs не делят состояние.
type PlanRun struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// PlanName — имя плана (копия Plan.Name для фильтрации и логов).
	PlanName string `json:"plan_name"`

	// Plan — отправленный план.
	Plan ActionPlan `json:"plan"`

	// Status — текущий статус выполнения.
	Status PlanStatus `json:"status"`

	// Steps — состояние каждого шага плана, в порядке объявления.
	Steps []StepRecord `json:"steps"`

	// FailedStep — имя шага, на котором выполнение остановилось.
	FailedStep string `json:"failed_step,omitempty"`

	// Error — текст ошибки, если run завершился с FAILED.
	Error string `json:"error,omitempty"`

	// CreatedAt — время приёма плана.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt — время начала выполнения первой стадии.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения (успешного или с ошибкой).
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StepRecord — состояние одного шага внутри run.
type StepRecord struct {
	// Stage — имя стадии шага.
	Stage string `json:"stage"`

	// Name — имя шага.
	Name string `json:"name"`

	// Status — статус шага.
	Status StepStatus `json:"status"`

	// LogFile — путь к лог-артефакту шага.
	LogFile string `json:"log_file,omitempty"`

	// ExitCode — код выхода команды. Nil, если команда не запускалась.
	// Не влияет на гейтинг зависимостей.
	ExitCode *int `json:"exit_code,omitempty"`

	// StartedAt — время старта раннера (до ожидания зависимостей).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения команды.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — ошибка раннера (только для FAILED).
	Error string `json:"error,omitempty"`
}

// NewPlanRun создаёт run в статусе PENDING со всеми шагами в PENDING.
func NewPlanRun(plan ActionPlan) *PlanRun {
	steps := make([]StepRecord, 0, plan.StepCount())
	for _, stage := range plan.Stages {
		for _, step := range stage.Steps {
			steps = append(steps, StepRecord{
				Stage:  stage.Name,
				Name:   step.Name,
				Status: StepStatusPending,
			})
		}
	}

	return &PlanRun{
		ID:        uuid.New(),
		PlanName:  plan.Name,
		Plan:      plan,
		Status:    PlanStatusPending,
		Steps:     steps,
		CreatedAt: time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *PlanRun) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *PlanRun) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *PlanRun) MarkRunning() {
	now := time.Now()
	r.Status = PlanStatusRunning
	r.StartedAt = &now
}

// MarkSucceeded переводит run в статус SUCCEEDED.
func (r *PlanRun) MarkSucceeded() {
	now := time.Now()
	r.Status = PlanStatusSucceeded
	r.FinishedAt = &now
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *PlanRun) MarkFailed(step, err string) {
	now := time.Now()
	r.Status = PlanStatusFailed
	r.FinishedAt = &now
	r.FailedStep = step
	r.Error = err
}

// Step возвращает запись шага по имени или nil.
func (r *PlanRun) Step(name string) *StepRecord {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i]
		}
	}
	return nil
}

// Clone возвращает копию run, безопасную для чтения вне хранилища.
func (r *PlanRun) Clone() *PlanRun {
	c := *r
	c.Steps = make([]StepRecord, len(r.Steps))
	copy(c.Steps, r.Steps)
	return &c
}

// RunFilter — фильтр для выборки runs.
type RunFilter struct {
	// Status — только runs в этом статусе (пусто — любые).
	Status PlanStatus

	// FinishedBefore — только runs, завершённые раньше этого момента (zero — без ограничения).
	FinishedBefore time.Time

	// Limit — максимум записей (0 — без ограничения).
	Limit int
}

// Match проверяет, подходит ли run под фильтр (без учёта Limit).
func (f RunFilter) Match(r *PlanRun) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.FinishedBefore.IsZero() {
		if r.FinishedAt == nil || !r.FinishedAt.Before(f.FinishedBefore) {
			return false
		}
	}
	return true
}
