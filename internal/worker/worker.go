package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/shaiso/Actionrun/internal/telemetry"
)

// Executor выполняет планы действий.
//
// Executor не хранит состояния между runs: реестр завершённых шагов
// создаётся заново на каждый RunPlan. Один Executor можно использовать
// для нескольких параллельных runs.
type Executor struct {
	commands  CommandRunner
	artifacts ArtifactStore
	observer  Observer

	// slots ограничивает число одновременно выполняемых команд (nil — без ограничения).
	slots *semaphore.Weighted

	now    func() time.Time
	logger *slog.Logger
}

// Config — конфигурация Executor.
type Config struct {
	// Commands — раннер команд (опционально; если nil — ShellRunner{}).
	Commands CommandRunner

	// Artifacts — хранилище лог-артефактов (обязательно).
	Artifacts ArtifactStore

	// Observer — получает события о шагах (опционально).
	Observer Observer

	// MaxParallel — максимум одновременно выполняемых команд (0 — без ограничения).
	// Слот занимается после прохождения гейта, ожидание зависимостей слот не держит.
	MaxParallel int

	// Clock — источник времени (опционально, для тестов).
	Clock func() time.Time

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Executor.
func New(cfg Config) *Executor {
	commands := cfg.Commands
	if commands == nil {
		commands = ShellRunner{}
	}

	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var slots *semaphore.Weighted
	if cfg.MaxParallel > 0 {
		slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}

	return &Executor{
		commands:  commands,
		artifacts: cfg.Artifacts,
		observer:  observer,
		slots:     slots,
		now:       clock,
		logger:    logger,
	}
}

// log возвращает логгер из контекста (с run_id) или логгер Executor.
func (e *Executor) log(ctx context.Context) *slog.Logger {
	return telemetry.LoggerFrom(ctx, e.logger)
}

// Observer получает события жизненного цикла шагов.
//
// Методы вызываются из горутин шагов конкурентно.
type Observer interface {
	// StepRunning вызывается после прохождения гейта, перед запуском команды.
	StepRunning(ctx context.Context, report StepReport)

	// StepFinished вызывается один раз на шаг, дошедший до финального состояния.
	// Шаг, навсегда заблокированный гейтом, этого события не получает.
	StepFinished(ctx context.Context, report StepReport)
}

type nopObserver struct{}

func (nopObserver) StepRunning(context.Context, StepReport)  {}
func (nopObserver) StepFinished(context.Context, StepReport) {}

// StepReport — результат выполнения шага.
type StepReport struct {
	// Stage — имя стадии.
	Stage string `json:"stage"`

	// Step — имя шага.
	Step string `json:"step"`

	// LogFile — путь к лог-артефакту (пусто, если артефакт не создан).
	LogFile string `json:"log_file,omitempty"`

	// ExitCode — код выхода команды. Не влияет на гейтинг.
	ExitCode int `json:"exit_code"`

	// Ran — команда была запущена и завершилась.
	Ran bool `json:"ran"`

	// StartedAt — время старта раннера (до гейта). Пишется в артефакт как Start.
	StartedAt time.Time `json:"started_at"`

	// CommandStartedAt — время запуска команды (после гейта).
	CommandStartedAt time.Time `json:"command_started_at,omitempty"`

	// FinishedAt — время завершения команды. Пишется в артефакт как End.
	FinishedAt time.Time `json:"finished_at,omitempty"`

	// Err — сбой раннера (nil для завершённого шага).
	Err error `json:"-"`
}

// Failed возвращает true, если шаг завершился сбоем раннера.
func (r StepReport) Failed() bool {
	return r.Err != nil
}
