package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Actionrun/internal/domain"
	"github.com/shaiso/Actionrun/internal/mq"
	"github.com/shaiso/Actionrun/internal/worker"
)

// Default configuration values.
const (
	defaultSweepInterval   = time.Minute
	defaultPollInterval    = 500 * time.Millisecond
	defaultConsumerWorkers = 4
)

// Dispatcher отправляет run на выполнение отдельному воркеру.
// Реализация — mq.Publisher.
type Dispatcher interface {
	PublishPlanSubmitted(ctx context.Context, runID uuid.UUID) error
}

// Events получает события жизненного цикла runs.
// Реализация — mq.Publisher.
type Events interface {
	PublishStepCompleted(ctx context.Context, runID uuid.UUID, rec domain.StepRecord) error
	PublishPlanFinished(ctx context.Context, run *domain.PlanRun) error
}

var (
	_ Dispatcher = (*mq.Publisher)(nil)
	_ Events     = (*mq.Publisher)(nil)
)

// Orchestrator принимает планы и ведёт записи о их выполнении.
//
// Два режима:
//   - Локальный (Dispatcher == nil): Submit запускает план в фоновой
//     горутине этого процесса.
//   - Dispatch: Submit публикует plan.submitted, план выполняет процесс,
//     у которого задан Conn (actionrun-worker), через Execute.
//
// В обоих режимах вызывающий получает ID run сразу и дальше
// опрашивает статус через Get / Wait.
type Orchestrator struct {
	store      Store
	executor   *worker.Executor
	dispatcher Dispatcher
	events     Events

	// MQ consumer (только для воркера)
	conn            *mq.Connection
	consumer        *mq.Consumer
	consumerWorkers int

	// Active runs — runs, выполняемые этим процессом (runID → state)
	activeRuns map[uuid.UUID]*runState
	mu         sync.RWMutex

	// Retention
	retention     time.Duration
	sweepInterval time.Duration
	pollInterval  time.Duration

	now    func() time.Time
	logger *slog.Logger

	// runCtx — контекст фоновых runs; отменяется только в Stop.
	runCtx     context.Context
	cancelRuns context.CancelFunc
	runs       sync.WaitGroup

	// Lifecycle
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Store — хранилище статусов (default: MemoryStore).
	Store Store

	// Worker — конфигурация исполнителя. Observer заменяется оркестратором.
	Worker worker.Config

	// Dispatcher — если задан, Submit отправляет планы воркерам.
	Dispatcher Dispatcher

	// Events — получатель событий шагов и runs (опционально).
	Events Events

	// Conn — если задан, Start потребляет plans.submitted.
	Conn *mq.Connection

	// ConsumerWorkers — сколько планов воркер выполняет одновременно (default: 4).
	ConsumerWorkers int

	// Retention — сколько хранить завершённые runs (0 — до явного Reap).
	Retention time.Duration

	// SweepInterval — период очистки по Retention (default: 1m).
	SweepInterval time.Duration

	// PollInterval — период опроса хранилища в Wait для чужих runs (default: 500ms).
	PollInterval time.Duration

	// Clock — источник времени (опционально, для тестов).
	Clock func() time.Time

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	consumerWorkers := cfg.ConsumerWorkers
	if consumerWorkers <= 0 {
		consumerWorkers = defaultConsumerWorkers
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	runCtx, cancelRuns := context.WithCancel(context.Background())

	o := &Orchestrator{
		store:           store,
		dispatcher:      cfg.Dispatcher,
		events:          cfg.Events,
		conn:            cfg.Conn,
		consumerWorkers: consumerWorkers,
		activeRuns:      make(map[uuid.UUID]*runState),
		retention:       cfg.Retention,
		sweepInterval:   sweepInterval,
		pollInterval:    pollInterval,
		now:             clock,
		logger:          logger,
		runCtx:          runCtx,
		cancelRuns:      cancelRuns,
	}

	workerCfg := cfg.Worker
	workerCfg.Observer = o
	if workerCfg.Logger == nil {
		workerCfg.Logger = logger
	}
	o.executor = worker.New(workerCfg)

	return o
}

// Start запускает фоновые циклы.
//
// Запускает:
//   - Consumer для plans.submitted (если задан Conn)
//   - Очистку по Retention (если Retention > 0)
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.IsStopped() {
		return ErrOrchestratorStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"dispatch", o.dispatcher != nil,
		"consume", o.conn != nil,
		"retention", o.retention,
	)

	if o.conn != nil {
		o.consumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:   mq.QueuePlansSubmitted,
			Handler: o.handlePlanSubmitted,
			Workers: o.consumerWorkers,
		})

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("plan consumer error", "error", err)
			}
		}()
	}

	if o.retention > 0 {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.sweepLoop(ctx)
		}()
	}

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator.
//
// Новые планы больше не принимаются. Выполняющиеся runs получают
// отмену контекста: их команды убиваются, runs завершаются с FAILED.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	if o.consumer != nil {
		o.consumer.Stop()
	}
	o.cancelRuns()

	o.wg.Wait()
	o.runs.Wait()

	o.logger.Info("orchestrator stopped")
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// sweepLoop периодически удаляет устаревшие runs.
func (o *Orchestrator) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(o.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.Sweep(ctx); err != nil && ctx.Err() == nil {
				o.logger.Error("retention sweep failed", "error", err)
			}
		}
	}
}

// track добавляет run в активные.
func (o *Orchestrator) track(run *domain.PlanRun) (*runState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.activeRuns[run.ID]; exists {
		return nil, ErrRunAlreadyActive
	}

	state := newRunState(run)
	o.activeRuns[run.ID] = state
	return state, nil
}

// untrack удаляет run из активных.
func (o *Orchestrator) untrack(runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeRuns, runID)
}

// activeRun возвращает активный runState.
func (o *Orchestrator) activeRun(runID uuid.UUID) (*runState, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	state, ok := o.activeRuns[runID]
	return state, ok
}

// ActiveRunsCount возвращает количество runs, выполняемых этим процессом.
func (o *Orchestrator) ActiveRunsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeRuns)
}

// Executor возвращает исполнитель планов.
func (o *Orchestrator) Executor() *worker.Executor {
	return o.executor
}
