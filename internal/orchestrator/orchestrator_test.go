package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Actionrun/internal/domain"
	"github.com/shaiso/Actionrun/internal/mq"
	"github.com/shaiso/Actionrun/internal/repo"
	"github.com/shaiso/Actionrun/internal/worker"
)

// --- helpers ---

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	if cfg.Worker.Artifacts == nil {
		cfg.Worker.Artifacts = worker.DirStore{Dir: t.TempDir()}
	}
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}

	o := New(cfg)
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(o.Stop)
	return o
}

func waitRun(t *testing.T, o *Orchestrator, id uuid.UUID) *domain.PlanRun {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run, err := o.Wait(ctx, id)
	require.NoError(t, err)
	return run
}

func twoStagePlan() domain.ActionPlan {
	return domain.ActionPlan{
		Name: "deploy",
		Stages: []domain.Stage{
			{Name: "build", Steps: []domain.Step{
				{Name: "compile", Command: "echo compiled"},
				{Name: "lint", Command: "echo lint >&2; exit 3"},
			}},
			{Name: "ship", Steps: []domain.Step{
				{Name: "upload", Command: "echo up", DependsOn: []string{"compile", "lint"}},
			}},
		},
	}
}

// fakeDispatcher запоминает отправленные runs.
type fakeDispatcher struct {
	mu   sync.Mutex
	ids  []uuid.UUID
	fail error
}

func (d *fakeDispatcher) PublishPlanSubmitted(_ context.Context, runID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.ids = append(d.ids, runID)
	return nil
}

// fakeEvents запоминает события.
type fakeEvents struct {
	mu       sync.Mutex
	steps    []domain.StepRecord
	finished []*domain.PlanRun
}

func (e *fakeEvents) PublishStepCompleted(_ context.Context, _ uuid.UUID, rec domain.StepRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.steps = append(e.steps, rec)
	return nil
}

func (e *fakeEvents) PublishPlanFinished(_ context.Context, run *domain.PlanRun) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished = append(e.finished, run)
	return nil
}

// failingStore не даёт создать run.
type failingStore struct {
	*MemoryStore
}

func (failingStore) Create(context.Context, *domain.PlanRun) error {
	return errors.New("store unavailable")
}

// --- Submit / Wait ---

func TestSubmit_LocalRunSucceeds(t *testing.T) {
	events := &fakeEvents{}
	o := newTestOrchestrator(t, Config{Events: events})

	run, err := o.Submit(context.Background(), twoStagePlan())
	require.NoError(t, err)
	require.Equal(t, domain.PlanStatusPending, run.Status)
	require.Equal(t, "deploy", run.PlanName)
	require.Len(t, run.Steps, 3)

	final := waitRun(t, o, run.ID)
	require.Equal(t, domain.PlanStatusSucceeded, final.Status)
	require.Empty(t, final.FailedStep)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.FinishedAt)

	for _, rec := range final.Steps {
		require.Equal(t, domain.StepStatusCompleted, rec.Status, rec.Name)
		require.NotNil(t, rec.ExitCode, rec.Name)
		require.FileExists(t, rec.LogFile)
	}

	// Ненулевой код выхода записан, но run успешен
	lint := final.Step("lint")
	require.Equal(t, 3, *lint.ExitCode)

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.steps, 3)
	require.Len(t, events.finished, 1)
	require.Equal(t, domain.PlanStatusSucceeded, events.finished[0].Status)
}

func TestSubmit_ReturnsBeforePlanFinishes(t *testing.T) {
	o := newTestOrchestrator(t, Config{})

	plan := domain.ActionPlan{
		Name: "slow",
		Stages: []domain.Stage{{Name: "s", Steps: []domain.Step{
			{Name: "nap", Command: "sleep 1"},
		}}},
	}

	start := time.Now()
	run, err := o.Submit(context.Background(), plan)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 500*time.Millisecond)

	current, err := o.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.False(t, current.IsFinished())

	_, err = o.Reap(context.Background(), run.ID)
	require.ErrorIs(t, err, ErrRunNotFinished)

	final := waitRun(t, o, run.ID)
	require.Equal(t, domain.PlanStatusSucceeded, final.Status)
}

func TestSubmit_RunnerFailureRecorded(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-dir")
	o := newTestOrchestrator(t, Config{
		Worker: worker.Config{Artifacts: worker.DirStore{Dir: missing}},
	})

	plan := domain.ActionPlan{
		Name: "broken",
		Stages: []domain.Stage{
			{Name: "first", Steps: []domain.Step{{Name: "a", Command: "true"}}},
			{Name: "second", Steps: []domain.Step{{Name: "b", Command: "true"}}},
		},
	}

	run, err := o.Submit(context.Background(), plan)
	require.NoError(t, err)

	final := waitRun(t, o, run.ID)
	require.Equal(t, domain.PlanStatusFailed, final.Status)
	require.Equal(t, "a", final.FailedStep)
	require.Contains(t, final.Error, "stage first")

	a := final.Step("a")
	require.Equal(t, domain.StepStatusFailed, a.Status)
	require.NotEmpty(t, a.Error)
	require.Nil(t, a.ExitCode)

	// Следующая стадия не запускалась
	require.Equal(t, domain.StepStatusPending, final.Step("b").Status)
}

func TestSubmit_StoreFailure(t *testing.T) {
	o := newTestOrchestrator(t, Config{Store: failingStore{NewMemoryStore()}})

	_, err := o.Submit(context.Background(), twoStagePlan())
	require.ErrorIs(t, err, ErrPlanSubmission)
}

func TestSubmit_AfterStop(t *testing.T) {
	o := New(Config{
		Worker: worker.Config{Artifacts: worker.DirStore{Dir: t.TempDir()}},
		Logger: quietLogger(),
	})
	o.Stop()

	_, err := o.Submit(context.Background(), twoStagePlan())
	require.ErrorIs(t, err, ErrPlanSubmission)
	require.ErrorIs(t, err, ErrOrchestratorStopped)
}

func TestStop_CancelsBlockedRun(t *testing.T) {
	o := New(Config{
		Worker: worker.Config{Artifacts: worker.DirStore{Dir: t.TempDir()}},
		Logger: quietLogger(),
	})
	require.NoError(t, o.Start(context.Background()))

	plan := domain.ActionPlan{
		Name: "stuck",
		Stages: []domain.Stage{{Name: "s", Steps: []domain.Step{
			{Name: "waiter", Command: "true", DependsOn: []string{"ghost"}},
		}}},
	}
	run, err := o.Submit(context.Background(), plan)
	require.NoError(t, err)

	// Шаг ждёт несуществующую зависимость до остановки процесса
	time.Sleep(100 * time.Millisecond)
	current, err := o.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PlanStatusRunning, current.Status)
	require.Equal(t, domain.StepStatusPending, current.Step("waiter").Status)

	o.Stop()

	final, err := o.store.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PlanStatusFailed, final.Status)
	require.Equal(t, "waiter", final.FailedStep)
}

// --- Dispatch / Execute ---

func TestSubmit_DispatchMode(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	store := NewMemoryStore()
	api := newTestOrchestrator(t, Config{Store: store, Dispatcher: dispatcher})
	workerOrch := newTestOrchestrator(t, Config{Store: store})

	run, err := api.Submit(context.Background(), twoStagePlan())
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{run.ID}, dispatcher.ids)
	require.Equal(t, 0, api.ActiveRunsCount())

	stored, err := api.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PlanStatusPending, stored.Status)

	final, err := workerOrch.Execute(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PlanStatusSucceeded, final.Status)

	// API-процесс видит результат через хранилище
	seen := waitRun(t, api, run.ID)
	require.Equal(t, domain.PlanStatusSucceeded, seen.Status)

	_, err = workerOrch.Execute(context.Background(), run.ID)
	require.ErrorIs(t, err, ErrRunNotPending)
}

func TestSubmit_DispatchFailure(t *testing.T) {
	store := NewMemoryStore()
	o := newTestOrchestrator(t, Config{
		Store:      store,
		Dispatcher: &fakeDispatcher{fail: errors.New("broker down")},
	})

	_, err := o.Submit(context.Background(), twoStagePlan())
	require.ErrorIs(t, err, ErrPlanSubmission)

	runs, err := store.List(context.Background(), domain.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, domain.PlanStatusFailed, runs[0].Status)
	require.Contains(t, runs[0].Error, "broker down")
}

func TestExecute_UnknownRun(t *testing.T) {
	o := newTestOrchestrator(t, Config{})

	_, err := o.Execute(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestHandlePlanSubmitted(t *testing.T) {
	store := NewMemoryStore()
	o := newTestOrchestrator(t, Config{Store: store})

	pending := domain.NewPlanRun(twoStagePlan())
	require.NoError(t, store.Create(context.Background(), pending))

	deliver := func(payload any) error {
		msg := mq.NewMessage(mq.MessageTypePlanSubmitted, payload)
		return o.handlePlanSubmitted(context.Background(), &mq.Delivery{Message: *msg})
	}

	require.NoError(t, deliver(mq.PlanSubmittedPayload{RunID: pending.ID}))
	run, err := o.Get(context.Background(), pending.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PlanStatusSucceeded, run.Status)

	// Повторная доставка подтверждается
	require.NoError(t, deliver(mq.PlanSubmittedPayload{RunID: pending.ID}))

	err = deliver(mq.PlanSubmittedPayload{RunID: uuid.New()})
	require.ErrorIs(t, err, mq.ErrPermanent)

	err = deliver("not an object")
	require.ErrorIs(t, err, mq.ErrPermanent)
}

// --- Reap / Sweep / List ---

func TestReap(t *testing.T) {
	o := newTestOrchestrator(t, Config{})

	run, err := o.Submit(context.Background(), twoStagePlan())
	require.NoError(t, err)
	waitRun(t, o, run.ID)

	reaped, err := o.Reap(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PlanStatusSucceeded, reaped.Status)

	_, err = o.Get(context.Background(), run.ID)
	require.ErrorIs(t, err, ErrRunNotFound)

	_, err = o.Reap(context.Background(), run.ID)
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestReap_PendingRun(t *testing.T) {
	store := NewMemoryStore()
	o := newTestOrchestrator(t, Config{Store: store})

	pending := domain.NewPlanRun(twoStagePlan())
	require.NoError(t, store.Create(context.Background(), pending))

	_, err := o.Reap(context.Background(), pending.ID)
	require.ErrorIs(t, err, ErrRunNotFinished)
}

func TestSweep(t *testing.T) {
	var mu sync.Mutex
	now := time.Now()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	store := NewMemoryStore()
	o := newTestOrchestrator(t, Config{
		Store:         store,
		Retention:     time.Hour,
		SweepInterval: time.Hour,
		Clock:         clock,
	})

	run, err := o.Submit(context.Background(), twoStagePlan())
	require.NoError(t, err)
	waitRun(t, o, run.ID)

	pending := domain.NewPlanRun(twoStagePlan())
	require.NoError(t, store.Create(context.Background(), pending))

	removed, err := o.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, removed)

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()

	removed, err = o.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	// Незавершённые runs не удаляются
	require.Equal(t, 1, store.Len())
	_, err = o.Get(context.Background(), pending.ID)
	require.NoError(t, err)
}

func TestSweep_DisabledWithoutRetention(t *testing.T) {
	o := newTestOrchestrator(t, Config{})

	removed, err := o.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestMemoryStore_List(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	var ids []uuid.UUID
	for i := range 3 {
		run := domain.NewPlanRun(domain.ActionPlan{Name: "p"})
		run.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if i == 1 {
			run.MarkSucceeded()
		}
		require.NoError(t, store.Create(ctx, run))
		ids = append(ids, run.ID)
	}

	all, err := store.List(ctx, domain.RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, ids[2], all[0].ID)
	require.Equal(t, ids[0], all[2].ID)

	done, err := store.List(ctx, domain.RunFilter{Status: domain.PlanStatusSucceeded})
	require.NoError(t, err)
	require.Len(t, done, 1)
	require.Equal(t, ids[1], done[0].ID)

	limited, err := store.List(ctx, domain.RunFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)

	err = store.Create(ctx, all[0])
	require.ErrorIs(t, err, repo.ErrAlreadyExists)

	require.ErrorIs(t, store.Delete(ctx, uuid.New()), repo.ErrNotFound)
	require.ErrorIs(t, store.Update(ctx, domain.NewPlanRun(domain.ActionPlan{})), repo.ErrNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	run := domain.NewPlanRun(twoStagePlan())
	require.NoError(t, store.Create(ctx, run))

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	got.Steps[0].Status = domain.StepStatusFailed

	again, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StepStatusPending, again.Steps[0].Status)
}
