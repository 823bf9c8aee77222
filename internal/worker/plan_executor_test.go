package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shaiso/Actionrun/internal/domain"
)

// --- helpers ---

// recordingObserver запоминает события шагов.
type recordingObserver struct {
	mu       sync.Mutex
	running  []StepReport
	finished map[string]StepReport
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{finished: make(map[string]StepReport)}
}

func (o *recordingObserver) StepRunning(_ context.Context, r StepReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = append(o.running, r)
}

func (o *recordingObserver) StepFinished(_ context.Context, r StepReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished[r.Step] = r
}

func (o *recordingObserver) report(step string) (StepReport, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.finished[step]
	return r, ok
}

// faultyStore отдаёт для выбранных шагов артефакт, запись в который падает.
type faultyStore struct {
	DirStore
	failSteps map[string]bool
}

func (s faultyStore) Create(name string) (Artifact, error) {
	artifact, err := s.DirStore.Create(name)
	if err != nil {
		return nil, err
	}
	for step := range s.failSteps {
		if strings.HasPrefix(name, step+"_") {
			return &brokenArtifact{Artifact: artifact}, nil
		}
	}
	return artifact, nil
}

type brokenArtifact struct {
	Artifact
}

var errDiskFull = errors.New("simulated disk full")

func (a *brokenArtifact) Write([]byte) (int, error) {
	return 0, errDiskFull
}

// failingCommands симулирует сбой запуска процесса.
type failingCommands struct{}

func (failingCommands) Run(context.Context, string) (*CommandResult, error) {
	return nil, ErrCommandLaunch
}

func newTestExecutor(t *testing.T, store ArtifactStore, observer Observer) *Executor {
	t.Helper()
	return New(Config{Artifacts: store, Observer: observer})
}

// artifacts возвращает файлы артефактов шага в каталоге.
func artifacts(t *testing.T, dir, step string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, step+"_*.log"))
	require.NoError(t, err)
	return matches
}

func readArtifact(t *testing.T, dir, step string) string {
	t.Helper()
	files := artifacts(t, dir, step)
	require.Len(t, files, 1, "expected exactly one artifact for step %s", step)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	return string(data)
}

// --- Scenarios ---

func TestRunPlan_IndependentSteps(t *testing.T) {
	dir := t.TempDir()
	exec := newTestExecutor(t, DirStore{Dir: dir}, nil)

	plan := domain.ActionPlan{
		Name: "scenario-a",
		Stages: []domain.Stage{{
			Name: "only",
			Steps: []domain.Step{
				{Name: "X", Command: "echo hello"},
				{Name: "Y", Command: "echo world"},
			},
		}},
	}

	result, err := exec.RunPlan(context.Background(), plan)
	require.NoError(t, err)

	x := readArtifact(t, dir, "X")
	y := readArtifact(t, dir, "Y")

	require.Contains(t, x, "hello")
	require.Contains(t, y, "world")
	require.NotContains(t, x, "ERROR:")
	require.NotContains(t, y, "ERROR:")
	require.True(t, strings.HasPrefix(x, "Step: X\nStage: only\nStart: "))

	require.ElementsMatch(t, []string{"X", "Y"}, result.Completed)
	require.Len(t, result.Steps, 2)
	require.Equal(t, 1, result.StagesRun)
}

func TestRunPlan_DependencyWithinStage(t *testing.T) {
	dir := t.TempDir()
	observer := newRecordingObserver()
	exec := newTestExecutor(t, DirStore{Dir: dir}, observer)

	// X объявлен первым, но зависит от Y; X читает готовый артефакт Y.
	plan := domain.ActionPlan{
		Name: "scenario-b",
		Stages: []domain.Stage{{
			Name: "only",
			Steps: []domain.Step{
				{Name: "X", Command: "cat " + filepath.Join(dir, "Y_*.log") + "; echo go", DependsOn: []string{"Y"}},
				{Name: "Y", Command: "sleep 0.2; echo ready"},
			},
		}},
	}

	_, err := exec.RunPlan(context.Background(), plan)
	require.NoError(t, err)

	x, ok := observer.report("X")
	require.True(t, ok)
	y, ok := observer.report("Y")
	require.True(t, ok)

	require.False(t, x.CommandStartedAt.Before(y.FinishedAt),
		"X command started at %v, before Y finished at %v", x.CommandStartedAt, y.FinishedAt)

	xLog := readArtifact(t, dir, "X")
	require.Contains(t, xLog, "ready")
	require.Equal(t, 2, strings.Count(xLog, "End: "), "Y artifact must be complete when X runs")
	require.Less(t, strings.Index(xLog, "ready"), strings.Index(xLog, "go\n"))
}

func TestRunPlan_ArtifactFaultStopsLaterStages(t *testing.T) {
	dir := t.TempDir()
	store := faultyStore{DirStore: DirStore{Dir: dir}, failSteps: map[string]bool{"A": true}}
	exec := newTestExecutor(t, store, nil)

	plan := domain.ActionPlan{
		Name: "scenario-c",
		Stages: []domain.Stage{
			{Name: "one", Steps: []domain.Step{
				{Name: "A", Command: "echo a"},
				{Name: "A2", Command: "sleep 0.1; echo sibling"},
			}},
			{Name: "two", Steps: []domain.Step{
				{Name: "B", Command: "echo b"},
				{Name: "C", Command: "echo c"},
			}},
		},
	}

	result, err := exec.RunPlan(context.Background(), plan)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrArtifact)
	require.ErrorIs(t, err, errDiskFull)

	step, ok := FailedStep(err)
	require.True(t, ok)
	require.Equal(t, "A", step)
	require.Contains(t, err.Error(), "failed step A")

	// соседний шаг дошёл до конца
	require.Contains(t, readArtifact(t, dir, "A2"), "sibling")

	require.Empty(t, artifacts(t, dir, "B"))
	require.Empty(t, artifacts(t, dir, "C"))

	require.Equal(t, []string{"A2"}, result.Completed)
	require.Equal(t, 1, result.StagesRun)
}

func TestRunStage_DanglingDependencyBlocksForever(t *testing.T) {
	dir := t.TempDir()
	exec := newTestExecutor(t, DirStore{Dir: dir}, nil)
	reg := NewCompletionRegistry()

	stage := domain.Stage{Name: "only", Steps: []domain.Step{
		{Name: "Z", Command: "echo z", DependsOn: []string{"ghost"}},
		{Name: "W", Command: "echo w"},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := exec.RunStage(ctx, reg, stage)
		done <- err
	}()

	require.Eventually(t, func() bool { return reg.IsComplete("W") }, 2*time.Second, 10*time.Millisecond)

	// окно наблюдения: Z так и не стартует, стадия не завершается
	select {
	case <-done:
		t.Fatal("stage finished although Z depends on a step that never runs")
	case <-time.After(300 * time.Millisecond):
	}

	require.Empty(t, artifacts(t, dir, "Z"))
	require.False(t, reg.IsComplete("ghost"))
	require.False(t, reg.IsComplete("Z"))

	// единственный выход — отмена процесса
	cancel()
	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	step, _ := FailedStep(err)
	require.Equal(t, "Z", step)
}

func TestRunPlan_DanglingDependencyHaltsLaterStages(t *testing.T) {
	dir := t.TempDir()
	exec := newTestExecutor(t, DirStore{Dir: dir}, nil)

	plan := domain.ActionPlan{
		Name: "scenario-d",
		Stages: []domain.Stage{
			{Name: "one", Steps: []domain.Step{{Name: "Z", Command: "echo z", DependsOn: []string{"ghost"}}}},
			{Name: "two", Steps: []domain.Step{{Name: "after", Command: "echo after"}}},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = exec.RunPlan(ctx, plan)
	}()

	time.Sleep(300 * time.Millisecond)
	require.Empty(t, artifacts(t, dir, "Z"))
	require.Empty(t, artifacts(t, dir, "after"))

	cancel()
	<-done
	require.Empty(t, artifacts(t, dir, "after"))
}

// --- Properties ---

func TestRunPlan_NonZeroExitStillUnblocksDependents(t *testing.T) {
	dir := t.TempDir()
	observer := newRecordingObserver()
	exec := newTestExecutor(t, DirStore{Dir: dir}, observer)

	plan := domain.ActionPlan{
		Name: "nonzero",
		Stages: []domain.Stage{{Name: "only", Steps: []domain.Step{
			{Name: "bad", Command: "echo oops >&2; exit 7"},
			{Name: "next", Command: "echo next", DependsOn: []string{"bad"}},
		}}},
	}

	result, err := exec.RunPlan(context.Background(), plan)
	require.NoError(t, err)
	require.Equal(t, []string{"bad", "next"}, result.Completed)

	bad, _ := observer.report("bad")
	require.Equal(t, 7, bad.ExitCode)
	require.True(t, bad.Ran)

	badLog := readArtifact(t, dir, "bad")
	require.Contains(t, badLog, "\nERROR:\noops\n")
}

func TestRunPlan_StagesRunInOrder(t *testing.T) {
	dir := t.TempDir()
	observer := newRecordingObserver()
	exec := newTestExecutor(t, DirStore{Dir: dir}, observer)

	plan := domain.ActionPlan{
		Name: "ordered",
		Stages: []domain.Stage{
			{Name: "one", Steps: []domain.Step{
				{Name: "slow", Command: "sleep 0.2"},
				{Name: "fast", Command: "true"},
			}},
			{Name: "two", Steps: []domain.Step{{Name: "late", Command: "true"}}},
		},
	}

	_, err := exec.RunPlan(context.Background(), plan)
	require.NoError(t, err)

	slow, _ := observer.report("slow")
	late, _ := observer.report("late")
	require.False(t, late.StartedAt.Before(slow.FinishedAt),
		"stage two started at %v before stage one finished at %v", late.StartedAt, slow.FinishedAt)
}

func TestRunPlan_DependencyOnEarlierStage(t *testing.T) {
	dir := t.TempDir()
	exec := newTestExecutor(t, DirStore{Dir: dir}, nil)

	plan := domain.ActionPlan{
		Name: "cross-stage",
		Stages: []domain.Stage{
			{Name: "one", Steps: []domain.Step{{Name: "A", Command: "echo a"}}},
			{Name: "two", Steps: []domain.Step{{Name: "B", Command: "echo b", DependsOn: []string{"A"}}}},
		},
	}

	result, err := exec.RunPlan(context.Background(), plan)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, result.Completed)
}

func TestRunStep_StdoutRoundTrip(t *testing.T) {
	dir := t.TempDir()
	exec := newTestExecutor(t, DirStore{Dir: dir}, nil)
	reg := NewCompletionRegistry()

	want := "line one\n  indented\ttab\nno newline at end"
	report, err := exec.RunStep(context.Background(), reg, "s", domain.Step{
		Name:    "echo",
		Command: "printf '%s' 'line one\n  indented\ttab\nno newline at end'",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(report.LogFile)
	require.NoError(t, err)

	body := string(data)
	headerEnd := strings.Index(body, "\n\n") + 2
	footer := strings.LastIndex(body, "\nEnd: ")
	require.Equal(t, want, body[headerEnd:footer])
	require.NotContains(t, body, "ERROR:")
}

func TestRunStep_LaunchFailureNotRegistered(t *testing.T) {
	dir := t.TempDir()
	observer := newRecordingObserver()
	exec := New(Config{Artifacts: DirStore{Dir: dir}, Commands: failingCommands{}, Observer: observer})
	reg := NewCompletionRegistry()

	report, err := exec.RunStep(context.Background(), reg, "s", domain.Step{Name: "A", Command: "echo a"})
	require.ErrorIs(t, err, ErrCommandLaunch)

	var stepErr *StepExecutionError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, "A", stepErr.Step)
	require.Equal(t, "s", stepErr.Stage)

	require.False(t, reg.IsComplete("A"))
	require.True(t, report.Failed())
	require.False(t, report.Ran)

	// артефакт остаётся усечённым: только заголовок
	log := readArtifact(t, dir, "A")
	require.Contains(t, log, "Step: A\n")
	require.NotContains(t, log, "End: ")

	finished, ok := observer.report("A")
	require.True(t, ok)
	require.True(t, finished.Failed())
}

func TestRunStep_MissingLogDir(t *testing.T) {
	exec := newTestExecutor(t, DirStore{Dir: filepath.Join(t.TempDir(), "missing")}, nil)
	reg := NewCompletionRegistry()

	_, err := exec.RunStep(context.Background(), reg, "s", domain.Step{Name: "A", Command: "echo a"})
	require.ErrorIs(t, err, ErrArtifact)
	require.False(t, reg.IsComplete("A"))
}

func TestRunStep_RepeatedNamesGetDistinctArtifacts(t *testing.T) {
	dir := t.TempDir()
	exec := newTestExecutor(t, DirStore{Dir: dir}, nil)

	for range 3 {
		_, err := exec.RunStep(context.Background(), NewCompletionRegistry(), "s", domain.Step{Name: "same", Command: "true"})
		require.NoError(t, err)
	}

	require.Len(t, artifacts(t, dir, "same"), 3)
}

func TestRunStage_StepsOverlap(t *testing.T) {
	dir := t.TempDir()
	exec := newTestExecutor(t, DirStore{Dir: dir}, nil)

	steps := make([]domain.Step, 4)
	for i := range steps {
		steps[i] = domain.Step{Name: string(rune('a' + i)), Command: "sleep 0.3"}
	}

	start := time.Now()
	reports, err := exec.RunStage(context.Background(), NewCompletionRegistry(), domain.Stage{Name: "par", Steps: steps})
	require.NoError(t, err)
	require.Len(t, reports, 4)

	// четыре команды по 300ms параллельно — заметно меньше 1.2s
	require.Less(t, time.Since(start), 1100*time.Millisecond)
}

func TestRunStage_MaxParallel(t *testing.T) {
	dir := t.TempDir()
	exec := New(Config{Artifacts: DirStore{Dir: dir}, MaxParallel: 1})

	stage := domain.Stage{Name: "serial", Steps: []domain.Step{
		{Name: "a", Command: "sleep 0.15"},
		{Name: "b", Command: "sleep 0.15"},
	}}

	start := time.Now()
	_, err := exec.RunStage(context.Background(), NewCompletionRegistry(), stage)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}
