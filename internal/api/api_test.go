package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Actionrun/internal/domain"
	"github.com/shaiso/Actionrun/internal/orchestrator"
	"github.com/shaiso/Actionrun/internal/worker"
)

// --- helpers ---

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServer struct {
	mux  *http.ServeMux
	orch *orchestrator.Orchestrator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logs := worker.DirStore{Dir: t.TempDir()}
	orch := orchestrator.New(orchestrator.Config{
		Worker:       worker.Config{Artifacts: logs},
		PollInterval: 10 * time.Millisecond,
		Logger:       quietLogger(),
	})
	require.NoError(t, orch.Start(context.Background()))
	t.Cleanup(orch.Stop)

	mux := http.NewServeMux()
	NewHandler(Config{Runs: orch, Logs: logs, Logger: quietLogger()}).RegisterRoutes(mux)

	return &testServer{mux: mux, orch: orch}
}

func (s *testServer) do(t *testing.T, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) wait(t *testing.T, id uuid.UUID) *domain.PlanRun {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run, err := s.orch.Wait(ctx, id)
	require.NoError(t, err)
	return run
}

const greetPlan = `{
  "action_plan_name": "greet",
  "stages": [
    {"name": "first", "steps": [
      {"name": "hello", "command": "echo hello"},
      {"name": "warn", "command": "echo oops >&2; exit 2"}
    ]},
    {"name": "second", "steps": [
      {"name": "bye", "command": "echo bye", "depends_on": ["hello"]}
    ]}
  ]
}`

func decodeRun(t *testing.T, rec *httptest.ResponseRecorder) RunResponse {
	t.Helper()
	var resp struct {
		Data RunResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Data.PlanRun)
	return resp.Data
}

// --- POST /run-action-plan/ ---

func TestRunActionPlan(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/run-action-plan/", "application/json", greetPlan)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RunActionPlanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Action plan 'greet' started.", resp.Message)
	require.NotEqual(t, uuid.Nil, resp.RunID)

	run := s.wait(t, resp.RunID)
	require.Equal(t, domain.PlanStatusSucceeded, run.Status)
}

func TestRunActionPlan_BadBody(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"action_plan_name":`},
		{"no stages", `{"action_plan_name":"x","stages":[]}`},
		{"empty command", `{"action_plan_name":"x","stages":[{"name":"s","steps":[{"name":"a","command":""}]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/run-action-plan/", "application/json", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var resp DetailResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.NotEmpty(t, resp.Detail)
		})
	}
}

func TestRunActionPlan_SubmissionFailure(t *testing.T) {
	s := newTestServer(t)
	s.orch.Stop()

	rec := s.do(t, http.MethodPost, "/run-action-plan/", "application/json", greetPlan)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp DetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Detail, "plan submission failed")
}

// --- /api/v1/plans ---

func TestSubmitPlan_YAML(t *testing.T) {
	s := newTestServer(t)

	body := `
action_plan_name: yaml-plan
stages:
  - name: only
    steps:
      - name: one
        command: echo one
`
	rec := s.do(t, http.MethodPost, "/api/v1/plans", "application/yaml", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	run := decodeRun(t, rec)
	require.Equal(t, "yaml-plan", run.PlanName)
	require.Len(t, run.Steps, 1)

	final := s.wait(t, run.ID)
	require.Equal(t, domain.PlanStatusSucceeded, final.Status)
}

func TestSubmitPlan_ValidationField(t *testing.T) {
	s := newTestServer(t)

	body := `{"action_plan_name":"x","stages":[{"name":"s","steps":[
		{"name":"a","command":"true"},
		{"name":"a","command":"true"}]}]}`

	rec := s.do(t, http.MethodPost, "/api/v1/plans", "application/json", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, ErrCodeValidation, resp.Error.Code)
	require.Equal(t, "name", resp.Error.Field)
}

func TestGetPlan(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/plans", "application/json", greetPlan)
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decodeRun(t, rec).ID
	s.wait(t, id)

	rec = s.do(t, http.MethodGet, "/api/v1/plans/"+id.String(), "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	run := decodeRun(t, rec)
	require.Equal(t, domain.PlanStatusSucceeded, run.Status)
	for _, step := range run.Steps {
		require.Equal(t, domain.StepStatusCompleted, step.Status, step.Name)
	}
	require.Equal(t, 2, *run.Step("warn").ExitCode)

	rec = s.do(t, http.MethodGet, "/api/v1/plans/"+uuid.NewString(), "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/plans/not-a-uuid", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPlans(t *testing.T) {
	s := newTestServer(t)

	for range 3 {
		rec := s.do(t, http.MethodPost, "/api/v1/plans", "application/json", greetPlan)
		require.Equal(t, http.StatusAccepted, rec.Code)
		s.wait(t, decodeRun(t, rec).ID)
	}

	rec := s.do(t, http.MethodGet, "/api/v1/plans?status=succeeded&limit=2", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data  []RunSummary `json:"data"`
		Total int          `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	require.Equal(t, 2, resp.Total)
	require.Equal(t, "greet", resp.Data[0].PlanName)
	require.Equal(t, 3, resp.Data[0].Steps)

	rec = s.do(t, http.MethodGet, "/api/v1/plans?status=bogus", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/plans?limit=-1", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReapPlan(t *testing.T) {
	s := newTestServer(t)

	slow := `{"action_plan_name":"slow","stages":[{"name":"s","steps":[{"name":"nap","command":"sleep 1"}]}]}`
	rec := s.do(t, http.MethodPost, "/api/v1/plans", "application/json", slow)
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decodeRun(t, rec).ID

	rec = s.do(t, http.MethodDelete, "/api/v1/plans/"+id.String(), "", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	s.wait(t, id)

	rec = s.do(t, http.MethodDelete, "/api/v1/plans/"+id.String(), "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, domain.PlanStatusSucceeded, decodeRun(t, rec).Status)

	rec = s.do(t, http.MethodDelete, "/api/v1/plans/"+id.String(), "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStepLog(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/plans", "application/json", greetPlan)
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decodeRun(t, rec).ID
	s.wait(t, id)

	rec = s.do(t, http.MethodGet, "/api/v1/plans/"+id.String()+"/steps/warn/log", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	require.Contains(t, body, "Step: warn\nStage: first\n")
	require.Contains(t, body, "\nERROR:\noops\n")
	require.Contains(t, body, "\nEnd: ")

	rec = s.do(t, http.MethodGet, "/api/v1/plans/"+id.String()+"/steps/missing/log", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

// --- errors and middleware ---

func TestHandleRunError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   ErrorCode
	}{
		{orchestrator.ErrRunNotFound, http.StatusNotFound, ErrCodeNotFound},
		{orchestrator.ErrRunNotFinished, http.StatusUnprocessableEntity, ErrCodeInvalidState},
		{orchestrator.ErrPlanSubmission, http.StatusInternalServerError, ErrCodeSubmission},
		{errors.New("boom"), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			rec := httptest.NewRecorder()
			require.True(t, HandleRunError(rec, quietLogger(), tt.err))
			require.Equal(t, tt.status, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Equal(t, tt.code, resp.Error.Code)
		})
	}

	require.False(t, HandleRunError(httptest.NewRecorder(), quietLogger(), nil))
}

func TestRecovery(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	h := Chain(Recovery(logger), Logging(logger))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, logs.String(), "panic recovered")
}

func TestResponseWriterCapturesStatus(t *testing.T) {
	rw := wrapResponseWriter(httptest.NewRecorder())
	require.Same(t, rw, wrapResponseWriter(rw))

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK)
	require.Equal(t, http.StatusTeapot, rw.status)
}
