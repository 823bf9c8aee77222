package api

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/shaiso/Actionrun/internal/domain"
	"github.com/shaiso/Actionrun/internal/engine"
	"github.com/shaiso/Actionrun/internal/telemetry"
	"github.com/shaiso/Actionrun/internal/worker"
)

// maxPlanBytes — максимальный размер тела запроса с планом.
const maxPlanBytes = 1 << 20

// defaultListLimit — размер страницы списка runs по умолчанию.
const defaultListLimit = 100

// RunActionPlan принимает план и запускает его в фоне.
// POST /run-action-plan/
//
// Отвечает сразу, не дожидаясь выполнения. Ошибки отдаются
// в поле detail.
func (h *Handler) RunActionPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.decodePlan(w, r)
	if err != nil {
		JSON(w, http.StatusBadRequest, DetailResponse{Detail: err.Error()})
		return
	}

	run, err := h.runs.Submit(r.Context(), *plan)
	if err != nil {
		h.logger.Error("plan submission failed", "plan_name", plan.Name, "error", err)
		JSON(w, http.StatusInternalServerError, DetailResponse{Detail: err.Error()})
		return
	}

	JSON(w, http.StatusOK, RunActionPlanResponse{
		Message: StartedMessage(plan.Name),
		RunID:   run.ID,
	})
}

// SubmitPlan принимает план и возвращает созданный run.
// POST /api/v1/plans
func (h *Handler) SubmitPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.decodePlan(w, r)
	if err != nil {
		if errors.Is(err, engine.ErrParse) || errors.Is(err, engine.ErrUnknownFormat) {
			BadRequest(w, err.Error())
			return
		}
		ValidationFailed(w, err)
		return
	}

	run, err := h.runs.Submit(r.Context(), *plan)
	if HandleRunError(w, h.logger, err) {
		return
	}

	Accepted(w, RunFromDomain(run))
}

// ListPlans возвращает список runs.
// GET /api/v1/plans?status=...&limit=...
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	filter := domain.RunFilter{Limit: defaultListLimit}

	if s := r.URL.Query().Get("status"); s != "" {
		status, ok := domain.ParsePlanStatus(strings.ToUpper(s))
		if !ok {
			BadRequest(w, "invalid status")
			return
		}
		filter.Status = status
	}

	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			BadRequest(w, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	runs, err := h.runs.List(r.Context(), filter)
	if HandleRunError(w, h.logger, err) {
		return
	}

	result := make([]RunSummary, len(runs))
	for i, run := range runs {
		result[i] = RunSummaryFromDomain(run)
	}

	List(w, result, len(result))
}

// GetPlan возвращает run со статусом каждого шага.
// GET /api/v1/plans/{id}
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runs.Get(r.Context(), id)
	if HandleRunError(w, h.logger, err) {
		return
	}

	Success(w, RunFromDomain(run))
}

// ReapPlan удаляет запись завершённого run.
// DELETE /api/v1/plans/{id}
func (h *Handler) ReapPlan(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runs.Reap(r.Context(), id)
	if HandleRunError(w, h.logger, err) {
		return
	}

	Success(w, RunFromDomain(run))
}

// GetStepLog отдаёт лог-артефакт шага.
// GET /api/v1/plans/{id}/steps/{step}/log
func (h *Handler) GetStepLog(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runs.Get(r.Context(), id)
	if HandleRunError(w, h.logger, err) {
		return
	}

	rec := run.Step(r.PathValue("step"))
	if rec == nil {
		NotFound(w, "step not found")
		return
	}
	if rec.LogFile == "" || h.logs == nil {
		NotFound(w, "step log not available")
		return
	}

	body, err := h.logs.Read(rec.LogFile)
	switch {
	case err == nil:
		Text(w, body)
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, worker.ErrArtifactOutsideDir):
		NotFound(w, "step log not available")
	default:
		InternalError(w, h.logger, err)
	}
}

// decodePlan читает план из тела запроса и валидирует его.
//
// Формат выбирается по Content-Type: YAML для application/yaml
// и text/yaml, иначе JSON. Проблемы зависимостей (ссылка на
// несуществующий шаг, цикл) план не отклоняют, а только логируются.
func (h *Handler) decodePlan(w http.ResponseWriter, r *http.Request) (*domain.ActionPlan, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPlanBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", engine.ErrParse, err)
	}

	plan, err := engine.ParsePlan(data, requestFormat(r))
	if err != nil {
		return nil, err
	}

	if err := engine.Validate(plan); err != nil {
		return nil, err
	}

	if report := engine.Analyze(plan); !report.OK() {
		logger := telemetry.WithPlanName(h.logger, plan.Name)
		for _, issue := range report.Issues {
			logger.Warn("plan dependency issue",
				"kind", issue.Kind,
				"stage", issue.Stage,
				"step", issue.Step,
				"dependency", issue.Dependency,
				"message", issue.Message,
			)
		}
	}

	return plan, nil
}

// requestFormat определяет формат плана по Content-Type запроса.
func requestFormat(r *http.Request) engine.Format {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return engine.FormatJSON
	}

	switch mediaType {
	case "application/yaml", "application/x-yaml", "text/yaml":
		return engine.FormatYAML
	default:
		return engine.FormatJSON
	}
}
