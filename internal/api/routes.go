package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Metrics(),
		Logging(h.logger),
	)

	// Исходный маршрут отправки плана
	mux.Handle("POST /run-action-plan/", chain(http.HandlerFunc(h.RunActionPlan)))

	// Plans
	mux.Handle("POST /api/v1/plans", chain(http.HandlerFunc(h.SubmitPlan)))
	mux.Handle("GET /api/v1/plans", chain(http.HandlerFunc(h.ListPlans)))
	mux.Handle("GET /api/v1/plans/{id}", chain(http.HandlerFunc(h.GetPlan)))
	mux.Handle("DELETE /api/v1/plans/{id}", chain(http.HandlerFunc(h.ReapPlan)))
	mux.Handle("GET /api/v1/plans/{id}/steps/{step}/log", chain(http.HandlerFunc(h.GetStepLog)))
}
