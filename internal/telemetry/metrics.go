package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Исходы шага для метки outcome.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

var (
	// StepsTotal — количество завершённых шагов по исходу (completed/failed).
	StepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actionrun_steps_total",
		Help: "Steps that reached a terminal state, by outcome",
	}, []string{"outcome"})

	// StepNonZeroExitTotal — шаги, чья команда вернула ненулевой код.
	// Такие шаги всё равно считаются завершёнными.
	StepNonZeroExitTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "actionrun_step_nonzero_exit_total",
		Help: "Completed steps whose command exited with a non-zero code",
	})

	// StepDuration — время выполнения команды шага.
	StepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "actionrun_step_duration_seconds",
		Help:    "Duration of step commands",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	})

	// GateWait — сколько шаг ждал свои зависимости.
	GateWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "actionrun_gate_wait_seconds",
		Help:    "Time steps spent waiting on their dependencies",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	// PlansTotal — количество завершённых планов по статусу.
	PlansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actionrun_plans_total",
		Help: "Plan runs that reached a terminal status",
	}, []string{"status"})

	// PlansActive — планы в процессе выполнения.
	PlansActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "actionrun_plans_active",
		Help: "Plan runs currently executing",
	})

	// HTTPRequestsTotal — HTTP-запросы к API.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actionrun_api_http_requests_total",
		Help: "Total HTTP requests handled by actionrun-api",
	}, []string{"method", "status"})
)
