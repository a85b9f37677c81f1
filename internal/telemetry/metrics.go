package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики оркестрации. Регистрируются в default registry;
// /metrics отдаётся promhttp в main каждого бинаря.
var (
	// AssignmentsTotal — попытки назначения по стратегии и исходу.
	// outcome: assigned | failed | no_candidates
	AssignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verger_assignments_total",
		Help: "Assignment attempts by strategy and outcome",
	}, []string{"strategy", "outcome"})

	// TaskTransitionsTotal — применённые переходы статусов tasks.
	TaskTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verger_task_transitions_total",
		Help: "Applied task status transitions",
	}, []string{"to"})

	// IllegalTransitionsTotal — отклонённые недопустимые переходы.
	IllegalTransitionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verger_illegal_transitions_total",
		Help: "Rejected illegal status transitions",
	})

	// DispatchRetriesTotal — повторы отправки в execution substrate.
	DispatchRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verger_dispatch_retries_total",
		Help: "Retried substrate dispatch attempts",
	})

	// SweepsTotal — выполненные проходы sweeper'а.
	SweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verger_sweeps_total",
		Help: "Completed sweeper passes",
	})

	// StaleTasksTotal — tasks, признанные застрявшими.
	StaleTasksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verger_stale_tasks_total",
		Help: "Tasks failed as stale by the sweeper",
	})

	// TaskRetriesTotal — tasks, повторно поставленные в очередь.
	TaskRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verger_task_retries_total",
		Help: "Failed tasks re-queued for retry",
	})

	// TaskDurationSeconds — длительность выполнения tasks по типу.
	TaskDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "verger_task_duration_seconds",
		Help:    "Task execution duration by task type",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"type"})
)
