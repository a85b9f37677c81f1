package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/verger-io/verger/internal/domain"
	"github.com/verger-io/verger/internal/repo"
	"github.com/verger-io/verger/internal/telemetry"
)

// FailStale помечает зависший task FAILED: исполнитель перестал
// подавать признаки жизни. Вход sweeper'а.
func (o *Orchestrator) FailStale(ctx context.Context, taskID uuid.UUID) error {
	task, err := o.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load task: %w", err)
	}
	if task.Status.IsTerminal() || task.Status == domain.TaskStatusPending {
		return nil
	}

	telemetry.StaleTasksTotal.Inc()
	detail := map[string]any{"error": "no liveness signal from executor"}
	return o.finishTask(ctx, task, domain.TaskStatusFailed, domain.AuditTaskStale,
		func(t *domain.Task) { t.MarkFailed("stale: no liveness signal from executor") },
		false, detail)
}

// RetryTask ставит FAILED task на повторную попытку: PENDING, без
// исполнителя, retry_count+1, новый correlation id. Затем сразу
// пытается назначить. Вход sweeper'а.
//
// Task не в FAILED, с исчерпанными retry или из завершённого workflow —
// no-op: отменённый workflow ничего не воскрешает.
func (o *Orchestrator) RetryTask(ctx context.Context, taskID uuid.UUID) error {
	task, err := o.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load task: %w", err)
	}
	if task.Status != domain.TaskStatusFailed || !task.CanRetry() {
		return nil
	}

	wf, err := o.workflows.GetByID(ctx, task.WorkflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}
	if wf.Status.IsTerminal() {
		return nil
	}

	expected := task.Status
	task.ResetForRetry()
	task.CorrelationID = uuid.New().String()
	if err := o.tasks.UpdateIf(ctx, task, expected); err != nil {
		if errors.Is(err, repo.ErrStaleUpdate) {
			return nil
		}
		return fmt.Errorf("requeue task: %w", err)
	}
	telemetry.TaskRetriesTotal.Inc()
	telemetry.TaskTransitionsTotal.WithLabelValues(string(domain.TaskStatusPending)).Inc()

	o.audit.TaskTransition(ctx, task, domain.AuditTaskRetried, domain.ActorSystem,
		expected, domain.TaskStatusPending,
		map[string]any{"retry_count": task.RetryCount, "max_retries": task.MaxRetries})

	o.logger.Info("task requeued for retry",
		"task_id", task.ID,
		"retry_count", task.RetryCount,
	)

	return o.assignAndDispatch(ctx, task, o.strategy)
}
