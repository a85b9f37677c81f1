package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/verger-io/verger/internal/domain"
	"github.com/verger-io/verger/internal/repo"
	"github.com/verger-io/verger/internal/telemetry"
)

// CreateWorkflow создаёт workflow с пакетом tasks в одном действии.
// Либо создаётся всё, либо ничего.
func (o *Orchestrator) CreateWorkflow(ctx context.Context, name, entityRef string, priority int, types []domain.TaskType) (*domain.Workflow, error) {
	if entityRef == "" {
		return nil, ErrEmptyEntityRef
	}
	if len(types) == 0 {
		return nil, ErrNoTaskTypes
	}
	for _, t := range types {
		if !domain.KnownTaskType(t) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTaskType, t)
		}
	}
	if name == "" {
		name = fmt.Sprintf("intake %s", entityRef)
	}

	wf := domain.NewWorkflow(name, entityRef, priority)
	wf.TaskCount = len(types)

	tasks := make([]*domain.Task, 0, len(types))
	for i, t := range types {
		task := domain.NewTask(wf.ID, t, i, priority)
		task.CorrelationID = uuid.New().String()
		tasks = append(tasks, task)
	}

	if err := o.workflows.CreateWithTasks(ctx, wf, tasks); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}

	o.audit.WorkflowTransition(ctx, wf.ID, domain.AuditWorkflowCreated,
		domain.ActorSystem, "", domain.WorkflowStatusCreated,
		map[string]any{"entity_ref": entityRef, "task_count": len(types)})

	o.logger.Info("workflow created",
		"workflow_id", wf.ID,
		"entity_ref", entityRef,
		"task_count", len(types),
	)
	return wf, nil
}

// Orchestrate — intake-вход: выводит набор tasks из артефактов загрузки,
// создаёт workflow и сразу запускает его.
func (o *Orchestrator) Orchestrate(ctx context.Context, entityRef string, artifacts []domain.Artifact, priority int) (*domain.Workflow, error) {
	types := domain.DeriveTaskTypes(artifacts)
	if len(types) == 0 {
		return nil, ErrNoTaskTypes
	}

	wf, err := o.CreateWorkflow(ctx, "", entityRef, priority, types)
	if err != nil {
		return nil, err
	}

	if err := o.StartWorkflow(ctx, wf.ID, o.strategy); err != nil {
		return wf, err
	}
	return o.workflows.GetByID(ctx, wf.ID)
}

// StartWorkflow переводит workflow CREATED→INTAKE→PROCESSING, назначая
// и отправляя tasks в порядке создания.
//
// Отказ назначения отдельного task не прерывает запуск: task остаётся
// PENDING, повторную попытку сделает polling fallback.
func (o *Orchestrator) StartWorkflow(ctx context.Context, workflowID uuid.UUID, strategy domain.AssignmentStrategy) error {
	wf, err := o.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}

	switch wf.Status {
	case domain.WorkflowStatusCreated:
		prev := wf.Status
		wf.MarkIntake()
		if err := o.workflows.UpdateIf(ctx, wf, prev); err != nil {
			if errors.Is(err, repo.ErrStaleUpdate) {
				// Конкурирующий запуск уже перевёл workflow дальше
				return nil
			}
			return fmt.Errorf("mark intake: %w", err)
		}
		o.audit.WorkflowTransition(ctx, wf.ID, domain.AuditWorkflowStarted,
			domain.ActorSystem, prev, wf.Status, nil)
	case domain.WorkflowStatusIntake:
		// Повторный запуск после частичного отказа — продолжаем
	default:
		return fmt.Errorf("%w: %s in status %s", ErrWorkflowNotStartable, wf.ID, wf.Status)
	}

	if strategy == "" {
		strategy = o.strategy
	}

	tasks, err := o.tasks.ListByWorkflow(ctx, wf.ID)
	if err != nil {
		return fmt.Errorf("list workflow tasks: %w", err)
	}

	for i := range tasks {
		task := &tasks[i]
		if task.Status != domain.TaskStatusPending {
			continue
		}
		if err := o.assignAndDispatch(ctx, task, strategy); err != nil {
			o.logger.Error("task assignment failed on start",
				"workflow_id", wf.ID,
				"task_id", task.ID,
				"error", err,
			)
		}
	}

	prev := wf.Status
	wf.MarkProcessing()
	if err := o.workflows.UpdateIf(ctx, wf, prev); err != nil {
		if errors.Is(err, repo.ErrStaleUpdate) {
			return nil
		}
		return fmt.Errorf("mark processing: %w", err)
	}

	o.logger.Info("workflow processing", "workflow_id", wf.ID, "strategy", strategy)
	return nil
}

// CancelWorkflow отменяет workflow и его незавершённые tasks.
// Идемпотентна: повторная отмена — no-op.
//
// IN_PROGRESS tasks доработают до результата; их исход на статус
// отменённого workflow уже не влияет.
func (o *Orchestrator) CancelWorkflow(ctx context.Context, workflowID uuid.UUID, actor string) error {
	wf, err := o.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}

	if wf.Status == domain.WorkflowStatusCancelled {
		return nil
	}
	if wf.Status.IsTerminal() {
		return fmt.Errorf("%w: %s in status %s", ErrWorkflowFinished, wf.ID, wf.Status)
	}

	prev := wf.Status
	wf.MarkCancelled()
	if err := o.workflows.UpdateIf(ctx, wf, prev); err != nil {
		if errors.Is(err, repo.ErrStaleUpdate) {
			current, gerr := o.workflows.GetByID(ctx, workflowID)
			if gerr == nil && current.Status == domain.WorkflowStatusCancelled {
				return nil
			}
			return fmt.Errorf("%w: %s", ErrWorkflowFinished, wf.ID)
		}
		return fmt.Errorf("cancel workflow: %w", err)
	}

	o.audit.WorkflowTransition(ctx, wf.ID, domain.AuditWorkflowCancelled,
		actor, prev, domain.WorkflowStatusCancelled, nil)

	tasks, err := o.tasks.ListByWorkflow(ctx, wf.ID)
	if err != nil {
		return fmt.Errorf("list workflow tasks: %w", err)
	}

	for i := range tasks {
		task := &tasks[i]
		if !task.Status.CanTransitionTo(domain.TaskStatusCancelled) {
			continue
		}
		expected := task.Status
		task.MarkCancelled()
		if err := o.tasks.UpdateIf(ctx, task, expected); err != nil {
			if errors.Is(err, repo.ErrStaleUpdate) {
				continue
			}
			o.logger.Error("task cancel failed", "task_id", task.ID, "error", err)
			continue
		}
		telemetry.TaskTransitionsTotal.WithLabelValues(string(domain.TaskStatusCancelled)).Inc()

		// ASSIGNED task держал единицу ёмкости исполнителя
		if expected == domain.TaskStatusAssigned && task.WorkerID != nil {
			if err := o.registry.ReleaseCapacity(ctx, *task.WorkerID); err != nil {
				o.logger.Error("capacity release on cancel failed",
					"worker_id", *task.WorkerID, "error", err)
			}
		}

		o.audit.TaskTransition(ctx, task, domain.AuditTaskCancelled, actor,
			expected, domain.TaskStatusCancelled, nil)
	}

	o.logger.Info("workflow cancelled", "workflow_id", wf.ID, "actor", actor)
	return nil
}

// assignAndDispatch назначает исполнителя и отправляет task в substrate.
//
// Отсутствие кандидатов не считается ошибкой: task остаётся PENDING.
// Отказ отправки оставляет task в ASSIGNED — его подберёт sweeper.
func (o *Orchestrator) assignAndDispatch(ctx context.Context, task *domain.Task, strategy domain.AssignmentStrategy) error {
	result, err := o.engine.Assign(ctx, task, strategy)
	if err != nil {
		return fmt.Errorf("assign task %s: %w", task.ID, err)
	}
	if !result.Success {
		o.audit.Record(ctx, domain.NewAuditEntry(domain.AuditAssignmentFailed,
			domain.ActorSystem,
			map[string]any{"strategy": string(result.Strategy), "errors": result.Errors},
		).ForTask(task.WorkflowID, task.ID))
		o.logger.Warn("no assignment for task",
			"task_id", task.ID,
			"strategy", result.Strategy,
		)
		return nil
	}

	expected := task.Status
	task.MarkAssigned(result.WorkerID, result.Score, result.Reason)
	if err := o.tasks.UpdateIf(ctx, task, expected); err != nil {
		// Проигранная гонка: резерв вернуть, task оставить как есть
		if relErr := o.registry.ReleaseCapacity(ctx, result.WorkerID); relErr != nil {
			o.logger.Error("capacity release after lost race failed",
				"worker_id", result.WorkerID, "error", relErr)
		}
		if errors.Is(err, repo.ErrStaleUpdate) {
			return nil
		}
		return fmt.Errorf("persist assignment: %w", err)
	}
	telemetry.TaskTransitionsTotal.WithLabelValues(string(domain.TaskStatusAssigned)).Inc()

	o.audit.Assignment(ctx, task, domain.ActorSystem, result.WorkerID, result.Strategy,
		map[string]any{"score": result.Score, "reason": result.Reason})

	return o.dispatch(ctx, task)
}

// dispatch отправляет ASSIGNED task в substrate с ограниченным backoff.
func (o *Orchestrator) dispatch(ctx context.Context, task *domain.Task) error {
	var lastErr error
	backoff := o.dispatchBackoff

	for attempt := 1; attempt <= o.dispatchAttempts; attempt++ {
		if lastErr = o.substrate.Enqueue(ctx, task); lastErr == nil {
			o.logger.Debug("task dispatched",
				"task_id", task.ID,
				"worker_id", task.WorkerID,
				"attempt", attempt,
			)
			return nil
		}

		telemetry.DispatchRetriesTotal.Inc()
		o.logger.Warn("dispatch attempt failed",
			"task_id", task.ID,
			"attempt", attempt,
			"error", lastErr,
		)

		if attempt == o.dispatchAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	// Task остаётся ASSIGNED; застрявшее назначение закроет sweeper
	o.logger.Error("dispatch exhausted, task left assigned",
		"task_id", task.ID,
		"attempts", o.dispatchAttempts,
		"error", lastErr,
	)
	return fmt.Errorf("dispatch task %s: %w", task.ID, lastErr)
}

// recomputeWorkflow пересчитывает статус workflow из статусов tasks.
// Идемпотентна; FAILED task с оставшимися retry считается ещё живым.
func (o *Orchestrator) recomputeWorkflow(ctx context.Context, workflowID uuid.UUID) error {
	wf, err := o.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}
	if wf.Status.IsTerminal() {
		return nil
	}

	tasks, err := o.tasks.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("list workflow tasks: %w", err)
	}

	statuses := make([]domain.TaskStatus, 0, len(tasks))
	completed := 0
	for i := range tasks {
		s := tasks[i].Status
		if s == domain.TaskStatusFailed && tasks[i].CanRetry() {
			// Retry ещё впереди — для агрегации task не терминален
			s = domain.TaskStatusPending
		}
		if s.IsSuccess() {
			completed++
		}
		statuses = append(statuses, s)
	}

	if completed != wf.CompletedTaskCount {
		if err := o.workflows.SetCompletedCount(ctx, workflowID, completed); err != nil {
			o.logger.Error("update completed count failed", "workflow_id", workflowID, "error", err)
		}
	}

	derived := domain.DeriveWorkflowStatus(statuses)
	if derived == wf.Status || !derived.IsTerminal() {
		return nil
	}
	if !wf.Status.CanTransitionTo(derived) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, wf.Status, derived)
	}

	prev := wf.Status
	var errMsg string
	if derived == domain.WorkflowStatusFailed {
		errMsg = "all tasks failed"
	}
	wf.MarkTerminal(derived, errMsg)
	wf.CompletedTaskCount = completed
	if err := o.workflows.UpdateIf(ctx, wf, prev); err != nil {
		if errors.Is(err, repo.ErrStaleUpdate) {
			return nil
		}
		return fmt.Errorf("finalize workflow: %w", err)
	}

	o.audit.WorkflowTransition(ctx, wf.ID, domain.AuditWorkflowFinished,
		domain.ActorSystem, prev, derived,
		map[string]any{"completed": completed, "total": len(tasks)})

	o.logger.Info("workflow finished",
		"workflow_id", wf.ID,
		"status", derived,
		"completed", completed,
		"total", len(tasks),
	)
	return nil
}
