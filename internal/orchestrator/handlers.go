package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/verger-io/verger/internal/domain"
	"github.com/verger-io/verger/internal/mq"
	"github.com/verger-io/verger/internal/repo"
	"github.com/verger-io/verger/internal/telemetry"
)

// OnTaskStarted — substrate подтвердил начало выполнения task.
// Повторное подтверждение — no-op.
func (o *Orchestrator) OnTaskStarted(ctx context.Context, correlationID string) error {
	task, err := o.loadByCorrelation(ctx, correlationID)
	if err != nil || task == nil {
		return err
	}

	if task.Status == domain.TaskStatusInProgress || task.Status.IsTerminal() {
		return nil
	}
	if task.Status != domain.TaskStatusAssigned {
		return fmt.Errorf("%w: started in status %s", domain.ErrIllegalTransition, task.Status)
	}

	expected := task.Status
	task.MarkInProgress()
	if err := o.tasks.UpdateIf(ctx, task, expected); err != nil {
		if errors.Is(err, repo.ErrStaleUpdate) {
			return nil
		}
		return fmt.Errorf("mark in progress: %w", err)
	}
	telemetry.TaskTransitionsTotal.WithLabelValues(string(domain.TaskStatusInProgress)).Inc()

	o.audit.TaskTransition(ctx, task, domain.AuditTaskStarted, o.taskActor(task),
		expected, domain.TaskStatusInProgress, nil)
	return nil
}

// OnTaskHeartbeat обновляет отметку живости выполняющегося task.
func (o *Orchestrator) OnTaskHeartbeat(ctx context.Context, correlationID string) error {
	task, err := o.loadByCorrelation(ctx, correlationID)
	if err != nil || task == nil {
		return err
	}
	if task.Status != domain.TaskStatusInProgress {
		return nil
	}
	return o.tasks.Heartbeat(ctx, task.ID, time.Now())
}

// OnTaskCompleted — исполнитель завершил task успешно.
// reviewRequired переводит task в REVIEW_REQUIRED вместо COMPLETED.
//
// Идемпотентна: повторный результат по терминальному task — no-op,
// без второй записи в аудит.
func (o *Orchestrator) OnTaskCompleted(ctx context.Context, correlationID string, result map[string]any, reviewRequired bool) error {
	task, err := o.loadByCorrelation(ctx, correlationID)
	if err != nil || task == nil {
		return err
	}

	to := domain.TaskStatusCompleted
	action := domain.AuditTaskCompleted
	mark := func(t *domain.Task) { t.MarkCompleted(result) }
	if reviewRequired {
		to = domain.TaskStatusReviewRequired
		mark = func(t *domain.Task) { t.MarkReviewRequired(result) }
	}

	return o.finishTask(ctx, task, to, action, mark, true, nil)
}

// OnTaskFailed — исполнитель (или sweeper) сообщил об отказе task.
// Решение о повторной постановке принимает sweeper, не этот handler.
func (o *Orchestrator) OnTaskFailed(ctx context.Context, correlationID, errMsg string) error {
	task, err := o.loadByCorrelation(ctx, correlationID)
	if err != nil || task == nil {
		return err
	}

	action := domain.AuditTaskFailed
	detail := map[string]any{"error": errMsg}
	return o.finishTask(ctx, task, domain.TaskStatusFailed, action,
		func(t *domain.Task) { t.MarkFailed(errMsg) }, false, detail)
}

// finishTask выполняет единственный терминальный переход task.
//
// Условный UPDATE гарантирует, что из двух гонящихся исходов побеждает
// ровно один; проигравший завершается без побочных эффектов.
func (o *Orchestrator) finishTask(ctx context.Context, task *domain.Task, to domain.TaskStatus, action domain.AuditAction, mark func(*domain.Task), success bool, detail map[string]any) error {
	if task.Status.IsTerminal() {
		o.logger.Debug("duplicate task result ignored",
			"task_id", task.ID,
			"status", task.Status,
			"result", to,
		)
		return nil
	}

	// Результат может прийти раньше подтверждения старта
	if task.Status == domain.TaskStatusAssigned && to != domain.TaskStatusFailed {
		if err := o.promote(ctx, task); err != nil {
			return err
		}
		if task.Status.IsTerminal() {
			return nil
		}
	}

	expected := task.Status
	if !expected.CanTransitionTo(to) {
		telemetry.IllegalTransitionsTotal.Inc()
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, expected, to)
	}

	mark(task)
	if err := o.tasks.UpdateIf(ctx, task, expected); err != nil {
		if errors.Is(err, repo.ErrStaleUpdate) {
			// Гонка двух исходов: этот проиграл
			o.logger.Debug("lost terminal transition race", "task_id", task.ID)
			return nil
		}
		return fmt.Errorf("finish task: %w", err)
	}
	telemetry.TaskTransitionsTotal.WithLabelValues(string(to)).Inc()
	if d := task.Duration(); d > 0 {
		telemetry.TaskDurationSeconds.WithLabelValues(string(task.Type)).Observe(d.Seconds())
	}

	o.audit.TaskTransition(ctx, task, action, o.taskActor(task), expected, to, detail)

	if task.WorkerID != nil {
		workerID := *task.WorkerID
		if err := o.registry.ReleaseCapacity(ctx, workerID); err != nil {
			o.logger.Error("capacity release failed", "worker_id", workerID, "error", err)
		}
		// Task, не дошедший до исполнения, статистику не искажает
		if task.StartedAt != nil {
			durationMs := task.Duration().Milliseconds()
			if err := o.registry.RecordCompletion(ctx, workerID, durationMs, success); err != nil {
				o.logger.Error("record completion failed", "worker_id", workerID, "error", err)
			}
		}
	}

	return o.recomputeWorkflow(ctx, task.WorkflowID)
}

// promote переводит ASSIGNED task в IN_PROGRESS перед терминальным
// переходом: результат пришёл без события started.
func (o *Orchestrator) promote(ctx context.Context, task *domain.Task) error {
	expected := task.Status
	task.MarkInProgress()
	if err := o.tasks.UpdateIf(ctx, task, expected); err != nil {
		if errors.Is(err, repo.ErrStaleUpdate) {
			current, gerr := o.tasks.GetByID(ctx, task.ID)
			if gerr != nil {
				return fmt.Errorf("reload task: %w", gerr)
			}
			*task = *current
			return nil
		}
		return fmt.Errorf("promote task: %w", err)
	}
	telemetry.TaskTransitionsTotal.WithLabelValues(string(domain.TaskStatusInProgress)).Inc()
	return nil
}

// loadByCorrelation находит task по correlation id.
// Неизвестный id — осиротевшее событие, логируется и игнорируется.
func (o *Orchestrator) loadByCorrelation(ctx context.Context, correlationID string) (*domain.Task, error) {
	task, err := o.tasks.GetByCorrelationID(ctx, correlationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			o.logger.Warn("orphan substrate event", "correlation_id", correlationID)
			return nil, nil
		}
		return nil, fmt.Errorf("load task by correlation: %w", err)
	}
	return task, nil
}

func (o *Orchestrator) taskActor(task *domain.Task) string {
	if task.WorkerID != nil {
		return task.WorkerID.String()
	}
	return domain.ActorSystem
}

// handleMessage разбирает сообщение очереди результатов.
// Непригодные события подтверждаются, чтобы не зациклить requeue.
func (o *Orchestrator) handleMessage(ctx context.Context, msg *mq.Message) error {
	switch msg.Type {
	case mq.MessageTypeTaskStarted:
		payload, err := mq.ParsePayload[mq.TaskStartedPayload](msg)
		if err != nil {
			o.logger.Error("bad started payload", "message_id", msg.ID, "error", err)
			return nil
		}
		return o.OnTaskStarted(ctx, payload.CorrelationID)

	case mq.MessageTypeTaskHeartbeat:
		payload, err := mq.ParsePayload[mq.TaskHeartbeatPayload](msg)
		if err != nil {
			o.logger.Error("bad heartbeat payload", "message_id", msg.ID, "error", err)
			return nil
		}
		return o.OnTaskHeartbeat(ctx, payload.CorrelationID)

	case mq.MessageTypeTaskResult:
		payload, err := mq.ParsePayload[mq.TaskResultPayload](msg)
		if err != nil {
			o.logger.Error("bad result payload", "message_id", msg.ID, "error", err)
			return nil
		}
		switch domain.TaskStatus(payload.Status) {
		case domain.TaskStatusCompleted:
			return o.OnTaskCompleted(ctx, payload.CorrelationID, payload.Result, false)
		case domain.TaskStatusReviewRequired:
			return o.OnTaskCompleted(ctx, payload.CorrelationID, payload.Result, true)
		case domain.TaskStatusFailed:
			return o.OnTaskFailed(ctx, payload.CorrelationID, payload.Error)
		default:
			o.logger.Error("unknown result status",
				"message_id", msg.ID,
				"status", payload.Status,
			)
			return nil
		}

	default:
		o.logger.Warn("unexpected message type", "message_id", msg.ID, "type", msg.Type)
		return nil
	}
}
