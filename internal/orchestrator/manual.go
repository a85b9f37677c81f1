package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/verger-io/verger/internal/assign"
	"github.com/verger-io/verger/internal/domain"
	"github.com/verger-io/verger/internal/repo"
	"github.com/verger-io/verger/internal/telemetry"
)

// AssignTaskManual назначает task указанному исполнителю в обход
// автоматического ранжирования. Навыки проверяются всегда; force
// резервирует ёмкость сверх лимита и отдельно фиксируется в аудите.
func (o *Orchestrator) AssignTaskManual(ctx context.Context, taskID, workerID uuid.UUID, force bool, actor string) (*assign.AssignmentResult, error) {
	task, err := o.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}

	result, err := o.engine.AssignManual(ctx, task, workerID, force)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return result, nil
	}

	expected := task.Status
	var previousWorker *uuid.UUID
	if expected == domain.TaskStatusAssigned && task.WorkerID != nil {
		prev := *task.WorkerID
		previousWorker = &prev
	}
	task.MarkAssigned(result.WorkerID, result.Score, result.Reason)
	if err := o.tasks.UpdateIf(ctx, task, expected); err != nil {
		if relErr := o.registry.ReleaseCapacity(ctx, result.WorkerID); relErr != nil {
			o.logger.Error("capacity release after lost race failed",
				"worker_id", result.WorkerID, "error", relErr)
		}
		if errors.Is(err, repo.ErrStaleUpdate) {
			result.Success = false
			result.Errors = append(result.Errors, "task changed concurrently")
			return result, nil
		}
		return nil, fmt.Errorf("persist assignment: %w", err)
	}
	telemetry.TaskTransitionsTotal.WithLabelValues(string(domain.TaskStatusAssigned)).Inc()

	// Переназначение: резерв прежнего исполнителя возвращается
	if previousWorker != nil && *previousWorker != result.WorkerID {
		if err := o.registry.ReleaseCapacity(ctx, *previousWorker); err != nil {
			o.logger.Error("previous worker capacity release failed",
				"worker_id", *previousWorker, "error", err)
		}
	}

	o.audit.Assignment(ctx, task, actor, workerID, domain.StrategyManual, nil)
	if force {
		o.audit.Record(ctx, domain.NewAuditEntry(domain.AuditCapacityOverride, actor,
			map[string]any{"worker_id": workerID.String()},
		).ForTask(task.WorkflowID, task.ID))
	}

	if err := o.dispatch(ctx, task); err != nil {
		o.logger.Error("manual assignment dispatch failed", "task_id", task.ID, "error", err)
	}
	return result, nil
}
