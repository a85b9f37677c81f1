package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditActor — кто выполнил действие.
//
// Либо id worker'а в строковом виде, либо ActorSystem.
const ActorSystem = "system"

// AuditAction — тип действия в журнале аудита.
type AuditAction string

const (
	AuditWorkflowCreated   AuditAction = "workflow_created"
	AuditWorkflowStarted   AuditAction = "workflow_started"
	AuditWorkflowFinished  AuditAction = "workflow_finished"
	AuditWorkflowCancelled AuditAction = "workflow_cancelled"
	AuditTaskAssigned      AuditAction = "task_assigned"
	AuditAssignmentFailed  AuditAction = "assignment_failed"
	AuditTaskStarted       AuditAction = "task_started"
	AuditTaskCompleted     AuditAction = "task_completed"
	AuditTaskFailed        AuditAction = "task_failed"
	AuditTaskRetried       AuditAction = "task_retried"
	AuditTaskCancelled     AuditAction = "task_cancelled"
	AuditTaskStale         AuditAction = "task_stale"
	AuditCapacityOverride  AuditAction = "capacity_override"
	AuditCapacityAnomaly   AuditAction = "capacity_anomaly"
)

// AuditEntry — неизменяемая запись журнала аудита.
//
// Append-only: приложение никогда не обновляет и не удаляет записи.
// Retention обеспечивает внешний data-lifecycle процесс.
type AuditEntry struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// WorkflowID — ссылка на workflow (может быть nil для записей worker'ов).
	WorkflowID *uuid.UUID `json:"workflow_id,omitempty"`

	// TaskID — ссылка на task (nil для записей уровня workflow).
	TaskID *uuid.UUID `json:"task_id,omitempty"`

	// Action — выполненное действие.
	Action AuditAction `json:"action"`

	// Actor — кто выполнил: id worker'а или "system".
	Actor string `json:"actor"`

	// Detail — структурированные детали действия.
	Detail map[string]any `json:"detail,omitempty"`

	// CreatedAt — время записи.
	CreatedAt time.Time `json:"created_at"`
}

// NewAuditEntry создаёт запись аудита с текущим временем.
func NewAuditEntry(action AuditAction, actor string, detail map[string]any) *AuditEntry {
	return &AuditEntry{
		ID:        uuid.New(),
		Action:    action,
		Actor:     actor,
		Detail:    detail,
		CreatedAt: time.Now(),
	}
}

// ForWorkflow привязывает запись к workflow.
func (e *AuditEntry) ForWorkflow(id uuid.UUID) *AuditEntry {
	e.WorkflowID = &id
	return e
}

// ForTask привязывает запись к task.
func (e *AuditEntry) ForTask(workflowID, taskID uuid.UUID) *AuditEntry {
	e.WorkflowID = &workflowID
	e.TaskID = &taskID
	return e
}
