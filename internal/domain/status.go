package domain

import "errors"

// ErrIllegalTransition — запрошенный переход статуса не разрешён
// таблицей переходов. Состояние при этом не меняется.
var ErrIllegalTransition = errors.New("illegal status transition")

// TaskStatus — статус выполнения task.
//
// Жизненный цикл:
//
//	PENDING → ASSIGNED → IN_PROGRESS → {COMPLETED | FAILED | REVIEW_REQUIRED}
//	PENDING|ASSIGNED → CANCELLED (отмена workflow)
//	FAILED → PENDING (retry, пока retry_count < max_retries)
type TaskStatus string

const (
	// TaskStatusPending — task создан, ожидает назначения исполнителя.
	TaskStatusPending TaskStatus = "PENDING"

	// TaskStatusAssigned — исполнитель назначен, task отправлен в substrate.
	TaskStatusAssigned TaskStatus = "ASSIGNED"

	// TaskStatusInProgress — substrate подтвердил начало выполнения.
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"

	// TaskStatusCompleted — task успешно завершён.
	TaskStatusCompleted TaskStatus = "COMPLETED"

	// TaskStatusFailed — task завершился с ошибкой.
	// Терминален окончательно только после исчерпания retry.
	TaskStatusFailed TaskStatus = "FAILED"

	// TaskStatusReviewRequired — результат получен, но требует проверки человеком.
	TaskStatusReviewRequired TaskStatus = "REVIEW_REQUIRED"

	// TaskStatusCancelled — task отменён вместе с workflow.
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// taskTransitions — таблица допустимых переходов статусов task.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusAssigned, TaskStatusCancelled},
	TaskStatusAssigned:   {TaskStatusInProgress, TaskStatusCancelled, TaskStatusFailed},
	TaskStatusInProgress: {TaskStatusCompleted, TaskStatusFailed, TaskStatusReviewRequired},
	TaskStatusFailed:     {TaskStatusPending},
}

// CanTransitionTo проверяет, допустим ли переход в статус next.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true, если статус финальный для агрегации workflow.
// FAILED окончательно терминален только когда retry исчерпаны — это
// проверяет Orchestrator при решении о повторной постановке.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusReviewRequired, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsSuccess возвращает true, если task считается успешным для агрегации.
// REVIEW_REQUIRED считается успехом: работа выполнена, ожидается
// подтверждение человеком.
func (s TaskStatus) IsSuccess() bool {
	return s == TaskStatusCompleted || s == TaskStatusReviewRequired
}

// AllowsReassignment возвращает true, если task в этом статусе может быть
// назначен (или переназначен) исполнителю.
func (s TaskStatus) AllowsReassignment() bool {
	return s == TaskStatusPending || s == TaskStatusAssigned
}

// WorkflowStatus — статус workflow.
//
// Жизненный цикл:
//
//	CREATED → INTAKE → PROCESSING → {COMPLETED | PARTIAL_FAILURE | FAILED}
//	CREATED|INTAKE|PROCESSING → CANCELLED
type WorkflowStatus string

const (
	// WorkflowStatusCreated — workflow создан, tasks ещё не назначены.
	WorkflowStatusCreated WorkflowStatus = "CREATED"

	// WorkflowStatusIntake — workflow принят в обработку.
	WorkflowStatusIntake WorkflowStatus = "INTAKE"

	// WorkflowStatusProcessing — tasks назначаются и выполняются.
	WorkflowStatusProcessing WorkflowStatus = "PROCESSING"

	// WorkflowStatusCompleted — все tasks завершились успешно.
	WorkflowStatusCompleted WorkflowStatus = "COMPLETED"

	// WorkflowStatusPartialFailure — есть и успешные, и неудачные tasks.
	WorkflowStatusPartialFailure WorkflowStatus = "PARTIAL_FAILURE"

	// WorkflowStatusFailed — ни один task не завершился успешно.
	WorkflowStatusFailed WorkflowStatus = "FAILED"

	// WorkflowStatusCancelled — workflow отменён пользователем.
	WorkflowStatusCancelled WorkflowStatus = "CANCELLED"
)

// workflowTransitions — таблица допустимых переходов статусов workflow.
var workflowTransitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowStatusCreated: {WorkflowStatusIntake, WorkflowStatusCancelled},
	WorkflowStatusIntake:  {WorkflowStatusProcessing, WorkflowStatusCancelled},
	WorkflowStatusProcessing: {
		WorkflowStatusCompleted,
		WorkflowStatusPartialFailure,
		WorkflowStatusFailed,
		WorkflowStatusCancelled,
	},
}

// CanTransitionTo проверяет, допустим ли переход в статус next.
func (s WorkflowStatus) CanTransitionTo(next WorkflowStatus) bool {
	for _, allowed := range workflowTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true, если статус финальный.
// Workflow никогда не воскрешается из терминального статуса.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusPartialFailure,
		WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	default:
		return false
	}
}

// DeriveWorkflowStatus вычисляет статус workflow из статусов его tasks.
//
// Чистая функция: повторный вызов с теми же статусами даёт тот же результат.
//
//   - хотя бы один task не терминален → PROCESSING
//   - все терминальны, неудач нет → COMPLETED
//   - все терминальны, есть и успехи, и неудачи → PARTIAL_FAILURE
//   - все терминальны, успехов нет → FAILED
func DeriveWorkflowStatus(statuses []TaskStatus) WorkflowStatus {
	if len(statuses) == 0 {
		return WorkflowStatusProcessing
	}

	var succeeded, failed int
	for _, s := range statuses {
		if !s.IsTerminal() {
			return WorkflowStatusProcessing
		}
		if s.IsSuccess() {
			succeeded++
		} else {
			failed++
		}
	}

	switch {
	case failed == 0:
		return WorkflowStatusCompleted
	case succeeded > 0:
		return WorkflowStatusPartialFailure
	default:
		return WorkflowStatusFailed
	}
}
