package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskType — тип работы над загруженным артефактом.
type TaskType string

const (
	TaskTypeTranscription   TaskType = "transcription"
	TaskTypeMediaOptimize   TaskType = "media_optimize"
	TaskTypeLocationTagging TaskType = "location_tagging"
	TaskTypeMetadataAI      TaskType = "metadata_ai"
	TaskTypeThumbnail       TaskType = "thumbnail"
	TaskTypeClipCreation    TaskType = "clip_creation"
	TaskTypeDistribution    TaskType = "distribution"
)

// taskTypeSkills — требуемые навыки по типу task.
var taskTypeSkills = map[TaskType][]string{
	TaskTypeTranscription:   {"transcription"},
	TaskTypeMediaOptimize:   {"media_processing"},
	TaskTypeLocationTagging: {"location_tagging"},
	TaskTypeMetadataAI:      {"metadata_ai"},
	TaskTypeThumbnail:       {"media_processing", "design"},
	TaskTypeClipCreation:    {"media_processing", "editing"},
	TaskTypeDistribution:    {"distribution"},
}

// KnownTaskType проверяет, что тип task известен системе.
func KnownTaskType(t TaskType) bool {
	_, ok := taskTypeSkills[t]
	return ok
}

// SkillsFor возвращает требуемые навыки для типа task.
func SkillsFor(t TaskType) []string {
	return taskTypeSkills[t]
}

// AssignmentStrategy — алгоритм выбора исполнителя.
type AssignmentStrategy string

const (
	// StrategySkillMatch — максимальная сумма рангов по требуемым навыкам.
	StrategySkillMatch AssignmentStrategy = "skill_match"

	// StrategyWorkloadBalance — минимальная относительная нагрузка.
	StrategyWorkloadBalance AssignmentStrategy = "workload_balance"

	// StrategyRandom — равномерный случайный выбор (safety-net).
	StrategyRandom AssignmentStrategy = "random"

	// StrategyAIMatch — внешний ранжировщик с локальным fallback.
	StrategyAIMatch AssignmentStrategy = "ai_match"

	// StrategyManual — worker указан вызывающей стороной.
	StrategyManual AssignmentStrategy = "manual"
)

// DefaultMaxRetries — максимум повторных попыток по умолчанию.
const DefaultMaxRetries = 2

// Task — единица работы внутри workflow.
//
// Tasks создаются пакетно при создании workflow и принадлежат ему до
// терминального статуса. Единственный писатель переходов статуса —
// Orchestrator.
type Task struct {
	// ID — уникальный идентификатор task.
	ID uuid.UUID `json:"id"`

	// WorkflowID — ссылка на родительский workflow.
	WorkflowID uuid.UUID `json:"workflow_id"`

	// Type — тип работы.
	Type TaskType `json:"type"`

	// Status — текущий статус.
	Status TaskStatus `json:"status"`

	// Priority — порядковый приоритет (больше — важнее).
	Priority int `json:"priority"`

	// Ordinal — порядковый номер внутри workflow.
	// Диспетчеризация идёт в порядке создания.
	Ordinal int `json:"ordinal"`

	// RequiredSkills — коды требуемых навыков.
	RequiredSkills []string `json:"required_skills,omitempty"`

	// Deadline — опциональный срок выполнения.
	Deadline *time.Time `json:"deadline,omitempty"`

	// WorkerID — назначенный исполнитель (nil, пока не назначен).
	WorkerID *uuid.UUID `json:"worker_id,omitempty"`

	// AssignmentScore — оценка победителя при авто-назначении.
	AssignmentScore float64 `json:"assignment_score,omitempty"`

	// AssignmentReason — объяснение выбора исполнителя.
	AssignmentReason string `json:"assignment_reason,omitempty"`

	// CorrelationID — ключ корреляции с execution substrate.
	// Round-trip: уходит в Enqueue, возвращается в callbacks.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Payload — непрозрачные входные данные.
	Payload map[string]any `json:"payload,omitempty"`

	// Result — непрозрачный результат выполнения.
	Result map[string]any `json:"result,omitempty"`

	// RetryCount — количество израсходованных повторов.
	RetryCount int `json:"retry_count"`

	// MaxRetries — лимит повторов. После исчерпания FAILED терминален.
	MaxRetries int `json:"max_retries"`

	// Error — текст последней ошибки.
	Error string `json:"error,omitempty"`

	// HeartbeatAt — последний сигнал живости от substrate.
	// Вход для sweeper'а при поиске застрявших tasks.
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// NewTask создаёт PENDING task для workflow.
func NewTask(workflowID uuid.UUID, taskType TaskType, ordinal, priority int) *Task {
	return &Task{
		ID:             uuid.New(),
		WorkflowID:     workflowID,
		Type:           taskType,
		Status:         TaskStatusPending,
		Priority:       priority,
		Ordinal:        ordinal,
		RequiredSkills: SkillsFor(taskType),
		MaxRetries:     DefaultMaxRetries,
		CreatedAt:      time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.StartedAt)
}

// IsFinished возвращает true, если task в терминальном статусе.
func (t *Task) IsFinished() bool {
	return t.Status.IsTerminal()
}

// CanRetry проверяет, остались ли повторные попытки.
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// MarkAssigned фиксирует назначение исполнителя.
func (t *Task) MarkAssigned(workerID uuid.UUID, score float64, reason string) {
	t.Status = TaskStatusAssigned
	t.WorkerID = &workerID
	t.AssignmentScore = score
	t.AssignmentReason = reason
}

// MarkInProgress фиксирует подтверждение начала выполнения от substrate.
func (t *Task) MarkInProgress() {
	now := time.Now()
	t.Status = TaskStatusInProgress
	t.StartedAt = &now
	t.HeartbeatAt = &now
}

// MarkCompleted переводит task в COMPLETED с результатом.
func (t *Task) MarkCompleted(result map[string]any) {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.FinishedAt = &now
	t.Result = result
}

// MarkReviewRequired переводит task в REVIEW_REQUIRED.
// Статус терминален и считается успешным завершением.
func (t *Task) MarkReviewRequired(result map[string]any) {
	now := time.Now()
	t.Status = TaskStatusReviewRequired
	t.FinishedAt = &now
	t.Result = result
}

// MarkFailed переводит task в FAILED с ошибкой.
func (t *Task) MarkFailed(errMsg string) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.FinishedAt = &now
	t.Error = errMsg
}

// MarkCancelled переводит task в CANCELLED.
func (t *Task) MarkCancelled() {
	now := time.Now()
	t.Status = TaskStatusCancelled
	t.FinishedAt = &now
}

// ResetForRetry подготавливает task к повторной попытке:
// PENDING, без исполнителя, retry_count увеличен.
func (t *Task) ResetForRetry() {
	t.Status = TaskStatusPending
	t.WorkerID = nil
	t.AssignmentScore = 0
	t.AssignmentReason = ""
	t.CorrelationID = ""
	t.StartedAt = nil
	t.FinishedAt = nil
	t.HeartbeatAt = nil
	t.Error = ""
	t.RetryCount++
}
