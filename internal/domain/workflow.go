package domain

import (
	"time"

	"github.com/google/uuid"
)

// Workflow — агрегат над набором tasks одного артефакта.
//
// Создаётся Orchestrator'ом при приёме загрузки, живёт от CREATED до
// терминального статуса и никогда не воскрешается. Статус — производная
// от статусов tasks (DeriveWorkflowStatus), не устанавливается напрямую.
type Workflow struct {
	// ID — уникальный идентификатор workflow.
	ID uuid.UUID `json:"id"`

	// Name — человекочитаемое имя.
	Name string `json:"name"`

	// EntityRef — что инициировало workflow (id загрузки/артефакта).
	EntityRef string `json:"entity_ref"`

	// Status — текущий статус.
	Status WorkflowStatus `json:"status"`

	// Priority — порядковый приоритет; наследуется tasks.
	Priority int `json:"priority"`

	// Deadline — опциональный срок выполнения.
	Deadline *time.Time `json:"deadline,omitempty"`

	// Metadata — произвольные метаданные.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Error — текст ошибки при FAILED.
	Error string `json:"error,omitempty"`

	// TaskCount — количество tasks в workflow.
	TaskCount int `json:"task_count"`

	// CompletedTaskCount — количество успешно завершённых tasks.
	CompletedTaskCount int `json:"completed_task_count"`

	// StartedAt — время перехода в INTAKE.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время достижения терминального статуса.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// NewWorkflow создаёт workflow в статусе CREATED.
func NewWorkflow(name, entityRef string, priority int) *Workflow {
	return &Workflow{
		ID:        uuid.New(),
		Name:      name,
		EntityRef: entityRef,
		Status:    WorkflowStatusCreated,
		Priority:  priority,
		CreatedAt: time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
func (w *Workflow) Duration() time.Duration {
	if w.StartedAt == nil || w.FinishedAt == nil {
		return 0
	}
	return w.FinishedAt.Sub(*w.StartedAt)
}

// IsFinished возвращает true, если workflow в терминальном статусе.
func (w *Workflow) IsFinished() bool {
	return w.Status.IsTerminal()
}

// MarkIntake переводит workflow в INTAKE.
func (w *Workflow) MarkIntake() {
	now := time.Now()
	w.Status = WorkflowStatusIntake
	w.StartedAt = &now
}

// MarkProcessing переводит workflow в PROCESSING.
func (w *Workflow) MarkProcessing() {
	w.Status = WorkflowStatusProcessing
}

// MarkTerminal фиксирует терминальный статус, вычисленный из tasks.
func (w *Workflow) MarkTerminal(status WorkflowStatus, errMsg string) {
	now := time.Now()
	w.Status = status
	w.FinishedAt = &now
	w.Error = errMsg
}

// MarkCancelled переводит workflow в CANCELLED.
func (w *Workflow) MarkCancelled() {
	now := time.Now()
	w.Status = WorkflowStatusCancelled
	w.FinishedAt = &now
}

// ArtifactKind — вид загруженного артефакта.
type ArtifactKind string

const (
	ArtifactKindAudio ArtifactKind = "audio"
	ArtifactKindVideo ArtifactKind = "video"
)

// Artifact — загруженный файл, поступивший на intake.
type Artifact struct {
	// Ref — идентификатор артефакта во внешнем хранилище.
	Ref string `json:"ref"`

	// Kind — вид артефакта.
	Kind ArtifactKind `json:"kind"`

	// HasGeo — есть ли геоданные (включает location_tagging).
	HasGeo bool `json:"has_geo"`
}

// DeriveTaskTypes выводит набор типов tasks из набора артефактов.
//
// Аудио: transcription, metadata_ai, distribution.
// Видео дополнительно: media_optimize, thumbnail, clip_creation.
// Геоданные добавляют location_tagging.
//
// Порядок детерминирован и задаёт порядок диспетчеризации.
func DeriveTaskTypes(artifacts []Artifact) []TaskType {
	want := make(map[TaskType]bool)
	for _, a := range artifacts {
		want[TaskTypeTranscription] = true
		want[TaskTypeMetadataAI] = true
		want[TaskTypeDistribution] = true
		if a.Kind == ArtifactKindVideo {
			want[TaskTypeMediaOptimize] = true
			want[TaskTypeThumbnail] = true
			want[TaskTypeClipCreation] = true
		}
		if a.HasGeo {
			want[TaskTypeLocationTagging] = true
		}
	}

	ordered := []TaskType{
		TaskTypeTranscription,
		TaskTypeMediaOptimize,
		TaskTypeLocationTagging,
		TaskTypeMetadataAI,
		TaskTypeThumbnail,
		TaskTypeClipCreation,
		TaskTypeDistribution,
	}

	var types []TaskType
	for _, t := range ordered {
		if want[t] {
			types = append(types, t)
		}
	}
	return types
}
