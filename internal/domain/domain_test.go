package domain

import (
	"testing"

	"github.com/google/uuid"
)

// --- Worker ---

func TestWorker_WorkloadScore(t *testing.T) {
	w := &Worker{MaxConcurrentTasks: 4, CurrentWorkload: 1}
	if got := w.WorkloadScore(); got != 0.25 {
		t.Errorf("expected 0.25, got %v", got)
	}

	// Перегрузка (manual override) клампится до 1
	w.CurrentWorkload = 6
	if got := w.WorkloadScore(); got != 1 {
		t.Errorf("expected clamp to 1, got %v", got)
	}

	// Нулевая ёмкость — всегда полностью загружен
	w = &Worker{MaxConcurrentTasks: 0}
	if got := w.WorkloadScore(); got != 1 {
		t.Errorf("expected 1 for zero capacity, got %v", got)
	}
}

func TestWorker_HasSkills(t *testing.T) {
	w := &Worker{
		Skills: []SkillGrade{
			{SkillCode: "transcription", Proficiency: ProficiencyExpert},
			{SkillCode: "metadata_ai", Proficiency: ProficiencyBeginner},
		},
	}

	if !w.HasSkills([]string{"transcription"}) {
		t.Error("should have transcription")
	}
	if !w.HasSkills([]string{"transcription", "metadata_ai"}) {
		t.Error("should have both skills")
	}
	if w.HasSkills([]string{"transcription", "design"}) {
		t.Error("should not have design")
	}
	if !w.HasSkills(nil) {
		t.Error("empty requirement is always satisfied")
	}
}

func TestWorker_SkillRankSum(t *testing.T) {
	w := &Worker{
		Skills: []SkillGrade{
			{SkillCode: "transcription", Proficiency: ProficiencyExpert},       // 4
			{SkillCode: "metadata_ai", Proficiency: ProficiencyIntermediate},   // 2
			{SkillCode: "design", Proficiency: ProficiencyBeginner},            // не требуется
		},
	}

	if got := w.SkillRankSum([]string{"transcription", "metadata_ai"}); got != 6 {
		t.Errorf("expected 6, got %d", got)
	}
}

func TestWorker_RecordCompletion(t *testing.T) {
	w := &Worker{}

	w.RecordCompletion(1000, true)
	if w.CompletedCount != 1 || w.AvgCompletionMs != 1000 {
		t.Errorf("after first: completed=%d avg=%d", w.CompletedCount, w.AvgCompletionMs)
	}

	w.RecordCompletion(3000, true)
	if w.AvgCompletionMs != 2000 {
		t.Errorf("rolling average expected 2000, got %d", w.AvgCompletionMs)
	}

	w.RecordCompletion(2000, false)
	if w.FailedCount != 1 {
		t.Errorf("failed count expected 1, got %d", w.FailedCount)
	}
	if w.AvgCompletionMs != 2000 {
		t.Errorf("average expected 2000, got %d", w.AvgCompletionMs)
	}
}

// --- Task ---

func TestTask_RetryLifecycle(t *testing.T) {
	task := NewTask(uuid.New(), TaskTypeTranscription, 0, 0)
	if task.MaxRetries != DefaultMaxRetries {
		t.Fatalf("expected default max retries, got %d", task.MaxRetries)
	}

	workerID := uuid.New()
	task.MarkAssigned(workerID, 4, "skill_match")
	task.MarkInProgress()
	task.MarkFailed("boom")

	// retry_count=0, max=2 — можно повторить
	if !task.CanRetry() {
		t.Fatal("should be able to retry")
	}

	task.ResetForRetry()
	if task.Status != TaskStatusPending {
		t.Errorf("expected PENDING after retry reset, got %s", task.Status)
	}
	if task.WorkerID != nil {
		t.Error("worker should be cleared on retry")
	}
	if task.RetryCount != 1 {
		t.Errorf("retry count expected 1, got %d", task.RetryCount)
	}

	// Вторая неудача
	task.MarkAssigned(workerID, 4, "skill_match")
	task.MarkInProgress()
	task.MarkFailed("boom again")
	if !task.CanRetry() {
		t.Fatal("one retry should remain")
	}
	task.ResetForRetry()

	// Третья неудача исчерпывает лимит
	task.MarkAssigned(workerID, 4, "skill_match")
	task.MarkInProgress()
	task.MarkFailed("boom finally")
	if task.CanRetry() {
		t.Error("retries should be exhausted at retry_count == max_retries")
	}
}

func TestTask_RequiredSkillsFromType(t *testing.T) {
	task := NewTask(uuid.New(), TaskTypeClipCreation, 0, 0)
	if len(task.RequiredSkills) != 2 {
		t.Fatalf("clip_creation should require 2 skills, got %v", task.RequiredSkills)
	}
}

func TestKnownTaskType(t *testing.T) {
	if !KnownTaskType(TaskTypeTranscription) {
		t.Error("transcription should be known")
	}
	if KnownTaskType(TaskType("juggling")) {
		t.Error("juggling should not be known")
	}
}

// --- Artifact derivation ---

func TestDeriveTaskTypes(t *testing.T) {
	// Только аудио
	types := DeriveTaskTypes([]Artifact{{Ref: "a1", Kind: ArtifactKindAudio}})
	want := []TaskType{TaskTypeTranscription, TaskTypeMetadataAI, TaskTypeDistribution}
	if len(types) != len(want) {
		t.Fatalf("audio: got %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("audio order: got %v, want %v", types, want)
			break
		}
	}

	// Видео с геоданными — полный набор
	types = DeriveTaskTypes([]Artifact{{Ref: "v1", Kind: ArtifactKindVideo, HasGeo: true}})
	if len(types) != 7 {
		t.Errorf("geo video should produce all 7 types, got %v", types)
	}

	// Детерминированность порядка
	again := DeriveTaskTypes([]Artifact{{Ref: "v1", Kind: ArtifactKindVideo, HasGeo: true}})
	for i := range types {
		if types[i] != again[i] {
			t.Error("derivation order must be deterministic")
			break
		}
	}
}
