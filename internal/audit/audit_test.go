package audit

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/verger-io/verger/internal/domain"
)

func TestTaskTransition_RecordsFromAndTo(t *testing.T) {
	store := NewMemoryStore()
	log := New(store, nil)
	ctx := context.Background()

	task := domain.NewTask(uuid.New(), domain.TaskTypeTranscription, 0, 0)
	err := log.TaskTransition(ctx, task, domain.AuditTaskCompleted, "worker-1",
		domain.TaskStatusInProgress, domain.TaskStatusCompleted, nil)
	if err != nil {
		t.Fatal(err)
	}

	entries, err := log.TaskHistory(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Action != domain.AuditTaskCompleted {
		t.Errorf("unexpected action %s", e.Action)
	}
	if e.Actor != "worker-1" {
		t.Errorf("unexpected actor %s", e.Actor)
	}
	if e.Detail["from"] != string(domain.TaskStatusInProgress) || e.Detail["to"] != string(domain.TaskStatusCompleted) {
		t.Errorf("detail should carry from/to, got %v", e.Detail)
	}
	if e.WorkflowID == nil || *e.WorkflowID != task.WorkflowID {
		t.Error("entry should reference the workflow")
	}
}

func TestAssignment_RecordsWorkerAndStrategy(t *testing.T) {
	store := NewMemoryStore()
	log := New(store, nil)
	ctx := context.Background()

	task := domain.NewTask(uuid.New(), domain.TaskTypeThumbnail, 0, 0)
	workerID := uuid.New()
	err := log.Assignment(ctx, task, domain.ActorSystem, workerID, domain.StrategySkillMatch,
		map[string]any{"score": 4.0})
	if err != nil {
		t.Fatal(err)
	}

	entries, _ := log.TaskHistory(ctx, task.ID)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	d := entries[0].Detail
	if d["worker_id"] != workerID.String() {
		t.Errorf("detail should carry worker_id, got %v", d)
	}
	if d["strategy"] != string(domain.StrategySkillMatch) {
		t.Errorf("detail should carry strategy, got %v", d)
	}
	if d["score"] != 4.0 {
		t.Errorf("caller detail should be preserved, got %v", d)
	}
}

func TestWorkflowHistory_OrderedByAppend(t *testing.T) {
	store := NewMemoryStore()
	log := New(store, nil)
	ctx := context.Background()

	workflowID := uuid.New()
	actions := []domain.AuditAction{
		domain.AuditWorkflowCreated,
		domain.AuditWorkflowStarted,
		domain.AuditWorkflowFinished,
	}
	var prev domain.WorkflowStatus = domain.WorkflowStatusCreated
	for _, a := range actions {
		if err := log.WorkflowTransition(ctx, workflowID, a, domain.ActorSystem, prev, domain.WorkflowStatusProcessing, nil); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := log.WorkflowHistory(ctx, workflowID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, a := range actions {
		if entries[i].Action != a {
			t.Errorf("entry %d: expected %s, got %s", i, a, entries[i].Action)
		}
	}
}
