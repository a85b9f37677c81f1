package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/verger-io/verger/internal/assign"
	"github.com/verger-io/verger/internal/audit"
	"github.com/verger-io/verger/internal/domain"
	"github.com/verger-io/verger/internal/registry"
	"github.com/verger-io/verger/internal/repo"
)

// --- fakes ---

type memTaskStore struct {
	mu        sync.Mutex
	tasks     map[uuid.UUID]domain.Task
	workflows *memWorkflowStore
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{tasks: map[uuid.UUID]domain.Task{}}
}

func (s *memTaskStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &t, nil
}

func (s *memTaskStore) GetByCorrelationID(_ context.Context, correlationID string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.CorrelationID == correlationID {
			out := t
			return &out, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (s *memTaskStore) ListByWorkflow(_ context.Context, workflowID uuid.UUID) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for _, t := range s.tasks {
		if t.WorkflowID == workflowID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (s *memTaskStore) ListUnassigned(_ context.Context, limit int) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for _, t := range s.tasks {
		if t.Status != domain.TaskStatusPending {
			continue
		}
		if s.workflows != nil {
			wf, ok := s.workflows.get(t.WorkflowID)
			if !ok || wf.Status != domain.WorkflowStatusProcessing {
				continue
			}
		}
		out = append(out, t)
		if len(out) >= limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (s *memTaskStore) UpdateIf(_ context.Context, task *domain.Task, expected domain.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[task.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if current.Status != expected {
		return repo.ErrStaleUpdate
	}
	s.tasks[task.ID] = *task
	return nil
}

func (s *memTaskStore) Heartbeat(_ context.Context, taskID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return repo.ErrNotFound
	}
	t.HeartbeatAt = &at
	s.tasks[taskID] = t
	return nil
}

func (s *memTaskStore) put(t *domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = *t
}

type memWorkflowStore struct {
	mu    sync.Mutex
	wfs   map[uuid.UUID]domain.Workflow
	tasks *memTaskStore
}

func newMemWorkflowStore(tasks *memTaskStore) *memWorkflowStore {
	s := &memWorkflowStore{wfs: map[uuid.UUID]domain.Workflow{}, tasks: tasks}
	tasks.workflows = s
	return s
}

func (s *memWorkflowStore) CreateWithTasks(_ context.Context, wf *domain.Workflow, tasks []*domain.Task) error {
	s.mu.Lock()
	s.wfs[wf.ID] = *wf
	s.mu.Unlock()
	for _, t := range tasks {
		s.tasks.put(t)
	}
	return nil
}

func (s *memWorkflowStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.wfs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &wf, nil
}

func (s *memWorkflowStore) get(id uuid.UUID) (domain.Workflow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.wfs[id]
	return wf, ok
}

func (s *memWorkflowStore) UpdateIf(_ context.Context, wf *domain.Workflow, expected domain.WorkflowStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.wfs[wf.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if current.Status != expected {
		return repo.ErrStaleUpdate
	}
	s.wfs[wf.ID] = *wf
	return nil
}

func (s *memWorkflowStore) SetCompletedCount(_ context.Context, id uuid.UUID, completed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.wfs[id]
	if !ok {
		return repo.ErrNotFound
	}
	wf.CompletedTaskCount = completed
	s.wfs[id] = wf
	return nil
}

type fakeSubstrate struct {
	mu       sync.Mutex
	enqueued []uuid.UUID
	failures int
}

func (s *fakeSubstrate) Enqueue(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("broker unavailable")
	}
	s.enqueued = append(s.enqueued, task.ID)
	return nil
}

func (s *fakeSubstrate) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.enqueued)
}

// --- harness ---

type env struct {
	workers  *registry.MemoryStore
	taskSt   *memTaskStore
	wfSt     *memWorkflowStore
	auditSt  *audit.MemoryStore
	sub      *fakeSubstrate
	registry *registry.Registry
	orch     *Orchestrator
}

func newEnv() *env {
	taskSt := newMemTaskStore()
	wfSt := newMemWorkflowStore(taskSt)
	workers := registry.NewMemoryStore()
	auditSt := audit.NewMemoryStore()
	sub := &fakeSubstrate{}

	reg := registry.New(workers, nil)
	e := &env{
		workers:  workers,
		taskSt:   taskSt,
		wfSt:     wfSt,
		auditSt:  auditSt,
		sub:      sub,
		registry: reg,
	}
	e.orch = New(Config{
		Workflows:        wfSt,
		Tasks:            taskSt,
		Registry:         reg,
		Engine:           assign.New(assign.Config{Registry: reg}),
		Audit:            audit.New(auditSt, nil),
		Substrate:        sub,
		DispatchAttempts: 2,
		DispatchBackoff:  time.Millisecond,
	})
	return e
}

func (e *env) addWorker(capacity int, skills ...string) *domain.Worker {
	w := &domain.Worker{
		ID:                 uuid.New(),
		Name:               "worker",
		Available:          true,
		Autoassignable:     true,
		MaxConcurrentTasks: capacity,
	}
	for _, code := range skills {
		w.Skills = append(w.Skills, domain.SkillGrade{SkillCode: code, Proficiency: domain.ProficiencyAdvanced})
	}
	e.workers.Put(w)
	return w
}

// universalWorker покрывает навыки всех типов tasks.
func (e *env) universalWorker(capacity int) *domain.Worker {
	return e.addWorker(capacity,
		"transcription", "media_processing", "design", "editing",
		"location_tagging", "metadata_ai", "distribution")
}

func (e *env) task(t *testing.T, workflowID uuid.UUID, ordinal int) *domain.Task {
	t.Helper()
	tasks, err := e.taskSt.ListByWorkflow(context.Background(), workflowID)
	if err != nil {
		t.Fatal(err)
	}
	for i := range tasks {
		if tasks[i].Ordinal == ordinal {
			return &tasks[i]
		}
	}
	t.Fatalf("no task with ordinal %d", ordinal)
	return nil
}

func (e *env) workflow(t *testing.T, id uuid.UUID) *domain.Workflow {
	t.Helper()
	wf, err := e.wfSt.GetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return wf
}

// requeue ставит FAILED task на повтор тем же путём, что sweeper.
func (e *env) requeue(t *testing.T, task *domain.Task) {
	t.Helper()
	if err := e.orch.RetryTask(context.Background(), task.ID); err != nil {
		t.Fatal(err)
	}
}

// --- tests ---

func TestOrchestrate_AudioArtifact(t *testing.T) {
	e := newEnv()
	w := e.universalWorker(5)
	ctx := context.Background()

	wf, err := e.orch.Orchestrate(ctx, "upload-17",
		[]domain.Artifact{{Ref: "sermon.mp3", Kind: domain.ArtifactKindAudio}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if wf.Status != domain.WorkflowStatusProcessing {
		t.Errorf("expected PROCESSING, got %s", wf.Status)
	}

	tasks, _ := e.taskSt.ListByWorkflow(ctx, wf.ID)
	if len(tasks) != 3 {
		t.Fatalf("audio artifact should yield 3 tasks, got %d", len(tasks))
	}
	wantTypes := []domain.TaskType{
		domain.TaskTypeTranscription,
		domain.TaskTypeMetadataAI,
		domain.TaskTypeDistribution,
	}
	for i, task := range tasks {
		if task.Type != wantTypes[i] {
			t.Errorf("task %d: expected %s, got %s", i, wantTypes[i], task.Type)
		}
		if task.Status != domain.TaskStatusAssigned {
			t.Errorf("task %d should be ASSIGNED, got %s", i, task.Status)
		}
		if task.WorkerID == nil || *task.WorkerID != w.ID {
			t.Errorf("task %d should be assigned to the only worker", i)
		}
		if task.CorrelationID == "" {
			t.Errorf("task %d should carry a correlation id", i)
		}
	}

	if e.sub.count() != 3 {
		t.Errorf("expected 3 dispatches, got %d", e.sub.count())
	}

	got, _ := e.workers.GetByID(ctx, w.ID)
	if got.CurrentWorkload != 3 {
		t.Errorf("worker workload expected 3, got %d", got.CurrentWorkload)
	}
}

func TestOrchestrate_VideoWithGeo_AllTaskTypes(t *testing.T) {
	e := newEnv()
	e.universalWorker(10)

	wf, err := e.orch.Orchestrate(context.Background(), "upload-18",
		[]domain.Artifact{{Ref: "service.mp4", Kind: domain.ArtifactKindVideo, HasGeo: true}}, 0)
	if err != nil {
		t.Fatal(err)
	}

	tasks, _ := e.taskSt.ListByWorkflow(context.Background(), wf.ID)
	if len(tasks) != 7 {
		t.Errorf("geo video should yield all 7 task types, got %d", len(tasks))
	}
}

func TestCreateWorkflow_Validation(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	if _, err := e.orch.CreateWorkflow(ctx, "", "", 0, []domain.TaskType{domain.TaskTypeTranscription}); !errors.Is(err, ErrEmptyEntityRef) {
		t.Errorf("expected ErrEmptyEntityRef, got %v", err)
	}
	if _, err := e.orch.CreateWorkflow(ctx, "", "upload-1", 0, nil); !errors.Is(err, ErrNoTaskTypes) {
		t.Errorf("expected ErrNoTaskTypes, got %v", err)
	}
	if _, err := e.orch.CreateWorkflow(ctx, "", "upload-1", 0, []domain.TaskType{"juggling"}); !errors.Is(err, ErrUnknownTaskType) {
		t.Errorf("expected ErrUnknownTaskType, got %v", err)
	}
}

func TestStartWorkflow_NoWorkers_TasksStayPending(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	wf, err := e.orch.CreateWorkflow(ctx, "", "upload-19", 0,
		[]domain.TaskType{domain.TaskTypeTranscription})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.orch.StartWorkflow(ctx, wf.ID, domain.StrategySkillMatch); err != nil {
		t.Fatal(err)
	}

	task := e.task(t, wf.ID, 0)
	if task.Status != domain.TaskStatusPending {
		t.Errorf("task without candidates should stay PENDING, got %s", task.Status)
	}
	if e.workflow(t, wf.ID).Status != domain.WorkflowStatusProcessing {
		t.Error("workflow should still reach PROCESSING")
	}

	entries, _ := e.auditSt.ListByTask(ctx, task.ID)
	found := false
	for _, entry := range entries {
		if entry.Action == domain.AuditAssignmentFailed {
			found = true
		}
	}
	if !found {
		t.Error("assignment failure should be audited")
	}
}

func TestDuplicateCompletion_OneTransitionOneAuditEntry(t *testing.T) {
	e := newEnv()
	w := e.universalWorker(5)
	ctx := context.Background()

	wf, err := e.orch.Orchestrate(ctx, "upload-20",
		[]domain.Artifact{{Ref: "talk.mp3", Kind: domain.ArtifactKindAudio}}, 0)
	if err != nil {
		t.Fatal(err)
	}

	task := e.task(t, wf.ID, 0)
	if err := e.orch.OnTaskStarted(ctx, task.CorrelationID); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := e.orch.OnTaskCompleted(ctx, task.CorrelationID, map[string]any{"ok": true}, false); err != nil {
			t.Fatalf("completion %d: %v", i+1, err)
		}
	}

	task = e.task(t, wf.ID, 0)
	if task.Status != domain.TaskStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", task.Status)
	}

	completedEntries := 0
	entries, _ := e.auditSt.ListByTask(ctx, task.ID)
	for _, entry := range entries {
		if entry.Action == domain.AuditTaskCompleted {
			completedEntries++
		}
	}
	if completedEntries != 1 {
		t.Errorf("duplicate completion must audit once, got %d entries", completedEntries)
	}

	// Ёмкость освобождена ровно один раз
	got, _ := e.workers.GetByID(ctx, w.ID)
	if got.CurrentWorkload != 2 {
		t.Errorf("workload expected 2 (3 assigned - 1 done), got %d", got.CurrentWorkload)
	}
	if got.CompletedCount != 1 {
		t.Errorf("completed count expected 1, got %d", got.CompletedCount)
	}
}

func TestCompletionBeforeStartedEvent(t *testing.T) {
	e := newEnv()
	e.universalWorker(5)
	ctx := context.Background()

	wf, err := e.orch.Orchestrate(ctx, "upload-21",
		[]domain.Artifact{{Ref: "talk.mp3", Kind: domain.ArtifactKindAudio}}, 0)
	if err != nil {
		t.Fatal(err)
	}

	// Результат без предшествующего started
	task := e.task(t, wf.ID, 0)
	if err := e.orch.OnTaskCompleted(ctx, task.CorrelationID, nil, false); err != nil {
		t.Fatal(err)
	}
	if got := e.task(t, wf.ID, 0); got.Status != domain.TaskStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", got.Status)
	}
}

func TestRetryExhaustion_WorkflowFailed(t *testing.T) {
	e := newEnv()
	e.universalWorker(5)
	ctx := context.Background()

	wf, err := e.orch.CreateWorkflow(ctx, "", "upload-22", 0,
		[]domain.TaskType{domain.TaskTypeTranscription})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.orch.StartWorkflow(ctx, wf.ID, domain.StrategySkillMatch); err != nil {
		t.Fatal(err)
	}

	// Первая попытка + DefaultMaxRetries повторов, все неудачны
	for attempt := 0; attempt <= domain.DefaultMaxRetries; attempt++ {
		task := e.task(t, wf.ID, 0)
		if err := e.orch.OnTaskFailed(ctx, task.CorrelationID, "transcoder crash"); err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}

		task = e.task(t, wf.ID, 0)
		if task.Status != domain.TaskStatusFailed {
			t.Fatalf("attempt %d: expected FAILED, got %s", attempt, task.Status)
		}

		if task.CanRetry() {
			if e.workflow(t, wf.ID).Status != domain.WorkflowStatusProcessing {
				t.Fatalf("attempt %d: workflow must stay PROCESSING while retries remain", attempt)
			}
			e.requeue(t, task)
		}
	}

	task := e.task(t, wf.ID, 0)
	if task.RetryCount != domain.DefaultMaxRetries {
		t.Errorf("retry count expected %d, got %d", domain.DefaultMaxRetries, task.RetryCount)
	}
	if e.workflow(t, wf.ID).Status != domain.WorkflowStatusFailed {
		t.Errorf("workflow expected FAILED, got %s", e.workflow(t, wf.ID).Status)
	}
}

func TestPartialFailure_Aggregation(t *testing.T) {
	e := newEnv()
	w := e.universalWorker(5)
	ctx := context.Background()

	wf, err := e.orch.CreateWorkflow(ctx, "", "upload-23", 0,
		[]domain.TaskType{domain.TaskTypeTranscription, domain.TaskTypeDistribution})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.orch.StartWorkflow(ctx, wf.ID, domain.StrategySkillMatch); err != nil {
		t.Fatal(err)
	}

	first := e.task(t, wf.ID, 0)
	if err := e.orch.OnTaskCompleted(ctx, first.CorrelationID, nil, false); err != nil {
		t.Fatal(err)
	}

	// Второй task проваливается и исчерпывает retry
	for attempt := 0; attempt <= domain.DefaultMaxRetries; attempt++ {
		second := e.task(t, wf.ID, 1)
		if err := e.orch.OnTaskFailed(ctx, second.CorrelationID, "distribution rejected"); err != nil {
			t.Fatal(err)
		}
		second = e.task(t, wf.ID, 1)
		if second.CanRetry() {
			e.requeue(t, second)
		}
	}

	got := e.workflow(t, wf.ID)
	if got.Status != domain.WorkflowStatusPartialFailure {
		t.Errorf("expected PARTIAL_FAILURE, got %s", got.Status)
	}
	if got.CompletedTaskCount != 1 {
		t.Errorf("completed count expected 1, got %d", got.CompletedTaskCount)
	}

	stats, _ := e.workers.GetByID(ctx, w.ID)
	if stats.CurrentWorkload != 0 {
		t.Errorf("all capacity should be released, got %d", stats.CurrentWorkload)
	}
}

func TestReviewRequired_CountsAsSuccess(t *testing.T) {
	e := newEnv()
	e.universalWorker(5)
	ctx := context.Background()

	wf, err := e.orch.CreateWorkflow(ctx, "", "upload-24", 0,
		[]domain.TaskType{domain.TaskTypeTranscription})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.orch.StartWorkflow(ctx, wf.ID, domain.StrategySkillMatch); err != nil {
		t.Fatal(err)
	}

	task := e.task(t, wf.ID, 0)
	if err := e.orch.OnTaskStarted(ctx, task.CorrelationID); err != nil {
		t.Fatal(err)
	}
	if err := e.orch.OnTaskCompleted(ctx, task.CorrelationID, map[string]any{"confidence": 0.4}, true); err != nil {
		t.Fatal(err)
	}

	if got := e.task(t, wf.ID, 0); got.Status != domain.TaskStatusReviewRequired {
		t.Errorf("expected REVIEW_REQUIRED, got %s", got.Status)
	}
	got := e.workflow(t, wf.ID)
	if got.Status != domain.WorkflowStatusCompleted {
		t.Errorf("review-required task completes the workflow, got %s", got.Status)
	}
	if got.CompletedTaskCount != 1 {
		t.Errorf("review-required counts toward completed, got %d", got.CompletedTaskCount)
	}
}

func TestCancelWorkflow_ReleasesCapacityAndIsIdempotent(t *testing.T) {
	e := newEnv()
	w := e.universalWorker(5)
	ctx := context.Background()

	wf, err := e.orch.Orchestrate(ctx, "upload-25",
		[]domain.Artifact{{Ref: "talk.mp3", Kind: domain.ArtifactKindAudio}}, 0)
	if err != nil {
		t.Fatal(err)
	}

	if err := e.orch.CancelWorkflow(ctx, wf.ID, "admin"); err != nil {
		t.Fatal(err)
	}

	got := e.workflow(t, wf.ID)
	if got.Status != domain.WorkflowStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", got.Status)
	}
	tasks, _ := e.taskSt.ListByWorkflow(ctx, wf.ID)
	for _, task := range tasks {
		if task.Status != domain.TaskStatusCancelled {
			t.Errorf("task %s expected CANCELLED, got %s", task.ID, task.Status)
		}
	}

	stats, _ := e.workers.GetByID(ctx, w.ID)
	if stats.CurrentWorkload != 0 {
		t.Errorf("cancel must release reserved capacity, got %d", stats.CurrentWorkload)
	}

	// Повторная отмена — no-op
	if err := e.orch.CancelWorkflow(ctx, wf.ID, "admin"); err != nil {
		t.Fatal(err)
	}
	entries, _ := e.auditSt.ListByWorkflow(ctx, wf.ID)
	cancelled := 0
	for _, entry := range entries {
		if entry.Action == domain.AuditWorkflowCancelled {
			cancelled++
		}
	}
	if cancelled != 1 {
		t.Errorf("cancel should be audited once, got %d", cancelled)
	}
}

func TestCancelWorkflow_AfterFinish(t *testing.T) {
	e := newEnv()
	e.universalWorker(5)
	ctx := context.Background()

	wf, err := e.orch.CreateWorkflow(ctx, "", "upload-26", 0,
		[]domain.TaskType{domain.TaskTypeTranscription})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.orch.StartWorkflow(ctx, wf.ID, domain.StrategySkillMatch); err != nil {
		t.Fatal(err)
	}
	task := e.task(t, wf.ID, 0)
	if err := e.orch.OnTaskCompleted(ctx, task.CorrelationID, nil, false); err != nil {
		t.Fatal(err)
	}

	if err := e.orch.CancelWorkflow(ctx, wf.ID, "admin"); !errors.Is(err, ErrWorkflowFinished) {
		t.Errorf("expected ErrWorkflowFinished, got %v", err)
	}
}

func TestDispatchFailure_TaskStaysAssigned(t *testing.T) {
	e := newEnv()
	w := e.universalWorker(5)
	e.sub.failures = 100
	ctx := context.Background()

	wf, err := e.orch.CreateWorkflow(ctx, "", "upload-27", 0,
		[]domain.TaskType{domain.TaskTypeTranscription})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.orch.StartWorkflow(ctx, wf.ID, domain.StrategySkillMatch); err != nil {
		t.Fatal(err)
	}

	task := e.task(t, wf.ID, 0)
	if task.Status != domain.TaskStatusAssigned {
		t.Errorf("task should stay ASSIGNED after dispatch failure, got %s", task.Status)
	}
	stats, _ := e.workers.GetByID(ctx, w.ID)
	if stats.CurrentWorkload != 1 {
		t.Errorf("reservation should be kept for the sweeper, got %d", stats.CurrentWorkload)
	}
}

func TestOnTaskHeartbeat_UpdatesLiveness(t *testing.T) {
	e := newEnv()
	e.universalWorker(5)
	ctx := context.Background()

	wf, err := e.orch.CreateWorkflow(ctx, "", "upload-28", 0,
		[]domain.TaskType{domain.TaskTypeTranscription})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.orch.StartWorkflow(ctx, wf.ID, domain.StrategySkillMatch); err != nil {
		t.Fatal(err)
	}

	task := e.task(t, wf.ID, 0)
	if err := e.orch.OnTaskStarted(ctx, task.CorrelationID); err != nil {
		t.Fatal(err)
	}
	before := *e.task(t, wf.ID, 0).HeartbeatAt

	time.Sleep(2 * time.Millisecond)
	if err := e.orch.OnTaskHeartbeat(ctx, task.CorrelationID); err != nil {
		t.Fatal(err)
	}
	after := *e.task(t, wf.ID, 0).HeartbeatAt
	if !after.After(before) {
		t.Error("heartbeat should advance the liveness timestamp")
	}
}

func TestOrphanEvent_Ignored(t *testing.T) {
	e := newEnv()
	if err := e.orch.OnTaskCompleted(context.Background(), "no-such-correlation", nil, false); err != nil {
		t.Errorf("orphan result should be ignored, got %v", err)
	}
}

func TestPollPending_AssignsAfterWorkerAppears(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	wf, err := e.orch.CreateWorkflow(ctx, "", "upload-29", 0,
		[]domain.TaskType{domain.TaskTypeTranscription})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.orch.StartWorkflow(ctx, wf.ID, domain.StrategySkillMatch); err != nil {
		t.Fatal(err)
	}
	if e.task(t, wf.ID, 0).Status != domain.TaskStatusPending {
		t.Fatal("task should be PENDING without workers")
	}

	e.universalWorker(5)
	e.orch.pollPending(ctx)

	if got := e.task(t, wf.ID, 0); got.Status != domain.TaskStatusAssigned {
		t.Errorf("poll should assign the task, got %s", got.Status)
	}
	if e.sub.count() != 1 {
		t.Errorf("expected 1 dispatch, got %d", e.sub.count())
	}
}

func TestAssignTaskManual_ForceAuditsOverride(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	w := e.addWorker(1, "transcription")
	w.CurrentWorkload = 1
	e.workers.Put(w)

	wf, err := e.orch.CreateWorkflow(ctx, "", "upload-31", 0,
		[]domain.TaskType{domain.TaskTypeTranscription})
	if err != nil {
		t.Fatal(err)
	}
	task := e.task(t, wf.ID, 0)

	// Без force перегруженный worker отклоняется
	result, err := e.orch.AssignTaskManual(ctx, task.ID, w.ID, false, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Fatal("manual assignment over capacity should fail without force")
	}

	result, err = e.orch.AssignTaskManual(ctx, task.ID, w.ID, true, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Fatal("forced manual assignment should succeed")
	}

	task = e.task(t, wf.ID, 0)
	if task.Status != domain.TaskStatusAssigned || task.WorkerID == nil || *task.WorkerID != w.ID {
		t.Error("task should be assigned to the forced worker")
	}

	overrides := 0
	entries, _ := e.auditSt.ListByTask(ctx, task.ID)
	for _, entry := range entries {
		if entry.Action == domain.AuditCapacityOverride {
			overrides++
			if entry.Actor != "admin" {
				t.Errorf("override actor expected admin, got %s", entry.Actor)
			}
		}
	}
	if overrides != 1 {
		t.Errorf("capacity override should be audited once, got %d", overrides)
	}
}

func TestConcurrentResults_SingleWinner(t *testing.T) {
	e := newEnv()
	e.universalWorker(5)
	ctx := context.Background()

	wf, err := e.orch.CreateWorkflow(ctx, "", "upload-30", 0,
		[]domain.TaskType{domain.TaskTypeTranscription})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.orch.StartWorkflow(ctx, wf.ID, domain.StrategySkillMatch); err != nil {
		t.Fatal(err)
	}
	task := e.task(t, wf.ID, 0)
	if err := e.orch.OnTaskStarted(ctx, task.CorrelationID); err != nil {
		t.Fatal(err)
	}

	// Успех и провал гонятся: побеждает ровно один исход
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				e.orch.OnTaskCompleted(ctx, task.CorrelationID, nil, false)
			} else {
				e.orch.OnTaskFailed(ctx, task.CorrelationID, fmt.Sprintf("race %d", i))
			}
		}(i)
	}
	wg.Wait()

	got := e.task(t, wf.ID, 0)
	if got.Status != domain.TaskStatusCompleted && got.Status != domain.TaskStatusFailed {
		t.Fatalf("expected a single terminal status, got %s", got.Status)
	}

	terminalEntries := 0
	entries, _ := e.auditSt.ListByTask(ctx, task.ID)
	for _, entry := range entries {
		if entry.Action == domain.AuditTaskCompleted || entry.Action == domain.AuditTaskFailed {
			terminalEntries++
		}
	}
	if terminalEntries != 1 {
		t.Errorf("exactly one terminal transition should be audited, got %d", terminalEntries)
	}
}

// Отменённый workflow ничего не воскрешает: поздний провал
// IN_PROGRESS task не ставит его на повтор.
func TestRetryTask_CancelledWorkflowNotResurrected(t *testing.T) {
	e := newEnv()
	w := e.universalWorker(5)
	ctx := context.Background()

	wf, err := e.orch.Orchestrate(ctx, "upload-31",
		[]domain.Artifact{{Ref: "sermon.mp3", Kind: domain.ArtifactKindAudio}}, 0)
	if err != nil {
		t.Fatal(err)
	}

	task := e.task(t, wf.ID, 0)
	if err := e.orch.OnTaskStarted(ctx, task.CorrelationID); err != nil {
		t.Fatal(err)
	}
	if err := e.orch.CancelWorkflow(ctx, wf.ID, "cli"); err != nil {
		t.Fatal(err)
	}

	// Провал приходит уже после отмены
	if err := e.orch.OnTaskFailed(ctx, task.CorrelationID, "executor crashed"); err != nil {
		t.Fatal(err)
	}
	failed := e.task(t, wf.ID, 0)
	if failed.Status != domain.TaskStatusFailed {
		t.Fatalf("expected FAILED, got %s", failed.Status)
	}
	if !failed.CanRetry() {
		t.Fatal("task should still have retry budget")
	}

	dispatched := e.sub.count()
	if err := e.orch.RetryTask(ctx, failed.ID); err != nil {
		t.Fatal(err)
	}

	got := e.task(t, wf.ID, 0)
	if got.Status != domain.TaskStatusFailed {
		t.Errorf("task of a cancelled workflow must stay FAILED, got %s", got.Status)
	}
	if got.RetryCount != failed.RetryCount {
		t.Errorf("retry count must not advance, got %d", got.RetryCount)
	}
	if e.sub.count() != dispatched {
		t.Errorf("no re-dispatch expected, enqueued %d -> %d", dispatched, e.sub.count())
	}
	worker, _ := e.workers.GetByID(ctx, w.ID)
	if worker.CurrentWorkload != 0 {
		t.Errorf("no capacity should be held, got workload %d", worker.CurrentWorkload)
	}
}

// Провал task, так и не начавшего выполняться, освобождает ёмкость,
// но не трогает статистику завершений worker'а.
func TestFailStale_NeverStarted_NoCompletionStats(t *testing.T) {
	e := newEnv()
	w := e.universalWorker(5)
	ctx := context.Background()

	wf, err := e.orch.CreateWorkflow(ctx, "", "upload-32", 0,
		[]domain.TaskType{domain.TaskTypeTranscription})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.orch.StartWorkflow(ctx, wf.ID, domain.StrategySkillMatch); err != nil {
		t.Fatal(err)
	}

	task := e.task(t, wf.ID, 0)
	if task.Status != domain.TaskStatusAssigned || task.StartedAt != nil {
		t.Fatalf("precondition: ASSIGNED without started_at, got %s", task.Status)
	}

	if err := e.orch.FailStale(ctx, task.ID); err != nil {
		t.Fatal(err)
	}
	if got := e.task(t, wf.ID, 0); got.Status != domain.TaskStatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}

	worker, _ := e.workers.GetByID(ctx, w.ID)
	if worker.CurrentWorkload != 0 {
		t.Errorf("capacity should be released, got workload %d", worker.CurrentWorkload)
	}
	if worker.CompletedCount != 0 || worker.FailedCount != 0 {
		t.Errorf("stats must stay untouched: completed=%d failed=%d",
			worker.CompletedCount, worker.FailedCount)
	}
	if worker.AvgCompletionMs != 0 {
		t.Errorf("rolling average must stay untouched, got %d", worker.AvgCompletionMs)
	}
}
