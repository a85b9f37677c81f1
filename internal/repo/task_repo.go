package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/verger-io/verger/internal/domain"
)

// TaskRepo — репозиторий для работы с tasks.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `
	id, workflow_id, type, status, priority, ordinal, required_skills,
	deadline, worker_id, assignment_score, assignment_reason, correlation_id,
	payload, result, retry_count, max_retries, error, heartbeat_at,
	started_at, finished_at, created_at
`

// Create создаёт новый task.
func (r *TaskRepo) Create(ctx context.Context, task *domain.Task) error {
	return createTask(ctx, r.pool, task)
}

const insertTaskQuery = `
	INSERT INTO tasks (id, workflow_id, type, status, priority, ordinal,
	                   required_skills, deadline, correlation_id, payload,
	                   retry_count, max_retries, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`

// createTask — вставка, пригодная и для pool, и для tx
// (используется WorkflowRepo.CreateWithTasks).
func createTask(ctx context.Context, q querier, task *domain.Task) error {
	payloadJSON, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = q.Exec(ctx, insertTaskQuery,
		task.ID,
		task.WorkflowID,
		task.Type,
		task.Status,
		task.Priority,
		task.Ordinal,
		task.RequiredSkills,
		task.Deadline,
		nullString(task.CorrelationID),
		payloadJSON,
		task.RetryCount,
		task.MaxRetries,
		task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetByID возвращает task по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	return r.scanTask(r.pool.QueryRow(ctx, query, id))
}

// GetByCorrelationID возвращает task по ключу корреляции substrate.
func (r *TaskRepo) GetByCorrelationID(ctx context.Context, correlationID string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE correlation_id = $1`
	return r.scanTask(r.pool.QueryRow(ctx, query, correlationID))
}

// ListByWorkflow возвращает все tasks workflow в порядке создания.
func (r *TaskRepo) ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE workflow_id = $1
		ORDER BY ordinal ASC
	`
	return r.list(ctx, query, workflowID)
}

// ListStatusesByWorkflow возвращает статусы всех tasks workflow.
// Вход для DeriveWorkflowStatus без загрузки полных строк.
func (r *TaskRepo) ListStatusesByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]domain.TaskStatus, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status FROM tasks WHERE workflow_id = $1
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list task statuses: %w", err)
	}
	defer rows.Close()

	var statuses []domain.TaskStatus
	for rows.Next() {
		var s domain.TaskStatus
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan task status: %w", err)
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

// ListUnassigned возвращает PENDING tasks обрабатываемых workflows —
// кандидатов на (повторную) попытку назначения. Порядок: приоритет,
// затем порядок создания.
func (r *TaskRepo) ListUnassigned(ctx context.Context, limit int) ([]domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks t
		WHERE t.status = 'PENDING'
		  AND EXISTS (
		      SELECT 1 FROM workflows w
		      WHERE w.id = t.workflow_id AND w.status = 'PROCESSING'
		  )
		ORDER BY t.priority DESC, t.created_at ASC, t.ordinal ASC
		LIMIT $1
	`
	return r.list(ctx, query, limit)
}

// ListStale возвращает tasks, застрявшие в ASSIGNED/IN_PROGRESS без
// сигнала живости дольше порога.
func (r *TaskRepo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status IN ('ASSIGNED', 'IN_PROGRESS')
		  AND COALESCE(heartbeat_at, started_at, created_at) < $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	return r.list(ctx, query, olderThan, limit)
}

// ListRetryable возвращает FAILED tasks с неисчерпанными retry.
// Tasks завершённых и отменённых workflows не возвращаются: их ничто
// не должно воскрешать.
func (r *TaskRepo) ListRetryable(ctx context.Context, limit int) ([]domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks t
		WHERE t.status = 'FAILED' AND t.retry_count < t.max_retries
		  AND EXISTS (
		      SELECT 1 FROM workflows w
		      WHERE w.id = t.workflow_id AND w.status = 'PROCESSING'
		  )
		ORDER BY t.created_at ASC
		LIMIT $1
	`
	return r.list(ctx, query, limit)
}

// UpdateIf обновляет task при условии, что текущий статус в БД равен
// expected (optimistic CAS). Возвращает ErrStaleUpdate, если статус уже
// изменён другим писателем — из двух гонящихся переходов выигрывает
// ровно один.
func (r *TaskRepo) UpdateIf(ctx context.Context, task *domain.Task, expected domain.TaskStatus) error {
	resultJSON, err := json.Marshal(task.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	query := `
		UPDATE tasks
		SET status = $3, worker_id = $4, assignment_score = $5,
		    assignment_reason = $6, correlation_id = $7, result = $8,
		    retry_count = $9, error = $10, heartbeat_at = $11,
		    started_at = $12, finished_at = $13
		WHERE id = $1 AND status = $2
	`
	result, err := r.pool.Exec(ctx, query,
		task.ID,
		expected,
		task.Status,
		task.WorkerID,
		task.AssignmentScore,
		nullString(task.AssignmentReason),
		nullString(task.CorrelationID),
		resultJSON,
		task.RetryCount,
		nullString(task.Error),
		task.HeartbeatAt,
		task.StartedAt,
		task.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrStaleUpdate
	}
	return nil
}

// Heartbeat обновляет сигнал живости от substrate.
func (r *TaskRepo) Heartbeat(ctx context.Context, taskID uuid.UUID, at time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET heartbeat_at = $2
		WHERE id = $1 AND status IN ('ASSIGNED', 'IN_PROGRESS')
	`, taskID, at)
	if err != nil {
		return fmt.Errorf("task heartbeat: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

func (r *TaskRepo) list(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTaskColumns(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func (r *TaskRepo) scanTask(row pgx.Row) (*domain.Task, error) {
	task, err := scanTaskColumns(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return task, err
}

func scanTaskColumns(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	var payloadJSON, resultJSON []byte
	var assignmentReason, correlationID, taskError *string

	err := row.Scan(
		&task.ID,
		&task.WorkflowID,
		&task.Type,
		&task.Status,
		&task.Priority,
		&task.Ordinal,
		&task.RequiredSkills,
		&task.Deadline,
		&task.WorkerID,
		&task.AssignmentScore,
		&assignmentReason,
		&correlationID,
		&payloadJSON,
		&resultJSON,
		&task.RetryCount,
		&task.MaxRetries,
		&taskError,
		&task.HeartbeatAt,
		&task.StartedAt,
		&task.FinishedAt,
		&task.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &task.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if resultJSON != nil {
		if err := json.Unmarshal(resultJSON, &task.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	task.AssignmentReason = derefString(assignmentReason)
	task.CorrelationID = derefString(correlationID)
	task.Error = derefString(taskError)

	return &task, nil
}
