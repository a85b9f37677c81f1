package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/verger-io/verger/internal/domain"
)

// WorkflowRepo — репозиторий для работы с workflows.
type WorkflowRepo struct {
	pool *pgxpool.Pool
}

// NewWorkflowRepo создаёт новый WorkflowRepo.
func NewWorkflowRepo(pool *pgxpool.Pool) *WorkflowRepo {
	return &WorkflowRepo{pool: pool}
}

const workflowColumns = `
	id, name, entity_ref, status, priority, deadline, metadata, error,
	task_count, completed_task_count, started_at, finished_at, created_at
`

// CreateWithTasks создаёт workflow и его tasks в одной транзакции:
// либо сохраняются все строки, либо ни одной.
func (r *WorkflowRepo) CreateWithTasks(ctx context.Context, wf *domain.Workflow, tasks []*domain.Task) error {
	metadataJSON, err := json.Marshal(wf.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO workflows (id, name, entity_ref, status, priority, deadline,
		                       metadata, task_count, completed_task_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = tx.Exec(ctx, query,
		wf.ID,
		wf.Name,
		wf.EntityRef,
		wf.Status,
		wf.Priority,
		wf.Deadline,
		metadataJSON,
		wf.TaskCount,
		wf.CompletedTaskCount,
		wf.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}

	for _, task := range tasks {
		if err := createTask(ctx, tx, task); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetByID возвращает workflow по ID.
func (r *WorkflowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1`
	return r.scanWorkflow(r.pool.QueryRow(ctx, query, id))
}

// List возвращает workflows, новые первыми.
func (r *WorkflowRepo) List(ctx context.Context, limit, offset int) ([]domain.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []domain.Workflow
	for rows.Next() {
		wf, err := r.scanWorkflowFromRows(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, *wf)
	}
	return workflows, rows.Err()
}

// UpdateIf обновляет workflow при условии, что текущий статус в БД равен
// expected. Гонка двух пересчётов статуса разрешается в пользу первого;
// проигравший получает ErrStaleUpdate и перечитывает.
func (r *WorkflowRepo) UpdateIf(ctx context.Context, wf *domain.Workflow, expected domain.WorkflowStatus) error {
	query := `
		UPDATE workflows
		SET status = $3, error = $4, task_count = $5, completed_task_count = $6,
		    started_at = $7, finished_at = $8
		WHERE id = $1 AND status = $2
	`
	result, err := r.pool.Exec(ctx, query,
		wf.ID,
		expected,
		wf.Status,
		nullString(wf.Error),
		wf.TaskCount,
		wf.CompletedTaskCount,
		wf.StartedAt,
		wf.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrStaleUpdate
	}
	return nil
}

// SetCompletedCount обновляет производный счётчик завершённых tasks.
func (r *WorkflowRepo) SetCompletedCount(ctx context.Context, id uuid.UUID, completed int) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE workflows SET completed_task_count = $2 WHERE id = $1
	`, id, completed)
	if err != nil {
		return fmt.Errorf("set completed count: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

func (r *WorkflowRepo) scanWorkflow(row pgx.Row) (*domain.Workflow, error) {
	wf, err := scanWorkflowColumns(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return wf, err
}

func (r *WorkflowRepo) scanWorkflowFromRows(rows pgx.Rows) (*domain.Workflow, error) {
	return scanWorkflowColumns(rows)
}

func scanWorkflowColumns(row pgx.Row) (*domain.Workflow, error) {
	var wf domain.Workflow
	var metadataJSON []byte
	var wfError *string

	err := row.Scan(
		&wf.ID,
		&wf.Name,
		&wf.EntityRef,
		&wf.Status,
		&wf.Priority,
		&wf.Deadline,
		&metadataJSON,
		&wfError,
		&wf.TaskCount,
		&wf.CompletedTaskCount,
		&wf.StartedAt,
		&wf.FinishedAt,
		&wf.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &wf.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	wf.Error = derefString(wfError)

	return &wf, nil
}
