package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/verger-io/verger/internal/domain"
)

// AuditRepo — репозиторий журнала аудита.
//
// Append-only: единственная мутирующая операция — Append. UPDATE и
// DELETE путей в этом репозитории нет намеренно.
type AuditRepo struct {
	pool *pgxpool.Pool
}

// NewAuditRepo создаёт новый AuditRepo.
func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Append добавляет запись в журнал.
func (r *AuditRepo) Append(ctx context.Context, entry *domain.AuditEntry) error {
	detailJSON, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("marshal detail: %w", err)
	}

	query := `
		INSERT INTO audit_entries (id, workflow_id, task_id, action, actor, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		entry.ID,
		entry.WorkflowID,
		entry.TaskID,
		entry.Action,
		entry.Actor,
		detailJSON,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListByTask возвращает записи task в порядке создания.
func (r *AuditRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]domain.AuditEntry, error) {
	return r.list(ctx, `
		SELECT id, workflow_id, task_id, action, actor, detail, created_at
		FROM audit_entries
		WHERE task_id = $1
		ORDER BY created_at ASC, id ASC
	`, taskID)
}

// ListByWorkflow возвращает записи workflow (включая записи его tasks)
// в порядке создания.
func (r *AuditRepo) ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]domain.AuditEntry, error) {
	return r.list(ctx, `
		SELECT id, workflow_id, task_id, action, actor, detail, created_at
		FROM audit_entries
		WHERE workflow_id = $1
		ORDER BY created_at ASC, id ASC
	`, workflowID)
}

func (r *AuditRepo) list(ctx context.Context, query string, args ...any) ([]domain.AuditEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func scanAuditEntry(row pgx.Row) (*domain.AuditEntry, error) {
	var entry domain.AuditEntry
	var detailJSON []byte

	err := row.Scan(
		&entry.ID,
		&entry.WorkflowID,
		&entry.TaskID,
		&entry.Action,
		&entry.Actor,
		&detailJSON,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan audit entry: %w", err)
	}

	if detailJSON != nil {
		if err := json.Unmarshal(detailJSON, &entry.Detail); err != nil {
			return nil, fmt.Errorf("unmarshal detail: %w", err)
		}
	}
	return &entry, nil
}
