// Package audit — append-only журнал действий над workflow и task.
//
// Каждое значимое событие (создание workflow, назначение, смена статуса,
// ручное вмешательство) фиксируется отдельной записью. Записи не
// изменяются и не удаляются.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/verger-io/verger/internal/domain"
)

// Store — хранилище записей журнала. Единственная мутация — Append.
type Store interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]domain.AuditEntry, error)
	ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]domain.AuditEntry, error)
}

// Log — сервис журнала.
//
// Ошибка записи не должна ронять основную операцию: Record логирует
// сбой и возвращает ошибку, решение принимает вызывающий.
type Log struct {
	store  Store
	logger *slog.Logger
}

// New создаёт сервис журнала.
func New(store Store, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{store: store, logger: logger}
}

// Record добавляет запись в журнал.
func (l *Log) Record(ctx context.Context, entry *domain.AuditEntry) error {
	if err := l.store.Append(ctx, entry); err != nil {
		l.logger.Error("audit append failed",
			"action", entry.Action,
			"actor", entry.Actor,
			"error", err)
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// TaskTransition фиксирует смену статуса task.
func (l *Log) TaskTransition(ctx context.Context, task *domain.Task, action domain.AuditAction, actor string, from, to domain.TaskStatus, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	detail["from"] = string(from)
	detail["to"] = string(to)
	entry := domain.NewAuditEntry(action, actor, detail).ForTask(task.WorkflowID, task.ID)
	return l.Record(ctx, entry)
}

// WorkflowTransition фиксирует смену статуса workflow.
func (l *Log) WorkflowTransition(ctx context.Context, workflowID uuid.UUID, action domain.AuditAction, actor string, from, to domain.WorkflowStatus, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	detail["from"] = string(from)
	detail["to"] = string(to)
	entry := domain.NewAuditEntry(action, actor, detail).ForWorkflow(workflowID)
	return l.Record(ctx, entry)
}

// Assignment фиксирует результат назначения task исполнителю.
func (l *Log) Assignment(ctx context.Context, task *domain.Task, actor string, workerID uuid.UUID, strategy domain.AssignmentStrategy, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	detail["worker_id"] = workerID.String()
	detail["strategy"] = string(strategy)
	entry := domain.NewAuditEntry(domain.AuditTaskAssigned, actor, detail).ForTask(task.WorkflowID, task.ID)
	return l.Record(ctx, entry)
}

// TaskHistory возвращает записи по task в порядке создания.
func (l *Log) TaskHistory(ctx context.Context, taskID uuid.UUID) ([]domain.AuditEntry, error) {
	return l.store.ListByTask(ctx, taskID)
}

// WorkflowHistory возвращает записи по workflow в порядке создания.
func (l *Log) WorkflowHistory(ctx context.Context, workflowID uuid.UUID) ([]domain.AuditEntry, error) {
	return l.store.ListByWorkflow(ctx, workflowID)
}
