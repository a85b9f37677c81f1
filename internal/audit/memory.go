package audit

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/verger-io/verger/internal/domain"
)

// MemoryStore — журнал в памяти. Для тестов и standalone-режима.
type MemoryStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

// NewMemoryStore создаёт пустой журнал в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append добавляет запись.
func (s *MemoryStore) Append(_ context.Context, entry *domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *entry)
	return nil
}

// ListByTask возвращает записи по task в порядке добавления.
func (s *MemoryStore) ListByTask(_ context.Context, taskID uuid.UUID) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range s.entries {
		if e.TaskID != nil && *e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListByWorkflow возвращает записи по workflow в порядке добавления.
func (s *MemoryStore) ListByWorkflow(_ context.Context, workflowID uuid.UUID) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range s.entries {
		if e.WorkflowID != nil && *e.WorkflowID == workflowID {
			out = append(out, e)
		}
	}
	return out, nil
}
