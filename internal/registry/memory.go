package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/verger-io/verger/internal/domain"
)

// MemoryStore — потокобезопасное in-memory хранилище workers.
//
// Используется в тестах и в локальном режиме CLI без Postgres.
// Семантика Reserve/Release идентична WorkerRepo: compare-and-increment
// под мьютексом, декремент с клампом на нуле.
type MemoryStore struct {
	mu      sync.Mutex
	workers map[uuid.UUID]*domain.Worker
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{workers: make(map[uuid.UUID]*domain.Worker)}
}

// Put добавляет или заменяет worker.
func (s *MemoryStore) Put(w *domain.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.workers[w.ID] = &cp
}

// ListEligible возвращает доступных auto-assignable workers с полным
// покрытием требуемых навыков, отсортированных по id.
func (s *MemoryStore) ListEligible(ctx context.Context, requiredSkills []string) ([]domain.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Worker
	for _, w := range s.workers {
		if w.Available && w.Autoassignable && w.HasSkills(requiredSkills) {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// GetByID возвращает копию worker'а.
func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[id]
	if !ok {
		return nil, ErrWorkerNotFound
	}
	cp := *w
	return &cp, nil
}

// ReserveCapacity — compare-and-increment под мьютексом.
func (s *MemoryStore) ReserveCapacity(ctx context.Context, workerID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[workerID]
	if !ok {
		return false, ErrWorkerNotFound
	}
	if w.CurrentWorkload >= w.MaxConcurrentTasks {
		return false, nil
	}
	w.CurrentWorkload++
	w.UpdatedAt = time.Now()
	return true, nil
}

// ForceReserve — инкремент без проверки лимита.
func (s *MemoryStore) ForceReserve(ctx context.Context, workerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[workerID]
	if !ok {
		return ErrWorkerNotFound
	}
	w.CurrentWorkload++
	w.UpdatedAt = time.Now()
	return nil
}

// ReleaseCapacity — декремент с клампом на нуле.
func (s *MemoryStore) ReleaseCapacity(ctx context.Context, workerID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[workerID]
	if !ok {
		return false, ErrWorkerNotFound
	}
	if w.CurrentWorkload == 0 {
		return true, nil
	}
	w.CurrentWorkload--
	w.UpdatedAt = time.Now()
	return false, nil
}

// RecordCompletion обновляет статистику завершений.
func (s *MemoryStore) RecordCompletion(ctx context.Context, workerID uuid.UUID, durationMs int64, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[workerID]
	if !ok {
		return ErrWorkerNotFound
	}
	w.RecordCompletion(durationMs, success)
	return nil
}

// SetAvailability переключает доступность.
func (s *MemoryStore) SetAvailability(ctx context.Context, workerID uuid.UUID, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[workerID]
	if !ok {
		return ErrWorkerNotFound
	}
	w.Available = available
	w.UpdatedAt = time.Now()
	return nil
}
