package registry

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/verger-io/verger/internal/domain"
)

// Ошибки реестра.
var (
	// ErrWorkerNotFound — worker не найден.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrCapacityExhausted — свободной ёмкости нет.
	ErrCapacityExhausted = errors.New("worker capacity exhausted")
)

// WorkerStore — хранилище workers.
//
// Реализации: repo.WorkerRepo (Postgres) и MemoryStore (тесты,
// локальный режим). Обе обязаны выполнять Reserve/Release атомарно.
type WorkerStore interface {
	ListEligible(ctx context.Context, requiredSkills []string) ([]domain.Worker, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Worker, error)
	ReserveCapacity(ctx context.Context, workerID uuid.UUID) (bool, error)
	ForceReserve(ctx context.Context, workerID uuid.UUID) error
	ReleaseCapacity(ctx context.Context, workerID uuid.UUID) (clamped bool, err error)
	RecordCompletion(ctx context.Context, workerID uuid.UUID, durationMs int64, success bool) error
	SetAvailability(ctx context.Context, workerID uuid.UUID, available bool) error
}

// Auditor принимает записи журнала аудита. Реализуется audit.Log.
type Auditor interface {
	Record(ctx context.Context, entry *domain.AuditEntry) error
}

// Registry — реестр навыков и исполнителей.
//
// Единственная точка мутации счётчиков нагрузки: весь остальной код
// обязан резервировать и освобождать ёмкость только через Registry.
type Registry struct {
	store   WorkerStore
	auditor Auditor
	logger  *slog.Logger
}

// New создаёт Registry поверх хранилища.
func New(store WorkerStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, logger: logger}
}

// SetAuditor подключает журнал аудита для аномалий счётчиков.
func (r *Registry) SetAuditor(a Auditor) {
	r.auditor = a
}

// ListEligible возвращает доступных workers, чей профиль покрывает все
// требуемые навыки и у которых не меньше minFreeSlots свободных слотов.
// Порядок детерминирован (по id) — для воспроизводимости ранжирования.
func (r *Registry) ListEligible(ctx context.Context, requiredSkills []string, minFreeSlots int) ([]domain.Worker, error) {
	workers, err := r.store.ListEligible(ctx, requiredSkills)
	if err != nil {
		return nil, err
	}

	if minFreeSlots <= 0 {
		return workers, nil
	}

	eligible := workers[:0]
	for _, w := range workers {
		if w.MaxConcurrentTasks-w.CurrentWorkload >= minFreeSlots {
			eligible = append(eligible, w)
		}
	}
	return eligible, nil
}

// GetWorker возвращает worker по ID.
func (r *Registry) GetWorker(ctx context.Context, id uuid.UUID) (*domain.Worker, error) {
	return r.store.GetByID(ctx, id)
}

// ReserveCapacity атомарно занимает единицу ёмкости.
// Возвращает false без мутации, если ёмкость исчерпана.
func (r *Registry) ReserveCapacity(ctx context.Context, workerID uuid.UUID) (bool, error) {
	ok, err := r.store.ReserveCapacity(ctx, workerID)
	if err != nil {
		return false, err
	}
	if !ok {
		r.logger.Debug("capacity reservation rejected", "worker_id", workerID)
	}
	return ok, nil
}

// ForceReserve занимает ёмкость без проверки лимита (manual override).
// Вызывающий обязан записать capacity_override в аудит.
func (r *Registry) ForceReserve(ctx context.Context, workerID uuid.UUID) error {
	return r.store.ForceReserve(ctx, workerID)
}

// ReleaseCapacity атомарно освобождает единицу ёмкости.
// Счётчик никогда не уходит ниже нуля; попытка — аномалия,
// логируется и фиксируется в аудите.
func (r *Registry) ReleaseCapacity(ctx context.Context, workerID uuid.UUID) error {
	clamped, err := r.store.ReleaseCapacity(ctx, workerID)
	if err != nil {
		return err
	}
	if clamped {
		r.logger.Error("workload counter release below zero, clamped",
			"worker_id", workerID,
		)
		if r.auditor != nil {
			entry := domain.NewAuditEntry(domain.AuditCapacityAnomaly, domain.ActorSystem, map[string]any{
				"worker_id": workerID.String(),
				"operation": "release",
			})
			_ = r.auditor.Record(ctx, entry)
		}
	}
	return nil
}

// RecordCompletion обновляет статистику завершений worker'а.
func (r *Registry) RecordCompletion(ctx context.Context, workerID uuid.UUID, durationMs int64, success bool) error {
	return r.store.RecordCompletion(ctx, workerID, durationMs, success)
}

// SetAvailability переключает доступность worker'а (операция админа).
func (r *Registry) SetAvailability(ctx context.Context, workerID uuid.UUID, available bool) error {
	return r.store.SetAvailability(ctx, workerID, available)
}
