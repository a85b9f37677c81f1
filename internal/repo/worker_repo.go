package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/verger-io/verger/internal/domain"
)

// WorkerRepo — репозиторий для работы с workers.
//
// Счётчики нагрузки — самый конкурентный ресурс системы: все мутации
// идут через ReserveCapacity/ReleaseCapacity/RecordCompletion, каждая —
// одиночный условный UPDATE, без read-modify-write на стороне приложения.
type WorkerRepo struct {
	pool *pgxpool.Pool
}

// NewWorkerRepo создаёт новый WorkerRepo.
func NewWorkerRepo(pool *pgxpool.Pool) *WorkerRepo {
	return &WorkerRepo{pool: pool}
}

// Create создаёт worker и его профиль навыков.
func (r *WorkerRepo) Create(ctx context.Context, w *domain.Worker) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO workers (id, name, role, available, autoassignable,
		                     max_concurrent_tasks, current_workload,
		                     completed_count, failed_count, avg_completion_ms,
		                     rating, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = tx.Exec(ctx, query,
		w.ID,
		w.Name,
		w.Role,
		w.Available,
		w.Autoassignable,
		w.MaxConcurrentTasks,
		w.CurrentWorkload,
		w.CompletedCount,
		w.FailedCount,
		w.AvgCompletionMs,
		w.Rating,
		w.CreatedAt,
		w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert worker: %w", err)
	}

	for _, g := range w.Skills {
		_, err = tx.Exec(ctx, `
			INSERT INTO worker_skills (worker_id, skill_code, proficiency)
			VALUES ($1, $2, $3)
		`, w.ID, g.SkillCode, g.Proficiency)
		if err != nil {
			return fmt.Errorf("insert worker skill %s: %w", g.SkillCode, err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID возвращает worker по ID вместе с профилем навыков.
func (r *WorkerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Worker, error) {
	query := `
		SELECT id, name, role, available, autoassignable, max_concurrent_tasks,
		       current_workload, completed_count, failed_count, avg_completion_ms,
		       rating, created_at, updated_at
		FROM workers
		WHERE id = $1
	`
	w, err := r.scanWorker(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadSkills(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// ListEligible возвращает доступных auto-assignable workers, чей профиль
// покрывает все требуемые навыки. Детерминированный порядок по id —
// для воспроизводимости ранжирования.
func (r *WorkerRepo) ListEligible(ctx context.Context, requiredSkills []string) ([]domain.Worker, error) {
	query := `
		SELECT w.id, w.name, w.role, w.available, w.autoassignable,
		       w.max_concurrent_tasks, w.current_workload, w.completed_count,
		       w.failed_count, w.avg_completion_ms, w.rating, w.created_at, w.updated_at
		FROM workers w
		WHERE w.available
		  AND w.autoassignable
		  AND NOT EXISTS (
		      SELECT 1 FROM unnest($1::text[]) AS req(code)
		      WHERE NOT EXISTS (
		          SELECT 1 FROM worker_skills ws
		          WHERE ws.worker_id = w.id AND ws.skill_code = req.code
		      )
		  )
		ORDER BY w.id ASC
	`
	rows, err := r.pool.Query(ctx, query, requiredSkills)
	if err != nil {
		return nil, fmt.Errorf("list eligible workers: %w", err)
	}
	defer rows.Close()

	var workers []domain.Worker
	for rows.Next() {
		w, err := r.scanWorkerFromRows(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range workers {
		if err := r.loadSkills(ctx, &workers[i]); err != nil {
			return nil, err
		}
	}
	return workers, nil
}

// List возвращает всех workers.
func (r *WorkerRepo) List(ctx context.Context) ([]domain.Worker, error) {
	query := `
		SELECT id, name, role, available, autoassignable, max_concurrent_tasks,
		       current_workload, completed_count, failed_count, avg_completion_ms,
		       rating, created_at, updated_at
		FROM workers
		ORDER BY id ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var workers []domain.Worker
	for rows.Next() {
		w, err := r.scanWorkerFromRows(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, *w)
	}
	return workers, rows.Err()
}

// ReserveCapacity атомарно занимает единицу ёмкости worker'а.
//
// Compare-and-increment в одном UPDATE: инкремент проходит только если
// current_workload < max_concurrent_tasks. Возвращает false без мутации,
// если ёмкость исчерпана.
func (r *WorkerRepo) ReserveCapacity(ctx context.Context, workerID uuid.UUID) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE workers
		SET current_workload = current_workload + 1, updated_at = now()
		WHERE id = $1 AND current_workload < max_concurrent_tasks
	`, workerID)
	if err != nil {
		return false, fmt.Errorf("reserve capacity: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ForceReserve занимает ёмкость без проверки лимита.
// Только для manual override; вызывающий обязан записать capacity_override
// в журнал аудита.
func (r *WorkerRepo) ForceReserve(ctx context.Context, workerID uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE workers
		SET current_workload = current_workload + 1, updated_at = now()
		WHERE id = $1
	`, workerID)
	if err != nil {
		return fmt.Errorf("force reserve: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseCapacity атомарно освобождает единицу ёмкости.
//
// Декремент не опускает счётчик ниже нуля. Возвращает clamped=true, если
// счётчик уже был нулевым — аномалия, вызывающий логирует её.
func (r *WorkerRepo) ReleaseCapacity(ctx context.Context, workerID uuid.UUID) (clamped bool, err error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE workers
		SET current_workload = current_workload - 1, updated_at = now()
		WHERE id = $1 AND current_workload > 0
	`, workerID)
	if err != nil {
		return false, fmt.Errorf("release capacity: %w", err)
	}
	if result.RowsAffected() > 0 {
		return false, nil
	}

	// Либо worker не существует, либо счётчик уже нулевой
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM workers WHERE id = $1)`, workerID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check worker exists: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return true, nil
}

// RecordCompletion обновляет счётчики завершений и скользящее среднее.
func (r *WorkerRepo) RecordCompletion(ctx context.Context, workerID uuid.UUID, durationMs int64, success bool) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE workers
		SET avg_completion_ms = (avg_completion_ms * (completed_count + failed_count) + $2)
		                        / (completed_count + failed_count + 1),
		    completed_count = completed_count + CASE WHEN $3 THEN 1 ELSE 0 END,
		    failed_count    = failed_count    + CASE WHEN $3 THEN 0 ELSE 1 END,
		    updated_at = now()
		WHERE id = $1
	`, workerID, durationMs, success)
	if err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAvailability переключает доступность worker'а.
func (r *WorkerRepo) SetAvailability(ctx context.Context, workerID uuid.UUID, available bool) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE workers SET available = $2, updated_at = now() WHERE id = $1
	`, workerID, available)
	if err != nil {
		return fmt.Errorf("set availability: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

func (r *WorkerRepo) loadSkills(ctx context.Context, w *domain.Worker) error {
	rows, err := r.pool.Query(ctx, `
		SELECT skill_code, proficiency
		FROM worker_skills
		WHERE worker_id = $1
		ORDER BY skill_code ASC
	`, w.ID)
	if err != nil {
		return fmt.Errorf("load worker skills: %w", err)
	}
	defer rows.Close()

	w.Skills = nil
	for rows.Next() {
		var g domain.SkillGrade
		if err := rows.Scan(&g.SkillCode, &g.Proficiency); err != nil {
			return fmt.Errorf("scan worker skill: %w", err)
		}
		w.Skills = append(w.Skills, g)
	}
	return rows.Err()
}

func (r *WorkerRepo) scanWorker(row pgx.Row) (*domain.Worker, error) {
	var w domain.Worker
	err := row.Scan(
		&w.ID,
		&w.Name,
		&w.Role,
		&w.Available,
		&w.Autoassignable,
		&w.MaxConcurrentTasks,
		&w.CurrentWorkload,
		&w.CompletedCount,
		&w.FailedCount,
		&w.AvgCompletionMs,
		&w.Rating,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan worker: %w", err)
	}
	return &w, nil
}

func (r *WorkerRepo) scanWorkerFromRows(rows pgx.Rows) (*domain.Worker, error) {
	var w domain.Worker
	err := rows.Scan(
		&w.ID,
		&w.Name,
		&w.Role,
		&w.Available,
		&w.Autoassignable,
		&w.MaxConcurrentTasks,
		&w.CurrentWorkload,
		&w.CompletedCount,
		&w.FailedCount,
		&w.AvgCompletionMs,
		&w.Rating,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan worker: %w", err)
	}
	return &w, nil
}
