// Package sweeper — фоновая уборка: зависшие и провалившиеся tasks.
//
// Один проход (Sweep) делает две вещи: помечает FAILED tasks, чьи
// исполнители перестали подавать признаки жизни, и ставит на повтор
// FAILED tasks с неизрасходованными retry. Обе операции идут через
// публичный контракт Orchestrator'а, sweeper статусы сам не меняет.
//
// В кластере активен один sweeper: лидерство берётся advisory-lock'ом
// в main процесса.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/verger-io/verger/internal/domain"
	"github.com/verger-io/verger/internal/telemetry"
)

// Defaults.
const (
	DefaultStaleAfter = 10 * time.Minute
	DefaultInterval   = time.Minute
	DefaultBatch      = 100
)

// TaskSource — выборки tasks для уборки.
type TaskSource interface {
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.Task, error)
	ListRetryable(ctx context.Context, limit int) ([]domain.Task, error)
}

// Orchestrator — операции оркестратора, которыми действует sweeper.
type Orchestrator interface {
	FailStale(ctx context.Context, taskID uuid.UUID) error
	RetryTask(ctx context.Context, taskID uuid.UUID) error
}

// Config — настройки Sweeper.
type Config struct {
	Tasks        TaskSource
	Orchestrator Orchestrator

	// StaleAfter — порог давности сигнала живости (default: 10m).
	StaleAfter time.Duration

	// Interval — период между проходами (default: 1m).
	// Игнорируется, если задан Schedule.
	Interval time.Duration

	// Schedule — расписание проходов (SWEEP_CRON). nil — по Interval.
	Schedule Schedule

	// Batch — максимум tasks на проход по каждой выборке (default: 100).
	Batch int

	Logger *slog.Logger
}

// Schedule вычисляет время следующего прохода. Реализуется
// cron-расписанием (ParseCron) или любым другим источником.
type Schedule interface {
	Next(t time.Time) time.Time
}

// Sweeper — периодическая уборка tasks.
type Sweeper struct {
	tasks      TaskSource
	orch       Orchestrator
	staleAfter time.Duration
	interval   time.Duration
	schedule   Schedule
	batch      int
	logger     *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New создаёт Sweeper.
func New(cfg Config) *Sweeper {
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	batch := cfg.Batch
	if batch <= 0 {
		batch = DefaultBatch
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		tasks:      cfg.Tasks,
		orch:       cfg.Orchestrator,
		staleAfter: staleAfter,
		interval:   interval,
		schedule:   cfg.Schedule,
		batch:      batch,
		logger:     logger,
	}
}

// Start запускает цикл проходов. Не блокирует вызывающего.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("sweeper started",
		"stale_after", s.staleAfter,
		"interval", s.interval,
		"cron", s.schedule != nil,
	)
}

// Stop останавливает цикл и дожидается завершения текущего прохода.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		var wait time.Duration
		if s.schedule != nil {
			wait = time.Until(s.schedule.Next(time.Now()))
		} else {
			wait = s.interval
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sweep failed", "error", err)
		}
	}
}

// Sweep выполняет один проход уборки.
func (s *Sweeper) Sweep(ctx context.Context) error {
	telemetry.SweepsTotal.Inc()

	stale, retried, err := s.sweepStale(ctx)
	if err != nil {
		return err
	}
	requeued, err := s.sweepRetryable(ctx)
	if err != nil {
		return err
	}

	if stale > 0 || requeued > 0 {
		s.logger.Info("sweep finished",
			"stale_failed", stale,
			"stale_errors", retried,
			"requeued", requeued,
		)
	}
	return nil
}

func (s *Sweeper) sweepStale(ctx context.Context) (swept, failed int, err error) {
	cutoff := time.Now().Add(-s.staleAfter)
	tasks, err := s.tasks.ListStale(ctx, cutoff, s.batch)
	if err != nil {
		return 0, 0, err
	}

	for i := range tasks {
		task := &tasks[i]
		s.logger.Warn("stale task detected",
			"task_id", task.ID,
			"status", task.Status,
			"worker_id", task.WorkerID,
		)
		if err := s.orch.FailStale(ctx, task.ID); err != nil {
			s.logger.Error("fail stale task", "task_id", task.ID, "error", err)
			failed++
			continue
		}
		swept++
	}
	return swept, failed, nil
}

func (s *Sweeper) sweepRetryable(ctx context.Context) (int, error) {
	tasks, err := s.tasks.ListRetryable(ctx, s.batch)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for i := range tasks {
		task := &tasks[i]
		if err := s.orch.RetryTask(ctx, task.ID); err != nil {
			s.logger.Error("retry task", "task_id", task.ID, "error", err)
			continue
		}
		requeued++
	}
	return requeued, nil
}
