package assign

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/verger-io/verger/internal/domain"
	"github.com/verger-io/verger/internal/registry"
	"github.com/verger-io/verger/internal/telemetry"
)

// Default configuration values.
const (
	defaultReserveAttempts = 3
)

// AssignmentResult — результат попытки назначения.
type AssignmentResult struct {
	// Success — найден ли и зарезервирован исполнитель.
	Success bool

	// WorkerID — победитель (нулевой UUID при неуспехе).
	WorkerID uuid.UUID

	// Score — оценка победителя.
	Score float64

	// Reason — объяснение выбора.
	Reason string

	// Strategy — фактически применённая стратегия.
	// Может отличаться от запрошенной при деградации ai_match.
	Strategy domain.AssignmentStrategy

	// Errors — накопленные нефатальные ошибки (проигранные резервирования).
	Errors []string
}

// Engine — движок назначения исполнителей.
type Engine struct {
	registry        *registry.Registry
	ranker          Ranker
	random          *RandomScorer
	aiTimeout       time.Duration
	reserveAttempts int
	logger          *slog.Logger
}

// Config — конфигурация Engine.
type Config struct {
	// Registry — реестр workers (обязателен).
	Registry *registry.Registry

	// Ranker — внешний ранжировщик для ai_match (опционален;
	// без него ai_match деградирует до workload_balance).
	Ranker Ranker

	// AITimeout — таймаут вызова внешнего ранжировщика (default: 5s).
	AITimeout time.Duration

	// ReserveAttempts — лимит кандидатов при гонке за ёмкость (default: 3).
	ReserveAttempts int

	// RandomSeed — seed для стратегии random (default: время).
	RandomSeed int64

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Engine.
func New(cfg Config) *Engine {
	aiTimeout := cfg.AITimeout
	if aiTimeout <= 0 {
		aiTimeout = DefaultAITimeout
	}

	reserveAttempts := cfg.ReserveAttempts
	if reserveAttempts <= 0 {
		reserveAttempts = defaultReserveAttempts
	}

	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		registry:        cfg.Registry,
		ranker:          cfg.Ranker,
		random:          NewRandomScorer(seed),
		aiTimeout:       aiTimeout,
		reserveAttempts: reserveAttempts,
		logger:          logger,
	}
}

// scored — кандидат с оценкой.
type scored struct {
	worker *domain.Worker
	score  float64
	reason string
}

// sortScored сортирует кандидатов: оценка по убыванию, ничья — меньшая
// нагрузка, затем меньший id. Стабильный детерминированный порядок.
func sortScored(ranked []scored) {
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].worker.CurrentWorkload != ranked[j].worker.CurrentWorkload {
			return ranked[i].worker.CurrentWorkload < ranked[j].worker.CurrentWorkload
		}
		return ranked[i].worker.ID.String() < ranked[j].worker.ID.String()
	})
}

// Assign выбирает и резервирует исполнителя для task.
//
// Назначение транзакционно: ёмкость резервируется только после
// ранжирования, проигранная гонка ведёт к следующему кандидату (до
// reserveAttempts). При неуспехе task остаётся PENDING — результат
// с Success=false, не ошибка.
func (e *Engine) Assign(ctx context.Context, task *domain.Task, strategy domain.AssignmentStrategy) (*AssignmentResult, error) {
	if !task.Status.AllowsReassignment() {
		return nil, fmt.Errorf("%w: %s in status %s", ErrTaskNotAssignable, task.ID, task.Status)
	}
	if strategy == domain.StrategyManual {
		return nil, fmt.Errorf("%w: manual strategy requires AssignManual", ErrUnknownStrategy)
	}

	candidates, err := e.registry.ListEligible(ctx, task.RequiredSkills, 1)
	if err != nil {
		return nil, fmt.Errorf("list eligible: %w", err)
	}
	if len(candidates) == 0 {
		telemetry.AssignmentsTotal.WithLabelValues(string(strategy), "no_candidates").Inc()
		return &AssignmentResult{
			Success:  false,
			Strategy: strategy,
			Errors:   []string{ErrNoEligibleWorkers.Error()},
		}, nil
	}

	ranked, applied, err := e.rank(ctx, task, strategy, candidates)
	if err != nil {
		return nil, err
	}

	result := e.reserveBest(ctx, task, ranked)
	result.Strategy = applied

	outcome := "failed"
	if result.Success {
		outcome = "assigned"
	}
	telemetry.AssignmentsTotal.WithLabelValues(string(applied), outcome).Inc()

	return result, nil
}

// AssignManual валидирует и резервирует указанного вручную worker'а.
//
// Engine не ранжирует: проверяются только eligibility и ёмкость.
// force=true обходит лимит ёмкости — вызывающий обязан записать
// capacity_override в аудит.
func (e *Engine) AssignManual(ctx context.Context, task *domain.Task, workerID uuid.UUID, force bool) (*AssignmentResult, error) {
	if !task.Status.AllowsReassignment() {
		return nil, fmt.Errorf("%w: %s in status %s", ErrTaskNotAssignable, task.ID, task.Status)
	}

	worker, err := e.registry.GetWorker(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("get worker: %w", err)
	}

	if !worker.Available {
		return nil, fmt.Errorf("%w: worker %s unavailable", ErrWorkerNotEligible, workerID)
	}
	if !worker.HasSkills(task.RequiredSkills) {
		return nil, fmt.Errorf("%w: worker %s lacks required skills", ErrWorkerNotEligible, workerID)
	}

	if force {
		if err := e.registry.ForceReserve(ctx, workerID); err != nil {
			return nil, fmt.Errorf("force reserve: %w", err)
		}
		telemetry.AssignmentsTotal.WithLabelValues(string(domain.StrategyManual), "assigned").Inc()
		return &AssignmentResult{
			Success:  true,
			WorkerID: workerID,
			Reason:   "manual assignment (capacity override)",
			Strategy: domain.StrategyManual,
		}, nil
	}

	ok, err := e.registry.ReserveCapacity(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("reserve capacity: %w", err)
	}
	if !ok {
		telemetry.AssignmentsTotal.WithLabelValues(string(domain.StrategyManual), "failed").Inc()
		return &AssignmentResult{
			Success:  false,
			Strategy: domain.StrategyManual,
			Errors:   []string{registry.ErrCapacityExhausted.Error()},
		}, nil
	}

	telemetry.AssignmentsTotal.WithLabelValues(string(domain.StrategyManual), "assigned").Inc()
	return &AssignmentResult{
		Success:  true,
		WorkerID: workerID,
		Reason:   "manual assignment",
		Strategy: domain.StrategyManual,
	}, nil
}

// rank возвращает кандидатов в порядке убывания предпочтения.
func (e *Engine) rank(ctx context.Context, task *domain.Task, strategy domain.AssignmentStrategy, candidates []domain.Worker) ([]scored, domain.AssignmentStrategy, error) {
	if strategy == domain.StrategyAIMatch {
		ranked, applied := e.rankExternal(ctx, task, candidates)
		return ranked, applied, nil
	}

	scorer, err := e.scorerFor(strategy)
	if err != nil {
		return nil, strategy, err
	}
	return e.rankLocal(ctx, task, candidates, scorer), strategy, nil
}

// rankLocal оценивает кандидатов локальной стратегией.
func (e *Engine) rankLocal(ctx context.Context, task *domain.Task, candidates []domain.Worker, scorer Scorer) []scored {
	ranked := make([]scored, 0, len(candidates))
	for i := range candidates {
		score, reason, err := scorer.Score(ctx, task, &candidates[i])
		if err != nil {
			// Локальные стратегии чистые; ошибка оценки — пропуск кандидата
			e.logger.Warn("scorer failed for candidate",
				"task_id", task.ID,
				"worker_id", candidates[i].ID,
				"error", err,
			)
			continue
		}
		ranked = append(ranked, scored{worker: &candidates[i], score: score, reason: reason})
	}
	sortScored(ranked)
	return ranked
}

// reserveBest резервирует ёмкость лучшего кандидата, при гонке переходя
// к следующему в ранге, до reserveAttempts попыток.
func (e *Engine) reserveBest(ctx context.Context, task *domain.Task, ranked []scored) *AssignmentResult {
	result := &AssignmentResult{}

	attempts := e.reserveAttempts
	if attempts > len(ranked) {
		attempts = len(ranked)
	}

	for i := 0; i < attempts; i++ {
		cand := ranked[i]
		ok, err := e.registry.ReserveCapacity(ctx, cand.worker.ID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("reserve %s: %v", cand.worker.ID, err))
			continue
		}
		if !ok {
			// Гонка с другим назначением — следующий кандидат
			result.Errors = append(result.Errors, fmt.Sprintf("reserve %s: capacity exhausted", cand.worker.ID))
			continue
		}

		result.Success = true
		result.WorkerID = cand.worker.ID
		result.Score = cand.score
		result.Reason = cand.reason
		return result
	}

	result.Errors = append(result.Errors, ErrAllReservationsFailed.Error())
	return result
}
