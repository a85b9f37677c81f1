package assign

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/verger-io/verger/internal/domain"
)

// Scorer — одна стратегия ранжирования.
//
// Score возвращает оценку кандидата для task и человекочитаемое
// объяснение. Больше — лучше. Ничья разрешается Engine'ом: меньшая
// текущая нагрузка, затем меньший id (стабильно, детерминированно).
type Scorer interface {
	Score(ctx context.Context, task *domain.Task, candidate *domain.Worker) (score float64, reason string, err error)
}

// SkillMatchScorer — сумма рангов владения по требуемым навыкам.
type SkillMatchScorer struct{}

func (SkillMatchScorer) Score(_ context.Context, task *domain.Task, candidate *domain.Worker) (float64, string, error) {
	sum := candidate.SkillRankSum(task.RequiredSkills)
	return float64(sum), fmt.Sprintf("skill rank sum %d over %d skills", sum, len(task.RequiredSkills)), nil
}

// WorkloadBalanceScorer — минимальная относительная нагрузка побеждает.
type WorkloadBalanceScorer struct{}

func (WorkloadBalanceScorer) Score(_ context.Context, _ *domain.Task, candidate *domain.Worker) (float64, string, error) {
	ws := candidate.WorkloadScore()
	return -ws, fmt.Sprintf("workload score %.2f (%d/%d)", ws, candidate.CurrentWorkload, candidate.MaxConcurrentTasks), nil
}

// RandomScorer — равномерный случайный выбор.
//
// Safety-net fallback, не для маршрутизации с гарантиями честности.
type RandomScorer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomScorer создаёт RandomScorer с заданным seed.
func NewRandomScorer(seed int64) *RandomScorer {
	return &RandomScorer{rng: rand.New(rand.NewSource(seed))}
}

func (s *RandomScorer) Score(_ context.Context, _ *domain.Task, _ *domain.Worker) (float64, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64(), "uniform random pick", nil
}

// scorerFor возвращает локальную стратегию по имени.
// ai_match и manual обрабатываются Engine'ом отдельно.
func (e *Engine) scorerFor(strategy domain.AssignmentStrategy) (Scorer, error) {
	switch strategy {
	case domain.StrategySkillMatch:
		return SkillMatchScorer{}, nil
	case domain.StrategyWorkloadBalance:
		return WorkloadBalanceScorer{}, nil
	case domain.StrategyRandom:
		return e.random, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategy)
	}
}
