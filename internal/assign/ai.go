package assign

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/verger-io/verger/internal/domain"
)

// CandidateScore — оценка одного кандидата внешним ранжировщиком.
type CandidateScore struct {
	// WorkerID — кандидат.
	WorkerID uuid.UUID

	// Score — оценка, больше — лучше.
	Score float64

	// Reason — человекочитаемое обоснование.
	Reason string
}

// Ranker — внешний ранжировщик кандидатов (AI matching collaborator).
//
// Запрос: требования task + список кандидатов. Ответ: оценка и
// обоснование на кандидата. Реализация живёт вне этого репозитория.
type Ranker interface {
	Rank(ctx context.Context, task *domain.Task, candidates []domain.Worker) ([]CandidateScore, error)
}

// rankExternal вызывает внешний ранжировщик с ограниченным таймаутом.
//
// При ошибке или таймауте деградирует до WorkloadBalance вместо
// блокировки оркестратора: task с eligible-пулом не должен ждать
// следующего sweep'а из-за недоступности внешнего сервиса.
//
// Оценки для неизвестных кандидатов отбрасываются: eligibility и
// ёмкость внешнему сервису не доверяются.
func (e *Engine) rankExternal(ctx context.Context, task *domain.Task, candidates []domain.Worker) ([]scored, domain.AssignmentStrategy) {
	if e.ranker == nil {
		e.logger.Warn("ai_match requested but no ranker configured, degrading to workload_balance",
			"task_id", task.ID,
		)
		return e.rankLocal(ctx, task, candidates, WorkloadBalanceScorer{}), domain.StrategyWorkloadBalance
	}

	rankCtx, cancel := context.WithTimeout(ctx, e.aiTimeout)
	defer cancel()

	scores, err := e.ranker.Rank(rankCtx, task, candidates)
	if err != nil {
		e.logger.Warn("external ranker failed, degrading to workload_balance",
			"task_id", task.ID,
			"error", err,
		)
		return e.rankLocal(ctx, task, candidates, WorkloadBalanceScorer{}), domain.StrategyWorkloadBalance
	}

	byID := make(map[uuid.UUID]CandidateScore, len(scores))
	for _, cs := range scores {
		byID[cs.WorkerID] = cs
	}

	var ranked []scored
	for i := range candidates {
		cs, ok := byID[candidates[i].ID]
		if !ok {
			// Ранжировщик промолчал про кандидата — нулевая оценка
			ranked = append(ranked, scored{worker: &candidates[i], reason: "not scored by ranker"})
			continue
		}
		ranked = append(ranked, scored{
			worker: &candidates[i],
			score:  cs.Score,
			reason: cs.Reason,
		})
	}
	sortScored(ranked)
	return ranked, domain.StrategyAIMatch
}

// DefaultAITimeout — таймаут вызова внешнего ранжировщика по умолчанию.
const DefaultAITimeout = 5 * time.Second
