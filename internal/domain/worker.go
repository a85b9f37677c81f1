package domain

import (
	"time"

	"github.com/google/uuid"
)

// Worker — исполнитель задач из ростера.
//
// Worker принадлежит Registry. Мутации проходят только через его
// choke-point API: ReserveCapacity (назначение), ReleaseCapacity
// (завершение/отмена), RecordCompletion (статистика) и переключение
// доступности администратором. Прямые записи workload в обход Registry
// запрещены.
type Worker struct {
	// ID — уникальный идентификатор worker'а.
	ID uuid.UUID `json:"id"`

	// Name — отображаемое имя.
	Name string `json:"name"`

	// Role — роль в команде (например, "editor", "volunteer").
	Role string `json:"role"`

	// Available — доступен ли worker для назначений.
	Available bool `json:"available"`

	// Autoassignable — может ли auto-assignment выбирать этого worker'а.
	// Manual назначение возможно и при false.
	Autoassignable bool `json:"autoassignable"`

	// MaxConcurrentTasks — максимум одновременных активных назначений.
	MaxConcurrentTasks int `json:"max_concurrent_tasks"`

	// CurrentWorkload — количество активных назначений.
	// Инвариант: не превышает MaxConcurrentTasks при резервировании
	// через ReserveCapacity; manual override может нарушить, но флагуется.
	CurrentWorkload int `json:"current_workload"`

	// CompletedCount — количество успешно завершённых tasks.
	CompletedCount int `json:"completed_count"`

	// FailedCount — количество неудачных tasks.
	FailedCount int `json:"failed_count"`

	// AvgCompletionMs — скользящее среднее времени выполнения, мс.
	AvgCompletionMs int64 `json:"avg_completion_ms"`

	// Rating — рейтинг worker'а (0..5).
	Rating float64 `json:"rating"`

	// Skills — профиль навыков: пары (навык, уровень).
	Skills []SkillGrade `json:"skills,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkloadScore возвращает нагрузку, нормализованную в [0,1]
// относительно ёмкости. Перегруженный worker (manual override) — 1.
func (w *Worker) WorkloadScore() float64 {
	if w.MaxConcurrentTasks <= 0 {
		return 1
	}
	score := float64(w.CurrentWorkload) / float64(w.MaxConcurrentTasks)
	if score > 1 {
		return 1
	}
	return score
}

// HasCapacity возвращает true, если есть свободная ёмкость.
func (w *Worker) HasCapacity() bool {
	return w.CurrentWorkload < w.MaxConcurrentTasks
}

// ProficiencyFor возвращает уровень владения навыком.
// Если навыка нет в профиле — ("", false).
func (w *Worker) ProficiencyFor(skillCode string) (Proficiency, bool) {
	for _, g := range w.Skills {
		if g.SkillCode == skillCode {
			return g.Proficiency, true
		}
	}
	return "", false
}

// HasSkills проверяет, что профиль worker'а покрывает все требуемые навыки.
func (w *Worker) HasSkills(required []string) bool {
	for _, code := range required {
		if _, ok := w.ProficiencyFor(code); !ok {
			return false
		}
	}
	return true
}

// SkillRankSum возвращает сумму рангов по требуемым навыкам.
// Используется стратегией SkillMatch.
func (w *Worker) SkillRankSum(required []string) int {
	var sum int
	for _, code := range required {
		if p, ok := w.ProficiencyFor(code); ok {
			sum += p.Rank()
		}
	}
	return sum
}

// RecordCompletion обновляет счётчики и скользящее среднее длительности.
func (w *Worker) RecordCompletion(durationMs int64, success bool) {
	total := w.CompletedCount + w.FailedCount
	if success {
		w.CompletedCount++
	} else {
		w.FailedCount++
	}
	// Скользящее среднее по всем завершениям
	w.AvgCompletionMs = (w.AvgCompletionMs*int64(total) + durationMs) / int64(total+1)
	w.UpdatedAt = time.Now()
}
