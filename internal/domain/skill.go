package domain

import (
	"time"

	"github.com/google/uuid"
)

// Proficiency — уровень владения навыком.
//
// Именованные уровни отображаются в порядковые ранги (1..4),
// ранги суммируются стратегией SkillMatch.
type Proficiency string

const (
	ProficiencyBeginner     Proficiency = "BEGINNER"
	ProficiencyIntermediate Proficiency = "INTERMEDIATE"
	ProficiencyAdvanced     Proficiency = "ADVANCED"
	ProficiencyExpert       Proficiency = "EXPERT"
)

// proficiencyRanks — отображение уровней в ранги.
var proficiencyRanks = map[Proficiency]int{
	ProficiencyBeginner:     1,
	ProficiencyIntermediate: 2,
	ProficiencyAdvanced:     3,
	ProficiencyExpert:       4,
}

// Rank возвращает порядковый ранг уровня. Неизвестный уровень — 0.
func (p Proficiency) Rank() int {
	return proficiencyRanks[p]
}

// Skill — справочник навыков.
//
// Неизменяемые справочные данные: создаются администраторами,
// мутируются крайне редко.
type Skill struct {
	// ID — уникальный идентификатор навыка.
	ID uuid.UUID `json:"id"`

	// Code — машинное имя навыка (например, "transcription").
	// Task ссылается на навыки по кодам.
	Code string `json:"code"`

	// Category — категория навыка (например, "media", "metadata").
	Category string `json:"category"`

	// Label — человекочитаемое название.
	Label string `json:"label"`

	// RequiredTools — инструменты/возможности, необходимые для навыка.
	RequiredTools []string `json:"required_tools,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// SkillGrade — пара (навык, уровень) в профиле worker'а.
type SkillGrade struct {
	// SkillCode — код навыка из справочника.
	SkillCode string `json:"skill_code"`

	// Proficiency — уровень владения.
	Proficiency Proficiency `json:"proficiency"`
}
