// Package domain содержит доменные сущности и машину состояний.
//
// Сущности:
//   - Skill/SkillGrade — справочник навыков и профили исполнителей
//   - Worker — исполнитель с ёмкостью и нагрузкой
//   - Task — единица работы внутри workflow
//   - Workflow — агрегат над набором tasks
//   - AuditEntry — неизменяемая запись журнала
//
// Таблицы переходов статусов — единственный источник истины о
// допустимых переходах; все писатели обязаны валидировать переход
// через CanTransitionTo до применения.
package domain
