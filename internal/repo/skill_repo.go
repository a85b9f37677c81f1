package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/verger-io/verger/internal/domain"
)

// SkillRepo — репозиторий справочника навыков.
// Справочные данные: создаются администраторами, мутируются редко.
type SkillRepo struct {
	pool *pgxpool.Pool
}

// NewSkillRepo создаёт новый SkillRepo.
func NewSkillRepo(pool *pgxpool.Pool) *SkillRepo {
	return &SkillRepo{pool: pool}
}

// Create создаёт навык в справочнике.
func (r *SkillRepo) Create(ctx context.Context, skill *domain.Skill) error {
	query := `
		INSERT INTO skills (id, code, category, label, required_tools, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		skill.ID,
		skill.Code,
		skill.Category,
		skill.Label,
		skill.RequiredTools,
		skill.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("skill %s: %w", skill.Code, ErrAlreadyExists)
		}
		return fmt.Errorf("insert skill: %w", err)
	}
	return nil
}

// GetByCode возвращает навык по машинному имени.
func (r *SkillRepo) GetByCode(ctx context.Context, code string) (*domain.Skill, error) {
	query := `
		SELECT id, code, category, label, required_tools, created_at
		FROM skills
		WHERE code = $1
	`
	var skill domain.Skill
	err := r.pool.QueryRow(ctx, query, code).Scan(
		&skill.ID,
		&skill.Code,
		&skill.Category,
		&skill.Label,
		&skill.RequiredTools,
		&skill.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan skill: %w", err)
	}
	return &skill, nil
}

// List возвращает весь справочник навыков.
func (r *SkillRepo) List(ctx context.Context) ([]domain.Skill, error) {
	query := `
		SELECT id, code, category, label, required_tools, created_at
		FROM skills
		ORDER BY code ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var skills []domain.Skill
	for rows.Next() {
		var skill domain.Skill
		err := rows.Scan(
			&skill.ID,
			&skill.Code,
			&skill.Category,
			&skill.Label,
			&skill.RequiredTools,
			&skill.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		skills = append(skills, skill)
	}
	return skills, rows.Err()
}
