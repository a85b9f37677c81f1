package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// querier — общий знаменатель pgxpool.Pool и pgx.Tx для вставок,
// которые должны работать и внутри транзакции.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// nullString возвращает nil для пустой строки (для nullable колонок).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isUniqueViolation распознаёт конфликт уникальности Postgres (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// derefString возвращает пустую строку для nil.
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
