package repo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}
	if !isUniqueViolation(unique) {
		t.Error("23505 should be recognized as a unique violation")
	}
	if !isUniqueViolation(fmt.Errorf("insert skill: %w", unique)) {
		t.Error("wrapped 23505 should be recognized")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation is not a unique violation")
	}
	if isUniqueViolation(errors.New("broker unavailable")) {
		t.Error("plain errors are not unique violations")
	}
}

func TestNullString(t *testing.T) {
	if nullString("") != nil {
		t.Error("empty string should map to NULL")
	}
	got := nullString("corr-1")
	if got == nil || *got != "corr-1" {
		t.Error("non-empty string should round-trip")
	}
}
