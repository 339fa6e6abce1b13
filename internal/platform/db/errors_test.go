package db

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(pgx.ErrNoRows) {
		t.Error("expected pgx.ErrNoRows to be not found")
	}
	if !IsNotFound(fmt.Errorf("unit: %w", pgx.ErrNoRows)) {
		t.Error("expected wrapped ErrNoRows to be not found")
	}
	if !IsNotFound(fmt.Errorf("test line 7: %w", ErrNotFound)) {
		t.Error("expected wrapped ErrNotFound to be not found")
	}
	if IsNotFound(fmt.Errorf("connection reset")) {
		t.Error("unexpected not found")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})) {
		t.Error("expected unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation is not a unique violation")
	}
}
