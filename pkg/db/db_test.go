package db

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"clinicbooking/pkg/config"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert booking: %w", &pgconn.PgError{Code: UniqueViolation, ConstraintName: "booking_requests_access_code_key"})

	if !IsUniqueViolation(err, "") {
		t.Fatalf("expected unique violation")
	}
	if !IsUniqueViolation(err, "booking_requests_access_code_key") {
		t.Fatalf("expected match on constraint name")
	}
	if IsUniqueViolation(err, "reviews_booking_requester_key") {
		t.Fatalf("expected no match on other constraint")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}, "") {
		t.Fatalf("foreign key violation is not a unique violation")
	}
}

func TestConnStrings_PreferExplicitURLs(t *testing.T) {
	cfg := config.Config{DB: config.DBConfig{User: "u", Password: "p", Host: "h", Port: "5432", Name: "n"}}
	if got := runtimeConnString(cfg); got != "postgres://u:p@h:5432/n?sslmode=disable" {
		t.Fatalf("unexpected dsn: %s", got)
	}

	cfg.DatabaseURL = "postgres://pooler/db?pgbouncer=true"
	if got := migrationConnString(cfg); got != cfg.DatabaseURL {
		t.Fatalf("expected fallback to runtime url, got %s", got)
	}

	cfg.DirectURL = "postgres://direct/db"
	if got := migrationConnString(cfg); got != cfg.DirectURL {
		t.Fatalf("expected direct url, got %s", got)
	}
}
