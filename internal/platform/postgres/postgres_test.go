package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.MaxOpenConns != 20 || cfg.MaxIdleConns != 10 {
		t.Fatalf("pool=%d/%d, want 20/10", cfg.MaxOpenConns, cfg.MaxIdleConns)
	}
	if cfg.ApplicationName != "orchestrator" {
		t.Fatalf("ApplicationName=%q", cfg.ApplicationName)
	}

	bad := cfg
	bad.MaxIdleConns = bad.MaxOpenConns + 1
	if err := bad.Validate(); err == nil {
		t.Fatalf("Validate() expected error for idle > open")
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "4")
	t.Setenv("DATABASE_MAX_IDLE_CONNS", "2")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.MaxOpenConns != 4 || cfg.MaxIdleConns != 2 {
		t.Fatalf("pool=%d/%d, want 4/2", cfg.MaxOpenConns, cfg.MaxIdleConns)
	}

	t.Setenv("DATABASE_PING_TIMEOUT", "soon")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error for malformed duration")
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	err := Config{}.Validate()
	if err == nil {
		t.Fatalf("Validate() expected error")
	}
	for _, want := range []string{"DATABASE_URL", "DATABASE_PING_TIMEOUT", "DATABASE_MAX_OPEN_CONNS"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("err=%q, missing %s", err, want)
		}
	}
}

func TestDSNAddsApplicationName(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{url: "postgres://u:p@db:5432/o", want: "postgres://u:p@db:5432/o?application_name=orchestrator"},
		{url: "postgres://u:p@db:5432/o?sslmode=disable", want: "postgres://u:p@db:5432/o?sslmode=disable&application_name=orchestrator"},
		{url: "postgres://u:p@db:5432/o?application_name=other", want: "postgres://u:p@db:5432/o?application_name=other"},
	}
	for _, tc := range cases {
		got, err := Config{URL: tc.url, ApplicationName: "orchestrator"}.dsn()
		if err != nil {
			t.Fatalf("dsn(%q) err=%v", tc.url, err)
		}
		if got != tc.want {
			t.Fatalf("dsn(%q)=%q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		unique    bool
		transient bool
	}{
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, unique: true},
		{name: "wrapped unique", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), unique: true},
		{name: "deadlock", err: fmt.Errorf("add response: %w", &pgconn.PgError{Code: "40P01"}), transient: true},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, transient: true},
		{name: "other", err: errors.New("boom")},
		{name: "nil", err: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsUniqueViolation(tc.err); got != tc.unique {
				t.Fatalf("IsUniqueViolation=%v, want %v", got, tc.unique)
			}
			if got := IsTransient(tc.err); got != tc.transient {
				t.Fatalf("IsTransient=%v, want %v", got, tc.transient)
			}
		})
	}
}
