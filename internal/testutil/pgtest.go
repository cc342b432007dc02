// Package testutil provides shared test infrastructure for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

// Tables holds every table created by migrations/, children first.
var Tables = []string{
	"risk_assessments",
	"investment_participations",
	"documents",
	"behavioral_signals",
	"social_signals",
	"market_signals",
	"investments",
	"borrowers",
}

// PGTest connects to POSTGRES_URL, brings the schema up to date with the
// goose migrations, and returns the pool plus a cleanup func that empties
// Tables and closes the pool. The test is skipped without POSTGRES_URL.
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
func PGTest(t testing.TB) (*sql.DB, func()) {
	t.Helper()

	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("pgtest: open: %v", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: ping: %v", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: goose dialect: %v", err)
	}
	goose.SetLogger(goose.NopLogger())
	if err := goose.UpContext(ctx, db, migrationsDir(t)); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: migrate: %v", err)
	}

	// Start from empty tables in case a previous run aborted before cleanup.
	truncate(ctx, t, db)

	return db, func() {
		truncate(ctx, t, db)
		_ = db.Close()
	}
}

// migrationsDir resolves migrations/ at the module root, two levels above
// this file. MIGRATIONS_DIR overrides it.
func migrationsDir(t testing.TB) string {
	if dir := os.Getenv("MIGRATIONS_DIR"); dir != "" {
		return dir
	}
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("pgtest: cannot locate source file")
	}
	dir := filepath.Join(filepath.Dir(file), "..", "..", "migrations")
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("pgtest: migrations directory %s not found", dir)
	}
	return dir
}

func truncate(ctx context.Context, t testing.TB, db *sql.DB) {
	stmt := "TRUNCATE " + strings.Join(Tables, ", ") + " CASCADE" // #nosec G202 -- fixed table list
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		t.Logf("pgtest: truncate: %v", err)
	}
}
