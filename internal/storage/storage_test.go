package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

func TestMigrateFresh(t *testing.T) {
	db := setupTestDB(t)

	runner := NewMigrationRunner(db)
	if err := runner.Migrate(); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	for _, table := range append(Tables, "schema_migrations") {
		if !tableExists(t, db, table) {
			t.Errorf("%s table not created", table)
		}
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := setupTestDB(t)
	runner := NewMigrationRunner(db)

	if err := runner.Migrate(); err != nil {
		t.Fatalf("first migration failed: %v", err)
	}
	if err := runner.Migrate(); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}

	applied, err := runner.Applied()
	if err != nil {
		t.Fatalf("applied: %v", err)
	}
	if len(applied) != 1 || applied[0] != "001" {
		t.Errorf("expected [001], got %v", applied)
	}
}

func TestMigrateChecksumMismatch(t *testing.T) {
	db := setupTestDB(t)
	runner := NewMigrationRunner(db)

	if err := runner.Migrate(); err != nil {
		t.Fatalf("initial migration failed: %v", err)
	}

	if _, err := db.Exec("UPDATE schema_migrations SET checksum = 'invalid' WHERE version = '001'"); err != nil {
		t.Fatalf("failed to corrupt checksum: %v", err)
	}

	if err := runner.Migrate(); err == nil {
		t.Error("expected checksum mismatch error, got nil")
	}
}

func TestGatewayDeleteCascades(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cascade.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		`INSERT INTO gateways (id, name, url, token) VALUES ('gw_test', 'Test', 'http://localhost:4445', 'tok')`,
		`INSERT INTO sessions (id, gateway_id, session_key) VALUES ('gw_test_main', 'gw_test', 'main')`,
		`INSERT INTO messages (id, session_id, role, content) VALUES ('gw_test_main_0', 'gw_test_main', 'user', 'Hello')`,
		`INSERT INTO cron_jobs (id, gateway_id, name, schedule_kind, schedule_data) VALUES ('gw_test_j1', 'gw_test', 'Job', 'every', '{"everyMs":60000}')`,
		`INSERT INTO usage_stats (gateway_id, date, model, input_tokens, output_tokens, cost_usd) VALUES ('gw_test', '2026-02-16', 'claude-3-opus', 1000, 500, 0.05)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}

	var status string
	if err := db.QueryRow(`SELECT status FROM gateways WHERE id = 'gw_test'`).Scan(&status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != "unknown" {
		t.Fatalf("expected default status unknown, got %q", status)
	}

	if _, err := db.Exec(`DELETE FROM gateways WHERE id = 'gw_test'`); err != nil {
		t.Fatalf("delete gateway: %v", err)
	}

	for _, table := range Tables {
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if count != 0 {
			t.Errorf("expected %s empty after cascade, got %d rows", table, count)
		}
	}
}

func TestForeignKeyRejectsOrphan(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fk.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`INSERT INTO sessions (id, gateway_id, session_key) VALUES ('x_main', 'missing', 'main')`)
	if err == nil {
		t.Fatal("expected foreign key violation for orphaned session")
	}
}

func TestStatusCheckConstraint(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "check.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`INSERT INTO gateways (id, name, url, token, status) VALUES ('gw', 'n', 'u', 't', 'sleepy')`)
	if err == nil {
		t.Fatal("expected check constraint violation for unknown status")
	}
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpfile.Close()

	db, err := sql.Open("sqlite", DSN(tmpfile.Name()))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
		os.Remove(tmpfile.Name())
	})

	return db
}

func tableExists(t *testing.T, db *sql.DB, tableName string) bool {
	t.Helper()

	var exists int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&exists)
	if err != nil {
		t.Fatalf("failed to check table existence: %v", err)
	}
	return exists > 0
}
