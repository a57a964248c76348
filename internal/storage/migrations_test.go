package storage

import (
	"context"
	"database/sql"
	"testing"
)

func openRawDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open(DriverName, ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	// One connection, otherwise every connection gets its own in-memory database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyMigrations(t *testing.T) {
	db := openRawDB(t)
	ctx := context.Background()

	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	v, err := currentVersion(ctx, db)
	if err != nil {
		t.Fatalf("Failed to read schema version: %v", err)
	}
	if v.String() != CurrentSchemaVersion {
		t.Errorf("Expected schema version %s, got %s", CurrentSchemaVersion, v)
	}

	for _, table := range []string{"schema_version", "commits", "commits_fts", "commit_files"} {
		var name string
		err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err == sql.ErrNoRows {
			t.Errorf("Table %s does not exist", table)
		} else if err != nil {
			t.Errorf("Failed to check table %s: %v", table, err)
		}
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db := openRawDB(t)
	ctx := context.Background()

	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("First migration failed: %v", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("Second migration failed: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		t.Fatalf("Failed to count versions: %v", err)
	}
	if count != len(AllMigrations) {
		t.Errorf("Expected %d version records, got %d", len(AllMigrations), count)
	}
}

func TestCurrentVersionUsesHighestSemver(t *testing.T) {
	db := openRawDB(t)
	ctx := context.Background()

	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	// Same timestamp for every record, as when migrations run within one second
	if _, err := db.ExecContext(ctx, "UPDATE schema_version SET applied_at = '2024-01-01 00:00:00'"); err != nil {
		t.Fatalf("Failed to rewrite applied_at: %v", err)
	}

	v, err := currentVersion(ctx, db)
	if err != nil {
		t.Fatalf("Failed to read schema version: %v", err)
	}
	if v.String() != CurrentSchemaVersion {
		t.Errorf("Expected %s, got %s", CurrentSchemaVersion, v)
	}
}

func TestRollbackMigration(t *testing.T) {
	db := openRawDB(t)
	ctx := context.Background()

	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	if err := RollbackMigration(ctx, db); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	v, err := currentVersion(ctx, db)
	if err != nil {
		t.Fatalf("Failed to read schema version: %v", err)
	}
	if v.String() != "1.1.0" {
		t.Errorf("Expected 1.1.0 after rollback, got %s", v)
	}

	var name string
	err = db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='cache_builds'").Scan(&name)
	if err != sql.ErrNoRows {
		t.Errorf("cache_builds should be dropped, got err=%v", err)
	}

	if err := RollbackMigration(ctx, db); err != nil {
		t.Fatalf("Second rollback failed: %v", err)
	}
	v, _ = currentVersion(ctx, db)
	if v.String() != "1.0.0" {
		t.Errorf("Expected 1.0.0 after second rollback, got %s", v)
	}

	err = db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='commit_files'").Scan(&name)
	if err != sql.ErrNoRows {
		t.Errorf("commit_files should be dropped, got err=%v", err)
	}

	// Re-applying restores the latest schema
	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("Re-apply failed: %v", err)
	}
	v, _ = currentVersion(ctx, db)
	if v.String() != CurrentSchemaVersion {
		t.Errorf("Expected %s after re-apply, got %s", CurrentSchemaVersion, v)
	}
}
