package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.2.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
	{
		Version: "1.2.0",
		Up:      migrationV12Up,
		Down:    migrationV12Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Cached commits, one row per (repository, commit)
CREATE TABLE IF NOT EXISTS commits (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    repo TEXT NOT NULL,
    commit_id TEXT NOT NULL,
    short_id TEXT NOT NULL,
    subject TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    author TEXT NOT NULL DEFAULT '',
    committed_at INTEGER NOT NULL DEFAULT 0,
    diff TEXT,
    cached_at INTEGER NOT NULL DEFAULT 0,
    UNIQUE(repo, commit_id)
);

CREATE INDEX IF NOT EXISTS idx_commits_short ON commits(repo, short_id);
CREATE INDEX IF NOT EXISTS idx_commits_time ON commits(repo, committed_at);
CREATE INDEX IF NOT EXISTS idx_commits_cached ON commits(repo, cached_at);

-- Full-text search on commit messages
CREATE VIRTUAL TABLE IF NOT EXISTS commits_fts USING fts5(
    subject, message,
    content='commits',
    content_rowid='id'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS commits_ai AFTER INSERT ON commits BEGIN
    INSERT INTO commits_fts(rowid, subject, message)
    VALUES (new.id, new.subject, new.message);
END;

CREATE TRIGGER IF NOT EXISTS commits_ad AFTER DELETE ON commits BEGIN
    INSERT INTO commits_fts(commits_fts, rowid, subject, message)
    VALUES ('delete', old.id, old.subject, old.message);
END;

CREATE TRIGGER IF NOT EXISTS commits_au AFTER UPDATE OF subject, message ON commits BEGIN
    INSERT INTO commits_fts(commits_fts, rowid, subject, message)
    VALUES ('delete', old.id, old.subject, old.message);
    INSERT INTO commits_fts(rowid, subject, message)
    VALUES (new.id, new.subject, new.message);
END;
`

const migrationV1Down = `
DROP TRIGGER IF EXISTS commits_au;
DROP TRIGGER IF EXISTS commits_ad;
DROP TRIGGER IF EXISTS commits_ai;

DROP TABLE IF EXISTS commits_fts;
DROP TABLE IF EXISTS commits;
DROP TABLE IF EXISTS schema_version;
`

const migrationV11Up = `
-- Paths touched by a commit, recorded once its diff is known
CREATE TABLE IF NOT EXISTS commit_files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    commit_row INTEGER NOT NULL,
    path TEXT NOT NULL,
    basename TEXT NOT NULL,
    FOREIGN KEY (commit_row) REFERENCES commits(id) ON DELETE CASCADE,
    UNIQUE(commit_row, path)
);

CREATE INDEX IF NOT EXISTS idx_commit_files_path ON commit_files(path);
CREATE INDEX IF NOT EXISTS idx_commit_files_basename ON commit_files(basename);
`

const migrationV11Down = `
DROP TABLE IF EXISTS commit_files;
`

const migrationV12Up = `
-- Completed cache builds; searches trust the cache only after one
CREATE TABLE IF NOT EXISTS cache_builds (
    repo TEXT PRIMARY KEY,
    built_at INTEGER NOT NULL,
    commits INTEGER NOT NULL DEFAULT 0,
    with_files INTEGER NOT NULL DEFAULT 0
);
`

const migrationV12Down = `
DROP TABLE IF EXISTS cache_builds;
`

// currentVersion returns the highest recorded schema version, or 0.0.0 when
// nothing has been applied. Versions applied within the same second share an
// applied_at value, so the order comes from semver rather than time.
func currentVersion(ctx context.Context, q querier) (*semver.Version, error) {
	zero := semver.MustParse("0.0.0")

	var tableName string
	err := q.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return zero, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := q.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	current := zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", raw, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}

// ApplyMigrations runs all pending migrations, each in its own transaction
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		// Skip if already applied
		if !current.LessThan(migrationVersion) {
			continue
		}

		if err := applyMigration(ctx, db, migration); err != nil {
			return err
		}
		current = migrationVersion
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %s: %w", migration.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
		return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
	}
	return tx.Commit()
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return fmt.Errorf("no migrations to rollback")
	}

	// Find migration
	var migration *Migration
	for i := range AllMigrations {
		v, err := semver.NewVersion(AllMigrations[i].Version)
		if err == nil && v.Equal(current) {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	// Execute rollback
	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}

	// Remove version record; the 1.0.0 rollback drops the table itself
	_, err = db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", migration.Version)
	if err != nil && migration.Version != "1.0.0" {
		return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
	}

	return nil
}
