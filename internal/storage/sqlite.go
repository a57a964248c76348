package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dshills/backport-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested commit (or its diff) is not cached
	ErrNotFound = errors.New("not found")
	// ErrNestedTx is returned by BeginTx on a transaction
	ErrNestedTx = errors.New("nested transactions not supported")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys so commit_files rows follow their commit
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

const commitColumns = `c.id, c.repo, c.commit_id, c.short_id, c.subject, c.message, c.author,
		c.committed_at, c.diff, c.cached_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommit(r rowScanner) (*Commit, error) {
	var c Commit
	var committedAt, cachedAt int64
	var diff sql.NullString
	err := r.Scan(
		&c.RowID, &c.Repo, &c.CommitID, &c.ShortID, &c.Subject, &c.Message, &c.Author,
		&committedAt, &diff, &cachedAt,
	)
	if err != nil {
		return nil, err
	}
	c.CommittedAt = fromUnix(committedAt)
	c.CachedAt = fromUnix(cachedAt)
	c.Diff = diff.String
	return &c, nil
}

// Commit operations

// upsertCommitWithQuerier inserts the commit unless (repo, commit_id) is
// already cached. Existing rows are never modified.
func (s *SQLiteStorage) upsertCommitWithQuerier(ctx context.Context, q querier, commit *Commit) (bool, error) {
	commit.CommitID = normalizeID(commit.CommitID)
	if commit.CommitID == "" {
		return false, types.ErrEmptyCommitID
	}
	commit.ShortID = shortID(commit.CommitID)

	query := `
		INSERT INTO commits (repo, commit_id, short_id, subject, message, author, committed_at, diff, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo, commit_id) DO NOTHING
	`
	now := time.Now().UTC().Truncate(time.Second)
	var diff sql.NullString
	if commit.Diff != "" {
		diff = sql.NullString{String: commit.Diff, Valid: true}
	}
	result, err := q.ExecContext(ctx, query,
		commit.Repo, commit.CommitID, commit.ShortID, commit.Subject, commit.Message,
		commit.Author, toUnix(commit.CommittedAt), diff, now.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to upsert commit: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, err
	}
	commit.RowID = id
	commit.CachedAt = now

	if commit.Diff != "" {
		if err := insertFiles(ctx, q, id, commit.Files); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (s *SQLiteStorage) UpsertCommit(ctx context.Context, commit *Commit) (bool, error) {
	return s.upsertCommitWithQuerier(ctx, s.querier(), commit)
}

func insertFiles(ctx context.Context, q querier, rowID int64, files []string) error {
	for _, f := range files {
		if f == "" {
			continue
		}
		_, err := q.ExecContext(ctx,
			`INSERT OR IGNORE INTO commit_files (commit_row, path, basename) VALUES (?, ?, ?)`,
			rowID, f, path.Base(f))
		if err != nil {
			return fmt.Errorf("failed to record commit files: %w", err)
		}
	}
	return nil
}

// getCommitWithQuerier resolves an id prefix. Prefixes of at least the
// canonical length use the short_id index; an ambiguous prefix resolves to
// the newest commit.
func (s *SQLiteStorage) getCommitWithQuerier(ctx context.Context, q querier, repo, idPrefix string) (*Commit, error) {
	prefix := normalizeID(idPrefix)
	if prefix == "" {
		return nil, ErrNotFound
	}

	var row *sql.Row
	if len(prefix) >= types.DefaultIDPrefixLen {
		row = q.QueryRowContext(ctx, `
			SELECT `+commitColumns+`
			FROM commits c
			WHERE c.repo = ? AND c.short_id = ? AND substr(c.commit_id, 1, ?) = ?
			ORDER BY c.committed_at DESC
			LIMIT 1
		`, repo, shortID(prefix), len(prefix), prefix)
	} else {
		row = q.QueryRowContext(ctx, `
			SELECT `+commitColumns+`
			FROM commits c
			WHERE c.repo = ? AND substr(c.short_id, 1, ?) = ?
			ORDER BY c.committed_at DESC
			LIMIT 1
		`, repo, len(prefix), prefix)
	}

	commit, err := scanCommit(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := loadFiles(ctx, q, []*Commit{commit}); err != nil {
		return nil, err
	}
	return commit, nil
}

func (s *SQLiteStorage) GetCommit(ctx context.Context, repo, idPrefix string) (*Commit, error) {
	return s.getCommitWithQuerier(ctx, s.querier(), repo, idPrefix)
}

// setCommitDiffWithQuerier stores a fetched diff. A diff that is already
// cached is kept as is.
func (s *SQLiteStorage) setCommitDiffWithQuerier(ctx context.Context, q querier, repo, commitID, diff string, files []string) error {
	commit, err := s.getCommitWithQuerier(ctx, q, repo, commitID)
	if err != nil {
		return err
	}
	if commit.Diff != "" || diff == "" {
		return nil
	}

	_, err = q.ExecContext(ctx,
		`UPDATE commits SET diff = ? WHERE id = ? AND (diff IS NULL OR diff = '')`,
		diff, commit.RowID)
	if err != nil {
		return fmt.Errorf("failed to set commit diff: %w", err)
	}
	return insertFiles(ctx, q, commit.RowID, files)
}

func (s *SQLiteStorage) SetCommitDiff(ctx context.Context, repo, commitID, diff string, files []string) error {
	return s.setCommitDiffWithQuerier(ctx, s.querier(), repo, commitID, diff, files)
}

// getCommitDiffWithQuerier returns ErrNotFound when the commit is not cached
// or has no diff yet
func (s *SQLiteStorage) getCommitDiffWithQuerier(ctx context.Context, q querier, repo, commitID string) (string, error) {
	commit, err := s.getCommitWithQuerier(ctx, q, repo, commitID)
	if err != nil {
		return "", err
	}
	if commit.Diff == "" {
		return "", ErrNotFound
	}
	return commit.Diff, nil
}

func (s *SQLiteStorage) GetCommitDiff(ctx context.Context, repo, commitID string) (string, error) {
	return s.getCommitDiffWithQuerier(ctx, s.querier(), repo, commitID)
}

// Search operations

// searchTextWithQuerier runs a BM25-ranked FTS5 query. Terms are matched as
// quoted prefixes and combined with OR.
func (s *SQLiteStorage) searchTextWithQuerier(ctx context.Context, q querier, repo string, terms []string, limit int) ([]*Commit, error) {
	expr := ftsExpression(terms)
	if expr == "" {
		return []*Commit{}, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT `+commitColumns+`
		FROM commits_fts
		JOIN commits c ON c.id = commits_fts.rowid
		WHERE commits_fts MATCH ? AND c.repo = ?
		ORDER BY bm25(commits_fts)
		LIMIT ?
	`, expr, repo, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("text search failed: %w", err)
	}
	return collectCommits(ctx, q, rows)
}

func (s *SQLiteStorage) SearchCommitsText(ctx context.Context, repo string, terms []string, limit int) ([]*Commit, error) {
	return s.searchTextWithQuerier(ctx, s.querier(), repo, terms, limit)
}

func (s *SQLiteStorage) searchFilesWithQuerier(ctx context.Context, q querier, repo string, paths []string, limit int) ([]*Commit, error) {
	placeholders := make([]string, 0, len(paths))
	args := []interface{}{repo}
	for _, p := range paths {
		if p == "" {
			continue
		}
		placeholders = append(placeholders, "?")
		args = append(args, p)
	}
	if len(placeholders) == 0 {
		return []*Commit{}, nil
	}
	args = append(args, sqlLimit(limit))

	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT `+commitColumns+`
		FROM commits c
		JOIN commit_files f ON f.commit_row = c.id
		WHERE c.repo = ? AND f.path IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY c.committed_at DESC, c.id DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("file search failed: %w", err)
	}
	return collectCommits(ctx, q, rows)
}

func (s *SQLiteStorage) SearchCommitsByFiles(ctx context.Context, repo string, paths []string, limit int) ([]*Commit, error) {
	return s.searchFilesWithQuerier(ctx, s.querier(), repo, paths, limit)
}

func (s *SQLiteStorage) searchTimeWithQuerier(ctx context.Context, q querier, repo string, since, until time.Time, limit int) ([]*Commit, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+commitColumns+`
		FROM commits c
		WHERE c.repo = ? AND c.committed_at > 0 AND c.committed_at BETWEEN ? AND ?
		ORDER BY c.committed_at DESC, c.id DESC
		LIMIT ?
	`, repo, since.Unix(), until.Unix(), sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("time window search failed: %w", err)
	}
	return collectCommits(ctx, q, rows)
}

func (s *SQLiteStorage) SearchCommitsByTime(ctx context.Context, repo string, since, until time.Time, limit int) ([]*Commit, error) {
	return s.searchTimeWithQuerier(ctx, s.querier(), repo, since, until, limit)
}

// collectCommits drains rows and attaches recorded files
func collectCommits(ctx context.Context, q querier, rows *sql.Rows) ([]*Commit, error) {
	commits := make([]*Commit, 0)
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		commits = append(commits, c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if err := loadFiles(ctx, q, commits); err != nil {
		return nil, err
	}
	return commits, nil
}

// loadFiles fills Files for every commit in one query
func loadFiles(ctx context.Context, q querier, commits []*Commit) error {
	if len(commits) == 0 {
		return nil
	}

	byRow := make(map[int64]*Commit, len(commits))
	placeholders := make([]string, len(commits))
	args := make([]interface{}, len(commits))
	for i, c := range commits {
		byRow[c.RowID] = c
		placeholders[i] = "?"
		args[i] = c.RowID
	}

	rows, err := q.QueryContext(ctx, `
		SELECT commit_row, path FROM commit_files
		WHERE commit_row IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY commit_row, path
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to load commit files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var rowID int64
		var p string
		if err := rows.Scan(&rowID, &p); err != nil {
			return err
		}
		if c, ok := byRow[rowID]; ok {
			c.Files = append(c.Files, p)
		}
	}
	return rows.Err()
}

// Maintenance operations

// getStatusWithQuerier collects cache statistics for one repository
func (s *SQLiteStorage) getStatusWithQuerier(ctx context.Context, q querier, repo string) (*CacheStatus, error) {
	status := &CacheStatus{Repo: repo}

	var oldest, newest, lastCached int64
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN diff IS NOT NULL AND diff != '' THEN 1 ELSE 0 END), 0),
		       COALESCE(MIN(NULLIF(committed_at, 0)), 0),
		       COALESCE(MAX(committed_at), 0),
		       COALESCE(MAX(cached_at), 0)
		FROM commits
		WHERE repo = ?
	`, repo).Scan(&status.Commits, &status.CommitsWithDiff, &oldest, &newest, &lastCached)
	if err != nil {
		return nil, fmt.Errorf("failed to count commits: %w", err)
	}
	status.Oldest = fromUnix(oldest)
	status.Newest = fromUnix(newest)
	status.LastCachedAt = fromUnix(lastCached)

	build, err := s.lastBuildWithQuerier(ctx, q, repo)
	if err != nil {
		return nil, err
	}
	status.LastBuildAt = build.BuiltAt
	status.FilesIndexed = build.WithFiles

	// Count distinct touched paths
	err = q.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT f.path) FROM commit_files f
		JOIN commits c ON c.id = f.commit_row
		WHERE c.repo = ?
	`, repo).Scan(&status.Files)
	if err != nil {
		return nil, fmt.Errorf("failed to count files: %w", err)
	}

	// Calculate database size
	var pageCount, pageSize int
	if err := q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.SizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	if v, err := currentVersion(ctx, q); err == nil {
		status.SchemaVersion = v.String()
	}

	var ftsName string
	ftsErr := q.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='commits_fts'").Scan(&ftsName)

	status.Health = Health{
		DatabaseAccessible: true,
		FTSIndexBuilt:      ftsErr == nil,
	}
	return status, nil
}

func (s *SQLiteStorage) GetStatus(ctx context.Context, repo string) (*CacheStatus, error) {
	return s.getStatusWithQuerier(ctx, s.querier(), repo)
}

// pruneExpiredWithQuerier deletes commits cached before the cutoff
func (s *SQLiteStorage) pruneExpiredWithQuerier(ctx context.Context, q querier, repo string, cachedBefore time.Time) (int, error) {
	result, err := q.ExecContext(ctx,
		`DELETE FROM commits WHERE repo = ? AND cached_at < ?`, repo, cachedBefore.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune expired commits: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *SQLiteStorage) PruneExpired(ctx context.Context, repo string, cachedBefore time.Time) (int, error) {
	return s.pruneExpiredWithQuerier(ctx, s.querier(), repo, cachedBefore)
}

// pruneExcessWithQuerier keeps only the keep newest commits of repo
func (s *SQLiteStorage) pruneExcessWithQuerier(ctx context.Context, q querier, repo string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	result, err := q.ExecContext(ctx, `
		DELETE FROM commits
		WHERE repo = ? AND id NOT IN (
			SELECT id FROM commits WHERE repo = ?
			ORDER BY committed_at DESC, id DESC
			LIMIT ?
		)
	`, repo, repo, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune excess commits: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *SQLiteStorage) PruneExcess(ctx context.Context, repo string, keep int) (int, error) {
	return s.pruneExcessWithQuerier(ctx, s.querier(), repo, keep)
}

// recordBuildWithQuerier replaces the build record of repo
func (s *SQLiteStorage) recordBuildWithQuerier(ctx context.Context, q querier, repo string, build Build) error {
	withFiles := 0
	if build.WithFiles {
		withFiles = 1
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO cache_builds (repo, built_at, commits, with_files) VALUES (?, ?, ?, ?)
		ON CONFLICT(repo) DO UPDATE SET
			built_at = excluded.built_at,
			commits = excluded.commits,
			with_files = excluded.with_files
	`, repo, build.BuiltAt.Unix(), build.Commits, withFiles)
	if err != nil {
		return fmt.Errorf("failed to record cache build: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) RecordBuild(ctx context.Context, repo string, build Build) error {
	return s.recordBuildWithQuerier(ctx, s.querier(), repo, build)
}

// lastBuildWithQuerier returns the zero Build when repo was never built
func (s *SQLiteStorage) lastBuildWithQuerier(ctx context.Context, q querier, repo string) (Build, error) {
	var (
		builtAt   int64
		build     Build
		withFiles int
	)
	err := q.QueryRowContext(ctx,
		`SELECT built_at, commits, with_files FROM cache_builds WHERE repo = ?`, repo,
	).Scan(&builtAt, &build.Commits, &withFiles)
	if errors.Is(err, sql.ErrNoRows) {
		return Build{}, nil
	}
	if err != nil {
		return Build{}, fmt.Errorf("failed to read cache build: %w", err)
	}
	build.BuiltAt = fromUnix(builtAt)
	build.WithFiles = withFiles != 0
	return build, nil
}

func (s *SQLiteStorage) LastBuild(ctx context.Context, repo string) (Build, error) {
	return s.lastBuildWithQuerier(ctx, s.querier(), repo)
}

// ftsExpression quotes each term as an FTS5 prefix phrase and ORs them
func ftsExpression(terms []string) string {
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		parts = append(parts, `"`+strings.ReplaceAll(t, `"`, `""`)+`"*`)
	}
	return strings.Join(parts, " OR ")
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func shortID(id string) string {
	if len(id) <= types.DefaultIDPrefixLen {
		return id
	}
	return id[:types.DefaultIDPrefixLen]
}

// Commit times are stored as unix seconds; 0 means unknown
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

// sqlLimit maps a non-positive limit to SQLite's "no limit"
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// Transaction implementations delegate to the storage helpers with the
// transaction as querier

func (t *sqliteTx) UpsertCommit(ctx context.Context, commit *Commit) (bool, error) {
	return t.storage.upsertCommitWithQuerier(ctx, t.querier(), commit)
}

func (t *sqliteTx) GetCommit(ctx context.Context, repo, idPrefix string) (*Commit, error) {
	return t.storage.getCommitWithQuerier(ctx, t.querier(), repo, idPrefix)
}

func (t *sqliteTx) SetCommitDiff(ctx context.Context, repo, commitID, diff string, files []string) error {
	return t.storage.setCommitDiffWithQuerier(ctx, t.querier(), repo, commitID, diff, files)
}

func (t *sqliteTx) GetCommitDiff(ctx context.Context, repo, commitID string) (string, error) {
	return t.storage.getCommitDiffWithQuerier(ctx, t.querier(), repo, commitID)
}

func (t *sqliteTx) SearchCommitsText(ctx context.Context, repo string, terms []string, limit int) ([]*Commit, error) {
	return t.storage.searchTextWithQuerier(ctx, t.querier(), repo, terms, limit)
}

func (t *sqliteTx) SearchCommitsByFiles(ctx context.Context, repo string, paths []string, limit int) ([]*Commit, error) {
	return t.storage.searchFilesWithQuerier(ctx, t.querier(), repo, paths, limit)
}

func (t *sqliteTx) SearchCommitsByTime(ctx context.Context, repo string, since, until time.Time, limit int) ([]*Commit, error) {
	return t.storage.searchTimeWithQuerier(ctx, t.querier(), repo, since, until, limit)
}

func (t *sqliteTx) GetStatus(ctx context.Context, repo string) (*CacheStatus, error) {
	return t.storage.getStatusWithQuerier(ctx, t.querier(), repo)
}

func (t *sqliteTx) PruneExpired(ctx context.Context, repo string, cachedBefore time.Time) (int, error) {
	return t.storage.pruneExpiredWithQuerier(ctx, t.querier(), repo, cachedBefore)
}

func (t *sqliteTx) PruneExcess(ctx context.Context, repo string, keep int) (int, error) {
	return t.storage.pruneExcessWithQuerier(ctx, t.querier(), repo, keep)
}

func (t *sqliteTx) RecordBuild(ctx context.Context, repo string, build Build) error {
	return t.storage.recordBuildWithQuerier(ctx, t.querier(), repo, build)
}

func (t *sqliteTx) LastBuild(ctx context.Context, repo string) (Build, error) {
	return t.storage.lastBuildWithQuerier(ctx, t.querier(), repo)
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, ErrNestedTx
}
