// Package storage provides the SQLite commit cache behind the repository index.
//
// The cache holds, per repository:
//   - commit metadata (id, subject, message, author, commit time)
//   - diffs, filled in lazily once fetched
//   - the paths each cached diff touches
//   - an FTS5 index over subjects and messages
//
// # Database Schema
//
// Tables:
//   - schema_version: applied migrations (semver)
//   - commits: one row per (repo, commit_id); short_id holds the canonical prefix
//   - commits_fts: external-content FTS5 table kept in sync by triggers
//   - commit_files: touched paths and basenames, cascading with their commit
//
// Commit and cache times are stored as unix seconds so both drivers read them
// back identically. A commit time of 0 means unknown.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("./commit_cache.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	inserted, err := db.UpsertCommit(ctx, storage.FromRecord("5.10", rec))
//	commit, err := db.GetCommit(ctx, "5.10", "1a2b3c4d5e6f")
//	if errors.Is(err, storage.ErrNotFound) {
//	    // not cached
//	}
//
// # Insert-if-absent
//
// UpsertCommit never modifies an existing row, so concurrent writers caching
// the same commit are safe. SetCommitDiff only fills a diff that is still
// empty.
//
// # Search
//
//	db.SearchCommitsText(ctx, repo, []string{"memory", "leak"}, 100) // BM25 ranked
//	db.SearchCommitsByFiles(ctx, repo, []string{"net/ipv4/tcp.c"}, 200)
//	db.SearchCommitsByTime(ctx, repo, since, until, 500)
//
// Text terms are quoted prefix phrases joined with OR.
//
// # Transactions
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	for _, c := range commits {
//	    if _, err := tx.UpsertCommit(ctx, c); err != nil {
//	        return err
//	    }
//	}
//	return tx.Commit()
//
// # Build Modes
//
// The default build uses modernc.org/sqlite (pure Go). Building with
// -tags "sqlite_cgo sqlite_fts5" switches to github.com/mattn/go-sqlite3.
package storage
