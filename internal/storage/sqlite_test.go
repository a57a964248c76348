package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/backport-mcp/pkg/types"
)

const (
	repo    = "5.10"
	fullID  = "1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b"
	otherID = "ffeeddccbbaa99887766554433221100ffeeddcc"

	tcpDiff = `--- a/net/ipv4/tcp.c
+++ b/net/ipv4/tcp.c
@@ -10,2 +10,3 @@ static int tcp_connect(struct sock *sk)
 	int err;
+	kfree_skb(skb);
 	return err;
`
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func sampleCommit(id, subject string, ts time.Time) *Commit {
	return &Commit{
		Repo:        repo,
		CommitID:    id,
		Subject:     subject,
		Message:     subject + "\n\nbody text",
		Author:      "Dev",
		CommittedAt: ts,
	}
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)
}

func TestUpsertCommit_InsertIfAbsent(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	ts := time.Unix(1700000000, 0)

	c := sampleCommit(fullID, "net: fix memory leak in tcp_connect", ts)
	inserted, err := storage.UpsertCommit(ctx, c)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Greater(t, c.RowID, int64(0))
	assert.Equal(t, fullID[:12], c.ShortID)

	// Second write of the same commit changes nothing
	again := sampleCommit(fullID, "rewritten subject", ts)
	inserted, err = storage.UpsertCommit(ctx, again)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := storage.GetCommit(ctx, repo, fullID)
	require.NoError(t, err)
	assert.Equal(t, "net: fix memory leak in tcp_connect", got.Subject)
	assert.Equal(t, ts.Unix(), got.CommittedAt.Unix())

	_, err = storage.UpsertCommit(ctx, &Commit{Repo: repo})
	assert.ErrorIs(t, err, types.ErrEmptyCommitID)
}

func TestUpsertCommit_Concurrent(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	insertedCount := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted, err := storage.UpsertCommit(ctx, sampleCommit(fullID, "subject", time.Time{}))
			assert.NoError(t, err)
			if inserted {
				mu.Lock()
				insertedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, insertedCount)
}

func TestGetCommit_Prefixes(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.UpsertCommit(ctx, sampleCommit(fullID, "subject", time.Time{}))
	require.NoError(t, err)

	tests := []struct {
		name   string
		prefix string
		found  bool
	}{
		{"full id", fullID, true},
		{"canonical prefix", fullID[:12], true},
		{"long prefix", fullID[:20], true},
		{"short prefix", fullID[:7], true},
		{"upper case", "1A2B3C4D5E6F", true},
		{"wrong long prefix", "1a2b3c4d5e6f0000", false},
		{"other id", otherID, false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := storage.GetCommit(ctx, repo, tt.prefix)
			if tt.found {
				require.NoError(t, err)
				assert.Equal(t, fullID, got.CommitID)
			} else {
				assert.ErrorIs(t, err, ErrNotFound)
			}
		})
	}

	_, err = storage.GetCommit(ctx, "other-repo", fullID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommitDiff(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.UpsertCommit(ctx, sampleCommit(fullID, "subject", time.Time{}))
	require.NoError(t, err)

	_, err = storage.GetCommitDiff(ctx, repo, fullID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, storage.SetCommitDiff(ctx, repo, fullID[:12], tcpDiff, []string{"net/ipv4/tcp.c"}))

	diff, err := storage.GetCommitDiff(ctx, repo, fullID)
	require.NoError(t, err)
	assert.Equal(t, tcpDiff, diff)

	// An existing diff is kept
	require.NoError(t, storage.SetCommitDiff(ctx, repo, fullID, "other", []string{"x.c"}))
	diff, err = storage.GetCommitDiff(ctx, repo, fullID)
	require.NoError(t, err)
	assert.Equal(t, tcpDiff, diff)

	got, err := storage.GetCommit(ctx, repo, fullID)
	require.NoError(t, err)
	assert.Equal(t, []string{"net/ipv4/tcp.c"}, got.Files)

	assert.ErrorIs(t, storage.SetCommitDiff(ctx, repo, otherID, tcpDiff, nil), ErrNotFound)
}

func TestSearchCommitsText(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	commits := []*Commit{
		sampleCommit(fullID, "net: fix memory leak in tcp_connect", time.Time{}),
		sampleCommit(otherID, "mm: fix page leaks in reclaim", time.Time{}),
		sampleCommit("0011223344556677", "fs: rename helper", time.Time{}),
	}
	for _, c := range commits {
		_, err := storage.UpsertCommit(ctx, c)
		require.NoError(t, err)
	}
	// Same commit cached for another repository
	_, err := storage.UpsertCommit(ctx, &Commit{Repo: "mainline", CommitID: fullID, Subject: "net: fix memory leak"})
	require.NoError(t, err)

	results, err := storage.SearchCommitsText(ctx, repo, []string{"leak"}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, repo, r.Repo)
	}

	results, err = storage.SearchCommitsText(ctx, repo, []string{"tcp_connect", "rename"}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = storage.SearchCommitsText(ctx, repo, []string{`quo"te`}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = storage.SearchCommitsText(ctx, repo, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = storage.SearchCommitsText(ctx, repo, []string{"leak"}, 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchCommitsByFiles(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	first := sampleCommit(fullID, "net: one", base)
	first.Diff = tcpDiff
	first.Files = []string{"net/ipv4/tcp.c", "include/net/tcp.h"}
	second := sampleCommit(otherID, "net: two", base.Add(time.Hour))
	second.Diff = tcpDiff
	second.Files = []string{"net/ipv4/tcp.c"}
	third := sampleCommit("0011223344556677", "fs: three", base)
	third.Diff = "diff"
	third.Files = []string{"fs/ext4/inode.c"}

	for _, c := range []*Commit{first, second, third} {
		_, err := storage.UpsertCommit(ctx, c)
		require.NoError(t, err)
	}

	results, err := storage.SearchCommitsByFiles(ctx, repo, []string{"net/ipv4/tcp.c", "include/net/tcp.h"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, otherID, results[0].CommitID) // newest first
	assert.Equal(t, fullID, results[1].CommitID)
	assert.Equal(t, []string{"include/net/tcp.h", "net/ipv4/tcp.c"}, results[1].Files)

	results, err = storage.SearchCommitsByFiles(ctx, repo, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchCommitsByTime(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	_, err := storage.UpsertCommit(ctx, sampleCommit(fullID, "inside", base))
	require.NoError(t, err)
	_, err = storage.UpsertCommit(ctx, sampleCommit(otherID, "outside", base.Add(-400*24*time.Hour)))
	require.NoError(t, err)
	_, err = storage.UpsertCommit(ctx, sampleCommit("0011223344556677", "undated", time.Time{}))
	require.NoError(t, err)

	results, err := storage.SearchCommitsByTime(ctx, repo, base.Add(-180*24*time.Hour), base.Add(180*24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "inside", results[0].Subject)
}

func TestTransaction(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.UpsertCommit(ctx, sampleCommit(fullID, "rolled back", time.Time{}))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	_, err = storage.GetCommit(ctx, repo, fullID)
	assert.ErrorIs(t, err, ErrNotFound)

	tx, err = storage.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.UpsertCommit(ctx, sampleCommit(fullID, "committed", time.Time{}))
	require.NoError(t, err)
	got, err := tx.GetCommit(ctx, repo, fullID)
	require.NoError(t, err)
	assert.Equal(t, "committed", got.Subject)

	_, err = tx.BeginTx(ctx)
	assert.ErrorIs(t, err, ErrNestedTx)
	require.NoError(t, tx.Commit())

	_, err = storage.GetCommit(ctx, repo, fullID)
	assert.NoError(t, err)
}

func TestGetStatus(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	c := sampleCommit(fullID, "one", base)
	c.Diff = tcpDiff
	c.Files = []string{"net/ipv4/tcp.c"}
	_, err := storage.UpsertCommit(ctx, c)
	require.NoError(t, err)
	_, err = storage.UpsertCommit(ctx, sampleCommit(otherID, "two", base.Add(time.Hour)))
	require.NoError(t, err)

	status, err := storage.GetStatus(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Commits)
	assert.Equal(t, 1, status.CommitsWithDiff)
	assert.Equal(t, 1, status.Files)
	assert.Equal(t, base.Unix(), status.Oldest.Unix())
	assert.Equal(t, base.Add(time.Hour).Unix(), status.Newest.Unix())
	assert.Equal(t, CurrentSchemaVersion, status.SchemaVersion)
	assert.True(t, status.Health.DatabaseAccessible)
	assert.True(t, status.Health.FTSIndexBuilt)
	assert.False(t, status.LastCachedAt.IsZero())

	empty, err := storage.GetStatus(ctx, "unknown")
	require.NoError(t, err)
	assert.Zero(t, empty.Commits)
	assert.True(t, empty.Oldest.IsZero())
}

func TestRecordBuild(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	built, err := storage.LastBuild(ctx, repo)
	require.NoError(t, err)
	assert.True(t, built.IsZero())

	first := time.Unix(1700000000, 0)
	require.NoError(t, storage.RecordBuild(ctx, repo, Build{BuiltAt: first, Commits: 10, WithFiles: true}))

	built, err = storage.LastBuild(ctx, repo)
	require.NoError(t, err)
	assert.True(t, built.WithFiles)

	// A later build without diffs clears WithFiles
	require.NoError(t, storage.RecordBuild(ctx, repo, Build{BuiltAt: first.Add(time.Hour), Commits: 12}))

	built, err = storage.LastBuild(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, first.Add(time.Hour).Unix(), built.BuiltAt.Unix())
	assert.Equal(t, 12, built.Commits)
	assert.False(t, built.WithFiles)

	status, err := storage.GetStatus(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, built.BuiltAt, status.LastBuildAt)
	assert.False(t, status.FilesIndexed)

	other, err := storage.LastBuild(ctx, "other")
	require.NoError(t, err)
	assert.True(t, other.IsZero())

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.RecordBuild(ctx, "other", Build{BuiltAt: first, Commits: 1}))
	require.NoError(t, tx.Rollback())
	other, err = storage.LastBuild(ctx, "other")
	require.NoError(t, err)
	assert.True(t, other.IsZero(), "rolled back")
}

func TestPrune(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	ids := []string{fullID, otherID, "0011223344556677"}
	for i, id := range ids {
		c := sampleCommit(id, "subject", base.Add(time.Duration(i)*time.Hour))
		c.Diff = tcpDiff
		c.Files = []string{"net/ipv4/tcp.c"}
		_, err := storage.UpsertCommit(ctx, c)
		require.NoError(t, err)
	}

	removed, err := storage.PruneExcess(ctx, repo, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = storage.GetCommit(ctx, repo, fullID) // oldest
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleted rows leave the FTS index and the file table
	results, err := storage.SearchCommitsText(ctx, repo, []string{"subject"}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	var files int
	require.NoError(t, storage.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM commit_files").Scan(&files))
	assert.Equal(t, 2, files)

	removed, err = storage.PruneExpired(ctx, repo, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	status, err := storage.GetStatus(ctx, repo)
	require.NoError(t, err)
	assert.Zero(t, status.Commits)
}

func TestRecordConversion(t *testing.T) {
	rec := &types.CommitRecord{
		ID:        "1A2B3C4D5E6F7A8B",
		Subject:   "net: fix",
		Message:   "net: fix\n\nbody",
		DiffText:  tcpDiff,
		Author:    "Dev",
		Timestamp: time.Unix(1700000000, 0),
	}

	c := FromRecord(repo, rec)
	assert.Equal(t, "1a2b3c4d5e6f7a8b", c.CommitID)
	assert.Equal(t, "1a2b3c4d5e6f", c.ShortID)
	assert.Equal(t, []string{"net/ipv4/tcp.c"}, c.Files)

	back := c.ToRecord()
	assert.Equal(t, c.CommitID, back.ID)
	assert.Equal(t, rec.Subject, back.Subject)
	assert.Equal(t, []string{"net/ipv4/tcp.c"}, back.Files())

	noDiff := FromRecord(repo, &types.CommitRecord{ID: "abc", Subject: "s"})
	assert.Empty(t, noDiff.Files)
	assert.Equal(t, "s", noDiff.Message)
}
