package storage

import (
	"context"
	"time"

	"github.com/dshills/backport-mcp/pkg/types"
)

// Storage defines the interface for the local commit cache
type Storage interface {
	// Commit operations
	UpsertCommit(ctx context.Context, commit *Commit) (inserted bool, err error)
	GetCommit(ctx context.Context, repo, idPrefix string) (*Commit, error)
	SetCommitDiff(ctx context.Context, repo, commitID, diff string, files []string) error
	GetCommitDiff(ctx context.Context, repo, commitID string) (string, error)

	// Search operations
	SearchCommitsText(ctx context.Context, repo string, terms []string, limit int) ([]*Commit, error)
	SearchCommitsByFiles(ctx context.Context, repo string, paths []string, limit int) ([]*Commit, error)
	SearchCommitsByTime(ctx context.Context, repo string, since, until time.Time, limit int) ([]*Commit, error)

	// Maintenance operations
	GetStatus(ctx context.Context, repo string) (*CacheStatus, error)
	PruneExpired(ctx context.Context, repo string, cachedBefore time.Time) (int, error)
	PruneExcess(ctx context.Context, repo string, keep int) (int, error)
	RecordBuild(ctx context.Context, repo string, build Build) error
	LastBuild(ctx context.Context, repo string) (Build, error) // Zero value when never built

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Commit is one cached commit of one repository
type Commit struct {
	RowID       int64
	Repo        string
	CommitID    string // Full id, lowercase
	ShortID     string // First types.DefaultIDPrefixLen characters of CommitID
	Subject     string
	Message     string
	Author      string
	CommittedAt time.Time // Zero when unknown
	Diff        string    // Empty until fetched
	Files       []string  // Recorded with the diff
	CachedAt    time.Time
}

// Build records the last completed cache build of a repository
type Build struct {
	BuiltAt time.Time
	Commits int
	// WithFiles is set when every listed commit had its diff, and so its
	// file list, stored by the build
	WithFiles bool
}

// IsZero reports whether no build was recorded
func (b Build) IsZero() bool { return b.BuiltAt.IsZero() }

// CacheStatus contains statistics about one repository's cache
type CacheStatus struct {
	Repo            string    `json:"repository"`
	Commits         int       `json:"commits"`
	CommitsWithDiff int       `json:"commitsWithDiff"`
	Files           int       `json:"files"`
	Oldest          time.Time `json:"oldest"`
	Newest          time.Time `json:"newest"`
	LastCachedAt    time.Time `json:"lastCachedAt"`
	LastBuildAt     time.Time `json:"lastBuildAt"` // Zero until a cache build completes
	FilesIndexed    bool      `json:"filesIndexed"` // Last build stored every file list
	SizeMB          float64   `json:"sizeMb"`
	SchemaVersion   string    `json:"schemaVersion"`
	Health          Health    `json:"health"`
}

// Health represents the health of the cache database
type Health struct {
	DatabaseAccessible bool `json:"databaseAccessible"`
	FTSIndexBuilt      bool `json:"ftsIndexBuilt"`
}

// ToRecord converts a cached commit to a types.CommitRecord
func (c *Commit) ToRecord() *types.CommitRecord {
	return &types.CommitRecord{
		ID:            c.CommitID,
		Subject:       c.Subject,
		Message:       c.Message,
		DiffText:      c.Diff,
		Author:        c.Author,
		Timestamp:     c.CommittedAt,
		ModifiedFiles: c.Files,
	}
}

// FromRecord converts a types.CommitRecord to a cached commit of repo.
// Files are only carried when the record has a diff.
func FromRecord(repo string, rec *types.CommitRecord) *Commit {
	c := &Commit{
		Repo:        repo,
		CommitID:    normalizeID(rec.ID),
		Subject:     rec.Subject,
		Message:     rec.Message,
		Author:      rec.Author,
		CommittedAt: rec.Timestamp,
	}
	c.ShortID = shortID(c.CommitID)
	if rec.HasDiff() {
		c.Diff = rec.DiffText
		c.Files = rec.Files()
	}
	if c.Message == "" {
		c.Message = c.Subject
	}
	return c
}
