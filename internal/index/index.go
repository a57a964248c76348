package index

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/backport-mcp/pkg/types"
)

var (
	// ErrNotFound is the legitimate absent result of a lookup
	ErrNotFound = errors.New("commit not found")
	// ErrUnavailable marks a collaborator-level failure: the repository, the
	// git binary or the cache could not answer
	ErrUnavailable = errors.New("repository index unavailable")
	// ErrBuildInProgress is returned when a cache build is already running
	ErrBuildInProgress = errors.New("cache build already in progress")
)

// RepositoryIndex answers read-only queries about one commit history.
// Search methods may return fewer results than limit; records may be
// returned without a diff, in which case GetDiff supplies it.
type RepositoryIndex interface {
	FindByID(ctx context.Context, idPrefix string) (*types.CommitRecord, error)
	SearchByKeywords(ctx context.Context, keywords []string, limit int) ([]*types.CommitRecord, error)
	SearchByFiles(ctx context.Context, paths []string, limit int) ([]*types.CommitRecord, error)
	GetDiff(ctx context.Context, id string) (string, error)
}

// TimeWindowSearcher is implemented by indexes that can list commits in a
// time range without any keyword or file filter
type TimeWindowSearcher interface {
	SearchByTimeWindow(ctx context.Context, since, until time.Time, limit int) ([]*types.CommitRecord, error)
}

// Lister is implemented by indexes that can list their most recent commits
type Lister interface {
	Recent(ctx context.Context, limit int) ([]*types.CommitRecord, error)
}

// FillDiff returns rec with its diff populated, fetching it from idx when
// missing. The input record is never modified.
func FillDiff(ctx context.Context, idx RepositoryIndex, rec *types.CommitRecord) (*types.CommitRecord, error) {
	if rec.HasDiff() {
		return rec, nil
	}
	diff, err := idx.GetDiff(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return rec.WithDiff(diff), nil
}
