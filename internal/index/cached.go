package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/backport-mcp/internal/diffparse"
	"github.com/dshills/backport-mcp/internal/metrics"
	"github.com/dshills/backport-mcp/internal/storage"
	"github.com/dshills/backport-mcp/pkg/types"
)

// DefaultDiffCacheSize is the number of diffs kept in memory per index
const DefaultDiffCacheSize = 512

// CacheOptions configures a CachedIndex
type CacheOptions struct {
	Repo          string          // Cache namespace, usually the configured repository name
	Store         storage.Storage // Required
	Upstream      RepositoryIndex // Optional; without it the index answers from the cache only
	DiffCacheSize int
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
}

// CachedIndex is a read-through cache over a persistent commit store and an
// optional upstream index. Id and diff lookups are answered from the store
// when it has the commit. Searches use the store only once a cache build of
// the repository has completed, since lazily written records are a partial
// history. File searches additionally need a build that stored every diff,
// because file lists are only known for commits whose diff was fetched.
// Misses go to the upstream and the records it returns are written back with
// insert-if-absent upserts.
type CachedIndex struct {
	repo     string
	store    storage.Storage
	upstream RepositoryIndex
	diffs    *lru.Cache[string, string]
	logger   *slog.Logger
	metrics  *metrics.Recorder
	lock     BuildLock
	built    atomic.Bool
	files    atomic.Bool
}

// NewCachedIndex creates a CachedIndex
func NewCachedIndex(opts CacheOptions) (*CachedIndex, error) {
	if opts.Store == nil {
		return nil, errors.New("cached index requires a store")
	}
	if strings.TrimSpace(opts.Repo) == "" {
		return nil, errors.New("cached index requires a repository name")
	}
	size := opts.DiffCacheSize
	if size <= 0 {
		size = DefaultDiffCacheSize
	}
	diffs, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create diff cache: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &CachedIndex{
		repo:     opts.Repo,
		store:    opts.Store,
		upstream: opts.Upstream,
		diffs:    diffs,
		logger:   logger.With(slog.String("repo", opts.Repo)),
		metrics:  opts.Metrics,
	}, nil
}

// Repo returns the cache namespace
func (c *CachedIndex) Repo() string { return c.repo }

// FindByID looks the id up in the store, then upstream
func (c *CachedIndex) FindByID(ctx context.Context, idPrefix string) (*types.CommitRecord, error) {
	commit, err := c.store.GetCommit(ctx, c.repo, idPrefix)
	switch {
	case err == nil:
		c.metrics.ObserveCache("commit", true)
		return commit.ToRecord(), nil
	case errors.Is(err, storage.ErrNotFound):
		c.metrics.ObserveCache("commit", false)
	default:
		c.logger.Warn("commit cache lookup failed",
			slog.String("commit", idPrefix),
			slog.String("error", err.Error()))
	}

	if c.upstream == nil {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return nil, ErrNotFound
	}

	rec, err := c.upstream.FindByID(ctx, idPrefix)
	if err != nil {
		return nil, err
	}
	c.writeBack(ctx, rec)
	return rec, nil
}

// SearchByKeywords searches the full-text index, falling back upstream when
// the cache has no match
func (c *CachedIndex) SearchByKeywords(ctx context.Context, keywords []string, limit int) ([]*types.CommitRecord, error) {
	return c.search(ctx, "keywords", c.Complete,
		func() ([]*storage.Commit, error) {
			return c.store.SearchCommitsText(ctx, c.repo, keywords, limit)
		},
		func(up RepositoryIndex) ([]*types.CommitRecord, error) {
			return up.SearchByKeywords(ctx, keywords, limit)
		})
}

// SearchByFiles searches cached file lists, falling back upstream when the
// cache has no match or its file lists are incomplete
func (c *CachedIndex) SearchByFiles(ctx context.Context, paths []string, limit int) ([]*types.CommitRecord, error) {
	return c.search(ctx, "files", c.FilesComplete,
		func() ([]*storage.Commit, error) {
			return c.store.SearchCommitsByFiles(ctx, c.repo, paths, limit)
		},
		func(up RepositoryIndex) ([]*types.CommitRecord, error) {
			return up.SearchByFiles(ctx, paths, limit)
		})
}

// SearchByTimeWindow searches cached commit times, falling back to an
// upstream that supports time-window queries
func (c *CachedIndex) SearchByTimeWindow(ctx context.Context, since, until time.Time, limit int) ([]*types.CommitRecord, error) {
	return c.search(ctx, "time_window", c.Complete,
		func() ([]*storage.Commit, error) {
			return c.store.SearchCommitsByTime(ctx, c.repo, since, until, limit)
		},
		func(up RepositoryIndex) ([]*types.CommitRecord, error) {
			tw, ok := up.(TimeWindowSearcher)
			if !ok {
				return nil, nil
			}
			return tw.SearchByTimeWindow(ctx, since, until, limit)
		})
}

// Recent lists recent commits from the upstream
func (c *CachedIndex) Recent(ctx context.Context, limit int) ([]*types.CommitRecord, error) {
	lister, ok := c.upstream.(Lister)
	if !ok {
		return nil, fmt.Errorf("%w: upstream cannot list commits", ErrUnavailable)
	}
	return lister.Recent(ctx, limit)
}

// GetDiff returns a diff from memory, the store or the upstream, in that
// order, filling the faster layers on the way back
func (c *CachedIndex) GetDiff(ctx context.Context, id string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(id))
	if diff, ok := c.diffs.Get(key); ok {
		c.metrics.ObserveCache("diff", true)
		return diff, nil
	}
	c.metrics.ObserveCache("diff", false)

	diff, err := c.store.GetCommitDiff(ctx, c.repo, key)
	if err == nil {
		c.diffs.Add(key, diff)
		return diff, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		c.logger.Warn("diff cache lookup failed",
			slog.String("commit", id),
			slog.String("error", err.Error()))
	}

	if c.upstream == nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	diff, err = c.upstream.GetDiff(ctx, id)
	if err != nil {
		return "", err
	}
	c.diffs.Add(key, diff)
	c.storeDiff(ctx, key, diff)
	return diff, nil
}

func (c *CachedIndex) search(
	ctx context.Context,
	kind string,
	trusted func(context.Context) bool,
	cached func() ([]*storage.Commit, error),
	upstream func(RepositoryIndex) ([]*types.CommitRecord, error),
) ([]*types.CommitRecord, error) {
	var (
		commits []*storage.Commit
		err     error
	)
	if c.upstream == nil || trusted(ctx) {
		commits, err = cached()
		if err != nil {
			c.logger.Warn("commit cache search failed",
				slog.String("kind", kind),
				slog.String("error", err.Error()))
		}
	}
	if len(commits) > 0 {
		c.metrics.ObserveCache(kind, true)
		recs := make([]*types.CommitRecord, len(commits))
		for i, commit := range commits {
			recs[i] = commit.ToRecord()
		}
		return recs, nil
	}
	c.metrics.ObserveCache(kind, false)

	if c.upstream == nil {
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return nil, nil
	}

	recs, err := upstream(c.upstream)
	if err != nil {
		return nil, err
	}
	c.writeBack(ctx, recs...)
	return recs, nil
}

// Complete reports whether a cache build of the repository has completed,
// in this process or an earlier one
func (c *CachedIndex) Complete(ctx context.Context) bool {
	if c.built.Load() {
		return true
	}
	return !c.lastBuild(ctx).IsZero()
}

// FilesComplete reports whether the last completed build stored the file
// list of every commit it cached
func (c *CachedIndex) FilesComplete(ctx context.Context) bool {
	if c.built.Load() {
		return c.files.Load()
	}
	return c.lastBuild(ctx).WithFiles
}

// lastBuild loads the build record and remembers a completed one
func (c *CachedIndex) lastBuild(ctx context.Context) storage.Build {
	build, err := c.store.LastBuild(ctx, c.repo)
	if err != nil {
		c.logger.Warn("cache build lookup failed", slog.String("error", err.Error()))
		return storage.Build{}
	}
	if !build.IsZero() {
		c.markBuilt(build.WithFiles)
	}
	return build
}

func (c *CachedIndex) markBuilt(withFiles bool) {
	c.files.Store(withFiles)
	c.built.Store(true)
}

// writeBack caches upstream records. Failures are logged, never returned:
// the caller already has its answer.
func (c *CachedIndex) writeBack(ctx context.Context, recs ...*types.CommitRecord) {
	for _, rec := range recs {
		if rec == nil || rec.ID == "" {
			continue
		}
		if _, err := c.store.UpsertCommit(ctx, storage.FromRecord(c.repo, rec)); err != nil {
			c.logger.Warn("failed to cache commit",
				slog.String("commit", rec.ID),
				slog.String("error", err.Error()))
		}
	}
}

func (c *CachedIndex) storeDiff(ctx context.Context, id, diff string) {
	if diff == "" {
		return
	}
	err := c.store.SetCommitDiff(ctx, c.repo, id, diff, diffparse.Parse(diff).Files)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		c.logger.Warn("failed to cache diff",
			slog.String("commit", id),
			slog.String("error", err.Error()))
	}
}
