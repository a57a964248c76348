package index

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/dshills/backport-mcp/internal/diffparse"
	"github.com/dshills/backport-mcp/internal/storage"
)

// DefaultWarmCommits is the number of recent commits a build caches
const DefaultWarmCommits = 10000

// WarmOptions controls a cache build
type WarmOptions struct {
	MaxCommits int  // Recent commits to cache; older cached commits beyond this are pruned
	WithDiffs  bool // Also fetch and store every diff; file searches use the cache only after such a build
	Workers    int  // Concurrent diff fetches (default: runtime.NumCPU())
}

// WarmResult summarizes a cache build
type WarmResult struct {
	Listed     int           `json:"listed"`
	Inserted   int           `json:"inserted"`
	Diffs      int           `json:"diffs"`
	DiffErrors int           `json:"diffErrors"`
	Pruned     int           `json:"pruned"`
	Duration   time.Duration `json:"duration"`
}

// Warm fills the store with the upstream's most recent commits. Only one
// build per index runs at a time; a concurrent call gets ErrBuildInProgress.
func (c *CachedIndex) Warm(ctx context.Context, opts WarmOptions) (*WarmResult, error) {
	if !c.lock.TryAcquire() {
		return nil, ErrBuildInProgress
	}
	defer c.lock.Release()

	if opts.MaxCommits <= 0 {
		opts.MaxCommits = DefaultWarmCommits
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	start := time.Now()
	recs, err := c.Recent(ctx, opts.MaxCommits)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits: %w", err)
	}
	result := &WarmResult{Listed: len(recs)}

	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, rec := range recs {
		inserted, err := tx.UpsertCommit(ctx, storage.FromRecord(c.repo, rec))
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("failed to cache commit %s: %w", rec.ID, err)
		}
		if inserted {
			result.Inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if opts.WithDiffs {
		ids := make([]string, 0, len(recs))
		for _, rec := range recs {
			ids = append(ids, rec.ID)
		}
		diffs, failed, err := c.backfillDiffs(ctx, ids, opts.Workers)
		result.Diffs, result.DiffErrors = diffs, failed
		if err != nil {
			return result, err
		}
	}

	pruned, err := c.store.PruneExcess(ctx, c.repo, opts.MaxCommits)
	if err != nil {
		return result, fmt.Errorf("failed to prune cache: %w", err)
	}
	result.Pruned = pruned
	result.Duration = time.Since(start)

	build := storage.Build{
		BuiltAt:   time.Now(),
		Commits:   result.Listed,
		WithFiles: opts.WithDiffs && result.DiffErrors == 0,
	}
	if err := c.store.RecordBuild(ctx, c.repo, build); err != nil {
		return result, err
	}
	c.markBuilt(build.WithFiles)

	c.logger.Info("cache build complete",
		slog.Int("listed", result.Listed),
		slog.Int("inserted", result.Inserted),
		slog.Int("diffs", result.Diffs),
		slog.Int("diff_errors", result.DiffErrors),
		slog.Int("pruned", result.Pruned),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// Building reports whether a cache build is running
func (c *CachedIndex) Building() bool {
	return c.lock.Busy()
}

// backfillDiffs fetches missing diffs on a goroutine pool. A failed fetch is
// counted and does not stop the others.
func (c *CachedIndex) backfillDiffs(ctx context.Context, ids []string, workers int) (int, int, error) {
	pool, err := ants.NewPool(workers)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		wg     sync.WaitGroup
		stored atomic.Int32
		failed atomic.Int32
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if _, err := c.store.GetCommitDiff(ctx, c.repo, id); err == nil {
			continue
		}

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			diff, err := c.upstream.GetDiff(ctx, id)
			if err != nil {
				failed.Add(1)
				c.logger.Warn("failed to fetch diff",
					slog.String("commit", id),
					slog.String("error", err.Error()))
				return
			}
			if err := c.store.SetCommitDiff(ctx, c.repo, id, diff, diffparse.Parse(diff).Files); err != nil {
				failed.Add(1)
				c.logger.Warn("failed to cache diff",
					slog.String("commit", id),
					slog.String("error", err.Error()))
				return
			}
			stored.Add(1)
		})
		if submitErr != nil {
			wg.Done()
			failed.Add(1)
		}
	}
	wg.Wait()

	return int(stored.Load()), int(failed.Load()), ctx.Err()
}
