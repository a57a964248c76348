package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dshills/backport-mcp/internal/advisor"
	"github.com/dshills/backport-mcp/internal/analyzer"
	"github.com/dshills/backport-mcp/internal/config"
	"github.com/dshills/backport-mcp/internal/index"
	"github.com/dshills/backport-mcp/internal/metrics"
	"github.com/dshills/backport-mcp/internal/searcher"
	"github.com/dshills/backport-mcp/internal/storage"
	"github.com/dshills/backport-mcp/pkg/types"
)

// ErrCacheDisabled is returned by cache operations when cache.disabled is set
var ErrCacheDisabled = errors.New("commit cache is disabled")

// Opener opens the upstream index of one configured repository
type Opener func(ctx context.Context, name string, repo config.Repository) (index.RepositoryIndex, error)

// Options configures a Workspace. Only Config is required.
type Options struct {
	Config  *config.Config
	Store   storage.Storage // Opened from cache.database_path when nil and the cache is enabled
	Advisor advisor.Advisor // Built from the advisor section when nil
	Metrics *metrics.Recorder
	Logger  *slog.Logger
	Opener  Opener // Defaults to a git CLI index per repository
}

// Workspace owns the long-lived collaborators shared by every request: the
// commit cache, the advisor and one searcher per configured repository.
// Repositories are opened on first use.
type Workspace struct {
	cfg     *config.Config
	store   storage.Storage
	advisor advisor.Advisor
	metrics *metrics.Recorder
	logger  *slog.Logger
	opener  Opener

	ownsStore   bool
	ownsAdvisor bool

	mu    sync.Mutex
	repos map[string]*Repo
}

// Repo is one opened repository
type Repo struct {
	Name     string
	Index    index.RepositoryIndex // The cached index when the cache is enabled
	Cache    *index.CachedIndex    // Nil when the cache is disabled
	Searcher *searcher.Searcher
}

// New creates a Workspace
func New(opts Options) (*Workspace, error) {
	if opts.Config == nil {
		return nil, errors.New("workspace requires a configuration")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	w := &Workspace{
		cfg:     opts.Config,
		store:   opts.Store,
		advisor: opts.Advisor,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		opener:  opts.Opener,
		repos:   make(map[string]*Repo),
	}
	if w.opener == nil {
		w.opener = w.openGit
	}

	if w.store == nil && !w.cfg.Cache.Disabled {
		store, err := openStore(w.cfg.Cache.DatabasePath)
		if err != nil {
			return nil, err
		}
		w.store = store
		w.ownsStore = true
	}

	if w.advisor == nil {
		adv, err := advisor.New(w.cfg.AdvisorConfig(w.logger))
		if err != nil {
			w.closeStore()
			return nil, fmt.Errorf("failed to initialize advisor: %w", err)
		}
		w.advisor = adv
		w.ownsAdvisor = true
	}

	w.logger.Debug("workspace ready",
		"repositories", w.cfg.RepositoryNames(),
		"cache", w.store != nil,
		"advisor", w.advisor.Provider())
	return w, nil
}

func openStore(path string) (storage.Storage, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

// Config returns the workspace configuration
func (w *Workspace) Config() *config.Config { return w.cfg }

// Advisor returns the shared advisor
func (w *Workspace) Advisor() advisor.Advisor { return w.advisor }

// Store returns the commit cache, or nil when it is disabled
func (w *Workspace) Store() storage.Storage { return w.store }

// Repo returns the named repository, opening it on first use
func (w *Workspace) Repo(ctx context.Context, name string) (*Repo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if r, ok := w.repos[name]; ok {
		return r, nil
	}

	repoCfg, err := w.cfg.Repository(name)
	if err != nil {
		return nil, err
	}
	upstream, err := w.opener(ctx, name, repoCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository %s: %w", name, err)
	}

	r := &Repo{Name: name, Index: upstream}
	if w.store != nil {
		cached, err := index.NewCachedIndex(index.CacheOptions{
			Repo:          name,
			Store:         w.store,
			Upstream:      upstream,
			DiffCacheSize: w.cfg.Cache.DiffCacheSize,
			Logger:        w.logger,
			Metrics:       w.metrics,
		})
		if err != nil {
			return nil, err
		}
		r.Index = cached
		r.Cache = cached
	}

	r.Searcher, err = searcher.New(r.Index, w.cfg.SearcherOptions(w.logger.With("repository", name), w.metrics))
	if err != nil {
		return nil, err
	}

	w.repos[name] = r
	return r, nil
}

func (w *Workspace) openGit(ctx context.Context, name string, repo config.Repository) (index.RepositoryIndex, error) {
	return index.NewGitIndex(ctx, index.GitOptions{
		Path:           repo.Path,
		Branch:         repo.Branch,
		Timeout:        w.cfg.Performance.GitTimeout,
		MaxOutputBytes: int(w.cfg.Performance.MaxGitOutputBytes),
		Logger:         w.logger.With("repository", name),
		Metrics:        w.metrics,
	})
}

// Analyzer returns an analyzer searching the named target repository
func (w *Workspace) Analyzer(ctx context.Context, target string) (*analyzer.Analyzer, error) {
	r, err := w.Repo(ctx, target)
	if err != nil {
		return nil, err
	}
	return analyzer.New(r.Searcher, w.advisor, w.cfg.AnalyzerConfig(w.logger.With("target", target)))
}

// ResolveCommit looks up id in the named repository and returns the record
// with its diff populated
func (w *Workspace) ResolveCommit(ctx context.Context, repo, id string) (*types.CommitRecord, error) {
	r, err := w.Repo(ctx, repo)
	if err != nil {
		return nil, err
	}
	rec, err := r.Index.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s in %s: %w", id, repo, err)
	}
	full, err := index.FillDiff(ctx, r.Index, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch diff of %s in %s: %w", id, repo, err)
	}
	return full, nil
}

// ResolveCommits resolves every id in order and stops at the first failure
func (w *Workspace) ResolveCommits(ctx context.Context, repo string, ids []string) ([]*types.CommitRecord, error) {
	recs := make([]*types.CommitRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := w.ResolveCommit(ctx, repo, id)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// BuildCache warms the cache of the named repository. opts.MaxCommits
// defaults to cache.max_cached_commits and opts.Workers to
// performance.max_workers.
func (w *Workspace) BuildCache(ctx context.Context, repo string, opts index.WarmOptions) (*index.WarmResult, error) {
	r, err := w.Repo(ctx, repo)
	if err != nil {
		return nil, err
	}
	if r.Cache == nil {
		return nil, ErrCacheDisabled
	}
	if opts.MaxCommits <= 0 {
		opts.MaxCommits = w.cfg.Cache.MaxCachedCommits
	}
	if opts.Workers <= 0 {
		opts.Workers = w.cfg.Performance.MaxWorkers
	}

	result, err := r.Cache.Warm(ctx, opts)
	if err != nil {
		return nil, err
	}
	// Cached outcomes may now be stale negatives
	r.Searcher.InvalidateCache()
	return result, nil
}

// CacheStatus reports the cache contents of the named repository. The
// repository does not need to be opened.
func (w *Workspace) CacheStatus(ctx context.Context, repo string) (*storage.CacheStatus, error) {
	if _, err := w.cfg.Repository(repo); err != nil {
		return nil, err
	}
	if w.store == nil {
		return nil, ErrCacheDisabled
	}
	return w.store.GetStatus(ctx, repo)
}

// BuildInProgress reports whether a cache build of repo is running
func (w *Workspace) BuildInProgress(repo string) bool {
	w.mu.Lock()
	r, ok := w.repos[repo]
	w.mu.Unlock()
	return ok && r.Cache != nil && r.Cache.Building()
}

// PruneResult counts the rows removed by PruneCache
type PruneResult struct {
	Expired int `json:"expired"`
	Excess  int `json:"excess"`
}

// PruneCache drops cached commits older than cache.expiry_days, then trims
// the repository down to cache.max_cached_commits
func (w *Workspace) PruneCache(ctx context.Context, repo string, now time.Time) (*PruneResult, error) {
	if _, err := w.cfg.Repository(repo); err != nil {
		return nil, err
	}
	if w.store == nil {
		return nil, ErrCacheDisabled
	}

	expired, err := w.store.PruneExpired(ctx, repo, w.cfg.CacheExpiry(now))
	if err != nil {
		return nil, err
	}
	excess, err := w.store.PruneExcess(ctx, repo, w.cfg.Cache.MaxCachedCommits)
	if err != nil {
		return nil, err
	}
	w.logger.Info("cache pruned", "repository", repo, "expired", expired, "excess", excess)
	return &PruneResult{Expired: expired, Excess: excess}, nil
}

// Close releases the collaborators the workspace created
func (w *Workspace) Close() error {
	var errs []error
	if w.ownsAdvisor && w.advisor != nil {
		errs = append(errs, w.advisor.Close())
	}
	errs = append(errs, w.closeStore())
	return errors.Join(errs...)
}

func (w *Workspace) closeStore() error {
	if w.ownsStore && w.store != nil {
		return w.store.Close()
	}
	return nil
}
