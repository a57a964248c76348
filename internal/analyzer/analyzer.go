package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/backport-mcp/internal/advisor"
	"github.com/dshills/backport-mcp/internal/depgraph"
	"github.com/dshills/backport-mcp/internal/searcher"
	"github.com/dshills/backport-mcp/pkg/types"
)

// Defaults for Config
const (
	DefaultWorkers          = 4
	DefaultMergedThreshold  = 0.80
	DefaultMaxPrerequisites = 50
	DefaultDiscoverLimit    = 200
)

// ErrMissingFix is returned when a workflow is started without a fix commit
var ErrMissingFix = errors.New("fix commit is required")

// Analyzer coordinates batch searches, dependency planning and the full fix
// workflow against one target history
type Analyzer struct {
	searcher *searcher.Searcher
	advisor  advisor.Advisor
	cfg      Config
	logger   *slog.Logger
}

// Config contains configuration for the analyzer
type Config struct {
	Workers             int     // Concurrent searches (default: 4)
	DependencyThreshold float64 // Candidate retention threshold (default: depgraph.DefaultThreshold)
	StrongThreshold     float64 // Edge creation threshold (default: depgraph.DefaultStrongThreshold)
	MergedThreshold     float64 // A dependency found above this confidence counts as merged (default: 0.80)
	MaxPrerequisites    int     // Retained dependencies per fix, strongest first (default: 50)
	DiscoverLimit       int     // Candidates pulled from the source history (default: 200)
	Logger              *slog.Logger
}

// Statistics contains statistics about a batch search
type Statistics struct {
	Searched      int
	Found         int
	NotFound      int
	InfraErrors   int
	Unknown       int // Items whose search failed or was cancelled
	Duration      time.Duration
	ErrorMessages []string
}

// BatchItem is the result for one source commit of a batch
type BatchItem struct {
	Source  *types.CommitRecord
	Outcome *types.SearchOutcome // May be partial when Unknown
	Unknown bool
	Error   string
}

// New creates an Analyzer. A nil advisor is replaced by the rule-based one.
func New(s *searcher.Searcher, adv advisor.Advisor, cfg Config) (*Analyzer, error) {
	if s == nil {
		return nil, errors.New("analyzer requires a searcher")
	}
	if adv == nil {
		adv = advisor.NewRuleAdvisor()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.DependencyThreshold <= 0 {
		cfg.DependencyThreshold = depgraph.DefaultThreshold
	}
	if cfg.StrongThreshold <= 0 {
		cfg.StrongThreshold = depgraph.DefaultStrongThreshold
	}
	if cfg.MergedThreshold <= 0 {
		cfg.MergedThreshold = DefaultMergedThreshold
	}
	if cfg.MaxPrerequisites <= 0 {
		cfg.MaxPrerequisites = DefaultMaxPrerequisites
	}
	if cfg.DiscoverLimit <= 0 {
		cfg.DiscoverLimit = DefaultDiscoverLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Analyzer{
		searcher: s,
		advisor:  adv,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "analyzer"),
	}, nil
}

// Config returns the effective configuration
func (a *Analyzer) Config() Config {
	return a.cfg
}

// SearchBatch searches every source on a bounded worker pool. Items keep the
// input order. A failed or cancelled search marks only its own item unknown;
// the other items still complete. The returned error is the context error
// when the batch was cancelled.
func (a *Analyzer) SearchBatch(ctx context.Context, sources []*types.CommitRecord) ([]BatchItem, *Statistics, error) {
	start := time.Now()
	items := make([]BatchItem, len(sources))
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	// Worker pool with semaphore
	semaphore := make(chan struct{}, a.cfg.Workers)

	var (
		found    int32
		notFound int32
		infra    int32
		unknown  int32
		mu       sync.Mutex // Protect stats.ErrorMessages
	)

	fail := func(i int, err error) {
		atomic.AddInt32(&unknown, 1)
		items[i].Unknown = true
		items[i].Error = err.Error()
		mu.Lock()
		stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", items[i].Source.ShortID(12), err))
		mu.Unlock()
	}

	var g errgroup.Group
	for i, src := range sources {
		items[i].Source = src
		if src == nil {
			items[i].Source = &types.CommitRecord{}
			fail(i, types.ErrEmptyCommitID)
			continue
		}

		g.Go(func() error {
			select {
			case <-ctx.Done():
				fail(i, ctx.Err())
				return nil
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			outcome, err := a.searcher.Search(ctx, src)
			items[i].Outcome = outcome
			if err != nil {
				fail(i, err)
				return nil
			}

			switch outcome.Status {
			case types.StatusFound:
				atomic.AddInt32(&found, 1)
			case types.StatusInfrastructureError:
				atomic.AddInt32(&infra, 1)
			default:
				atomic.AddInt32(&notFound, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Searched = len(sources)
	stats.Found = int(found)
	stats.NotFound = int(notFound)
	stats.InfraErrors = int(infra)
	stats.Unknown = int(unknown)
	stats.Duration = time.Since(start)

	a.logger.Debug("batch search complete",
		slog.Int("searched", stats.Searched),
		slog.Int("found", stats.Found),
		slog.Int("unknown", stats.Unknown),
		slog.Duration("duration", stats.Duration))

	return items, stats, ctx.Err()
}
