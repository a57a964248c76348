package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/backport-mcp/internal/index"
	"github.com/dshills/backport-mcp/internal/matcher"
	"github.com/dshills/backport-mcp/internal/metrics"
	"github.com/dshills/backport-mcp/internal/similarity"
	"github.com/dshills/backport-mcp/pkg/types"
)

// Defaults for Options
const (
	DefaultKeywordLimit    = 100
	DefaultFileLimit       = 200
	DefaultTimeWindowLimit = 500
	DefaultSubjectAccept   = 0.85
	DefaultFileDiffAccept  = 0.70
	DefaultTimeWindow      = 180 * 24 * time.Hour
	DefaultMaxCandidates   = 5
	DefaultDiffConcurrency = 8
	DefaultCacheSize       = 1000
	DefaultCacheTTL        = 10 * time.Minute
)

// Stage results reported to metrics
const (
	resultAccepted = "accepted"
	resultRejected = "rejected"
	resultSkipped  = "skipped"
	resultError    = "error"
)

// Options configures a Searcher. Zero values take the defaults above.
type Options struct {
	Matcher           *matcher.Matcher
	KeywordLimit      int
	FileLimit         int
	TimeWindowLimit   int
	MaxKeywords       int
	MaxCandidates     int
	SubjectAccept     float64 // Stage 2 accepts a best confidence strictly above this
	FileDiffAccept    float64 // Stages 3 and 4 accept a best confidence strictly above this
	TimeWindow        time.Duration
	DisableTimeWindow bool
	DiffConcurrency   int
	CacheSize         int
	CacheTTL          time.Duration
	DisableCache      bool
	Logger            *slog.Logger
	Metrics           *metrics.Recorder
}

// cacheEntry represents a cached outcome with expiration time
type cacheEntry struct {
	outcome   *types.SearchOutcome
	expiresAt time.Time
}

// stageResult is what one stage hands back to the search loop
type stageResult struct {
	candidates int
	unknown    int
	results    []types.MatchResult
	accept     float64 // Threshold the best result must exceed
	skipped    bool
	err        error
}

type stage struct {
	name types.Stage
	run  func(ctx context.Context, source *types.CommitRecord) stageResult
}

// Searcher looks one source commit up in one target history, escalating
// from cheap to expensive stages until a stage accepts a match
type Searcher struct {
	index   index.RepositoryIndex
	matcher *matcher.Matcher
	opts    Options
	stages  []stage
	cache   *lru.Cache[[32]byte, *cacheEntry]
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// New creates a Searcher over idx
func New(idx index.RepositoryIndex, opts Options) (*Searcher, error) {
	if idx == nil {
		return nil, errors.New("searcher requires a repository index")
	}
	if opts.Matcher == nil {
		opts.Matcher = matcher.New(matcher.DefaultConfig())
	}
	if opts.KeywordLimit <= 0 {
		opts.KeywordLimit = DefaultKeywordLimit
	}
	if opts.FileLimit <= 0 {
		opts.FileLimit = DefaultFileLimit
	}
	if opts.TimeWindowLimit <= 0 {
		opts.TimeWindowLimit = DefaultTimeWindowLimit
	}
	if opts.MaxKeywords <= 0 {
		opts.MaxKeywords = similarity.DefaultMaxKeywords
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = DefaultMaxCandidates
	}
	if opts.SubjectAccept <= 0 {
		opts.SubjectAccept = DefaultSubjectAccept
	}
	if opts.FileDiffAccept <= 0 {
		opts.FileDiffAccept = DefaultFileDiffAccept
	}
	if opts.TimeWindow <= 0 {
		opts.TimeWindow = DefaultTimeWindow
	}
	if opts.DiffConcurrency <= 0 {
		opts.DiffConcurrency = DefaultDiffConcurrency
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	cache, err := lru.New[[32]byte, *cacheEntry](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create outcome cache: %w", err)
	}

	s := &Searcher{
		index:   idx,
		matcher: opts.Matcher,
		opts:    opts,
		cache:   cache,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	s.stages = []stage{
		{name: types.StageExactID, run: s.exactID},
		{name: types.StageSubjectKeywords, run: s.subjectKeywords},
		{name: types.StageFileAndDiff, run: s.fileAndDiff},
		{name: types.StageTimeWindow, run: s.timeWindow},
	}
	return s, nil
}

// Index returns the target index
func (s *Searcher) Index() index.RepositoryIndex {
	return s.index
}

// Search runs the stages in order and stops at the first accepted match.
//
// A stage whose index query fails contributes no candidates and the search
// moves on. When every attempted stage failed that way the outcome status is
// StatusInfrastructureError. A cancelled context stops the search before the
// next stage; the partial outcome is returned together with the context error.
func (s *Searcher) Search(ctx context.Context, source *types.CommitRecord) (*types.SearchOutcome, error) {
	if source == nil {
		return nil, errors.New("source commit is required")
	}
	start := time.Now()

	key := outcomeKey(source)
	if !s.opts.DisableCache {
		if cached := s.checkCache(key); cached != nil {
			s.metrics.ObserveCache("outcome", true)
			cached.CacheHit = true
			cached.Duration = time.Since(start)
			return cached, nil
		}
		s.metrics.ObserveCache("outcome", false)
	}

	outcome := &types.SearchOutcome{
		SourceID:   source.ID,
		Status:     types.StatusNotFound,
		Candidates: []types.MatchResult{},
		Stages:     make([]types.StageReport, 0, len(s.stages)),
	}
	var (
		all      []types.MatchResult
		attempts int
		failures int
	)

	for _, st := range s.stages {
		if err := ctx.Err(); err != nil {
			outcome.Candidates = s.topCandidates(all)
			outcome.Duration = time.Since(start)
			return outcome, err
		}

		stageStart := time.Now()
		res := st.run(ctx, source)
		report := types.StageReport{
			Stage:      st.name,
			Candidates: res.candidates,
			Unknown:    res.unknown,
			Skipped:    res.skipped,
			Duration:   time.Since(stageStart),
		}
		ranked := matcher.Rank(res.results)
		if len(ranked) > 0 {
			report.BestConfidence = ranked[0].Confidence
		}
		all = append(all, ranked...)
		s.metrics.AddUnknown(res.unknown)

		switch {
		case res.skipped:
			s.metrics.ObserveStage(string(st.name), report.Duration, resultSkipped)
		case res.err != nil:
			attempts++
			report.Error = res.err.Error()
			if ctx.Err() == nil {
				failures++
				s.logger.Warn("search stage failed",
					slog.String("stage", string(st.name)),
					slog.String("commit", source.ID),
					slog.String("error", res.err.Error()))
			}
			s.metrics.ObserveStage(string(st.name), report.Duration, resultError)
		default:
			attempts++
			if len(ranked) > 0 && ranked[0].Confidence > res.accept {
				report.Accepted = true
				best := ranked[0]
				outcome.Match = &best
				outcome.Status = types.StatusFound
			}
			if report.Accepted {
				s.metrics.ObserveStage(string(st.name), report.Duration, resultAccepted)
			} else {
				s.metrics.ObserveStage(string(st.name), report.Duration, resultRejected)
			}
		}
		outcome.Stages = append(outcome.Stages, report)

		if report.Accepted {
			break
		}
	}

	if err := ctx.Err(); err != nil && outcome.Status != types.StatusFound {
		outcome.Candidates = s.topCandidates(all)
		outcome.Duration = time.Since(start)
		return outcome, err
	}

	if outcome.Status != types.StatusFound && attempts > 0 && failures == attempts {
		outcome.Status = types.StatusInfrastructureError
	}
	outcome.Candidates = s.topCandidates(all)
	outcome.Duration = time.Since(start)

	s.metrics.ObserveSearch(string(outcome.Status), outcome.Duration)
	s.logger.Debug("search complete",
		slog.String("commit", source.ID),
		slog.String("status", string(outcome.Status)),
		slog.Float64("confidence", outcome.Confidence()),
		slog.Duration("duration", outcome.Duration))

	if !s.opts.DisableCache && cacheable(outcome) {
		s.storeInCache(key, outcome)
	}
	return outcome, nil
}

// cacheable reports whether an outcome may be replayed. A miss is only kept
// when every stage ran cleanly; a stage error or an unknown candidate could
// have hidden the match.
func cacheable(outcome *types.SearchOutcome) bool {
	switch outcome.Status {
	case types.StatusFound:
		return true
	case types.StatusInfrastructureError:
		return false
	}
	for _, st := range outcome.Stages {
		if st.Error != "" || st.Unknown > 0 {
			return false
		}
	}
	return true
}

// InvalidateCache drops every cached outcome
func (s *Searcher) InvalidateCache() {
	s.cache.Purge()
}

func (s *Searcher) exactID(ctx context.Context, source *types.CommitRecord) stageResult {
	var res stageResult
	if source.ID == "" {
		res.skipped = true
		return res
	}

	rec, err := s.index.FindByID(ctx, source.ID)
	if errors.Is(err, index.ErrNotFound) {
		return res
	}
	if err != nil {
		res.err = err
		return res
	}
	res.candidates = 1
	res.results = s.matcher.MatchUsing(source, []*types.CommitRecord{rec}, types.StrategyExactID)
	return res
}

func (s *Searcher) subjectKeywords(ctx context.Context, source *types.CommitRecord) stageResult {
	res := stageResult{accept: s.opts.SubjectAccept}
	keywords := similarity.Keywords(source.Subject, s.opts.MaxKeywords)
	if len(keywords) == 0 {
		res.skipped = true
		return res
	}

	candidates, err := s.index.SearchByKeywords(ctx, keywords, s.opts.KeywordLimit)
	if err != nil {
		res.err = err
		return res
	}
	res.candidates = len(candidates)
	res.results = s.matcher.MatchSubjects(source, candidates)
	return res
}

func (s *Searcher) fileAndDiff(ctx context.Context, source *types.CommitRecord) stageResult {
	res := stageResult{accept: s.opts.FileDiffAccept}
	files := source.Files()
	if len(files) == 0 {
		res.skipped = true
		return res
	}

	candidates, err := s.index.SearchByFiles(ctx, files, s.opts.FileLimit)
	if err != nil {
		res.err = err
		return res
	}
	res.candidates = len(candidates)

	filled, unknown := s.backfill(ctx, source, candidates)
	res.unknown = unknown
	res.results = s.matcher.MatchUsing(source, filled,
		types.StrategySubjectSimilarity, types.StrategyFileAndDiff)
	return res
}

func (s *Searcher) timeWindow(ctx context.Context, source *types.CommitRecord) stageResult {
	res := stageResult{accept: s.opts.FileDiffAccept}
	tw, ok := s.index.(index.TimeWindowSearcher)
	if s.opts.DisableTimeWindow || !ok || source.Timestamp.IsZero() {
		res.skipped = true
		return res
	}

	since := source.Timestamp.Add(-s.opts.TimeWindow)
	until := source.Timestamp.Add(s.opts.TimeWindow)
	candidates, err := tw.SearchByTimeWindow(ctx, since, until, s.opts.TimeWindowLimit)
	if err != nil {
		res.err = err
		return res
	}
	res.candidates = len(candidates)

	filled, unknown := s.backfill(ctx, source, candidates)
	res.unknown = unknown
	for _, r := range s.matcher.Match(source, filled) {
		details := maps.Clone(r.Details)
		if details == nil {
			details = map[string]any{}
		}
		details["matched_by"] = string(r.Strategy)
		r.Details = details
		r.Strategy = types.StrategyTimeWindow
		res.results = append(res.results, r)
	}
	return res
}

// backfill fetches missing diffs concurrently. Candidates whose known files
// already rule out a file match keep their empty diff and are only scored
// by subject. A candidate whose diff cannot be fetched is dropped and
// counted as unknown.
func (s *Searcher) backfill(ctx context.Context, source *types.CommitRecord, candidates []*types.CommitRecord) ([]*types.CommitRecord, int) {
	sourceFiles := source.Files()
	threshold := s.matcher.Config().FileFilterThreshold
	filled := make([]*types.CommitRecord, len(candidates))
	failed := make([]bool, len(candidates))

	var g errgroup.Group
	g.SetLimit(s.opts.DiffConcurrency)
	for i, c := range candidates {
		if c == nil {
			failed[i] = true
			continue
		}
		known := c.Files()
		if c.HasDiff() || (len(known) > 0 && similarity.FileSimilarity(sourceFiles, known) < threshold) {
			filled[i] = c
			continue
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				failed[i] = true
				return nil
			}
			rec, err := index.FillDiff(ctx, s.index, c)
			if err != nil {
				failed[i] = true
				s.logger.Warn("failed to fetch candidate diff",
					slog.String("commit", c.ID),
					slog.String("error", err.Error()))
				return nil
			}
			filled[i] = rec
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*types.CommitRecord, 0, len(candidates))
	unknown := 0
	for i, rec := range filled {
		if failed[i] {
			unknown++
			continue
		}
		out = append(out, rec)
	}
	return out, unknown
}

func (s *Searcher) topCandidates(results []types.MatchResult) []types.MatchResult {
	ranked := matcher.Rank(results)
	if len(ranked) > s.opts.MaxCandidates {
		ranked = ranked[:s.opts.MaxCandidates]
	}
	return ranked
}

// checkCache returns a copy of a live cached outcome, or nil
func (s *Searcher) checkCache(key [32]byte) *types.SearchOutcome {
	entry, found := s.cache.Get(key)
	if !found {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		s.cache.Remove(key)
		return nil
	}
	return copyOutcome(entry.outcome)
}

func (s *Searcher) storeInCache(key [32]byte, outcome *types.SearchOutcome) {
	s.cache.Add(key, &cacheEntry{
		outcome:   copyOutcome(outcome),
		expiresAt: time.Now().Add(s.opts.CacheTTL),
	})
}

// copyOutcome copies an outcome's slices and match. Details maps are shared
// and must be treated as read-only.
func copyOutcome(src *types.SearchOutcome) *types.SearchOutcome {
	if src == nil {
		return nil
	}
	dst := *src
	if src.Match != nil {
		m := *src.Match
		dst.Match = &m
	}
	dst.Candidates = make([]types.MatchResult, len(src.Candidates))
	copy(dst.Candidates, src.Candidates)
	dst.Stages = make([]types.StageReport, len(src.Stages))
	copy(dst.Stages, src.Stages)
	return &dst
}

// outcomeKey hashes the fields a search depends on
func outcomeKey(source *types.CommitRecord) [32]byte {
	h := sha256.New()
	for _, part := range []string{source.ID, source.Subject, source.Message, source.DiffText, source.Timestamp.UTC().Format(time.RFC3339)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	for _, f := range source.Files() {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	var key [32]byte
	copy(key[:], h.Sum(nil))
	return key
}
