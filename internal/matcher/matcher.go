package matcher

import (
	"slices"
	"sort"

	"github.com/dshills/backport-mcp/internal/diffparse"
	"github.com/dshills/backport-mcp/internal/similarity"
	"github.com/dshills/backport-mcp/pkg/types"
)

// Default thresholds
const (
	DefaultSubjectThreshold    = 0.85
	DefaultAutoAcceptThreshold = 0.95
	DefaultFileFilterThreshold = 0.30
	DefaultDiffThreshold       = 0.70

	fileWeight = 0.4
	diffWeight = 0.6
)

// Config holds the matching thresholds
type Config struct {
	IDPrefixLength      int     // Canonical id prefix length
	SubjectThreshold    float64 // Minimum subject similarity to keep a candidate
	AutoAcceptThreshold float64 // A subject result at or above this skips file+diff scoring
	FileFilterThreshold float64 // Candidates below this file similarity are not diffed
	DiffThreshold       float64 // Minimum combined file+diff score to keep a candidate
}

// DefaultConfig returns the standard thresholds
func DefaultConfig() Config {
	return Config{
		IDPrefixLength:      types.DefaultIDPrefixLen,
		SubjectThreshold:    DefaultSubjectThreshold,
		AutoAcceptThreshold: DefaultAutoAcceptThreshold,
		FileFilterThreshold: DefaultFileFilterThreshold,
		DiffThreshold:       DefaultDiffThreshold,
	}
}

// step is one matching rule. It sees the results of the steps before it and
// returns stop=true when no later step may run.
type step struct {
	strategy types.Strategy
	run      func(source *types.CommitRecord, candidates []*types.CommitRecord, prior []types.MatchResult) (results []types.MatchResult, stop bool)
}

// Matcher compares a source commit against candidate commits using an ordered
// list of strategies. A Matcher holds no per-call state and is safe for
// concurrent use.
type Matcher struct {
	cfg   Config
	steps []step
}

// New creates a Matcher. Zero-valued config fields take their defaults.
func New(cfg Config) *Matcher {
	def := DefaultConfig()
	if cfg.IDPrefixLength <= 0 {
		cfg.IDPrefixLength = def.IDPrefixLength
	}
	if cfg.SubjectThreshold <= 0 {
		cfg.SubjectThreshold = def.SubjectThreshold
	}
	if cfg.AutoAcceptThreshold <= 0 {
		cfg.AutoAcceptThreshold = def.AutoAcceptThreshold
	}
	if cfg.FileFilterThreshold <= 0 {
		cfg.FileFilterThreshold = def.FileFilterThreshold
	}
	if cfg.DiffThreshold <= 0 {
		cfg.DiffThreshold = def.DiffThreshold
	}

	m := &Matcher{cfg: cfg}
	m.steps = []step{
		{strategy: types.StrategyExactID, run: m.exactID},
		{strategy: types.StrategySubjectSimilarity, run: m.subjects},
		{strategy: types.StrategyFileAndDiff, run: m.fileAndDiff},
	}
	return m
}

// Config returns the effective thresholds
func (m *Matcher) Config() Config {
	return m.cfg
}

// Match runs every strategy in order and returns at most one result per
// target commit, best first. An exact id match is returned alone.
func (m *Matcher) Match(source *types.CommitRecord, candidates []*types.CommitRecord) []types.MatchResult {
	return m.MatchUsing(source, candidates)
}

// MatchSubjects runs only the subject similarity strategy
func (m *Matcher) MatchSubjects(source *types.CommitRecord, candidates []*types.CommitRecord) []types.MatchResult {
	return m.MatchUsing(source, candidates, types.StrategySubjectSimilarity)
}

// MatchUsing runs the named strategies, in their fixed order. With no
// strategies named every strategy runs.
func (m *Matcher) MatchUsing(source *types.CommitRecord, candidates []*types.CommitRecord, strategies ...types.Strategy) []types.MatchResult {
	if source == nil || len(candidates) == 0 {
		return []types.MatchResult{}
	}

	var results []types.MatchResult
	for _, s := range m.steps {
		if len(strategies) > 0 && !slices.Contains(strategies, s.strategy) {
			continue
		}
		found, stop := s.run(source, candidates, results)
		results = append(results, found...)
		if stop {
			break
		}
	}
	return Rank(results)
}

func (m *Matcher) exactID(source *types.CommitRecord, candidates []*types.CommitRecord, _ []types.MatchResult) ([]types.MatchResult, bool) {
	for _, c := range candidates {
		if c == nil || !types.SameCommitID(source.ID, c.ID, m.cfg.IDPrefixLength) {
			continue
		}
		return []types.MatchResult{{
			SourceID:   source.ID,
			TargetID:   c.ID,
			Confidence: 1.0,
			Strategy:   types.StrategyExactID,
			Details: map[string]any{
				"target_subject": c.Subject,
			},
		}}, true
	}
	return nil, false
}

func (m *Matcher) subjects(source *types.CommitRecord, candidates []*types.CommitRecord, _ []types.MatchResult) ([]types.MatchResult, bool) {
	// An empty subject would match every other empty subject perfectly
	if similarity.NormalizeSubject(source.Subject) == "" {
		return nil, false
	}

	var results []types.MatchResult
	for _, c := range candidates {
		if c == nil || c.ID == "" || similarity.NormalizeSubject(c.Subject) == "" {
			continue
		}
		score := similarity.TextSimilarity(source.Subject, c.Subject)
		if score < m.cfg.SubjectThreshold {
			continue
		}

		details := map[string]any{
			"source_subject": source.Subject,
			"target_subject": c.Subject,
			"similarity":     score,
		}
		if source.Body() != "" && c.Body() != "" {
			details["message_similarity"] = similarity.MessageSimilarity(source.Message, c.Message)
		}
		results = append(results, types.MatchResult{
			SourceID:   source.ID,
			TargetID:   c.ID,
			Confidence: score,
			Strategy:   types.StrategySubjectSimilarity,
			Details:    details,
		})
	}
	return results, false
}

func (m *Matcher) fileAndDiff(source *types.CommitRecord, candidates []*types.CommitRecord, prior []types.MatchResult) ([]types.MatchResult, bool) {
	for _, r := range prior {
		if r.Confidence >= m.cfg.AutoAcceptThreshold {
			return nil, false
		}
	}

	sourceFiles := source.Files()
	if len(sourceFiles) == 0 {
		return nil, false
	}
	sourceLines := diffparse.ChangedLines(source.DiffText)

	var results []types.MatchResult
	for _, c := range candidates {
		if c == nil || c.ID == "" {
			continue
		}
		fileScore := similarity.FileSimilarity(sourceFiles, c.Files())
		if fileScore < m.cfg.FileFilterThreshold {
			continue
		}
		diffScore := similarity.LineSimilarity(sourceLines, diffparse.ChangedLines(c.DiffText))
		combined := fileWeight*fileScore + diffWeight*diffScore
		if combined < m.cfg.DiffThreshold {
			continue
		}

		results = append(results, types.MatchResult{
			SourceID:   source.ID,
			TargetID:   c.ID,
			Confidence: min(combined, 1),
			Strategy:   types.StrategyFileAndDiff,
			Details: map[string]any{
				"file_similarity": fileScore,
				"diff_similarity": diffScore,
				"source_files":    sourceFiles,
				"target_files":    c.Files(),
			},
		})
	}
	return results, false
}

// Rank keeps the highest-confidence result per target id and sorts the
// survivors by confidence descending, then target id ascending. Among equal
// confidences for one target the first result seen is kept.
func Rank(results []types.MatchResult) []types.MatchResult {
	index := make(map[string]int, len(results))
	ranked := make([]types.MatchResult, 0, len(results))
	for _, r := range results {
		i, ok := index[r.TargetID]
		if !ok {
			index[r.TargetID] = len(ranked)
			ranked = append(ranked, r)
			continue
		}
		if r.Confidence > ranked[i].Confidence {
			ranked[i] = r
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		return ranked[i].TargetID < ranked[j].TargetID
	})
	return ranked
}
