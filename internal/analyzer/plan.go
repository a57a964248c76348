package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/backport-mcp/internal/advisor"
	"github.com/dshills/backport-mcp/internal/depgraph"
	"github.com/dshills/backport-mcp/internal/index"
	"github.com/dshills/backport-mcp/pkg/types"
)

// PlanDependencies works out which candidates the fix depends on, the order
// they must be applied in, and which of them the target already has.
//
// Candidates scoring above the dependency threshold are retained (strongest
// first, capped at MaxPrerequisites). Strong edges are added from the fix to
// each dependency and between the dependencies themselves, and the fix plus
// its dependencies are ordered topologically. Every dependency is then
// searched in the target; one found above MergedThreshold counts as merged.
func (a *Analyzer) PlanDependencies(ctx context.Context, fix *types.CommitRecord, candidates []*types.CommitRecord, reference string) (*types.DependencyReport, error) {
	if fix == nil {
		return nil, ErrMissingFix
	}
	if err := fix.Validate(); err != nil {
		return nil, err
	}

	graph := depgraph.NewWithThresholds(a.cfg.DependencyThreshold, a.cfg.StrongThreshold)
	strengths := graph.FindDependencies(fix, candidates)

	byID := make(map[string]*types.CommitRecord, len(candidates))
	for _, c := range candidates {
		if c != nil {
			if _, ok := strengths[c.ID]; ok {
				byID[c.ID] = c
			}
		}
	}

	ids := make([]string, 0, len(strengths))
	for id := range strengths {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if strengths[ids[i]] != strengths[ids[j]] {
			return strengths[ids[i]] > strengths[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > a.cfg.MaxPrerequisites {
		a.logger.Info("capping prerequisites",
			slog.String("fix", fix.ShortID(12)),
			slog.Int("retained", len(ids)),
			slog.Int("limit", a.cfg.MaxPrerequisites))
		ids = ids[:a.cfg.MaxPrerequisites]
	}

	deps := make([]*types.CommitRecord, len(ids))
	for i, id := range ids {
		deps[i] = byID[id]
		graph.AddEdge(fix.ID, id, strengths[id])
	}
	// Prerequisites are ordered among themselves too
	for _, d := range deps {
		for id, s := range graph.FindDependencies(d, deps) {
			graph.AddEdge(d.ID, id, s)
		}
	}

	nodes := append(append([]string{}, ids...), fix.ID)
	report := &types.DependencyReport{
		FixID:         fix.ID,
		Dependencies:  make([]types.DependencyFinding, len(deps)),
		Edges:         graph.Edges(),
		Graph:         graph.Adjacency(),
		Plan:          graph.TopologicalOrder(nodes),
		NeedToMerge:   []string{},
		AlreadyMerged: []string{},
	}

	items, _, err := a.SearchBatch(ctx, deps)
	for i, item := range items {
		finding := types.DependencyFinding{
			CommitID: deps[i].ID,
			Subject:  deps[i].Subject,
			Strength: strengths[deps[i].ID],
			Outcome:  item.Outcome,
			Unknown:  item.Unknown,
			Error:    item.Error,
		}
		finding.Merged = !item.Unknown && item.Outcome.Found() && item.Outcome.Confidence() > a.cfg.MergedThreshold
		report.Dependencies[i] = finding
	}
	if err != nil {
		return report, err
	}

	a.attachAdvice(ctx, fix, report, byID, reference)

	merged := make(map[string]bool, len(report.Dependencies))
	for _, f := range report.Dependencies {
		merged[f.CommitID] = f.Merged
	}
	placed := append(append([]string{}, report.Plan.Order...), report.Plan.Unresolved...)
	for _, id := range placed {
		isMerged, isDep := merged[id]
		switch {
		case !isDep:
		case isMerged:
			report.AlreadyMerged = append(report.AlreadyMerged, id)
		default:
			report.NeedToMerge = append(report.NeedToMerge, id)
		}
	}

	a.logger.Info("dependency plan complete",
		slog.String("fix", fix.ShortID(12)),
		slog.Int("dependencies", len(report.Dependencies)),
		slog.Int("need_to_merge", len(report.NeedToMerge)),
		slog.Bool("complete", report.Plan.Complete))

	return report, nil
}

// attachAdvice adds the advisor's note to every finding. Advisor failures
// are logged and leave the finding without a note.
func (a *Analyzer) attachAdvice(ctx context.Context, fix *types.CommitRecord, report *types.DependencyReport,
	byID map[string]*types.CommitRecord, reference string) {

	for i := range report.Dependencies {
		if ctx.Err() != nil {
			return
		}
		f := &report.Dependencies[i]
		advice, err := a.advisor.AnalyzeDependency(ctx, advisor.DependencyRequest{
			Reference:  reference,
			Fix:        fix,
			Dependency: byID[f.CommitID],
		})
		if err != nil {
			a.logger.Warn("dependency advice failed",
				slog.String("fix", fix.ShortID(12)),
				slog.String("dependency", f.CommitID),
				slog.String("error", err.Error()))
			continue
		}
		f.Advice = advice.Summary
		f.Relation = string(advice.Relation)
	}
}

// DiscoverPrerequisites lists commits of the source history that touch the
// fix's files and are strictly older than the fix when both timestamps are
// known. Candidates come back with their diffs; one whose diff cannot be
// fetched is dropped.
func (a *Analyzer) DiscoverPrerequisites(ctx context.Context, source index.RepositoryIndex, fix *types.CommitRecord, limit int) ([]*types.CommitRecord, error) {
	if fix == nil {
		return nil, ErrMissingFix
	}
	files := fix.Files()
	if len(files) == 0 {
		return []*types.CommitRecord{}, nil
	}
	if limit <= 0 {
		limit = a.cfg.DiscoverLimit
	}

	found, err := source.SearchByFiles(ctx, files, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search source history: %w", err)
	}

	var older []*types.CommitRecord
	for _, c := range found {
		if c == nil || types.SameCommitID(c.ID, fix.ID, types.DefaultIDPrefixLen) {
			continue
		}
		if !fix.Timestamp.IsZero() && !c.Timestamp.IsZero() && !c.Timestamp.Before(fix.Timestamp) {
			continue
		}
		older = append(older, c)
	}

	filled := make([]*types.CommitRecord, len(older))
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(a.cfg.Workers)
	dropped := 0
	for i, c := range older {
		g.Go(func() error {
			rec, err := index.FillDiff(ctx, source, c)
			if err != nil {
				mu.Lock()
				dropped++
				mu.Unlock()
				a.logger.Warn("prerequisite diff unavailable",
					slog.String("commit", c.ShortID(12)),
					slog.String("error", err.Error()))
				return nil
			}
			filled[i] = rec
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]*types.CommitRecord, 0, len(filled)-dropped)
	for _, rec := range filled {
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}
