package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/backport-mcp/internal/advisor"
	"github.com/dshills/backport-mcp/internal/index"
	"github.com/dshills/backport-mcp/pkg/types"
)

// FixRequest describes one fix to analyze against the target history
type FixRequest struct {
	Target     string // Target history name, for reporting
	Reference  string // e.g. a vulnerability identifier
	Fix        *types.CommitRecord
	Introduced *types.CommitRecord // Optional commit that introduced the bug

	// Candidates are the possible prerequisites of the fix. When nil and
	// Source is set they are discovered from the source history.
	Candidates    []*types.CommitRecord
	Source        index.RepositoryIndex
	DiscoverLimit int
}

// AnalyzeFix runs the full workflow: look for the introducing commit, look
// for the fix, ask the advisor about the fix, and when the fix is missing
// plan its prerequisites.
func (a *Analyzer) AnalyzeFix(ctx context.Context, req FixRequest) (*types.Analysis, error) {
	if req.Fix == nil {
		return nil, ErrMissingFix
	}
	if err := req.Fix.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	analysis := &types.Analysis{
		RunID:           uuid.NewString(),
		Target:          req.Target,
		Reference:       req.Reference,
		FixID:           req.Fix.ID,
		Recommendations: []string{},
		StartedAt:       start.UTC(),
	}
	logger := a.logger.With(slog.String("run_id", analysis.RunID), slog.String("fix", req.Fix.ShortID(12)))
	finish := func(err error) (*types.Analysis, error) {
		analysis.Duration = time.Since(start)
		return analysis, err
	}

	if req.Introduced != nil && req.Introduced.ID != "" {
		analysis.IntroducedID = req.Introduced.ID
		outcome, err := a.searcher.Search(ctx, req.Introduced)
		analysis.Introduced = outcome
		if err != nil {
			return finish(err)
		}
		switch {
		case outcome.Found():
			analysis.Recommendations = append(analysis.Recommendations, fmt.Sprintf(
				"The introducing commit is present in the target as %s; the target is likely affected.",
				shortID(outcome.TargetID())))
		case outcome.Status == types.StatusNotFound:
			analysis.Recommendations = append(analysis.Recommendations,
				"The introducing commit was not found in the target; the target may not be affected, confirm manually.")
		}
	}

	outcome, err := a.searcher.Search(ctx, req.Fix)
	analysis.Fix = outcome
	if err != nil {
		return finish(err)
	}

	advice, err := a.advisor.AnalyzePatch(ctx, advisor.PatchRequest{Reference: req.Reference, Commit: req.Fix})
	if err != nil {
		if ctx.Err() != nil {
			return finish(ctx.Err())
		}
		logger.Warn("patch advice failed", slog.String("error", err.Error()))
	} else {
		analysis.FixAdvice = advice.Summary
	}

	switch outcome.Status {
	case types.StatusFound:
		analysis.Recommendations = append(analysis.Recommendations, fmt.Sprintf(
			"The fix appears to be merged in the target as %s (confidence %.0f%%); confirm manually.",
			shortID(outcome.TargetID()), outcome.Confidence()*100))
		logger.Info("fix already merged", slog.String("target_commit", outcome.TargetID()))
		return finish(nil)
	case types.StatusInfrastructureError:
		analysis.Recommendations = append(analysis.Recommendations,
			"The target history could not be searched; the result is inconclusive.")
		return finish(nil)
	}

	analysis.Recommendations = append(analysis.Recommendations,
		"The fix is not in the target; its prerequisites must be reviewed before backporting.")

	candidates := req.Candidates
	if candidates == nil && req.Source != nil {
		candidates, err = a.DiscoverPrerequisites(ctx, req.Source, req.Fix, req.DiscoverLimit)
		if err != nil {
			if ctx.Err() != nil {
				return finish(ctx.Err())
			}
			logger.Warn("prerequisite discovery failed", slog.String("error", err.Error()))
			analysis.Recommendations = append(analysis.Recommendations,
				"Prerequisites could not be discovered from the source history; review them manually.")
		}
	}

	report, err := a.PlanDependencies(ctx, req.Fix, candidates, req.Reference)
	analysis.Dependencies = report
	if err != nil {
		return finish(err)
	}

	if len(report.NeedToMerge) > 0 {
		analysis.Recommendations = append(analysis.Recommendations, fmt.Sprintf(
			"Apply %d prerequisite(s) first, in order: %s.",
			len(report.NeedToMerge), joinShort(report.NeedToMerge)))
	}
	if len(report.AlreadyMerged) > 0 {
		analysis.Recommendations = append(analysis.Recommendations, fmt.Sprintf(
			"%d prerequisite(s) are already in the target: %s.",
			len(report.AlreadyMerged), joinShort(report.AlreadyMerged)))
	}
	if !report.Plan.Complete {
		analysis.Recommendations = append(analysis.Recommendations, fmt.Sprintf(
			"Circular dependencies among %s; order these manually.", joinShort(report.Plan.Unresolved)))
	}
	analysis.Recommendations = append(analysis.Recommendations,
		fmt.Sprintf("Apply the fix last: %s.", shortID(req.Fix.ID)))

	return finish(nil)
}

func shortID(id string) string {
	if len(id) > types.DefaultIDPrefixLen {
		return id[:types.DefaultIDPrefixLen]
	}
	return id
}

func joinShort(ids []string) string {
	short := make([]string, len(ids))
	for i, id := range ids {
		short[i] = shortID(id)
	}
	return strings.Join(short, ", ")
}
