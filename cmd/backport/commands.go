package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/backport-mcp/internal/analyzer"
	"github.com/dshills/backport-mcp/internal/report"
	"github.com/dshills/backport-mcp/internal/workspace"
	"github.com/dshills/backport-mcp/pkg/types"
)

func (c *cli) findCmd() *cobra.Command {
	var (
		repo, sourceRepo string
		ids              []string
		subject, message string
		diffFile, when   string
		save             bool
	)

	cmd := &cobra.Command{
		Use:   "find",
		Short: "Check whether commits already exist in a target history",
		Long: `Search the target repository for each source commit.

With --source-repo the source commits are read from that repository and
several --id flags run as one batch. Without it a single commit is described
inline by --id, --subject and optionally --diff-file.`,
		Example: `  backport find --repo 5.10 --source-repo mainline --id 1a2b3c4d5e6f
  backport find --repo 5.10 --id 1a2b3c4d5e6f --subject "net: fix leak" --diff-file fix.patch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withWorkspace(cmd.Context(), func(ctx context.Context, ws *workspace.Workspace) error {
				if sourceRepo == "" {
					if len(ids) != 1 {
						return errors.New("exactly one --id is required without --source-repo")
					}
					src, err := inlineSource(ids[0], subject, message, diffFile, when)
					if err != nil {
						return err
					}
					return c.findOne(ctx, cmd, ws, repo, src, save)
				}

				sources, err := ws.ResolveCommits(ctx, sourceRepo, ids)
				if err != nil {
					return err
				}
				if len(sources) == 1 {
					return c.findOne(ctx, cmd, ws, repo, sources[0], save)
				}
				return c.findBatch(ctx, cmd, ws, repo, sources)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&repo, "repo", "r", "", "Target repository name")
	flags.StringVarP(&sourceRepo, "source-repo", "s", "", "Repository to read the source commits from")
	flags.StringSliceVar(&ids, "id", nil, "Source commit id (repeatable with --source-repo)")
	flags.StringVar(&subject, "subject", "", "Subject line of an inline source commit")
	flags.StringVar(&message, "message", "", "Full message of an inline source commit")
	flags.StringVar(&diffFile, "diff-file", "", "Unified diff of an inline source commit")
	flags.StringVar(&when, "timestamp", "", "RFC3339 commit time of an inline source commit")
	flags.BoolVar(&save, "save", false, "Also write the report to output.dir")
	cobra.CheckErr(requireFlags(cmd, "repo", "id"))
	return cmd
}

func (c *cli) findOne(ctx context.Context, cmd *cobra.Command, ws *workspace.Workspace, repo string, src *types.CommitRecord, save bool) error {
	r, err := ws.Repo(ctx, repo)
	if err != nil {
		return err
	}
	ctx, cancel := c.searchContext(ctx)
	defer cancel()

	outcome, err := r.Searcher.Search(ctx, src)
	if err != nil {
		return err
	}
	return c.emit(cmd, "search_"+src.ShortID(12), report.FromOutcome(outcome), save)
}

// batchResult is the find output for several source commits
type batchResult struct {
	Target  string                 `json:"target" yaml:"target"`
	Results []*report.SearchReport `json:"results" yaml:"results"`
	Errors  []string               `json:"errors,omitempty" yaml:"errors,omitempty"`
	Found   int                    `json:"found" yaml:"found"`
	Missing int                    `json:"notFound" yaml:"notFound"`
	Unknown int                    `json:"unknown" yaml:"unknown"`
}

func (c *cli) findBatch(ctx context.Context, cmd *cobra.Command, ws *workspace.Workspace, repo string, sources []*types.CommitRecord) error {
	a, err := ws.Analyzer(ctx, repo)
	if err != nil {
		return err
	}
	ctx, cancel := c.searchContext(ctx)
	defer cancel()

	items, stats, err := a.SearchBatch(ctx, sources)
	if err != nil {
		// Cancelled: the finished items are still reported
		c.logger.Warn("batch search interrupted", "error", err)
	}

	out := batchResult{
		Target:  repo,
		Results: make([]*report.SearchReport, 0, len(items)),
		Errors:  stats.ErrorMessages,
		Found:   stats.Found,
		Missing: stats.NotFound,
		Unknown: stats.Unknown,
	}
	for _, item := range items {
		if item.Outcome != nil {
			out.Results = append(out.Results, report.FromOutcome(item.Outcome))
		}
	}
	return c.emitValue(cmd, out)
}

func inlineSource(id, subject, message, diffFile, when string) (*types.CommitRecord, error) {
	if subject == "" {
		return nil, errors.New("--subject is required without --source-repo")
	}
	rec := &types.CommitRecord{ID: id, Subject: subject, Message: message}
	if diffFile != "" {
		data, err := os.ReadFile(diffFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read diff: %w", err)
		}
		rec.DiffText = string(data)
	}
	if when != "" {
		t, err := time.Parse(time.RFC3339, when)
		if err != nil {
			return nil, fmt.Errorf("invalid --timestamp: %w", err)
		}
		rec.Timestamp = t
	}
	return rec, nil
}

func (c *cli) depsCmd() *cobra.Command {
	var (
		repo, sourceRepo, fixID string
		depIDs                  []string
		reference               string
		save                    bool
	)

	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Order the prerequisites of a fix and report which are merged",
		Long: `Plan the prerequisites of a fix commit against the target repository.

Candidates come from --dep flags, or when none are given, from earlier
commits of the source repository that touch the fix's files.`,
		Example: `  backport deps --repo 5.10 --source-repo mainline --fix 1a2b3c4d5e6f`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withWorkspace(cmd.Context(), func(ctx context.Context, ws *workspace.Workspace) error {
				a, err := ws.Analyzer(ctx, repo)
				if err != nil {
					return err
				}
				fix, err := ws.ResolveCommit(ctx, sourceRepo, fixID)
				if err != nil {
					return err
				}

				ctx, cancel := c.searchContext(ctx)
				defer cancel()

				var candidates []*types.CommitRecord
				if len(depIDs) > 0 {
					candidates, err = ws.ResolveCommits(ctx, sourceRepo, depIDs)
				} else {
					var src *workspace.Repo
					if src, err = ws.Repo(ctx, sourceRepo); err == nil {
						candidates, err = a.DiscoverPrerequisites(ctx, src.Index, fix, 0)
					}
				}
				if err != nil {
					return err
				}

				plan, err := a.PlanDependencies(ctx, fix, candidates, reference)
				if err != nil {
					return err
				}
				return c.emit(cmd, "dependencies_"+fix.ShortID(12), report.FromDependencies(plan), save)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&repo, "repo", "r", "", "Target repository name")
	flags.StringVarP(&sourceRepo, "source-repo", "s", "", "Repository holding the fix")
	flags.StringVar(&fixID, "fix", "", "Fix commit id")
	flags.StringSliceVar(&depIDs, "dep", nil, "Candidate prerequisite id (repeatable)")
	flags.StringVar(&reference, "reference", "", "Vulnerability reference passed to the advisor")
	flags.BoolVar(&save, "save", false, "Also write the report to output.dir")
	cobra.CheckErr(requireFlags(cmd, "repo", "source-repo", "fix"))
	return cmd
}

func (c *cli) analyzeCmd() *cobra.Command {
	var (
		repo, sourceRepo, fixID string
		introducedID, reference string
		save                    bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run the full fix workflow with recommendations",
		Example: `  backport analyze --repo 5.10 --source-repo mainline --fix 1a2b3c4d5e6f \
      --introduced 0f0e0d0c0b0a --reference CVE-2024-12345 --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withWorkspace(cmd.Context(), func(ctx context.Context, ws *workspace.Workspace) error {
				a, err := ws.Analyzer(ctx, repo)
				if err != nil {
					return err
				}
				src, err := ws.Repo(ctx, sourceRepo)
				if err != nil {
					return err
				}

				req := analyzer.FixRequest{Target: repo, Reference: reference, Source: src.Index}
				if req.Fix, err = ws.ResolveCommit(ctx, sourceRepo, fixID); err != nil {
					return err
				}
				if introducedID != "" {
					if req.Introduced, err = ws.ResolveCommit(ctx, sourceRepo, introducedID); err != nil {
						return err
					}
				}

				ctx, cancel := c.searchContext(ctx)
				defer cancel()

				analysis, err := a.AnalyzeFix(ctx, req)
				if err != nil {
					return err
				}
				return c.emit(cmd, "analysis_"+analysis.RunID, report.FromAnalysis(analysis), save)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&repo, "repo", "r", "", "Target repository name")
	flags.StringVarP(&sourceRepo, "source-repo", "s", "", "Repository holding the fix")
	flags.StringVar(&fixID, "fix", "", "Fix commit id")
	flags.StringVar(&introducedID, "introduced", "", "Commit that introduced the bug")
	flags.StringVar(&reference, "reference", "", "Vulnerability reference, e.g. CVE-2024-12345")
	flags.BoolVar(&save, "save", false, "Also write the reports to output.dir")
	cobra.CheckErr(requireFlags(cmd, "repo", "source-repo", "fix"))
	return cmd
}

func (c *cli) searchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := c.cfg.Performance.SearchTimeout; timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}
