package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/backport-mcp/internal/index"
	"github.com/dshills/backport-mcp/internal/storage"
	"github.com/dshills/backport-mcp/internal/workspace"
)

func (c *cli) cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local commit cache",
		Long: `Build, inspect and prune the SQLite commit cache.

Every subcommand takes --repo; without it, all configured repositories are
processed in name order.`,
	}
	cmd.AddCommand(c.cacheBuildCmd(), c.cacheStatusCmd(), c.cachePruneCmd())
	return cmd
}

// repoNames returns the selected repository, or every configured one
func (c *cli) repoNames(repo string) []string {
	if repo != "" {
		return []string{repo}
	}
	return c.cfg.RepositoryNames()
}

// cacheBuild is the cache build output for one repository
type cacheBuild struct {
	Repository string `json:"repository" yaml:"repository"`
	Listed     int    `json:"listed" yaml:"listed"`
	Inserted   int    `json:"inserted" yaml:"inserted"`
	Diffs      int    `json:"diffs" yaml:"diffs"`
	DiffErrors int    `json:"diffErrors" yaml:"diffErrors"`
	Pruned     int    `json:"pruned" yaml:"pruned"`
	DurationMS int64  `json:"durationMs" yaml:"durationMs"`
}

func (c *cli) cacheBuildCmd() *cobra.Command {
	var (
		repo       string
		maxCommits int
		withDiffs  bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Cache the most recent commits of a repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withWorkspace(cmd.Context(), func(ctx context.Context, ws *workspace.Workspace) error {
				var out []cacheBuild
				for _, name := range c.repoNames(repo) {
					result, err := ws.BuildCache(ctx, name, index.WarmOptions{
						MaxCommits: maxCommits,
						WithDiffs:  withDiffs,
					})
					if err != nil {
						return err
					}
					out = append(out, cacheBuild{
						Repository: name,
						Listed:     result.Listed,
						Inserted:   result.Inserted,
						Diffs:      result.Diffs,
						DiffErrors: result.DiffErrors,
						Pruned:     result.Pruned,
						DurationMS: result.Duration.Milliseconds(),
					})
				}
				return c.emitValue(cmd, out)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&repo, "repo", "r", "", "Repository name (default: all)")
	flags.IntVar(&maxCommits, "max-commits", 0, "Recent commits to cache (default: cache.max_cached_commits)")
	flags.BoolVar(&withDiffs, "with-diffs", false, "Also fetch and cache every diff")
	return cmd
}

func (c *cli) cacheStatusCmd() *cobra.Command {
	var repo string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show cache statistics and health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withWorkspace(cmd.Context(), func(ctx context.Context, ws *workspace.Workspace) error {
				var out []*storage.CacheStatus
				for _, name := range c.repoNames(repo) {
					status, err := ws.CacheStatus(ctx, name)
					if err != nil {
						return err
					}
					out = append(out, status)
				}
				return c.emitValue(cmd, out)
			})
		},
	}
	cmd.Flags().StringVarP(&repo, "repo", "r", "", "Repository name (default: all)")
	return cmd
}

// cachePrune is the cache prune output for one repository
type cachePrune struct {
	Repository string `json:"repository" yaml:"repository"`
	Expired    int    `json:"expired" yaml:"expired"`
	Excess     int    `json:"excess" yaml:"excess"`
}

func (c *cli) cachePruneCmd() *cobra.Command {
	var repo string

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop expired cached commits and trim to cache.max_cached_commits",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withWorkspace(cmd.Context(), func(ctx context.Context, ws *workspace.Workspace) error {
				now := time.Now()
				var out []cachePrune
				for _, name := range c.repoNames(repo) {
					result, err := ws.PruneCache(ctx, name, now)
					if err != nil {
						return err
					}
					out = append(out, cachePrune{Repository: name, Expired: result.Expired, Excess: result.Excess})
				}
				return c.emitValue(cmd, out)
			})
		},
	}
	cmd.Flags().StringVarP(&repo, "repo", "r", "", "Repository name (default: all)")
	return cmd
}
