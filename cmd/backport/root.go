package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dshills/backport-mcp/internal/config"
	"github.com/dshills/backport-mcp/internal/metrics"
	"github.com/dshills/backport-mcp/internal/report"
	"github.com/dshills/backport-mcp/internal/workspace"
)

// Commands annotated with skipConfig run without loading backport.yaml
const skipConfig = "skip-config"

// cli holds the global flags and what PersistentPreRunE derives from them
type cli struct {
	configPath string
	logLevel   string
	format     string

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "backport",
		Short: "Find whether fixes exist in a target history and what they need first",
		Long: `backport checks whether a commit from a source history (for example a
mainline CVE fix) already exists in a target history (for example a stable
branch), and when it does not, orders the prerequisite commits to apply first.

It runs as an MCP server (serve) or as one-shot commands.`,
		SilenceUsage:       true,
		PersistentPreRunE:  c.setup,
		PersistentPostRunE: c.teardown,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", config.DefaultPath, "Path to the configuration file")
	flags.StringVar(&c.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides output.log_level")
	flags.StringVarP(&c.format, "format", "f", string(report.FormatJSON), "Report format (json, yaml, markdown)")

	root.AddCommand(
		c.serveCmd(),
		c.findCmd(),
		c.depsCmd(),
		c.analyzeCmd(),
		c.cacheCmd(),
		c.configCmd(),
		c.versionCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, args []string) error {
	if cmd.Annotations[skipConfig] == "true" {
		return nil
	}
	if _, err := report.ParseFormat(c.format); err != nil {
		return err
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		if _, err := config.ParseLevel(c.logLevel); err != nil {
			return err
		}
		cfg.Output.LogLevel = c.logLevel
	}

	logger, closer, err := config.NewLogger(cfg.Output)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	c.cfg = cfg
	c.logger = logger
	c.logCloser = closer
	return nil
}

func (c *cli) teardown(cmd *cobra.Command, args []string) error {
	if c.logCloser != nil {
		return c.logCloser.Close()
	}
	return nil
}

// openWorkspace builds the shared collaborators for one command run
func (c *cli) openWorkspace(rec *metrics.Recorder) (*workspace.Workspace, error) {
	return workspace.New(workspace.Options{
		Config:  c.cfg,
		Metrics: rec,
		Logger:  c.logger,
	})
}

// withWorkspace runs fn with a workspace that is closed afterwards
func (c *cli) withWorkspace(ctx context.Context, fn func(context.Context, *workspace.Workspace) error) (err error) {
	ws, err := c.openWorkspace(nil)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ws.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, ws)
}

// emit renders doc to the command output in the --format format and, when
// save is set, also writes it to output.dir in every configured format
func (c *cli) emit(cmd *cobra.Command, name string, doc any, save bool) error {
	format, err := report.ParseFormat(c.format)
	if err != nil {
		return err
	}
	if err := report.Render(cmd.OutOrStdout(), format, doc); err != nil {
		return err
	}
	if !save {
		return nil
	}

	formats, err := report.ParseFormats(c.cfg.Output.Formats)
	if err != nil {
		return err
	}
	paths, err := report.WriteFiles(c.cfg.Output.Dir, name, formats, doc)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", p)
	}
	return nil
}

// emitValue renders a plain value; markdown is only defined for reports,
// so it falls back to YAML
func (c *cli) emitValue(cmd *cobra.Command, v any) error {
	format, err := report.ParseFormat(c.format)
	if err != nil {
		return err
	}
	if format == report.FormatMarkdown {
		format = report.FormatYAML
	}
	return report.Render(cmd.OutOrStdout(), format, v)
}

func requireFlags(cmd *cobra.Command, names ...string) error {
	for _, name := range names {
		if err := cmd.MarkFlagRequired(name); err != nil {
			return err
		}
	}
	return nil
}
