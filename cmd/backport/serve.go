package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/dshills/backport-mcp/internal/mcp"
	"github.com/dshills/backport-mcp/internal/metrics"
)

func (c *cli) serveCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Long: `Run the Model Context Protocol server on stdin/stdout.

Logs go to stderr (or output.log_file). With --metrics-addr, Prometheus
metrics are served over HTTP at /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			rec := metrics.New(reg)

			if metricsAddr != "" {
				stop := c.serveMetrics(metricsAddr, reg)
				defer stop()
			}

			ws, err := c.openWorkspace(rec)
			if err != nil {
				return err
			}
			defer func() {
				if err := ws.Close(); err != nil {
					c.logger.Error("failed to close workspace", "error", err)
				}
			}()

			server, err := mcp.NewServer(ws, c.logger)
			if err != nil {
				return err
			}

			c.logger.Info("MCP server starting",
				"name", mcp.ServerName,
				"version", version,
				"repositories", c.cfg.RepositoryNames(),
				"cache_enabled", !c.cfg.Cache.Disabled,
				"storage_mode", storageMode())
			return server.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

// serveMetrics starts the metrics listener and returns its shutdown function
func (c *cli) serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		c.logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
