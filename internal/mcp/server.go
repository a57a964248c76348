package mcp

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/backport-mcp/internal/workspace"
)

const (
	// ServerName is the MCP server name
	ServerName = "backport-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp       *server.MCPServer
	workspace *workspace.Workspace
	logger    *slog.Logger
}

// NewServer creates a new MCP server instance over ws. The caller keeps
// ownership of ws.
func NewServer(ws *workspace.Workspace, logger *slog.Logger) (*Server, error) {
	if ws == nil {
		return nil, errors.New("server requires a workspace")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			ServerVersion,
			server.WithToolCapabilities(false),
		),
		workspace: ws,
		logger:    logger.With("component", "mcp"),
	}

	s.registerTools()
	return s, nil
}

// Serve runs the MCP protocol on stdio until ctx is cancelled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("MCP server ready, listening on stdio",
		"repositories", s.workspace.Config().RepositoryNames())
	err := server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(findCommitTool(), s.handleFindCommit)
	s.mcp.AddTool(planDependenciesTool(), s.handlePlanDependencies)
	s.mcp.AddTool(analyzeFixTool(), s.handleAnalyzeFix)
	s.mcp.AddTool(buildCacheTool(), s.handleBuildCache)
	s.mcp.AddTool(cacheStatusTool(), s.handleCacheStatus)
}
