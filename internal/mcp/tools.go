package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/backport-mcp/internal/analyzer"
	"github.com/dshills/backport-mcp/internal/config"
	"github.com/dshills/backport-mcp/internal/index"
	"github.com/dshills/backport-mcp/internal/report"
	"github.com/dshills/backport-mcp/internal/workspace"
	"github.com/dshills/backport-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeRepositoryNotFound = -32001 // Repository is not configured
	ErrorCodeBuildInProgress    = -32002 // Another cache build of the repository is running
	ErrorCodeCommitNotFound     = -32003 // Commit id does not resolve in the repository
	ErrorCodeCacheDisabled      = -32004 // Cache operation with cache.disabled set
)

// handleFindCommit handles the find_commit tool invocation
func (s *Server) handleFindCommit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	repository, err := requireString(args, "repository")
	if err != nil {
		return nil, err
	}
	id, err := requireString(args, "id")
	if err != nil {
		return nil, err
	}

	var source *types.CommitRecord
	if sourceRepo := getStringDefault(args, "source_repository", ""); sourceRepo != "" {
		source, err = s.workspace.ResolveCommit(ctx, sourceRepo, id)
		if err != nil {
			return nil, toolError("failed to resolve source commit", err)
		}
	} else {
		source, err = inlineCommit(args, id)
		if err != nil {
			return nil, err
		}
	}

	repo, err := s.workspace.Repo(ctx, repository)
	if err != nil {
		return nil, toolError("failed to open repository", err)
	}

	ctx, cancel := s.searchContext(ctx)
	defer cancel()

	outcome, err := repo.Searcher.Search(ctx, source)
	if err != nil {
		return nil, toolError("search failed", err)
	}

	return mcp.NewToolResultText(formatJSON(report.FromOutcome(outcome))), nil
}

// handlePlanDependencies handles the plan_dependencies tool invocation
func (s *Server) handlePlanDependencies(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	repository, sourceRepo, fixID, err := fixArgs(args)
	if err != nil {
		return nil, err
	}
	candidateIDs, err := getStringSlice(args, "candidate_ids")
	if err != nil {
		return nil, err
	}

	a, err := s.workspace.Analyzer(ctx, repository)
	if err != nil {
		return nil, toolError("failed to open repository", err)
	}
	fix, err := s.workspace.ResolveCommit(ctx, sourceRepo, fixID)
	if err != nil {
		return nil, toolError("failed to resolve fix", err)
	}

	ctx, cancel := s.searchContext(ctx)
	defer cancel()

	var candidates []*types.CommitRecord
	if candidateIDs != nil {
		candidates, err = s.workspace.ResolveCommits(ctx, sourceRepo, candidateIDs)
	} else {
		var src *workspace.Repo
		src, err = s.workspace.Repo(ctx, sourceRepo)
		if err == nil {
			candidates, err = a.DiscoverPrerequisites(ctx, src.Index, fix, 0)
		}
	}
	if err != nil {
		return nil, toolError("failed to collect candidate prerequisites", err)
	}

	plan, err := a.PlanDependencies(ctx, fix, candidates, getStringDefault(args, "reference", ""))
	if err != nil {
		return nil, toolError("dependency planning failed", err)
	}

	return mcp.NewToolResultText(formatJSON(report.FromDependencies(plan))), nil
}

// handleAnalyzeFix handles the analyze_fix tool invocation
func (s *Server) handleAnalyzeFix(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	repository, sourceRepo, fixID, err := fixArgs(args)
	if err != nil {
		return nil, err
	}

	a, err := s.workspace.Analyzer(ctx, repository)
	if err != nil {
		return nil, toolError("failed to open repository", err)
	}
	src, err := s.workspace.Repo(ctx, sourceRepo)
	if err != nil {
		return nil, toolError("failed to open source repository", err)
	}

	req := analyzer.FixRequest{
		Target:    repository,
		Reference: getStringDefault(args, "reference", ""),
		Source:    src.Index,
	}
	if req.Fix, err = s.workspace.ResolveCommit(ctx, sourceRepo, fixID); err != nil {
		return nil, toolError("failed to resolve fix", err)
	}
	if introducedID := getStringDefault(args, "introduced_id", ""); introducedID != "" {
		if req.Introduced, err = s.workspace.ResolveCommit(ctx, sourceRepo, introducedID); err != nil {
			return nil, toolError("failed to resolve introducing commit", err)
		}
	}

	ctx, cancel := s.searchContext(ctx)
	defer cancel()

	analysis, err := a.AnalyzeFix(ctx, req)
	if err != nil {
		return nil, toolError("analysis failed", err)
	}
	doc := report.FromAnalysis(analysis)

	if getBoolDefault(args, "write_reports", false) {
		paths, err := s.writeReports("analysis_"+analysis.RunID, doc)
		if err != nil {
			return nil, toolError("failed to write reports", err)
		}
		s.logger.Info("analysis reports written", "run_id", analysis.RunID, "paths", paths)
	}

	return mcp.NewToolResultText(formatJSON(doc)), nil
}

// handleBuildCache handles the build_cache tool invocation
func (s *Server) handleBuildCache(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	repository, err := requireString(args, "repository")
	if err != nil {
		return nil, err
	}
	maxCommits := getIntDefault(args, "max_commits", 0)
	if maxCommits < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "max_commits must be positive", map[string]interface{}{
			"param": "max_commits",
			"value": maxCommits,
		})
	}

	result, err := s.workspace.BuildCache(ctx, repository, index.WarmOptions{
		MaxCommits: maxCommits,
		WithDiffs:  getBoolDefault(args, "with_diffs", false),
	})
	if err != nil {
		return nil, toolError("cache build failed", err)
	}

	response := map[string]interface{}{
		"repository":  repository,
		"listed":      result.Listed,
		"inserted":    result.Inserted,
		"diffs":       result.Diffs,
		"diff_errors": result.DiffErrors,
		"pruned":      result.Pruned,
		"duration_ms": result.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleCacheStatus handles the cache_status tool invocation
func (s *Server) handleCacheStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	repository, err := requireString(args, "repository")
	if err != nil {
		return nil, err
	}

	status, err := s.workspace.CacheStatus(ctx, repository)
	if errors.Is(err, workspace.ErrCacheDisabled) {
		response := map[string]interface{}{
			"repository": repository,
			"cached":     false,
			"message":    "Commit cache is disabled in the configuration.",
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}
	if err != nil {
		return nil, toolError("failed to get cache status", err)
	}

	response := map[string]interface{}{
		"repository": repository,
		"cached":     status.Commits > 0,
		"building":   s.workspace.BuildInProgress(repository),
		"statistics": map[string]interface{}{
			"commits":           status.Commits,
			"commits_with_diff": status.CommitsWithDiff,
			"files":             status.Files,
			"cache_size_mb":     fmt.Sprintf("%.2f", status.SizeMB),
		},
		"schema_version": status.SchemaVersion,
		"health":         status.Health,
		"files_indexed":  status.FilesIndexed,
	}
	if !status.Oldest.IsZero() {
		response["oldest"] = status.Oldest.Format(time.RFC3339)
		response["newest"] = status.Newest.Format(time.RFC3339)
	}
	if !status.LastBuildAt.IsZero() {
		response["last_build_at"] = status.LastBuildAt.Format(time.RFC3339)
	}
	if !status.LastCachedAt.IsZero() {
		response["last_cached_at"] = status.LastCachedAt.Format(time.RFC3339)
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

func (s *Server) searchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := s.workspace.Config().Performance.SearchTimeout; timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func (s *Server) writeReports(name string, doc any) ([]string, error) {
	out := s.workspace.Config().Output
	formats, err := report.ParseFormats(out.Formats)
	if err != nil {
		return nil, err
	}
	return report.WriteFiles(out.Dir, name, formats, doc)
}

// Helper functions

// inlineCommit builds the source record from the find_commit arguments
func inlineCommit(args map[string]interface{}, id string) (*types.CommitRecord, error) {
	subject, err := requireString(args, "subject")
	if err != nil {
		return nil, err
	}

	rec := &types.CommitRecord{
		ID:       id,
		Subject:  subject,
		Message:  getStringDefault(args, "message", ""),
		DiffText: getStringDefault(args, "diff", ""),
	}
	if ts := getStringDefault(args, "timestamp", ""); ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid timestamp", map[string]interface{}{
				"param":  "timestamp",
				"reason": err.Error(),
			})
		}
		rec.Timestamp = t
	}
	return rec, nil
}

func fixArgs(args map[string]interface{}) (repository, sourceRepo, fixID string, err error) {
	if repository, err = requireString(args, "repository"); err != nil {
		return
	}
	if sourceRepo, err = requireString(args, "source_repository"); err != nil {
		return
	}
	fixID, err = requireString(args, "fix_id")
	return
}

// toolError maps a domain error onto an MCP error code
func toolError(message string, err error) error {
	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, config.ErrUnknownRepository):
		code = ErrorCodeRepositoryNotFound
	case errors.Is(err, index.ErrNotFound):
		code = ErrorCodeCommitNotFound
	case errors.Is(err, index.ErrBuildInProgress):
		code = ErrorCodeBuildInProgress
	case errors.Is(err, workspace.ErrCacheDisabled):
		code = ErrorCodeCacheDisabled
	case errors.Is(err, types.ErrEmptyCommitID), errors.Is(err, analyzer.ErrMissingFix):
		code = ErrorCodeInvalidParams
	}
	return newMCPError(code, message, map[string]interface{}{
		"error": err.Error(),
	})
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	if data, ok := e.Data.(map[string]interface{}); ok {
		if cause, ok := data["error"].(string); ok {
			return fmt.Sprintf("MCP error %d: %s: %s", e.Code, e.Message, cause)
		}
	}
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// requireString extracts a non-empty string parameter
func requireString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || strings.TrimSpace(val) == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return strings.TrimSpace(val), nil
}

// getStringSlice extracts an optional array of strings. A missing key
// yields nil.
func getStringSlice(args map[string]interface{}, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	invalid := newMCPError(ErrorCodeInvalidParams, key+" must be an array of strings", map[string]interface{}{
		"param": key,
	})

	switch vals := raw.(type) {
	case []string:
		return vals, nil
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, v := range vals {
			str, ok := v.(string)
			if !ok || str == "" {
				return nil, invalid
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, invalid
	}
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
