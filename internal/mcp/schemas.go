package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func repositoryProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

// findCommitTool returns the tool definition for find_commit
func findCommitTool() mcp.Tool {
	return mcp.Tool{
		Name:        "find_commit",
		Description: "Check whether a commit already exists in a target history, escalating from exact id to subject, file/diff and time-window matching",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repository": repositoryProperty("Configured name of the target repository to search"),
				"id": map[string]interface{}{
					"type":        "string",
					"description": "Commit id (full or prefix) of the source commit",
				},
				"subject": map[string]interface{}{
					"type":        "string",
					"description": "Subject line of the source commit. Required unless source_repository is given",
				},
				"diff": map[string]interface{}{
					"type":        "string",
					"description": "Unified diff of the source commit",
				},
				"message": map[string]interface{}{
					"type":        "string",
					"description": "Full commit message",
				},
				"timestamp": map[string]interface{}{
					"type":        "string",
					"description": "Commit time in RFC 3339 format, enables the time-window fallback",
				},
				"source_repository": repositoryProperty("Configured repository to read the source commit from instead of the inline fields"),
			},
			Required: []string{"repository", "id"},
		},
	}
}

// planDependenciesTool returns the tool definition for plan_dependencies
func planDependenciesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "plan_dependencies",
		Description: "Find the prerequisites of a fix, order them for merging and report which ones the target already has",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repository":        repositoryProperty("Configured name of the target repository"),
				"source_repository": repositoryProperty("Configured name of the repository containing the fix"),
				"fix_id": map[string]interface{}{
					"type":        "string",
					"description": "Commit id of the fix in the source repository",
				},
				"candidate_ids": map[string]interface{}{
					"type":        "array",
					"description": "Possible prerequisites. When omitted, earlier commits touching the fix's files are used",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"reference": map[string]interface{}{
					"type":        "string",
					"description": "Vulnerability or ticket identifier, included in advisor prompts",
				},
			},
			Required: []string{"repository", "source_repository", "fix_id"},
		},
	}
}

// analyzeFixTool returns the tool definition for analyze_fix
func analyzeFixTool() mcp.Tool {
	return mcp.Tool{
		Name:        "analyze_fix",
		Description: "Run the full backport analysis for a fix: introducing commit, fix presence, patch analysis, prerequisites and recommendations",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repository":        repositoryProperty("Configured name of the target repository"),
				"source_repository": repositoryProperty("Configured name of the repository containing the fix"),
				"fix_id": map[string]interface{}{
					"type":        "string",
					"description": "Commit id of the fix in the source repository",
				},
				"introduced_id": map[string]interface{}{
					"type":        "string",
					"description": "Commit id that introduced the bug, if known",
				},
				"reference": map[string]interface{}{
					"type":        "string",
					"description": "Vulnerability identifier, e.g. CVE-2024-26633",
				},
				"write_reports": map[string]interface{}{
					"type":        "boolean",
					"description": "Also write the report to the configured output directory in every configured format",
					"default":     false,
				},
			},
			Required: []string{"repository", "source_repository", "fix_id"},
		},
	}
}

// buildCacheTool returns the tool definition for build_cache
func buildCacheTool() mcp.Tool {
	return mcp.Tool{
		Name:        "build_cache",
		Description: "Populate the local commit cache of a repository with its most recent commits",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repository": repositoryProperty("Configured name of the repository to cache"),
				"max_commits": map[string]interface{}{
					"type":        "integer",
					"description": "Number of recent commits to cache (default: cache.max_cached_commits)",
					"minimum":     1,
				},
				"with_diffs": map[string]interface{}{
					"type":        "boolean",
					"description": "Also fetch and store every diff",
					"default":     false,
				},
			},
			Required: []string{"repository"},
		},
	}
}

// cacheStatusTool returns the tool definition for cache_status
func cacheStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cache_status",
		Description: "Report commit cache statistics and health for a repository",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repository": repositoryProperty("Configured name of the repository"),
			},
			Required: []string{"repository"},
		},
	}
}
