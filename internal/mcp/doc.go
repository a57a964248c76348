// Package mcp implements the Model Context Protocol (MCP) server for
// backport analysis.
//
// The server exposes five tools to MCP clients:
//   - find_commit: Check whether a commit already exists in a target history
//   - plan_dependencies: Order the prerequisites of a fix and report which are merged
//   - analyze_fix: Run the full fix workflow with recommendations
//   - build_cache: Warm the local commit cache of a repository
//   - cache_status: Report cache statistics and health
//
// Repositories are referred to by the names configured under
// "repositories" in backport.yaml.
//
// # Basic Usage
//
// The server is started via the serve command and speaks JSON-RPC on stdio:
//
//	backport serve --config backport.yaml
//
// # Tool: find_commit
//
//	Request:
//	{
//	  "name": "find_commit",
//	  "arguments": {
//	    "repository": "5.10",
//	    "id": "1a2b3c4d5e6f",
//	    "subject": "net: fix memory leak in tcp_connect",
//	    "diff": "diff --git a/net/ipv4/tcp.c ...",
//	    "timestamp": "2024-03-01T12:00:00Z"
//	  }
//	}
//
//	Response:
//	{
//	  "sourceId": "1a2b3c4d5e6f",
//	  "found": true,
//	  "status": "found",
//	  "strategy": "subject_similarity",
//	  "confidence": 0.93,
//	  "targetCommit": "9f8e7d6c5b4a...",
//	  "candidates": [...],
//	  "stages": [...]
//	}
//
// Passing "source_repository" instead of subject and diff reads the source
// commit from that repository.
//
// # Tool: plan_dependencies
//
//	Request:
//	{
//	  "name": "plan_dependencies",
//	  "arguments": {
//	    "repository": "5.10",
//	    "source_repository": "mainline",
//	    "fix_id": "1a2b3c4d5e6f",
//	    "candidate_ids": ["aaaa00000000", "bbbb00000000"]
//	  }
//	}
//
// Without candidate_ids, earlier commits of the source repository that touch
// the fix's files are used. The response carries mergeOrder, complete,
// unresolved, dependencyGraph, dependencies, needToMerge and alreadyMerged.
// A dependency cycle is not an error: complete is false and unresolved lists
// the nodes that could not be ordered.
//
// # Tool: analyze_fix
//
// Takes the plan_dependencies arguments without candidate_ids, plus
// "introduced_id", "reference" and "write_reports". With write_reports the
// document is also written to output.dir in every output.formats entry.
//
// # Errors
//
// Handlers return *MCPError values:
//   - -32602: Invalid params (missing or malformed arguments)
//   - -32603: Internal error (git, storage, cancelled search)
//   - -32001: Repository not configured
//   - -32002: Cache build already in progress
//   - -32003: Commit not found
//   - -32004: Commit cache disabled
//
// # Logging
//
// All logging goes to stderr through log/slog; stdout carries only the
// protocol.
package mcp
