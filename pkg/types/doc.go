// Package types provides shared type definitions for the backport engine.
//
// This package defines the value objects that flow between the matcher, the
// dependency graph, the search orchestrator and the outer surfaces (CLI, MCP
// tools, reports).
//
// # Commit Records
//
// CommitRecord describes one change. Records are built by index adapters or by
// callers and are shared by pointer:
//
//	rec := &types.CommitRecord{
//	    ID:       "1a2b3c4d5e6f7a8b9c0d",
//	    Subject:  "net: fix memory leak in tcp_connect",
//	    DiffText: patch,
//	}
//	rec.Files()     // derived from the diff once, then memoized
//	rec.Functions() // same
//
// Supplied ModifiedFiles/ModifiedFunctions win over derivation. WithDiff
// returns a fresh record when a diff is fetched later; the original record is
// never mutated.
//
// Commit identity is compared by a canonical prefix (DefaultIDPrefixLen):
//
//	types.SameCommitID("1a2b3c4d5e6f", "1a2b3c4d5e6f7a8b", 12) // true
//
// # Match Results
//
// MatchResult carries a confidence in [0,1] and one of a closed set of
// strategies:
//
//	StrategyExactID           - canonical id prefix equality
//	StrategySubjectSimilarity - normalized subject similarity
//	StrategyFileAndDiff       - file-name overlap blended with changed-line similarity
//	StrategyTimeWindow        - any of the above found by the time-window fallback
//
// # Search Outcomes
//
// SearchOutcome is the terminal state of a staged search:
//
//	StatusFound               - a stage accepted a match
//	StatusNotFound            - every stage ran and nothing qualified
//	StatusInfrastructureError - every attempted stage failed to reach the index
//
// Each stage leaves a StageReport so callers can see which lookups ran and why
// the search stopped.
//
// # Dependency Planning
//
// DependencyEdge and MergePlan describe prerequisite ordering. A MergePlan with
// Complete=false lists the identifiers a cycle prevented from being ordered in
// Unresolved. DependencyReport and Analysis aggregate these for report writers.
//
// # Validation
//
// Validate methods return the sentinel errors declared in errors.go so callers
// can use errors.Is.
package types
