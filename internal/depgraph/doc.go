// Package depgraph finds prerequisite commits for a fix and orders them.
//
// A candidate's dependency strength against a target is
//
//	0.6 * |target.files ∩ candidate.files| / |target.files|
//	+ 0.4 * |target.functions ∩ candidate.functions| / |target.functions|
//
// FindDependencies keeps candidates above 0.3 that are older than the target.
// AddEdge records an ordering edge only above 0.5. TopologicalOrder runs
// Kahn's algorithm over a node set and never fails: a cycle produces an
// incomplete MergePlan listing the nodes it could not place.
package depgraph
