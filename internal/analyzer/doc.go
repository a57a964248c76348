// Package analyzer runs the multi-commit workflows on top of the staged
// search: batch lookups on a bounded worker pool, dependency planning for a
// fix, and the full fix analysis.
//
// # Dependency planning
//
// PlanDependencies scores candidate prerequisites against the fix, keeps
// the ones above the dependency threshold, links strong dependencies in a
// graph (including links among the prerequisites themselves), orders the
// fix and its prerequisites topologically, and searches every prerequisite
// in the target. The report lists what still needs to be applied, in plan
// order, and what the target already has.
//
// # Fix analysis
//
//	a, _ := analyzer.New(s, adv, analyzer.Config{})
//	analysis, err := a.AnalyzeFix(ctx, analyzer.FixRequest{
//	    Target:    "5.10",
//	    Reference: "CVE-2024-26633",
//	    Fix:       fix,
//	    Source:    mainline,
//	})
//
// When the fix is already in the target the workflow stops after the fix
// search. A failed lookup never aborts a batch: the item is marked unknown
// and its siblings complete.
package analyzer
