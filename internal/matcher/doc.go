// Package matcher decides which commits in a target history correspond to a
// source commit.
//
// The policy is an ordered list of strategies:
//
//  1. Exact id: a candidate whose canonical id prefix equals the source's
//     yields a single result with confidence 1.0 and nothing else runs.
//  2. Subject similarity: normalized subjects scoring at least 0.85.
//  3. File and diff similarity: only when no subject result reached 0.95.
//     Candidates sharing less than 0.30 of their file basenames are dropped
//     before their diffs are compared; the rest score
//     0.4*file + 0.6*diff and are kept at 0.70 or above.
//
// Results are deduplicated per target id (highest confidence wins) and sorted
// by confidence, with ties broken by ascending target id.
//
//	m := matcher.New(matcher.DefaultConfig())
//	results := m.Match(source, candidates)
//
// The search orchestrator runs subsets of the policy with MatchUsing.
package matcher
