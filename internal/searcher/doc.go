// Package searcher implements the staged commit search.
//
// A Searcher looks one source commit up in one target history. Stages run in
// strict cost order and the first stage that accepts a match ends the search:
//
//	exact_id          point lookup by id prefix, confidence 1.0
//	subject_keywords  keyword query, subject similarity, accept > 0.85
//	file_and_diff     file query, subject plus file/diff similarity, accept > 0.70
//	time_window       unfiltered window around the source timestamp, accept > 0.70
//
// # Basic Usage
//
//	s, err := searcher.New(idx, searcher.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//
//	outcome, err := s.Search(ctx, &types.CommitRecord{
//	    ID:       "1a2b3c4d5e6f",
//	    Subject:  "net: fix memory leak in tcp_connect",
//	    DiffText: patch,
//	})
//	if outcome.Found() {
//	    fmt.Printf("%s via %s (%.2f)\n",
//	        outcome.TargetID(), outcome.Match.Strategy, outcome.Confidence())
//	}
//
// # Failure Handling
//
// A stage whose index query fails records the error in its StageReport and
// the search continues with the next stage. Only when every attempted stage
// failed is the outcome reported as infrastructure_error, which keeps it
// distinct from a genuine not_found.
//
// The file_and_diff stage also scores subject similarity, so a subject hit
// seen by subject_keywords may appear again in Candidates with the same
// confidence; ranking keeps one order for both.
//
// Candidates returned without a diff are backfilled concurrently. A
// candidate whose diff cannot be fetched is counted as unknown and excluded
// from scoring; its siblings are still scored.
//
// # Caching
//
// Found outcomes, and not-found outcomes where every stage ran without error
// or unknown candidates, are kept in an LRU keyed by a SHA-256 of the source
// id, subject, message, diff and timestamp, with a TTL (default 10 minutes).
// Callers receive copies; mutating a returned outcome does not affect the
// cache. Infrastructure errors and degraded misses are never cached.
//
// # Thread Safety
//
// A Searcher is safe for concurrent use. Each Search call keeps its state on
// the stack; the outcome cache is internally synchronized.
package searcher
