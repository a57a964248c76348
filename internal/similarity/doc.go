// Package similarity scores how alike two commits are.
//
// All scores are in [0,1] and every scoring function is total: empty or
// malformed input yields a score, never an error.
//
//   - TextSimilarity: normalized subjects compared character by character
//   - MessageSimilarity: 0.7 subject + 0.3 body lines, subject only when a body is missing
//   - DiffSimilarity: ordered changed lines of two diffs
//   - FileSimilarity: Jaccard index over file basenames
//
// Sequence similarity uses the Ratcliff/Obershelp ratio from go-difflib with
// the autojunk heuristic disabled, so Ratio(a, a) is always 1.0.
//
// NormalizeSubject strips backport markers ("[backport]", "stable:",
// "cherry-pick" and similar) so that a backported subject compares equal to
// its mainline original. Keywords derives the search terms used by the
// subject-keyword stage of the orchestrator.
package similarity
