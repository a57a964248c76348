package similarity

import (
	"path"
	"slices"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/dshills/backport-mcp/internal/diffparse"
)

// Weights of the subject and body components of MessageSimilarity.
const (
	SubjectWeight = 0.7
	BodyWeight    = 0.3
)

// Ratio returns the Ratcliff/Obershelp similarity 2*M/(len(a)+len(b)) of two
// sequences, where M counts the elements in matching blocks. Two empty
// sequences are identical (1.0).
//
// The pair is put in a canonical order first because the block search is not
// symmetric in its arguments.
func Ratio(a, b []string) float64 {
	if slices.Compare(a, b) > 0 {
		a, b = b, a
	}
	return difflib.NewMatcherWithJunk(a, b, false, nil).Ratio()
}

// TextSimilarity compares two subjects after normalization, character by character.
func TextSimilarity(a, b string) float64 {
	return Ratio(chars(NormalizeSubject(a)), chars(NormalizeSubject(b)))
}

// MessageSimilarity blends subject and body similarity of two full commit
// messages. When either message has no body only the subjects are compared.
func MessageSimilarity(msg1, msg2 string) float64 {
	subject1, body1 := splitMessage(msg1)
	subject2, body2 := splitMessage(msg2)

	subjectScore := TextSimilarity(subject1, subject2)
	if len(body1) == 0 || len(body2) == 0 {
		return subjectScore
	}
	return clamp(SubjectWeight*subjectScore + BodyWeight*Ratio(body1, body2))
}

// DiffSimilarity compares the ordered changed lines of two diffs. Context
// lines and file headers do not count. Returns 0 when either side has no
// changed lines.
func DiffSimilarity(diff1, diff2 string) float64 {
	return LineSimilarity(diffparse.ChangedLines(diff1), diffparse.ChangedLines(diff2))
}

// LineSimilarity is DiffSimilarity over already extracted changed lines.
func LineSimilarity(lines1, lines2 []string) float64 {
	if len(lines1) == 0 || len(lines2) == 0 {
		return 0
	}
	return Ratio(lines1, lines2)
}

// FileSimilarity is the Jaccard index of the two sets of file basenames.
// Returns 0 when either set is empty.
func FileSimilarity(files1, files2 []string) float64 {
	set1 := basenames(files1)
	set2 := basenames(files2)
	if len(set1) == 0 || len(set2) == 0 {
		return 0
	}

	shared := 0
	for name := range set1 {
		if _, ok := set2[name]; ok {
			shared++
		}
	}
	union := len(set1) + len(set2) - shared
	return float64(shared) / float64(union)
}

func basenames(files []string) map[string]struct{} {
	set := make(map[string]struct{}, len(files))
	for _, f := range files {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		set[path.Base(f)] = struct{}{}
	}
	return set
}

// splitMessage returns the subject line and the trimmed, non-empty body lines.
func splitMessage(msg string) (string, []string) {
	lines := strings.Split(strings.TrimSpace(msg), "\n")
	subject := strings.TrimSpace(lines[0])

	var body []string
	for _, line := range lines[1:] {
		if line = strings.TrimSpace(line); line != "" {
			body = append(body, line)
		}
	}
	return subject, body
}

func chars(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "")
}

func clamp(v float64) float64 {
	return max(0, min(1, v))
}
