package similarity

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxKeywords bounds the number of keywords derived from a subject.
const DefaultMaxKeywords = 5

// Markers that backport tooling and stable maintainers put in front of a
// subject. Matched after lowercasing.
var markerPrefixes = []string{
	"[backport]",
	"[stable]",
	"backport:",
	"stable:",
	"[patch]",
	"cherry-pick",
	"cherry pick",
}

var (
	leadingJunk = regexp.MustCompile(`^[\s\-:]+`)
	wordPattern = regexp.MustCompile(`\w+`)
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "in": {}, "on": {}, "at": {}, "to": {},
	"for": {}, "of": {}, "with": {}, "by": {},
	"from": {}, "into": {}, "that": {}, "this": {}, "when": {}, "than": {},
}

// NormalizeSubject lowercases a subject and strips backport markers and
// leading punctuation. Markers are removed repeatedly until none remain, so
// NormalizeSubject(NormalizeSubject(s)) == NormalizeSubject(s).
func NormalizeSubject(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	for {
		before := s
		for _, prefix := range markerPrefixes {
			s = trimMarker(s, prefix)
		}
		s = leadingJunk.ReplaceAllString(s, "")
		s = strings.TrimSpace(s)
		if s == before {
			return s
		}
	}
}

// trimMarker removes marker from the front of s when it stands alone, so
// "cherry-picked" keeps its word while "cherry-pick: x" loses the marker
func trimMarker(s, marker string) string {
	rest, ok := strings.CutPrefix(s, marker)
	if !ok {
		return s
	}
	last, _ := utf8.DecodeLastRuneInString(marker)
	if next, _ := utf8.DecodeRuneInString(rest); rest != "" && isWordRune(last) && isWordRune(next) {
		return s
	}
	return rest
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Keywords returns up to limit salient words of a subject, in order of first
// appearance. Words of three characters or fewer and stop words are dropped.
func Keywords(subject string, limit int) []string {
	if limit <= 0 {
		limit = DefaultMaxKeywords
	}

	seen := make(map[string]struct{})
	var out []string
	for _, word := range wordPattern.FindAllString(NormalizeSubject(subject), -1) {
		if utf8.RuneCountInString(word) <= 3 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		out = append(out, word)
		if len(out) == limit {
			break
		}
	}
	return out
}
