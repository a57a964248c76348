package diffparse

import (
	"regexp"
	"sort"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// Patch is the structural summary of a unified diff
type Patch struct {
	Files     []string // Sorted, unique, without a/ b/ prefixes
	Functions []string // Sorted, unique
	Changes   []string // Added/removed content lines, marker stripped and trimmed, in diff order
	Added     int
	Deleted   int
}

const (
	devNull       = "/dev/null"
	mailSignature = "-- " // format-patch trailer separator
)

var (
	// C definitions with optional storage/inline qualifiers and pointer returns
	cDefinition  = regexp.MustCompile(`^\+?\s*(?:static\s+)?(?:inline\s+)?(?:[A-Za-z_]\w*\s+)+\**([A-Za-z_]\w*)\s*\(`)
	pyDefinition = regexp.MustCompile(`^\+?\s*(?:async\s+)?def\s+([A-Za-z_]\w*)\s*\(`)
	goDefinition = regexp.MustCompile(`^\+?\s*func\s+(?:\([^)]*\)\s*)?([A-Za-z_]\w*)\s*[\[(]`)

	headerPath  = regexp.MustCompile(`^(?:---|\+\+\+)\s+(\S+)`)
	gitDiffLine = regexp.MustCompile(`^diff --git a/(\S+) b/(\S+)`)
	hunkHeader  = regexp.MustCompile(`^@@\s+-\d+(?:,\d+)?\s+\+\d+(?:,\d+)?\s+@@(.*)$`)
	lastIdentRe = regexp.MustCompile(`([A-Za-z_]\w*)\s*$`)
)

// Words that can precede "(" on an added line without it being a definition
var controlWords = map[string]struct{}{
	"if": {}, "for": {}, "while": {}, "switch": {}, "return": {}, "sizeof": {},
	"case": {}, "goto": {}, "do": {}, "else": {}, "typeof": {}, "defined": {},
}

// Parse summarizes a unified diff. It never fails: text that the structured
// parser rejects (fragments, mail-formatted patches) is handled by a lenient
// line scanner, and empty or garbage input yields an empty Patch.
func Parse(text string) *Patch {
	if strings.TrimSpace(text) == "" {
		return &Patch{}
	}

	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(text)).ReadAllFiles()
	if err != nil || !hasContent(fileDiffs) {
		return scan(text)
	}

	c := newCollector()
	for _, fd := range fileDiffs {
		c.addPath(fd.OrigName)
		c.addPath(fd.NewName)
		for _, hunk := range fd.Hunks {
			c.addSection(hunk.Section)
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				c.addBodyLine(line)
			}
		}
	}
	return c.patch()
}

// ChangedLines returns the added and removed content lines of a diff with the
// leading marker stripped, surrounding whitespace trimmed and empty lines dropped.
func ChangedLines(text string) []string {
	return Parse(text).Changes
}

func hasContent(fileDiffs []*diff.FileDiff) bool {
	for _, fd := range fileDiffs {
		if fd.NewName != "" || fd.OrigName != "" || len(fd.Hunks) > 0 {
			return true
		}
	}
	return false
}

// scan walks the text line by line, tracking whether it is inside a hunk so
// that file headers are not mistaken for changed lines.
func scan(text string) *Patch {
	c := newCollector()
	lines := strings.Split(text, "\n")
	inHunk := false

	for i, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case line == mailSignature:
			inHunk = false
		case strings.HasPrefix(line, "diff --git "):
			inHunk = false
			if m := gitDiffLine.FindStringSubmatch(line); m != nil {
				c.addPath("a/" + m[1])
				c.addPath("b/" + m[2])
			}
		case strings.HasPrefix(line, "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ "):
			inHunk = false
			c.addHeader(line)
		case strings.HasPrefix(line, "+++ ") && !inHunk:
			c.addHeader(line)
		case strings.HasPrefix(line, "--- ") && !inHunk:
			c.addHeader(line)
		case strings.HasPrefix(line, "@@"):
			inHunk = true
			if m := hunkHeader.FindStringSubmatch(line); m != nil {
				c.addSection(m[1])
			}
		case inHunk:
			c.addBodyLine(line)
		}
	}
	return c.patch()
}

type collector struct {
	files     map[string]struct{}
	functions map[string]struct{}
	changes   []string
	added     int
	deleted   int
}

func newCollector() *collector {
	return &collector{
		files:     make(map[string]struct{}),
		functions: make(map[string]struct{}),
	}
}

func (c *collector) addHeader(line string) {
	if m := headerPath.FindStringSubmatch(line); m != nil {
		c.addPath(m[1])
	}
}

func (c *collector) addPath(name string) {
	name = strings.TrimSpace(name)
	if name == "" || name == devNull {
		return
	}
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		name = name[2:]
	}
	if name == "" {
		return
	}
	c.files[name] = struct{}{}
}

func (c *collector) addSection(section string) {
	if name := sectionFunction(section); name != "" {
		c.functions[name] = struct{}{}
	}
}

func (c *collector) addBodyLine(line string) {
	if line == "" || line == mailSignature {
		return
	}
	switch line[0] {
	case '+':
		c.added++
		if name := definitionName(line); name != "" {
			c.functions[name] = struct{}{}
		}
	case '-':
		c.deleted++
	default:
		return
	}
	if content := strings.TrimSpace(line[1:]); content != "" {
		c.changes = append(c.changes, content)
	}
}

func (c *collector) patch() *Patch {
	return &Patch{
		Files:     sortedKeys(c.files),
		Functions: sortedKeys(c.functions),
		Changes:   c.changes,
		Added:     c.added,
		Deleted:   c.deleted,
	}
}

// sectionFunction reduces a hunk section heading to the name it defines.
// Headings that are not definitions are kept verbatim (e.g. "struct foo").
func sectionFunction(section string) string {
	section = strings.TrimSpace(section)
	section = strings.TrimSpace(strings.TrimSuffix(section, "{"))
	if section == "" {
		return ""
	}
	if name := definitionName(section); name != "" {
		return name
	}
	if idx := strings.IndexByte(section, '('); idx > 0 {
		if m := lastIdentRe.FindStringSubmatch(section[:idx]); m != nil {
			if _, ok := controlWords[m[1]]; !ok {
				return m[1]
			}
		}
		return ""
	}
	return section
}

// definitionName extracts the defined name from a C, Go or Python definition
// line. Statements (trailing ';') and control flow are rejected.
func definitionName(line string) string {
	trimmed := strings.TrimSpace(line)
	if strings.HasSuffix(trimmed, ";") {
		return ""
	}
	for _, re := range []*regexp.Regexp{goDefinition, pyDefinition, cDefinition} {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if _, ok := controlWords[m[1]]; ok {
			return ""
		}
		if re == cDefinition && startsWithControlWord(trimmed) {
			return ""
		}
		return m[1]
	}
	return ""
}

func startsWithControlWord(line string) bool {
	line = strings.TrimLeft(line, "+ \t")
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '('
	})
	if len(fields) == 0 {
		return false
	}
	_, ok := controlWords[fields[0]]
	return ok
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
