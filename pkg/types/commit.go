package types

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dshills/backport-mcp/internal/diffparse"
)

// DefaultIDPrefixLen is the canonical commit id prefix length used for identity comparisons.
const DefaultIDPrefixLen = 12

// CommitRecord describes one change: its identity, message, diff and the
// files/functions it touches.
//
// Records are shared by pointer and treated as immutable once built. Files and
// Functions are derived from DiffText on first use and memoized; supplied
// ModifiedFiles/ModifiedFunctions take precedence over derivation.
type CommitRecord struct {
	ID        string
	Subject   string
	Message   string // Full message, first line equals Subject
	DiffText  string
	Author    string
	Timestamp time.Time // Zero when unknown

	// Optional values supplied by the producer of the record
	ModifiedFiles     []string
	ModifiedFunctions []string

	deriveOnce sync.Once
	files      []string
	functions  []string
}

// Files returns the sorted set of paths touched by the commit.
func (c *CommitRecord) Files() []string {
	c.derive()
	return c.files
}

// Functions returns the sorted set of function names touched by the commit.
func (c *CommitRecord) Functions() []string {
	c.derive()
	return c.functions
}

func (c *CommitRecord) derive() {
	c.deriveOnce.Do(func() {
		var patch *diffparse.Patch
		parsed := func() *diffparse.Patch {
			if patch == nil {
				patch = diffparse.Parse(c.DiffText)
			}
			return patch
		}

		if len(c.ModifiedFiles) > 0 {
			c.files = uniqueSorted(c.ModifiedFiles)
		} else if c.DiffText != "" {
			c.files = parsed().Files
		}

		if len(c.ModifiedFunctions) > 0 {
			c.functions = uniqueSorted(c.ModifiedFunctions)
		} else if c.DiffText != "" {
			c.functions = parsed().Functions
		}
	})
}

// HasDiff reports whether diff text is populated.
func (c *CommitRecord) HasDiff() bool {
	return strings.TrimSpace(c.DiffText) != ""
}

// ShortID returns the id truncated to n characters.
func (c *CommitRecord) ShortID(n int) string {
	return truncateID(c.ID, n)
}

// Body returns the message without its subject line.
func (c *CommitRecord) Body() string {
	msg := strings.TrimSpace(c.Message)
	idx := strings.IndexByte(msg, '\n')
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(msg[idx+1:])
}

// WithDiff returns a copy of the record carrying the given diff text. The
// copy derives its own files and functions.
func (c *CommitRecord) WithDiff(diff string) *CommitRecord {
	return &CommitRecord{
		ID:                c.ID,
		Subject:           c.Subject,
		Message:           c.Message,
		DiffText:          diff,
		Author:            c.Author,
		Timestamp:         c.Timestamp,
		ModifiedFiles:     c.ModifiedFiles,
		ModifiedFunctions: c.ModifiedFunctions,
	}
}

// Validate checks that the record can take part in matching
func (c *CommitRecord) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrEmptyCommitID
	}
	return nil
}

// SameCommitID reports whether two ids name the same commit when compared by
// a canonical prefix of length n. Ids of different lengths match when either
// starts with the other's truncated prefix.
func SameCommitID(a, b string, n int) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.HasPrefix(a, truncateID(b, n)) || strings.HasPrefix(b, truncateID(a, n))
}

func truncateID(id string, n int) string {
	if n <= 0 {
		n = DefaultIDPrefixLen
	}
	if len(id) <= n {
		return id
	}
	return id[:n]
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
