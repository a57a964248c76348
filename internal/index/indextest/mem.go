// Package indextest provides an in-memory commit history for tests of
// packages that consume index.RepositoryIndex.
package indextest

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dshills/backport-mcp/internal/index"
	"github.com/dshills/backport-mcp/pkg/types"
)

// MemIndex is an in-memory history. Search results come back without diffs,
// like the git log queries, and GetDiff supplies them.
type MemIndex struct {
	mu      sync.Mutex
	commits []*types.CommitRecord // Newest first
	err     error
	calls   map[string]int
}

// New returns a MemIndex over commits, given newest first
func New(commits ...*types.CommitRecord) *MemIndex {
	return &MemIndex{commits: commits, calls: make(map[string]int)}
}

// Fail makes every later call return err; nil restores normal behavior
func (m *MemIndex) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how often method was called
func (m *MemIndex) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MemIndex) record(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method]++
	return m.err
}

func strip(rec *types.CommitRecord) *types.CommitRecord {
	return &types.CommitRecord{
		ID:        rec.ID,
		Subject:   rec.Subject,
		Message:   rec.Message,
		Author:    rec.Author,
		Timestamp: rec.Timestamp,
	}
}

// FindByID matches a case-insensitive id prefix
func (m *MemIndex) FindByID(ctx context.Context, idPrefix string) (*types.CommitRecord, error) {
	if err := m.record("FindByID"); err != nil {
		return nil, err
	}
	prefix := strings.ToLower(strings.TrimSpace(idPrefix))
	if prefix == "" {
		return nil, index.ErrNotFound
	}
	for _, c := range m.commits {
		if strings.HasPrefix(c.ID, prefix) {
			return strip(c), nil
		}
	}
	return nil, index.ErrNotFound
}

// SearchByKeywords matches any keyword as a case-insensitive subject substring
func (m *MemIndex) SearchByKeywords(ctx context.Context, keywords []string, limit int) ([]*types.CommitRecord, error) {
	if err := m.record("SearchByKeywords"); err != nil {
		return nil, err
	}
	return m.collect(limit, func(c *types.CommitRecord) bool {
		subject := strings.ToLower(c.Subject)
		for _, k := range keywords {
			if strings.Contains(subject, strings.ToLower(k)) {
				return true
			}
		}
		return false
	}), nil
}

// SearchByFiles matches commits touching any of paths
func (m *MemIndex) SearchByFiles(ctx context.Context, paths []string, limit int) ([]*types.CommitRecord, error) {
	if err := m.record("SearchByFiles"); err != nil {
		return nil, err
	}
	return m.collect(limit, func(c *types.CommitRecord) bool {
		for _, f := range c.Files() {
			if slices.Contains(paths, f) {
				return true
			}
		}
		return false
	}), nil
}

// SearchByTimeWindow matches commits with since <= timestamp <= until
func (m *MemIndex) SearchByTimeWindow(ctx context.Context, since, until time.Time, limit int) ([]*types.CommitRecord, error) {
	if err := m.record("SearchByTimeWindow"); err != nil {
		return nil, err
	}
	return m.collect(limit, func(c *types.CommitRecord) bool {
		return !c.Timestamp.Before(since) && !c.Timestamp.After(until)
	}), nil
}

// Recent lists the newest commits
func (m *MemIndex) Recent(ctx context.Context, limit int) ([]*types.CommitRecord, error) {
	if err := m.record("Recent"); err != nil {
		return nil, err
	}
	return m.collect(limit, func(*types.CommitRecord) bool { return true }), nil
}

// GetDiff returns the full diff of a commit
func (m *MemIndex) GetDiff(ctx context.Context, id string) (string, error) {
	if err := m.record("GetDiff"); err != nil {
		return "", err
	}
	for _, c := range m.commits {
		if strings.EqualFold(c.ID, id) {
			return c.DiffText, nil
		}
	}
	return "", index.ErrNotFound
}

func (m *MemIndex) collect(limit int, match func(*types.CommitRecord) bool) []*types.CommitRecord {
	var out []*types.CommitRecord
	for _, c := range m.commits {
		if limit > 0 && len(out) >= limit {
			break
		}
		if match(c) {
			out = append(out, strip(c))
		}
	}
	return out
}
