package searcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/backport-mcp/internal/index"
	"github.com/dshills/backport-mcp/internal/metrics"
	"github.com/dshills/backport-mcp/pkg/types"
)

const (
	sourceID = "aaaaaaaaaaaa1111111111111111111111111111"
	targetID = "bbbbbbbbbbbb2222222222222222222222222222"
	otherID  = "cccccccccccc3333333333333333333333333333"

	fixDiff = `diff --git a/net/ipv4/tcp.c b/net/ipv4/tcp.c
index 1111111..2222222 100644
--- a/net/ipv4/tcp.c
+++ b/net/ipv4/tcp.c
@@ -10,2 +10,4 @@ static int tcp_connect(struct sock *sk)
 	int err;
+	if (!sk)
+		return -EINVAL;
 	err = tcp_transmit(sk);
`
	unrelatedDiff = `diff --git a/fs/ext4/inode.c b/fs/ext4/inode.c
--- a/fs/ext4/inode.c
+++ b/fs/ext4/inode.c
@@ -1,1 +1,1 @@
-	return 0;
+	return -EIO;
`
)

var sourceTime = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

// mockIndex implements index.RepositoryIndex and index.TimeWindowSearcher
// with overridable functions and per-method call counters
type mockIndex struct {
	mu    sync.Mutex
	calls map[string]int

	findByID         func(ctx context.Context, id string) (*types.CommitRecord, error)
	searchByKeywords func(ctx context.Context, keywords []string, limit int) ([]*types.CommitRecord, error)
	searchByFiles    func(ctx context.Context, paths []string, limit int) ([]*types.CommitRecord, error)
	searchByTime     func(ctx context.Context, since, until time.Time, limit int) ([]*types.CommitRecord, error)
	getDiff          func(ctx context.Context, id string) (string, error)
}

func newMockIndex() *mockIndex {
	return &mockIndex{calls: make(map[string]int)}
}

func (m *mockIndex) hit(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method]++
}

func (m *mockIndex) count(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *mockIndex) FindByID(ctx context.Context, id string) (*types.CommitRecord, error) {
	m.hit("FindByID")
	if m.findByID != nil {
		return m.findByID(ctx, id)
	}
	return nil, index.ErrNotFound
}

func (m *mockIndex) SearchByKeywords(ctx context.Context, keywords []string, limit int) ([]*types.CommitRecord, error) {
	m.hit("SearchByKeywords")
	if m.searchByKeywords != nil {
		return m.searchByKeywords(ctx, keywords, limit)
	}
	return nil, nil
}

func (m *mockIndex) SearchByFiles(ctx context.Context, paths []string, limit int) ([]*types.CommitRecord, error) {
	m.hit("SearchByFiles")
	if m.searchByFiles != nil {
		return m.searchByFiles(ctx, paths, limit)
	}
	return nil, nil
}

func (m *mockIndex) SearchByTimeWindow(ctx context.Context, since, until time.Time, limit int) ([]*types.CommitRecord, error) {
	m.hit("SearchByTimeWindow")
	if m.searchByTime != nil {
		return m.searchByTime(ctx, since, until, limit)
	}
	return nil, nil
}

func (m *mockIndex) GetDiff(ctx context.Context, id string) (string, error) {
	m.hit("GetDiff")
	if m.getDiff != nil {
		return m.getDiff(ctx, id)
	}
	return "", index.ErrNotFound
}

// basicIndex hides the optional capabilities of the wrapped index
type basicIndex struct {
	index.RepositoryIndex
}

func source() *types.CommitRecord {
	return &types.CommitRecord{
		ID:        sourceID,
		Subject:   "net: fix memory leak in tcp_connect",
		Message:   "net: fix memory leak in tcp_connect\n\nFree the skb on error.",
		DiffText:  fixDiff,
		Timestamp: sourceTime,
	}
}

func newSearcher(t *testing.T, idx index.RepositoryIndex, opts Options) *Searcher {
	t.Helper()
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(prometheus.NewRegistry())
	}
	s, err := New(idx, opts)
	require.NoError(t, err)
	return s
}

func TestNew_RequiresIndex(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)
}

func TestSearch_NilSource(t *testing.T) {
	s := newSearcher(t, newMockIndex(), Options{})
	_, err := s.Search(context.Background(), nil)
	assert.Error(t, err)
}

func TestSearch_ExactIDShortCircuits(t *testing.T) {
	idx := newMockIndex()
	idx.findByID = func(ctx context.Context, id string) (*types.CommitRecord, error) {
		return &types.CommitRecord{ID: sourceID, Subject: "net: fix memory leak in tcp_connect"}, nil
	}
	s := newSearcher(t, idx, Options{})

	outcome, err := s.Search(context.Background(), source())
	require.NoError(t, err)

	require.True(t, outcome.Found())
	assert.Equal(t, types.StrategyExactID, outcome.Match.Strategy)
	assert.Equal(t, 1.0, outcome.Confidence())
	assert.Equal(t, sourceID, outcome.TargetID())
	require.Len(t, outcome.Stages, 1)
	assert.True(t, outcome.Stages[0].Accepted)

	assert.Equal(t, 1, idx.count("FindByID"))
	assert.Zero(t, idx.count("SearchByKeywords"))
	assert.Zero(t, idx.count("SearchByFiles"))
	assert.Zero(t, idx.count("SearchByTimeWindow"))
	assert.Zero(t, idx.count("GetDiff"))
}

func TestSearch_SubjectStage(t *testing.T) {
	idx := newMockIndex()
	var gotKeywords []string
	var gotLimit int
	idx.searchByKeywords = func(ctx context.Context, keywords []string, limit int) ([]*types.CommitRecord, error) {
		gotKeywords, gotLimit = keywords, limit
		return []*types.CommitRecord{
			{ID: otherID, Subject: "mm: reclaim pages faster"},
			{ID: targetID, Subject: "[backport] net: fix memory leak in tcp_connect"},
		}, nil
	}
	s := newSearcher(t, idx, Options{})

	outcome, err := s.Search(context.Background(), source())
	require.NoError(t, err)

	require.True(t, outcome.Found())
	assert.Equal(t, targetID, outcome.TargetID())
	assert.Equal(t, types.StrategySubjectSimilarity, outcome.Match.Strategy)
	assert.GreaterOrEqual(t, outcome.Confidence(), 0.85)
	assert.Equal(t, []string{"memory", "leak", "tcp_connect"}, gotKeywords)
	assert.Equal(t, DefaultKeywordLimit, gotLimit)

	require.Len(t, outcome.Stages, 2)
	assert.Equal(t, types.StageExactID, outcome.Stages[0].Stage)
	assert.False(t, outcome.Stages[0].Accepted)
	assert.Equal(t, 2, outcome.Stages[1].Candidates)
	assert.Zero(t, idx.count("SearchByFiles"))
}

func TestSearch_FileAndDiffStageBackfillsDiffs(t *testing.T) {
	idx := newMockIndex()
	idx.searchByFiles = func(ctx context.Context, paths []string, limit int) ([]*types.CommitRecord, error) {
		assert.Equal(t, []string{"net/ipv4/tcp.c"}, paths)
		assert.Equal(t, DefaultFileLimit, limit)
		return []*types.CommitRecord{
			{ID: otherID, Subject: "ext4: return EIO on corrupted inode"},
			{ID: targetID, Subject: "tcp: handle missing socket"},
		}, nil
	}
	idx.getDiff = func(ctx context.Context, id string) (string, error) {
		if id == targetID {
			return fixDiff, nil
		}
		return unrelatedDiff, nil
	}
	s := newSearcher(t, idx, Options{})

	outcome, err := s.Search(context.Background(), source())
	require.NoError(t, err)

	require.True(t, outcome.Found())
	assert.Equal(t, targetID, outcome.TargetID())
	assert.Equal(t, types.StrategyFileAndDiff, outcome.Match.Strategy)
	assert.Equal(t, 1.0, outcome.Confidence())
	assert.Equal(t, 2, idx.count("GetDiff"))
	assert.Zero(t, idx.count("SearchByTimeWindow"))

	require.Len(t, outcome.Stages, 3)
	assert.True(t, outcome.Stages[2].Accepted)
	assert.Zero(t, outcome.Stages[2].Unknown)
}

func TestSearch_KnownFilesSkipBackfill(t *testing.T) {
	idx := newMockIndex()
	idx.searchByFiles = func(ctx context.Context, paths []string, limit int) ([]*types.CommitRecord, error) {
		return []*types.CommitRecord{
			{ID: otherID, Subject: "ext4: return EIO", ModifiedFiles: []string{"fs/ext4/inode.c"}},
		}, nil
	}
	s := newSearcher(t, idx, Options{DisableTimeWindow: true})

	outcome, err := s.Search(context.Background(), source())
	require.NoError(t, err)
	assert.Equal(t, types.StatusNotFound, outcome.Status)
	assert.Zero(t, idx.count("GetDiff"))
}

func TestSearch_UnknownCandidatesAreExcluded(t *testing.T) {
	idx := newMockIndex()
	idx.searchByFiles = func(ctx context.Context, paths []string, limit int) ([]*types.CommitRecord, error) {
		return []*types.CommitRecord{
			{ID: otherID, Subject: "tcp: handle missing socket"},
			{ID: targetID, Subject: "tcp: handle missing socket"},
		}, nil
	}
	idx.getDiff = func(ctx context.Context, id string) (string, error) {
		if id == otherID {
			return "", fmt.Errorf("%w: git show timed out", index.ErrUnavailable)
		}
		return fixDiff, nil
	}
	s := newSearcher(t, idx, Options{})

	outcome, err := s.Search(context.Background(), source())
	require.NoError(t, err)

	require.True(t, outcome.Found())
	assert.Equal(t, targetID, outcome.TargetID())
	require.Len(t, outcome.Stages, 3)
	assert.Equal(t, 2, outcome.Stages[2].Candidates)
	assert.Equal(t, 1, outcome.Stages[2].Unknown)
	for _, c := range outcome.Candidates {
		assert.NotEqual(t, otherID, c.TargetID)
	}
}

func TestSearch_TimeWindowFallback(t *testing.T) {
	idx := newMockIndex()
	var since, until time.Time
	idx.searchByTime = func(ctx context.Context, s, u time.Time, limit int) ([]*types.CommitRecord, error) {
		since, until = s, u
		assert.Equal(t, DefaultTimeWindowLimit, limit)
		return []*types.CommitRecord{
			{ID: targetID, Subject: "tcp: reject NULL socket", DiffText: fixDiff},
		}, nil
	}
	s := newSearcher(t, idx, Options{TimeWindow: 48 * time.Hour})

	outcome, err := s.Search(context.Background(), source())
	require.NoError(t, err)

	require.True(t, outcome.Found())
	assert.Equal(t, types.StrategyTimeWindow, outcome.Match.Strategy)
	assert.Equal(t, string(types.StrategyFileAndDiff), outcome.Match.Details["matched_by"])
	assert.Equal(t, sourceTime.Add(-48*time.Hour), since)
	assert.Equal(t, sourceTime.Add(48*time.Hour), until)
	require.Len(t, outcome.Stages, 4)
	assert.True(t, outcome.Stages[3].Accepted)
}

func TestSearch_TimeWindowSkipped(t *testing.T) {
	tests := []struct {
		name   string
		idx    func(*mockIndex) index.RepositoryIndex
		opts   Options
		source func() *types.CommitRecord
	}{
		{
			name: "index without capability",
			idx:  func(m *mockIndex) index.RepositoryIndex { return basicIndex{m} },
		},
		{
			name: "disabled",
			idx:  func(m *mockIndex) index.RepositoryIndex { return m },
			opts: Options{DisableTimeWindow: true},
		},
		{
			name: "no timestamp",
			idx:  func(m *mockIndex) index.RepositoryIndex { return m },
			source: func() *types.CommitRecord {
				src := source()
				src.Timestamp = time.Time{}
				return src
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockIndex()
			s := newSearcher(t, tt.idx(m), tt.opts)
			src := source()
			if tt.source != nil {
				src = tt.source()
			}

			outcome, err := s.Search(context.Background(), src)
			require.NoError(t, err)
			assert.Equal(t, types.StatusNotFound, outcome.Status)
			require.Len(t, outcome.Stages, 4)
			assert.True(t, outcome.Stages[3].Skipped)
			assert.Zero(t, m.count("SearchByTimeWindow"))
		})
	}
}

func TestSearch_NotFound(t *testing.T) {
	idx := newMockIndex()
	s := newSearcher(t, idx, Options{})

	outcome, err := s.Search(context.Background(), source())
	require.NoError(t, err)

	assert.Equal(t, types.StatusNotFound, outcome.Status)
	assert.Nil(t, outcome.Match)
	assert.NotNil(t, outcome.Candidates)
	assert.Empty(t, outcome.Candidates)
	require.Len(t, outcome.Stages, 4)
	for _, st := range outcome.Stages {
		assert.False(t, st.Accepted)
		assert.Empty(t, st.Error)
	}
}

func TestSearch_BelowThresholdKeepsCandidates(t *testing.T) {
	idx := newMockIndex()
	idx.searchByKeywords = func(ctx context.Context, keywords []string, limit int) ([]*types.CommitRecord, error) {
		return []*types.CommitRecord{
			{ID: targetID, Subject: "net: fix memory leak in tcp_connect path"},
		}, nil
	}
	// Subject similarity 0.9333 is kept by the matcher but not accepted here
	s := newSearcher(t, idx, Options{SubjectAccept: 0.95, DisableTimeWindow: true})

	outcome, err := s.Search(context.Background(), source())
	require.NoError(t, err)

	assert.Equal(t, types.StatusNotFound, outcome.Status)
	require.Len(t, outcome.Candidates, 1)
	assert.Equal(t, targetID, outcome.Candidates[0].TargetID)
	assert.InDelta(t, 0.9333, outcome.Stages[1].BestConfidence, 0.001)
}

func TestSearch_InfrastructureError(t *testing.T) {
	unavailable := fmt.Errorf("%w: repository missing", index.ErrUnavailable)
	idx := newMockIndex()
	idx.findByID = func(context.Context, string) (*types.CommitRecord, error) { return nil, unavailable }
	idx.searchByKeywords = func(context.Context, []string, int) ([]*types.CommitRecord, error) { return nil, unavailable }
	idx.searchByFiles = func(context.Context, []string, int) ([]*types.CommitRecord, error) { return nil, unavailable }
	idx.searchByTime = func(context.Context, time.Time, time.Time, int) ([]*types.CommitRecord, error) {
		return nil, unavailable
	}
	s := newSearcher(t, idx, Options{})

	outcome, err := s.Search(context.Background(), source())
	require.NoError(t, err)

	assert.Equal(t, types.StatusInfrastructureError, outcome.Status)
	require.Len(t, outcome.Stages, 4)
	for _, st := range outcome.Stages {
		assert.Contains(t, st.Error, "repository missing")
	}

	// Not cached: the next search queries the index again
	_, err = s.Search(context.Background(), source())
	require.NoError(t, err)
	assert.Equal(t, 2, idx.count("FindByID"))
}

func TestSearch_PartialFailureIsNotFound(t *testing.T) {
	idx := newMockIndex()
	idx.searchByKeywords = func(context.Context, []string, int) ([]*types.CommitRecord, error) {
		return nil, errors.New("grep failed")
	}
	s := newSearcher(t, idx, Options{})

	outcome, err := s.Search(context.Background(), source())
	require.NoError(t, err)

	assert.Equal(t, types.StatusNotFound, outcome.Status)
	assert.Equal(t, "grep failed", outcome.Stages[1].Error)
	assert.Equal(t, 1, idx.count("SearchByFiles"), "later stages still run")
}

func TestSearch_DegradedMissIsNotCached(t *testing.T) {
	t.Run("stage error", func(t *testing.T) {
		idx := newMockIndex()
		failed := false
		idx.searchByKeywords = func(context.Context, []string, int) ([]*types.CommitRecord, error) {
			if !failed {
				failed = true
				return nil, fmt.Errorf("%w: git log timed out", index.ErrUnavailable)
			}
			return []*types.CommitRecord{
				{ID: targetID, Subject: "[backport] net: fix memory leak in tcp_connect"},
			}, nil
		}
		s := newSearcher(t, idx, Options{})

		first, err := s.Search(context.Background(), source())
		require.NoError(t, err)
		assert.Equal(t, types.StatusNotFound, first.Status)

		second, err := s.Search(context.Background(), source())
		require.NoError(t, err)
		assert.False(t, second.CacheHit)
		assert.True(t, second.Found())
		assert.Equal(t, targetID, second.TargetID())
		assert.Equal(t, 2, idx.count("SearchByKeywords"))
	})

	t.Run("unknown candidate", func(t *testing.T) {
		idx := newMockIndex()
		idx.searchByFiles = func(context.Context, []string, int) ([]*types.CommitRecord, error) {
			return []*types.CommitRecord{{ID: otherID, Subject: "tcp: handle missing socket"}}, nil
		}
		idx.getDiff = func(context.Context, string) (string, error) {
			return "", fmt.Errorf("%w: git show timed out", index.ErrUnavailable)
		}
		s := newSearcher(t, idx, Options{})

		first, err := s.Search(context.Background(), source())
		require.NoError(t, err)
		assert.Equal(t, types.StatusNotFound, first.Status)
		assert.Equal(t, 1, first.Stages[2].Unknown)

		second, err := s.Search(context.Background(), source())
		require.NoError(t, err)
		assert.False(t, second.CacheHit)
		assert.Equal(t, 2, idx.count("SearchByFiles"))
	})

	t.Run("clean miss is cached", func(t *testing.T) {
		idx := newMockIndex()
		s := newSearcher(t, idx, Options{})

		_, err := s.Search(context.Background(), source())
		require.NoError(t, err)
		second, err := s.Search(context.Background(), source())
		require.NoError(t, err)
		assert.True(t, second.CacheHit)
		assert.Equal(t, 1, idx.count("SearchByKeywords"))
	})
}

func TestSearch_Cancellation(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		idx := newMockIndex()
		s := newSearcher(t, idx, Options{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		outcome, err := s.Search(ctx, source())
		assert.ErrorIs(t, err, context.Canceled)
		require.NotNil(t, outcome)
		assert.Empty(t, outcome.Stages)
		assert.Zero(t, idx.count("FindByID"))
	})

	t.Run("during a stage", func(t *testing.T) {
		idx := newMockIndex()
		ctx, cancel := context.WithCancel(context.Background())
		idx.searchByKeywords = func(ctx context.Context, _ []string, _ int) ([]*types.CommitRecord, error) {
			cancel()
			return nil, ctx.Err()
		}
		s := newSearcher(t, idx, Options{})

		outcome, err := s.Search(ctx, source())
		assert.ErrorIs(t, err, context.Canceled)
		require.Len(t, outcome.Stages, 2)
		assert.Zero(t, idx.count("SearchByFiles"))

		// A cancelled search is not cached
		_, err = s.Search(context.Background(), source())
		require.NoError(t, err)
		assert.Equal(t, 2, idx.count("FindByID"))
	})
}

func TestSearch_SkippedStagesForSparseSource(t *testing.T) {
	idx := newMockIndex()
	s := newSearcher(t, idx, Options{})

	outcome, err := s.Search(context.Background(), &types.CommitRecord{Subject: "fix"})
	require.NoError(t, err)

	assert.Equal(t, types.StatusNotFound, outcome.Status)
	require.Len(t, outcome.Stages, 4)
	for _, st := range outcome.Stages {
		assert.True(t, st.Skipped, st.Stage)
	}
	assert.Zero(t, idx.count("FindByID"))
	assert.Zero(t, idx.count("SearchByKeywords"))
}

func TestSearch_CandidatesCappedAndRanked(t *testing.T) {
	idx := newMockIndex()
	idx.searchByKeywords = func(context.Context, []string, int) ([]*types.CommitRecord, error) {
		var out []*types.CommitRecord
		for i := range 4 {
			out = append(out, &types.CommitRecord{
				ID:      fmt.Sprintf("%040d", i),
				Subject: "net: fix memory leak in tcp_connect path",
			})
		}
		return out, nil
	}
	s := newSearcher(t, idx, Options{SubjectAccept: 0.99, MaxCandidates: 2, DisableTimeWindow: true})

	outcome, err := s.Search(context.Background(), source())
	require.NoError(t, err)

	require.Len(t, outcome.Candidates, 2)
	assert.Equal(t, fmt.Sprintf("%040d", 0), outcome.Candidates[0].TargetID)
	assert.Equal(t, fmt.Sprintf("%040d", 1), outcome.Candidates[1].TargetID)
}

func TestSearch_OutcomeCache(t *testing.T) {
	idx := newMockIndex()
	idx.findByID = func(ctx context.Context, id string) (*types.CommitRecord, error) {
		return &types.CommitRecord{ID: sourceID}, nil
	}
	s := newSearcher(t, idx, Options{})
	ctx := context.Background()

	first, err := s.Search(ctx, source())
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	// Mutating a returned outcome does not reach the cache
	first.Match.TargetID = "mutated"
	first.Stages[0].Candidates = 99

	second, err := s.Search(ctx, source())
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, sourceID, second.TargetID())
	assert.Equal(t, 1, second.Stages[0].Candidates)
	assert.Equal(t, 1, idx.count("FindByID"))

	// A different diff is a different key
	changed := source()
	changed.DiffText = unrelatedDiff
	_, err = s.Search(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.count("FindByID"))

	s.InvalidateCache()
	_, err = s.Search(ctx, source())
	require.NoError(t, err)
	assert.Equal(t, 3, idx.count("FindByID"))
}

func TestSearch_CacheDisabledAndExpiry(t *testing.T) {
	idx := newMockIndex()
	ctx := context.Background()

	disabled := newSearcher(t, idx, Options{DisableCache: true})
	_, _ = disabled.Search(ctx, source())
	_, _ = disabled.Search(ctx, source())
	assert.Equal(t, 2, idx.count("FindByID"))

	expiring := newSearcher(t, idx, Options{CacheTTL: time.Nanosecond})
	_, _ = expiring.Search(ctx, source())
	time.Sleep(time.Millisecond)
	outcome, err := expiring.Search(ctx, source())
	require.NoError(t, err)
	assert.False(t, outcome.CacheHit)
	assert.Equal(t, 4, idx.count("FindByID"))
}

func TestSearch_ConcurrentUse(t *testing.T) {
	idx := newMockIndex()
	idx.searchByKeywords = func(context.Context, []string, int) ([]*types.CommitRecord, error) {
		return []*types.CommitRecord{{ID: targetID, Subject: "[backport] net: fix memory leak in tcp_connect"}}, nil
	}
	s := newSearcher(t, idx, Options{DisableCache: true})

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := s.Search(context.Background(), source())
			assert.NoError(t, err)
			assert.True(t, outcome.Found())
		}()
	}
	wg.Wait()
	assert.Equal(t, 16, idx.count("SearchByKeywords"))
}
