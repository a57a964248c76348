package depgraph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/backport-mcp/pkg/types"
)

func record(id string, ts time.Time, files, functions []string) *types.CommitRecord {
	return &types.CommitRecord{ID: id, Timestamp: ts, ModifiedFiles: files, ModifiedFunctions: functions}
}

func TestStrength(t *testing.T) {
	target := record("fix", time.Time{}, []string{"a.c", "b.c"}, []string{"f1", "f2"})
	candidate := record("dep", time.Time{}, []string{"a.c", "b.c", "c.c"}, []string{"f1"})

	assert.InDelta(t, 0.8, Strength(target, candidate), 1e-9)
	assert.Zero(t, Strength(record("x", time.Time{}, nil, nil), candidate))
}

func TestFindDependencies(t *testing.T) {
	now := time.Now()
	target := record("fix0000000000", now, []string{"a.c", "b.c"}, []string{"f1", "f2"})

	candidates := []*types.CommitRecord{
		record("older", now.Add(-time.Hour), []string{"a.c", "b.c"}, []string{"f1"}),  // 0.8
		record("newer", now.Add(time.Hour), []string{"a.c", "b.c"}, []string{"f1"}),   // later
		record("same-time", now, []string{"a.c", "b.c"}, []string{"f1"}),              // not strictly earlier
		record("undated", time.Time{}, []string{"a.c"}, []string{"f1", "f2"}),         // 0.7
		record("boundary", now.Add(-time.Hour), []string{"a.c"}, nil),                 // exactly 0.3
		record("fix0000000000ffff", now.Add(-time.Hour), []string{"a.c", "b.c"}, nil), // the target
		record("unrelated", now.Add(-time.Hour), []string{"z.c"}, []string{"zz"}),
		nil,
	}

	deps := New().FindDependencies(target, candidates)

	require.Len(t, deps, 2)
	assert.InDelta(t, 0.8, deps["older"], 1e-9)
	assert.InDelta(t, 0.7, deps["undated"], 1e-9)
}

func TestAddEdge(t *testing.T) {
	g := New()

	assert.True(t, g.AddEdge("a", "b", 0.8))
	assert.False(t, g.AddEdge("a", "c", 0.5))
	assert.False(t, g.AddEdge("a", "a", 0.9))
	assert.False(t, g.AddEdge("", "b", 0.9))
	assert.True(t, g.AddEdge("a", "b", 0.9))

	edges := g.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, types.DependencyEdge{From: "a", To: "b", Strength: 0.9}, edges[0])
}

func TestTopologicalOrder_Chain(t *testing.T) {
	g := New()
	g.AddEdge("A", "B", 0.9)
	g.AddEdge("B", "C", 0.9)

	plan := g.TopologicalOrder([]string{"A", "B", "C"})

	assert.Equal(t, []string{"C", "B", "A"}, plan.Order)
	assert.True(t, plan.Complete)
	assert.Empty(t, plan.Unresolved)
}

func TestTopologicalOrder_Cycle(t *testing.T) {
	g := New()
	g.AddEdge("A", "B", 0.9)
	g.AddEdge("B", "A", 0.9)

	plan := g.TopologicalOrder([]string{"A", "B"})

	assert.False(t, plan.Complete)
	assert.Less(t, len(plan.Order), 2)
	assert.Equal(t, []string{"A", "B"}, plan.Unresolved)
}

func TestTopologicalOrder_CycleBlocksDependents(t *testing.T) {
	g := New()
	g.AddEdge("A", "B", 0.9)
	g.AddEdge("B", "A", 0.9)
	g.AddEdge("C", "A", 0.9)
	g.AddEdge("E", "D", 0.9)

	plan := g.TopologicalOrder([]string{"C", "A", "B", "D", "E"})

	assert.Equal(t, []string{"D", "E"}, plan.Order)
	assert.Equal(t, []string{"A", "B", "C"}, plan.Unresolved)
	assert.False(t, plan.Complete)
}

func TestTopologicalOrder_InputOrderAndRestriction(t *testing.T) {
	g := New()
	g.AddEdge("fix", "dep1", 0.9)
	g.AddEdge("fix", "dep2", 0.9)
	g.AddEdge("dep1", "outside", 0.9)

	plan := g.TopologicalOrder([]string{"fix", "dep2", "dep1", "dep2", ""})

	assert.Equal(t, []string{"dep2", "dep1", "fix"}, plan.Order)
	assert.True(t, plan.Complete)
}

func TestTopologicalOrder_Empty(t *testing.T) {
	plan := New().TopologicalOrder(nil)
	assert.Empty(t, plan.Order)
	assert.True(t, plan.Complete)
}

func TestTransitiveDependencies(t *testing.T) {
	g := New()
	g.AddEdge("A", "B", 0.9)
	g.AddEdge("B", "C", 0.9)
	g.AddEdge("C", "B", 0.9)
	g.AddEdge("D", "A", 0.9)

	assert.Equal(t, []string{"B", "C"}, g.TransitiveDependencies("A"))
	assert.Equal(t, []string{"B", "C"}, g.TransitiveDependencies("B"))
	assert.Equal(t, []string{"A", "B", "C"}, g.TransitiveDependencies("D"))
	assert.Empty(t, g.TransitiveDependencies("unknown"))
}

func TestAdjacency(t *testing.T) {
	g := New()
	g.AddEdge("fix", "b", 0.9)
	g.AddEdge("fix", "a", 0.9)
	g.AddEdge("b", "a", 0.6)

	assert.Equal(t, map[string][]string{
		"fix": {"a", "b"},
		"b":   {"a"},
	}, g.Adjacency())
}
