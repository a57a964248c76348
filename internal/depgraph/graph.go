package depgraph

import (
	"sort"

	"github.com/dshills/backport-mcp/pkg/types"
)

// Default thresholds
const (
	DefaultThreshold       = 0.30 // Minimum strength to report a dependency
	DefaultStrongThreshold = 0.50 // Minimum strength to record an ordering edge

	fileWeight     = 0.6
	functionWeight = 0.4
)

// Graph records prerequisite edges between commits and orders them.
//
// A Graph is built for one analysis and is not safe for concurrent use.
type Graph struct {
	threshold       float64
	strongThreshold float64
	edges           map[string]map[string]float64 // from -> prerequisite -> strength
}

// New creates a Graph with the default thresholds
func New() *Graph {
	return NewWithThresholds(DefaultThreshold, DefaultStrongThreshold)
}

// NewWithThresholds creates a Graph. Non-positive values take the defaults.
func NewWithThresholds(threshold, strongThreshold float64) *Graph {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if strongThreshold <= 0 {
		strongThreshold = DefaultStrongThreshold
	}
	return &Graph{
		threshold:       threshold,
		strongThreshold: strongThreshold,
		edges:           make(map[string]map[string]float64),
	}
}

// Strength scores how much candidate looks like a prerequisite of target:
// 0.6 times the share of target's files that candidate also touches plus 0.4
// times the same share over functions.
func Strength(target, candidate *types.CommitRecord) float64 {
	return fileWeight*overlap(target.Files(), candidate.Files()) +
		functionWeight*overlap(target.Functions(), candidate.Functions())
}

// overlap returns |a ∩ b| / |a|, or 0 when a is empty
func overlap(a, b []string) float64 {
	if len(a) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	shared := 0
	for _, v := range a {
		if _, ok := set[v]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a))
}

// FindDependencies scores every candidate against target and returns the ids
// whose strength exceeds the graph threshold. The target itself and
// candidates that are not strictly older than the target are skipped; a zero
// timestamp on either side does not disqualify a candidate.
func (g *Graph) FindDependencies(target *types.CommitRecord, candidates []*types.CommitRecord) map[string]float64 {
	deps := make(map[string]float64)
	if target == nil {
		return deps
	}

	for _, c := range candidates {
		if c == nil || c.ID == "" || types.SameCommitID(target.ID, c.ID, types.DefaultIDPrefixLen) {
			continue
		}
		if !target.Timestamp.IsZero() && !c.Timestamp.IsZero() && !c.Timestamp.Before(target.Timestamp) {
			continue
		}

		strength := Strength(target, c)
		if strength <= g.threshold {
			continue
		}
		if prev, ok := deps[c.ID]; !ok || strength > prev {
			deps[c.ID] = strength
		}
	}
	return deps
}

// AddEdge records that from depends on to when strength exceeds the strong
// threshold. Self edges are ignored. It reports whether the edge was recorded.
func (g *Graph) AddEdge(from, to string, strength float64) bool {
	if from == "" || to == "" || from == to || strength <= g.strongThreshold {
		return false
	}
	if g.edges[from] == nil {
		g.edges[from] = make(map[string]float64)
	}
	if prev, ok := g.edges[from][to]; !ok || strength > prev {
		g.edges[from][to] = min(strength, 1)
	}
	return true
}

// Edges returns every recorded edge sorted by (from, to)
func (g *Graph) Edges() []types.DependencyEdge {
	edges := make([]types.DependencyEdge, 0)
	for from, deps := range g.edges {
		for to, strength := range deps {
			edges = append(edges, types.DependencyEdge{From: from, To: to, Strength: strength})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

// Adjacency maps every commit with prerequisites to its sorted prerequisites
func (g *Graph) Adjacency() map[string][]string {
	adj := make(map[string][]string, len(g.edges))
	for from, deps := range g.edges {
		adj[from] = sortedKeys(deps)
	}
	return adj
}

// TopologicalOrder orders nodes so that every prerequisite precedes its
// dependents, using only edges between members of nodes.
//
// Nodes are released in input order. When a cycle blocks the ordering the
// plan is incomplete: Order holds what could be placed and Unresolved holds
// every remaining node (cycle members and everything depending on them),
// sorted.
func (g *Graph) TopologicalOrder(nodes []string) types.MergePlan {
	order := uniqueNodes(nodes)
	inSet := make(map[string]struct{}, len(order))
	for _, n := range order {
		inSet[n] = struct{}{}
	}

	inDegree := make(map[string]int, len(order))
	dependents := make(map[string][]string, len(order))
	for _, n := range order {
		inDegree[n] = 0
	}
	for _, n := range order {
		for dep := range g.edges[n] {
			if _, ok := inSet[dep]; !ok {
				continue
			}
			inDegree[n]++
		}
	}
	// Dependents are collected in input order so release order is stable
	for _, n := range order {
		for _, dep := range sortedKeys(g.edges[n]) {
			if _, ok := inSet[dep]; ok {
				dependents[dep] = append(dependents[dep], n)
			}
		}
	}

	queue := make([]string, 0, len(order))
	for _, n := range order {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	plan := types.MergePlan{Order: make([]string, 0, len(order))}
	emitted := make(map[string]struct{}, len(order))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		plan.Order = append(plan.Order, n)
		emitted[n] = struct{}{}

		for _, d := range dependents[n] {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	for _, n := range order {
		if _, ok := emitted[n]; !ok {
			plan.Unresolved = append(plan.Unresolved, n)
		}
	}
	sort.Strings(plan.Unresolved)
	plan.Complete = len(plan.Unresolved) == 0
	return plan
}

// TransitiveDependencies returns every commit reachable from id through
// prerequisite edges, sorted. id itself is included only when it lies on a
// cycle.
func (g *Graph) TransitiveDependencies(id string) []string {
	visited := make(map[string]struct{})
	stack := sortedKeys(g.edges[id])
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[n]; seen {
			continue
		}
		visited[n] = struct{}{}
		for dep := range g.edges[n] {
			if _, seen := visited[dep]; !seen {
				stack = append(stack, dep)
			}
		}
	}

	out := make([]string, 0, len(visited))
	for n := range visited {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func uniqueNodes(nodes []string) []string {
	seen := make(map[string]struct{}, len(nodes))
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
