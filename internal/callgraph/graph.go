// Package callgraph consumes the raw call sites the symbol index
// recorded during parsing and resolves them into a directed multigraph
// of MethodId nodes and CallEdge edges, per spec §4.2.
package callgraph

import (
	"sort"
	"sync"

	"testimpact/internal/types"
)

// Graph is the directed multigraph G = (M, E). Construction happens
// once via Builder.Build; queries afterward are safe for concurrent
// read-only use (spec §5).
type Graph struct {
	mu           sync.RWMutex
	nodes        map[types.MethodId]struct{}
	successors   map[types.MethodId][]types.CallEdge
	predecessors map[types.MethodId][]types.CallEdge
}

func newGraph() *Graph {
	return &Graph{
		nodes:        make(map[types.MethodId]struct{}),
		successors:   make(map[types.MethodId][]types.CallEdge),
		predecessors: make(map[types.MethodId][]types.CallEdge),
	}
}

func (g *Graph) addNode(id types.MethodId) {
	g.nodes[id] = struct{}{}
}

func (g *Graph) addEdge(e types.CallEdge) {
	g.addNode(e.From)
	g.addNode(e.To)
	g.successors[e.From] = append(g.successors[e.From], e)
	g.predecessors[e.To] = append(g.predecessors[e.To], e)
}

// finalize sorts every successor list by (target lexical, site file,
// site line, site col) so traversal order is deterministic regardless
// of the worker count that built the graph (spec §4.2, §5).
func (g *Graph) finalize() {
	for from := range g.successors {
		edges := g.successors[from]
		sort.Slice(edges, func(i, j int) bool {
			a, b := edges[i], edges[j]
			if a.To != b.To {
				return a.To < b.To
			}
			if a.Site.File != b.Site.File {
				return a.Site.File < b.Site.File
			}
			if a.Site.Line != b.Site.Line {
				return a.Site.Line < b.Site.Line
			}
			return a.Site.Col < b.Site.Col
		})
		g.successors[from] = edges
	}
}

// ContainsMethod reports whether id is a known node.
func (g *Graph) ContainsMethod(id types.MethodId) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Successors returns the deterministically-ordered outgoing edges of m.
func (g *Graph) Successors(m types.MethodId) []types.CallEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]types.CallEdge, len(g.successors[m]))
	copy(out, g.successors[m])
	return out
}

// Predecessors returns the incoming edges of m.
func (g *Graph) Predecessors(m types.MethodId) []types.CallEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]types.CallEdge, len(g.predecessors[m]))
	copy(out, g.predecessors[m])
	return out
}

// NodeCount returns the number of distinct MethodIds in the graph
// (including synthetic unknown:// nodes), used for fan-out statistics.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Nodes returns every MethodId known to the graph, in lexical order,
// for callers that need to enumerate rather than look up by seed.
func (g *Graph) Nodes() []types.MethodId {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]types.MethodId, 0, len(g.nodes))
	for id := range g.nodes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ReachableFrom performs a bounded BFS from seed, returning every
// MethodId reachable within maxDepth edges. maxDepth <= 0 means
// unbounded (cycles are guarded by the visited set regardless; spec
// §9 "acyclic algorithms... use method-id sets").
func (g *Graph) ReachableFrom(seed types.MethodId, maxDepth int) map[types.MethodId]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	depth := map[types.MethodId]int{seed: 0}
	queue := []types.MethodId{seed}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		d := depth[cur]
		if maxDepth > 0 && d >= maxDepth {
			continue
		}
		for _, e := range g.successors[cur] {
			if _, seen := depth[e.To]; seen {
				continue
			}
			depth[e.To] = d + 1
			queue = append(queue, e.To)
		}
	}
	return depth
}

// pathState is one partial walk during Paths' bounded enumeration.
type pathState struct {
	nodes []types.MethodId
	conf  float64
}

// Paths enumerates walks from "from" to "to", in order of increasing
// length with ties broken by edge-confidence product descending (spec
// §4.2). maxDepth bounds the search so cyclic graphs terminate.
func (g *Graph) Paths(from, to types.MethodId, maxDepth int) []types.CoveragePath {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var results []types.CoveragePath
	start := pathState{nodes: []types.MethodId{from}, conf: 1.0}
	frontier := []pathState{start}
	visitedAtDepth := map[types.MethodId]bool{from: true}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []pathState
		for _, st := range frontier {
			cur := st.nodes[len(st.nodes)-1]
			for _, e := range g.successors[cur] {
				edgeConf := types.EdgeConfidence(e.Kind, e.ResolvedConcrete, false)
				newConf := st.conf * edgeConf
				newNodes := append(append([]types.MethodId{}, st.nodes...), e.To)
				if e.To == to {
					results = append(results, types.CoveragePath{Nodes: newNodes, PathConfidence: newConf})
					continue
				}
				if visitedAtDepth[e.To] {
					continue
				}
				next = append(next, pathState{nodes: newNodes, conf: newConf})
			}
		}
		frontier = next
	}

	sort.SliceStable(results, func(i, j int) bool {
		li, lj := len(results[i].Nodes), len(results[j].Nodes)
		if li != lj {
			return li < lj
		}
		return results[i].PathConfidence > results[j].PathConfidence
	})
	return results
}
