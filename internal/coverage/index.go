// Package coverage inverts the call graph, restricted to the set of
// classified tests, into a reachable-from-tests index so every
// production method knows which tests reach it, by which path, and
// with what confidence.
package coverage

import (
	"container/heap"
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"testimpact/internal/callgraph"
	"testimpact/internal/config"
	"testimpact/internal/types"
	"testimpact/internal/workspace"
)

// mockNamespaceMarkers are the known mocking-framework markers (spec
// §4.5). Matching is a case-insensitive substring check against a
// node's fully-qualified MethodId, since a dynamic proxy's containing
// type always carries its framework's namespace prefix.
var mockNamespaceMarkers = []string{"nsubstitute", "moq", "fakeiteasy", "rhino.mocks", "nmock"}

// IsMockNamespace reports whether id's containing type looks like it
// belongs to a mocking framework.
func IsMockNamespace(id types.MethodId) bool {
	lower := strings.ToLower(string(id))
	for _, marker := range mockNamespaceMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Index is the coverage builder's queryable output.
type Index struct {
	byMethod     map[types.MethodId][]types.CoverageEntry
	byTest       map[types.MethodId][]types.MethodId
	tests        map[types.MethodId]types.TestEntry
	demotedMocks int
	totalMethods int
}

// TestsCovering returns every CoverageEntry recorded for a production
// method, or an empty slice if none.
func (idx *Index) TestsCovering(method types.MethodId) []types.CoverageEntry {
	out := idx.byMethod[method]
	if out == nil {
		return []types.CoverageEntry{}
	}
	return out
}

// CoverageFor returns the production methods reached by a test.
func (idx *Index) CoverageFor(test types.MethodId) []types.MethodId {
	out := idx.byTest[test]
	if out == nil {
		return []types.MethodId{}
	}
	return out
}

// CoveredMethods returns every production method with at least one
// covering test, in lexical order, for callers (the CLI's coverage-map
// verb) that need to enumerate the whole map rather than look up one
// method at a time.
func (idx *Index) CoveredMethods() []types.MethodId {
	out := make([]types.MethodId, 0, len(idx.byMethod))
	for m, entries := range idx.byMethod {
		if len(entries) > 0 {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Statistics summarizes the index (spec §4.4 query contract).
func (idx *Index) Statistics() types.CoverageStatistics {
	byType := make(map[types.TestCategory]int)
	covered := 0
	for method, entries := range idx.byMethod {
		if len(entries) > 0 {
			covered++
		}
		_ = method
	}
	relationships := 0
	for _, entries := range idx.byMethod {
		relationships += len(entries)
	}
	for _, t := range idx.tests {
		byType[t.Category]++
	}
	return types.CoverageStatistics{
		TotalMethods:       idx.totalMethods,
		CoveredMethods:     covered,
		TotalTests:         len(idx.tests),
		TotalRelationships: relationships,
		CoverageByTestType: byType,
	}
}

// DemotedMockPaths returns how many paths were capped to mock-path
// confidence, for plan metadata (spec §4.5).
func (idx *Index) DemotedMockPaths() int {
	return idx.demotedMocks
}

// Builder is the coverage index's construction phase.
type Builder struct {
	graph *callgraph.Graph
	cfg   config.AnalysisConfig
}

// NewBuilder returns a Builder over a finalized call graph.
func NewBuilder(graph *callgraph.Graph, cfg config.AnalysisConfig) *Builder {
	return &Builder{graph: graph, cfg: cfg}
}

// Build runs a bounded best-path search from every test, per spec
// §4.4. The worker pool is bounded by cfg.MaxParallelism; each test's
// search is independent so results are deterministic regardless of
// scheduling order.
func (b *Builder) Build(ctx context.Context, tests []types.TestEntry, totalMethods int) (*Index, error) {
	idx := &Index{
		byMethod:     make(map[types.MethodId][]types.CoverageEntry),
		byTest:       make(map[types.MethodId][]types.MethodId),
		tests:        make(map[types.MethodId]types.TestEntry, len(tests)),
		totalMethods: totalMethods,
	}
	for _, t := range tests {
		idx.tests[t.ID] = t
	}

	maxDepth := b.cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 20
	}
	edgeBudget := b.cfg.PerTestEdgeBudget
	if edgeBudget <= 0 {
		edgeBudget = 50000
	}
	maxParallel := b.cfg.MaxParallelism
	if maxParallel < 1 {
		maxParallel = 1
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	for _, test := range tests {
		test := test
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return types.NewCancelled("coverage.Builder.Build")
			default:
			}
			perMethod, reached, demoted := bestPathsFromTest(b.graph, test.ID, maxDepth, edgeBudget)

			mu.Lock()
			defer mu.Unlock()
			for method, path := range perMethod {
				idx.byMethod[method] = append(idx.byMethod[method], types.CoverageEntry{
					Test: test, Path: path, PathConfidence: path.PathConfidence,
				})
			}
			idx.byTest[test.ID] = reached
			idx.demotedMocks += demoted
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for method, entries := range idx.byMethod {
		sortCoverageEntries(entries)
		idx.byMethod[method] = entries
	}
	for _, reached := range idx.byTest {
		sortMethodIds(reached)
	}

	return idx, nil
}

// searchState is one partial best-first walk during bestPathsFromTest.
type searchState struct {
	node        types.MethodId
	nodes       []types.MethodId
	conf        float64
	mockTainted bool
}

type stateHeap []*searchState

func (h stateHeap) Len() int { return len(h) }
func (h stateHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.conf != b.conf {
		return a.conf > b.conf
	}
	if len(a.nodes) != len(b.nodes) {
		return len(a.nodes) < len(b.nodes)
	}
	return lexLess(a.nodes, b.nodes)
}
func (h stateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *stateHeap) Push(x any)        { *h = append(*h, x.(*searchState)) }
func (h *stateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func lexLess(a, b []types.MethodId) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// bestPathsFromTest performs a bounded best-first search from test,
// returning the best path to each production method reached, the set
// of reached methods, and how many of those best paths were mock-path
// demoted (spec §4.4, §4.5).
func bestPathsFromTest(g *callgraph.Graph, test types.MethodId, maxDepth, edgeBudget int) (map[types.MethodId]types.CoveragePath, []types.MethodId, int) {
	best := make(map[types.MethodId]types.CoveragePath)
	visited := make(map[types.MethodId]bool)
	demoted := 0

	h := &stateHeap{{node: test, nodes: []types.MethodId{test}, conf: 1.0}}
	heap.Init(h)

	edgesExpanded := 0
	for h.Len() > 0 {
		st := heap.Pop(h).(*searchState)
		if visited[st.node] {
			continue
		}
		visited[st.node] = true

		if st.node != test && !workspace.IsUnknownNode(st.node) {
			conf := st.conf
			if st.mockTainted && conf > 0.2 {
				conf = 0.2
			}
			if st.mockTainted {
				demoted++
			}
			best[st.node] = types.CoveragePath{Nodes: st.nodes, PathConfidence: conf}
		}

		if len(st.nodes) > maxDepth || edgesExpanded >= edgeBudget {
			continue
		}

		for _, edge := range g.Successors(st.node) {
			edgesExpanded++
			if edgesExpanded > edgeBudget {
				break
			}
			if visited[edge.To] {
				continue
			}
			edgeConf := types.EdgeConfidence(edge.Kind, edge.ResolvedConcrete, false)
			nextNodes := append(append([]types.MethodId{}, st.nodes...), edge.To)
			tainted := st.mockTainted || IsMockNamespace(edge.To)
			heap.Push(h, &searchState{
				node: edge.To, nodes: nextNodes, conf: st.conf * edgeConf, mockTainted: tainted,
			})
		}
	}

	reached := make([]types.MethodId, 0, len(best))
	for m := range best {
		reached = append(reached, m)
	}
	return best, reached, demoted
}

// sortCoverageEntries orders entries by test id lexically; at most one
// entry exists per test per production method (spec §3 CoverageEntry).
func sortCoverageEntries(entries []types.CoverageEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Test.ID < entries[j].Test.ID })
}

func sortMethodIds(ids []types.MethodId) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
