// Package engine is the top-level handle wiring every analysis stage into the
// library surface spec §6 names: discoverTests, buildCallGraph,
// buildCoverageMap, testsExercisingMethod(s), coverageStatistics, and
// analyzeDiff. It owns no process-wide state — every caller opens its
// own Handle, exactly the "explicit handle, no singletons" rule spec
// §5/§9 states for the workspace.
package engine

import (
	"context"
	"runtime"
	"sync"

	"testimpact/internal/callgraph"
	"testimpact/internal/config"
	"testimpact/internal/coverage"
	"testimpact/internal/datadep"
	"testimpact/internal/logging"
	"testimpact/internal/testclassifier"
	"testimpact/internal/types"
	"testimpact/internal/workspace"
)

// Handle is the engine's explicit, disposable session over one
// solution root. Construction phases (call graph, coverage) run once
// and are cached; Dispose invalidates the handle for every subsequent
// call (spec §5).
type Handle struct {
	mu  sync.Mutex
	cfg config.Config

	manager    *workspace.Manager
	classifier *testclassifier.Classifier
	datadep    *datadep.Analyzer

	tests []types.TestEntry
	graph *callgraph.Graph
	cov   *coverage.Index

	disposed bool
}

// Open initializes the workspace at solutionRoot in bulk mode (every
// file parsed before Open returns) and returns a ready Handle.
func Open(ctx context.Context, solutionRoot string, cfg config.Config) (*Handle, error) {
	maxParallel := cfg.Analysis.MaxParallelism
	if maxParallel <= 0 {
		maxParallel = runtime.NumCPU()
	}

	provider := workspace.NewFileSystemSourceProvider(cfg.Projects.Exclude)
	mgr := workspace.New(provider, maxParallel)
	if err := mgr.Initialize(ctx, solutionRoot, workspace.ModeBulk); err != nil {
		return nil, err
	}

	h := &Handle{
		cfg:        cfg,
		manager:    mgr,
		classifier: testclassifier.New(cfg.Classifier),
		datadep:    datadep.New(),
	}
	return h, nil
}

// Dispose invalidates the handle. Subsequent calls return Disposed.
func (h *Handle) Dispose() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return
	}
	h.disposed = true
	h.manager.Dispose()
}

func (h *Handle) checkDisposed(phase string) error {
	h.mu.Lock()
	disposed := h.disposed
	h.mu.Unlock()
	if disposed {
		return types.NewDisposed(phase)
	}
	return nil
}

// discoverTests classifies every method in the workspace, caching
// the result for subsequent calls within this Handle's lifetime.
func (h *Handle) discoverTests() []types.TestEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tests != nil {
		return h.tests
	}

	idx := h.manager.Index()
	var tests []types.TestEntry
	for _, m := range idx.AllMethods() {
		name := methodShortName(m.ID)
		entry, ok := h.classifier.Classify(idx, m, name)
		if !ok {
			continue
		}
		tests = append(tests, entry)
	}
	h.tests = tests
	return tests
}

// buildCallGraph resolves every raw call site into the resolved graph,
// caching the result.
func (h *Handle) buildCallGraph(ctx context.Context) (*callgraph.Graph, error) {
	h.mu.Lock()
	if h.graph != nil {
		g := h.graph
		h.mu.Unlock()
		return g, nil
	}
	h.mu.Unlock()

	g, err := callgraph.NewBuilder(h.manager.Index()).Build(ctx)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.graph = g
	h.mu.Unlock()
	return g, nil
}

// buildCoverageMap inverts the call graph restricted to paths
// reachable from every classified test, caching the result.
func (h *Handle) buildCoverageMap(ctx context.Context) (*coverage.Index, error) {
	h.mu.Lock()
	if h.cov != nil {
		c := h.cov
		h.mu.Unlock()
		return c, nil
	}
	h.mu.Unlock()

	g, err := h.buildCallGraph(ctx)
	if err != nil {
		return nil, err
	}
	tests := h.discoverTests()

	cov, err := coverage.NewBuilder(g, h.cfg.Analysis).Build(ctx, tests, g.NodeCount())
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.cov = cov
	h.mu.Unlock()
	logging.For(logging.CategoryEngine).Sugar().Infof(
		"coverage map built: %d tests, %d demoted mock paths", len(tests), cov.DemotedMockPaths())
	return cov, nil
}

func methodShortName(id types.MethodId) string {
	s := string(id)
	dot := -1
	paren := -1
	for i, r := range s {
		if r == '(' {
			paren = i
			break
		}
	}
	head := s
	if paren >= 0 {
		head = s[:paren]
	}
	for i := len(head) - 1; i >= 0; i-- {
		if head[i] == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return head
	}
	return head[dot+1:]
}
