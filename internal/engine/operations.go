package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"testimpact/internal/callgraph"
	"testimpact/internal/changeset"
	"testimpact/internal/coverage"
	"testimpact/internal/planner"
	"testimpact/internal/scorer"
	"testimpact/internal/types"
	"testimpact/internal/workspace"
)

// fixtureReadOnly returns the positive signal datadep.DetectConflicts
// needs for spec §4.6's shared-fixture exception: a test class marked
// with a "ReadOnlyFixture"/"ReadOnly" attribute never triggers a
// shared-fixture conflict, since by convention it never mutates the
// fixture state its tests share.
func fixtureReadOnly(idx *workspace.SymbolIndex) func(types.TypeId) bool {
	return func(t types.TypeId) bool {
		for _, attr := range idx.TypeAttributes(t) {
			lower := strings.ToLower(attr)
			if strings.Contains(lower, "readonly") {
				return true
			}
		}
		return false
	}
}

// DiscoverResult is discoverTests' return shape (spec §6).
type DiscoverResult struct {
	Tests   []types.TestEntry
	Summary string
	Errors  []types.EngineError
}

// DiscoverTests classifies every method in the workspace.
func (h *Handle) DiscoverTests(ctx context.Context) (DiscoverResult, error) {
	if err := h.checkDisposed("engine.DiscoverTests"); err != nil {
		return DiscoverResult{}, err
	}
	tests := h.discoverTests()
	errs := h.manager.Index().ParseErrors()
	return DiscoverResult{
		Tests:   tests,
		Summary: discoverSummary(tests),
		Errors:  errs,
	}, nil
}

func discoverSummary(tests []types.TestEntry) string {
	byCategory := make(map[types.TestCategory]int)
	for _, t := range tests {
		byCategory[t.Category]++
	}
	return summarize(len(tests), byCategory)
}

func summarize(total int, byCategory map[types.TestCategory]int) string {
	if total == 0 {
		return "no tests discovered"
	}
	cats := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		cats = append(cats, string(cat))
	}
	sort.Strings(cats)

	parts := make([]string, 0, len(cats))
	for _, cat := range cats {
		parts = append(parts, fmt.Sprintf("%s:%d", cat, byCategory[types.TestCategory(cat)]))
	}
	return fmt.Sprintf("%d tests discovered (%s)", total, strings.Join(parts, ", "))
}

// BuildCallGraph exposes the resolved call graph (spec §6's
// buildCallGraph). The Handle remains the disposal boundary; once
// Dispose is called, further Handle operations fail even though the
// returned *callgraph.Graph is itself immutable and safe to keep
// querying directly.
func (h *Handle) BuildCallGraph(ctx context.Context) (*callgraph.Graph, error) {
	if err := h.checkDisposed("engine.BuildCallGraph"); err != nil {
		return nil, err
	}
	return h.buildCallGraph(ctx)
}

// BuildCoverageMap exposes the coverage index (spec §6's
// buildCoverageMap).
func (h *Handle) BuildCoverageMap(ctx context.Context) (*coverage.Index, error) {
	if err := h.checkDisposed("engine.BuildCoverageMap"); err != nil {
		return nil, err
	}
	return h.buildCoverageMap(ctx)
}

// TestsExercisingMethod returns every (test, path, confidence) triple
// covering methodId, sorted by confidence descending then test id.
func (h *Handle) TestsExercisingMethod(ctx context.Context, methodId types.MethodId) ([]types.CoverageEntry, error) {
	if err := h.checkDisposed("engine.TestsExercisingMethod"); err != nil {
		return nil, err
	}
	cov, err := h.buildCoverageMap(ctx)
	if err != nil {
		return nil, err
	}
	entries := append([]types.CoverageEntry{}, cov.TestsCovering(methodId)...)
	sortEntries(entries)
	return entries, nil
}

// TestsExercisingMethods batches TestsExercisingMethod over several
// methods against one built coverage map.
func (h *Handle) TestsExercisingMethods(ctx context.Context, methodIds []types.MethodId) (map[types.MethodId][]types.CoverageEntry, error) {
	if err := h.checkDisposed("engine.TestsExercisingMethods"); err != nil {
		return nil, err
	}
	cov, err := h.buildCoverageMap(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[types.MethodId][]types.CoverageEntry, len(methodIds))
	for _, m := range methodIds {
		entries := append([]types.CoverageEntry{}, cov.TestsCovering(m)...)
		sortEntries(entries)
		out[m] = entries
	}
	return out, nil
}

func sortEntries(entries []types.CoverageEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].PathConfidence != entries[j].PathConfidence {
			return entries[i].PathConfidence > entries[j].PathConfidence
		}
		return entries[i].Test.ID < entries[j].Test.ID
	})
}

// CoverageStatistics summarizes the coverage map (spec §6).
func (h *Handle) CoverageStatistics(ctx context.Context) (types.CoverageStatistics, error) {
	if err := h.checkDisposed("engine.CoverageStatistics"); err != nil {
		return types.CoverageStatistics{}, err
	}
	cov, err := h.buildCoverageMap(ctx)
	if err != nil {
		return types.CoverageStatistics{}, err
	}
	return cov.Statistics(), nil
}

// ParseChangeSet parses a unified diff into its structural change-set
// alone, for callers (the CLI's diff verb) that don't need scoring or
// planning.
func (h *Handle) ParseChangeSet(diffText string) (types.ChangeSet, error) {
	if err := h.checkDisposed("engine.ParseChangeSet"); err != nil {
		return types.ChangeSet{}, err
	}
	return changeset.NewParser().ParseUnifiedDiff(diffText, h.manager.Index()), nil
}

// AnalyzeDiff runs the full pipeline: parse the diff/change-set,
// score every test against it, and emit a confidence-bounded,
// batched ExecutionPlan. Tests with zero execution history score
// with a neutral historical signal, per the scorer's own defaults.
func (h *Handle) AnalyzeDiff(ctx context.Context, diffText string, confidence types.ConfidenceLevel, opts planner.Options, history map[types.MethodId][]types.ExecutionRecord) (types.ExecutionPlan, error) {
	if err := h.checkDisposed("engine.AnalyzeDiff"); err != nil {
		return types.ExecutionPlan{}, err
	}

	cov, err := h.buildCoverageMap(ctx)
	if err != nil {
		return types.ExecutionPlan{}, err
	}

	idx := h.manager.Index()
	p := changeset.NewParser()
	cs := p.ParseUnifiedDiff(diffText, idx)

	containingTypeOf := func(m types.MethodId) types.TypeId {
		t, _ := idx.ContainingType(m)
		return t
	}

	sc := scorer.New(cov, containingTypeOf)

	tests := h.discoverTests()
	scored := make([]types.TestInfo, 0, len(tests))
	depsByTest := make(map[types.MethodId][]types.DataDependency, len(tests))
	for _, t := range tests {
		info := types.TestInfo{Entry: t}
		if history != nil {
			info.ExecutionHistory = history[t.ID]
		}
		info.Score = sc.Score(info, cs)
		scored = append(scored, info)

		reachable := append([]types.MethodId{t.ID}, cov.CoverageFor(t.ID)...)
		depsByTest[t.ID] = h.datadep.Dependencies(idx, t.ID, reachable)
	}

	conflicts := h.datadep.DetectConflicts(depsByTest, containingTypeOf, fixtureReadOnly(idx))

	if opts.BatchDurationBudget <= 0 {
		opts.BatchDurationBudget = h.cfg.Analysis.BatchDurationBudget
	}
	return planner.BuildPlan(scored, confidence, conflicts, opts, cov.DemotedMockPaths())
}

// CompareTests reports whether two tests share a data dependency that
// would prevent safe parallel execution, backing the CLI's
// compare-tests verb. A nil Conflict means the pair is independent.
func (h *Handle) CompareTests(ctx context.Context, test1, test2 types.MethodId) (*types.Conflict, error) {
	if err := h.checkDisposed("engine.CompareTests"); err != nil {
		return nil, err
	}

	cov, err := h.buildCoverageMap(ctx)
	if err != nil {
		return nil, err
	}

	idx := h.manager.Index()
	containingTypeOf := func(m types.MethodId) types.TypeId {
		t, _ := idx.ContainingType(m)
		return t
	}

	depsByTest := make(map[types.MethodId][]types.DataDependency, 2)
	for _, id := range []types.MethodId{test1, test2} {
		reachable := append([]types.MethodId{id}, cov.CoverageFor(id)...)
		depsByTest[id] = h.datadep.Dependencies(idx, id, reachable)
	}

	conflicts := h.datadep.DetectConflicts(depsByTest, containingTypeOf, fixtureReadOnly(idx))
	for _, c := range conflicts {
		if (c.TestA == test1 && c.TestB == test2) || (c.TestA == test2 && c.TestB == test1) {
			conflict := c
			return &conflict, nil
		}
	}
	return nil, nil
}
