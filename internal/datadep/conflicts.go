package datadep

import (
	"sort"

	"testimpact/internal/logging"
	"testimpact/internal/types"
	"testimpact/internal/workspace"
)

// Analyzer runs every registered Detector over each test's
// reachable methods, then derives pairwise Conflicts from the
// resulting DataDependency sets.
type Analyzer struct {
	detectors []Detector
}

// New returns an Analyzer with the two shipped detectors (spec §4.6
// "at minimum two shipped").
func New() *Analyzer {
	return &Analyzer{detectors: []Detector{ORMContextDetector{}, FileSystemDetector{}}}
}

// NewWithDetectors returns an Analyzer using a caller-supplied
// detector set, for tests or callers wanting extra detectors.
func NewWithDetectors(detectors ...Detector) *Analyzer {
	return &Analyzer{detectors: detectors}
}

// Dependencies detects every DataDependency for a single test, given
// the set of methods it reaches (including itself). reachable should
// come from coverage.Index.CoverageFor(test) plus the test method.
func (a *Analyzer) Dependencies(idx *workspace.SymbolIndex, test types.MethodId, reachable []types.MethodId) []types.DataDependency {
	callsByMethod := groupCallsByMethod(idx)

	var out []types.DataDependency
	for _, method := range reachable {
		for _, d := range a.detectors {
			deps := safeDetect(d, idx, method, callsByMethod[method])
			for i := range deps {
				deps[i].Test = test
			}
			out = append(out, deps...)
		}
	}
	return out
}

// safeDetect runs a detector defensively: per spec §4.6's conservative
// default, a detector failure (here modeled as a recovered panic,
// since Go detectors return rather than throw) must never abort the
// whole scan.
func safeDetect(d Detector, idx *workspace.SymbolIndex, method types.MethodId, calls []workspace.RawCallSite) (out []types.DataDependency) {
	defer func() {
		if r := recover(); r != nil {
			logging.For(logging.CategoryDataDep).Sugar().Warnf("detector panic for %s: %v", method, r)
			out = nil
		}
	}()
	return d.Detect(idx, method, calls)
}

func groupCallsByMethod(idx *workspace.SymbolIndex) map[types.MethodId][]workspace.RawCallSite {
	out := make(map[types.MethodId][]workspace.RawCallSite)
	for _, c := range idx.RawCalls() {
		out[c.From] = append(out[c.From], c)
	}
	return out
}

// testDeps bundles one test's dependency set with its containing type
// (for shared-fixture detection).
type testDeps struct {
	test  types.MethodId
	class types.TypeId
	deps  []types.DataDependency
}

// DetectConflicts derives pairwise Conflicts across every test's
// dependency set, per spec §4.6's rule table. classOf supplies each
// test's containing type (shared-fixture detection); fixtureReadOnly
// reports whether a test class's fixture is marked read-only.
func (a *Analyzer) DetectConflicts(
	depsByTest map[types.MethodId][]types.DataDependency,
	classOf func(types.MethodId) types.TypeId,
	fixtureReadOnly func(types.TypeId) bool,
) []types.Conflict {
	tests := make([]testDeps, 0, len(depsByTest))
	for test, deps := range depsByTest {
		tests = append(tests, testDeps{test: test, class: classOf(test), deps: deps})
	}
	sort.Slice(tests, func(i, j int) bool { return tests[i].test < tests[j].test })

	var conflicts []types.Conflict
	for i := 0; i < len(tests); i++ {
		for j := i + 1; j < len(tests); j++ {
			if c, ok := pairwiseConflict(tests[i], tests[j], fixtureReadOnly); ok {
				conflicts = append(conflicts, c)
			}
		}
	}
	return conflicts
}

func pairwiseConflict(a, b testDeps, fixtureReadOnly func(types.TypeId) bool) (types.Conflict, bool) {
	base := types.Conflict{TestA: a.test, TestB: b.test}

	for _, da := range a.deps {
		for _, db := range b.deps {
			if da.Resource != db.Resource {
				continue
			}
			bothWrite := writes(da.Access) && writes(db.Access)
			bothRead := !writes(da.Access) && !writes(db.Access)
			anyWrite := writes(da.Access) || writes(db.Access)

			if anyWrite {
				c := base
				c.Kind = types.ConflictSharedData
				c.Severity = types.SeverityHigh
				c.PreventsParallel = true
				return c, true
			}
			if !bothRead {
				continue
			}
			if intersects(da.Entities, db.Entities) && bothWrite {
				c := base
				c.Kind = types.ConflictResourceContention
				c.Severity = types.SeverityMedium
				c.PreventsParallel = true
				return c, true
			}
		}
	}

	// Entity-intersection + both-write across any matched dependency
	// pair, even without identical resource ids (spec §4.6 second rule).
	for _, da := range a.deps {
		for _, db := range b.deps {
			if da.Kind != db.Kind {
				continue
			}
			if writes(da.Access) && writes(db.Access) && intersects(da.Entities, db.Entities) {
				c := base
				c.Kind = types.ConflictResourceContention
				c.Severity = types.SeverityMedium
				c.PreventsParallel = true
				return c, true
			}
		}
	}

	if a.class != "" && a.class == b.class {
		if !fixtureReadOnly(a.class) {
			c := base
			c.Kind = types.ConflictSharedFixture
			c.Severity = types.SeverityMedium
			c.PreventsParallel = true
			return c, true
		}
	}

	for _, da := range a.deps {
		for _, db := range b.deps {
			if da.Resource == db.Resource && !writes(da.Access) && !writes(db.Access) {
				c := base
				c.Kind = types.ConflictRaceCondition
				c.Severity = types.SeverityLow
				c.PreventsParallel = false
				return c, true
			}
		}
	}

	return types.Conflict{}, false
}

func writes(a types.AccessMode) bool {
	switch a {
	case types.AccessWrite, types.AccessReadWrite, types.AccessCreate, types.AccessUpdate, types.AccessDelete:
		return true
	default:
		return false
	}
}

func intersects(a, b map[string]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}
