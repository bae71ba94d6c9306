package scorer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testimpact/internal/callgraph"
	"testimpact/internal/config"
	"testimpact/internal/coverage"
	"testimpact/internal/types"
	"testimpact/internal/workspace"
)

func buildCoverage(t *testing.T, testId, prodId types.MethodId) *coverage.Index {
	t.Helper()
	idx := workspace.NewSymbolIndex()
	idx.AddMethod(types.MethodNode{ID: testId}, "Ns.FooTests", "TestAdd")
	idx.AddMethod(types.MethodNode{ID: prodId}, "Ns.Foo", "Add")
	idx.AddLocalVarType(testId, "sut", "Ns.Foo")
	idx.AddRawCall(workspace.RawCallSite{From: testId, ReceiverExpr: "sut", CalleeName: "Add"})

	g, err := callgraph.NewBuilder(idx).Build(context.Background())
	require.NoError(t, err)

	cov, err := coverage.NewBuilder(g, config.DefaultAnalysisConfig(2)).Build(context.Background(),
		[]types.TestEntry{{ID: testId, Category: types.CategoryUnit}}, g.NodeCount())
	require.NoError(t, err)
	return cov
}

func TestScore_DirectUnitTestOutranksCategoryBonusAlone(t *testing.T) {
	testId := types.MethodId("Ns.FooTests.TestAdd()")
	prodId := types.MethodId("Ns.Foo.Add(int,int)")
	cov := buildCoverage(t, testId, prodId)

	s := New(cov, func(types.MethodId) types.TypeId { return "" })

	directTest := types.TestInfo{Entry: types.TestEntry{ID: testId, Category: types.CategoryUnit}}
	changeSet := types.ChangeSet{Changes: []types.CodeChange{{
		File: "Foo.cs", Kind: types.ChangeModified,
		ChangedMethods: map[types.MethodId]struct{}{prodId: {}},
	}}}
	directScore := s.Score(directTest, changeSet)

	categoryOnlyTest := types.TestInfo{Entry: types.TestEntry{ID: "Ns.SecurityTests.CheckAuth()", Category: types.CategorySecurity}}
	categoryOnlyChangeSet := types.ChangeSet{Changes: []types.CodeChange{{
		File: "AuthController.cs", Kind: types.ChangeModified,
		ChangedTypes: map[types.TypeId]struct{}{"Ns.AuthController": {}},
	}}}
	categoryScore := s.Score(categoryOnlyTest, categoryOnlyChangeSet)

	assert.Greater(t, directScore, categoryScore)
}

func TestScore_BoundedToUnitInterval(t *testing.T) {
	testId := types.MethodId("Ns.FooTests.TestAdd()")
	prodId := types.MethodId("Ns.Foo.Add(int,int)")
	cov := buildCoverage(t, testId, prodId)
	s := New(cov, func(types.MethodId) types.TypeId { return "" })

	test := types.TestInfo{
		Entry:                types.TestEntry{ID: testId, Category: types.CategoryUnit},
		AverageExecutionTime: 100 * time.Millisecond,
		ExecutionHistory: []types.ExecutionRecord{
			{RanAt: time.Unix(1000, 0), Passed: false},
			{RanAt: time.Unix(900, 0), Passed: true},
		},
	}
	changeSet := types.ChangeSet{Changes: []types.CodeChange{{
		File: "Foo.cs", ChangedMethods: map[types.MethodId]struct{}{prodId: {}},
	}}}

	score := s.Score(test, changeSet)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestScore_SameTestAndChangeScoreIdentically(t *testing.T) {
	testId := types.MethodId("Ns.FooTests.TestAdd()")
	prodId := types.MethodId("Ns.Foo.Add(int,int)")
	cov := buildCoverage(t, testId, prodId)
	s := New(cov, func(types.MethodId) types.TypeId { return "" })

	test := types.TestInfo{Entry: types.TestEntry{ID: testId, Category: types.CategoryUnit}}
	changeSet := types.ChangeSet{Changes: []types.CodeChange{{
		File: "Foo.cs", ChangedMethods: map[types.MethodId]struct{}{prodId: {}},
	}}}

	first := s.Score(test, changeSet)
	second := s.Score(test, changeSet)
	assert.Equal(t, first, second, "scoring the same test against the same change twice must be deterministic")
}
