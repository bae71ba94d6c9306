package coverage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"testimpact/internal/callgraph"
	"testimpact/internal/config"
	"testimpact/internal/types"
	"testimpact/internal/workspace"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestIsMockNamespace(t *testing.T) {
	assert.True(t, IsMockNamespace(types.MethodId("NSubstitute.Core.CallInfo.Arg()")))
	assert.True(t, IsMockNamespace(types.MethodId("Moq.Mock`1.Setup()")))
	assert.False(t, IsMockNamespace(types.MethodId("MyApp.Services.FooService.Run()")))
}

func TestBuild_DirectCoverageSingleHop(t *testing.T) {
	testId := workspace.CanonicalMethodId("Ns.FooTests", "TestAdd", nil, nil)
	prodId := workspace.CanonicalMethodId("Ns.Foo", "Add", nil, []string{"int", "int"})

	idx2 := workspace.NewSymbolIndex()
	idx2.AddType(workspace.TypeDecl{ID: "Ns.FooTests", Kind: "class"})
	idx2.AddType(workspace.TypeDecl{ID: "Ns.Foo", Kind: "class"})
	idx2.AddMethod(types.MethodNode{ID: testId, Access: types.AccessPublic}, "Ns.FooTests", "TestAdd")
	idx2.AddMethod(types.MethodNode{ID: prodId, Access: types.AccessPublic}, "Ns.Foo", "Add")
	idx2.AddLocalVarType(testId, "sut", "Ns.Foo")
	idx2.AddRawCall(workspace.RawCallSite{
		From: testId, ReceiverExpr: "sut", CalleeName: "Add",
		Site: types.CallSite{File: "FooTests.cs", Line: 5},
	})

	g, err := callgraph.NewBuilder(idx2).Build(context.Background())
	require.NoError(t, err)

	tests := []types.TestEntry{{ID: testId, Framework: types.FrameworkNUnit, Category: types.CategoryUnit, ClassificationConfidence: 1.0}}

	builder := NewBuilder(g, config.DefaultAnalysisConfig(4))
	covIdx, err := builder.Build(context.Background(), tests, g.NodeCount())
	require.NoError(t, err)

	entries := covIdx.TestsCovering(prodId)
	require.Len(t, entries, 1)
	assert.Equal(t, testId, entries[0].Test.ID)
	assert.Equal(t, 1.0, entries[0].PathConfidence)

	reached := covIdx.CoverageFor(testId)
	assert.Contains(t, reached, prodId)
}

func TestBuild_MockPathConfidenceCapped(t *testing.T) {
	idx := workspace.NewSymbolIndex()
	idx.AddType(workspace.TypeDecl{ID: "Ns.FooTests", Kind: "class"})
	idx.AddType(workspace.TypeDecl{ID: "NSubstitute.Mock", Kind: "class"})

	testId := workspace.CanonicalMethodId("Ns.FooTests", "TestAdd", nil, nil)
	idx.AddMethod(types.MethodNode{ID: testId, Access: types.AccessPublic}, "Ns.FooTests", "TestAdd")

	mockId := workspace.CanonicalMethodId("NSubstitute.Mock", "Setup", nil, nil)
	idx.AddMethod(types.MethodNode{ID: mockId, Access: types.AccessPublic}, "NSubstitute.Mock", "Setup")

	idx.AddLocalVarType(testId, "m", "NSubstitute.Mock")
	idx.AddRawCall(workspace.RawCallSite{
		From: testId, ReceiverExpr: "m", CalleeName: "Setup",
		Site: types.CallSite{File: "FooTests.cs", Line: 9},
	})

	g, err := callgraph.NewBuilder(idx).Build(context.Background())
	require.NoError(t, err)

	tests := []types.TestEntry{{ID: testId}}
	covIdx, err := NewBuilder(g, config.DefaultAnalysisConfig(2)).Build(context.Background(), tests, g.NodeCount())
	require.NoError(t, err)

	entries := covIdx.TestsCovering(mockId)
	require.Len(t, entries, 1)
	assert.LessOrEqual(t, entries[0].PathConfidence, 0.2)
	assert.Equal(t, 1, covIdx.DemotedMockPaths())
}

func TestBuild_NeverRecordsUnknownNodesAsCovered(t *testing.T) {
	idx := workspace.NewSymbolIndex()
	idx.AddType(workspace.TypeDecl{ID: "Ns.FooTests", Kind: "class"})

	testId := workspace.CanonicalMethodId("Ns.FooTests", "TestAdd", nil, nil)
	idx.AddMethod(types.MethodNode{ID: testId, Access: types.AccessPublic}, "Ns.FooTests", "TestAdd")
	idx.AddRawCall(workspace.RawCallSite{
		From: testId, ReceiverExpr: "somethingUnresolvable", CalleeName: "Mystery",
		Site: types.CallSite{File: "FooTests.cs", Line: 6},
	})

	g, err := callgraph.NewBuilder(idx).Build(context.Background())
	require.NoError(t, err)

	tests := []types.TestEntry{{ID: testId, Category: types.CategoryUnit}}
	covIdx, err := NewBuilder(g, config.DefaultAnalysisConfig(2)).Build(context.Background(), tests, g.NodeCount())
	require.NoError(t, err)

	for _, m := range covIdx.CoveredMethods() {
		assert.False(t, workspace.IsUnknownNode(m), "unknown:// node %s leaked into CoveredMethods", m)
	}
	reached := covIdx.CoverageFor(testId)
	for _, m := range reached {
		assert.False(t, workspace.IsUnknownNode(m), "unknown:// node %s leaked into CoverageFor", m)
	}
	stats := covIdx.Statistics()
	assert.Equal(t, 0, stats.CoveredMethods)
}

func TestStatistics_CountsTestsAndMethods(t *testing.T) {
	idx := workspace.NewSymbolIndex()
	testId := types.MethodId("Ns.FooTests.TestAdd()")
	idx.AddMethod(types.MethodNode{ID: testId}, "Ns.FooTests", "TestAdd")

	g, err := callgraph.NewBuilder(idx).Build(context.Background())
	require.NoError(t, err)

	tests := []types.TestEntry{{ID: testId, Category: types.CategoryUnit}}
	covIdx, err := NewBuilder(g, config.DefaultAnalysisConfig(2)).Build(context.Background(), tests, 5)
	require.NoError(t, err)

	stats := covIdx.Statistics()
	assert.Equal(t, 5, stats.TotalMethods)
	assert.Equal(t, 1, stats.TotalTests)
	assert.Equal(t, 1, stats.CoverageByTestType[types.CategoryUnit])
}
