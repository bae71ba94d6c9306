package datadep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testimpact/internal/types"
	"testimpact/internal/workspace"
)

func TestORMContextDetector_DetectsDbContextField(t *testing.T) {
	idx := workspace.NewSymbolIndex()
	idx.AddType(workspace.TypeDecl{ID: "Ns.OrderRepository", Kind: "class"})
	idx.AddType(workspace.TypeDecl{ID: "Ns.AppDbContext", Kind: "class"})
	idx.AddFieldType("Ns.OrderRepository", "_ctx", "Ns.AppDbContext")

	method := workspace.CanonicalMethodId("Ns.OrderRepository", "Save", nil, nil)
	idx.AddMethod(types.MethodNode{ID: method}, "Ns.OrderRepository", "Save")

	deps := ORMContextDetector{}.Detect(idx, method, nil)
	require.Len(t, deps, 1)
	assert.Equal(t, types.DepDatabase, deps[0].Kind)
	assert.Equal(t, "ctx:Ns.OrderRepository", deps[0].Resource)
}

func TestORMContextDetector_CapturesDbSetEntity(t *testing.T) {
	idx := workspace.NewSymbolIndex()
	idx.AddType(workspace.TypeDecl{ID: "Ns.OrderRepository", Kind: "class"})
	method := workspace.CanonicalMethodId("Ns.OrderRepository", "Save", nil, nil)
	idx.AddMethod(types.MethodNode{ID: method}, "Ns.OrderRepository", "Save")
	idx.AddLocalVarType(method, "orders", "DbSet<Order>")

	deps := ORMContextDetector{}.Detect(idx, method, nil)
	require.Len(t, deps, 1)
	_, ok := deps[0].Entities["Order"]
	assert.True(t, ok)
}

func TestFileSystemDetector_ClassifiesReadWrite(t *testing.T) {
	calls := []workspace.RawCallSite{
		{ReceiverExpr: "System.IO.File", CalleeName: "ReadAllText"},
		{ReceiverExpr: "System.IO.File", CalleeName: "WriteAllText"},
		{ReceiverExpr: "someUnrelatedService", CalleeName: "DoStuff"},
	}
	deps := FileSystemDetector{}.Detect(nil, "Ns.Foo.Bar()", calls)
	require.Len(t, deps, 2)
	assert.Equal(t, types.AccessRead, deps[0].Access)
	assert.Equal(t, types.AccessWrite, deps[1].Access)
}

func TestDetectConflicts_SharedDataWhenOneWrites(t *testing.T) {
	a := types.MethodId("Ns.ATests.Test1()")
	b := types.MethodId("Ns.BTests.Test2()")
	deps := map[types.MethodId][]types.DataDependency{
		a: {{Test: a, Kind: types.DepDatabase, Resource: "ctx:Shared", Access: types.AccessReadWrite}},
		b: {{Test: b, Kind: types.DepDatabase, Resource: "ctx:Shared", Access: types.AccessRead}},
	}
	analyzer := New()
	conflicts := analyzer.DetectConflicts(deps, func(types.MethodId) types.TypeId { return "" }, func(types.TypeId) bool { return false })
	require.Len(t, conflicts, 1)
	assert.Equal(t, types.ConflictSharedData, conflicts[0].Kind)
	assert.True(t, conflicts[0].PreventsParallel)
}

func TestDetectConflicts_SharedFixtureWhenSameClassNotReadOnly(t *testing.T) {
	a := types.MethodId("Ns.FooTests.Test1()")
	b := types.MethodId("Ns.FooTests.Test2()")
	deps := map[types.MethodId][]types.DataDependency{a: nil, b: nil}
	analyzer := New()
	conflicts := analyzer.DetectConflicts(deps, func(types.MethodId) types.TypeId { return "Ns.FooTests" }, func(types.TypeId) bool { return false })
	require.Len(t, conflicts, 1)
	assert.Equal(t, types.ConflictSharedFixture, conflicts[0].Kind)
}

func TestDetectConflicts_NoConflictWhenIndependent(t *testing.T) {
	a := types.MethodId("Ns.ATests.Test1()")
	b := types.MethodId("Ns.BTests.Test2()")
	deps := map[types.MethodId][]types.DataDependency{a: nil, b: nil}
	analyzer := New()
	conflicts := analyzer.DetectConflicts(deps, func(types.MethodId) types.TypeId { return "" }, func(types.TypeId) bool { return false })
	assert.Empty(t, conflicts)
}
