package callgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testimpact/internal/types"
	"testimpact/internal/workspace"
)

func newIdxWithMethod(t *testing.T, typeName types.TypeId, methodName string, params ...string) (*workspace.SymbolIndex, types.MethodId) {
	t.Helper()
	idx := workspace.NewSymbolIndex()
	idx.AddType(workspace.TypeDecl{ID: typeName, Kind: "class"})
	id := workspace.CanonicalMethodId(typeName, methodName, nil, params)
	idx.AddMethod(types.MethodNode{ID: id, Access: types.AccessPublic}, typeName, methodName)
	return idx, id
}

func TestBuild_DirectCall(t *testing.T) {
	idx, callee := newIdxWithMethod(t, "Ns.Foo", "Helper")
	caller := workspace.CanonicalMethodId("Ns.Foo", "Entry", nil, nil)
	idx.AddMethod(types.MethodNode{ID: caller, Access: types.AccessPublic}, "Ns.Foo", "Entry")

	idx.AddRawCall(workspace.RawCallSite{
		From: caller, ReceiverExpr: "this", CalleeName: "Helper",
		Site: types.CallSite{File: "Foo.cs", Line: 10},
	})

	g, err := NewBuilder(idx).Build(context.Background())
	require.NoError(t, err)

	succ := g.Successors(caller)
	require.Len(t, succ, 1)
	assert.Equal(t, callee, succ[0].To)
	assert.Equal(t, types.DispatchDirect, succ[0].Kind)
	assert.True(t, succ[0].ResolvedConcrete)
}

func TestBuild_UnresolvedCallBecomesSentinel(t *testing.T) {
	idx := workspace.NewSymbolIndex()
	caller := workspace.CanonicalMethodId("Ns.Foo", "Entry", nil, nil)
	idx.AddMethod(types.MethodNode{ID: caller, Access: types.AccessPublic}, "Ns.Foo", "Entry")

	idx.AddRawCall(workspace.RawCallSite{
		From: caller, ReceiverExpr: "someUnknownVar", CalleeName: "DoStuff",
		Site: types.CallSite{File: "Foo.cs", Line: 20},
	})

	g, err := NewBuilder(idx).Build(context.Background())
	require.NoError(t, err)

	succ := g.Successors(caller)
	require.Len(t, succ, 1)
	assert.Contains(t, string(succ[0].To), "unknown://Foo.cs:20")
	assert.False(t, succ[0].ResolvedConcrete)
}

func TestBuild_VirtualDispatchFansOutToImplementations(t *testing.T) {
	idx := workspace.NewSymbolIndex()
	idx.AddType(workspace.TypeDecl{ID: "Ns.IFoo", Kind: "interface"})
	idx.AddType(workspace.TypeDecl{ID: "Ns.FooImpl", Kind: "class"})
	idx.RecordImplementation("Ns.IFoo", "Ns.FooImpl")

	declared := workspace.CanonicalMethodId("Ns.IFoo", "Run", nil, nil)
	idx.AddMethod(types.MethodNode{ID: declared, IsVirtual: true, Access: types.AccessPublic,
		DeclaringInterfaces: map[types.TypeId]struct{}{"Ns.IFoo": {}}}, "Ns.IFoo", "Run")

	impl := workspace.CanonicalMethodId("Ns.FooImpl", "Run", nil, nil)
	idx.AddMethod(types.MethodNode{ID: impl, IsOverride: true, Access: types.AccessPublic}, "Ns.FooImpl", "Run")

	caller := workspace.CanonicalMethodId("Ns.Caller", "Entry", nil, nil)
	idx.AddMethod(types.MethodNode{ID: caller, Access: types.AccessPublic}, "Ns.Caller", "Entry")
	idx.AddLocalVarType(caller, "f", "Ns.IFoo")

	idx.AddRawCall(workspace.RawCallSite{
		From: caller, ReceiverExpr: "f", CalleeName: "Run",
		Site: types.CallSite{File: "Caller.cs", Line: 5},
	})

	g, err := NewBuilder(idx).Build(context.Background())
	require.NoError(t, err)

	succ := g.Successors(caller)
	require.Len(t, succ, 2, "expect fallback anchor edge + one concrete implementation edge")

	var sawDeclared, sawImpl bool
	for _, e := range succ {
		assert.Equal(t, types.DispatchVirtualOrIface, e.Kind)
		if e.To == declared {
			sawDeclared = true
			assert.False(t, e.ResolvedConcrete)
		}
		if e.To == impl {
			sawImpl = true
			assert.True(t, e.ResolvedConcrete)
		}
	}
	assert.True(t, sawDeclared)
	assert.True(t, sawImpl)
}

func TestBuild_ConstructorCall(t *testing.T) {
	idx, ctor := newIdxWithMethod(t, "Ns.Widget", ".ctor")
	caller := workspace.CanonicalMethodId("Ns.Caller", "Entry", nil, nil)
	idx.AddMethod(types.MethodNode{ID: caller, Access: types.AccessPublic}, "Ns.Caller", "Entry")

	idx.AddRawCall(workspace.RawCallSite{
		From: caller, ReceiverExpr: "Ns.Widget", CalleeName: ".ctor", IsNew: true,
		Site: types.CallSite{File: "Caller.cs", Line: 7},
	})

	g, err := NewBuilder(idx).Build(context.Background())
	require.NoError(t, err)

	succ := g.Successors(caller)
	require.Len(t, succ, 1)
	assert.Equal(t, ctor, succ[0].To)
	assert.Equal(t, types.DispatchConstructor, succ[0].Kind)
}

func TestBuild_ExtensionMethodMatch(t *testing.T) {
	idx := workspace.NewSymbolIndex()
	idx.AddType(workspace.TypeDecl{ID: "Ns.Extensions", Kind: "class"})
	ext := workspace.CanonicalMethodId("Ns.Extensions", "Frob", nil, []string{"Ns.Widget"})
	idx.AddMethod(types.MethodNode{ID: ext, Access: types.AccessPublic, IsExtension: true}, "Ns.Extensions", "Frob")
	idx.AddExtensionMethod("Ns.Widget", ext)

	caller := workspace.CanonicalMethodId("Ns.Caller", "Entry", nil, nil)
	idx.AddMethod(types.MethodNode{ID: caller, Access: types.AccessPublic}, "Ns.Caller", "Entry")
	idx.AddLocalVarType(caller, "w", "Ns.Widget")

	idx.AddRawCall(workspace.RawCallSite{
		From: caller, ReceiverExpr: "w", CalleeName: "Frob",
		Site: types.CallSite{File: "Caller.cs", Line: 3},
	})

	g, err := NewBuilder(idx).Build(context.Background())
	require.NoError(t, err)

	succ := g.Successors(caller)
	require.Len(t, succ, 1)
	assert.Equal(t, ext, succ[0].To)
	assert.Equal(t, types.DispatchExtension, succ[0].Kind)
}

func TestGraph_DeterministicEdgeOrdering(t *testing.T) {
	g := newGraph()
	caller := types.MethodId("Ns.Foo.Entry()")
	g.addEdge(types.CallEdge{From: caller, To: "Ns.Foo.B()", Site: types.CallSite{File: "z.cs", Line: 1}})
	g.addEdge(types.CallEdge{From: caller, To: "Ns.Foo.A()", Site: types.CallSite{File: "a.cs", Line: 5}})
	g.addEdge(types.CallEdge{From: caller, To: "Ns.Foo.A()", Site: types.CallSite{File: "a.cs", Line: 1}})
	g.finalize()

	succ := g.Successors(caller)
	require.Len(t, succ, 3)
	assert.Equal(t, types.MethodId("Ns.Foo.A()"), succ[0].To)
	assert.Equal(t, 1, succ[0].Site.Line)
	assert.Equal(t, types.MethodId("Ns.Foo.A()"), succ[1].To)
	assert.Equal(t, 5, succ[1].Site.Line)
	assert.Equal(t, types.MethodId("Ns.Foo.B()"), succ[2].To)
}

func TestGraph_ReachableFromRespectsMaxDepth(t *testing.T) {
	g := newGraph()
	a, b, c := types.MethodId("A"), types.MethodId("B"), types.MethodId("C")
	g.addEdge(types.CallEdge{From: a, To: b})
	g.addEdge(types.CallEdge{From: b, To: c})
	g.finalize()

	depth1 := g.ReachableFrom(a, 1)
	_, hasB := depth1[b]
	_, hasC := depth1[c]
	assert.True(t, hasB)
	assert.False(t, hasC)

	depthAll := g.ReachableFrom(a, 0)
	_, hasCAll := depthAll[c]
	assert.True(t, hasCAll)
}

func TestGraph_PathsOrderedByLengthThenConfidence(t *testing.T) {
	g := newGraph()
	a, b, c := types.MethodId("A"), types.MethodId("B"), types.MethodId("C")
	g.addEdge(types.CallEdge{From: a, To: c, Kind: types.DispatchDirect, ResolvedConcrete: true})
	g.addEdge(types.CallEdge{From: a, To: b, Kind: types.DispatchDirect, ResolvedConcrete: true})
	g.addEdge(types.CallEdge{From: b, To: c, Kind: types.DispatchDirect, ResolvedConcrete: true})
	g.finalize()

	paths := g.Paths(a, c, 5)
	require.Len(t, paths, 2)
	assert.Len(t, paths[0].Nodes, 2, "direct A->C should come before the longer A->B->C walk")
	assert.Len(t, paths[1].Nodes, 3)
}
