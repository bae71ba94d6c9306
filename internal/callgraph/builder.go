package callgraph

import (
	"context"
	"strings"

	"testimpact/internal/logging"
	"testimpact/internal/types"
	"testimpact/internal/workspace"
)

// Builder consumes a fully-populated SymbolIndex and resolves every
// raw call site into one or more CallEdges, per spec §4.2.
type Builder struct {
	idx *workspace.SymbolIndex
}

// NewBuilder returns a Builder bound to idx. idx must already contain
// every type/method declaration the workspace will parse; Build does
// not re-parse anything.
func NewBuilder(idx *workspace.SymbolIndex) *Builder {
	return &Builder{idx: idx}
}

// Build resolves every raw call site recorded in the index into the
// graph's edges. It never fails: unresolvable sites become sentinel
// unknown:// edges (spec §4.2), and the only ctx use is cooperative
// cancellation for very large workspaces.
func (b *Builder) Build(ctx context.Context) (*Graph, error) {
	g := newGraph()
	log := logging.For(logging.CategoryCallGraph).Sugar()

	for _, m := range b.idx.AllMethods() {
		g.addNode(m.ID)
	}

	for _, site := range b.idx.RawCalls() {
		select {
		case <-ctx.Done():
			return nil, types.NewCancelled("callgraph.Builder.Build")
		default:
		}
		b.resolveSite(g, site, log)
	}

	g.finalize()
	return g, nil
}

// resolveSite expands one RawCallSite into zero or more CallEdges,
// appending them to g.
func (b *Builder) resolveSite(g *Graph, site workspace.RawCallSite, log interface {
	Debugf(string, ...any)
}) {
	if site.IsNew {
		b.resolveConstructor(g, site)
		return
	}

	recvType, ok := b.inferReceiverType(site)
	if !ok {
		// Receiver type not inferred: either there is no receiver at all
		// (bare identifier call), or the receiver is not this/base, a
		// typed local, a field or a known type name. Both fall back to
		// the enclosing type's own method table, since C# allows
		// unqualified calls to other members of the same class; when
		// that table has no match, the extension and delegate checks
		// below still run against the raw receiver text.
		if ct, known := b.idx.ContainingType(site.From); known {
			recvType, ok = ct, true
		}
	}

	if !ok {
		b.unresolved(g, site, log)
		return
	}

	candidates := b.idx.ResolveCandidates(recvType, site.CalleeName)
	if len(candidates) > 0 {
		b.resolveDirectOrVirtual(g, site, recvType, candidates)
		return
	}

	// No method declared directly on the inferred type: try extension
	// methods keyed by that type name.
	if ext := b.idx.ExtensionCandidates(string(recvType)); len(ext) > 0 {
		for _, target := range ext {
			g.addEdge(types.CallEdge{
				From: site.From, To: target, Site: site.Site,
				Kind: types.DispatchExtension, ResolvedConcrete: true,
			})
		}
		return
	}

	// Try extension methods keyed by the raw receiver expression text,
	// covering static-import-style extension calls on literal values.
	if ext := b.idx.ExtensionCandidates(site.ReceiverExpr); len(ext) > 0 {
		for _, target := range ext {
			g.addEdge(types.CallEdge{
				From: site.From, To: target, Site: site.Site,
				Kind: types.DispatchExtension, ResolvedConcrete: true,
			})
		}
		return
	}

	// Delegate-invoke: a call whose receiver is a field/local/parameter
	// of delegate type, matched by argument-count compatibility only
	// (no static typing available without a full semantic model).
	if candidates := b.idx.DelegateCandidates(site.ArgCount); len(candidates) > 0 && looksLikeInvoke(site) {
		for _, target := range candidates {
			g.addEdge(types.CallEdge{
				From: site.From, To: target, Site: site.Site,
				Kind: types.DispatchDelegateInvoke, ResolvedConcrete: false,
			})
		}
		return
	}

	b.unresolved(g, site, log)
}

// resolveConstructor handles object_creation_expression sites: the
// receiver expression holds the syntactic type name being constructed.
func (b *Builder) resolveConstructor(g *Graph, site workspace.RawCallSite) {
	typeName := types.TypeId(site.ReceiverExpr)
	candidates := b.idx.ResolveCandidates(typeName, ".ctor")
	if len(candidates) == 0 {
		// No explicit constructor declared (implicit default ctor):
		// anchor the edge to a synthetic node naming the type so
		// construction still registers as a dependency edge.
		g.addEdge(types.CallEdge{
			From: site.From, To: types.MethodId(string(typeName) + ".ctor()"),
			Site: site.Site, Kind: types.DispatchConstructor, ResolvedConcrete: false,
		})
		return
	}
	for _, target := range candidates {
		g.addEdge(types.CallEdge{
			From: site.From, To: target, Site: site.Site,
			Kind: types.DispatchConstructor, ResolvedConcrete: true,
		})
	}
}

// resolveDirectOrVirtual decides whether a resolved-type call is a
// plain direct dispatch or must fan out across virtual/interface
// implementations.
func (b *Builder) resolveDirectOrVirtual(g *Graph, site workspace.RawCallSite, recvType types.TypeId, candidates []types.MethodId) {
	anyVirtual := false
	for _, c := range candidates {
		if node, ok := b.idx.Method(c); ok && (node.IsVirtual || node.IsAbstract || node.IsOverride || len(node.DeclaringInterfaces) > 0) {
			anyVirtual = true
		}
	}

	if !anyVirtual {
		for _, target := range candidates {
			g.addEdge(types.CallEdge{
				From: site.From, To: target, Site: site.Site,
				Kind: types.DispatchDirect, ResolvedConcrete: true,
			})
		}
		return
	}

	// Virtual/interface dispatch: fan out to every known concrete
	// implementation, plus an always-present fallback edge to the
	// declaring member itself so unresolvable overrides still appear
	// in the graph (spec §4.2 "fallback anchor edge").
	for _, declared := range candidates {
		g.addEdge(types.CallEdge{
			From: site.From, To: declared, Site: site.Site,
			Kind: types.DispatchVirtualOrIface, ResolvedConcrete: false,
		})
		for _, implType := range b.idx.Implementations(recvType) {
			implCandidates := b.idx.ResolveCandidates(implType, site.CalleeName)
			for _, implMethod := range implCandidates {
				g.addEdge(types.CallEdge{
					From: site.From, To: implMethod, Site: site.Site,
					Kind: types.DispatchVirtualOrIface, ResolvedConcrete: true,
				})
			}
		}
	}
}

// unresolved records a synthetic unknown:// edge for a call site that
// could not be matched against any known declaration (spec §4.2:
// unresolved invocations never fail the analysis).
func (b *Builder) unresolved(g *Graph, site workspace.RawCallSite, log interface {
	Debugf(string, ...any)
}) {
	log.Debugf("unresolved call site %s:%d -> %s (receiver=%q)", site.Site.File, site.Site.Line, site.CalleeName, site.ReceiverExpr)
	target := workspace.UnknownNode(site.Site.File, site.Site.Line)
	g.addEdge(types.CallEdge{
		From: site.From, To: target, Site: site.Site,
		Kind: types.DispatchDynamicDispatch, ResolvedConcrete: false,
	})
}

// inferReceiverType applies the best-effort chain: this/base against
// the enclosing type, then local variable, then field, then treating
// the receiver expression itself as a static type-name reference.
func (b *Builder) inferReceiverType(site workspace.RawCallSite) (types.TypeId, bool) {
	if site.ReceiverExpr == "" {
		return "", false
	}
	if site.ReceiverExpr == "this" || site.ReceiverExpr == "base" {
		return b.idx.ContainingType(site.From)
	}
	if t, ok := b.idx.LocalVarType(site.From, site.ReceiverExpr); ok {
		return types.TypeId(t), true
	}
	if ct, ok := b.idx.ContainingType(site.From); ok {
		if t, ok := b.idx.FieldType(ct, site.ReceiverExpr); ok {
			return types.TypeId(t), true
		}
	}
	// Static-call form: the receiver expression is itself a type name.
	if _, ok := b.idx.Type(types.TypeId(site.ReceiverExpr)); ok {
		return types.TypeId(site.ReceiverExpr), true
	}
	return "", false
}

// looksLikeInvoke narrows delegate-candidate matching to call sites
// that are plausibly invoking a delegate-typed value (bare "Invoke" or
// a direct parenthesized call on a local/field, never a dotted member
// access against a known type).
func looksLikeInvoke(site workspace.RawCallSite) bool {
	if site.CalleeName == "Invoke" {
		return true
	}
	return site.ReceiverExpr != "" && !strings.Contains(site.ReceiverExpr, ".")
}
