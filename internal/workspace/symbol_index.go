package workspace

import (
	"fmt"
	"strings"
	"sync"

	"testimpact/internal/logging"
	"testimpact/internal/types"
)

// TypeDecl is a discovered class/interface/struct/record declaration.
type TypeDecl struct {
	ID         types.TypeId
	Kind       string // class|interface|struct|record
	File       string
	Line       uint32
	BaseTypes  []types.TypeId // implemented interfaces / base class, unresolved names as written
	IsGeneric  bool
}

// RawCallSite is an unresolved invocation discovered during parsing.
// The call graph builder later turns these into types.CallEdge values
// once receiver types can be matched against known declarations.
type RawCallSite struct {
	From         types.MethodId
	ReceiverExpr string // syntactic receiver, "" for unqualified calls
	CalleeName   string
	ArgCount     int
	IsGenericArg bool
	TypeArgs     []string
	Site         types.CallSite
	IsNew        bool // object_creation_expression
}

// SymbolIndex maps MethodIds to their defining declaration
// and AST-derived metadata, and resolves extension/generic/virtual
// dispatch candidates. All mutation happens during construction
// (Add*); queries afterward are lock-free-safe via RWMutex.
type SymbolIndex struct {
	mu sync.RWMutex

	methods map[types.MethodId]*types.MethodNode
	types_  map[types.TypeId]*TypeDecl

	// methodsByTypeName indexes declared methods for arity/name
	// matching during call-site resolution: type -> name -> []MethodId.
	methodsByTypeName map[types.TypeId]map[string][]types.MethodId

	// interfaceImpls maps an interface/virtual member's declaring type
	// to the concrete types found (within the workspace) to implement
	// or override it. May be empty (external implementation).
	interfaceImpls map[types.TypeId][]types.TypeId

	// extensionMethods are static methods whose first parameter names
	// the extended type; keyed by that type name.
	extensionMethods map[string][]types.MethodId

	// addressTakenNames records bare identifier/member-access names
	// spotted as method-group values anywhere in the workspace --
	// assigned, passed as an argument, or wrapped in a delegate
	// construction -- rather than invoked directly. This is the
	// positive signal DelegateCandidates requires before a method is
	// considered a delegate-invoke target.
	addressTakenNames map[string]struct{}

	// methodShortName and methodArity support DelegateCandidates'
	// name+arity filter against addressTakenNames without re-parsing
	// the canonical MethodId.
	methodShortName map[types.MethodId]string
	methodArity     map[types.MethodId]int

	rawCalls []RawCallSite

	// methodAttributes records the attribute names (short form, as
	// written) decorating each method, used by the classifier's primary rule.
	methodAttributes map[types.MethodId][]string

	// typeAttributes records the attribute names decorating each type
	// declaration, used to recognize a shared fixture type marked
	// read-only for the purposes of datadep's conflict detection.
	typeAttributes map[types.TypeId][]string

	// methodContainingType is the reverse lookup from a MethodId to
	// its declaring type, used by the call graph builder to resolve unqualified/this/base
	// call sites against the right method table.
	methodContainingType map[types.MethodId]types.TypeId

	// fieldTypes and localVarTypes give the call graph builder a best-effort receiver-type
	// inference without a full semantic model: field/local declared
	// types, keyed by declaring type or declaring method.
	fieldTypes    map[types.TypeId]map[string]string
	localVarTypes map[types.MethodId]map[string]string

	parseErrors []types.EngineError
}

// NewSymbolIndex creates an empty index.
func NewSymbolIndex() *SymbolIndex {
	return &SymbolIndex{
		methods:           make(map[types.MethodId]*types.MethodNode),
		types_:            make(map[types.TypeId]*TypeDecl),
		methodsByTypeName: make(map[types.TypeId]map[string][]types.MethodId),
		interfaceImpls:    make(map[types.TypeId][]types.TypeId),
		extensionMethods:  make(map[string][]types.MethodId),
		addressTakenNames: make(map[string]struct{}),
		methodShortName:   make(map[types.MethodId]string),
		methodArity:       make(map[types.MethodId]int),
		methodAttributes:     make(map[types.MethodId][]string),
		typeAttributes:       make(map[types.TypeId][]string),
		methodContainingType: make(map[types.MethodId]types.TypeId),
		fieldTypes:           make(map[types.TypeId]map[string]string),
		localVarTypes:        make(map[types.MethodId]map[string]string),
	}
}

// AddFieldType records a field's declared type for receiver-type
// inference (e.g. "fooField" : "Ns.IFoo").
func (idx *SymbolIndex) AddFieldType(containingType types.TypeId, fieldName, fieldType string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.fieldTypes[containingType] == nil {
		idx.fieldTypes[containingType] = make(map[string]string)
	}
	idx.fieldTypes[containingType][fieldName] = fieldType
}

// FieldType looks up a field's declared type.
func (idx *SymbolIndex) FieldType(containingType types.TypeId, fieldName string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	t, ok := idx.fieldTypes[containingType][fieldName]
	return t, ok
}

// AddLocalVarType records a local variable's declared type within a
// method body for receiver-type inference.
func (idx *SymbolIndex) AddLocalVarType(method types.MethodId, varName, varType string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.localVarTypes[method] == nil {
		idx.localVarTypes[method] = make(map[string]string)
	}
	idx.localVarTypes[method][varName] = varType
}

// LocalVarType looks up a local variable's declared type within method.
func (idx *SymbolIndex) LocalVarType(method types.MethodId, varName string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	t, ok := idx.localVarTypes[method][varName]
	return t, ok
}

// FieldsOf returns a copy of every field declared directly on t, keyed
// by field name, for detectors that need to scan all of a type's
// fields rather than look one up by name.
func (idx *SymbolIndex) FieldsOf(t types.TypeId) map[string]string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[string]string, len(idx.fieldTypes[t]))
	for k, v := range idx.fieldTypes[t] {
		out[k] = v
	}
	return out
}

// LocalVarsOf returns a copy of every local variable declared within
// method, keyed by variable name.
func (idx *SymbolIndex) LocalVarsOf(method types.MethodId) map[string]string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[string]string, len(idx.localVarTypes[method]))
	for k, v := range idx.localVarTypes[method] {
		out[k] = v
	}
	return out
}

// ContainingType returns the type that declares a MethodId.
func (idx *SymbolIndex) ContainingType(method types.MethodId) (types.TypeId, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	t, ok := idx.methodContainingType[method]
	return t, ok
}

// AddMethodAttributes records the attribute names attached to a
// method declaration (e.g. "Test", "TestCase", "Fact").
func (idx *SymbolIndex) AddMethodAttributes(id types.MethodId, attrs []string) {
	if len(attrs) == 0 {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.methodAttributes[id] = append(idx.methodAttributes[id], attrs...)
}

// MethodAttributes returns the attribute names attached to id.
func (idx *SymbolIndex) MethodAttributes(id types.MethodId) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]string, len(idx.methodAttributes[id]))
	copy(out, idx.methodAttributes[id])
	return out
}

// AddTypeAttributes records the attribute names attached to a type
// declaration (e.g. a shared-fixture type marked "[ReadOnlyFixture]").
func (idx *SymbolIndex) AddTypeAttributes(id types.TypeId, attrs []string) {
	if len(attrs) == 0 {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.typeAttributes[id] = append(idx.typeAttributes[id], attrs...)
}

// TypeAttributes returns the attribute names attached to a type id.
func (idx *SymbolIndex) TypeAttributes(id types.TypeId) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]string, len(idx.typeAttributes[id]))
	copy(out, idx.typeAttributes[id])
	return out
}

// CanonicalMethodId builds the spec §3 canonical MethodId string:
// "{FullyQualifiedContainingType}.{Name}({paramType1,...})" with
// "<T1,...>" inserted before the parameter list for generic methods.
func CanonicalMethodId(containingType types.TypeId, name string, typeParams, paramTypes []string) types.MethodId {
	var b strings.Builder
	b.WriteString(string(containingType))
	b.WriteByte('.')
	b.WriteString(name)
	if len(typeParams) > 0 {
		b.WriteByte('<')
		b.WriteString(strings.Join(typeParams, ","))
		b.WriteByte('>')
	}
	b.WriteByte('(')
	b.WriteString(strings.Join(paramTypes, ","))
	b.WriteByte(')')
	return types.MethodId(b.String())
}

// AddType registers a type declaration found during parsing.
func (idx *SymbolIndex) AddType(t TypeDecl) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.types_[t.ID] = &t
	if _, ok := idx.methodsByTypeName[t.ID]; !ok {
		idx.methodsByTypeName[t.ID] = make(map[string][]types.MethodId)
	}
}

// AddMethod registers a method declaration. containingType and name
// are used to index the method for later call-site resolution.
func (idx *SymbolIndex) AddMethod(node types.MethodNode, containingType types.TypeId, name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.methods[node.ID]; exists {
		return
	}
	idx.methods[node.ID] = &node
	idx.methodContainingType[node.ID] = containingType

	if idx.methodsByTypeName[containingType] == nil {
		idx.methodsByTypeName[containingType] = make(map[string][]types.MethodId)
	}
	idx.methodsByTypeName[containingType][name] = append(idx.methodsByTypeName[containingType][name], node.ID)

	paramCount := strings.Count(string(node.ID), ",") + 1
	if strings.HasSuffix(string(node.ID), "()") {
		paramCount = 0
	}
	idx.methodShortName[node.ID] = name
	idx.methodArity[node.ID] = paramCount
}

// MarkAddressTaken records name (a method's unqualified name, e.g.
// "Flush") as having been used as a method-group value rather than
// invoked outright. Called while walking assignments, delegate
// constructions, and arguments that are themselves plain names or
// member accesses.
func (idx *SymbolIndex) MarkAddressTaken(name string) {
	if name == "" {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.addressTakenNames[name] = struct{}{}
}

// AddExtensionMethod registers a static method as an extension of
// extendedTypeName (the syntactic text of its first parameter's type).
func (idx *SymbolIndex) AddExtensionMethod(extendedTypeName string, id types.MethodId) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.extensionMethods[extendedTypeName] = append(idx.extensionMethods[extendedTypeName], id)
}

// RecordImplementation notes that concreteType implements/overrides a
// member declared on ifaceOrBaseType (from a class's base list).
func (idx *SymbolIndex) RecordImplementation(ifaceOrBaseType, concreteType types.TypeId) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, existing := range idx.interfaceImpls[ifaceOrBaseType] {
		if existing == concreteType {
			return
		}
	}
	idx.interfaceImpls[ifaceOrBaseType] = append(idx.interfaceImpls[ifaceOrBaseType], concreteType)
}

// AddRawCall records an unresolved call site found during parsing;
// the call graph builder resolves these against the index.
func (idx *SymbolIndex) AddRawCall(c RawCallSite) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.rawCalls = append(idx.rawCalls, c)
}

// RawCalls returns every raw call site collected so far.
func (idx *SymbolIndex) RawCalls() []RawCallSite {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]RawCallSite, len(idx.rawCalls))
	copy(out, idx.rawCalls)
	return out
}

// RecordParseFailure logs and stores a per-file parse failure. Parse
// failures are never fatal to the overall analysis (spec §4.1).
func (idx *SymbolIndex) RecordParseFailure(file string, cause error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e := types.NewParseFailure("workspace.SymbolIndex", file, cause)
	idx.parseErrors = append(idx.parseErrors, *e)
	logging.For(logging.CategoryWorkspace).Sugar().Debugf("parse failure: %s: %v", file, cause)
}

// ParseErrors returns every recorded parse failure.
func (idx *SymbolIndex) ParseErrors() []types.EngineError {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]types.EngineError, len(idx.parseErrors))
	copy(out, idx.parseErrors)
	return out
}

// Method looks up a MethodNode by its canonical id.
func (idx *SymbolIndex) Method(id types.MethodId) (*types.MethodNode, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	m, ok := idx.methods[id]
	return m, ok
}

// ContainsMethod reports whether id is a known MethodNode.
func (idx *SymbolIndex) ContainsMethod(id types.MethodId) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.methods[id]
	return ok
}

// AllMethods returns every known MethodNode, used by the engine to scan
// for test entries and by the call graph builder to register nodes.
func (idx *SymbolIndex) AllMethods() []types.MethodNode {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]types.MethodNode, 0, len(idx.methods))
	for _, m := range idx.methods {
		out = append(out, *m)
	}
	return out
}

// AllTypes returns every known TypeDecl, used by the change-set parser
// to map a touched diff line back to its enclosing type declaration.
func (idx *SymbolIndex) AllTypes() []TypeDecl {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]TypeDecl, 0, len(idx.types_))
	for _, t := range idx.types_ {
		out = append(out, *t)
	}
	return out
}

// ResolveCandidates returns the MethodIds a given (type, name) call
// could target, used by the call graph builder for direct calls and as
// the base set for virtual/interface expansion. Every overload with
// that name is returned; argument count is not checked.
func (idx *SymbolIndex) ResolveCandidates(containingType types.TypeId, name string) []types.MethodId {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	byName := idx.methodsByTypeName[containingType]
	if byName == nil {
		return nil
	}
	out := make([]types.MethodId, len(byName[name]))
	copy(out, byName[name])
	return out
}

// Implementations returns the concrete types known (within the
// workspace) to implement ifaceOrBaseType. May be empty.
func (idx *SymbolIndex) Implementations(ifaceOrBaseType types.TypeId) []types.TypeId {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]types.TypeId, len(idx.interfaceImpls[ifaceOrBaseType]))
	copy(out, idx.interfaceImpls[ifaceOrBaseType])
	return out
}

// ExtensionCandidates returns extension methods registered against a
// receiver type name.
func (idx *SymbolIndex) ExtensionCandidates(receiverTypeName string) []types.MethodId {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]types.MethodId, len(idx.extensionMethods[receiverTypeName]))
	copy(out, idx.extensionMethods[receiverTypeName])
	return out
}

// DelegateCandidates returns every method whose unqualified name was
// observed as a method-group value (MarkAddressTaken) and whose
// parameter count matches a delegate's invoke signature. A method
// never marked address-taken is never a candidate, regardless of
// arity -- this is the positive signal that keeps delegate-invoke
// resolution from over-connecting the call graph.
func (idx *SymbolIndex) DelegateCandidates(paramCount int) []types.MethodId {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []types.MethodId
	for id, arity := range idx.methodArity {
		if arity != paramCount {
			continue
		}
		if _, ok := idx.addressTakenNames[idx.methodShortName[id]]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Type looks up a declared type by id.
func (idx *SymbolIndex) Type(id types.TypeId) (*TypeDecl, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	t, ok := idx.types_[id]
	return t, ok
}

// UnknownNode builds the synthetic unknown://{file}:{line} sentinel
// id for an unresolved invocation (spec §4.2).
func UnknownNode(file string, line int) types.MethodId {
	return types.MethodId(fmt.Sprintf("unknown://%s:%d", file, line))
}

// IsUnknownNode reports whether id is a synthetic UnknownNode sentinel
// rather than a real method. Coverage indexing must never surface
// these as covered production methods.
func IsUnknownNode(id types.MethodId) bool {
	return strings.HasPrefix(string(id), "unknown://")
}
