package workspace

import (
	"context"
	"fmt"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/csharp"

	"testimpact/internal/logging"
	"testimpact/internal/types"
)

// CSharpParser extracts MethodNode/TypeDecl/RawCallSite facts from C#
// source using tree-sitter, following the teacher's
// TreeSitterParser.ParseGo/extractGoSymbols shape: one sitter.Parser,
// a recursive node walk keyed on n.Type(), ChildByFieldName lookups
// for named fields, and direct emission into the shared index rather
// than building an intermediate AST of our own.
type CSharpParser struct {
	parser *sitter.Parser
}

// NewCSharpParser creates a parser configured for the C# grammar.
func NewCSharpParser() *CSharpParser {
	p := sitter.NewParser()
	p.SetLanguage(csharp.GetLanguage())
	return &CSharpParser{parser: p}
}

// Close releases the underlying tree-sitter parser.
func (p *CSharpParser) Close() { p.parser.Close() }

// ParseFile parses a single C# file and emits its symbols into idx.
// Parse failures are recorded on idx and never propagate (spec §4.1).
func (p *CSharpParser) ParseFile(ctx context.Context, path string, content []byte, idx *SymbolIndex) {
	start := time.Now()
	tree, err := p.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		idx.RecordParseFailure(path, err)
		return
	}
	defer tree.Close()

	w := &walker{
		idx:     idx,
		path:    path,
		src:     content,
		nsStack: nil,
	}
	w.walkFile(tree.RootNode())

	logging.For(logging.CategoryWorkspace).Sugar().Debugf(
		"parsed %s in %v", path, time.Since(start))
}

type typeFrame struct {
	id      types.TypeId
	kind    string
}

type methodFrame struct {
	id types.MethodId
}

// walker carries per-file traversal state: the enclosing namespace and
// type stack (for building fully-qualified type names) and the
// enclosing method (so calls/lambdas inside it attribute back to it,
// per spec §4.2's "lambdas are inlined into their enclosing method").
type walker struct {
	idx     *SymbolIndex
	path    string
	src     []byte
	nsStack []string
	typeStack []typeFrame
	methodStack []methodFrame
}

func (w *walker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(w.src)
}

func (w *walker) currentNamespace() string {
	return strings.Join(w.nsStack, ".")
}

func (w *walker) currentType() (types.TypeId, bool) {
	if len(w.typeStack) == 0 {
		return "", false
	}
	return w.typeStack[len(w.typeStack)-1].id, true
}

func (w *walker) currentMethod() (types.MethodId, bool) {
	if len(w.methodStack) == 0 {
		return "", false
	}
	return w.methodStack[len(w.methodStack)-1].id, true
}

func (w *walker) walkFile(root *sitter.Node) {
	w.walkChildren(root)
}

func (w *walker) walkChildren(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.walkNode(n.NamedChild(i))
	}
}

func (w *walker) walkNode(n *sitter.Node) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "namespace_declaration", "file_scoped_namespace_declaration":
		name := w.text(n.ChildByFieldName("name"))
		w.nsStack = append(w.nsStack, name)
		w.walkChildren(n)
		w.nsStack = w.nsStack[:len(w.nsStack)-1]

	case "class_declaration", "struct_declaration", "record_declaration":
		w.walkTypeDecl(n, kindForNode(n.Type()))

	case "interface_declaration":
		w.walkTypeDecl(n, "interface")

	case "method_declaration":
		w.walkMethodDecl(n)

	case "constructor_declaration":
		w.walkConstructorDecl(n)

	case "field_declaration":
		w.walkFieldDecl(n)
		w.walkChildren(n)

	case "local_declaration_statement", "variable_declaration":
		w.walkLocalDecl(n)
		w.walkChildren(n)

	case "invocation_expression":
		w.walkInvocation(n)
		w.walkChildren(n)

	case "object_creation_expression":
		w.walkObjectCreation(n)
		w.walkChildren(n)

	case "assignment_expression":
		w.markAddressTakenExpr(n.ChildByFieldName("right"))
		w.walkChildren(n)

	default:
		w.walkChildren(n)
	}
}

func kindForNode(nodeType string) string {
	switch nodeType {
	case "class_declaration":
		return "class"
	case "struct_declaration":
		return "struct"
	case "record_declaration":
		return "record"
	}
	return "type"
}

func (w *walker) qualify(name string) types.TypeId {
	ns := w.currentNamespace()
	if len(w.typeStack) > 0 {
		// Nested type: qualify under the enclosing type's full name.
		return types.TypeId(fmt.Sprintf("%s+%s", w.typeStack[len(w.typeStack)-1].id, name))
	}
	if ns == "" {
		return types.TypeId(name)
	}
	return types.TypeId(ns + "." + name)
}

func (w *walker) walkTypeDecl(n *sitter.Node, kind string) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		w.walkChildren(n)
		return
	}
	name := w.text(nameNode)
	id := w.qualify(name)

	var bases []types.TypeId
	if baseList := n.ChildByFieldName("bases"); baseList != nil {
		for i := 0; i < int(baseList.NamedChildCount()); i++ {
			base := baseList.NamedChild(i)
			baseName := strings.TrimSpace(w.text(base))
			if baseName == "" {
				continue
			}
			bases = append(bases, types.TypeId(baseName))
		}
	}

	line, _ := n.StartPoint().Row, n.StartPoint().Column
	w.idx.AddType(TypeDecl{
		ID:        id,
		Kind:      kind,
		File:      w.path,
		Line:      uint32(line) + 1,
		BaseTypes: bases,
	})
	w.idx.AddTypeAttributes(id, w.attributeNames(n))
	for _, b := range bases {
		w.idx.RecordImplementation(b, id)
	}

	w.typeStack = append(w.typeStack, typeFrame{id: id, kind: kind})
	w.walkChildren(n)
	w.typeStack = w.typeStack[:len(w.typeStack)-1]
}

func (w *walker) paramTypes(paramList *sitter.Node) []string {
	if paramList == nil {
		return nil
	}
	var out []string
	for i := 0; i < int(paramList.NamedChildCount()); i++ {
		p := paramList.NamedChild(i)
		if p.Type() != "parameter" {
			continue
		}
		if t := p.ChildByFieldName("type"); t != nil {
			out = append(out, strings.TrimSpace(w.text(t)))
		} else {
			out = append(out, "?")
		}
	}
	return out
}

func (w *walker) attributeNames(n *sitter.Node) []string {
	var names []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() != "attribute_list" {
			continue
		}
		for j := 0; j < int(child.NamedChildCount()); j++ {
			attr := child.NamedChild(j)
			if attr.Type() != "attribute" {
				continue
			}
			if nameNode := attr.ChildByFieldName("name"); nameNode != nil {
				names = append(names, strings.TrimSpace(w.text(nameNode)))
			}
		}
	}
	return names
}

func hasModifier(n *sitter.Node, src []byte, keyword string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() == "modifier" && c.Content(src) == keyword {
			return true
		}
	}
	return false
}

func (w *walker) accessOf(n *sitter.Node) types.Access {
	switch {
	case hasModifier(n, w.src, "public"):
		return types.AccessPublic
	case hasModifier(n, w.src, "protected"):
		return types.AccessProtected
	case hasModifier(n, w.src, "internal"):
		return types.AccessInternal
	default:
		return types.AccessPrivate
	}
}

func (w *walker) walkMethodDecl(n *sitter.Node) {
	nameNode := n.ChildByFieldName("name")
	containingType, inType := w.currentType()
	if nameNode == nil || !inType {
		w.walkChildren(n)
		return
	}
	name := w.text(nameNode)
	paramList := n.ChildByFieldName("parameters")
	paramTypes := w.paramTypes(paramList)

	isExtension := false
	if paramList != nil && paramList.NamedChildCount() > 0 {
		first := paramList.NamedChild(0)
		if first.Type() == "parameter" {
			for i := 0; i < int(first.ChildCount()); i++ {
				if first.Child(i).Type() == "this" {
					isExtension = true
				}
			}
		}
	}

	var typeParams []string
	if tp := n.ChildByFieldName("type_parameters"); tp != nil {
		for i := 0; i < int(tp.NamedChildCount()); i++ {
			typeParams = append(typeParams, w.text(tp.NamedChild(i)))
		}
	}

	id := CanonicalMethodId(containingType, name, typeParams, paramTypes)
	node := types.MethodNode{
		ID:          id,
		DefinedIn:   w.path,
		Line:        uint32(n.StartPoint().Row) + 1,
		Access:      w.accessOf(n),
		IsAbstract:  hasModifier(n, w.src, "abstract"),
		IsVirtual:   hasModifier(n, w.src, "virtual"),
		IsOverride:  hasModifier(n, w.src, "override"),
		IsExtension: isExtension,
	}
	w.idx.AddMethod(node, containingType, name)
	w.idx.AddMethodAttributes(id, w.attributeNames(n))

	if isExtension && len(paramTypes) > 0 {
		w.idx.AddExtensionMethod(paramTypes[0], id)
	}

	w.methodStack = append(w.methodStack, methodFrame{id: id})
	w.walkChildren(n)
	w.methodStack = w.methodStack[:len(w.methodStack)-1]
}

func (w *walker) walkConstructorDecl(n *sitter.Node) {
	containingType, inType := w.currentType()
	if !inType {
		w.walkChildren(n)
		return
	}
	paramList := n.ChildByFieldName("parameters")
	paramTypes := w.paramTypes(paramList)
	id := CanonicalMethodId(containingType, ".ctor", nil, paramTypes)
	node := types.MethodNode{
		ID:        id,
		DefinedIn: w.path,
		Line:      uint32(n.StartPoint().Row) + 1,
		Access:    w.accessOf(n),
	}
	w.idx.AddMethod(node, containingType, ".ctor")
	w.idx.AddMethodAttributes(id, w.attributeNames(n))

	w.methodStack = append(w.methodStack, methodFrame{id: id})
	w.walkChildren(n)
	w.methodStack = w.methodStack[:len(w.methodStack)-1]
}

// walkFieldDecl records each field's declared type for later
// receiver-type inference in the call graph builder. Equivalent to the teacher's struct
// field extraction in extractGoSymbols, generalized to C#'s
// field_declaration { declaration: variable_declaration { type,
// variable_declarator... } } shape.
func (w *walker) walkFieldDecl(n *sitter.Node) {
	containingType, ok := w.currentType()
	if !ok {
		return
	}
	decl := n.ChildByFieldName("declaration")
	if decl == nil {
		return
	}
	typeText := strings.TrimSpace(w.text(decl.ChildByFieldName("type")))
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		child := decl.NamedChild(i)
		if child.Type() != "variable_declarator" {
			continue
		}
		name := w.text(child.ChildByFieldName("name"))
		if name != "" && typeText != "" {
			w.idx.AddFieldType(containingType, name, typeText)
		}
		w.markAddressTakenExpr(child.ChildByFieldName("value"))
	}
}

// walkLocalDecl records a local variable's declared type within the
// enclosing method for receiver-type inference. Declarations typed
// "var" are left unresolved (no static type is syntactically present).
func (w *walker) walkLocalDecl(n *sitter.Node) {
	method, ok := w.currentMethod()
	if !ok {
		return
	}
	decl := n
	if n.Type() == "local_declaration_statement" {
		if d := n.ChildByFieldName("declaration"); d != nil {
			decl = d
		}
	}
	typeText := strings.TrimSpace(w.text(decl.ChildByFieldName("type")))
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		child := decl.NamedChild(i)
		if child.Type() != "variable_declarator" {
			continue
		}
		w.markAddressTakenExpr(child.ChildByFieldName("value"))
		if typeText == "" || typeText == "var" {
			continue
		}
		name := w.text(child.ChildByFieldName("name"))
		if name != "" {
			w.idx.AddLocalVarType(method, name, typeText)
		}
	}
}

// markAddressTakenExpr marks expr's name on the index as address-taken
// when expr is a bare identifier or member access -- a method-group
// value, not a call -- the positive signal DelegateCandidates needs.
// An invocation_expression (the value is actually being called) is
// deliberately not a method-group use and is ignored here.
func (w *walker) markAddressTakenExpr(expr *sitter.Node) {
	if expr == nil {
		return
	}
	switch expr.Type() {
	case "identifier":
		w.idx.MarkAddressTaken(w.text(expr))
	case "member_access_expression":
		w.idx.MarkAddressTaken(w.text(expr.ChildByFieldName("name")))
	}
}

// markAddressTakenArgs marks every bare-name argument in an argument
// list, covering patterns like list.ForEach(Handle) or
// RegisterCallback(obj.OnDone).
func (w *walker) markAddressTakenArgs(args *sitter.Node) {
	if args == nil {
		return
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		expr := arg
		if arg.Type() == "argument" {
			if e := arg.ChildByFieldName("expression"); e != nil {
				expr = e
			} else if arg.NamedChildCount() > 0 {
				expr = arg.NamedChild(0)
			}
		}
		w.markAddressTakenExpr(expr)
	}
}

func (w *walker) siteAt(n *sitter.Node) types.CallSite {
	p := n.StartPoint()
	return types.CallSite{File: w.path, Line: int(p.Row) + 1, Col: int(p.Column) + 1}
}

func (w *walker) walkInvocation(n *sitter.Node) {
	from, ok := w.currentMethod()
	if !ok {
		return
	}
	fn := n.ChildByFieldName("function")
	args := n.ChildByFieldName("arguments")
	argCount := 0
	if args != nil {
		argCount = int(args.NamedChildCount())
	}

	var receiverExpr, calleeName string
	switch {
	case fn == nil:
		return
	case fn.Type() == "member_access_expression":
		receiverExpr = strings.TrimSpace(w.text(fn.ChildByFieldName("expression")))
		calleeName = w.text(fn.ChildByFieldName("name"))
	default:
		calleeName = w.text(fn)
	}
	if calleeName == "" {
		return
	}

	w.idx.AddRawCall(RawCallSite{
		From:         from,
		ReceiverExpr: receiverExpr,
		CalleeName:   calleeName,
		ArgCount:     argCount,
		Site:         w.siteAt(n),
	})
	w.markAddressTakenArgs(args)
}

func (w *walker) walkObjectCreation(n *sitter.Node) {
	from, ok := w.currentMethod()
	if !ok {
		return
	}
	typeNode := n.ChildByFieldName("type")
	if typeNode == nil {
		return
	}
	args := n.ChildByFieldName("arguments")
	argCount := 0
	if args != nil {
		argCount = int(args.NamedChildCount())
	}
	w.idx.AddRawCall(RawCallSite{
		From:         from,
		ReceiverExpr: w.text(typeNode),
		CalleeName:   ".ctor",
		ArgCount:     argCount,
		Site:         w.siteAt(n),
		IsNew:        true,
	})
	// Delegate construction, e.g. "new Action(Handle)": Handle's
	// address is taken even though the .ctor call itself isn't.
	w.markAddressTakenArgs(args)
}
