// Package datadep inspects a test's reachable methods for shared
// external-resource usage and emits pairwise conflict edges the
// planner uses to keep unsafe tests out of the same parallel batch.
package datadep

import (
	"fmt"
	"regexp"
	"strings"

	"testimpact/internal/types"
	"testimpact/internal/workspace"
)

// Detector inspects one method's declarations and call sites for
// external-resource usage. At least two are shipped (spec §4.6): an
// ORM-context detector and a filesystem detector. Detectors never
// panic; a Detector that cannot classify a method returns nil.
type Detector interface {
	Detect(idx *workspace.SymbolIndex, method types.MethodId, calls []workspace.RawCallSite) []types.DataDependency
}

// ORMContextDetector recognizes fields/locals whose declared type
// derives from a known database-context base type, and captures
// entity names from DbSet<T>-style generic uses.
type ORMContextDetector struct{}

var dbSetPattern = regexp.MustCompile(`(?i)DbSet<([^>]+)>`)

func (ORMContextDetector) Detect(idx *workspace.SymbolIndex, method types.MethodId, _ []workspace.RawCallSite) []types.DataDependency {
	containingType, ok := idx.ContainingType(method)
	if !ok {
		return nil
	}

	var dep *types.DataDependency
	ensureDep := func() *types.DataDependency {
		if dep == nil {
			dep = &types.DataDependency{
				Test: method, Kind: types.DepDatabase,
				Resource: fmt.Sprintf("ctx:%s", containingType),
				Access:   types.AccessReadWrite,
				Entities: make(map[string]struct{}),
			}
		}
		return dep
	}

	for _, fieldType := range idx.FieldsOf(containingType) {
		if isDbContextDerived(idx, fieldType) {
			ensureDep()
		}
		if m := dbSetPattern.FindStringSubmatch(fieldType); m != nil {
			ensureDep().Entities[m[1]] = struct{}{}
		}
	}
	for _, varType := range idx.LocalVarsOf(method) {
		if isDbContextDerived(idx, varType) {
			ensureDep()
		}
		if m := dbSetPattern.FindStringSubmatch(varType); m != nil {
			ensureDep().Entities[m[1]] = struct{}{}
		}
	}

	if dep == nil {
		return nil
	}
	return []types.DataDependency{*dep}
}

// isDbContextDerived checks typeName itself, then (one level of) its
// known base types, for a "DbContext"-style marker. Best-effort: the
// index only knows in-workspace base-type declarations.
func isDbContextDerived(idx *workspace.SymbolIndex, typeName string) bool {
	clean := strings.TrimSuffix(strings.TrimSpace(typeName), "?")
	if strings.Contains(strings.ToLower(clean), "dbcontext") {
		return true
	}
	decl, ok := idx.Type(types.TypeId(clean))
	if !ok {
		return false
	}
	for _, base := range decl.BaseTypes {
		if strings.Contains(strings.ToLower(string(base)), "dbcontext") {
			return true
		}
	}
	return false
}

// fsReadPattern/fsWritePattern classify filesystem-API call names by
// their access mode (spec §4.6: "access deduced from the API name").
var fsReadPattern = regexp.MustCompile(`(?i)^(Read|Exists|Open|Load|Enumerate)`)
var fsWritePattern = regexp.MustCompile(`(?i)^(Write|Append|Create|Delete|Move|Copy|Save)`)
var fsTypeMarkers = []string{"system.io.file", "system.io.directory", "system.io.path", "file", "directory"}

// FileSystemDetector recognizes calls against System.IO-style APIs,
// classified by call-name prefix into Read/Write/ReadWrite access.
type FileSystemDetector struct{}

func (FileSystemDetector) Detect(_ *workspace.SymbolIndex, method types.MethodId, calls []workspace.RawCallSite) []types.DataDependency {
	var deps []types.DataDependency
	for _, call := range calls {
		if !looksLikeFilesystemAPI(call) {
			continue
		}
		access := classifyFSAccess(call.CalleeName)
		deps = append(deps, types.DataDependency{
			Test:     method,
			Kind:     types.DepFileSystem,
			Resource: fmt.Sprintf("fs:%s.%s", call.ReceiverExpr, call.CalleeName),
			Access:   access,
			Entities: map[string]struct{}{call.CalleeName: {}},
		})
	}
	return deps
}

func looksLikeFilesystemAPI(call workspace.RawCallSite) bool {
	receiver := strings.ToLower(call.ReceiverExpr)
	for _, marker := range fsTypeMarkers {
		if receiver == marker || strings.HasSuffix(receiver, "."+marker) {
			return fsReadPattern.MatchString(call.CalleeName) || fsWritePattern.MatchString(call.CalleeName)
		}
	}
	return false
}

func classifyFSAccess(calleeName string) types.AccessMode {
	isRead := fsReadPattern.MatchString(calleeName)
	isWrite := fsWritePattern.MatchString(calleeName)
	switch {
	case isRead && isWrite:
		return types.AccessReadWrite
	case isWrite:
		return types.AccessWrite
	default:
		return types.AccessRead
	}
}
