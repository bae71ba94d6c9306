// Package changeset turns an external diff description — either a
// caller-supplied structured list or unified diff text — into {file,
// change-kind, changed methods, changed types} records.
package changeset

import (
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"testimpact/internal/logging"
	"testimpact/internal/types"
	"testimpact/internal/workspace"
)

// StructuredChange is the caller-supplied shape for variant (a) of
// the change-set parser's input (spec §4.7).
type StructuredChange struct {
	File    string
	Kind    types.ChangeKind
	Methods []types.MethodId
	Types   []types.TypeId
}

// configExtensions is the allow-list that routes a changed file to a
// Configuration change kind regardless of diff content.
var configExtensions = map[string]bool{
	".json": true, ".xml": true, ".yml": true, ".yaml": true,
	".config": true, ".csproj": true, ".props": true, ".targets": true,
	".editorconfig": true, ".ini": true,
}

var hunkHeaderPattern = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)
var fileHeaderPattern = regexp.MustCompile(`^\+\+\+ (?:b/)?(.+)$`)
var oldFileHeaderPattern = regexp.MustCompile(`^--- (?:a/)?(.+)$`)

// declarationPatterns recognize C# declaration headers inside a
// hunk's added/removed lines (spec §4.7).
var (
	typeDeclPattern = regexp.MustCompile(`(?m)\b(?:class|interface|struct|record)\s+([A-Za-z_][A-Za-z0-9_]*)`)
	methodDeclPattern = regexp.MustCompile(`(?m)(?:public|private|protected|internal|static|virtual|override|async)\s+[\w<>\[\],\. ]+?\s+([A-Za-z_][A-Za-z0-9_]*)\s*\([^)]*\)\s*(?:\{|=>|;)?\s*$`)
	propertyDeclPattern = regexp.MustCompile(`(?m)(?:public|private|protected|internal)\s+[\w<>\[\],\. ]+?\s+([A-Za-z_][A-Za-z0-9_]*)\s*\{\s*get`)
)

// Parser is stateless and safe for concurrent use.
type Parser struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewParser returns a Parser.
func NewParser() *Parser {
	return &Parser{dmp: diffmatchpatch.New()}
}

// ParseStructured converts the caller-supplied list form (a) directly
// into a ChangeSet.
func (p *Parser) ParseStructured(changes []StructuredChange) types.ChangeSet {
	cs := types.ChangeSet{Changes: make([]types.CodeChange, 0, len(changes))}
	for _, c := range changes {
		kind := c.Kind
		if isConfigFile(c.File) {
			kind = types.ChangeConfiguration
		}
		cc := types.CodeChange{
			File:           c.File,
			Kind:           kind,
			ChangedMethods: toMethodSet(c.Methods),
			ChangedTypes:   toTypeSet(c.Types),
		}
		if kind == types.ChangeConfiguration {
			cc.ChangedMethods = map[types.MethodId]struct{}{}
			cc.ChangedTypes = map[types.TypeId]struct{}{}
		}
		cs.Changes = append(cs.Changes, cc)
	}
	return cs
}

// ParseUnifiedDiff converts unified diff text (form (b)) into a
// ChangeSet. It never returns an error (spec §4.7's "never throws on
// malformed diffs"): a file whose hunks cannot be parsed still yields
// a Modified record carrying whatever methods/types could be resolved,
// possibly none. A warning is logged only when non-empty diff text
// yields no file change at all.
//
// idx is the workspace's SymbolIndex, used to map a hunk's touched
// line numbers back to the canonical MethodId/TypeId that owns them
// (spec §2's MethodId grammar) rather than the bare identifier a
// declaration-header regex happens to capture — a touched line deep in
// a method body, or a signature line that is itself unchanged context,
// still resolves correctly this way. idx may be nil (e.g. parsing a
// diff with no workspace available); in that case declarations are
// approximated from the bare names the regexes capture, which is not
// a canonical MethodId and will not match the coverage index.
func (p *Parser) ParseUnifiedDiff(diffText string, idx *workspace.SymbolIndex) types.ChangeSet {
	log := logging.For(logging.CategoryChangeSet).Sugar()
	lines := strings.Split(diffText, "\n")

	var cs types.ChangeSet
	var currentFile string
	var currentOldFile string
	var hunkLines []string
	var touchedLines []int
	var deletedFile bool
	var inHunk bool
	var curNew int

	resetHunkState := func() {
		hunkLines = nil
		touchedLines = nil
		inHunk = false
	}

	flush := func() {
		if currentFile == "" && currentOldFile == "" {
			return
		}
		file := currentFile
		kind := types.ChangeModified
		if currentFile == "/dev/null" || deletedFile {
			file = currentOldFile
			kind = types.ChangeDeleted
		} else if currentOldFile == "/dev/null" {
			kind = types.ChangeAdded
		}

		if isConfigFile(file) {
			cs.Changes = append(cs.Changes, types.CodeChange{
				File: file, Kind: types.ChangeConfiguration,
				ChangedMethods: map[types.MethodId]struct{}{},
				ChangedTypes:   map[types.TypeId]struct{}{},
			})
			return
		}

		methods, typesFound, startLine, endLine := resolveDeclarations(idx, file, touchedLines, hunkLines)
		cs.Changes = append(cs.Changes, types.CodeChange{
			File: file, Kind: kind,
			ChangedMethods: methods, ChangedTypes: typesFound,
			StartLine: startLine, EndLine: endLine,
		})
	}

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "--- "):
			flush()
			resetHunkState()
			deletedFile = false
			if m := oldFileHeaderPattern.FindStringSubmatch(line); m != nil {
				currentOldFile = m[1]
			} else {
				currentOldFile = ""
			}
			currentFile = ""
		case strings.HasPrefix(line, "+++ "):
			if m := fileHeaderPattern.FindStringSubmatch(line); m != nil {
				currentFile = m[1]
			} else {
				currentFile = ""
			}
			if currentFile == "/dev/null" {
				deletedFile = true
			}
		case strings.HasPrefix(line, "diff --git"):
			flush()
			resetHunkState()
			currentFile, currentOldFile, deletedFile = "", "", false
		case hunkHeaderPattern.MatchString(line):
			m := hunkHeaderPattern.FindStringSubmatch(line)
			curNew, _ = strconv.Atoi(m[3])
			inHunk = true
		case strings.HasPrefix(line, "\\"):
			// "\ No newline at end of file": not a real line, doesn't
			// advance either cursor.
		case strings.HasPrefix(line, "+"):
			hunkLines = append(hunkLines, line)
			if inHunk {
				touchedLines = append(touchedLines, curNew)
				curNew++
			}
		case strings.HasPrefix(line, "-"):
			hunkLines = append(hunkLines, line)
			if inHunk {
				// The deleted line no longer exists in the new file;
				// curNew already points at its new-file neighbor,
				// which is close enough to resolve the owning
				// declaration.
				touchedLines = append(touchedLines, curNew)
			}
		default:
			// Context line: present in both file versions, advances
			// the new-file cursor without being a touched line itself.
			if inHunk {
				curNew++
			}
		}
	}
	flush()

	if len(cs.Changes) == 0 && strings.TrimSpace(diffText) != "" {
		log.Warnf("unable to recover any file changes from diff text (%d bytes)", len(diffText))
	}
	return cs
}

// resolveDeclarations maps a hunk's touched new-file line numbers to
// the canonical MethodId/TypeId values that own them, via the nearest
// declaration at or before each touched line in the same file. This
// finds the enclosing method/type whether or not the hunk's text
// itself contains a declaration header (spec §2's MethodId grammar;
// a bare regex-captured identifier like "Add" is never a valid id).
func resolveDeclarations(idx *workspace.SymbolIndex, file string, touchedLines []int, hunkLines []string) (map[types.MethodId]struct{}, map[types.TypeId]struct{}, int, int) {
	methods := make(map[types.MethodId]struct{})
	typesFound := make(map[types.TypeId]struct{})

	minLine, maxLine := -1, -1
	for _, ln := range touchedLines {
		if minLine == -1 || ln < minLine {
			minLine = ln
		}
		if ln > maxLine {
			maxLine = ln
		}
	}
	if minLine == -1 {
		minLine, maxLine = 0, 0
	}

	if idx == nil {
		resolveDeclarationsByRegex(hunkLines, methods, typesFound)
		return methods, typesFound, minLine, maxLine
	}

	sortedMethods := methodsInFile(idx, file)
	sortedTypes := typesInFile(idx, file)
	for _, ln := range touchedLines {
		if id, ok := nearestMethod(sortedMethods, ln); ok {
			methods[id] = struct{}{}
		}
		if id, ok := nearestType(sortedTypes, ln); ok {
			typesFound[id] = struct{}{}
		}
	}

	// A pure file-level add/delete or a hunk whose context never
	// resolved against the index (e.g. a brand-new file not yet
	// parsed) still benefits from the regex fallback.
	if len(methods) == 0 && len(typesFound) == 0 {
		resolveDeclarationsByRegex(hunkLines, methods, typesFound)
	}

	return methods, typesFound, minLine, maxLine
}

// resolveDeclarationsByRegex is the no-index fallback: it stores the
// bare identifier a declaration-header regex captures. Those values
// are not canonical MethodIds/TypeIds and will not match a coverage
// index keyed by the real grammar; this only preserves some signal
// when no SymbolIndex is available at all.
func resolveDeclarationsByRegex(hunkLines []string, methods map[types.MethodId]struct{}, typesFound map[types.TypeId]struct{}) {
	for _, raw := range hunkLines {
		line := strings.TrimPrefix(strings.TrimPrefix(raw, "+"), "-")
		if m := typeDeclPattern.FindStringSubmatch(line); m != nil {
			typesFound[types.TypeId(m[1])] = struct{}{}
		}
		if m := methodDeclPattern.FindStringSubmatch(line); m != nil {
			methods[types.MethodId(m[1])] = struct{}{}
		}
		if m := propertyDeclPattern.FindStringSubmatch(line); m != nil {
			methods[types.MethodId(m[1])] = struct{}{}
		}
	}
}

// methodsInFile returns idx's MethodNodes declared in file, sorted by
// line, matching on path suffix (diff text carries repo-relative
// paths; the workspace indexes absolute ones), case-insensitively and
// slash-normalized the way source_provider.go already does.
func methodsInFile(idx *workspace.SymbolIndex, file string) []types.MethodNode {
	target := normalizedPath(file)
	var out []types.MethodNode
	for _, m := range idx.AllMethods() {
		if strings.HasSuffix(normalizedPath(m.DefinedIn), target) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out
}

func typesInFile(idx *workspace.SymbolIndex, file string) []workspace.TypeDecl {
	target := normalizedPath(file)
	var out []workspace.TypeDecl
	for _, t := range idx.AllTypes() {
		if strings.HasSuffix(normalizedPath(t.File), target) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out
}

func normalizedPath(p string) string {
	return strings.ToLower(filepath.ToSlash(p))
}

// nearestMethod returns the last method (by declaration line) at or
// before touchedLine, the method whose body most plausibly contains
// it.
func nearestMethod(sorted []types.MethodNode, touchedLine int) (types.MethodId, bool) {
	var best *types.MethodNode
	for i := range sorted {
		if int(sorted[i].Line) > touchedLine {
			break
		}
		best = &sorted[i]
	}
	if best == nil {
		return "", false
	}
	return best.ID, true
}

func nearestType(sorted []workspace.TypeDecl, touchedLine int) (types.TypeId, bool) {
	var best *workspace.TypeDecl
	for i := range sorted {
		if int(sorted[i].Line) > touchedLine {
			break
		}
		best = &sorted[i]
	}
	if best == nil {
		return "", false
	}
	return best.ID, true
}

func isConfigFile(file string) bool {
	lower := strings.ToLower(file)
	for ext := range configExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func toMethodSet(ids []types.MethodId) map[types.MethodId]struct{} {
	out := make(map[types.MethodId]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func toTypeSet(ids []types.TypeId) map[types.TypeId]struct{} {
	out := make(map[types.TypeId]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

// WordDiff returns diffmatchpatch's character-level diff of two
// declaration-header lines. Nothing in the change-set pipeline or the
// CLI calls it.
func (p *Parser) WordDiff(oldLine, newLine string) []diffmatchpatch.Diff {
	return p.dmp.DiffMain(oldLine, newLine, false)
}
