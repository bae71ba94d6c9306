package workspace

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/csharp"
	"golang.org/x/sync/errgroup"

	"testimpact/internal/logging"
	"testimpact/internal/types"
)

// Mode selects how Initialize populates the workspace (spec §4.1).
type Mode string

const (
	// ModeBulk parses every source file before Initialize returns.
	ModeBulk Mode = "bulk"
	// ModeLazy defers per-file parsing until first access; Initialize
	// returns in time proportional to project count, not file count.
	ModeLazy Mode = "lazy"
)

// SemanticModel is a minimal per-file view: every method declared in
// that file, as resolved by the symbol index. The full engine does
// not expose a richer semantic model than MethodId-keyed facts need.
type SemanticModel struct {
	File    string
	Methods []types.MethodNode
}

// Manager owns the set of parsed source files, hands out
// per-file views on demand, and supports lazy/bulk initialization
// modes. Manager is the "explicit engine handle" spec §9 calls for —
// no process-wide singletons; every caller gets its own Manager.
type Manager struct {
	mu       sync.RWMutex
	provider SourceProvider
	index    *SymbolIndex

	root          string
	mode          Mode
	maxParallel   int
	projects      []string
	fileToProject map[string]string
	parsedFiles   map[string]bool
	disposed      bool
}

// New constructs a Manager. Call Initialize before any other method.
func New(provider SourceProvider, maxParallelism int) *Manager {
	if maxParallelism <= 0 {
		maxParallelism = runtime.NumCPU()
	}
	return &Manager{
		provider:      provider,
		index:         NewSymbolIndex(),
		maxParallel:   maxParallelism,
		fileToProject: make(map[string]string),
		parsedFiles:   make(map[string]bool),
	}
}

// Initialize parses the solution per mode. In ModeBulk every file is
// parsed before returning; in ModeLazy only the project/file topology
// is discovered and Initialize's cost is proportional to project
// count (spec §4.1).
func (m *Manager) Initialize(ctx context.Context, root string, mode Mode) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return types.NewDisposed("workspace.Manager.Initialize")
	}
	m.root = root
	m.mode = mode
	m.mu.Unlock()

	projects, err := m.provider.Projects(root)
	if err != nil {
		return types.NewInvalidInput("workspace.Manager.Initialize", fmt.Sprintf("cannot read solution root %s: %v", root, err))
	}

	m.mu.Lock()
	m.projects = projects
	m.mu.Unlock()

	var allFiles []string
	for _, proj := range projects {
		files, err := m.provider.FilesOf(proj)
		if err != nil {
			// A single unreadable project is not fatal; a wholly
			// unreadable solution root already failed above.
			logging.For(logging.CategoryWorkspace).Sugar().Warnf("project %s unreadable: %v", proj, err)
			continue
		}
		m.mu.Lock()
		for _, f := range files {
			m.fileToProject[f] = proj
		}
		m.mu.Unlock()
		allFiles = append(allFiles, files...)
	}

	if mode == ModeLazy {
		return nil
	}
	return m.parseFiles(ctx, allFiles)
}

// parseFiles parses the given files through a bounded worker pool
// (spec §5: fan out read-heavy phases to min(CPUs, configuredMax)).
func (m *Manager) parseFiles(ctx context.Context, files []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxParallel)

	for _, f := range files {
		f := f
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return types.NewCancelled("workspace.Manager.parseFiles")
			default:
			}
			m.parseOne(gctx, f)
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) parseOne(ctx context.Context, path string) {
	src, err := m.provider.Read(path)
	if err != nil {
		m.index.RecordParseFailure(path, err)
		return
	}
	parser := NewCSharpParser()
	defer parser.Close()
	parser.ParseFile(ctx, path, src.Text, m.index)

	m.mu.Lock()
	m.parsedFiles[path] = true
	m.mu.Unlock()
}

// SemanticModelFor returns the methods declared in file, parsing it
// on demand in lazy mode if not already parsed.
func (m *Manager) SemanticModelFor(ctx context.Context, file string) (SemanticModel, error) {
	m.mu.RLock()
	disposed := m.disposed
	parsed := m.parsedFiles[file]
	m.mu.RUnlock()
	if disposed {
		return SemanticModel{}, types.NewDisposed("workspace.Manager.SemanticModelFor")
	}
	if !parsed {
		m.parseOne(ctx, file)
	}

	var methods []types.MethodNode
	for _, mn := range m.index.AllMethods() {
		if mn.DefinedIn == file {
			methods = append(methods, mn)
		}
	}
	return SemanticModel{File: file, Methods: methods}, nil
}

// SyntaxTreeFor re-parses file and returns its raw tree-sitter tree.
// The caller owns the returned tree and must call tree.Close().
func (m *Manager) SyntaxTreeFor(ctx context.Context, file string) (*sitter.Tree, error) {
	m.mu.RLock()
	disposed := m.disposed
	m.mu.RUnlock()
	if disposed {
		return nil, types.NewDisposed("workspace.Manager.SyntaxTreeFor")
	}
	src, err := m.provider.Read(file)
	if err != nil {
		return nil, types.NewParseFailure("workspace.Manager.SyntaxTreeFor", file, err)
	}
	p := sitter.NewParser()
	p.SetLanguage(csharp.GetLanguage())
	defer p.Close()
	tree, err := p.ParseCtx(ctx, nil, src.Text)
	if err != nil {
		return nil, types.NewParseFailure("workspace.Manager.SyntaxTreeFor", file, err)
	}
	return tree, nil
}

// ProjectsOf returns every project discovered under root.
func (m *Manager) ProjectsOf(root string) ([]string, error) {
	return m.provider.Projects(root)
}

// Index exposes the underlying SymbolIndex for downstream stages to query. It
// remains read-only-safe for queries after construction (spec §5).
func (m *Manager) Index() *SymbolIndex { return m.index }

// Files returns every file discovered during Initialize.
func (m *Manager) Files() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.fileToProject))
	for f := range m.fileToProject {
		out = append(out, f)
	}
	return out
}

// Dispose invalidates the workspace handle. Subsequent use fails with
// Disposed (spec §5).
func (m *Manager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disposed = true
}

// Disposed reports whether Dispose has been called.
func (m *Manager) Disposed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.disposed
}
