package workspace

import (
	"os"
	"path/filepath"
	"strings"
)

// ProjectKind distinguishes a .csproj's declared SDK/output type, used
// only for reporting; the engine treats every project uniformly.
type ProjectKind string

const (
	ProjectKindExe       ProjectKind = "exe"
	ProjectKindLibrary   ProjectKind = "library"
	ProjectKindTest      ProjectKind = "test"
	ProjectKindUnknown   ProjectKind = "unknown"
)

// SourceFile is one file handed out by a SourceProvider.
type SourceFile struct {
	Path        string
	Text        []byte
	ProjectKind ProjectKind
}

// SourceProvider supplies {file, text, projectKind} triples without
// the engine knowing which build tool or IDE produced them (spec §9:
// "the engine never knows which runtime produced the files"). The
// only shipped implementation walks the filesystem directly; a CI
// system could supply one backed by an in-memory checkout instead.
type SourceProvider interface {
	// Projects returns every project file (.csproj) under the root,
	// skipping excluded globs. Used so lazy initialize() can scale
	// with project count rather than file count (spec §4.1).
	Projects(root string) ([]string, error)

	// FilesOf returns every source file belonging to a project.
	FilesOf(project string) ([]string, error)

	// Read loads a single file's contents.
	Read(path string) (SourceFile, error)
}

var defaultExcludeDirs = map[string]bool{
	"bin": true, "obj": true, ".git": true, ".vs": true,
	"node_modules": true, "packages": true,
}

// FileSystemSourceProvider walks a directory tree for .csproj and .cs
// files (.sln files are not read), excluding build-artifact directories and any caller-supplied
// glob exclude patterns (spec §6 projects.exclude).
type FileSystemSourceProvider struct {
	ExcludeGlobs []string
}

// NewFileSystemSourceProvider constructs the default, filesystem-backed
// source provider.
func NewFileSystemSourceProvider(excludeGlobs []string) *FileSystemSourceProvider {
	return &FileSystemSourceProvider{ExcludeGlobs: excludeGlobs}
}

func (p *FileSystemSourceProvider) excluded(path string) bool {
	base := filepath.Base(path)
	if defaultExcludeDirs[base] {
		return true
	}
	for _, g := range p.ExcludeGlobs {
		if ok, _ := filepath.Match(g, base); ok {
			return true
		}
		if ok, _ := filepath.Match(g, path); ok {
			return true
		}
	}
	return false
}

// Projects walks root for .csproj files.
func (p *FileSystemSourceProvider) Projects(root string) ([]string, error) {
	var projects []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p.excluded(path) && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".csproj") {
			projects = append(projects, path)
		}
		return nil
	})
	return projects, err
}

// FilesOf walks the directory containing a .csproj for .cs files.
// This engine does not parse MSBuild item globs; every .cs file under
// the project directory (minus excludes) is considered to belong to
// it, matching how the teacher's world scanner treats a package
// directory as the unit of file membership.
func (p *FileSystemSourceProvider) FilesOf(project string) ([]string, error) {
	dir := filepath.Dir(project)
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p.excluded(path) && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".cs") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// Read loads a file's contents and infers its ProjectKind from its
// path (test-project detection mirrors the classifier's secondary-rule path
// tokens so the two stay consistent).
func (p *FileSystemSourceProvider) Read(path string) (SourceFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SourceFile{}, err
	}
	kind := ProjectKindLibrary
	if IsTestProjectPath(path) {
		kind = ProjectKindTest
	}
	return SourceFile{Path: path, Text: data, ProjectKind: kind}, nil
}

// IsTestProjectPath reports whether path lies inside what spec §4.3
// calls a "test project" (path contains /test/, /tests/, .test., or
// .tests., case-insensitively).
func IsTestProjectPath(path string) bool {
	lower := strings.ToLower(filepath.ToSlash(path))
	for _, token := range []string{"/test/", "/tests/", ".test.", ".tests."} {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
