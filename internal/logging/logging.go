// Package logging provides categorized structured logging for the
// impact engine. Every subsystem (workspace, call graph, classifier,
// coverage, data-dependency, change-set, scorer, planner, engine, cli)
// gets its own named child logger so a single log stream can be
// filtered per component, the way the teacher's per-category log
// files separated "world", "kernel", and "shards" output.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names one engine subsystem's log stream.
type Category string

const (
	CategoryWorkspace  Category = "workspace"
	CategoryCallGraph  Category = "callgraph"
	CategoryClassifier Category = "classifier"
	CategoryCoverage   Category = "coverage"
	CategoryDataDep    Category = "datadep"
	CategoryChangeSet  Category = "changeset"
	CategoryScorer     Category = "scorer"
	CategoryPlanner    Category = "planner"
	CategoryEngine     Category = "engine"
	CategoryCLI        Category = "cli"
	CategoryExplain    Category = "explain"
	CategoryHistory    Category = "history"
)

var (
	mu      sync.RWMutex
	root    *zap.Logger = zap.NewNop()
	cache             = make(map[Category]*zap.Logger)
)

// Configure installs the root zap logger every category logger derives
// from. Call once at process startup (CLI main or HTTP façade init).
func Configure(verbose bool) {
	mu.Lock()
	defer mu.Unlock()

	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	root = l
	cache = make(map[Category]*zap.Logger)
}

// For returns (creating if needed) the child logger for a category.
func For(cat Category) *zap.Logger {
	mu.RLock()
	if l, ok := cache[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := cache[cat]; ok {
		return l
	}
	l := root.With(zap.String("component", string(cat)))
	cache[cat] = l
	return l
}

// Sync flushes all buffered log entries; call before process exit.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
