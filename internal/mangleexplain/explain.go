package mangleexplain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"testimpact/internal/types"
)

// rules is the fixed program evaluated against whatever facts Load
// asserts. reaches/2 is pure call-graph transitive closure; explain_path/4
// is a direct re-export of the coverage facts under a query-facing name,
// kept separate from coverage/4 so future rules can layer on top of one
// without the other changing shape.
const rules = `
reaches(From, To) :- call_edge(From, To, _, _).
reaches(From, To) :- call_edge(From, Mid, _, _), reaches(Mid, To).

explain_path(Test, Method, PathJSON, Conf) :- coverage(Test, Method, PathJSON, Conf).
`

// derivedFactLimit caps fixpoint evaluation so a pathological call
// graph (deep recursion, wide fan-out) can't run away; the engine's
// own bounded searches already cap per-query work, this is a
// backstop for the Datalog evaluator specifically.
const derivedFactLimit = 200000

// Store is the queryable fact base: the call graph and coverage
// index loaded as Mangle EDB rows, evaluated to fixpoint against the
// rules above.
type Store struct {
	mu          sync.RWMutex
	programInfo *analysis.ProgramInfo
	store       factstore.FactStore
}

// NewStore parses and analyzes the rule program once. Load may be
// called repeatedly afterward against fresh fact sets as the
// workspace re-analyzes (spec §5); the rule program itself never
// changes, so there is no reason to re-parse it per Load.
func NewStore() (*Store, error) {
	parsed, err := parse.Unit(strings.NewReader(rules))
	if err != nil {
		return nil, types.NewInternal("mangleexplain", "mangle-rules-parse", err.Error())
	}
	info, err := analysis.AnalyzeOneUnit(parsed, nil)
	if err != nil {
		return nil, types.NewInternal("mangleexplain", "mangle-rules-analyze", err.Error())
	}
	return &Store{programInfo: info}, nil
}

// Load asserts facts into a fresh in-memory store and evaluates to
// fixpoint, replacing whatever the previous Load produced.
func (s *Store) Load(ctx context.Context, facts []Fact) error {
	select {
	case <-ctx.Done():
		return types.NewCancelled("mangleexplain.Store.Load")
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	store := factstore.NewSimpleInMemoryStore()
	for _, f := range facts {
		atom, err := f.ToAtom()
		if err != nil {
			return types.NewInternal("mangleexplain", "fact-conversion", err.Error())
		}
		store.Add(atom)
	}

	if _, err := engine.EvalProgramWithStats(s.programInfo, store, engine.WithCreatedFactLimit(derivedFactLimit)); err != nil {
		return types.NewInternal("mangleexplain", "fixpoint-evaluation", err.Error())
	}
	s.store = store
	return nil
}

// Explain answers "which paths make testId cover methodId", decoded
// back into the engine's own CoveragePath shape.
func (s *Store) Explain(testId, methodId types.MethodId) ([]types.CoveragePath, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.store == nil {
		return nil, types.NewInvalidInput("mangleexplain", "Explain called before Load")
	}

	pred := findPredicate(s.programInfo, "explain_path", 4)
	if pred == nil {
		return nil, types.NewInternal("mangleexplain", "missing-predicate", "explain_path/4 not declared")
	}

	var out []types.CoveragePath
	err := s.store.GetFacts(ast.NewQuery(*pred), func(a ast.Atom) error {
		if len(a.Args) != 4 {
			return nil
		}
		test, ok1 := constString(a.Args[0])
		method, ok2 := constString(a.Args[1])
		pathJSON, ok3 := constString(a.Args[2])
		conf, ok4 := constFloat(a.Args[3])
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return nil
		}
		if types.MethodId(test) != testId || types.MethodId(method) != methodId {
			return nil
		}
		nodes, err := decodePathNodes(pathJSON)
		if err != nil {
			return nil
		}
		out = append(out, types.CoveragePath{Nodes: nodes, PathConfidence: conf})
		return nil
	})
	if err != nil {
		return nil, types.NewInternal("mangleexplain", "query-evaluation", err.Error())
	}
	return out, nil
}

// Reaches reports whether call_edge facts connect from to to by any
// number of hops, independent of any test's coverage — useful for
// explaining "why is this callable at all" separately from "which
// test proves it".
func (s *Store) Reaches(from, to types.MethodId) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.store == nil {
		return false, types.NewInvalidInput("mangleexplain", "Reaches called before Load")
	}
	pred := findPredicate(s.programInfo, "reaches", 2)
	if pred == nil {
		return false, types.NewInternal("mangleexplain", "missing-predicate", "reaches/2 not declared")
	}

	found := false
	err := s.store.GetFacts(ast.NewQuery(*pred), func(a ast.Atom) error {
		if len(a.Args) != 2 {
			return nil
		}
		f, ok1 := constString(a.Args[0])
		t, ok2 := constString(a.Args[1])
		if ok1 && ok2 && types.MethodId(f) == from && types.MethodId(t) == to {
			found = true
		}
		return nil
	})
	if err != nil {
		return false, types.NewInternal("mangleexplain", "query-evaluation", err.Error())
	}
	return found, nil
}

func findPredicate(info *analysis.ProgramInfo, name string, arity int) *ast.PredicateSym {
	for pred := range info.Decls {
		if pred.Symbol == name && pred.Arity == arity {
			p := pred
			return &p
		}
	}
	return nil
}

func constString(t ast.BaseTerm) (string, bool) {
	c, ok := t.(ast.Constant)
	if !ok || c.Type != ast.StringType {
		return "", false
	}
	return c.Symbol, true
}

func constFloat(t ast.BaseTerm) (float64, bool) {
	c, ok := t.(ast.Constant)
	if !ok || c.Type != ast.Float64Type {
		return 0, false
	}
	return c.Float64Value, true
}

func decodePathNodes(pathJSON string) ([]types.MethodId, error) {
	var raw []string
	if err := json.Unmarshal([]byte(pathJSON), &raw); err != nil {
		return nil, fmt.Errorf("mangleexplain: decode path nodes: %w", err)
	}
	out := make([]types.MethodId, len(raw))
	for i, s := range raw {
		out[i] = types.MethodId(s)
	}
	return out, nil
}
