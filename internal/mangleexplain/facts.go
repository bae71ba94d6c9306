// Package mangleexplain is the declarative explain surface: it
// asserts the call graph and coverage index as Datalog facts
// over github.com/google/mangle and answers "why does this test cover
// this method" queries by rule evaluation rather than by re-walking Go
// data structures. It is strictly additive: nothing here changes what
// the rest of the engine computes, only how a caller can ask about it afterward.
package mangleexplain

import (
	"encoding/json"
	"fmt"

	"github.com/google/mangle/ast"

	"testimpact/internal/callgraph"
	"testimpact/internal/coverage"
	"testimpact/internal/types"
)

// Fact is one ground atom destined for the fact store. Args elements
// must be string, float64, or int; ToAtom rejects anything else rather
// than guessing a conversion.
type Fact struct {
	Predicate string
	Args      []interface{}
}

// ToAtom converts f into a Mangle AST atom for direct store insertion,
// mirroring how the rest of the ecosystem bridges Go values into the
// Mangle engine's term representation.
func (f Fact) ToAtom() (ast.Atom, error) {
	terms := make([]ast.BaseTerm, 0, len(f.Args))
	for _, arg := range f.Args {
		switch v := arg.(type) {
		case string:
			terms = append(terms, ast.String(v))
		case float64:
			terms = append(terms, ast.Float64(v))
		case int:
			terms = append(terms, ast.Number(int64(v)))
		default:
			return ast.Atom{}, fmt.Errorf("mangleexplain: unsupported fact argument type %T for %s", arg, f.Predicate)
		}
	}
	return ast.NewAtom(f.Predicate, terms...), nil
}

// CallEdgeFacts asserts one call_edge(From, To, Kind, Conf) fact per
// distinct (from, to, kind) edge in graph, grounding the call graph's resolved
// call sites as EDB rows the rule program can join over.
func CallEdgeFacts(graph *callgraph.Graph) []Fact {
	var facts []Fact
	seen := make(map[string]struct{})
	for _, m := range graph.Nodes() {
		for _, e := range graph.Successors(m) {
			key := string(e.From) + "\x00" + string(e.To) + "\x00" + string(e.Kind)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			conf := types.EdgeConfidence(e.Kind, e.ResolvedConcrete, coverage.IsMockNamespace(e.To))
			facts = append(facts, Fact{Predicate: "call_edge", Args: []interface{}{
				string(e.From), string(e.To), string(e.Kind), conf,
			}})
		}
	}
	return facts
}

// CoverageFacts asserts one coverage(Test, Method, PathJSON, Conf)
// fact per CoverageEntry recorded for a method, one row per winning
// (test, method) path. PathJSON is the JSON encoding of the path's
// ordered MethodId nodes, round-tripped by decodePathNodes in explain.go.
func CoverageFacts(cov *coverage.Index, methods []types.MethodId) []Fact {
	var facts []Fact
	for _, m := range methods {
		for _, entry := range cov.TestsCovering(m) {
			nodes := make([]string, len(entry.Path.Nodes))
			for i, n := range entry.Path.Nodes {
				nodes[i] = string(n)
			}
			pathJSON, err := json.Marshal(nodes)
			if err != nil {
				continue
			}
			facts = append(facts, Fact{Predicate: "coverage", Args: []interface{}{
				string(entry.Test.ID), string(m), string(pathJSON), entry.PathConfidence,
			}})
		}
	}
	return facts
}
