// Package scorer combines a change-set, the coverage
// index, and a test's runtime history into a single impact score in
// [0,1].
package scorer

import (
	"strings"
	"time"

	"testimpact/internal/coverage"
	"testimpact/internal/types"
)

// categoryDurationBudgets gives the "cost" signal's per-category
// reference duration (spec §4.8 names the formula but not concrete
// budgets; these defaults favor fast categories the way the spec's
// weight table itself favors a direct unit test). Overridable by
// callers via WithCategoryBudgets.
var categoryDurationBudgets = map[types.TestCategory]time.Duration{
	types.CategoryUnit:        2 * time.Second,
	types.CategoryAPI:         5 * time.Second,
	types.CategoryDatabase:    8 * time.Second,
	types.CategorySecurity:    10 * time.Second,
	types.CategoryIntegration: 15 * time.Second,
	types.CategoryUI:          30 * time.Second,
	types.CategoryE2E:         60 * time.Second,
	types.CategoryPerformance: 120 * time.Second,
}

// categoryPriorRule is one row of the §4.8 category-prior table.
type categoryPriorRule struct {
	category types.TestCategory
	tokens   []string
	bonus    float64
}

var categoryPriorTable = []categoryPriorRule{
	{types.CategoryDatabase, []string{"repository", "dbcontext", "migration", "entity"}, 0.70},
	{types.CategoryAPI, []string{"controller", "endpoint", "route"}, 0.80},
	{types.CategorySecurity, []string{"auth", "security", "credential", "token", "permission"}, 0.90},
}

const (
	weightImpact     = 0.40
	weightHistorical = 0.25
	weightCost       = 0.20
	weightCategory   = 0.15

	configurationCategoryBonus = 0.40
)

// Scorer scores tests against a change-set. ContainingTypeOf resolves a MethodId to its declaring
// TypeId, used to check changed-type membership for the impact signal.
type Scorer struct {
	cov             *coverage.Index
	containingTypeOf func(types.MethodId) types.TypeId
	budgets         map[types.TestCategory]time.Duration
}

// New returns a Scorer reading coverage data from cov.
func New(cov *coverage.Index, containingTypeOf func(types.MethodId) types.TypeId) *Scorer {
	return &Scorer{cov: cov, containingTypeOf: containingTypeOf, budgets: categoryDurationBudgets}
}

// WithCategoryBudgets overrides the cost signal's reference durations.
func (s *Scorer) WithCategoryBudgets(budgets map[types.TestCategory]time.Duration) *Scorer {
	s.budgets = budgets
	return s
}

// Score computes test's score ∈ [0,1] against changeSet (spec §4.8).
func (s *Scorer) Score(test types.TestInfo, changeSet types.ChangeSet) float64 {
	impact := s.impactSignal(test, changeSet)
	historical := historicalSignal(test)
	cost := s.costSignal(test)
	category := s.categorySignal(test, changeSet)

	total := weightImpact*impact + weightHistorical*historical + weightCost*cost + weightCategory*category
	return clamp01(total)
}

// impactSignal is the max path confidence from this test to any
// changed method/type, plus the 0.1 direct-unit-test boost.
func (s *Scorer) impactSignal(test types.TestInfo, changeSet types.ChangeSet) float64 {
	changedMethods, changedTypes := flattenChanges(changeSet)
	if len(changedMethods) == 0 && len(changedTypes) == 0 {
		return 0
	}

	var best float64
	var bestIsDirect bool
	for method := range changedMethods {
		for _, entry := range s.cov.TestsCovering(method) {
			if entry.Test.ID != test.Entry.ID {
				continue
			}
			if entry.PathConfidence > best {
				best = entry.PathConfidence
				bestIsDirect = len(entry.Path.Nodes) == 2
			}
		}
	}

	if len(changedTypes) > 0 && s.containingTypeOf != nil {
		for method := range s.methodsReachedBy(test.Entry.ID) {
			t := s.containingTypeOf(method)
			if _, changed := changedTypes[t]; !changed {
				continue
			}
			for _, entry := range s.cov.TestsCovering(method) {
				if entry.Test.ID != test.Entry.ID {
					continue
				}
				if entry.PathConfidence > best {
					best = entry.PathConfidence
					bestIsDirect = len(entry.Path.Nodes) == 2
				}
			}
		}
	}

	if best > 0 && bestIsDirect && test.Entry.Category == types.CategoryUnit {
		best += 0.1
	}
	return clamp01(best)
}

func (s *Scorer) methodsReachedBy(test types.MethodId) map[types.MethodId]struct{} {
	out := make(map[types.MethodId]struct{})
	for _, m := range s.cov.CoverageFor(test) {
		out[m] = struct{}{}
	}
	return out
}

// historicalSignal boosts for recent failures and derates flaky tests
// (spec §4.8). now is injected indirectly via each record's RanAt, the
// caller is responsible for recency being measured against a fixed
// analysis-time reference already baked into ExecutionHistory entries.
func historicalSignal(test types.TestInfo) float64 {
	history := test.ExecutionHistory
	if len(history) == 0 {
		return 0
	}

	var score float64
	failures7d, failures30d := 0, 0
	failureCount, total := 0, 0
	latestRun := history[0].RanAt
	for _, rec := range history {
		if rec.RanAt.After(latestRun) {
			latestRun = rec.RanAt
		}
		total++
		if !rec.Passed {
			failureCount++
		}
	}
	for _, rec := range history {
		if rec.Passed {
			continue
		}
		age := latestRun.Sub(rec.RanAt)
		switch {
		case age <= 7*24*time.Hour:
			failures7d++
		case age <= 30*24*time.Hour:
			failures30d++
		}
	}
	if failures7d > 0 {
		score += 0.30
	} else if failures30d > 0 {
		score += 0.10
	}

	if total >= 5 {
		rate := float64(failureCount) / float64(total)
		if rate > 0.10 && rate < 0.90 {
			score *= 0.70
		}
	}

	return clamp01(score)
}

// costSignal prefers fast tests: 1 - min(1, duration/budget).
func (s *Scorer) costSignal(test types.TestInfo) float64 {
	budget, ok := s.budgets[test.Entry.Category]
	if !ok || budget <= 0 {
		budget = categoryDurationBudgets[types.CategoryUnit]
	}
	if test.AverageExecutionTime <= 0 {
		return 1.0
	}
	ratio := float64(test.AverageExecutionTime) / float64(budget)
	if ratio > 1 {
		ratio = 1
	}
	return 1 - ratio
}

// categorySignal applies the category-prior trigger table against
// every changed file/type name, plus the configuration-change bonus
// for Integration-category tests.
func (s *Scorer) categorySignal(test types.TestInfo, changeSet types.ChangeSet) float64 {
	var best float64
	for _, change := range changeSet.Changes {
		if change.Kind == types.ChangeConfiguration && test.Entry.Category == types.CategoryIntegration {
			if configurationCategoryBonus > best {
				best = configurationCategoryBonus
			}
		}
		haystack := strings.ToLower(change.File)
		for t := range change.ChangedTypes {
			haystack += " " + strings.ToLower(string(t))
		}
		for _, rule := range categoryPriorTable {
			if rule.category != test.Entry.Category {
				continue
			}
			for _, token := range rule.tokens {
				if strings.Contains(haystack, token) && rule.bonus > best {
					best = rule.bonus
				}
			}
		}
	}
	return clamp01(best)
}

func flattenChanges(cs types.ChangeSet) (map[types.MethodId]struct{}, map[types.TypeId]struct{}) {
	methods := make(map[types.MethodId]struct{})
	typesSet := make(map[types.TypeId]struct{})
	for _, c := range cs.Changes {
		for m := range c.ChangedMethods {
			methods[m] = struct{}{}
		}
		for t := range c.ChangedTypes {
			typesSet[t] = struct{}{}
		}
	}
	return methods, typesSet
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
