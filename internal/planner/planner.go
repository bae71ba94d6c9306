// Package planner selects tests above a confidence
// floor and partitioning them into parallel-compatible batches using
// the conflict graph.
package planner

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"testimpact/internal/types"
)

// Options are caller overrides layered on top of a ConfidenceLevel's
// defaults (spec §4.9).
type Options struct {
	MaxTests            int
	MaxDuration         time.Duration
	CategoryInclude     map[types.TestCategory]struct{}
	CategoryExclude     map[types.TestCategory]struct{}
	MaxParallelism      int
	BatchDurationBudget time.Duration
}

// Query is the per-plan-query state machine: Init -> Scored ->
// Selected -> Batched -> Emitted. Emitted queries are immutable; every
// step method fails if called out of order.
type Query struct {
	state      types.PlanState
	tests      []types.TestInfo
	confidence types.ConfidenceLevel
	conflicts  []types.Conflict
	opts       Options

	selected []types.TestInfo
	batches  []types.Batch
}

// NewQuery starts a plan query over already-scored tests (the scorer's
// output). The query begins in the Scored state since scoring is an
// upstream responsibility this package does not repeat.
func NewQuery(scoredTests []types.TestInfo, confidence types.ConfidenceLevel, conflicts []types.Conflict, opts Options) *Query {
	return &Query{state: types.PlanScored, tests: scoredTests, confidence: confidence, conflicts: conflicts, opts: opts}
}

// State returns the query's current state.
func (q *Query) State() types.PlanState { return q.state }

// Select sorts by score descending, applies category excludes/includes,
// and admits tests until a cap or the confidence floor is hit (spec
// §4.9 Selection).
func (q *Query) Select() error {
	if q.state != types.PlanScored {
		return fmt.Errorf("planner: Select called out of order (state=%s)", q.state)
	}

	sorted := append([]types.TestInfo{}, q.tests...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Entry.ID < sorted[j].Entry.ID
	})

	maxTests := q.confidence.MaxTests
	if q.opts.MaxTests > 0 {
		maxTests = q.opts.MaxTests
	}
	maxDuration := q.confidence.MaxDuration
	if q.opts.MaxDuration > 0 {
		maxDuration = q.opts.MaxDuration
	}

	var selected []types.TestInfo
	var totalDuration time.Duration
	for _, t := range sorted {
		if isExcluded(t, q.opts) {
			continue
		}
		if t.Score < q.confidence.ScoreFloor {
			break
		}
		if maxTests > 0 && len(selected) >= maxTests {
			break
		}
		if maxDuration > 0 && totalDuration+t.AverageExecutionTime > maxDuration {
			break
		}
		selected = append(selected, t)
		totalDuration += t.AverageExecutionTime
	}

	q.selected = selected
	q.state = types.PlanSelected
	return nil
}

func isExcluded(t types.TestInfo, opts Options) bool {
	if len(opts.CategoryExclude) > 0 {
		if _, excluded := opts.CategoryExclude[t.Entry.Category]; excluded {
			return true
		}
	}
	if len(opts.CategoryInclude) > 0 {
		if _, included := opts.CategoryInclude[t.Entry.Category]; !included {
			return true
		}
	}
	return false
}

// Batch partitions the selected tests into mutually parallel-safe
// batches via greedy graph colouring ordered by score descending (the
// selected slice is already in that order from Select), capping
// per-batch parallelism and estimated duration (spec §4.9 Batching).
func (q *Query) Batch() error {
	if q.state != types.PlanSelected {
		return fmt.Errorf("planner: Batch called out of order (state=%s)", q.state)
	}

	maxParallel := q.opts.MaxParallelism
	if maxParallel < 1 {
		maxParallel = 1
	}
	budget := q.opts.BatchDurationBudget
	if budget <= 0 {
		budget = 5 * time.Minute
	}

	conflictSet := buildConflictIndex(q.conflicts)

	var open []*types.Batch
	for _, t := range q.selected {
		placed := false
		for _, b := range open {
			if len(b.Tests) >= maxParallel {
				continue
			}
			if b.EstimatedDuration+t.AverageExecutionTime > budget {
				continue
			}
			if conflictsWithBatch(conflictSet, t.Entry.ID, b.Tests) {
				continue
			}
			b.Tests = append(b.Tests, t)
			b.EstimatedDuration += t.AverageExecutionTime
			placed = true
			break
		}
		if !placed {
			open = append(open, &types.Batch{
				ID: uuid.NewString(), Number: len(open) + 1,
				Tests: []types.TestInfo{t}, EstimatedDuration: t.AverageExecutionTime,
			})
		}
	}

	batches := make([]types.Batch, 0, len(open))
	for _, b := range open {
		b.CanParallelize = len(b.Tests) > 1
		batches = append(batches, *b)
	}

	q.batches = batches
	q.state = types.PlanBatched
	return nil
}

// conflictsWithBatch reports whether candidate has a preventing
// conflict with any test already placed in batchTests.
func conflictsWithBatch(conflictSet map[types.MethodId]map[types.MethodId]bool, candidate types.MethodId, batchTests []types.TestInfo) bool {
	for _, existing := range batchTests {
		if conflictSet[candidate][existing.Entry.ID] {
			return true
		}
	}
	return false
}

func buildConflictIndex(conflicts []types.Conflict) map[types.MethodId]map[types.MethodId]bool {
	idx := make(map[types.MethodId]map[types.MethodId]bool)
	for _, c := range conflicts {
		if !c.PreventsParallel {
			continue
		}
		if idx[c.TestA] == nil {
			idx[c.TestA] = make(map[types.MethodId]bool)
		}
		if idx[c.TestB] == nil {
			idx[c.TestB] = make(map[types.MethodId]bool)
		}
		idx[c.TestA][c.TestB] = true
		idx[c.TestB][c.TestA] = true
	}
	return idx
}

// Emit finalizes the plan. Emitted plans are immutable; Emit may only
// be called once per Query.
func (q *Query) Emit(demotedMockPaths int) (types.ExecutionPlan, error) {
	if q.state != types.PlanBatched {
		return types.ExecutionPlan{}, fmt.Errorf("planner: Emit called out of order (state=%s)", q.state)
	}

	var total time.Duration
	for _, b := range q.batches {
		total += b.EstimatedDuration
	}

	plan := types.ExecutionPlan{
		ID:                uuid.NewString(),
		Version:           1,
		Tests:             q.selected,
		Confidence:        q.confidence,
		EstimatedDuration: total,
		Batches:           q.batches,
		State:             types.PlanEmitted,
		DemotedMockPaths:  demotedMockPaths,
	}
	q.state = types.PlanEmitted
	return plan, nil
}

// BuildPlan runs Select, Batch, and Emit in sequence; a convenience
// for callers that don't need to inspect intermediate query states.
func BuildPlan(scoredTests []types.TestInfo, confidence types.ConfidenceLevel, conflicts []types.Conflict, opts Options, demotedMockPaths int) (types.ExecutionPlan, error) {
	q := NewQuery(scoredTests, confidence, conflicts, opts)
	if err := q.Select(); err != nil {
		return types.ExecutionPlan{}, err
	}
	if err := q.Batch(); err != nil {
		return types.ExecutionPlan{}, err
	}
	return q.Emit(0 + demotedMockPaths)
}
