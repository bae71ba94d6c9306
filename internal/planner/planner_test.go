package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testimpact/internal/types"
)

func TestSelect_AdmitsUntilScoreFloor(t *testing.T) {
	tests := []types.TestInfo{
		{Entry: types.TestEntry{ID: "A"}, Score: 0.9},
		{Entry: types.TestEntry{ID: "B"}, Score: 0.5},
		{Entry: types.TestEntry{ID: "C"}, Score: 0.1}, // below Medium floor 0.45
	}
	q := NewQuery(tests, types.ConfidenceLevels[types.ConfidenceMedium], nil, Options{})
	require.NoError(t, q.Select())
	require.Len(t, q.selected, 2)
	assert.Equal(t, types.MethodId("A"), q.selected[0].Entry.ID)
}

func TestSelect_CategoryExcludeFiltersTests(t *testing.T) {
	tests := []types.TestInfo{
		{Entry: types.TestEntry{ID: "A", Category: types.CategoryUnit}, Score: 0.9},
		{Entry: types.TestEntry{ID: "B", Category: types.CategoryE2E}, Score: 0.9},
	}
	opts := Options{CategoryExclude: map[types.TestCategory]struct{}{types.CategoryE2E: {}}}
	q := NewQuery(tests, types.ConfidenceLevels[types.ConfidenceFull], nil, opts)
	require.NoError(t, q.Select())
	require.Len(t, q.selected, 1)
	assert.Equal(t, types.MethodId("A"), q.selected[0].Entry.ID)
}

func TestBatch_ConflictingTestsGoToSeparateBatches(t *testing.T) {
	tests := []types.TestInfo{
		{Entry: types.TestEntry{ID: "A"}, Score: 0.9},
		{Entry: types.TestEntry{ID: "B"}, Score: 0.8},
	}
	conflicts := []types.Conflict{{TestA: "A", TestB: "B", Kind: types.ConflictSharedData, PreventsParallel: true}}

	q := NewQuery(tests, types.ConfidenceLevels[types.ConfidenceFull], conflicts, Options{MaxParallelism: 4})
	require.NoError(t, q.Select())
	require.NoError(t, q.Batch())
	require.Len(t, q.batches, 2)
}

func TestBatch_CompatibleTestsShareABatch(t *testing.T) {
	tests := []types.TestInfo{
		{Entry: types.TestEntry{ID: "A"}, Score: 0.9},
		{Entry: types.TestEntry{ID: "B"}, Score: 0.8},
	}
	q := NewQuery(tests, types.ConfidenceLevels[types.ConfidenceFull], nil, Options{MaxParallelism: 4})
	require.NoError(t, q.Select())
	require.NoError(t, q.Batch())
	require.Len(t, q.batches, 1)
	assert.True(t, q.batches[0].CanParallelize)
}

func TestBatch_RespectsMaxParallelism(t *testing.T) {
	tests := []types.TestInfo{
		{Entry: types.TestEntry{ID: "A"}, Score: 0.9},
		{Entry: types.TestEntry{ID: "B"}, Score: 0.8},
		{Entry: types.TestEntry{ID: "C"}, Score: 0.7},
	}
	q := NewQuery(tests, types.ConfidenceLevels[types.ConfidenceFull], nil, Options{MaxParallelism: 2})
	require.NoError(t, q.Select())
	require.NoError(t, q.Batch())
	require.Len(t, q.batches, 2)
	assert.Len(t, q.batches[0].Tests, 2)
	assert.Len(t, q.batches[1].Tests, 1)
}

func TestEmit_FailsOutOfOrder(t *testing.T) {
	q := NewQuery(nil, types.ConfidenceLevels[types.ConfidenceFull], nil, Options{})
	_, err := q.Emit(0)
	assert.Error(t, err)
}

func TestBuildPlan_StateIsEmitted(t *testing.T) {
	tests := []types.TestInfo{{Entry: types.TestEntry{ID: "A"}, Score: 0.9, AverageExecutionTime: time.Second}}
	plan, err := BuildPlan(tests, types.ConfidenceLevels[types.ConfidenceFull], nil, Options{MaxParallelism: 2}, 3)
	require.NoError(t, err)
	assert.Equal(t, types.PlanEmitted, plan.State)
	assert.Equal(t, 3, plan.DemotedMockPaths)
	assert.Equal(t, time.Second, plan.EstimatedDuration)
}

func TestBuildPlan_AssignsUniqueIdsToPlanAndBatches(t *testing.T) {
	tests := []types.TestInfo{
		{Entry: types.TestEntry{ID: "A"}, Score: 0.9, AverageExecutionTime: time.Second},
		{Entry: types.TestEntry{ID: "B"}, Score: 0.9, AverageExecutionTime: time.Second},
	}
	plan, err := BuildPlan(tests, types.ConfidenceLevels[types.ConfidenceFull], nil, Options{MaxParallelism: 1}, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, plan.ID)
	require.Len(t, plan.Batches, 2)
	assert.NotEmpty(t, plan.Batches[0].ID)
	assert.NotEmpty(t, plan.Batches[1].ID)
	assert.NotEqual(t, plan.Batches[0].ID, plan.Batches[1].ID)
}
