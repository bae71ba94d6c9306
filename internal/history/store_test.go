package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"testimpact/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := openTestStore(t)
	assert.NotEmpty(t, s.Path())
}

func TestRecordRun_AndLoadHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	testId := types.MethodId("Ns.FooTests.TestAdd()")

	require.NoError(t, s.RecordRun(ctx, testId, time.Unix(1000, 0), 50*time.Millisecond, true))
	require.NoError(t, s.RecordRun(ctx, testId, time.Unix(2000, 0), 75*time.Millisecond, false))

	history, err := s.LoadHistory(ctx, []types.MethodId{testId})
	require.NoError(t, err)
	require.Contains(t, history, testId)
	require.Len(t, history[testId], 2)

	assert.Equal(t, int64(2000), history[testId][0].RanAt.Unix(), "newest run must come first")
	assert.False(t, history[testId][0].Passed)
	assert.Equal(t, int64(75), history[testId][0].DurationMs)
}

func TestLoadHistory_OmitsTestsWithNoRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	history, err := s.LoadHistory(ctx, []types.MethodId{"Ns.Unknown.Test()"})
	require.NoError(t, err)
	assert.NotContains(t, history, types.MethodId("Ns.Unknown.Test()"))
}

func TestLoadHistory_EmptyInputReturnsEmptyMap(t *testing.T) {
	s := openTestStore(t)
	history, err := s.LoadHistory(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAverageDuration(t *testing.T) {
	records := []types.ExecutionRecord{{DurationMs: 100}, {DurationMs: 200}, {DurationMs: 300}}
	assert.Equal(t, 200*time.Millisecond, AverageDuration(records))
	assert.Equal(t, time.Duration(0), AverageDuration(nil))
}
