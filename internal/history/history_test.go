package history

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/uqdev/internal/clock"
	"grimm.is/uqdev/internal/protocol"
	"grimm.is/uqdev/internal/verdict"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T, clk clock.Clock) *Store {
	t.Helper()
	s, err := Open(":memory:", nil, clk)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordRunAndExecutions(t *testing.T) {
	clk := clock.NewMock(epoch)
	s := openStore(t, clk)
	ctx := context.Background()

	results := []verdict.Result{
		{Name: "chess_test", Kind: verdict.Passed, Duration: 3 * time.Second},
		{Name: "net_test", Kind: verdict.Failed, Duration: time.Second,
			Fail: &protocol.FailInfo{Test: "foo", File: "foo_test", Line: 42, Column: 5}},
		{Name: "build_test", Kind: verdict.Failed, Err: errors.New("build failed")},
	}
	require.NoError(t, s.RecordRun(ctx, "run-1", "tests.toml", results))

	execs, err := s.Executions(ctx, "net_test")
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, "run-1", execs[0].RunID)
	assert.Equal(t, verdict.Failed, execs[0].Verdict)
	assert.Equal(t, "foo_test:42:5", execs[0].FailLocation)
	assert.Equal(t, "foo", execs[0].Message)
	assert.Equal(t, time.Second, execs[0].Duration)
	assert.True(t, execs[0].RecordedAt.Equal(epoch))

	execs, err = s.Executions(ctx, "build_test")
	require.NoError(t, err)
	assert.Equal(t, "build failed", execs[0].Message)
}

func TestDuplicateRunRejected(t *testing.T) {
	s := openStore(t, nil)
	ctx := context.Background()
	require.NoError(t, s.RecordRun(ctx, "run-1", "tests.toml", nil))
	assert.Error(t, s.RecordRun(ctx, "run-1", "tests.toml", nil))
}

func TestHealthAndStreak(t *testing.T) {
	clk := clock.NewMock(epoch)
	s := openStore(t, clk)
	ctx := context.Background()

	kinds := []verdict.Kind{verdict.Failed, verdict.Passed, verdict.TimedOut, verdict.Passed, verdict.Passed}
	for i, k := range kinds {
		clk.Advance(time.Hour)
		require.NoError(t, s.RecordRun(ctx, "run-"+string(rune('a'+i)), "tests.toml", []verdict.Result{
			{Name: "flaky", Kind: k, Duration: time.Duration(i+1) * time.Second},
			{Name: "solid", Kind: verdict.Passed, Duration: time.Second},
		}))
	}

	streak, err := s.Streak(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, 2, streak)

	health, err := s.Health(ctx)
	require.NoError(t, err)
	require.Len(t, health, 2)

	flaky := health[0]
	assert.Equal(t, "flaky", flaky.Test)
	assert.Equal(t, 3, flaky.PassCount)
	assert.Equal(t, 1, flaky.FailCount)
	assert.Equal(t, 1, flaky.TimeoutCount)
	assert.InDelta(t, 0.6, flaky.PassRate, 0.001)
	assert.Equal(t, "C", flaky.Grade)
	assert.Equal(t, 5*time.Second, flaky.MaxDuration)
	assert.Equal(t, verdict.Passed, flaky.LastVerdict)

	assert.Equal(t, "solid", health[1].Test)
	assert.Equal(t, "A", health[1].Grade)
	assert.Equal(t, 5, health[1].Streak)
}

func TestGrade(t *testing.T) {
	assert.Equal(t, "?", Grade(0, 0))
	assert.Equal(t, "A", Grade(1, 10))
	assert.Equal(t, "B", Grade(0.8, 10))
	assert.Equal(t, "C", Grade(0.5, 10))
	assert.Equal(t, "D", Grade(0.2, 10))
	assert.Equal(t, "F", Grade(0.1, 10))
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	health := []TestHealth{
		{Test: "flaky", Grade: "C", PassCount: 3, TotalRuns: 5, PassRate: 0.6, LastRun: epoch, Streak: 2, LastVerdict: verdict.Passed},
		{Test: "solid", Grade: "A", PassCount: 5, TotalRuns: 5, PassRate: 1},
	}
	PrintSummary(&buf, health, 1, epoch.Add(90*time.Minute))

	out := buf.String()
	assert.Contains(t, out, "flaky")
	assert.Contains(t, out, "3/5")
	assert.Contains(t, out, "60%")
	assert.Contains(t, out, "1h30m0s ago")
	assert.Contains(t, out, "... 1 more")
	assert.NotContains(t, out, "solid")

	buf.Reset()
	PrintSummary(&buf, nil, 0, epoch)
	assert.Contains(t, buf.String(), "no recorded runs")
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results", FileName)
	s, err := Open(path, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.RecordRun(context.Background(), "r", "c", []verdict.Result{{Name: "t", Kind: verdict.Passed}}))
	require.NoError(t, s.Close())

	s, err = Open(path, nil, nil)
	require.NoError(t, err)
	defer s.Close()
	execs, err := s.Executions(context.Background(), "t")
	require.NoError(t, err)
	assert.Len(t, execs, 1)
}
