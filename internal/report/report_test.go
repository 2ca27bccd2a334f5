package report

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/uqdev/internal/protocol"
	"grimm.is/uqdev/internal/verdict"
)

func sampleResults() []verdict.Result {
	return []verdict.Result{
		{Index: 0, Name: "chess_test", Kind: verdict.Passed},
		{Index: 1, Name: "net_test", Kind: verdict.Failed, Fail: &protocol.FailInfo{Test: "foo", File: "foo_test", Line: 42, Column: 5}},
		{Index: 2, Name: "slow_test", Kind: verdict.TimedOut},
		{Index: 3, Name: "broken", Kind: verdict.Failed, Err: errors.New("build broken: exit status 1\nerror[E0425]")},
	}
}

func run(r Reporter, results []verdict.Result) {
	r.Start(len(results))
	for _, res := range results {
		r.Result(res)
	}
	r.Finish(results)
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	run(NewText(&buf), sampleResults())

	out := buf.String()
	assert.Contains(t, out, "[1/4] chess_test pass\n")
	assert.Contains(t, out, "[2/4] net_test fail foo foo_test:42:5\n")
	assert.Contains(t, out, "[3/4] slow_test timeout\n")
	assert.Contains(t, out, "fail: build broken: exit status 1")
	assert.Contains(t, out, "Passed: 1/4\n")
}

func TestTAP(t *testing.T) {
	var buf bytes.Buffer
	run(NewTAP(&buf), sampleResults())

	assert.Equal(t, `1..4
ok 1 - chess_test
not ok 2 - net_test
# fail foo foo_test:42:5
not ok 3 - slow_test
# timeout
not ok 4 - broken
# fail: build broken: exit status 1
# error[E0425]
# passed 1, failed 2, timed out 1
`, buf.String())
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	r, err := New("TAP", &buf)
	require.NoError(t, err)
	assert.IsType(t, &TAP{}, r)

	r, err = New("", &buf)
	require.NoError(t, err)
	assert.IsType(t, &Text{}, r)

	_, err = New("junit", &buf)
	assert.Error(t, err)
}
