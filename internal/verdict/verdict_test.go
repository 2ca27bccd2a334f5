package verdict

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"grimm.is/uqdev/internal/config"
	"grimm.is/uqdev/internal/protocol"
)

func TestSummary(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   string
	}{
		{"pass", Result{Kind: Passed}, "pass"},
		{"timeout", Result{Kind: TimedOut}, "timeout"},
		{"assertion", Result{Kind: Failed, Fail: &protocol.FailInfo{Test: "foo", File: "foo_test", Line: 42, Column: 5}}, "fail foo foo_test:42:5"},
		{"harness", Result{Kind: Failed, Err: errors.New("build chess: exit status 101")}, "fail: build chess: exit status 101"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.Summary())
		})
	}
}

func TestCounts(t *testing.T) {
	results := []Result{{Kind: Passed}, {Kind: Failed}, {Kind: TimedOut}, {Kind: Passed}}
	p, f, to := Counts(results)
	assert.Equal(t, 2, p)
	assert.Equal(t, 1, f)
	assert.Equal(t, 1, to)
	assert.False(t, AllPassed(results))
	assert.True(t, AllPassed(results[:1]))
	assert.True(t, AllPassed(nil))
}

func TestTestName(t *testing.T) {
	assert.Equal(t, "chess_test+net_test", TestName(config.Test{TestPackagePaths: []string{"tests/chess_test/", "net_test"}}))
	assert.Equal(t, "unnamed", TestName(config.Test{}))
}
