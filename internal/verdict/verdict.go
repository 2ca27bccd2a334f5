// Package verdict holds the outcome of a test run.
package verdict

import (
	"path/filepath"
	"strings"
	"time"

	"grimm.is/uqdev/internal/config"
	"grimm.is/uqdev/internal/protocol"
)

// Kind is the terminal state of a test.
type Kind string

const (
	Passed   Kind = "pass"
	Failed   Kind = "fail"
	TimedOut Kind = "timeout"
)

// Result is the recorded outcome of one Test.
type Result struct {
	// Index is the test's position in the config, from 0.
	Index int
	Name  string
	Kind  Kind
	// Fail is set when the node under test reported an assertion failure.
	Fail *protocol.FailInfo
	// Err is set when the harness failed the test (build, launch, startup,
	// protocol) or when the run was aborted.
	Err      error
	Duration time.Duration
}

// OK reports whether the test passed.
func (r Result) OK() bool { return r.Kind == Passed }

// Summary is the line printed for a result: "pass", "timeout",
// "fail <test> <file>:<line>:<column>" or "fail: <error>".
func (r Result) Summary() string {
	switch {
	case r.Kind == Passed:
		return "pass"
	case r.Kind == TimedOut:
		return "timeout"
	case r.Fail != nil:
		return "fail " + r.Fail.Test + " " + r.Fail.Location()
	case r.Err != nil:
		return "fail: " + r.Err.Error()
	}
	return string(r.Kind)
}

// Counts tallies results by kind.
func Counts(results []Result) (passed, failed, timedOut int) {
	for _, r := range results {
		switch r.Kind {
		case Passed:
			passed++
		case TimedOut:
			timedOut++
		default:
			failed++
		}
	}
	return
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.OK() {
			return false
		}
	}
	return true
}

// TestName derives a stable name for a test from its test package paths.
func TestName(t config.Test) string {
	names := make([]string, 0, len(t.TestPackagePaths))
	for _, p := range t.TestPackagePaths {
		names = append(names, filepath.Base(filepath.Clean(p)))
	}
	if len(names) == 0 {
		return "unnamed"
	}
	return strings.Join(names, "+")
}
