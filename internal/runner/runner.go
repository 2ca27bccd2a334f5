// Package runner coordinates a test run: it builds packages, brings up the
// router and node fleet, injects the Run request, races the verdict against
// the test's time budget, and always releases every spawned process.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"grimm.is/uqdev/internal/cleanup"
	"grimm.is/uqdev/internal/clock"
	"grimm.is/uqdev/internal/config"
	"grimm.is/uqdev/internal/inject"
	"grimm.is/uqdev/internal/logging"
	"grimm.is/uqdev/internal/metrics"
	"grimm.is/uqdev/internal/protocol"
	"grimm.is/uqdev/internal/report"
	"grimm.is/uqdev/internal/timeouts"
	"grimm.is/uqdev/internal/verdict"
)

// Exit codes for a run.
const (
	ExitPassed      = 0
	ExitFailed      = 1
	ExitInterrupted = 130
)

const defaultRouterReadyTimeout = 10 * time.Second

// Options wire a Coordinator to its collaborators. Builder, Routers, Fleet
// and Injector are required.
type Options struct {
	Builder  Builder
	Routers  Routers
	Fleet    Fleet
	Injector Injector

	Reporter report.Reporter
	History  Recorder
	Metrics  *metrics.Registry
	Logger   *logging.Logger
	Clock    clock.Clock

	// ConfigPath is recorded with the run's history.
	ConfigPath string
	// FailFast stops after the first non-passing test, in addition to the
	// config's own fail_fast.
	FailFast bool
	// Grace bounds each node's exit after the interrupt byte.
	Grace time.Duration
	// RouterReadyTimeout bounds the router reachability probe before
	// time dilation.
	RouterReadyTimeout time.Duration

	// OnState observes every state transition.
	OnState func(test int, s State)
}

// Coordinator runs the tests of a Config sequentially.
type Coordinator struct {
	opts   Options
	logger *logging.Logger
	clock  clock.Clock
}

// Summary is the outcome of a whole run.
type Summary struct {
	RunID   string
	Results []verdict.Result
	// Interrupted is set when the run context was cancelled.
	Interrupted bool
}

// ExitCode maps the summary to the process exit status.
func (s Summary) ExitCode() int {
	switch {
	case s.Interrupted:
		return ExitInterrupted
	case verdict.AllPassed(s.Results):
		return ExitPassed
	}
	return ExitFailed
}

// New returns a Coordinator.
func New(opts Options) *Coordinator {
	if opts.Reporter == nil {
		opts.Reporter = discardReporter{}
	}
	if opts.RouterReadyTimeout <= 0 {
		opts.RouterReadyTimeout = defaultRouterReadyTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.WithComponent("runner")
	}
	return &Coordinator{opts: opts, logger: logger, clock: clock.OrReal(opts.Clock)}
}

// Run executes every test in cfg. A test's failure does not stop later
// tests unless fail-fast is set. Cancelling ctx aborts the run; the current
// test is still cleaned up.
func (c *Coordinator) Run(ctx context.Context, cfg *config.Config) (*Summary, error) {
	sum := &Summary{RunID: uuid.NewString()}
	logger := c.logger.With("run_id", sum.RunID)
	failFast := cfg.FailFast || c.opts.FailFast

	logger.Info("resolving runtime", "runtime", cfg.Runtime.String())
	binary, err := c.opts.Builder.ResolveRuntime(ctx, cfg.Runtime, cfg.RuntimeBuildVerbose)
	if err != nil {
		sum.Interrupted = ctx.Err() != nil
		return sum, fmt.Errorf("resolve runtime: %w", err)
	}

	c.opts.Reporter.Start(len(cfg.Tests))
	for i, test := range cfg.Tests {
		if ctx.Err() != nil {
			break
		}
		logDir := ""
		if cfg.ResultsDir != "" {
			logDir = filepath.Join(cfg.ResultsDir, sum.RunID, fmt.Sprintf("test-%d", i+1))
		}

		res := c.RunTest(ctx, i, test, binary, logDir)
		sum.Results = append(sum.Results, res)
		c.opts.Reporter.Result(res)

		if !res.OK() && failFast && i < len(cfg.Tests)-1 {
			logger.Warn("fail fast: skipping remaining tests", "remaining", len(cfg.Tests)-i-1)
			break
		}
	}
	c.opts.Reporter.Finish(sum.Results)
	sum.Interrupted = ctx.Err() != nil

	if c.opts.History != nil {
		// The run context may be cancelled; history is still written.
		if err := c.opts.History.RecordRun(context.Background(), sum.RunID, c.opts.ConfigPath, sum.Results); err != nil {
			logger.Warn("failed to record history", "error", err)
		}
	}
	return sum, nil
}

// RunTest drives one test through the state machine. Cleanup runs on every
// path out of RunTest, including panics in collaborators.
func (c *Coordinator) RunTest(ctx context.Context, index int, test config.Test, binary, logDir string) (res verdict.Result) {
	start := c.clock.Now()
	res = verdict.Result{Index: index, Name: verdict.TestName(test)}
	logger := c.logger.With("test", res.Name)

	c.setState(index, StateIdle)
	guard := cleanup.New(cleanup.Options{
		Grace:   c.opts.Grace,
		Logger:  logger.WithComponent("cleanup"),
		Metrics: c.opts.Metrics,
	})
	defer func() {
		if r := recover(); r != nil {
			logger.Error("test panicked", "panic", r)
			res = c.failed(index, res, fmt.Errorf("panic: %v", r))
		}
		c.setState(index, StateCleaningUp)
		guard.Release()
		c.setState(index, StateDone)

		res.Duration = c.clock.Since(start)
		if c.opts.Metrics != nil {
			c.opts.Metrics.RecordVerdict(string(res.Kind), res.Duration)
		}
		logger.Info("test finished", "verdict", res.Kind, "duration", res.Duration)
	}()

	c.setState(index, StateBuildingPackages)
	if err := c.opts.Builder.BuildPackages(ctx, test.Packages(), test.PackageBuildVerbose); err != nil {
		return c.failed(index, res, err)
	}

	c.setState(index, StateRouterUp)
	rt, err := c.opts.Routers.Start(test.NetworkRouter)
	if err != nil {
		return c.failed(index, res, fmt.Errorf("start router: %w", err))
	}
	if err := guard.AttachRouter(rt); err != nil {
		return c.failed(index, res, err)
	}
	if err := c.opts.Routers.WaitReady(ctx, rt, timeouts.Scale(c.opts.RouterReadyTimeout)); err != nil {
		return c.failed(index, res, err)
	}

	c.setState(index, StateFleetUp)
	startupSecs := test.StartupTimeoutSecs
	if startupSecs == 0 {
		startupSecs = config.DefaultStartupTimeoutSecs
	}
	startup := timeouts.Scale(config.Seconds(startupSecs))
	nodes, err := c.opts.Fleet.Start(ctx, binary, test, guard, logDir, startup)
	if err != nil {
		return c.failed(index, res, err)
	}
	if err := c.loadPackages(ctx, test, nodes, startup); err != nil {
		return c.failed(index, res, err)
	}

	c.setState(index, StateAwaitingVerdict)
	fail, err := c.awaitVerdict(ctx, test, nodes)
	switch {
	case errors.Is(err, ErrTimedOut):
		res.Kind = verdict.TimedOut
		res.Err = err
		c.setState(index, StateTimedOut)
	case err != nil:
		return c.failed(index, res, err)
	case fail != nil:
		res.Kind = verdict.Failed
		res.Fail = fail
		c.setState(index, StateFailed)
	default:
		res.Kind = verdict.Passed
		c.setState(index, StatePassed)
	}
	return res
}

func (c *Coordinator) failed(index int, res verdict.Result, err error) verdict.Result {
	res.Kind = verdict.Failed
	res.Err = err
	c.setState(index, StateFailed)
	return res
}

func (c *Coordinator) setState(index int, s State) {
	c.logger.Debug("state", "test", index, "state", s)
	if c.opts.OnState != nil {
		c.opts.OnState(index, s)
	}
}

// loadPackages installs setup then test packages on every node. The whole
// load shares one budget.
func (c *Coordinator) loadPackages(ctx context.Context, test config.Test, nodes []Endpoint, budget time.Duration) error {
	lctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	for _, n := range nodes {
		for _, pkg := range test.Packages() {
			err := c.opts.Injector.LoadPackage(lctx, n.URL, pkg)
			if err == nil {
				continue
			}
			if ctx.Err() == nil && errors.Is(lctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("load %s on %s: not answered within %s: %w", pkg, n.Name, budget, context.DeadlineExceeded)
			}
			return fmt.Errorf("load %s on %s: %w", pkg, n.Name, err)
		}
	}
	return nil
}

type reply struct {
	r   *inject.Reply
	err error
}

// awaitVerdict sends Run to the test node and races its answer against
// timeout_secs. It returns the failure provenance for a Fail verdict, nil
// for Pass, or an error.
func (c *Coordinator) awaitVerdict(ctx context.Context, test config.Test, nodes []Endpoint) (*protocol.FailInfo, error) {
	if test.TestNode < 0 || test.TestNode >= len(nodes) {
		return nil, fmt.Errorf("test node %d not running", test.TestNode)
	}
	target := nodes[test.TestNode]

	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name
	}

	ipc, err := json.Marshal(protocol.NewRunRequest(names, test.TimeoutSecs))
	if err != nil {
		return nil, err
	}
	expects := test.TimeoutSecs
	msg, err := inject.NewMessage(protocol.TesterProcess.String(), string(ipc), &target.Name, &expects, "")
	if err != nil {
		return nil, err
	}

	budget := config.Seconds(test.TimeoutSecs)
	vctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	ch := make(chan reply, 1)
	go func() {
		r, err := c.opts.Injector.Send(vctx, target.URL, msg)
		ch <- reply{r: r, err: err}
	}()

	c.logger.Info("awaiting verdict", "node", target.Name, "budget", budget)
	select {
	case <-vctx.Done():
		return nil, c.deadlineErr(ctx, budget)
	case got := <-ch:
		if got.err != nil {
			if vctx.Err() != nil {
				return nil, c.deadlineErr(ctx, budget)
			}
			return nil, fmt.Errorf("send run request: %w", got.err)
		}
		return interpret(got.r, names)
	}
}

func (c *Coordinator) deadlineErr(parent context.Context, budget time.Duration) error {
	if err := parent.Err(); err != nil {
		return fmt.Errorf("run aborted: %w", err)
	}
	return verdictErr(KindTimedOut, "no verdict within %s", budget)
}

// interpret decodes the tester's answer to Run.
func interpret(r *inject.Reply, fleet []string) (*protocol.FailInfo, error) {
	if r == nil {
		return nil, verdictErr(KindUnexpectedResponse, "empty reply")
	}
	if r.Source != nil && !slices.Contains(fleet, r.Source.Node) {
		return nil, verdictErr(KindRejectForeign, "reply from %s", r.Source.Node)
	}

	var resp protocol.TesterResponse
	if err := json.Unmarshal([]byte(r.IPC), &resp); err != nil {
		return nil, verdictErr(KindUnexpectedResponse, "%v", err)
	}
	switch resp.Kind {
	case protocol.ResponsePass:
		return nil, nil
	case protocol.ResponseFail:
		return resp.Fail, nil
	}
	return nil, verdictErr(KindUnexpectedResponse, "%s in reply to Run", resp.Kind)
}
