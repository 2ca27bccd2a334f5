// Package cleanup guarantees that every process spawned for a test, and its
// mutable on-disk state, is released on every exit path.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"grimm.is/uqdev/internal/logging"
	"grimm.is/uqdev/internal/metrics"
)

// StateDirs are the node home subdirectories removed on release. Anything
// else under the home (keys, config) is left alone.
var StateDirs = []string{"kernel", "kv", "sqlite", "vfs"}

const (
	DefaultGrace       = 10 * time.Second
	DefaultRouterGrace = 5 * time.Second
)

// ErrReleased is returned by Register once teardown has begun.
var ErrReleased = errors.New("cleanup guard already released")

// Node is a tracked process. *launcher.NodeInfo satisfies it.
type Node interface {
	String() string
	HomeDir() string
	RequestGracefulShutdown() error
	Wait(ctx context.Context) error
	Kill() error
	Close()
}

// Router is the network router handle released after all nodes.
type Router interface {
	Shutdown(ctx context.Context) error
}

// Options configure a Guard.
type Options struct {
	// Grace bounds the wait for a node to exit after the interrupt byte.
	Grace time.Duration
	// RouterGrace bounds the router shutdown.
	RouterGrace time.Duration
	Logger      *logging.Logger
	Metrics     *metrics.Registry
}

// Guard tracks the nodes and router of one test. Release must be deferred
// by the owner immediately after New; it runs at most once.
type Guard struct {
	opts   Options
	logger *logging.Logger

	mu       sync.Mutex
	nodes    []Node
	router   Router
	released bool

	once sync.Once
}

// New returns an empty guard.
func New(opts Options) *Guard {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.RouterGrace <= 0 {
		opts.RouterGrace = DefaultRouterGrace
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.WithComponent("cleanup")
	}
	return &Guard{opts: opts, logger: logger}
}

// Register tracks n. On a released guard the node is released at once and
// ErrReleased is returned.
func (g *Guard) Register(n Node) error {
	g.mu.Lock()
	if !g.released {
		g.nodes = append(g.nodes, n)
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	g.logger.Warn("node registered after release", "node", n.String())
	g.releaseNode(n)
	return ErrReleased
}

// AttachRouter sets the router to shut down after all nodes.
func (g *Guard) AttachRouter(r Router) error {
	g.mu.Lock()
	if !g.released {
		g.router = r
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	g.shutdownRouter(r)
	return ErrReleased
}

// Len returns the number of tracked nodes.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

// Release tears down every tracked node in registration order, then shuts
// the router down. Errors are logged and counted, never returned, and
// Release never panics. Calls after the first are no-ops.
func (g *Guard) Release() {
	g.once.Do(g.release)
}

func (g *Guard) release() {
	defer g.recoverStep("release")

	g.mu.Lock()
	g.released = true
	nodes := g.nodes
	router := g.router
	g.nodes = nil
	g.router = nil
	g.mu.Unlock()

	g.logger.Info("releasing test resources", "nodes", len(nodes))
	for _, n := range nodes {
		g.releaseNode(n)
	}
	if router != nil {
		g.shutdownRouter(router)
	}
}

func (g *Guard) releaseNode(n Node) {
	defer g.recoverStep("node " + n.String())
	defer g.countReleased()

	if err := n.RequestGracefulShutdown(); err != nil {
		g.fail("interrupt", n.String(), err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.opts.Grace)
	err := n.Wait(ctx)
	cancel()

	if errors.Is(err, context.DeadlineExceeded) {
		g.logger.Warn("node ignored interrupt, killing", "node", n.String(), "grace", g.opts.Grace)
		if err := n.Kill(); err != nil {
			g.fail("kill", n.String(), err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), g.opts.Grace)
		if err := n.Wait(ctx); errors.Is(err, context.DeadlineExceeded) {
			g.fail("wait", n.String(), err)
		}
		cancel()
	}
	n.Close()

	for _, err := range RemoveState(n.HomeDir()) {
		g.fail("remove state", n.String(), err)
	}
	g.logger.Debug("node released", "node", n.String())
}

func (g *Guard) shutdownRouter(r Router) {
	defer g.recoverStep("router")

	ctx, cancel := context.WithTimeout(context.Background(), g.opts.RouterGrace)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		g.fail("router shutdown", "router", err)
	}
}

func (g *Guard) countReleased() {
	if g.opts.Metrics != nil {
		g.opts.Metrics.RecordNodeReleased()
	}
}

func (g *Guard) fail(step, target string, err error) {
	g.logger.Error("cleanup step failed", "step", step, "target", target, "error", err)
	if g.opts.Metrics != nil {
		g.opts.Metrics.RecordCleanupError()
	}
}

func (g *Guard) recoverStep(target string) {
	if r := recover(); r != nil {
		g.fail("panic", target, fmt.Errorf("%v", r))
	}
}

// RemoveState deletes the StateDirs under home that exist. Missing
// directories are not an error.
func RemoveState(home string) []error {
	if home == "" {
		return nil
	}
	var errs []error
	for _, dir := range StateDirs {
		p := filepath.Join(home, dir)
		if _, err := os.Lstat(p); err != nil {
			if !os.IsNotExist(err) {
				errs = append(errs, err)
			}
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
		}
	}
	return errs
}
