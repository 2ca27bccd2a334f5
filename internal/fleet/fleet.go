// Package fleet brings up every node of a test and waits for them to serve.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"grimm.is/uqdev/internal/cleanup"
	"grimm.is/uqdev/internal/config"
	"grimm.is/uqdev/internal/launcher"
	"grimm.is/uqdev/internal/logging"
	"grimm.is/uqdev/internal/metrics"
)

const pollInterval = 200 * time.Millisecond

// StartupTimeoutError reports a node that never became ready.
type StartupTimeoutError struct {
	Node    string
	Timeout time.Duration
	Err     error
}

func (e *StartupTimeoutError) Error() string {
	return fmt.Sprintf("node %s not ready after %s: %v", e.Node, e.Timeout, e.Err)
}

func (e *StartupTimeoutError) Unwrap() error { return e.Err }

// ErrExited is wrapped when a node dies during startup.
var ErrExited = errors.New("node exited during startup")

// Registrar tracks launched nodes for cleanup. *cleanup.Guard satisfies it.
type Registrar interface {
	Register(cleanup.Node) error
}

// Options configure a Manager.
type Options struct {
	// Binary is the resolved runtime executable.
	Binary string
	// LogDir receives one <node>.log per node. Empty disables log files.
	LogDir string
	Logger *logging.Logger

	Metrics *metrics.Registry
	Client  *http.Client
}

// Manager launches nodes and polls their readiness.
type Manager struct {
	opts   Options
	logger *logging.Logger
	client *http.Client
}

// NewManager returns a Manager.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.WithComponent("fleet")
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: time.Second}
	}
	return &Manager{opts: opts, logger: logger, client: client}
}

// Launch spawns every node of test in order. Each node is registered with
// reg as soon as it is spawned, so a failure later in the sequence still
// leaves the earlier nodes visible to cleanup.
func (m *Manager) Launch(test config.Test, reg Registrar) ([]*launcher.NodeInfo, error) {
	nodes := make([]*launcher.NodeInfo, 0, len(test.Nodes))
	for i, node := range test.Nodes {
		name := node.Name(i)
		out, closeOut, err := m.nodeOutput(name, node.RuntimeVerbose)
		if err != nil {
			return nodes, err
		}

		info, err := launcher.LaunchNode(node, i, launcher.NodeOptions{
			Binary:     m.opts.Binary,
			RouterPort: test.NetworkRouter.Port,
			Output:     out,
			Logger:     m.logger,
		})
		if m.opts.Metrics != nil {
			m.opts.Metrics.RecordLaunch(err)
		}
		if err != nil {
			closeOut()
			return nodes, err
		}
		go func() {
			<-info.OutputDone()
			closeOut()
		}()

		if err := reg.Register(info); err != nil {
			return nodes, fmt.Errorf("register %s: %w", name, err)
		}
		nodes = append(nodes, info)
		m.logger.Info("node launched", "node", name, "port", node.Port, "home", node.Home)
	}
	return nodes, nil
}

// WaitReady polls every node concurrently until each answers HTTP or
// timeout elapses for it.
func (m *Manager) WaitReady(ctx context.Context, nodes []*launcher.NodeInfo, timeout time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, n := range nodes {
		n := n
		g.Go(func() error {
			return m.waitNode(ctx, n, timeout)
		})
	}
	return g.Wait()
}

// Start launches the fleet and waits for it to become ready.
func (m *Manager) Start(ctx context.Context, test config.Test, reg Registrar, timeout time.Duration) ([]*launcher.NodeInfo, error) {
	nodes, err := m.Launch(test, reg)
	if err != nil {
		return nodes, err
	}
	return nodes, m.WaitReady(ctx, nodes, timeout)
}

func (m *Manager) waitNode(ctx context.Context, n *launcher.NodeInfo, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = m.probe(ctx, n.URL()); lastErr == nil {
			m.logger.Info("node ready", "node", n.Name)
			return nil
		}
		if time.Now().After(deadline) {
			return &StartupTimeoutError{Node: n.Name, Timeout: timeout, Err: lastErr}
		}
		select {
		case <-n.Done():
			return &StartupTimeoutError{Node: n.Name, Timeout: timeout, Err: ErrExited}
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// probe succeeds on any HTTP response.
func (m *Manager) probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/", nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// nodeOutput builds the writer a node's terminal is copied to: its log file
// and, for verbose nodes, the harness log.
func (m *Manager) nodeOutput(name string, verbose bool) (io.Writer, func(), error) {
	var writers []io.Writer
	var closers []func()

	if m.opts.LogDir != "" {
		if err := os.MkdirAll(m.opts.LogDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.Create(filepath.Join(m.opts.LogDir, name+".log"))
		if err != nil {
			return nil, nil, fmt.Errorf("create node log: %w", err)
		}
		writers = append(writers, f)
		closers = append(closers, func() { _ = f.Close() })
	}
	if verbose {
		lw := logging.NewLineWriter(m.logger.With("node", name), logging.LevelInfo)
		writers = append(writers, lw)
		closers = append(closers, lw.Flush)
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	switch len(writers) {
	case 0:
		return io.Discard, closeAll, nil
	case 1:
		return writers[0], closeAll, nil
	}
	return io.MultiWriter(writers...), closeAll, nil
}
