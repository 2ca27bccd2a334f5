// Package router runs the network router process that mediates traffic
// between the nodes of a test.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sys/unix"

	"grimm.is/uqdev/internal/config"
	"grimm.is/uqdev/internal/launcher"
	"grimm.is/uqdev/internal/logging"
)

const (
	DefaultGrace        = 3 * time.Second
	DefaultReadyTimeout = 10 * time.Second
	pollInterval        = 100 * time.Millisecond
)

// Options configure a Manager.
type Options struct {
	// Grace bounds the wait after SIGTERM before the router is killed.
	Grace  time.Duration
	Output io.Writer
	Logger *logging.Logger
}

// Manager starts routers. It does not interpret the defect policy; the
// policy is passed through to the router binary.
type Manager struct {
	opts   Options
	logger *logging.Logger
	dialer *websocket.Dialer
}

// NewManager returns a Manager.
func NewManager(opts Options) *Manager {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.WithComponent("router")
	}
	return &Manager{
		opts:   opts,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: time.Second},
	}
}

// Args builds the router command line.
func Args(cfg config.NetworkRouter) []string {
	return []string{
		"--port", strconv.Itoa(int(cfg.Port)),
		"--defects", string(cfg.Defects.Normalize()),
	}
}

// Handle is a running router. Cancel or Shutdown stops it.
type Handle struct {
	Port uint16

	proc    *launcher.Process
	cancel  chan struct{}
	done    chan struct{}
	stopErr error
	logger  *logging.Logger

	signalled sync.Once
}

// Start spawns the router described by cfg.
func (m *Manager) Start(cfg config.NetworkRouter) (*Handle, error) {
	binary := cfg.Binary
	if binary == "" {
		binary = config.DefaultRouterBinary
	}
	proc, err := launcher.Start("network_router", launcher.Options{
		Binary: binary,
		Args:   Args(cfg),
		Port:   cfg.Port,
		Output: m.opts.Output,
		Logger: m.logger,
	})
	if err != nil {
		return nil, err
	}

	h := &Handle{
		Port:   cfg.Port,
		proc:   proc,
		cancel: make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: m.logger,
	}
	go h.supervise(m.opts.Grace)

	m.logger.Info("router started", "port", cfg.Port, "defects", cfg.Defects.Normalize())
	return h, nil
}

func (h *Handle) supervise(grace time.Duration) {
	defer close(h.done)
	defer h.proc.Close()

	select {
	case <-h.proc.Done():
		h.logger.Warn("router exited before shutdown", "port", h.Port)
		return
	case <-h.cancel:
	}

	if err := h.proc.Signal(unix.SIGTERM); err != nil {
		h.logger.Warn("router SIGTERM failed", "error", err)
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-h.proc.Done():
		h.logger.Info("router stopped", "port", h.Port)
		return
	case <-timer.C:
	}

	h.logger.Warn("router ignored SIGTERM, killing", "grace", grace)
	if err := h.proc.Kill(); err != nil {
		h.stopErr = err
	}
	<-h.proc.Done()
}

// Cancel asks the router to stop and returns without waiting. Only the
// first call signals; it never blocks, even after the router has exited.
func (h *Handle) Cancel() {
	h.signalled.Do(func() {
		select {
		case h.cancel <- struct{}{}:
		default:
		}
	})
}

// Done is closed once the router has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Shutdown signals the router to stop and waits for it to exit or ctx to
// end. If ctx ends first the router is killed.
func (h *Handle) Shutdown(ctx context.Context) error {
	h.Cancel()

	select {
	case <-h.done:
		return h.stopErr
	case <-ctx.Done():
		if err := h.proc.Kill(); err != nil {
			return fmt.Errorf("kill router: %w", err)
		}
		return ctx.Err()
	}
}

// WaitReady polls the router's websocket endpoint until it answers, the
// router exits, or timeout elapses.
func (m *Manager) WaitReady(ctx context.Context, h *Handle, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("ws://127.0.0.1:%d", h.Port)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = m.probe(ctx, url); lastErr == nil {
			m.logger.Debug("router reachable", "url", url)
			return nil
		}
		select {
		case <-h.done:
			return fmt.Errorf("router exited before becoming reachable: %w", lastErr)
		case <-ctx.Done():
			return fmt.Errorf("router on port %d not reachable after %s: %w", h.Port, timeout, lastErr)
		case <-ticker.C:
		}
	}
}

// probe succeeds if something is listening at url. A refused websocket
// upgrade still proves the port is served.
func (m *Manager) probe(ctx context.Context, url string) error {
	conn, resp, err := m.dialer.DialContext(ctx, url, nil)
	if err == nil {
		return conn.Close()
	}
	if resp != nil {
		defer resp.Body.Close()
		if errors.Is(err, websocket.ErrBadHandshake) && resp.StatusCode != http.StatusServiceUnavailable {
			return nil
		}
	}
	return err
}
