// Package launcher spawns node and router processes attached to a
// pseudo-terminal and controls their shutdown.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"grimm.is/uqdev/internal/logging"
)

// interruptByte is what a terminal sends for Ctrl-C.
const interruptByte = 0x03

var (
	ErrBinaryNotFound = errors.New("binary not found")
	ErrPortInUse      = errors.New("port already bound")
	ErrTerminal       = errors.New("terminal allocation failed")
	ErrHome           = errors.New("home directory unavailable")
)

// LaunchError reports why a process could not be spawned. Reason is one of
// the Err* sentinels.
type LaunchError struct {
	Name   string
	Reason error
	Err    error
}

func (e *LaunchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("launch %s: %v", e.Name, e.Reason)
	}
	return fmt.Sprintf("launch %s: %v: %v", e.Name, e.Reason, e.Err)
}

func (e *LaunchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

// Options describe a process to spawn.
type Options struct {
	Binary string
	Args   []string
	Dir    string
	Env    []string

	// Port is checked to be free before spawning. Zero skips the check.
	Port uint16

	// Output receives everything the process writes to its terminal.
	// Nil discards it.
	Output io.Writer

	Logger *logging.Logger
}

// Process is a running child attached to the slave side of a pty.
// The child leads its own session, so its pid is also its process group.
type Process struct {
	Name string
	Port uint16
	Cmd  *exec.Cmd
	Pty  *os.File

	logger  *logging.Logger
	done    chan struct{}
	drained chan struct{}
	err     error

	closeOnce sync.Once
}

// Start spawns opts.Binary under a newly allocated pty.
func Start(name string, opts Options) (*Process, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.WithComponent("launcher")
	}

	bin, err := FindBinary(opts.Binary)
	if err != nil {
		return nil, &LaunchError{Name: name, Reason: ErrBinaryNotFound, Err: err}
	}

	if opts.Port != 0 {
		if err := checkPortFree(opts.Port); err != nil {
			return nil, &LaunchError{Name: name, Reason: ErrPortInUse, Err: err}
		}
	}

	cmd := exec.Command(bin, opts.Args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	// pty.Start makes the child a session leader with the pty as its
	// controlling terminal, so the interrupt byte reaches its process group.
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, &LaunchError{Name: name, Reason: ErrTerminal, Err: err}
	}

	p := &Process{
		Name:   name,
		Port:   opts.Port,
		Cmd:    cmd,
		Pty:    ptmx,
		logger:  logger,
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}

	out := opts.Output
	if out == nil {
		out = io.Discard
	}
	go func() {
		defer close(p.drained)
		// Reads fail with EIO once the child side closes.
		_, _ = io.Copy(out, ptmx)
	}()

	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()

	logger.Info("process started", "name", name, "pid", cmd.Process.Pid, "binary", bin, "port", opts.Port)
	return p, nil
}

// Pid returns the child's pid, which is also its process group id.
func (p *Process) Pid() int {
	if p.Cmd == nil || p.Cmd.Process == nil {
		return 0
	}
	return p.Cmd.Process.Pid
}

// RequestGracefulShutdown asks the process to exit by writing the interrupt
// byte to its terminal. If the terminal is unusable it falls back to sending
// SIGINT to the process group.
func (p *Process) RequestGracefulShutdown() error {
	if p.Exited() {
		return nil
	}
	if p.Pty != nil {
		_, err := p.Pty.Write([]byte{interruptByte})
		if err == nil {
			return nil
		}
		p.logger.Debug("pty interrupt failed, signalling group", "name", p.Name, "error", err)
	}
	return p.Signal(unix.SIGINT)
}

// Signal delivers sig to the whole process group.
func (p *Process) Signal(sig unix.Signal) error {
	pid := p.Pid()
	if pid <= 0 {
		return fmt.Errorf("%s: no process", p.Name)
	}
	if err := unix.Kill(-pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal %s group %d: %w", p.Name, pid, err)
	}
	return nil
}

// Kill sends SIGKILL to the process group.
func (p *Process) Kill() error {
	return p.Signal(unix.SIGKILL)
}

// Done is closed when the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// OutputDone is closed once everything the process wrote to its terminal
// has been copied to Options.Output. Close also ends the copy.
func (p *Process) OutputDone() <-chan struct{} {
	return p.drained
}

// Exited reports whether the process has been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits or ctx is done. It returns the
// process's exit error, or ctx.Err().
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop requests a graceful shutdown, waits up to grace, and then kills the
// process group. It returns once the process has been reaped.
func (p *Process) Stop(grace time.Duration) error {
	if err := p.RequestGracefulShutdown(); err != nil {
		p.logger.Warn("graceful shutdown request failed", "name", p.Name, "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		p.Close()
		return nil
	case <-timer.C:
	}

	p.logger.Warn("process ignored interrupt, killing", "name", p.Name, "grace", grace)
	if err := p.Kill(); err != nil {
		return err
	}
	<-p.done
	p.Close()
	return nil
}

// Close releases the pty master. It is safe to call more than once.
func (p *Process) Close() {
	p.closeOnce.Do(func() {
		if p.Pty != nil {
			_ = p.Pty.Close()
		}
	})
}

func checkPortFree(port uint16) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return err
	}
	return ln.Close()
}

// FindBinary resolves name to an executable path. Names containing a path
// separator are used as given.
func FindBinary(name string) (string, error) {
	if name == "" {
		return "", errors.New("empty binary name")
	}
	if filepath.Base(name) != name {
		if info, err := os.Stat(name); err != nil {
			return "", err
		} else if info.IsDir() {
			return "", fmt.Errorf("%s is a directory", name)
		}
		return name, nil
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}

	// Common locations if not in PATH
	home, _ := os.UserHomeDir()
	extraPaths := []string{
		filepath.Join(home, ".cargo", "bin", name),
		"/usr/local/bin/" + name,
		"/opt/homebrew/bin/" + name,
		"/usr/bin/" + name,
		"/bin/" + name,
	}
	for _, p := range extraPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: not found in PATH", name)
}
