// Package build compiles test packages and resolves the node runtime binary.
package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"grimm.is/uqdev/internal/config"
	"grimm.is/uqdev/internal/logging"
	"grimm.is/uqdev/internal/metrics"
)

// Error is a failed build with the tool's combined output.
type Error struct {
	Path   string
	Output string
	Err    error
}

func (e *Error) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("build %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("build %s: %v\n%s", e.Path, e.Err, out)
}

func (e *Error) Unwrap() error { return e.Err }

// CommandRunner runs args in dir, writing combined output to out.
type CommandRunner func(ctx context.Context, dir string, args []string, out io.Writer) error

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, dir string, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("empty build command")
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd.Run()
}

// Options configure a Builder.
type Options struct {
	// Command is the build command, run in each package or repo dir.
	Command []string
	// CacheDir holds fetched runtimes. Defaults to ~/.uqdev/runtime.
	CacheDir string
	// ReleaseBaseURL overrides the runtime release download location.
	ReleaseBaseURL string
	Runner         CommandRunner
	Logger         *logging.Logger
	Metrics        *metrics.Registry
}

// Builder compiles packages and resolves runtimes.
type Builder struct {
	opts   Options
	logger *logging.Logger
}

// New returns a Builder.
func New(opts Options) *Builder {
	if len(opts.Command) == 0 {
		opts.Command = config.DefaultBuildCommand
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner
	}
	if opts.ReleaseBaseURL == "" {
		opts.ReleaseBaseURL = DefaultReleaseBaseURL
	}
	if opts.CacheDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			opts.CacheDir = filepath.Join(home, ".uqdev", "runtime")
		} else {
			opts.CacheDir = filepath.Join(os.TempDir(), "uqdev-runtime")
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.WithComponent("build")
	}
	return &Builder{opts: opts, logger: logger}
}

// BuildPackage compiles the package at path. With verbose set the tool's
// output is also logged line by line.
func (b *Builder) BuildPackage(ctx context.Context, path string, verbose bool) error {
	err := b.run(ctx, path, verbose)
	if b.opts.Metrics != nil {
		b.opts.Metrics.RecordBuild(err)
	}
	return err
}

// BuildPackages compiles every path in order and stops at the first failure.
func (b *Builder) BuildPackages(ctx context.Context, paths []string, verbose bool) error {
	for _, p := range paths {
		if err := b.BuildPackage(ctx, p, verbose); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) run(ctx context.Context, dir string, verbose bool) error {
	if info, err := os.Stat(dir); err != nil {
		return &Error{Path: dir, Err: err}
	} else if !info.IsDir() {
		return &Error{Path: dir, Err: fmt.Errorf("not a directory")}
	}

	var out bytes.Buffer
	var w io.Writer = &out
	var lw *logging.LineWriter
	if verbose {
		lw = logging.NewLineWriter(b.logger.With("path", dir), logging.LevelInfo)
		w = io.MultiWriter(&out, lw)
	}

	b.logger.Info("building", "path", dir, "command", strings.Join(b.opts.Command, " "))
	err := b.opts.Runner(ctx, dir, b.opts.Command, w)
	if lw != nil {
		lw.Flush()
	}
	if err != nil {
		return &Error{Path: dir, Output: out.String(), Err: err}
	}
	return nil
}
