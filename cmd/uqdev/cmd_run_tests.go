package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"grimm.is/uqdev/internal/build"
	"grimm.is/uqdev/internal/cleanup"
	"grimm.is/uqdev/internal/clock"
	"grimm.is/uqdev/internal/config"
	"grimm.is/uqdev/internal/history"
	"grimm.is/uqdev/internal/logging"
	"grimm.is/uqdev/internal/metrics"
	"grimm.is/uqdev/internal/report"
	"grimm.is/uqdev/internal/router"
	"grimm.is/uqdev/internal/runner"
)

type runTestsOptions struct {
	configPath  string
	format      string
	failFast    bool
	metricsFile string
	noHistory   bool
}

func newRunTestsCmd() *cobra.Command {
	var opts runTestsOptions

	cmd := &cobra.Command{
		Use:   "run-tests",
		Short: "Run uqbar integration tests",
		Long: `Run every test described by the configuration file. Each test gets a
fresh network router and node fleet, which are torn down and scrubbed of
node state whatever the verdict.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(opts.configPath); err != nil {
				return fmt.Errorf("configuration file not found: %s", opts.configPath)
			}
			cmd.SilenceUsage = true

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			return exitFor(runTests(ctx, opts, cmd.OutOrStdout()))
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", config.DefaultConfigFileName, "Path to tests configuration file")
	cmd.Flags().StringVar(&opts.format, "format", string(report.FormatText), "Report format (text, tap)")
	cmd.Flags().BoolVar(&opts.failFast, "fail-fast", false, "Stop after the first test that does not pass")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the run")
	cmd.Flags().BoolVar(&opts.noHistory, "no-history", false, "Do not record verdicts in the history database")
	return cmd
}

func runTests(ctx context.Context, opts runTestsOptions, out io.Writer) (int, error) {
	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return runner.ExitFailed, err
	}
	reporter, err := report.New(report.Format(opts.format), out)
	if err != nil {
		return runner.ExitFailed, err
	}

	logger := logging.WithComponent("run-tests")
	reg := metrics.New()

	var recorder runner.Recorder
	if !opts.noHistory {
		store, err := history.Open(filepath.Join(cfg.ResultsDir, history.FileName), logging.WithComponent("history"), clock.Real{})
		if err != nil {
			logger.Warn("history disabled", "error", err)
		} else {
			defer store.Close()
			recorder = store
		}
	}

	coord := runner.New(runner.Options{
		Builder: build.New(build.Options{
			Command: cfg.BuildCommand,
			Logger:  logging.WithComponent("build"),
			Metrics: reg,
		}),
		Routers:    runner.NewRouters(router.NewManager(router.Options{Logger: logging.WithComponent("router")})),
		Fleet:      runner.NewFleet(logging.WithComponent("fleet"), reg),
		Injector:   runner.NewInjector(nil, logging.WithComponent("inject")),
		Reporter:   reporter,
		History:    recorder,
		Metrics:    reg,
		Logger:     logging.WithComponent("runner"),
		ConfigPath: opts.configPath,
		FailFast:   opts.failFast,
		Grace:      cleanup.DefaultGrace,
	})

	sum, err := coord.Run(ctx, cfg)
	if opts.metricsFile != "" {
		if werr := reg.WriteTextfile(opts.metricsFile); werr != nil {
			logger.Warn("failed to write metrics", "error", werr)
		}
	}
	if err != nil {
		if sum != nil && sum.Interrupted {
			return runner.ExitInterrupted, err
		}
		return runner.ExitFailed, err
	}
	if sum.Interrupted {
		logger.Warn("run interrupted", "completed", len(sum.Results), "total", len(cfg.Tests))
	}
	return sum.ExitCode(), nil
}

// exitFor maps a run outcome to the error RunE returns. A status other than
// 0 or 1 is kept even when err is set.
func exitFor(code int, err error) error {
	switch {
	case code == runner.ExitPassed && err == nil:
		return nil
	case code == runner.ExitFailed && err != nil:
		return err
	}
	return &exitError{code: code, err: err}
}
