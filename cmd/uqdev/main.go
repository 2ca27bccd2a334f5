// Command uqdev is the development tool for uqbar packages: it builds them,
// loads them onto running nodes, injects messages, and runs multi-node
// integration tests.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"grimm.is/uqdev/internal/logging"
)

var version = "0.1.0"

// exitError carries a process status other than 1 out of a command, with
// the error that caused it, if any.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	os.Exit(execute(newRootCmd(), os.Args[1:], os.Stderr))
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "uqdev",
		Short:   "Development tools for uqbar",
		Version: version,
		Long: `uqdev builds uqbar packages, loads them onto running nodes, injects
messages, and runs integration tests against a fleet of fake nodes.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(cmd)
		},
	}

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")

	rootCmd.AddCommand(
		newRunTestsCmd(),
		newInjectMessageCmd(),
		newBuildCmd(),
		newStartPackageCmd(),
		newHistoryCmd(),
	)
	return rootCmd
}

func setupLogging(cmd *cobra.Command) error {
	levelName, _ := cmd.Flags().GetString("log-level")
	jsonOut, _ := cmd.Flags().GetBool("log-json")

	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.JSON = jsonOut
	cfg.Output = cmd.ErrOrStderr()
	logging.SetDefault(logging.New(cfg))
	return nil
}

// execute runs the command tree and maps its outcome to an exit status.
func execute(rootCmd *cobra.Command, args []string, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(stderr, "Error:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return 1
}
