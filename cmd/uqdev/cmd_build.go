package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"grimm.is/uqdev/internal/build"
	"grimm.is/uqdev/internal/logging"
)

func newBuildCmd() *cobra.Command {
	var quiet bool
	var command []string

	cmd := &cobra.Command{
		Use:   "build [project_dir]",
		Short: "Build an uqbar package",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				dir = args[0]
			}
			cmd.SilenceUsage = true

			b := build.New(build.Options{Command: command, Logger: logging.WithComponent("build")})
			if err := b.BuildPackage(cmd.Context(), dir, !quiet); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Built %s\n", dir)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print build tool output")
	cmd.Flags().StringSliceVar(&command, "command", nil, "Build command (default \"cargo build --release\")")
	return cmd
}
