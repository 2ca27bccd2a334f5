package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"grimm.is/uqdev/internal/inject"
	"grimm.is/uqdev/internal/logging"
)

func newStartPackageCmd() *cobra.Command {
	var pkgDir, url, node string

	cmd := &cobra.Command{
		Use:   "start-package",
		Short: "Load a built package onto a running node and install it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			var target *string
			if node != "" {
				target = &node
			}
			client := inject.NewClient(url, inject.WithLogger(logging.WithComponent("inject")))
			meta, err := client.LoadPackage(cmd.Context(), pkgDir, target)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started %s on %s\n", meta.ID(), url)
			return nil
		},
	}

	cmd.Flags().StringVarP(&pkgDir, "pkg-dir", "p", "", "Package project directory")
	cmd.Flags().StringVarP(&url, "url", "u", "", "Node URL, e.g. http://localhost:8080")
	cmd.Flags().StringVarP(&node, "node", "n", "", "Node ID (default: our)")
	_ = cmd.MarkFlagRequired("pkg-dir")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
