package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"grimm.is/uqdev/internal/clock"
	"grimm.is/uqdev/internal/config"
	"grimm.is/uqdev/internal/history"
	"grimm.is/uqdev/internal/logging"
)

const defaultHistoryLimit = 20

func newHistoryCmd() *cobra.Command {
	var resultsDir string

	cmd := &cobra.Command{
		Use:   "history [limit]",
		Short: "Show per-test pass rates and streaks from previous runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit := defaultHistoryLimit
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid limit %q", args[0])
				}
				limit = n
			}
			cmd.SilenceUsage = true

			store, err := history.Open(filepath.Join(resultsDir, history.FileName), logging.WithComponent("history"), clock.Real{})
			if err != nil {
				return err
			}
			defer store.Close()

			health, err := store.Health(cmd.Context())
			if err != nil {
				return err
			}
			history.PrintSummary(cmd.OutOrStdout(), health, limit, time.Now())
			return nil
		},
	}

	cmd.Flags().StringVar(&resultsDir, "results-dir", config.DefaultResultsDir, "Directory holding history.db")
	return cmd
}
