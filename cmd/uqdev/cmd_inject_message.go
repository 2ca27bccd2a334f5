package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"grimm.is/uqdev/internal/inject"
	"grimm.is/uqdev/internal/logging"
)

// defaultExpectsResponse is the reply timeout, in seconds, for injected messages.
const defaultExpectsResponse uint64 = 15

func newInjectMessageCmd() *cobra.Command {
	var url, process, ipc, node, bytesPath string

	cmd := &cobra.Command{
		Use:   "inject-message",
		Short: "Inject a message to a running uqbar node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			var target *string
			if node != "" {
				target = &node
			}
			expects := defaultExpectsResponse
			msg, err := inject.NewMessage(process, ipc, target, &expects, bytesPath)
			if err != nil {
				return err
			}

			client := inject.NewClient(url, inject.WithLogger(logging.WithComponent("inject")))
			reply, err := client.Send(cmd.Context(), msg)
			if err != nil {
				return fmt.Errorf("inject message: %w", err)
			}
			if reply == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no response")
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(reply)
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "", "Node URL, e.g. http://localhost:8080")
	cmd.Flags().StringVarP(&process, "process", "p", "", "Process to send message to")
	cmd.Flags().StringVarP(&ipc, "ipc", "i", "", "IPC in JSON format")
	cmd.Flags().StringVarP(&node, "node", "n", "", "Node ID (default: our)")
	cmd.Flags().StringVarP(&bytesPath, "bytes", "b", "", "Send bytes from path")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("process")
	_ = cmd.MarkFlagRequired("ipc")
	return cmd
}
