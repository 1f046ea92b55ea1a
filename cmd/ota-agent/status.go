package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/ota-agent/internal/control"
)

func init() {
	statusCmd.Flags().String("control-addr", "127.0.0.1:7777", "address of the running agent's control surface")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the running agent's current state",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("control-addr")

		client, err := control.Dial(addr)
		if err != nil {
			return fmt.Errorf("connecting to agent at %s: %w", addr, err)
		}
		defer client.Close()

		resp, err := client.Status(context.Background())
		if err != nil {
			return fmt.Errorf("querying status: %w", err)
		}

		fmt.Printf("State:         %s\n", resp.State)
		fmt.Printf("Started at:    %s\n", resp.StartedAt)
		fmt.Printf("Progress:      %d/%d bytes (%.1f%%)\n", resp.BytesWritten, resp.TotalSize, resp.Percentage)
		fmt.Printf("Retry count:   %d\n", resp.RetryCount)
		fmt.Printf("Connect retry: %d\n", resp.ConnectRetry)
		if resp.LastError != "" {
			fmt.Printf("Last error:    %s\n", resp.LastError)
		}
		return nil
	},
}
