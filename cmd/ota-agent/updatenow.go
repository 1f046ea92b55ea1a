package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/ota-agent/internal/control"
)

func init() {
	updateNowCmd.Flags().String("control-addr", "127.0.0.1:7777", "address of the running agent's control surface")
}

var updateNowCmd = &cobra.Command{
	Use:   "update-now",
	Short: "Ask the running agent to check for an update immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("control-addr")

		client, err := control.Dial(addr)
		if err != nil {
			return fmt.Errorf("connecting to agent at %s: %w", addr, err)
		}
		defer client.Close()

		resp, err := client.UpdateNow(context.Background())
		if err != nil {
			return fmt.Errorf("requesting update-now: %w", err)
		}

		if resp.Accepted {
			fmt.Println("Update check requested.")
		} else {
			fmt.Println("Agent did not accept the request.")
		}
		return nil
	},
}
