// Command ota-agent is the agent binary: a single long-running process
// (the "run" subcommand) plus two thin CLI clients ("status",
// "update-now") that drive it over the loopback control surface.
// Grounded on the teacher's cmd/warren/main.go: a cobra root command
// with persistent logging flags, cobra.OnInitialize wiring the logger,
// and subcommands that print human-readable progress as they go.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/ota-agent/internal/otalog"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ota-agent",
	Short: "OTA firmware-update agent",
	Long: `ota-agent is a single-board firmware-update agent: it polls or
subscribes for job documents, downloads and verifies firmware images
into the inactive flash slot, and reports the outcome back to the
update server.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(updateNowCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	otalog.Init(otalog.Config{
		Level:      otalog.Level(logLevel),
		JSONOutput: logJSON,
	})
}
