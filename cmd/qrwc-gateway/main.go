// Command qrwc-gateway runs the Q-SYS JSON-RPC-over-WebSocket control-plane
// gateway: it dials a Q-SYS Core, exposes discovered components and controls
// as a fixed set of MCP tools, and optionally records control-change events
// to a durable, day-rotated SQLite event store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qrwc/gateway/logger"
)

var verbosity int

var rootCmd = &cobra.Command{
	Use:   "qrwc-gateway",
	Short: "Q-SYS control-plane gateway",
	Long: `qrwc-gateway bridges a Q-SYS Core's QRWC JSON-RPC-over-WebSocket
protocol to a fixed set of MCP tools: component/control discovery, control
read/write, change-group subscriptions with auto-poll, raw command passthrough,
and connection management.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput := os.Getenv("MCP_MODE") != ""
		if err := logger.Initialize(jsonOutput, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v, -vv, -vvv, -vvvv)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
