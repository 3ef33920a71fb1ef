// Package main is the entry point for the fpserver CLI.
//
// Usage:
//
//	fpserver serve -c config.yaml    # Start the seller bot
//	fpserver validate -c config.yaml # Validate configuration
//	fpserver version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/random4ik-wat/FunPayServe-new-era/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "fpserver",
	Short: "Marketplace seller bot core",
	Long: `fpserver watches a marketplace seller account for new orders and chat
messages and notifies the operator.

It long-polls the marketplace runner endpoint through a resilient HTTP
transport (timeouts, retries with exponential backoff, a short GET cache and
a global rate limit) and exposes a health endpoint, a websocket event feed
and a key-protected status API.

Quick start:
  1. Put FPS_GOLDEN_KEY=<your golden_key> into .env
  2. Create config.yaml with: account: {golden_key: "${FPS_GOLDEN_KEY}"}
  3. Run: fpserver serve -c config.yaml`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
		fmt.Fprintf(cmd.OutOrStdout(), "  go: %s\n", info.GoVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before the config (ignored when missing)")
}
