// Package main implements the hived CLI: the aggregation daemon plus
// maintenance commands for the durable store and agent trust weights.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the optional YAML config file location.
	configPath string
	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hived",
	Short: "Multi-agent signal aggregation daemon",
	Long: `hived runs the shared signal board, the durable memory store, the
TF-IDF memory retriever and the agent trust weight manager, exposing them
over an HTTP API.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(recalcCmd)
	rootCmd.AddCommand(outcomeCmd)
}
