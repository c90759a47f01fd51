// Package commands implements the autotrade command line.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFiles   []string
)

var rootCmd = &cobra.Command{
	Use:   "autotrade",
	Short: "Realtime KIS market data to strategy signals",
	Long: `autotrade streams overseas quotes and trades from Korea Investment & Securities,
computes technical indicators per instrument and evaluates user strategies on every update.

Actionable signals are persisted, optionally forwarded to NATS or Kafka and, for strategies
with auto trading enabled, handed to the paper executor.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "path to the YAML configuration")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files with secrets (default .env)")
}
