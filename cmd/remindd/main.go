package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "remindd",
	Short: "Persistent job scheduler with a chat reminder front-end",
	Long: `remindd keeps recurring and one-shot jobs in a durable store, fires them
from its own timing loop and recovers them after downtime.

Examples:
  remindd serve --config ./config.json   # run the daemon
  remindd jobs --config ./config.json    # print the stored job document
  remindd fingerprint 42 7               # tag hash of the given items`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "./config.json", "path to the config file (json or yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(fingerprintCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
