package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "loopctl",
	Short: "Supervise bounded coding-agent sessions",
	Long: `loopctl drives an external coding-agent CLI through repeated bounded
sessions, enforcing liveness, productivity, and retry/backoff invariants,
and recording a crash-consistent status document and event log.`,
}

func init() {
	rootCmd.PersistentFlags().String("config", ".loopctl/config.yaml", "Path to the loopctl config file")
}
