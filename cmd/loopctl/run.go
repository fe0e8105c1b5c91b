package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/relliv/loopctl/internal/config"
	"github.com/relliv/loopctl/internal/driver"
	"github.com/relliv/loopctl/internal/shutdown"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the supervised session loop",
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("%s starting loopctl (agent=%s)\n", cyan("→"), cfg.Agent.Binary)

		coord := shutdown.New(cfg.Shutdown.DoubleInterruptWindow, cfg.Shutdown.StopFile)
		defer coord.Close()

		d, err := driver.New(cfg, coord)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		reason, err := d.Run(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()

		switch reason.String() {
		case "shutdown_requested":
			fmt.Printf("%s stopped: %s\n", yellow("⏹"), reason)
			os.Exit(0)
		case "rate_limit_circuit_breaker":
			fmt.Printf("%s stopped: %s\n", yellow("⚠"), reason)
			os.Exit(2)
		default:
			fmt.Printf("%s stopped: %s\n", green("✓"), reason)
			os.Exit(0)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
