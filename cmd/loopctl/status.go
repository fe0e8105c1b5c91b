package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/relliv/loopctl/internal/config"
	"github.com/relliv/loopctl/internal/recorder"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current run's status",
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		watch, _ := cmd.Flags().GetBool("watch")

		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if !watch {
			printStatus(cfg.Paths.StatusFile)
			return
		}

		for {
			fmt.Print("\033[H\033[2J")
			printStatus(cfg.Paths.StatusFile)
			time.Sleep(time.Second)
		}
	},
}

func init() {
	statusCmd.Flags().Bool("watch", false, "Re-read and redraw the status document every second")
	rootCmd.AddCommand(statusCmd)
}

func printStatus(path string) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("=== loopctl status ==="))

	doc, err := recorder.ReadStatus(path)
	if err != nil {
		fmt.Printf("  %s no status document yet (%v)\n\n", gray("○"), err)
		return
	}

	statusIcon := gray("○")
	statusText := "stopped"
	if doc.Running {
		statusIcon = green("●")
		statusText = "running"
	}

	fmt.Printf("  %s %s\n", statusIcon, statusText)
	fmt.Printf("    PID:              %d\n", doc.PID)
	fmt.Printf("    Host:             %s\n", doc.Hostname)
	fmt.Printf("    Iteration:        %d\n", doc.CurrentIteration)
	fmt.Printf("    Global count:     %d\n", doc.GlobalIterations)
	fmt.Printf("    Productive count: %d\n", doc.ProductiveCount)

	rateColor := green
	if doc.ConsecutiveRateHits > 0 {
		rateColor = yellow
	}
	fmt.Printf("    Consecutive 429s: %s\n", rateColor(fmt.Sprintf("%d", doc.ConsecutiveRateHits)))

	if doc.LastOutcome != "" {
		outcomeColor := green
		if doc.LastOutcome != "productive" {
			outcomeColor = yellow
		}
		fmt.Printf("    Last outcome:     %s\n", outcomeColor(doc.LastOutcome))
		fmt.Printf("    Last committed:   %v\n", doc.LastCommitted)
	}

	modeColor := green
	if doc.ShutdownMode != "running" {
		modeColor = red
	}
	fmt.Printf("    Shutdown mode:    %s\n", modeColor(doc.ShutdownMode))
	fmt.Printf("    Updated:          %s (%v ago)\n", doc.UpdatedAt.Format("15:04:05"), time.Since(doc.UpdatedAt).Round(time.Second))
	fmt.Println()
}
