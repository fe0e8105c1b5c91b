package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/relliv/loopctl/internal/config"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow the current session transcript or event log",
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		showEvents, _ := cmd.Flags().GetBool("events")

		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		path := latestSessionFile(cfg.Paths.SessionDir)
		if showEvents {
			path = cfg.Paths.EventLog
		}
		if path == "" {
			fmt.Println("No session transcript found yet.")
			return
		}

		followFile(path)
	},
}

func init() {
	tailCmd.Flags().Bool("events", false, "Follow the event log instead of the session transcript")
	rootCmd.AddCommand(tailCmd)
}

func latestSessionFile(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var latest string
	var latestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest = e.Name()
			latestMod = info.ModTime()
		}
	}
	if latest == "" {
		return ""
	}
	return filepath.Join(dir, latest)
}

// followFile prints path's existing contents, then polls for appended
// lines until interrupted, matching cmd/vc/tail.go's follow-mode idiom.
func followFile(path string) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Printf("%s following %s (Ctrl+C to stop)\n\n", cyan("👁"), path)

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			fmt.Println("\nstopped following")
			return
		case <-ticker.C:
			for {
				line, err := reader.ReadString('\n')
				if line != "" {
					fmt.Print(line)
				}
				if err != nil {
					break
				}
			}
		}
	}
}
