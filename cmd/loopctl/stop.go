package main

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/relliv/loopctl/internal/config"
	"github.com/relliv/loopctl/internal/recorder"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal a running loopctl instance to stop",
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		force, _ := cmd.Flags().GetBool("force")

		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		doc, err := recorder.ReadStatus(cfg.Paths.StatusFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: no running instance found: %v\n", err)
			os.Exit(1)
		}
		if !doc.Running {
			fmt.Println("No running instance.")
			return
		}

		if err := stopInstance(doc.PID, timeout, force); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	stopCmd.Flags().Duration("timeout", 30*time.Second, "How long to wait for graceful exit before escalating")
	stopCmd.Flags().Bool("force", false, "Send SIGKILL immediately instead of SIGINT")
	rootCmd.AddCommand(stopCmd)
}

func stopInstance(pid int, timeout time.Duration, force bool) error {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	if !processExists(pid) {
		fmt.Printf("%s process %d is not running\n", yellow("⚠"), pid)
		return nil
	}

	sig := syscall.SIGINT
	if force {
		sig = syscall.SIGKILL
	}
	fmt.Printf("%s sending %v to pid %d\n", cyan("→"), sig, pid)
	if err := syscall.Kill(pid, sig); err != nil {
		return fmt.Errorf("signalling pid %d: %w", pid, err)
	}

	if force {
		return nil
	}

	if waitForProcessExit(pid, timeout) {
		fmt.Printf("%s stopped\n", green("✓"))
		return nil
	}

	fmt.Printf("%s did not exit within %v, sending SIGKILL\n", yellow("⚠"), timeout)
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("force killing pid %d: %w", pid, err)
	}
	waitForProcessExit(pid, timeout)
	return nil
}

func processExists(pid int) bool {
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

func waitForProcessExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processExists(pid) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return !processExists(pid)
}
