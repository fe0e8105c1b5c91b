package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"

	"github.com/relliv/loopctl/internal/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check loopctl's environment before an unattended run",
	Long: `Run preflight checks to catch environment drift before a long
unattended run starts.

This command checks for:
- The configured agent binary resolving on PATH
- The agent's reported version against agent.min_version, if configured
- Writability of the session, status, event log, and counter directories

Exit codes:
  0 - All checks passed
  1 - One or more warnings (non-fatal)
  2 - A critical failure that would prevent "loopctl run" from starting`,
	Run: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Printf("%s Configuration\n", cyan("→"))
			fmt.Printf("  %s %v\n", red("✗"), err)
			os.Exit(2)
		}

		var warnings, criticalFailures []string

		fmt.Printf("Running loopctl health checks...\n\n")

		fmt.Printf("%s Agent binary\n", cyan("→"))
		binPath, err := exec.LookPath(cfg.Agent.Binary)
		if err != nil {
			criticalFailures = append(criticalFailures, fmt.Sprintf("agent binary %q not found on PATH", cfg.Agent.Binary))
			fmt.Printf("  %s %q not found on PATH\n", red("✗"), cfg.Agent.Binary)
		} else {
			fmt.Printf("  %s %s\n", green("✓"), binPath)
		}

		if binPath != "" && cfg.Agent.MinVersion != "" {
			fmt.Printf("%s Agent version\n", cyan("→"))
			version, err := detectAgentVersion(binPath)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("could not determine agent version: %v", err))
				fmt.Printf("  %s could not determine version\n", yellow("⚠"))
				if verbose {
					fmt.Printf("    %v\n", err)
				}
			} else if !versionSatisfies(version, cfg.Agent.MinVersion) {
				warnings = append(warnings, fmt.Sprintf("agent version %s is below configured minimum %s", version, cfg.Agent.MinVersion))
				fmt.Printf("  %s version %s is below minimum %s\n", yellow("⚠"), version, cfg.Agent.MinVersion)
			} else {
				fmt.Printf("  %s version %s satisfies minimum %s\n", green("✓"), version, cfg.Agent.MinVersion)
			}
		}

		fmt.Printf("%s Output directories\n", cyan("→"))
		for label, dir := range map[string]string{
			"session_dir":  cfg.Paths.SessionDir,
			"status_file":  filepath.Dir(cfg.Paths.StatusFile),
			"event_log":    filepath.Dir(cfg.Paths.EventLog),
			"counter_file": filepath.Dir(cfg.Paths.CounterFile),
		} {
			if err := checkWritable(dir); err != nil {
				criticalFailures = append(criticalFailures, fmt.Sprintf("%s (%s) is not writable: %v", label, dir, err))
				fmt.Printf("  %s %s (%s) not writable\n", red("✗"), label, dir)
			} else {
				fmt.Printf("  %s %s (%s)\n", green("✓"), label, dir)
			}
		}

		fmt.Println()
		switch {
		case len(criticalFailures) > 0:
			fmt.Printf("%s %d critical failure(s)\n", red("✗"), len(criticalFailures))
			os.Exit(2)
		case len(warnings) > 0:
			fmt.Printf("%s %d warning(s)\n", yellow("⚠"), len(warnings))
			os.Exit(1)
		default:
			fmt.Printf("%s all checks passed\n", green("✓"))
		}
	},
}

func init() {
	doctorCmd.Flags().Bool("verbose", false, "Print full error detail for failing checks")
	rootCmd.AddCommand(doctorCmd)
}

func detectAgentVersion(binPath string) (string, error) {
	out, err := exec.Command(binPath, "--version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("running %s --version: %w", binPath, err)
	}
	fields := strings.Fields(string(out))
	for _, f := range fields {
		if semver.IsValid("v" + strings.TrimPrefix(f, "v")) {
			return strings.TrimPrefix(f, "v"), nil
		}
	}
	return "", fmt.Errorf("no semver-looking token in output: %q", strings.TrimSpace(string(out)))
}

func versionSatisfies(version, min string) bool {
	return semver.Compare("v"+version, "v"+min) >= 0
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".loopctl-doctor-probe")
	f, err := os.Create(probe)
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(probe)
}
