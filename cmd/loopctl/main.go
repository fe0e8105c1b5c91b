// Command loopctl supervises bounded sessions of an external coding-agent
// CLI, enforcing liveness, productivity, and retry/backoff invariants.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
