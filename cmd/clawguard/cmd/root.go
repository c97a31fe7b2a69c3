// Package cmd provides the CLI commands for clawguard.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "clawguard",
	Short: "clawguard - security core for autonomous agents",
	Long: `clawguard is the in-process security perimeter for an autonomous
LLM agent: trust zoning, deterministic policy evaluation, kill switch and
lockdown, secret redaction, rate and budget guardrails, and a redacted
audit trail.

Quick start:
  1. Optionally create a config file: clawguard.yaml
  2. Run: clawguard serve

Configuration:
  Config is loaded from clawguard.yaml in the current directory,
  $HOME/.clawguard/, or /etc/clawguard/. Environment variables such as
  KILL_SWITCH, LOCKDOWN_MODE, HITL_MODE, and the budget and rate limit
  variables override file values.

Commands:
  serve       Start the control surface and background sweepers
  status      Print the security status of a running instance
  hash-code   Generate an argon2id hash for a confirm code
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./clawguard.yaml)")
}
