package cmd

import (
	"fmt"

	"github.com/alexedwards/argon2id"
	"github.com/spf13/cobra"
)

var hashCodeCmd = &cobra.Command{
	Use:   "hash-code <code>",
	Short: "Generate an argon2id hash for a confirm code",
	Long: `Hash a kill-switch confirm code with argon2id. Useful for verifying
what the core stores in memory for KILL_SWITCH_CONFIRM_CODE; the plain
code itself is what the environment variable carries.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := argon2id.CreateHash(args[0], argon2id.DefaultParams)
		if err != nil {
			return fmt.Errorf("hashing failed: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashCodeCmd)
}
