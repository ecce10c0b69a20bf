package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/djinnbot/djinnbot/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter .djinnbot.yaml in the current directory",
	RunE: func(_ *cobra.Command, _ []string) error {
		const path = ".djinnbot.yaml"
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := os.WriteFile(path, []byte(config.DefaultConfigYAML), 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}
