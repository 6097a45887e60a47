// Command rallypoint runs a game server and its account tools.
package main

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"github.com/rallypoint/rallypoint/internal/core"
)

var ConfigFlag string

func main() {
	rootCmd := &cobra.Command{
		Use:   "rallypoint",
		Short: "Rallypoint game server and related tools",
		RunE:  ServerCommand,
	}
	rootCmd.PersistentFlags().StringVarP(&ConfigFlag, "config", "c", ".", "Path to the directory containing config.yaml")

	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountDeleteCmd)
	rootCmd.AddCommand(accountCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*core.Config, error) {
	cfg, err := core.LoadConfig(ConfigFlag)
	if err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", ConfigFlag, err)
	}
	return cfg, nil
}
