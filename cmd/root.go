// Package cmd assembles the bucketbrigade command tree, mirroring the
// teacher's root.go + per-command subpackage layout.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/bucketbrigade/cmd/calibratelatency"
	"github.com/tphakala/bucketbrigade/cmd/calibratevolume"
	"github.com/tphakala/bucketbrigade/cmd/start"
	"github.com/tphakala/bucketbrigade/internal/config"
)

// RootCommand creates the root cobra command and wires every subcommand.
func RootCommand() *cobra.Command {
	var configPath string
	cfg := config.Defaults()

	rootCmd := &cobra.Command{
		Use:   "bucketbrigade",
		Short: "Bucket brigade streaming core CLI",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "Server websocket endpoint")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			return nil
		}
		serverURLSet := cmd.Flags().Changed("server-url")
		serverURL := cfg.ServerURL

		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config %s: %w", configPath, err)
		}
		cfg = loaded
		if serverURLSet {
			cfg.ServerURL = serverURL
		}
		return nil
	}

	rootCmd.AddCommand(
		start.Command(&cfg),
		calibratelatency.Command(&cfg),
		calibratevolume.Command(&cfg),
	)

	return rootCmd
}
