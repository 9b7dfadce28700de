// Package cli is the foldly command line. Without a subcommand it serves
// the HTTP API.
package cli

import (
	"fmt"

	"foldly/upload-api/config"
	"foldly/upload-api/pkg/logger"

	"github.com/spf13/cobra"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "foldly",
	Short:         "Foldly upload service",
	Long:          "Resumable multi provider upload service for workspaces and shared links",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Setup(cmd.Flags()); err != nil {
			return err
		}

		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("invalid configuration, %w", err)
		}

		if err := logger.Setup(c.App.LogLevel); err != nil {
			return err
		}

		cfg = c
		return nil
	},
	RunE: runServe,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the config file (default ./config.toml)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newReconcileCmd())
	rootCmd.AddCommand(newUploadCmd())
}
