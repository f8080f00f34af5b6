// Package cmd implements the CLI (Command Line Interface) of the application.
//
// serve - The main application service entry point
// migrate - Create or update the database schema
// server create - Register a game server and print its key
// server list - List registered game servers
// server delete - Remove a game server
// rpc purge - Remove expired and fully acknowledged sync events
package cmd

import (
	"context"
	"os"

	"github.com/gflze/gflbans/internal/config"
	"github.com/spf13/cobra"
)

var cfgFile string //nolint:gochecknoglobals

// Execute adds all child commands to the root command and runs it. This is called by main.main().
func Execute() {
	rootCmd := &cobra.Command{
		Use:     "gflbans",
		Short:   "Infraction tracking and enforcement sync for game servers",
		Version: BuildVersion,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is gflbans.yml in $HOME or .)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(rpcCmd())

	if errExecute := rootCmd.Execute(); errExecute != nil {
		os.Exit(1)
	}
}

// openApp reads the config and opens the configured store. The caller must Close the returned app.
func openApp(ctx context.Context) (*App, error) {
	conf, errConfig := config.ReadStaticConfig(cfgFile)
	if errConfig != nil {
		return nil, errConfig
	}

	app := NewApp(conf)
	if errOpen := app.Open(ctx); errOpen != nil {
		app.Close()

		return nil, errOpen
	}

	return app, nil
}
