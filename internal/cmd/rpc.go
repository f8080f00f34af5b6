package cmd

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

func rpcCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rpc",
		Short: "Server sync maintenance",
	}

	cmd.AddCommand(rpcPurgeCmd())

	return cmd
}

func rpcPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove expired and fully acknowledged sync events",
		Long: `Runs the same cleanup as the scheduled purge once: events older than rpc.retention, and broadcasts
every enabled server has acknowledged, are deleted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, errApp := openApp(cmd.Context())
			if errApp != nil {
				return errApp
			}
			defer app.Close()

			removed, errPurge := app.broker.Purge(cmd.Context(), time.Now())
			if errPurge != nil {
				return errPurge
			}

			slog.Info("Purged rpc events", slog.Int64("removed", removed))

			return nil
		},
	}
}
