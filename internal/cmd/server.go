package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/gflze/gflbans/internal/servers"
	"github.com/gofrs/uuid/v5"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func serverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Server functions",
		Long:  `Functionality for creating, listing or removing game server registrations`,
	}

	cmd.AddCommand(serverCreateCmd())
	cmd.AddCommand(serverListCmd())
	cmd.AddCommand(serverDeleteCmd())

	return cmd
}

func serverCreateCmd() *cobra.Command {
	var req servers.RequestServerCreate

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a server",
		Long:  `Register a new game server. The printed key must be added to the server plugin config.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, errApp := openApp(cmd.Context())
			if errApp != nil {
				return errApp
			}
			defer app.Close()

			created, errCreate := app.servers.Create(cmd.Context(), req)
			if errCreate != nil {
				return errCreate
			}

			slog.Info("Added server successfully. This key must be added to the server plugin config",
				slog.String("server_id", created.Server.ServerID.String()), slog.String("name", created.Server.Name))

			_, errPrint := fmt.Fprintln(cmd.OutOrStdout(), created.Authorization)

			return errPrint
		},
	}

	cmd.Flags().StringVarP(&req.Name, "name", "n", "", "Server name")
	cmd.Flags().StringVarP(&req.IP, "ip", "i", "", "Public ip address the server connects from")
	cmd.Flags().Uint16VarP(&req.GamePort, "port", "p", 27015, "Game port")
	cmd.Flags().BoolVar(&req.AllowUnknown, "allow-unknown", false, "Accept the key from any address")
	cmd.Flags().BoolVar(&req.IgnoreGlobals, "ignore-globals", false, "Do not enforce other servers' global infractions")

	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("ip")

	return cmd
}

func renderServers(writer io.Writer, list []servers.Server) error {
	table := tablewriter.NewWriter(writer)
	table.Header("ID", "Name", "Address", "Enabled", "Allow Unknown", "Ignore Globals")

	for _, server := range list {
		if errAppend := table.Append([]string{
			server.ServerID.String(),
			server.Name,
			server.Addr(),
			strconv.FormatBool(server.Enabled),
			strconv.FormatBool(server.AllowUnknown),
			strconv.FormatBool(server.IgnoreGlobals),
		}); errAppend != nil {
			return errAppend
		}
	}

	return table.Render()
}

func serverListCmd() *cobra.Command {
	var includeDisabled bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, errApp := openApp(cmd.Context())
			if errApp != nil {
				return errApp
			}
			defer app.Close()

			list, errList := app.servers.List(cmd.Context(), includeDisabled)
			if errList != nil {
				return errList
			}

			return renderServers(cmd.OutOrStdout(), list)
		},
	}

	cmd.Flags().BoolVarP(&includeDisabled, "all", "a", false, "Include disabled servers")

	return cmd
}

func serverDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <server_id>",
		Short: "Delete an existing server",
		Long: `Deletes an existing server registration. Infractions issued on the server are kept.
It is non-reversible.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverID, errID := uuid.FromString(args[0])
			if errID != nil {
				return fmt.Errorf("%w: %s", servers.ErrInvalidServer, args[0])
			}

			app, errApp := openApp(cmd.Context())
			if errApp != nil {
				return errApp
			}
			defer app.Close()

			if errDelete := app.servers.Delete(cmd.Context(), serverID); errDelete != nil {
				return errDelete
			}

			slog.Info("Deleted server", slog.String("server_id", serverID.String()))

			return nil
		},
	}
}
