package cmd

import (
	"log/slog"

	"github.com/gflze/gflbans/internal/config"
	"github.com/gflze/gflbans/pkg/log"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Starts the gflbans web api",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			conf, errConfig := config.ReadStaticConfig(cfgFile)
			if errConfig != nil {
				slog.Error("Failed to read static config", log.ErrAttr(errConfig))

				return errConfig
			}

			app := NewApp(conf)
			defer app.Close()

			if errSetup := app.Init(ctx); errSetup != nil {
				return errSetup
			}

			return app.Serve(ctx)
		},
	}
}
