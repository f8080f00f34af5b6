package cmd

import (
	"errors"
	"log/slog"

	"github.com/gflze/gflbans/internal/config"
	"github.com/gflze/gflbans/internal/database"
	"github.com/gflze/gflbans/pkg/log"
	"github.com/spf13/cobra"
)

var errMigrateDriver = errors.New("migrations only apply to the postgres driver")

// migrateCmd loads the db schema.
func migrateCmd() *cobra.Command {
	var downAll bool

	cmd := &cobra.Command{
		Use:       "migrate [up|down|up_one|down_one]",
		Short:     "Create or update the database schema",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down", "up_one", "down_one"},
		RunE: func(_ *cobra.Command, args []string) error {
			conf, errConfig := config.ReadStaticConfig(cfgFile)
			if errConfig != nil {
				return errConfig
			}

			if conf.Database.Driver != database.DriverPostgres && conf.Database.Driver != "" {
				return errMigrateDriver
			}

			var actionName string
			if len(args) > 0 {
				actionName = args[0]
			}

			action, errAction := database.ParseMigrationAction(actionName)
			if errAction != nil {
				return errAction
			}

			if downAll {
				action = database.MigrateDn
			}

			// Connect would migrate up by itself, so only the migration is run here.
			dbConn := database.New(conf.Database.DSN, false, conf.Database.LogQueries)
			if errMigrate := dbConn.Migrate(action); errMigrate != nil {
				slog.Error("Could not migrate schema", log.ErrAttr(errMigrate))

				return errMigrate
			}

			slog.Info("Migration completed successfully", slog.String("action", actionName), slog.Bool("down", downAll))

			return nil
		},
	}

	cmd.Flags().BoolVarP(&downAll, "down", "d", false, "Fully reverts all migrations")

	return cmd
}
