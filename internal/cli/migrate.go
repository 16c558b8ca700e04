package cli

import (
	"github.com/spf13/cobra"

	"github.com/snake-arena/internal/app"
)

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}

			logger.Info("running migrations", "driver", cfg.Database.Driver)
			if err := app.Migrate(&cfg.Database); err != nil {
				logger.Error("migration failed", "error", err)
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}
