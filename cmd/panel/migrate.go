package main

import (
	"log"

	"github.com/botpanel-dev/bot-panel-backend/config"
	"github.com/botpanel-dev/bot-panel-backend/internal/bootstrap"
	"github.com/botpanel-dev/bot-panel-backend/internal/storage/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg := config.Read()

			pool, err := bootstrap.OpenDB(ctx, bootstrap.DBOptions{
				DSN:      postgres.DSN(&cfg.Database),
				MaxConns: int32(cfg.Database.MaxConns),
				MinConns: int32(cfg.Database.MinConns),
			})
			if err != nil {
				return err
			}
			defer pool.Close()

			db := postgres.NewConnection(pool)
			defer db.Close()

			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
			log.Println("[info] migrations applied")
			return nil
		},
	}
}
