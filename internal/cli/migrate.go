package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	pgmigrations "retreat-quiz/internal/infra/postgres/migrations"
)

// newMigrateCmd applies database migrations.
func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the quiz tables and change-feed triggers in PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isPostgres(opts.cfg.Remote.URL) {
				return fmt.Errorf("remote.url is not a postgres url")
			}
			return runMigrations(cmd.Context(), opts.cfg.Remote.URL, opts.log)
		},
	}
}

func runMigrations(ctx context.Context, dsn string, log zerolog.Logger) error {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)

	if err := migrator.Init(ctx); err != nil {
		return err
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		log.Info().Msg("no new migrations")
		return nil
	}
	log.Info().Str("group", group.String()).Msg("migrations applied")
	return nil
}
