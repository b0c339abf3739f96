package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reshala/support-desk/internal/persistence"
)

var migrateList bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded SQL migrations",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateList, "list", false, "print the embedded migrations without applying them")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	if migrateList {
		names, err := persistence.MigrationNames()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	if cfg.Postgres.DSN == "" {
		return errors.New("config: POSTGRES_DSN is required")
	}

	pg, err := persistence.NewPostgres(cmd.Context(), cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	if err := persistence.RunMigrations(cmd.Context(), pg.PoolHandle(), logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("migrations applied", zap.String("database", "postgres"))
	return nil
}
