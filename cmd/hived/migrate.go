package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/hived/internal/config"
	"github.com/fyrsmithlabs/hived/internal/logging"
	"github.com/fyrsmithlabs/hived/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the store schema",
	Long: `Apply the SQLite schema and seed neutral weight rows for every
configured agent. Safe to run repeatedly.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	st, err := store.Open(cfg.Persistence.Path, cfg.Persistence.BusyTimeout, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close() //nolint:errcheck

	if err := st.Migrate(cmd.Context(), cfg.AgentIDs()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema up to date: %s\n", cfg.Persistence.Path)
	return nil
}
