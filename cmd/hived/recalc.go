package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/hived/internal/config"
	"github.com/fyrsmithlabs/hived/internal/logging"
	"github.com/fyrsmithlabs/hived/internal/store"
	"github.com/fyrsmithlabs/hived/internal/weights"
)

var recalcCmd = &cobra.Command{
	Use:   "recalc",
	Short: "Recompute agent trust weights from reconciled history",
	Long: `Recalculate every agent's trust weight from its reconciled prediction
accuracy at the configured horizon, persist the results and print the
updated weight table.`,
	RunE: runRecalc,
}

func runRecalc(cmd *cobra.Command, args []string) error {
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

	wm := weights.New(st, cfg.Weights, cfg.AgentIDs(), cfg.Persistence.QueryTimeout, logger)
	wm.RecalculateAll(cmd.Context())
	fmt.Fprint(cmd.OutOrStdout(), wm.Summary(cmd.Context()))
	return nil
}
