package main

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/hived/internal/config"
	"github.com/fyrsmithlabs/hived/internal/logging"
	"github.com/fyrsmithlabs/hived/internal/store"
)

var (
	outcomeMemoryID string
	outcomeVerdict  string
	outcomeT1       float64
	outcomeT7       float64
	outcomeT30      float64
)

var outcomeCmd = &cobra.Command{
	Use:   "outcome",
	Short: "Record a reconciled outcome for a memory",
	Long: `Mark a stored memory as correct or incorrect and attach realized
returns. Omitted return flags leave the stored values untouched.

Examples:
  hived outcome --id 2026-08-30_AAPL_tina_1756500000000000000 --verdict correct --t7 0.031
  hived outcome --id ... --verdict incorrect --t1 -0.012 --t7 -0.045`,
	RunE: runOutcome,
}

func init() {
	outcomeCmd.Flags().StringVar(&outcomeMemoryID, "id", "", "memory id to update (required)")
	outcomeCmd.Flags().StringVar(&outcomeVerdict, "verdict", "", "correct or incorrect (required)")
	outcomeCmd.Flags().Float64Var(&outcomeT1, "t1", math.NaN(), "realized 1-day return")
	outcomeCmd.Flags().Float64Var(&outcomeT7, "t7", math.NaN(), "realized 7-day return")
	outcomeCmd.Flags().Float64Var(&outcomeT30, "t30", math.NaN(), "realized 30-day return")
	outcomeCmd.MarkFlagRequired("id")      //nolint:errcheck
	outcomeCmd.MarkFlagRequired("verdict") //nolint:errcheck
}

func runOutcome(cmd *cobra.Command, args []string) error {
	outcome := store.Outcome(outcomeVerdict)
	if outcome != store.OutcomeCorrect && outcome != store.OutcomeIncorrect {
		return fmt.Errorf("verdict must be %q or %q", store.OutcomeCorrect, store.OutcomeIncorrect)
	}

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

	returns := store.Returns{
		T1:  optionalReturn(outcomeT1),
		T7:  optionalReturn(outcomeT7),
		T30: optionalReturn(outcomeT30),
	}
	if err := st.UpdateOutcome(cmd.Context(), outcomeMemoryID, outcome, returns); err != nil {
		return fmt.Errorf("update outcome: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "outcome recorded: %s %s\n", outcomeMemoryID, outcome)
	return nil
}

// optionalReturn maps an unset flag (NaN sentinel) to nil.
func optionalReturn(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}
