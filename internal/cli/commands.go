package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"dailytrader/internal/config"
	"dailytrader/internal/logging"
	"dailytrader/internal/metrics"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dailytrader",
		Short: "Once-a-day single-instrument trading decisions with guardrails",
		Long: `dailytrader runs one decision pass per trading day: it fetches daily bars,
computes indicators, asks a strategy for BUY, SELL or HOLD, applies risk guardrails,
sizes and executes the order, and persists the portfolio crash-safely.`,
		SilenceUsage: true,
	}

	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newStateCmd())
	rootCmd.AddCommand(newHistoryCmd())
	return rootCmd
}

func setupLogging(cfg config.Config) (func(), error) {
	closeLog, err := logging.Setup(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "close log: %v\n", err)
		}
	}, nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daily pipeline once",
		Long: `Run the pipeline for today's trading date. A date that was already processed,
a closed market or stale data ends the run as SKIPPED without touching state.
Use --dry-run to trade against a simulated broker without writing anything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			closeLog, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rec := metrics.New()
			eng, closeLock, err := newEngine(cfg, rec)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeLock(); err != nil {
					log.Warn().Err(err).Msg("close lock client failed")
				}
			}()

			runID := uuid.NewString()
			log.Info().Str("run_id", runID).Str("symbol", cfg.Symbol).Str("strategy", cfg.Strategy).Bool("dry_run", cfg.DryRun).Msg("starting run")
			report, runErr := eng.Run(ctx, runID)
			if err := rec.WriteTextfile(cfg.MetricsPath); err != nil {
				log.Error().Err(err).Msg("write metrics failed")
			}
			if runErr != nil {
				return runErr
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderReport(report))
			return nil
		},
	}
}

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect the persisted portfolio",
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the portfolio state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadLocal(cmd.Flags())
			if err != nil {
				return err
			}
			st, err := newStore(cfg).Load()
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderState(cfg.Symbol, st))
			return nil
		},
	}
	show.Flags().Bool("json", false, "print raw JSON")
	cmd.AddCommand(show)
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent trades or decision log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadLocal(cmd.Flags())
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			decisions, _ := cmd.Flags().GetBool("decisions")
			store := newStore(cfg)

			if decisions {
				entries, err := store.Decisions()
				if err != nil {
					return err
				}
				for _, line := range tail(entries, limit) {
					fmt.Fprintln(cmd.OutOrStdout(), string(line))
				}
				return nil
			}

			trades, err := store.Trades()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTrades(tail(trades, limit)))
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "number of most recent entries to show (0 = all)")
	cmd.Flags().Bool("decisions", false, "show decision log entries instead of trades")
	return cmd
}

func tail[T any](items []T, limit int) []T {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	return items[len(items)-limit:]
}
