package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cj1101/crowseye-metering/adapters/clock"
	"github.com/cj1101/crowseye-metering/adapters/sqlite"
	"github.com/cj1101/crowseye-metering/config"
	"github.com/cj1101/crowseye-metering/domain/billing"
	"github.com/cj1101/crowseye-metering/domain/meter"
)

var usageCmd = &cobra.Command{
	Use:   "usage <user-id>",
	Short: "Show a user's current usage and cost",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsage,
}

var rolloverCmd = &cobra.Command{
	Use:   "rollover <user-id>",
	Short: "Close a user's expired billing period",
	Long: `Close a user's expired billing period, archiving its counters.

Safe to run repeatedly: only the first run for a boundary has an effect.`,
	Args: cobra.ExactArgs(1),
	RunE: runRollover,
}

func init() {
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(rolloverCmd)
}

func openUsageStore() (*sqlite.DB, *sqlite.UsageStore, *config.Config, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return db, sqlite.NewUsageStore(db, clock.Real{}), cfg, nil
}

func runUsage(cmd *cobra.Command, args []string) error {
	userID := args[0]

	db, store, cfg, err := openUsageStore()
	if err != nil {
		return err
	}
	defer db.Close()

	table, err := cfg.RateTable()
	if err != nil {
		return err
	}

	rec, err := store.Get(context.Background(), userID)
	if err != nil {
		return err
	}
	cost := billing.Compute(table, rec)

	fmt.Printf("Usage for %s (period starting %s)\n\n", userID, rec.PeriodStart.Format("2006-01-02"))
	for _, m := range meter.All() {
		fmt.Printf("  %-15s %10.2f  %s\n", m, rec.Quantity(m), billing.FormatCents(cost.PerMeter[m]))
	}
	fmt.Printf("\n  Total: %s", billing.FormatCents(cost.TotalCents))
	if cost.WillBeCharged {
		fmt.Printf(" (will be charged)\n")
	} else {
		fmt.Printf(" (below %s threshold, %s to go)\n",
			billing.FormatCents(table.Threshold()), billing.FormatCents(cost.RemainingCents))
	}
	return nil
}

func runRollover(cmd *cobra.Command, args []string) error {
	userID := args[0]

	db, store, _, err := openUsageStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Rollover(context.Background(), userID, clock.Real{}.Now()); err != nil {
		return err
	}
	fmt.Printf("Rolled over expired periods for %s\n", userID)
	return nil
}
