package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cj1101/crowseye-metering/config"
	"github.com/cj1101/crowseye-metering/domain/billing"
	"github.com/cj1101/crowseye-metering/domain/meter"
)

const (
	checkMark = "✓"
	crossMark = "✗"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the meterd configuration file.

Checks:
  - YAML syntax is valid
  - Required fields are present
  - Every meter has a rate (a missing rate is a startup error)

Examples:
  meterd validate
  meterd validate --config /etc/crowseye/meterd.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Printf("  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Printf("  %s Config syntax valid\n", checkMark)

	table, err := cfg.RateTable()
	if err != nil {
		fmt.Printf("  %s Rate table complete\n", crossMark)
		return fmt.Errorf("rate table: %w", err)
	}
	fmt.Printf("  %s Rate table complete\n", checkMark)

	fmt.Printf("  %s Authority: %s\n", checkMark, cfg.Authority.URL)
	fmt.Printf("  %s Database: %s (%s)\n", checkMark, cfg.Database.DSN, cfg.Database.Driver)
	for _, m := range meter.All() {
		fmt.Printf("  %s Rate %s: %s per unit\n", checkMark, m, billing.FormatCents(table.Rate(m)))
	}
	fmt.Printf("  %s Threshold: %s\n", checkMark, billing.FormatCents(table.Threshold()))

	fmt.Printf("\nConfiguration valid\n")
	return nil
}
