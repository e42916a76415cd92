package main

import (
	"github.com/spf13/cobra"

	"github.com/cj1101/crowseye-metering/bootstrap"
	"github.com/cj1101/crowseye-metering/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the metering API server",
	Long: `Start the metering API server.

The server will:
  - Load configuration from meterd.yaml (or --config)
  - Or load configuration from CROWSEYE_* environment variables
  - Open the usage database and run migrations
  - Serve the authorization and usage API
  - Run the background redelivery worker for queued usage reports

Environment variables (for Docker deployments):
  CROWSEYE_AUTHORITY_URL     - Metering authority base URL (required)
  CROWSEYE_DATABASE_DSN      - Database path (default: crowseye-metering.db)
  CROWSEYE_SERVER_PORT       - Server port (default: 8090)
  CROWSEYE_RATE_AI_CREDIT    - AI credit unit price in cents
  CROWSEYE_RATE_POST         - Scheduled post unit price in cents
  CROWSEYE_RATE_STORAGE      - Storage GB unit price in cents
  CROWSEYE_THRESHOLD         - Minimum billing threshold in cents
  CROWSEYE_LOG_LEVEL         - Log level: debug, info, warn, error

Examples:
  meterd serve
  meterd serve --config /etc/crowseye/meterd.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return err
	}

	app, err := bootstrap.New(cfg)
	if err != nil {
		return err
	}
	return app.Run()
}
