// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/cj1101/crowseye-metering/adapters/clock"
	apihttp "github.com/cj1101/crowseye-metering/adapters/http"
	"github.com/cj1101/crowseye-metering/adapters/idgen"
	"github.com/cj1101/crowseye-metering/adapters/memory"
	"github.com/cj1101/crowseye-metering/adapters/metrics"
	"github.com/cj1101/crowseye-metering/adapters/payment"
	"github.com/cj1101/crowseye-metering/adapters/remote"
	"github.com/cj1101/crowseye-metering/adapters/sqlite"
	"github.com/cj1101/crowseye-metering/app"
	"github.com/cj1101/crowseye-metering/config"
	"github.com/cj1101/crowseye-metering/ports"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	DB         *sqlite.DB
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	// Services
	Gate     *app.Gate
	Usage    *app.UsageService
	Reporter *app.Reporter

	workerCtx    context.Context
	workerCancel context.CancelFunc
}

// New creates and initializes the application from configuration.
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)
	logger.Info().Msg("initializing crowseye metering")

	a := &App{
		Logger: logger,
		Config: cfg,
	}

	table, err := cfg.RateTable()
	if err != nil {
		return nil, fmt.Errorf("rate table: %w", err)
	}

	realClock := clock.Real{}
	ids := idgen.UUID{}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		logger.Info().Msg("prometheus metrics enabled")
	} else {
		// A private registry keeps the collector usable without exposing
		// the endpoint.
		a.Metrics = metrics.NewWithRegistry(prometheus.NewRegistry())
	}

	// Stores
	var (
		usageStore  ports.UsageStore
		creditStore ports.CreditStore
		reportQueue ports.ReportQueue
	)
	switch cfg.Database.Driver {
	case "memory":
		usageStore = memory.NewUsageStore(realClock, 0)
		creditStore = memory.NewCreditStore()
		reportQueue = memory.NewReportQueue()
		logger.Warn().Msg("using in-memory stores; usage will not survive restarts")
	default:
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		a.DB = db
		usageStore = sqlite.NewUsageStore(db, realClock)
		creditStore = sqlite.NewCreditStore(db, realClock, ids)
		reportQueue = sqlite.NewReportQueue(db)
		logger.Info().Str("dsn", cfg.Database.DSN).Msg("database ready")
	}

	// Remote metering authority
	authority := remote.NewMeterAuthority(remote.NewClient(remote.ClientConfig{
		BaseURL: cfg.Authority.URL,
		APIKey:  cfg.Authority.APIKey,
		Timeout: cfg.Authority.Timeout,
		Headers: cfg.Authority.Headers,
	}))

	// Plan directory
	var plans ports.PlanDirectory
	switch cfg.Plans.Mode {
	case "static":
		plans = memory.NewPlanDirectory()
		logger.Warn().Msg("using static plan directory; all users are free-tier")
	default:
		plans = remote.NewPlanDirectory(remote.NewClient(remote.ClientConfig{
			BaseURL: cfg.Plans.Remote.URL,
			APIKey:  cfg.Plans.Remote.APIKey,
			Timeout: cfg.Plans.Remote.Timeout,
			Headers: cfg.Plans.Remote.Headers,
		}))
	}

	// Payment provider
	payments, err := payment.NewProvider(cfg.Payment.Mode, cfg.Payment.StripeKey)
	if err != nil {
		return nil, fmt.Errorf("payment provider: %w", err)
	}
	logger.Info().Str("provider", payments.Name()).Msg("payment provider configured")

	// Services
	a.Reporter = app.NewReporter(usageStore, reportQueue, authority, realClock, ids, a.Metrics, logger, app.ReporterConfig{
		MaxAttempts:   cfg.Reporter.MaxAttempts,
		BaseBackoff:   cfg.Reporter.BaseBackoff,
		RetryInterval: cfg.Reporter.RetryInterval,
	})
	a.Gate = app.NewGate(plans, creditStore, a.Reporter, a.Metrics, logger)
	a.Usage = app.NewUsageService(usageStore, table, realClock, logger)

	// HTTP server
	handler := apihttp.NewHandler(a.Gate, a.Usage, a.Reporter, payments, logger)
	routerCfg := apihttp.RouterConfig{}
	if cfg.Metrics.Enabled {
		routerCfg.Metrics = a.Metrics
	}
	router := apihttp.NewRouter(handler, logger, routerCfg)

	a.HTTPServer = &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	a.workerCtx, a.workerCancel = context.WithCancel(context.Background())
	return a, nil
}

// Run starts the redelivery worker and HTTP server, blocking until
// shutdown.
func (a *App) Run() error {
	a.Reporter.StartWorker(a.workerCtx)

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application: the server stops accepting
// requests, in-flight deliveries drain, then stores close.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	a.workerCancel()
	a.Reporter.Stop()

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
