package main

import (
	"context"
	"time"

	"github.com/flexprice/revsync/internal/chartmogul"
	"github.com/flexprice/revsync/internal/config"
	"github.com/flexprice/revsync/internal/domain/billing"
	"github.com/flexprice/revsync/internal/domain/invoice"
	"github.com/flexprice/revsync/internal/logger"
	"github.com/flexprice/revsync/internal/reconcile"
	"github.com/flexprice/revsync/internal/source"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	godotenv.Load()

	app := fx.New(
		fx.Provide(
			// Config
			config.NewConfig,

			// Logger
			newLogger,

			// Billing source
			newSource,

			// Destination sink
			newSink,

			// Pipeline
			reconcile.NewPipeline,
		),
		fx.Invoke(startSync),
	)

	app.Run()
}

func newLogger(cfg *config.Configuration) (*logger.Logger, error) {
	return logger.NewLogger(cfg.Logging.Level)
}

func newSource(cfg *config.Configuration, log *logger.Logger) billing.Source {
	return source.NewBulkSource(cfg.Source, log)
}

func newSink(cfg *config.Configuration, log *logger.Logger) (invoice.Sink, error) {
	return chartmogul.NewChartMogulService(cfg, log)
}

// startSync runs one reconciliation pass and shuts the app down with a
// non-zero exit code on failure.
func startSync(lc fx.Lifecycle, shutdowner fx.Shutdowner, pipeline *reconcile.Pipeline, log *logger.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				code := 0
				if _, err := pipeline.Run(context.Background()); err != nil {
					log.Errorf("reconciliation run failed: %v", err)
					code = 1
				}
				_ = shutdowner.Shutdown(fx.ExitCode(code))
			}()
			return nil
		},
	})
}
