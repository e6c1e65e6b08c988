package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ekaya-inc/flightclean/pkg/analytics"
	"github.com/ekaya-inc/flightclean/pkg/apperrors"
	"github.com/ekaya-inc/flightclean/pkg/config"
	"github.com/ekaya-inc/flightclean/pkg/database"
	"github.com/ekaya-inc/flightclean/pkg/geo"
	"github.com/ekaya-inc/flightclean/pkg/logging"
	"github.com/ekaya-inc/flightclean/pkg/metrics"
	"github.com/ekaya-inc/flightclean/pkg/models"
	"github.com/ekaya-inc/flightclean/pkg/reference"
	"github.com/ekaya-inc/flightclean/pkg/report"
	"github.com/ekaya-inc/flightclean/pkg/repositories"
	"github.com/ekaya-inc/flightclean/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	exitFailure      = 1
	exitInconsistent = 2
)

type options struct {
	configPath    string
	airportsCSV   string
	auditOnly     bool
	skipAnalytics bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to config.yaml (environment only when empty)")
	flag.StringVar(&opts.airportsCSV, "airports-csv", "", "seed missing airports from this extract before cleaning")
	flag.BoolVar(&opts.auditOnly, "audit-only", false, "run only the consistency auditor")
	flag.BoolVar(&opts.skipAnalytics, "skip-analytics", false, "do not refresh plane speeds and route directions")
	flag.Parse()

	cfg, err := config.Load(opts.configPath, Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(exitFailure)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(exitFailure)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := run(ctx, cfg, opts, logger)
	if code != 0 {
		stop()
		_ = logger.Sync()
		os.Exit(code)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, logger *zap.Logger) int {
	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Int("delay_tolerance_minutes", cfg.Pipeline.DelayToleranceMinutes),
		zap.Int("duration_tolerance_minutes", cfg.Pipeline.DurationToleranceMinutes),
		zap.Bool("recalculate_timezones", cfg.Pipeline.RecalculateTimezones()))

	connStr := cfg.Database.ConnectionString()
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: cfg.Database.MaxConnections,
	}, logger)
	if err != nil {
		logger.Error("Failed to connect to database", zap.String("error", logging.SanitizeError(err)))
		return exitFailure
	}
	defer db.Close()

	if err := database.Migrate(connStr, logger); err != nil {
		logger.Error("Failed to apply migrations", zap.String("error", logging.SanitizeError(err)))
		return exitFailure
	}

	getScope := services.NewScopeContextFunc(db)
	flights := repositories.NewFlightRepository()
	locations := repositories.NewLocationRepository()

	if opts.airportsCSV != "" {
		if err := seedAirports(ctx, getScope, locations, opts.airportsCSV, logger); err != nil {
			logger.Error("Failed to seed airports", zap.String("error", logging.SanitizeError(err)))
			return exitFailure
		}
	}

	supplement, err := reference.Supplement()
	if err != nil {
		logger.Error("Failed to load airport supplement", zap.Error(err))
		return exitFailure
	}

	// Without a lookup, reference repair and the auditor skip timezone work.
	var lookup geo.TimezoneLookup
	if finder, err := geo.NewTZFLookup(); err != nil {
		logger.Warn("Timezone lookup unavailable", zap.Error(err))
	} else {
		lookup = finder
	}

	registry := services.NewDefaultStageRegistry(services.StageDeps{
		Flights:    flights,
		Locations:  locations,
		Lookup:     lookup,
		Supplement: supplement,
		Pipeline:   cfg.Pipeline,
	}, logger)

	metricsRegistry := metrics.NewRegistry()
	pipeline := services.NewPipelineService(repositories.NewPipelineRunRepository(), registry, getScope, metricsRegistry, logger)

	var pipelineRun *models.PipelineRun
	if opts.auditOnly {
		pipelineRun, err = pipeline.RunAuditOnly(ctx)
	} else {
		pipelineRun, err = pipeline.Run(ctx)
	}
	code := 0
	if err != nil {
		if errors.Is(err, apperrors.ErrRunInProgress) {
			logger.Error("Another pipeline run holds the lock")
		}
		code = exitFailure
	}

	var discrepancies []models.DistanceDiscrepancy
	if err == nil && !opts.auditOnly && !opts.skipAnalytics {
		summary, err := refreshAnalytics(ctx, getScope, cfg.Pipeline.DistanceErrorMarginKM, logger)
		if err != nil {
			logger.Error("Failed to refresh analytics", zap.String("error", logging.SanitizeError(err)))
			code = exitFailure
		} else {
			discrepancies = summary.DistanceDiscrepancies
		}
	}

	writeArtifacts(cfg.Output, metricsRegistry, pipelineRun, discrepancies, logger)

	if code == 0 && pipelineRun != nil && pipelineRun.AuditReport != nil && !pipelineRun.AuditReport.Consistent() {
		logger.Warn("Audit found residual inconsistencies", zap.Any("counts", pipelineRun.AuditReport.Counts()))
		code = exitInconsistent
	}
	return code
}

func seedAirports(ctx context.Context, getScope services.ScopeContextFunc, locations repositories.LocationRepository, path string, logger *zap.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open airports extract: %w", err)
	}
	defer f.Close()

	airports, skipped, err := reference.LoadAirportsCSV(f)
	if err != nil {
		return err
	}

	scopeCtx, cleanup, err := getScope(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	inserted, err := locations.InsertIfAbsent(scopeCtx, airports)
	if err != nil {
		return err
	}
	logger.Info("Seeded airports from extract",
		zap.String("path", path),
		zap.Int("rows", len(airports)),
		zap.Int("skipped", skipped),
		zap.Int64("inserted", inserted))
	return nil
}

func refreshAnalytics(ctx context.Context, getScope services.ScopeContextFunc, marginKM float64, logger *zap.Logger) (*analytics.RefreshSummary, error) {
	scopeCtx, cleanup, err := getScope(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return analytics.NewService(repositories.NewAnalyticsRepository(), marginKM, logger).Refresh(scopeCtx)
}

// writeArtifacts writes the optional run outputs. Failures are logged only.
func writeArtifacts(out config.OutputConfig, reg *metrics.Registry, run *models.PipelineRun, discrepancies []models.DistanceDiscrepancy, logger *zap.Logger) {
	if out.MetricsTextfile != "" {
		if err := reg.WriteTextfile(out.MetricsTextfile); err != nil {
			logger.Error("Failed to write metrics textfile", zap.String("path", out.MetricsTextfile), zap.Error(err))
		}
	}
	if out.ReportXLSX != "" && run != nil {
		if err := report.Write(out.ReportXLSX, report.Input{Run: run, Discrepancies: discrepancies}); err != nil {
			logger.Error("Failed to write report", zap.String("path", out.ReportXLSX), zap.Error(err))
		}
	}
}
