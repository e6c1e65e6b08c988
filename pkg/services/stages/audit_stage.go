package stages

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/flightclean/pkg/geo"
	"github.com/ekaya-inc/flightclean/pkg/models"
)

// AuditFlightStore is the read-only flight access the auditor needs.
type AuditFlightStore interface {
	ScanAll(ctx context.Context, fn func(*models.FlightRecord) error) error
	CountSurplusDuplicates(ctx context.Context) (int64, error)
	CountUnnormalized(ctx context.Context) (int64, error)
}

// AuditLocationStore is the read-only airport access the auditor needs.
type AuditLocationStore interface {
	List(ctx context.Context) ([]models.LocationRecord, error)
}

// AuditStage measures how far the data is from the invariants without changing it.
type AuditStage struct {
	*BaseStage
	flights   AuditFlightStore
	locations AuditLocationStore
	lookup    geo.TimezoneLookup
	opts      AuditOptions
}

// NewAuditStage creates a new consistency auditor stage. lookup may be nil, in
// which case airport timezones are not checked.
func NewAuditStage(
	flights AuditFlightStore,
	locations AuditLocationStore,
	lookup geo.TimezoneLookup,
	opts AuditOptions,
	logger *zap.Logger,
) *AuditStage {
	return &AuditStage{
		BaseStage: NewBaseStage(models.StageAudit, logger),
		flights:   flights,
		locations: locations,
		lookup:    lookup,
		opts:      opts,
	}
}

func (s *AuditStage) Execute(ctx context.Context, run *models.PipelineRun) (*models.StageResult, error) {
	report := &models.AuditReport{}
	auditor := NewFlightAuditor(s.opts, report)

	err := s.flights.ScanAll(ctx, func(f *models.FlightRecord) error {
		auditor.Observe(f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan flights: %w", err)
	}

	if report.DuplicateKeys, err = s.flights.CountSurplusDuplicates(ctx); err != nil {
		return nil, fmt.Errorf("count duplicates: %w", err)
	}
	if report.Unnormalized, err = s.flights.CountUnnormalized(ctx); err != nil {
		return nil, fmt.Errorf("count unnormalized: %w", err)
	}

	if s.lookup != nil && s.locations != nil {
		airports, err := s.locations.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list airports: %w", err)
		}
		for i := range airports {
			auditor.ObserveAirport(&airports[i], s.lookup)
		}
	}

	result := &models.StageResult{Counts: report.Counts(), Audit: report}

	fields := []zap.Field{runField(run), zap.Bool("consistent", report.Consistent())}
	for _, k := range models.AuditCountKeys() {
		fields = append(fields, zap.Int64(k, result.Counts[k]))
	}
	if report.Consistent() {
		s.Logger().Info("Audit complete", fields...)
	} else {
		s.Logger().Warn("Audit found inconsistencies", fields...)
	}

	return result, nil
}
