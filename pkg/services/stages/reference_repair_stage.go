package stages

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/flightclean/pkg/geo"
	"github.com/ekaya-inc/flightclean/pkg/models"
)

// LocationStore is the airport storage the reference repair stage needs.
type LocationStore interface {
	InsertReferencedIfAbsent(ctx context.Context, airports []models.LocationRecord) (int64, error)
	DeleteUnreferenced(ctx context.Context) (int64, error)
	List(ctx context.Context) ([]models.LocationRecord, error)
	ListMissingTimezone(ctx context.Context) ([]models.LocationRecord, error)
	UpdateTimezones(ctx context.Context, airports []models.LocationRecord) (int64, error)
}

// ReferenceRepairStage brings the airports table in line with the flights it serves:
// it adds curated airports that flights reference but the extract lacks, drops
// airports no flight references, and re-derives timezones from coordinates.
type ReferenceRepairStage struct {
	*BaseStage
	locations   LocationStore
	lookup      geo.TimezoneLookup
	supplement  []models.LocationRecord
	recalculate bool
	now         func() time.Time
}

// NewReferenceRepairStage creates a new reference repair stage.
// With recalculate false only airports without a timezone are looked up.
func NewReferenceRepairStage(
	locations LocationStore,
	lookup geo.TimezoneLookup,
	supplement []models.LocationRecord,
	recalculate bool,
	logger *zap.Logger,
) *ReferenceRepairStage {
	return &ReferenceRepairStage{
		BaseStage:   NewBaseStage(models.StageReferenceRepair, logger),
		locations:   locations,
		lookup:      lookup,
		supplement:  supplement,
		recalculate: recalculate,
		now:         time.Now,
	}
}

// WithClock overrides the instant used to compute UTC offsets.
func (s *ReferenceRepairStage) WithClock(now func() time.Time) *ReferenceRepairStage {
	s.now = now
	return s
}

func (s *ReferenceRepairStage) Execute(ctx context.Context, run *models.PipelineRun) (*models.StageResult, error) {
	result := models.NewStageResult()

	supplemented, err := s.locations.InsertReferencedIfAbsent(ctx, s.supplement)
	if err != nil {
		return nil, fmt.Errorf("insert supplement: %w", err)
	}
	result.Add("supplemented", supplemented)

	pruned, err := s.locations.DeleteUnreferenced(ctx)
	if err != nil {
		return nil, fmt.Errorf("prune airports: %w", err)
	}
	result.Add("pruned", pruned)

	var airports []models.LocationRecord
	if s.recalculate {
		airports, err = s.locations.List(ctx)
	} else {
		airports, err = s.locations.ListMissingTimezone(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("list airports: %w", err)
	}

	changed, misses := s.repairTimezones(airports)
	result.Add("lookup_misses", misses)

	repaired, err := s.locations.UpdateTimezones(ctx, changed)
	if err != nil {
		return nil, fmt.Errorf("update timezones: %w", err)
	}
	result.Add("repaired", repaired)
	result.RowsAffected = supplemented + pruned + repaired

	s.Logger().Info("Reference repair complete",
		runField(run),
		zap.Int64("supplemented", supplemented),
		zap.Int64("pruned", pruned),
		zap.Int("checked", len(airports)),
		zap.Int64("repaired", repaired),
		zap.Int64("lookup_misses", misses))

	return result, nil
}

// repairTimezones returns the airports whose zone or offset must change.
func (s *ReferenceRepairStage) repairTimezones(airports []models.LocationRecord) ([]models.LocationRecord, int64) {
	if s.lookup == nil {
		return nil, 0
	}

	now := s.now()
	var changed []models.LocationRecord
	var misses int64
	for _, a := range airports {
		zone, ok := s.lookup.TimezoneName(a.Lat, a.Lon)
		if !ok {
			misses++
			s.Logger().Warn("No timezone for airport coordinates",
				zap.String("faa", a.FAA),
				zap.Float64("lat", a.Lat),
				zap.Float64("lon", a.Lon))
			continue
		}
		if zone == a.TZone && a.TZ != nil {
			continue
		}

		offset, err := geo.UTCOffsetHours(zone, now)
		if err != nil {
			misses++
			s.Logger().Warn("Timezone not in zone database",
				zap.String("faa", a.FAA),
				zap.String("tzone", zone),
				zap.Error(err))
			continue
		}

		s.Logger().Debug("Repairing airport timezone",
			zap.String("faa", a.FAA),
			zap.String("from", a.TZone),
			zap.String("to", zone))
		a.TZone = zone
		a.TZ = &offset
		changed = append(changed, a)
	}
	return changed, misses
}
