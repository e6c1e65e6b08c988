// Package analytics answers questions about the cleaned flights and maintains the
// tables derived from them (plane speeds, route bearings).
package analytics

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/ekaya-inc/flightclean/pkg/database"
	"github.com/ekaya-inc/flightclean/pkg/geo"
	"github.com/ekaya-inc/flightclean/pkg/models"
	"github.com/ekaya-inc/flightclean/pkg/repositories"
)

// Service wraps the analytics repository. Every method expects a database scope in ctx.
type Service struct {
	repo     repositories.AnalyticsRepository
	marginKM float64
	runInTx  func(ctx context.Context, fn func(ctx context.Context) error) error
	logger   *zap.Logger
}

// NewService creates a new analytics Service. marginKM is the largest accepted gap
// between a stored route distance and the distance between its airports.
func NewService(repo repositories.AnalyticsRepository, marginKM float64, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		marginKM: marginKM,
		runInTx:  database.RunInTx,
		logger:   logger.Named("analytics"),
	}
}

// RefreshSummary reports what Refresh changed and found.
type RefreshSummary struct {
	PlanesUpdated         int64
	RouteDirections       int64
	DistanceDiscrepancies []models.DistanceDiscrepancy
}

// Refresh recomputes plane speeds and route directions in one transaction and
// then checks route distances.
func (s *Service) Refresh(ctx context.Context) (*RefreshSummary, error) {
	summary := &RefreshSummary{}

	err := s.runInTx(ctx, func(ctx context.Context) error {
		var err error
		if summary.PlanesUpdated, err = s.RefreshPlaneSpeeds(ctx); err != nil {
			return err
		}
		summary.RouteDirections, err = s.RefreshRouteDirections(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	if summary.DistanceDiscrepancies, err = s.CheckRouteDistances(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("Analytics refreshed",
		zap.Int64("planes_updated", summary.PlanesUpdated),
		zap.Int64("route_directions", summary.RouteDirections),
		zap.Int("distance_discrepancies", len(summary.DistanceDiscrepancies)))

	return summary, nil
}

func (s *Service) RouteStats(ctx context.Context, origin, dest string) (*models.RouteStats, error) {
	stats, err := s.repo.RouteStats(ctx, origin, dest)
	if err != nil {
		return nil, fmt.Errorf("route stats %s-%s: %w", origin, dest, err)
	}
	return stats, nil
}

func (s *Service) DailyFlightCounts(ctx context.Context, origin string) ([]models.DailyCount, error) {
	counts, err := s.repo.DailyFlightCounts(ctx, origin)
	if err != nil {
		return nil, fmt.Errorf("daily counts for %s: %w", origin, err)
	}
	return counts, nil
}

// DelayedFlightCount counts delayed departures from origin. month and day narrow
// the count when non-nil.
func (s *Service) DelayedFlightCount(ctx context.Context, origin string, month, day *int) (int64, error) {
	n, err := s.repo.DelayedFlightCount(ctx, origin, month, day)
	if err != nil {
		return 0, fmt.Errorf("delayed flights from %s: %w", origin, err)
	}
	return n, nil
}

func (s *Service) DestinationsOnDay(ctx context.Context, origin string, month, day int) ([]string, error) {
	dests, err := s.repo.DestinationsOnDay(ctx, origin, month, day)
	if err != nil {
		return nil, fmt.Errorf("destinations from %s on %02d-%02d: %w", origin, month, day, err)
	}
	return dests, nil
}

// RefreshPlaneSpeeds sets each plane's average ground speed in mph.
func (s *Service) RefreshPlaneSpeeds(ctx context.Context) (int64, error) {
	n, err := s.repo.RefreshPlaneSpeeds(ctx)
	if err != nil {
		return 0, fmt.Errorf("refresh plane speeds: %w", err)
	}
	return n, nil
}

// RefreshRouteDirections rebuilds route_directions from airport coordinates.
func (s *Service) RefreshRouteDirections(ctx context.Context) (int64, error) {
	routes, err := s.repo.ListRouteEndpoints(ctx)
	if err != nil {
		return 0, fmt.Errorf("list routes: %w", err)
	}

	directions := RouteDirections(routes)
	n, err := s.repo.ReplaceRouteDirections(ctx, directions)
	if err != nil {
		return 0, fmt.Errorf("replace route directions: %w", err)
	}
	return n, nil
}

// CheckRouteDistances returns the routes whose stored distance is off by more
// than the configured margin.
func (s *Service) CheckRouteDistances(ctx context.Context) ([]models.DistanceDiscrepancy, error) {
	routes, err := s.repo.ListRouteEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}

	out := DistanceDiscrepancies(routes, s.marginKM)
	for _, d := range out {
		s.logger.Debug("Route distance disagrees with coordinates",
			zap.String("origin", d.Origin),
			zap.String("dest", d.Dest),
			zap.Float64("stored_km", d.StoredKM),
			zap.Float64("computed_km", d.ComputedKM))
	}
	return out, nil
}

// RouteDirections computes the initial bearing of every route, rounded to 0.1 degree.
func RouteDirections(routes []models.RouteEndpoints) []models.RouteDirection {
	out := make([]models.RouteDirection, 0, len(routes))
	for _, r := range routes {
		bearing := geo.InitialBearing(r.OriginLat, r.OriginLon, r.DestLat, r.DestLon)
		out = append(out, models.RouteDirection{
			Origin:    r.Origin,
			Dest:      r.Dest,
			Direction: math.Round(bearing*10) / 10,
		})
	}
	return out
}

// DistanceDiscrepancies compares stored miles with the great-circle distance.
// Routes without a stored distance are skipped.
func DistanceDiscrepancies(routes []models.RouteEndpoints, marginKM float64) []models.DistanceDiscrepancy {
	var out []models.DistanceDiscrepancy
	for _, r := range routes {
		if r.DistanceMiles <= 0 {
			continue
		}
		stored := r.DistanceMiles * geo.KMPerMile
		computed := geo.DistanceKM(r.OriginLat, r.OriginLon, r.DestLat, r.DestLon)
		diff := math.Abs(stored - computed)
		if diff > marginKM {
			out = append(out, models.DistanceDiscrepancy{
				Origin:     r.Origin,
				Dest:       r.Dest,
				StoredKM:   stored,
				ComputedKM: computed,
				DiffKM:     diff,
			})
		}
	}
	return out
}
