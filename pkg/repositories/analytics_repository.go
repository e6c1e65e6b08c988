package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/flightclean/pkg/models"
)

// AnalyticsRepository runs the read-side aggregations over the cleaned tables and
// maintains the derived planes.speed and route_directions data.
type AnalyticsRepository interface {
	RouteStats(ctx context.Context, origin, dest string) (*models.RouteStats, error)
	DailyFlightCounts(ctx context.Context, origin string) ([]models.DailyCount, error)
	DelayedFlightCount(ctx context.Context, origin string, month, day *int) (int64, error)
	DestinationsOnDay(ctx context.Context, origin string, month, day int) ([]string, error)
	RefreshPlaneSpeeds(ctx context.Context) (int64, error)
	ListRouteEndpoints(ctx context.Context) ([]models.RouteEndpoints, error)
	ReplaceRouteDirections(ctx context.Context, directions []models.RouteDirection) (int64, error)
}

type analyticsRepository struct{}

// NewAnalyticsRepository creates a new AnalyticsRepository.
func NewAnalyticsRepository() AnalyticsRepository {
	return &analyticsRepository{}
}

var _ AnalyticsRepository = (*analyticsRepository)(nil)

func (r *analyticsRepository) RouteStats(ctx context.Context, origin, dest string) (*models.RouteStats, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE canceled),
		       AVG(elapsed_time) FILTER (WHERE NOT canceled),
		       AVG(dep_delay) FILTER (WHERE NOT canceled),
		       AVG(arr_delay) FILTER (WHERE NOT canceled),
		       AVG(distance) FILTER (WHERE NOT canceled)
		FROM flights
		WHERE origin = $1 AND dest = $2`

	stats := &models.RouteStats{Origin: origin, Dest: dest}
	err = q.QueryRow(ctx, query, origin, dest).Scan(
		&stats.Flights, &stats.Cancelled,
		&stats.AvgElapsed, &stats.AvgDepDelay, &stats.AvgArrDelay, &stats.AvgDistance,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query route stats: %w", err)
	}
	return stats, nil
}

func (r *analyticsRepository) DailyFlightCounts(ctx context.Context, origin string) ([]models.DailyCount, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT make_date(year, month, day) AS d, COUNT(*)
		FROM flights
		WHERE origin = $1
		GROUP BY d
		ORDER BY d`

	rows, err := q.Query(ctx, query, origin)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily counts: %w", err)
	}
	defer rows.Close()

	var out []models.DailyCount
	for rows.Next() {
		var c models.DailyCount
		if err := rows.Scan(&c.Date, &c.Flights); err != nil {
			return nil, fmt.Errorf("failed to scan daily count: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily counts: %w", err)
	}
	return out, nil
}

// DelayedFlightCount counts non-cancelled departures with a positive delay,
// optionally narrowed to a month and day.
func (r *analyticsRepository) DelayedFlightCount(ctx context.Context, origin string, month, day *int) (int64, error) {
	return countQuery(ctx, `
		SELECT COUNT(*)
		FROM flights
		WHERE origin = $1
		  AND NOT canceled
		  AND dep_delay > 0
		  AND ($2::int IS NULL OR month = $2)
		  AND ($3::int IS NULL OR day = $3)`, origin, month, day)
}

func (r *analyticsRepository) DestinationsOnDay(ctx context.Context, origin string, month, day int) ([]string, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT DISTINCT dest
		FROM flights
		WHERE origin = $1 AND month = $2 AND day = $3
		ORDER BY dest`, origin, month, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query destinations: %w", err)
	}

	dests, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect destinations: %w", err)
	}
	return dests, nil
}

// RefreshPlaneSpeeds recomputes planes.speed (mph) from flights with positive
// air time and distance. Planes without such flights get NULL.
func (r *analyticsRepository) RefreshPlaneSpeeds(ctx context.Context) (int64, error) {
	q, err := querier(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := q.Exec(ctx, `
		UPDATE planes p
		SET speed = s.speed
		FROM (
			SELECT pl.tailnum,
			       AVG(f.distance / (f.air_time / 60.0)) AS speed
			FROM planes pl
			LEFT JOIN flights f
			       ON f.tailnum = pl.tailnum
			      AND f.air_time > 0
			      AND f.distance > 0
			GROUP BY pl.tailnum
		) s
		WHERE p.tailnum = s.tailnum
		  AND p.speed IS DISTINCT FROM s.speed`)
	if err != nil {
		return 0, fmt.Errorf("failed to refresh plane speeds: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListRouteEndpoints returns every flown route whose airports both have coordinates.
// DistanceMiles is the route's average stored distance.
func (r *analyticsRepository) ListRouteEndpoints(ctx context.Context) ([]models.RouteEndpoints, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT f.origin, f.dest, COALESCE(AVG(f.distance), 0)::float8,
		       o.lat, o.lon, d.lat, d.lon
		FROM flights f
		JOIN airports o ON o.faa = f.origin
		JOIN airports d ON d.faa = f.dest
		GROUP BY f.origin, f.dest, o.lat, o.lon, d.lat, d.lon
		ORDER BY f.origin, f.dest`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query route endpoints: %w", err)
	}
	defer rows.Close()

	var out []models.RouteEndpoints
	for rows.Next() {
		var e models.RouteEndpoints
		if err := rows.Scan(&e.Origin, &e.Dest, &e.DistanceMiles,
			&e.OriginLat, &e.OriginLon, &e.DestLat, &e.DestLon); err != nil {
			return nil, fmt.Errorf("failed to scan route endpoints: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating route endpoints: %w", err)
	}
	return out, nil
}

// ReplaceRouteDirections rewrites route_directions with the given set.
func (r *analyticsRepository) ReplaceRouteDirections(ctx context.Context, directions []models.RouteDirection) (int64, error) {
	q, err := querier(ctx)
	if err != nil {
		return 0, err
	}

	if _, err := q.Exec(ctx, `DELETE FROM route_directions`); err != nil {
		return 0, fmt.Errorf("failed to clear route directions: %w", err)
	}
	if len(directions) == 0 {
		return 0, nil
	}

	n, err := q.CopyFrom(ctx, pgx.Identifier{"route_directions"}, []string{"origin", "dest", "direction"},
		pgx.CopyFromSlice(len(directions), func(i int) ([]any, error) {
			d := directions[i]
			return []any{d.Origin, d.Dest, d.Direction}, nil
		}))
	if err != nil {
		return 0, fmt.Errorf("failed to write route directions: %w", err)
	}
	return n, nil
}
