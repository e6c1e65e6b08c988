package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/flightclean/pkg/apperrors"
	"github.com/ekaya-inc/flightclean/pkg/database"
	"github.com/ekaya-inc/flightclean/pkg/models"
)

// FlightRepository provides data access for the flights table.
// Every method runs on the querier in ctx, so a stage's transaction covers all of them.
type FlightRepository interface {
	// Import and inspection
	InsertBatch(ctx context.Context, flights []models.FlightRecord) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.FlightRecord, error)
	Count(ctx context.Context) (int64, error)
	ScanAll(ctx context.Context, fn func(*models.FlightRecord) error) error

	// Deduplication
	CountDuplicateGroups(ctx context.Context) (int64, error)
	CountSurplusDuplicates(ctx context.Context) (int64, error)
	DeleteDuplicates(ctx context.Context) (int64, error)

	// Cancellation
	ClassifyCancellations(ctx context.Context) (int64, error)
	CountCancelled(ctx context.Context) (int64, error)

	// Normalization
	ListUnnormalized(ctx context.Context) ([]models.RawClocks, error)
	UpdateInstants(ctx context.Context, rows []models.RawClocks) (int64, error)
	CountUnnormalized(ctx context.Context) (int64, error)

	// Rollover and reconciliation (non-cancelled rows only)
	ListActiveInstants(ctx context.Context) ([]models.FlightInstants, error)
	UpdateRolledInstants(ctx context.Context, rows []models.FlightInstants) (int64, error)
	UpdateDerived(ctx context.Context, rows []models.FlightInstants) (int64, error)
	DeleteWithoutArrival(ctx context.Context) (int64, error)
}

type flightRepository struct{}

// NewFlightRepository creates a new FlightRepository.
func NewFlightRepository() FlightRepository {
	return &flightRepository{}
}

var _ FlightRepository = (*flightRepository)(nil)

const naturalKeyColumns = `year, month, day, flight, origin, dest, sched_dep_time`

const flightColumns = `
	id, year, month, day, flight, COALESCE(carrier, ''), COALESCE(tailnum, ''), origin, dest,
	sched_dep_time, dep_time, sched_arr_time, arr_time,
	sched_dep_at, dep_at, sched_arr_at, arr_at,
	dep_delay, arr_delay, elapsed_time, air_time, distance, canceled`

func querier(ctx context.Context) (database.Querier, error) {
	q, ok := database.GetQuerier(ctx)
	if !ok {
		return nil, apperrors.ErrNoScope
	}
	return q, nil
}

// ============================================================================
// Import and inspection
// ============================================================================

// InsertBatch bulk-loads raw records with COPY. IDs are assigned by the database
// in slice order, which becomes the records' insertion order.
func (r *flightRepository) InsertBatch(ctx context.Context, flights []models.FlightRecord) (int64, error) {
	if len(flights) == 0 {
		return 0, nil
	}
	q, err := querier(ctx)
	if err != nil {
		return 0, err
	}

	columns := []string{
		"year", "month", "day", "flight", "carrier", "tailnum", "origin", "dest",
		"sched_dep_time", "dep_time", "sched_arr_time", "arr_time",
		"sched_dep_at", "dep_at", "sched_arr_at", "arr_at",
		"dep_delay", "arr_delay", "elapsed_time", "air_time", "distance", "canceled",
	}

	n, err := q.CopyFrom(ctx, pgx.Identifier{"flights"}, columns,
		pgx.CopyFromSlice(len(flights), func(i int) ([]any, error) {
			f := &flights[i]
			return []any{
				f.Year, f.Month, f.Day, f.Flight, nullString(f.Carrier), nullString(f.Tailnum), f.Origin, f.Dest,
				f.SchedDepTime, f.DepTime, f.SchedArrTime, f.ArrTime,
				f.SchedDepAt, f.DepAt, f.SchedArrAt, f.ArrAt,
				f.DepDelay, f.ArrDelay, f.ElapsedTime, f.AirTime, f.Distance, f.Canceled,
			}, nil
		}))
	if err != nil {
		return 0, fmt.Errorf("failed to copy flights: %w", err)
	}
	return n, nil
}

func (r *flightRepository) GetByID(ctx context.Context, id int64) (*models.FlightRecord, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	row := q.QueryRow(ctx, `SELECT `+flightColumns+` FROM flights WHERE id = $1`, id)
	f, err := scanFlight(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return f, nil
}

func (r *flightRepository) Count(ctx context.Context) (int64, error) {
	return countQuery(ctx, `SELECT COUNT(*) FROM flights`)
}

// ScanAll streams every flight in insertion order to fn.
// fn must not issue queries of its own; the connection is busy until the scan ends.
func (r *flightRepository) ScanAll(ctx context.Context, fn func(*models.FlightRecord) error) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	rows, err := q.Query(ctx, `SELECT `+flightColumns+` FROM flights ORDER BY id`)
	if err != nil {
		return fmt.Errorf("failed to query flights: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		f, err := scanFlight(rows)
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating flights: %w", err)
	}
	return nil
}

// ============================================================================
// Deduplication
// ============================================================================

func (r *flightRepository) CountDuplicateGroups(ctx context.Context) (int64, error) {
	return countQuery(ctx, `
		SELECT COUNT(*) FROM (
			SELECT 1 FROM flights
			GROUP BY `+naturalKeyColumns+`
			HAVING COUNT(*) > 1
		) d`)
}

func (r *flightRepository) CountSurplusDuplicates(ctx context.Context) (int64, error) {
	return countQuery(ctx, `
		SELECT COALESCE(SUM(n - 1), 0) FROM (
			SELECT COUNT(*) AS n FROM flights
			GROUP BY `+naturalKeyColumns+`
			HAVING COUNT(*) > 1
		) d`)
}

// DeleteDuplicates keeps the lowest id of each natural key and deletes the rest.
// NULL sched_dep_time values compare equal, matching GROUP BY semantics.
func (r *flightRepository) DeleteDuplicates(ctx context.Context) (int64, error) {
	q, err := querier(ctx)
	if err != nil {
		return 0, err
	}

	query := `
		WITH ranked AS (
			SELECT id, ROW_NUMBER() OVER (
				PARTITION BY ` + naturalKeyColumns + `
				ORDER BY id
			) AS rn
			FROM flights
		)
		DELETE FROM flights f
		USING ranked r
		WHERE f.id = r.id AND r.rn > 1`

	tag, err := q.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete duplicate flights: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ============================================================================
// Cancellation
// ============================================================================

// ClassifyCancellations re-derives canceled from the departure observation and
// returns the number of rows whose flag changed.
func (r *flightRepository) ClassifyCancellations(ctx context.Context) (int64, error) {
	q, err := querier(ctx)
	if err != nil {
		return 0, err
	}

	query := `
		UPDATE flights
		SET canceled = (dep_time IS NULL AND dep_at IS NULL)
		WHERE canceled IS DISTINCT FROM (dep_time IS NULL AND dep_at IS NULL)`

	tag, err := q.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to classify cancellations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *flightRepository) CountCancelled(ctx context.Context) (int64, error) {
	return countQuery(ctx, `SELECT COUNT(*) FROM flights WHERE canceled`)
}

// ============================================================================
// Normalization
// ============================================================================

const unnormalizedPredicate = `
	(sched_dep_time IS NOT NULL AND sched_dep_at IS NULL) OR
	(dep_time IS NOT NULL AND dep_at IS NULL) OR
	(sched_arr_time IS NOT NULL AND sched_arr_at IS NULL) OR
	(arr_time IS NOT NULL AND arr_at IS NULL)`

func (r *flightRepository) ListUnnormalized(ctx context.Context) ([]models.RawClocks, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, year, month, day,
		       sched_dep_time, dep_time, sched_arr_time, arr_time,
		       sched_dep_at, dep_at, sched_arr_at, arr_at
		FROM flights
		WHERE ` + unnormalizedPredicate + `
		ORDER BY id`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query unnormalized flights: %w", err)
	}
	defer rows.Close()

	var out []models.RawClocks
	for rows.Next() {
		var c models.RawClocks
		if err := rows.Scan(
			&c.ID, &c.Year, &c.Month, &c.Day,
			&c.SchedDepTime, &c.DepTime, &c.SchedArrTime, &c.ArrTime,
			&c.SchedDepAt, &c.DepAt, &c.SchedArrAt, &c.ArrAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan flight clocks: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flight clocks: %w", err)
	}
	return out, nil
}

// UpdateInstants fills instant columns that are still NULL. Existing instants are
// never overwritten.
func (r *flightRepository) UpdateInstants(ctx context.Context, rows []models.RawClocks) (int64, error) {
	query := `
		UPDATE flights
		SET sched_dep_at = COALESCE(sched_dep_at, $2),
		    dep_at = COALESCE(dep_at, $3),
		    sched_arr_at = COALESCE(sched_arr_at, $4),
		    arr_at = COALESCE(arr_at, $5)
		WHERE id = $1`

	batch := &pgx.Batch{}
	for i := range rows {
		c := &rows[i]
		batch.Queue(query, c.ID, c.SchedDepAt, c.DepAt, c.SchedArrAt, c.ArrAt)
	}
	return r.sendBatch(ctx, batch, "normalize instants")
}

// CountUnnormalized counts non-cancelled flights holding a raw clock with no
// matching instant.
func (r *flightRepository) CountUnnormalized(ctx context.Context) (int64, error) {
	return countQuery(ctx, `SELECT COUNT(*) FROM flights WHERE NOT canceled AND (`+unnormalizedPredicate+`)`)
}

// ============================================================================
// Rollover and reconciliation
// ============================================================================

func (r *flightRepository) ListActiveInstants(ctx context.Context) ([]models.FlightInstants, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, sched_dep_at, dep_at, sched_arr_at, arr_at,
		       dep_delay, arr_delay, elapsed_time
		FROM flights
		WHERE NOT canceled
		ORDER BY id`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query flight instants: %w", err)
	}
	defer rows.Close()

	var out []models.FlightInstants
	for rows.Next() {
		var f models.FlightInstants
		if err := rows.Scan(
			&f.ID, &f.SchedDepAt, &f.DepAt, &f.SchedArrAt, &f.ArrAt,
			&f.DepDelay, &f.ArrDelay, &f.Elapsed,
		); err != nil {
			return nil, fmt.Errorf("failed to scan flight instants: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flight instants: %w", err)
	}
	return out, nil
}

// UpdateRolledInstants writes back the instants the rollover rules may move.
func (r *flightRepository) UpdateRolledInstants(ctx context.Context, rows []models.FlightInstants) (int64, error) {
	query := `
		UPDATE flights
		SET dep_at = $2, sched_arr_at = $3, arr_at = $4
		WHERE id = $1 AND NOT canceled`

	batch := &pgx.Batch{}
	for i := range rows {
		f := &rows[i]
		batch.Queue(query, f.ID, f.DepAt, f.SchedArrAt, f.ArrAt)
	}
	return r.sendBatch(ctx, batch, "correct rollover")
}

// UpdateDerived writes back dep_delay, arr_delay and elapsed_time.
func (r *flightRepository) UpdateDerived(ctx context.Context, rows []models.FlightInstants) (int64, error) {
	query := `
		UPDATE flights
		SET dep_delay = $2, arr_delay = $3, elapsed_time = $4
		WHERE id = $1 AND NOT canceled`

	batch := &pgx.Batch{}
	for i := range rows {
		f := &rows[i]
		batch.Queue(query, f.ID, f.DepDelay, f.ArrDelay, f.Elapsed)
	}
	return r.sendBatch(ctx, batch, "reconcile derived fields")
}

// DeleteWithoutArrival removes non-cancelled flights whose arrival is still not an
// instant after normalization. A malformed arr_time counts as no arrival.
func (r *flightRepository) DeleteWithoutArrival(ctx context.Context) (int64, error) {
	q, err := querier(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := q.Exec(ctx, `
		DELETE FROM flights
		WHERE NOT canceled AND arr_at IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete flights without arrival: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ============================================================================
// Helpers
// ============================================================================

func (r *flightRepository) sendBatch(ctx context.Context, batch *pgx.Batch, what string) (int64, error) {
	if batch.Len() == 0 {
		return 0, nil
	}
	q, err := querier(ctx)
	if err != nil {
		return 0, err
	}

	results := q.SendBatch(ctx, batch)
	var total int64
	for i := 0; i < batch.Len(); i++ {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return total, fmt.Errorf("failed to %s (statement %d): %w", what, i, err)
		}
		total += tag.RowsAffected()
	}
	if err := results.Close(); err != nil {
		return total, fmt.Errorf("failed to %s: %w", what, err)
	}
	return total, nil
}

func countQuery(ctx context.Context, query string, args ...any) (int64, error) {
	q, err := querier(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := q.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

func scanFlight(row pgx.Row) (*models.FlightRecord, error) {
	var f models.FlightRecord
	err := row.Scan(
		&f.ID, &f.Year, &f.Month, &f.Day, &f.Flight, &f.Carrier, &f.Tailnum, &f.Origin, &f.Dest,
		&f.SchedDepTime, &f.DepTime, &f.SchedArrTime, &f.ArrTime,
		&f.SchedDepAt, &f.DepAt, &f.SchedArrAt, &f.ArrAt,
		&f.DepDelay, &f.ArrDelay, &f.ElapsedTime, &f.AirTime, &f.Distance, &f.Canceled,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan flight: %w", err)
	}
	return &f, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
