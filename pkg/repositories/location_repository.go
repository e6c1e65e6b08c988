package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/flightclean/pkg/models"
)

// LocationRepository provides data access for the airports table.
type LocationRepository interface {
	InsertIfAbsent(ctx context.Context, airports []models.LocationRecord) (int64, error)
	InsertReferencedIfAbsent(ctx context.Context, airports []models.LocationRecord) (int64, error)
	GetByFAA(ctx context.Context, faa string) (*models.LocationRecord, error)
	List(ctx context.Context) ([]models.LocationRecord, error)
	ListMissingTimezone(ctx context.Context) ([]models.LocationRecord, error)
	UpdateTimezones(ctx context.Context, airports []models.LocationRecord) (int64, error)
	DeleteUnreferenced(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)
}

type locationRepository struct{}

// NewLocationRepository creates a new LocationRepository.
func NewLocationRepository() LocationRepository {
	return &locationRepository{}
}

var _ LocationRepository = (*locationRepository)(nil)

const locationColumns = `faa, name, lat, lon, alt, tz, dst, tzone`

// InsertIfAbsent inserts airports whose code is not present yet and returns how many were added.
func (r *locationRepository) InsertIfAbsent(ctx context.Context, airports []models.LocationRecord) (int64, error) {
	return r.insert(ctx, airports, `
		INSERT INTO airports (`+locationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (faa) DO NOTHING`)
}

// InsertReferencedIfAbsent is InsertIfAbsent restricted to airports some flight
// departs from or arrives at.
func (r *locationRepository) InsertReferencedIfAbsent(ctx context.Context, airports []models.LocationRecord) (int64, error) {
	return r.insert(ctx, airports, `
		INSERT INTO airports (`+locationColumns+`)
		SELECT $1::text, $2::text, $3::float8, $4::float8, $5::int, $6::float8, $7::text, $8::text
		WHERE EXISTS (SELECT 1 FROM flights WHERE origin = $1::text OR dest = $1::text)
		ON CONFLICT (faa) DO NOTHING`)
}

func (r *locationRepository) insert(ctx context.Context, airports []models.LocationRecord, query string) (int64, error) {
	if len(airports) == 0 {
		return 0, nil
	}
	q, err := querier(ctx)
	if err != nil {
		return 0, err
	}

	batch := &pgx.Batch{}
	for i := range airports {
		a := &airports[i]
		batch.Queue(query, a.FAA, a.Name, a.Lat, a.Lon, a.Alt, a.TZ, a.DST, a.TZone)
	}

	results := q.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for i := range airports {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to insert airport %s: %w", airports[i].FAA, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func (r *locationRepository) GetByFAA(ctx context.Context, faa string) (*models.LocationRecord, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	row := q.QueryRow(ctx, `SELECT `+locationColumns+` FROM airports WHERE faa = $1`, faa)
	a, err := scanLocation(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func (r *locationRepository) List(ctx context.Context) ([]models.LocationRecord, error) {
	return r.list(ctx, `SELECT `+locationColumns+` FROM airports ORDER BY faa`)
}

func (r *locationRepository) ListMissingTimezone(ctx context.Context) ([]models.LocationRecord, error) {
	return r.list(ctx, `SELECT `+locationColumns+` FROM airports WHERE tzone = '' ORDER BY faa`)
}

func (r *locationRepository) list(ctx context.Context, query string) ([]models.LocationRecord, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query airports: %w", err)
	}
	defer rows.Close()

	var out []models.LocationRecord
	for rows.Next() {
		a, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating airports: %w", err)
	}
	return out, nil
}

// UpdateTimezones writes tzone and tz for each airport.
func (r *locationRepository) UpdateTimezones(ctx context.Context, airports []models.LocationRecord) (int64, error) {
	if len(airports) == 0 {
		return 0, nil
	}
	q, err := querier(ctx)
	if err != nil {
		return 0, err
	}

	query := `UPDATE airports SET tzone = $2, tz = $3 WHERE faa = $1`

	batch := &pgx.Batch{}
	for i := range airports {
		a := &airports[i]
		batch.Queue(query, a.FAA, a.TZone, a.TZ)
	}

	results := q.SendBatch(ctx, batch)
	defer results.Close()

	var updated int64
	for i := range airports {
		tag, err := results.Exec()
		if err != nil {
			return updated, fmt.Errorf("failed to update timezone of %s: %w", airports[i].FAA, err)
		}
		updated += tag.RowsAffected()
	}
	return updated, nil
}

// DeleteUnreferenced removes airports that are neither origin nor destination of any flight.
func (r *locationRepository) DeleteUnreferenced(ctx context.Context) (int64, error) {
	q, err := querier(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := q.Exec(ctx, `
		DELETE FROM airports a
		WHERE NOT EXISTS (SELECT 1 FROM flights f WHERE f.origin = a.faa)
		  AND NOT EXISTS (SELECT 1 FROM flights f WHERE f.dest = a.faa)`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete unreferenced airports: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *locationRepository) Count(ctx context.Context) (int64, error) {
	return countQuery(ctx, `SELECT COUNT(*) FROM airports`)
}

func scanLocation(row pgx.Row) (*models.LocationRecord, error) {
	var a models.LocationRecord
	err := row.Scan(&a.FAA, &a.Name, &a.Lat, &a.Lon, &a.Alt, &a.TZ, &a.DST, &a.TZone)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan airport: %w", err)
	}
	return &a, nil
}
