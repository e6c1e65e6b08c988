package stages

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/flightclean/pkg/models"
)

// mockFlightStore implements every flight store interface of this package.
type mockFlightStore struct {
	countDuplicateGroupsFunc   func(ctx context.Context) (int64, error)
	countSurplusDuplicatesFunc func(ctx context.Context) (int64, error)
	deleteDuplicatesFunc       func(ctx context.Context) (int64, error)
	classifyCancellationsFunc  func(ctx context.Context) (int64, error)
	countCancelledFunc         func(ctx context.Context) (int64, error)
	listUnnormalizedFunc       func(ctx context.Context) ([]models.RawClocks, error)
	updateInstantsFunc         func(ctx context.Context, rows []models.RawClocks) (int64, error)
	countUnnormalizedFunc      func(ctx context.Context) (int64, error)
	listActiveInstantsFunc     func(ctx context.Context) ([]models.FlightInstants, error)
	updateRolledInstantsFunc   func(ctx context.Context, rows []models.FlightInstants) (int64, error)
	updateDerivedFunc          func(ctx context.Context, rows []models.FlightInstants) (int64, error)
	deleteWithoutArrivalFunc   func(ctx context.Context) (int64, error)
	scanAllFunc                func(ctx context.Context, fn func(*models.FlightRecord) error) error
}

var (
	_ DedupStore        = (*mockFlightStore)(nil)
	_ CancellationStore = (*mockFlightStore)(nil)
	_ NormalizeStore    = (*mockFlightStore)(nil)
	_ RolloverStore     = (*mockFlightStore)(nil)
	_ ReconcileStore    = (*mockFlightStore)(nil)
	_ AuditFlightStore  = (*mockFlightStore)(nil)
)

func callCount(ctx context.Context, f func(ctx context.Context) (int64, error)) (int64, error) {
	if f != nil {
		return f(ctx)
	}
	return 0, nil
}

func (m *mockFlightStore) CountDuplicateGroups(ctx context.Context) (int64, error) {
	return callCount(ctx, m.countDuplicateGroupsFunc)
}
func (m *mockFlightStore) CountSurplusDuplicates(ctx context.Context) (int64, error) {
	return callCount(ctx, m.countSurplusDuplicatesFunc)
}
func (m *mockFlightStore) DeleteDuplicates(ctx context.Context) (int64, error) {
	return callCount(ctx, m.deleteDuplicatesFunc)
}
func (m *mockFlightStore) ClassifyCancellations(ctx context.Context) (int64, error) {
	return callCount(ctx, m.classifyCancellationsFunc)
}
func (m *mockFlightStore) CountCancelled(ctx context.Context) (int64, error) {
	return callCount(ctx, m.countCancelledFunc)
}
func (m *mockFlightStore) CountUnnormalized(ctx context.Context) (int64, error) {
	return callCount(ctx, m.countUnnormalizedFunc)
}
func (m *mockFlightStore) DeleteWithoutArrival(ctx context.Context) (int64, error) {
	return callCount(ctx, m.deleteWithoutArrivalFunc)
}

func (m *mockFlightStore) ListUnnormalized(ctx context.Context) ([]models.RawClocks, error) {
	if m.listUnnormalizedFunc != nil {
		return m.listUnnormalizedFunc(ctx)
	}
	return nil, nil
}

func (m *mockFlightStore) UpdateInstants(ctx context.Context, rows []models.RawClocks) (int64, error) {
	if m.updateInstantsFunc != nil {
		return m.updateInstantsFunc(ctx, rows)
	}
	return int64(len(rows)), nil
}

func (m *mockFlightStore) ListActiveInstants(ctx context.Context) ([]models.FlightInstants, error) {
	if m.listActiveInstantsFunc != nil {
		return m.listActiveInstantsFunc(ctx)
	}
	return nil, nil
}

func (m *mockFlightStore) UpdateRolledInstants(ctx context.Context, rows []models.FlightInstants) (int64, error) {
	if m.updateRolledInstantsFunc != nil {
		return m.updateRolledInstantsFunc(ctx, rows)
	}
	return int64(len(rows)), nil
}

func (m *mockFlightStore) UpdateDerived(ctx context.Context, rows []models.FlightInstants) (int64, error) {
	if m.updateDerivedFunc != nil {
		return m.updateDerivedFunc(ctx, rows)
	}
	return int64(len(rows)), nil
}

func (m *mockFlightStore) ScanAll(ctx context.Context, fn func(*models.FlightRecord) error) error {
	if m.scanAllFunc != nil {
		return m.scanAllFunc(ctx, fn)
	}
	return nil
}

type mockLocationStore struct {
	airports        []models.LocationRecord
	inserted        []models.LocationRecord
	updated         []models.LocationRecord
	listedMissing   bool
	insertErr       error
	deleteUnrefFunc func(ctx context.Context) (int64, error)
}

var (
	_ LocationStore      = (*mockLocationStore)(nil)
	_ AuditLocationStore = (*mockLocationStore)(nil)
)

func (m *mockLocationStore) InsertReferencedIfAbsent(ctx context.Context, airports []models.LocationRecord) (int64, error) {
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	m.inserted = append(m.inserted, airports...)
	return int64(len(airports)), nil
}

func (m *mockLocationStore) DeleteUnreferenced(ctx context.Context) (int64, error) {
	return callCount(ctx, m.deleteUnrefFunc)
}

func (m *mockLocationStore) List(ctx context.Context) ([]models.LocationRecord, error) {
	return m.airports, nil
}

func (m *mockLocationStore) ListMissingTimezone(ctx context.Context) ([]models.LocationRecord, error) {
	m.listedMissing = true
	var out []models.LocationRecord
	for _, a := range m.airports {
		if a.TZone == "" {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockLocationStore) UpdateTimezones(ctx context.Context, airports []models.LocationRecord) (int64, error) {
	m.updated = append(m.updated, airports...)
	return int64(len(airports)), nil
}

func testRun() *models.PipelineRun {
	return &models.PipelineRun{ID: uuid.New(), Status: models.RunStatusRunning}
}

func TestStages_Names(t *testing.T) {
	logger := zap.NewNop()
	store := &mockFlightStore{}
	locations := &mockLocationStore{}

	executors := []StageExecutor{
		NewReferenceRepairStage(locations, nil, nil, true, logger),
		NewDeduplicateStage(store, logger),
		NewCancellationStage(store, logger),
		NewNormalizeStage(store, logger),
		NewRolloverStage(store, logger),
		NewReconcileStage(store, logger),
		NewAuditStage(store, locations, nil, DefaultAuditOptions(), logger),
	}

	names := make([]models.StageName, 0, len(executors))
	for _, e := range executors {
		names = append(names, e.Name())
	}
	assert.Equal(t, models.AllStages(), names)
}

func TestReferenceRepairStage_Execute(t *testing.T) {
	ny := "America/New_York"
	offset := -5.0
	locations := &mockLocationStore{
		airports: []models.LocationRecord{
			{FAA: "JFK", Lat: 40.64, Lon: -73.78, TZone: ny, TZ: &offset},
			{FAA: "EWR", Lat: 40.69, Lon: -74.17, TZone: "America/Chicago", TZ: &offset},
			{FAA: "SJU", Lat: 18.44, Lon: -66.0},
			{FAA: "ZZZ", Lat: 0, Lon: 0},
		},
		deleteUnrefFunc: func(ctx context.Context) (int64, error) { return 3, nil },
	}
	lookup := staticLookup{
		{40.64, -73.78}: ny,
		{40.69, -74.17}: ny,
		{18.44, -66.0}:  "America/Puerto_Rico",
	}
	supplement := []models.LocationRecord{{FAA: "SJU", Lat: 18.44, Lon: -66.0}}

	stage := NewReferenceRepairStage(locations, lookup, supplement, true, zap.NewNop()).
		WithClock(func() time.Time { return time.Date(2013, 1, 15, 12, 0, 0, 0, time.UTC) })

	result, err := stage.Execute(context.Background(), testRun())
	require.NoError(t, err)

	assert.Equal(t, supplement, locations.inserted)
	assert.False(t, locations.listedMissing)
	assert.Equal(t, int64(1), result.Counts["supplemented"])
	assert.Equal(t, int64(3), result.Counts["pruned"])
	assert.Equal(t, int64(2), result.Counts["repaired"])
	assert.Equal(t, int64(1), result.Counts["lookup_misses"])
	assert.Equal(t, int64(6), result.RowsAffected)

	require.Len(t, locations.updated, 2)
	assert.Equal(t, "EWR", locations.updated[0].FAA)
	assert.Equal(t, ny, locations.updated[0].TZone)
	require.NotNil(t, locations.updated[0].TZ)
	assert.Equal(t, -5.0, *locations.updated[0].TZ)
	assert.Equal(t, "SJU", locations.updated[1].FAA)
	assert.Equal(t, -4.0, *locations.updated[1].TZ)
}

func TestReferenceRepairStage_MissingOnly(t *testing.T) {
	offset := -6.0
	locations := &mockLocationStore{
		airports: []models.LocationRecord{
			{FAA: "ORD", Lat: 41.97, Lon: -87.9, TZone: "America/Chicago", TZ: &offset},
			{FAA: "SJU", Lat: 18.44, Lon: -66.0},
		},
	}
	lookup := staticLookup{
		{41.97, -87.9}: "America/Denver",
		{18.44, -66.0}: "America/Puerto_Rico",
	}

	stage := NewReferenceRepairStage(locations, lookup, nil, false, zap.NewNop())
	result, err := stage.Execute(context.Background(), testRun())
	require.NoError(t, err)

	assert.True(t, locations.listedMissing)
	require.Len(t, locations.updated, 1)
	assert.Equal(t, "SJU", locations.updated[0].FAA)
	assert.Equal(t, int64(1), result.Counts["repaired"])
}

func TestReferenceRepairStage_InsertError(t *testing.T) {
	locations := &mockLocationStore{insertErr: errors.New("boom")}
	stage := NewReferenceRepairStage(locations, nil, []models.LocationRecord{{FAA: "SJU"}}, true, zap.NewNop())

	_, err := stage.Execute(context.Background(), testRun())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert supplement")
}

func TestDeduplicateStage_Execute(t *testing.T) {
	deleted := false
	store := &mockFlightStore{
		countDuplicateGroupsFunc: func(ctx context.Context) (int64, error) { return 2, nil },
		deleteDuplicatesFunc: func(ctx context.Context) (int64, error) {
			deleted = true
			return 3, nil
		},
	}

	result, err := NewDeduplicateStage(store, zap.NewNop()).Execute(context.Background(), testRun())
	require.NoError(t, err)

	assert.True(t, deleted)
	assert.Equal(t, int64(2), result.Counts["duplicate_groups"])
	assert.Equal(t, int64(3), result.Counts["removed"])
	assert.Equal(t, int64(3), result.RowsAffected)
}

func TestDeduplicateStage_NoDuplicates(t *testing.T) {
	store := &mockFlightStore{
		deleteDuplicatesFunc: func(ctx context.Context) (int64, error) {
			t.Fatal("delete must not run without duplicates")
			return 0, nil
		},
	}

	result, err := NewDeduplicateStage(store, zap.NewNop()).Execute(context.Background(), testRun())
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.RowsAffected)
}

func TestCancellationStage_Execute(t *testing.T) {
	store := &mockFlightStore{
		classifyCancellationsFunc: func(ctx context.Context) (int64, error) { return 4, nil },
		countCancelledFunc:        func(ctx context.Context) (int64, error) { return 9, nil },
	}

	result, err := NewCancellationStage(store, zap.NewNop()).Execute(context.Background(), testRun())
	require.NoError(t, err)

	assert.Equal(t, int64(4), result.Counts["reclassified"])
	assert.Equal(t, int64(9), result.Counts["cancelled"])
	assert.Equal(t, int64(4), result.RowsAffected)
}

func TestCancellationStage_Error(t *testing.T) {
	store := &mockFlightStore{
		classifyCancellationsFunc: func(ctx context.Context) (int64, error) { return 0, errors.New("deadlock") },
	}

	_, err := NewCancellationStage(store, zap.NewNop()).Execute(context.Background(), testRun())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock")
}

func TestNormalizeStage_Execute(t *testing.T) {
	var written []models.RawClocks
	store := &mockFlightStore{
		listUnnormalizedFunc: func(ctx context.Context) ([]models.RawClocks, error) {
			return []models.RawClocks{
				{ID: 1, Year: 2013, Month: 1, Day: 1, SchedDepTime: intPtr(515), DepTime: intPtr(517)},
				{ID: 2, Year: 2013, Month: 1, Day: 1, DepTime: intPtr(9999)},
			}, nil
		},
		updateInstantsFunc: func(ctx context.Context, rows []models.RawClocks) (int64, error) {
			written = rows
			return int64(len(rows)), nil
		},
	}

	result, err := NewNormalizeStage(store, zap.NewNop()).Execute(context.Background(), testRun())
	require.NoError(t, err)

	require.Len(t, written, 1, "rows without a filled instant are not written")
	assert.Equal(t, int64(1), written[0].ID)
	assert.NotNil(t, written[0].SchedDepAt)
	assert.NotNil(t, written[0].DepAt)
	assert.Equal(t, int64(2), result.Counts["instants_filled"])
	assert.Equal(t, int64(1), result.Counts["invalid"])
	assert.Equal(t, int64(1), result.RowsAffected)
}

func TestRolloverStage_Execute(t *testing.T) {
	var written []models.FlightInstants
	store := &mockFlightStore{
		listActiveInstantsFunc: func(ctx context.Context) ([]models.FlightInstants, error) {
			return []models.FlightInstants{
				{ID: 1, SchedDepAt: at(5, 23, 50), DepAt: at(5, 23, 59), SchedArrAt: at(5, 1, 30), ArrAt: at(5, 1, 45)},
				{ID: 2, SchedDepAt: at(5, 9, 0), DepAt: at(5, 9, 5), SchedArrAt: at(5, 11, 0), ArrAt: at(5, 11, 0)},
			}, nil
		},
		updateRolledInstantsFunc: func(ctx context.Context, rows []models.FlightInstants) (int64, error) {
			written = rows
			return int64(len(rows)), nil
		},
	}

	result, err := NewRolloverStage(store, zap.NewNop()).Execute(context.Background(), testRun())
	require.NoError(t, err)

	require.Len(t, written, 1)
	assert.Equal(t, int64(1), written[0].ID)
	assert.Equal(t, at(6, 1, 45), written[0].ArrAt)
	assert.Equal(t, int64(0), result.Counts["rule_a"])
	assert.Equal(t, int64(1), result.Counts["rule_b"])
	assert.Equal(t, int64(1), result.Counts["rule_c"])
	assert.Equal(t, int64(1), result.RowsAffected)
}

func TestReconcileStage_Execute(t *testing.T) {
	var order []string
	var written []models.FlightInstants
	store := &mockFlightStore{
		deleteWithoutArrivalFunc: func(ctx context.Context) (int64, error) {
			order = append(order, "delete")
			return 2, nil
		},
		listActiveInstantsFunc: func(ctx context.Context) ([]models.FlightInstants, error) {
			order = append(order, "list")
			return []models.FlightInstants{
				{ID: 1, SchedDepAt: at(5, 23, 50), DepAt: at(5, 23, 59), SchedArrAt: at(6, 1, 30), ArrAt: at(6, 1, 45)},
				{ID: 2, SchedDepAt: at(5, 9, 0), DepAt: at(5, 9, 5), DepDelay: intPtr(5)},
			}, nil
		},
		updateDerivedFunc: func(ctx context.Context, rows []models.FlightInstants) (int64, error) {
			written = rows
			return int64(len(rows)), nil
		},
	}

	result, err := NewReconcileStage(store, zap.NewNop()).Execute(context.Background(), testRun())
	require.NoError(t, err)

	assert.Equal(t, []string{"delete", "list"}, order)
	require.Len(t, written, 1)
	assert.Equal(t, 106, *written[0].Elapsed)
	assert.Equal(t, int64(2), result.Counts["removed_incomplete"])
	assert.Equal(t, int64(1), result.Counts["elapsed_fixed"])
	assert.Equal(t, int64(3), result.RowsAffected)
}

func TestAuditStage_Execute(t *testing.T) {
	store := &mockFlightStore{
		scanAllFunc: func(ctx context.Context, fn func(*models.FlightRecord) error) error {
			return fn(&models.FlightRecord{
				SchedDepAt: at(5, 9, 0), DepAt: at(5, 9, 10), DepDelay: intPtr(3),
			})
		},
		countSurplusDuplicatesFunc: func(ctx context.Context) (int64, error) { return 1, nil },
		countUnnormalizedFunc:      func(ctx context.Context) (int64, error) { return 5, nil },
	}
	locations := &mockLocationStore{
		airports: []models.LocationRecord{{FAA: "JFK", Lat: 40.64, Lon: -73.78, TZone: "America/Chicago"}},
	}
	lookup := staticLookup{{40.64, -73.78}: "America/New_York"}

	result, err := NewAuditStage(store, locations, lookup, DefaultAuditOptions(), zap.NewNop()).
		Execute(context.Background(), testRun())
	require.NoError(t, err)

	require.NotNil(t, result.Audit)
	assert.Equal(t, int64(1), result.Audit.Checked)
	assert.Equal(t, int64(1), result.Audit.DepDelayMismatch)
	assert.Equal(t, int64(1), result.Audit.DuplicateKeys)
	assert.Equal(t, int64(5), result.Audit.Unnormalized)
	assert.Equal(t, int64(1), result.Audit.TimezoneMismatch)
	assert.False(t, result.Audit.Consistent())
	assert.Equal(t, int64(0), result.RowsAffected, "the audit never writes")
	assert.Equal(t, result.Audit.Counts(), result.Counts)
}

func TestAuditStage_MalformedArrivalIsInconsistent(t *testing.T) {
	// arr_time 1175 never became an instant, so its stale derived fields
	// cannot be checked against anything.
	store := &mockFlightStore{
		scanAllFunc: func(ctx context.Context, fn func(*models.FlightRecord) error) error {
			return fn(&models.FlightRecord{
				SchedDepAt: at(5, 16, 0), DepAt: at(5, 16, 5), DepDelay: intPtr(5),
				SchedArrAt: at(5, 17, 0), ArrTime: intPtr(1175),
				ArrDelay: intPtr(500), ElapsedTime: intPtr(999),
			})
		},
		countUnnormalizedFunc: func(ctx context.Context) (int64, error) { return 1, nil },
	}

	result, err := NewAuditStage(store, nil, nil, DefaultAuditOptions(), zap.NewNop()).
		Execute(context.Background(), testRun())
	require.NoError(t, err)

	require.NotNil(t, result.Audit)
	assert.Equal(t, int64(0), result.Audit.ArrDelayMismatch)
	assert.Equal(t, int64(0), result.Audit.ElapsedMismatch)
	assert.Equal(t, int64(1), result.Audit.Unnormalized)
	assert.False(t, result.Audit.Consistent())
}

func TestAuditStage_ScanError(t *testing.T) {
	store := &mockFlightStore{
		scanAllFunc: func(ctx context.Context, fn func(*models.FlightRecord) error) error {
			return errors.New("connection reset")
		},
	}

	_, err := NewAuditStage(store, nil, nil, DefaultAuditOptions(), zap.NewNop()).
		Execute(context.Background(), testRun())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan flights")
}
