//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/flightclean/pkg/apperrors"
	"github.com/ekaya-inc/flightclean/pkg/models"
	"github.com/ekaya-inc/flightclean/pkg/testhelpers"
)

// flightTestContext holds test dependencies for flight repository tests.
type flightTestContext struct {
	t    *testing.T
	ctx  context.Context
	repo FlightRepository
}

func setupFlightTest(t *testing.T) *flightTestContext {
	testDB := testhelpers.GetTestDB(t)
	testDB.Reset(t)
	return &flightTestContext{
		t:    t,
		ctx:  testDB.Scope(t),
		repo: NewFlightRepository(),
	}
}

func ip(v int) *int { return &v }

func ts(day, hour, minute int) *time.Time {
	t := time.Date(2013, 1, day, hour, minute, 0, 0, time.UTC)
	return &t
}

func rawFlight(flight int, sched, dep, schedArr, arr *int) models.FlightRecord {
	return models.FlightRecord{
		Year: 2013, Month: 1, Day: 1,
		Flight: flight, Carrier: "UA", Tailnum: "N14228",
		Origin: "EWR", Dest: "IAH",
		SchedDepTime: sched, DepTime: dep, SchedArrTime: schedArr, ArrTime: arr,
		AirTime: ip(227), Distance: ip(1400),
	}
}

func (tc *flightTestContext) insert(flights ...models.FlightRecord) {
	tc.t.Helper()
	n, err := tc.repo.InsertBatch(tc.ctx, flights)
	require.NoError(tc.t, err)
	require.Equal(tc.t, int64(len(flights)), n)
}

func TestFlightRepository_RequiresScope(t *testing.T) {
	_, err := NewFlightRepository().Count(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNoScope)
}

func TestFlightRepository_InsertAndGet(t *testing.T) {
	tc := setupFlightTest(t)
	tc.insert(rawFlight(1545, ip(515), ip(517), ip(819), ip(830)))

	f, err := tc.repo.GetByID(tc.ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, 1545, f.Flight)
	assert.Equal(t, "N14228", f.Tailnum)
	assert.Equal(t, 517, *f.DepTime)
	assert.Nil(t, f.DepAt)
	assert.False(t, f.Canceled)

	missing, err := tc.repo.GetByID(tc.ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFlightRepository_DeleteDuplicatesKeepsFirst(t *testing.T) {
	tc := setupFlightTest(t)

	first := rawFlight(1545, ip(515), ip(517), ip(819), ip(830))
	second := first
	second.Tailnum = "N24211"
	noSched := rawFlight(11, nil, nil, nil, nil)
	tc.insert(first, second, second, noSched, noSched, rawFlight(1714, ip(529), ip(533), ip(850), ip(923)))

	groups, err := tc.repo.CountDuplicateGroups(tc.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), groups)

	surplus, err := tc.repo.CountSurplusDuplicates(tc.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), surplus)

	removed, err := tc.repo.DeleteDuplicates(tc.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	kept, err := tc.repo.GetByID(tc.ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, kept, "the earliest-inserted record survives")
	assert.Equal(t, "N14228", kept.Tailnum)

	total, err := tc.repo.Count(tc.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestFlightRepository_ClassifyCancellations(t *testing.T) {
	tc := setupFlightTest(t)

	flown := rawFlight(1, ip(515), ip(517), ip(819), ip(830))
	flown.Canceled = true
	cancelled := rawFlight(2, ip(600), nil, ip(900), nil)
	tc.insert(flown, cancelled)

	changed, err := tc.repo.ClassifyCancellations(tc.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), changed)

	again, err := tc.repo.ClassifyCancellations(tc.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), again)

	n, err := tc.repo.CountCancelled(tc.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestFlightRepository_UpdateInstantsNeverOverwrites(t *testing.T) {
	tc := setupFlightTest(t)

	f := rawFlight(1, ip(515), ip(517), ip(819), ip(830))
	f.DepAt = ts(1, 5, 18)
	tc.insert(f)

	rows, err := tc.repo.ListUnnormalized(tc.ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows[0].SchedDepAt = ts(1, 5, 15)
	rows[0].DepAt = ts(1, 5, 17)
	rows[0].SchedArrAt = ts(1, 8, 19)
	rows[0].ArrAt = ts(1, 8, 30)
	_, err = tc.repo.UpdateInstants(tc.ctx, rows)
	require.NoError(t, err)

	got, err := tc.repo.GetByID(tc.ctx, rows[0].ID)
	require.NoError(t, err)
	assert.True(t, ts(1, 5, 18).Equal(*got.DepAt), "existing instant kept")
	assert.True(t, ts(1, 8, 30).Equal(*got.ArrAt))

	remaining, err := tc.repo.CountUnnormalized(tc.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)
}

func TestFlightRepository_DerivedWriteBackSkipsCancelled(t *testing.T) {
	tc := setupFlightTest(t)

	active := rawFlight(1, ip(515), ip(517), ip(819), ip(830))
	cancelled := rawFlight(2, ip(600), nil, ip(900), nil)
	cancelled.Canceled = true
	tc.insert(active, cancelled)

	rows, err := tc.repo.ListActiveInstants(tc.ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1, "cancelled flights are not listed")

	rows = append(rows, models.FlightInstants{ID: 2, DepDelay: ip(5)})
	rows[0].DepDelay = ip(2)
	rows[0].Elapsed = ip(193)
	n, err := tc.repo.UpdateDerived(tc.ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := tc.repo.GetByID(tc.ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, got.DepDelay)
}

func TestFlightRepository_DeleteWithoutArrival(t *testing.T) {
	tc := setupFlightTest(t)

	diverted := rawFlight(1, ip(515), ip(517), ip(819), nil)
	cancelled := rawFlight(2, ip(600), nil, ip(900), nil)
	cancelled.Canceled = true
	tc.insert(diverted, cancelled, rawFlight(3, ip(700), ip(705), ip(1000), ip(1003)))

	n, err := tc.repo.DeleteWithoutArrival(tc.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	total, err := tc.repo.Count(tc.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestFlightRepository_DeleteWithoutArrival_MalformedClock(t *testing.T) {
	tc := setupFlightTest(t)

	malformed := rawFlight(1, ip(515), ip(517), ip(819), ip(1175))
	malformed.ArrDelay = ip(500)
	malformed.ElapsedTime = ip(999)
	tc.insert(malformed, rawFlight(2, ip(700), ip(705), ip(1000), ip(1003)))

	// Normalization fills the valid clocks and leaves arr_at NULL.
	rows, err := tc.repo.ListUnnormalized(tc.ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for i := range rows {
		rows[i].SchedDepAt = ts(1, 5, 15)
		rows[i].DepAt = ts(1, 5, 17)
		rows[i].SchedArrAt = ts(1, 8, 19)
		if rows[i].ID == 2 {
			rows[i].ArrAt = ts(1, 10, 3)
		}
	}
	_, err = tc.repo.UpdateInstants(tc.ctx, rows)
	require.NoError(t, err)

	unnormalized, err := tc.repo.CountUnnormalized(tc.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unnormalized)

	n, err := tc.repo.DeleteWithoutArrival(tc.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := tc.repo.GetByID(tc.ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got, "a malformed arrival clock counts as no arrival")

	unnormalized, err = tc.repo.CountUnnormalized(tc.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), unnormalized)
}

func TestFlightRepository_CountUnnormalizedSkipsCancelled(t *testing.T) {
	tc := setupFlightTest(t)

	cancelled := rawFlight(1, ip(9999), nil, ip(900), nil)
	cancelled.Canceled = true
	tc.insert(cancelled)

	n, err := tc.repo.CountUnnormalized(tc.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestFlightRepository_ScanAllInInsertionOrder(t *testing.T) {
	tc := setupFlightTest(t)
	tc.insert(rawFlight(3, nil, nil, nil, nil), rawFlight(1, nil, nil, nil, nil), rawFlight(2, nil, nil, nil, nil))

	var seen []int
	err := tc.repo.ScanAll(tc.ctx, func(f *models.FlightRecord) error {
		seen = append(seen, f.Flight)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 2}, seen)
}
