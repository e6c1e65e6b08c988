package analytics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/flightclean/pkg/models"
	"github.com/ekaya-inc/flightclean/pkg/repositories"
)

type mockAnalyticsRepo struct {
	routes           []models.RouteEndpoints
	replaced         []models.RouteDirection
	planesUpdated    int64
	refreshPlanesErr error
}

var _ repositories.AnalyticsRepository = (*mockAnalyticsRepo)(nil)

func (m *mockAnalyticsRepo) RouteStats(ctx context.Context, origin, dest string) (*models.RouteStats, error) {
	return &models.RouteStats{Origin: origin, Dest: dest}, nil
}
func (m *mockAnalyticsRepo) DailyFlightCounts(ctx context.Context, origin string) ([]models.DailyCount, error) {
	return nil, nil
}
func (m *mockAnalyticsRepo) DelayedFlightCount(ctx context.Context, origin string, month, day *int) (int64, error) {
	return 0, errors.New("timeout")
}
func (m *mockAnalyticsRepo) DestinationsOnDay(ctx context.Context, origin string, month, day int) ([]string, error) {
	return []string{"LAX", "ORD"}, nil
}
func (m *mockAnalyticsRepo) RefreshPlaneSpeeds(ctx context.Context) (int64, error) {
	return m.planesUpdated, m.refreshPlanesErr
}
func (m *mockAnalyticsRepo) ListRouteEndpoints(ctx context.Context) ([]models.RouteEndpoints, error) {
	return m.routes, nil
}
func (m *mockAnalyticsRepo) ReplaceRouteDirections(ctx context.Context, directions []models.RouteDirection) (int64, error) {
	m.replaced = directions
	return int64(len(directions)), nil
}

func passthroughTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

var (
	jfkLAX = models.RouteEndpoints{
		Origin: "JFK", Dest: "LAX", DistanceMiles: 2475,
		OriginLat: 40.6398, OriginLon: -73.7789, DestLat: 33.9425, DestLon: -118.4081,
	}
	jfkBOS = models.RouteEndpoints{
		Origin: "JFK", Dest: "BOS", DistanceMiles: 500,
		OriginLat: 40.6398, OriginLon: -73.7789, DestLat: 42.3656, DestLon: -71.0096,
	}
)

func TestRouteDirections(t *testing.T) {
	dirs := RouteDirections([]models.RouteEndpoints{jfkLAX, jfkBOS})

	require.Len(t, dirs, 2)
	assert.Equal(t, "LAX", dirs[0].Dest)
	assert.InDelta(t, 274, dirs[0].Direction, 2, "JFK to LAX heads west")
	assert.InDelta(t, 50, dirs[1].Direction, 5, "JFK to BOS heads north-east")
}

func TestDistanceDiscrepancies(t *testing.T) {
	missing := models.RouteEndpoints{Origin: "EWR", Dest: "SJU"}
	out := DistanceDiscrepancies([]models.RouteEndpoints{jfkLAX, jfkBOS, missing}, 50)

	require.Len(t, out, 1, "JFK-BOS is stored at more than twice its length")
	assert.Equal(t, "BOS", out[0].Dest)
	assert.InDelta(t, 804.7, out[0].StoredKM, 0.1)
	assert.Greater(t, out[0].DiffKM, 50.0)
}

func TestService_Refresh(t *testing.T) {
	repo := &mockAnalyticsRepo{routes: []models.RouteEndpoints{jfkLAX, jfkBOS}, planesUpdated: 7}
	svc := NewService(repo, 50, zap.NewNop())
	svc.runInTx = passthroughTx

	summary, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(7), summary.PlanesUpdated)
	assert.Equal(t, int64(2), summary.RouteDirections)
	assert.Len(t, repo.replaced, 2)
	assert.Len(t, summary.DistanceDiscrepancies, 1)
}

func TestService_Refresh_PlaneSpeedError(t *testing.T) {
	repo := &mockAnalyticsRepo{refreshPlanesErr: errors.New("relation \"planes\" does not exist")}
	svc := NewService(repo, 50, zap.NewNop())
	svc.runInTx = passthroughTx

	_, err := svc.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh plane speeds")
	assert.Nil(t, repo.replaced, "directions are not rebuilt after a failure")
}

func TestService_Queries(t *testing.T) {
	svc := NewService(&mockAnalyticsRepo{}, 50, zap.NewNop())

	dests, err := svc.DestinationsOnDay(context.Background(), "JFK", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"LAX", "ORD"}, dests)

	month := 1
	_, err = svc.DelayedFlightCount(context.Background(), "JFK", &month, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delayed flights from JFK")
}
