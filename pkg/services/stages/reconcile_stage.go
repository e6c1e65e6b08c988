package stages

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/flightclean/pkg/models"
)

// ReconcileStore is the flight storage the derived-field reconciler needs.
type ReconcileStore interface {
	DeleteWithoutArrival(ctx context.Context) (int64, error)
	ListActiveInstants(ctx context.Context) ([]models.FlightInstants, error)
	UpdateDerived(ctx context.Context, rows []models.FlightInstants) (int64, error)
}

// ReconcileStage drops flights that can never be completed and recomputes
// delays and elapsed time from the corrected instants.
type ReconcileStage struct {
	*BaseStage
	flights ReconcileStore
}

// NewReconcileStage creates a new derived-field reconciler stage.
func NewReconcileStage(flights ReconcileStore, logger *zap.Logger) *ReconcileStage {
	return &ReconcileStage{
		BaseStage: NewBaseStage(models.StageReconcileDerived, logger),
		flights:   flights,
	}
}

func (s *ReconcileStage) Execute(ctx context.Context, run *models.PipelineRun) (*models.StageResult, error) {
	result := models.NewStageResult()

	removed, err := s.flights.DeleteWithoutArrival(ctx)
	if err != nil {
		return nil, fmt.Errorf("delete incomplete flights: %w", err)
	}
	result.Add("removed_incomplete", removed)
	if removed > 0 {
		s.Logger().Warn("Deleted non-cancelled flights without an arrival",
			runField(run),
			zap.Int64("removed", removed))
	}

	rows, err := s.flights.ListActiveInstants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list flight instants: %w", err)
	}

	var changed []models.FlightInstants
	for i := range rows {
		fixes := Reconcile(&rows[i])
		if !fixes.Any() {
			continue
		}
		changed = append(changed, rows[i])
		result.Add("dep_delay_fixed", boolCount(fixes.DepDelay))
		result.Add("arr_delay_fixed", boolCount(fixes.ArrDelay))
		result.Add("elapsed_fixed", boolCount(fixes.Elapsed))
	}

	updated, err := s.flights.UpdateDerived(ctx, changed)
	if err != nil {
		return nil, fmt.Errorf("write derived fields: %w", err)
	}
	result.RowsAffected = removed + updated

	s.Logger().Info("Reconciled derived fields",
		runField(run),
		zap.Int("checked", len(rows)),
		zap.Int64("rows_updated", updated),
		zap.Int64("dep_delay_fixed", result.Counts["dep_delay_fixed"]),
		zap.Int64("arr_delay_fixed", result.Counts["arr_delay_fixed"]),
		zap.Int64("elapsed_fixed", result.Counts["elapsed_fixed"]))

	return result, nil
}
