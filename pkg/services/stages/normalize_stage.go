package stages

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/flightclean/pkg/models"
)

// NormalizeStore is the flight storage the timestamp normalizer needs.
type NormalizeStore interface {
	ListUnnormalized(ctx context.Context) ([]models.RawClocks, error)
	UpdateInstants(ctx context.Context, rows []models.RawClocks) (int64, error)
}

// NormalizeStage derives calendar-qualified instants from raw HHMM clocks.
type NormalizeStage struct {
	*BaseStage
	flights NormalizeStore
}

// NewNormalizeStage creates a new timestamp normalizer stage.
func NewNormalizeStage(flights NormalizeStore, logger *zap.Logger) *NormalizeStage {
	return &NormalizeStage{
		BaseStage: NewBaseStage(models.StageNormalizeTimestamps, logger),
		flights:   flights,
	}
}

func (s *NormalizeStage) Execute(ctx context.Context, run *models.PipelineRun) (*models.StageResult, error) {
	rows, err := s.flights.ListUnnormalized(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unnormalized flights: %w", err)
	}

	var filled, invalid int64
	updates := make([]models.RawClocks, 0, len(rows))
	for i := range rows {
		out := NormalizeClocks(&rows[i])
		filled += int64(out.Filled)
		invalid += int64(out.Invalid)
		if out.Filled > 0 {
			updates = append(updates, rows[i])
		}
	}

	updated, err := s.flights.UpdateInstants(ctx, updates)
	if err != nil {
		return nil, fmt.Errorf("write instants: %w", err)
	}

	result := models.NewStageResult()
	result.Add("instants_filled", filled)
	result.Add("invalid", invalid)
	result.RowsAffected = updated

	if invalid > 0 {
		s.Logger().Warn("Clock values could not be normalized",
			runField(run),
			zap.Int64("invalid", invalid))
	}
	s.Logger().Info("Normalized timestamps",
		runField(run),
		zap.Int("candidates", len(rows)),
		zap.Int64("rows_updated", updated),
		zap.Int64("instants_filled", filled))

	return result, nil
}
