package stages

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/flightclean/pkg/models"
)

// DedupStore is the flight storage the deduplicator needs.
type DedupStore interface {
	CountDuplicateGroups(ctx context.Context) (int64, error)
	DeleteDuplicates(ctx context.Context) (int64, error)
}

// DeduplicateStage keeps the earliest-inserted record of every natural key.
type DeduplicateStage struct {
	*BaseStage
	flights DedupStore
}

// NewDeduplicateStage creates a new deduplicate stage.
func NewDeduplicateStage(flights DedupStore, logger *zap.Logger) *DeduplicateStage {
	return &DeduplicateStage{
		BaseStage: NewBaseStage(models.StageDeduplicate, logger),
		flights:   flights,
	}
}

func (s *DeduplicateStage) Execute(ctx context.Context, run *models.PipelineRun) (*models.StageResult, error) {
	groups, err := s.flights.CountDuplicateGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("count duplicate groups: %w", err)
	}

	result := models.NewStageResult()
	result.Add("duplicate_groups", groups)
	if groups == 0 {
		s.Logger().Info("No duplicate flights", runField(run))
		return result, nil
	}

	removed, err := s.flights.DeleteDuplicates(ctx)
	if err != nil {
		return nil, fmt.Errorf("delete duplicates: %w", err)
	}
	result.Add("removed", removed)
	result.RowsAffected = removed

	s.Logger().Info("Removed duplicate flights",
		runField(run),
		zap.Int64("duplicate_groups", groups),
		zap.Int64("removed", removed))

	return result, nil
}
