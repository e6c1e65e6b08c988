package stages

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/flightclean/pkg/models"
)

// CancellationStore is the flight storage the cancellation classifier needs.
type CancellationStore interface {
	ClassifyCancellations(ctx context.Context) (int64, error)
	CountCancelled(ctx context.Context) (int64, error)
}

// CancellationStage sets canceled exactly when the actual departure is absent.
type CancellationStage struct {
	*BaseStage
	flights CancellationStore
}

// NewCancellationStage creates a new cancellation classifier stage.
func NewCancellationStage(flights CancellationStore, logger *zap.Logger) *CancellationStage {
	return &CancellationStage{
		BaseStage: NewBaseStage(models.StageClassifyCancellations, logger),
		flights:   flights,
	}
}

func (s *CancellationStage) Execute(ctx context.Context, run *models.PipelineRun) (*models.StageResult, error) {
	changed, err := s.flights.ClassifyCancellations(ctx)
	if err != nil {
		return nil, fmt.Errorf("classify cancellations: %w", err)
	}

	cancelled, err := s.flights.CountCancelled(ctx)
	if err != nil {
		return nil, fmt.Errorf("count cancelled: %w", err)
	}

	result := models.NewStageResult()
	result.Add("reclassified", changed)
	result.Add("cancelled", cancelled)
	result.RowsAffected = changed

	s.Logger().Info("Classified cancellations",
		runField(run),
		zap.Int64("reclassified", changed),
		zap.Int64("cancelled", cancelled))

	return result, nil
}
