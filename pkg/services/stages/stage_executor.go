package stages

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/flightclean/pkg/models"
)

// StageExecutor defines the interface for one cleaning stage.
// Execute runs inside the stage's transaction, which ctx carries; returning an
// error rolls back everything the stage wrote.
type StageExecutor interface {
	// Name returns the stage name (e.g., "deduplicate")
	Name() models.StageName

	// Execute runs the stage's work and reports what it changed.
	Execute(ctx context.Context, run *models.PipelineRun) (*models.StageResult, error)
}

// BaseStage provides common functionality for all stages.
type BaseStage struct {
	stageName models.StageName
	logger    *zap.Logger
}

// NewBaseStage creates a new base stage with a logger named after the stage.
func NewBaseStage(stageName models.StageName, logger *zap.Logger) *BaseStage {
	return &BaseStage{
		stageName: stageName,
		logger:    logger.Named(string(stageName)),
	}
}

// Name returns the stage name.
func (b *BaseStage) Name() models.StageName {
	return b.stageName
}

// Logger returns the stage's logger.
func (b *BaseStage) Logger() *zap.Logger {
	return b.logger
}

func runField(run *models.PipelineRun) zap.Field {
	if run == nil {
		return zap.Skip()
	}
	return zap.String("run_id", run.ID.String())
}
