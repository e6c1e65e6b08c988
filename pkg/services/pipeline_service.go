package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/flightclean/pkg/apperrors"
	"github.com/ekaya-inc/flightclean/pkg/database"
	"github.com/ekaya-inc/flightclean/pkg/logging"
	"github.com/ekaya-inc/flightclean/pkg/metrics"
	"github.com/ekaya-inc/flightclean/pkg/models"
	"github.com/ekaya-inc/flightclean/pkg/repositories"
	"github.com/ekaya-inc/flightclean/pkg/services/stages"
)

// PipelineService runs the cleaning stages in order and records every run.
type PipelineService interface {
	// Run executes every stage. On a stage failure the returned error is an
	// *apperrors.StageError and the stages before it stay committed.
	Run(ctx context.Context) (*models.PipelineRun, error)

	// RunAuditOnly executes the auditor alone.
	RunAuditOnly(ctx context.Context) (*models.PipelineRun, error)

	// LatestRun returns the most recent run with its stages, or nil if none exists.
	LatestRun(ctx context.Context) (*models.PipelineRun, error)
}

type pipelineService struct {
	runRepo  repositories.PipelineRunRepository
	registry StageRegistry
	getScope ScopeContextFunc
	runInTx  TxFunc
	metrics  *metrics.Registry
	now      func() time.Time
	logger   *zap.Logger
}

// NewPipelineService creates a new PipelineService. metricsRegistry may be nil.
func NewPipelineService(
	runRepo repositories.PipelineRunRepository,
	registry StageRegistry,
	getScope ScopeContextFunc,
	metricsRegistry *metrics.Registry,
	logger *zap.Logger,
) *pipelineService {
	return &pipelineService{
		runRepo:  runRepo,
		registry: registry,
		getScope: getScope,
		runInTx:  database.RunInTx,
		metrics:  metricsRegistry,
		now:      time.Now,
		logger:   logger.Named("pipeline"),
	}
}

var _ PipelineService = (*pipelineService)(nil)

func (s *pipelineService) Run(ctx context.Context) (*models.PipelineRun, error) {
	return s.execute(ctx, models.AllStages())
}

func (s *pipelineService) RunAuditOnly(ctx context.Context) (*models.PipelineRun, error) {
	return s.execute(ctx, []models.StageName{models.StageAudit})
}

func (s *pipelineService) LatestRun(ctx context.Context) (*models.PipelineRun, error) {
	scopeCtx, cleanup, err := s.getScope(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire database scope: %w", err)
	}
	defer cleanup()

	latest, err := s.runRepo.GetLatest(scopeCtx)
	if err != nil {
		return nil, fmt.Errorf("get latest run: %w", err)
	}
	if latest == nil {
		return nil, nil
	}
	return s.runRepo.GetByIDWithStages(scopeCtx, latest.ID)
}

// execute runs the named stages as one pipeline run. Run bookkeeping is written
// on the scope connection outside the stage transactions so that a failed
// stage is still recorded.
func (s *pipelineService) execute(ctx context.Context, names []models.StageName) (*models.PipelineRun, error) {
	for _, name := range names {
		if _, err := s.registry.Executor(name); err != nil {
			return nil, err
		}
	}

	scopeCtx, cleanup, err := s.getScope(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire database scope: %w", err)
	}
	defer cleanup()

	acquired, err := s.runRepo.TryAcquireRunLock(scopeCtx)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, apperrors.ErrRunInProgress
	}
	defer func() {
		if err := s.runRepo.ReleaseRunLock(context.WithoutCancel(scopeCtx)); err != nil {
			s.logger.Error("Failed to release run lock", zap.String("error", logging.SanitizeError(err)))
		}
	}()

	// Holding the lock means any active run left behind belongs to a dead process.
	interrupted, err := s.runRepo.FailInterrupted(scopeCtx)
	if err != nil {
		return nil, err
	}
	if interrupted > 0 {
		s.logger.Warn("Marked interrupted runs as failed", zap.Int64("count", interrupted))
	}

	run := &models.PipelineRun{
		ID:     uuid.New(),
		Status: models.RunStatusPending,
	}
	if err := s.runRepo.Create(scopeCtx, run); err != nil {
		return nil, err
	}

	run.Stages = createStages(run.ID, names)
	if err := s.runRepo.CreateStages(scopeCtx, run.Stages); err != nil {
		s.markRunFailed(scopeCtx, run, err)
		return run, fmt.Errorf("create stages: %w", err)
	}

	s.logger.Info("Starting pipeline run",
		zap.String("run_id", run.ID.String()),
		zap.Int("stages", len(run.Stages)))

	for i := range run.Stages {
		if err := s.executeStage(scopeCtx, run, &run.Stages[i]); err != nil {
			s.logger.Error("Stage execution failed",
				zap.String("run_id", run.ID.String()),
				zap.String("stage", run.Stages[i].StageName),
				zap.String("error", logging.SanitizeError(err)))
			s.markRunFailed(scopeCtx, run, err)
			return run, err
		}
	}

	s.markRunCompleted(scopeCtx, run)
	return run, nil
}

// createStages creates the stage records of a run in pending state.
func createStages(runID uuid.UUID, names []models.StageName) []models.PipelineRunStage {
	out := make([]models.PipelineRunStage, len(names))
	for i, name := range names {
		out[i] = models.PipelineRunStage{
			ID:         uuid.New(),
			RunID:      runID,
			StageName:  string(name),
			StageOrder: models.StageOrder[name],
			Status:     models.StageStatusPending,
		}
	}
	return out
}

// executeStage runs one stage inside its own transaction and records the outcome.
func (s *pipelineService) executeStage(ctx context.Context, run *models.PipelineRun, stage *models.PipelineRunStage) error {
	name := models.StageName(stage.StageName)
	executor, err := s.registry.Executor(name)
	if err != nil {
		return &apperrors.StageError{Stage: stage.StageName, Err: err}
	}

	s.logger.Info("Executing stage",
		zap.String("run_id", run.ID.String()),
		zap.String("stage", stage.StageName))

	current := stage.StageName
	run.CurrentStage = &current
	if err := s.runRepo.UpdateStatus(ctx, run.ID, models.RunStatusRunning, &current, nil); err != nil {
		return &apperrors.StageError{Stage: stage.StageName, Err: fmt.Errorf("update current stage: %w", err)}
	}
	run.Status = models.RunStatusRunning

	if err := s.runRepo.UpdateStageStatus(ctx, stage.ID, models.StageStatusRunning, nil); err != nil {
		return &apperrors.StageError{Stage: stage.StageName, Err: fmt.Errorf("mark stage running: %w", err)}
	}
	stage.Status = models.StageStatusRunning

	start := s.now()
	var result *models.StageResult
	err = s.runInTx(ctx, func(txCtx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Stage panicked",
					zap.String("run_id", run.ID.String()),
					zap.String("stage", stage.StageName),
					zap.Any("panic", r),
					zap.Stack("stack"))
				err = fmt.Errorf("panic during execution: %v", r)
			}
		}()
		result, err = executor.Execute(txCtx, run)
		return err
	})
	elapsed := s.now().Sub(start)

	if err != nil {
		if s.metrics != nil {
			s.metrics.StageFailed(name, elapsed)
		}
		msg := logging.SanitizeError(err)
		if updateErr := s.runRepo.UpdateStageStatus(context.WithoutCancel(ctx), stage.ID, models.StageStatusFailed, &msg); updateErr != nil {
			s.logger.Error("Failed to update stage status with error",
				zap.String("stage_id", stage.ID.String()),
				zap.Error(updateErr))
		}
		stage.Status = models.StageStatusFailed
		stage.ErrorMessage = &msg
		return &apperrors.StageError{Stage: stage.StageName, Err: err}
	}

	if result == nil {
		result = models.NewStageResult()
	}
	if err := s.runRepo.CompleteStage(ctx, stage.ID, result); err != nil {
		return &apperrors.StageError{Stage: stage.StageName, Rows: result.RowsAffected, Err: fmt.Errorf("mark stage completed: %w", err)}
	}
	stage.Status = models.StageStatusCompleted
	stage.RowsAffected = result.RowsAffected
	stage.Result = result

	if s.metrics != nil {
		s.metrics.ObserveStage(name, elapsed, result)
	}

	if result.Audit != nil {
		run.AuditReport = result.Audit
		if err := s.runRepo.SetAuditReport(ctx, run.ID, result.Audit); err != nil {
			return &apperrors.StageError{Stage: stage.StageName, Err: fmt.Errorf("store audit report: %w", err)}
		}
		if s.metrics != nil {
			s.metrics.ObserveAudit(result.Audit)
		}
	}

	s.logger.Info("Stage completed",
		zap.String("run_id", run.ID.String()),
		zap.String("stage", stage.StageName),
		zap.Int64("rows_affected", result.RowsAffected),
		zap.Duration("elapsed", elapsed))

	return nil
}

// markRunFailed marks the run as failed. The stage error is already stored on
// the failing stage.
func (s *pipelineService) markRunFailed(ctx context.Context, run *models.PipelineRun, cause error) {
	msg := logging.SanitizeError(cause)
	if err := s.runRepo.UpdateStatus(context.WithoutCancel(ctx), run.ID, models.RunStatusFailed, run.CurrentStage, &msg); err != nil {
		s.logger.Error("Failed to mark run as failed", zap.Error(err))
	}
	run.Status = models.RunStatusFailed
	run.ErrorMessage = &msg

	if s.metrics != nil {
		s.metrics.RunFinished(models.RunStatusFailed, s.now())
	}

	s.logger.Error("Pipeline run failed",
		zap.String("run_id", run.ID.String()),
		zap.String("error", msg))
}

func (s *pipelineService) markRunCompleted(ctx context.Context, run *models.PipelineRun) {
	if err := s.runRepo.UpdateStatus(ctx, run.ID, models.RunStatusCompleted, nil, nil); err != nil {
		s.logger.Error("Failed to mark run as completed", zap.Error(err))
	}
	run.Status = models.RunStatusCompleted
	run.CurrentStage = nil

	if s.metrics != nil {
		s.metrics.RunFinished(models.RunStatusCompleted, s.now())
	}

	fields := []zap.Field{zap.String("run_id", run.ID.String())}
	if run.AuditReport != nil {
		fields = append(fields, zap.Bool("consistent", run.AuditReport.Consistent()))
	}
	s.logger.Info("Pipeline run completed", fields...)
}

// StageRegistry maps stage names to their executors.
type StageRegistry map[models.StageName]stages.StageExecutor

// NewStageRegistry registers each executor under its own name.
func NewStageRegistry(executors ...stages.StageExecutor) StageRegistry {
	r := make(StageRegistry, len(executors))
	for _, e := range executors {
		r[e.Name()] = e
	}
	return r
}

// Executor returns the executor registered for name.
func (r StageRegistry) Executor(name models.StageName) (stages.StageExecutor, error) {
	e, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownStage, name)
	}
	return e, nil
}
