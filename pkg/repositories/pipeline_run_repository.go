package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/flightclean/pkg/apperrors"
	"github.com/ekaya-inc/flightclean/pkg/models"
)

// runLockKey is the advisory lock held by the process executing a run.
const runLockKey int64 = 0x666c6967687463 // "flightc"

// PipelineRunRepository provides data access for pipeline runs and their stages.
type PipelineRunRepository interface {
	// Run operations
	Create(ctx context.Context, run *models.PipelineRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error)
	GetByIDWithStages(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error)
	GetLatest(ctx context.Context) (*models.PipelineRun, error)
	GetActive(ctx context.Context) (*models.PipelineRun, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.RunStatus, currentStage *string, errorMsg *string) error
	SetAuditReport(ctx context.Context, id uuid.UUID, report *models.AuditReport) error
	FailInterrupted(ctx context.Context) (int64, error)

	// Exclusive execution
	TryAcquireRunLock(ctx context.Context) (bool, error)
	ReleaseRunLock(ctx context.Context) error

	// Stage operations
	CreateStages(ctx context.Context, stages []models.PipelineRunStage) error
	GetStagesByRun(ctx context.Context, runID uuid.UUID) ([]models.PipelineRunStage, error)
	UpdateStageStatus(ctx context.Context, stageID uuid.UUID, status models.StageStatus, errorMsg *string) error
	CompleteStage(ctx context.Context, stageID uuid.UUID, result *models.StageResult) error
}

type pipelineRunRepository struct{}

// NewPipelineRunRepository creates a new PipelineRunRepository.
func NewPipelineRunRepository() PipelineRunRepository {
	return &pipelineRunRepository{}
}

var _ PipelineRunRepository = (*pipelineRunRepository)(nil)

const runColumns = `
	id, status, current_stage, audit_report, error_message,
	started_at, completed_at, created_at, updated_at`

const stageColumns = `
	id, run_id, stage_name, stage_order,
	status, rows_affected, result,
	started_at, completed_at, duration_ms,
	error_message, created_at, updated_at`

// ============================================================================
// Run Operations
// ============================================================================

// Create inserts a run. A second active run violates the single-active index and
// is reported as apperrors.ErrRunInProgress.
func (r *pipelineRunRepository) Create(ctx context.Context, run *models.PipelineRun) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	run.CreatedAt = now
	run.UpdatedAt = now
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	query := `
		INSERT INTO pipeline_runs (
			id, status, current_stage, error_message,
			started_at, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = q.Exec(ctx, query,
		run.ID, run.Status, run.CurrentStage, run.ErrorMessage,
		run.StartedAt, run.CompletedAt, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrRunInProgress
		}
		return fmt.Errorf("failed to create pipeline run: %w", err)
	}

	return nil
}

func (r *pipelineRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error) {
	return r.getOne(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE id = $1`, id)
}

func (r *pipelineRunRepository) GetByIDWithStages(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error) {
	run, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, nil
	}

	stages, err := r.GetStagesByRun(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Stages = stages

	return run, nil
}

func (r *pipelineRunRepository) GetLatest(ctx context.Context) (*models.PipelineRun, error) {
	return r.getOne(ctx, `
		SELECT `+runColumns+`
		FROM pipeline_runs
		ORDER BY created_at DESC
		LIMIT 1`)
}

func (r *pipelineRunRepository) GetActive(ctx context.Context) (*models.PipelineRun, error) {
	return r.getOne(ctx, `
		SELECT `+runColumns+`
		FROM pipeline_runs
		WHERE status IN ('pending', 'running')
		ORDER BY created_at DESC
		LIMIT 1`)
}

func (r *pipelineRunRepository) getOne(ctx context.Context, query string, args ...any) (*models.PipelineRun, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	run, err := scanRunRow(q.QueryRow(ctx, query, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}

func (r *pipelineRunRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.RunStatus, currentStage *string, errorMsg *string) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	var startedAt *time.Time
	var completedAt *time.Time

	if status == models.RunStatusRunning {
		now := time.Now()
		startedAt = &now
	}

	if status.IsTerminal() {
		now := time.Now()
		completedAt = &now
	}

	query := `
		UPDATE pipeline_runs
		SET status = $2,
		    current_stage = $3,
		    error_message = COALESCE($4, error_message),
		    started_at = COALESCE(started_at, $5),
		    completed_at = COALESCE($6, completed_at),
		    updated_at = NOW()
		WHERE id = $1`

	result, err := q.Exec(ctx, query, id, status, currentStage, errorMsg, startedAt, completedAt)
	if err != nil {
		return fmt.Errorf("failed to update pipeline run status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("pipeline run %s: %w", id, apperrors.ErrNotFound)
	}

	return nil
}

func (r *pipelineRunRepository) SetAuditReport(ctx context.Context, id uuid.UUID, report *models.AuditReport) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal audit report: %w", err)
	}

	result, err := q.Exec(ctx, `
		UPDATE pipeline_runs
		SET audit_report = $2, updated_at = NOW()
		WHERE id = $1`, id, reportJSON)
	if err != nil {
		return fmt.Errorf("failed to store audit report: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("pipeline run %s: %w", id, apperrors.ErrNotFound)
	}

	return nil
}

// FailInterrupted marks runs left active by a process that died mid-run.
// Only call it while holding the run lock.
func (r *pipelineRunRepository) FailInterrupted(ctx context.Context) (int64, error) {
	q, err := querier(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := q.Exec(ctx, `
		UPDATE pipeline_runs
		SET status = 'failed',
		    error_message = 'interrupted',
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE status IN ('pending', 'running')`)
	if err != nil {
		return 0, fmt.Errorf("failed to close interrupted runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ============================================================================
// Exclusive Execution
// ============================================================================

// TryAcquireRunLock takes a session-level advisory lock on the scope's connection.
func (r *pipelineRunRepository) TryAcquireRunLock(ctx context.Context) (bool, error) {
	q, err := querier(ctx)
	if err != nil {
		return false, err
	}

	var acquired bool
	if err := q.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, runLockKey).Scan(&acquired); err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return acquired, nil
}

func (r *pipelineRunRepository) ReleaseRunLock(ctx context.Context) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	if _, err := q.Exec(ctx, `SELECT pg_advisory_unlock($1)`, runLockKey); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

// ============================================================================
// Stage Operations
// ============================================================================

func (r *pipelineRunRepository) CreateStages(ctx context.Context, stages []models.PipelineRunStage) error {
	if len(stages) == 0 {
		return nil
	}

	q, err := querier(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	query := `
		INSERT INTO pipeline_run_stages (
			id, run_id, stage_name, stage_order,
			status, rows_affected,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	batch := &pgx.Batch{}
	for i := range stages {
		stage := &stages[i]
		stage.CreatedAt = now
		stage.UpdatedAt = now
		if stage.ID == uuid.Nil {
			stage.ID = uuid.New()
		}
		batch.Queue(query,
			stage.ID, stage.RunID, stage.StageName, stage.StageOrder,
			stage.Status, stage.RowsAffected,
			stage.CreatedAt, stage.UpdatedAt,
		)
	}

	results := q.SendBatch(ctx, batch)
	defer results.Close()

	for i := range stages {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to create stage %s: %w", stages[i].StageName, err)
		}
	}

	return nil
}

func (r *pipelineRunRepository) GetStagesByRun(ctx context.Context, runID uuid.UUID) ([]models.PipelineRunStage, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + stageColumns + `
		FROM pipeline_run_stages
		WHERE run_id = $1
		ORDER BY stage_order`

	rows, err := q.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stages: %w", err)
	}
	defer rows.Close()

	var stages []models.PipelineRunStage
	for rows.Next() {
		stage, err := scanStageRow(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, *stage)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stages: %w", err)
	}

	return stages, nil
}

func (r *pipelineRunRepository) UpdateStageStatus(ctx context.Context, stageID uuid.UUID, status models.StageStatus, errorMsg *string) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	var startedAt *time.Time
	var completedAt *time.Time

	if status == models.StageStatusRunning {
		now := time.Now()
		startedAt = &now
	}

	if status.IsTerminal() {
		now := time.Now()
		completedAt = &now
	}

	query := `
		UPDATE pipeline_run_stages
		SET status = $2,
		    error_message = COALESCE($3, error_message),
		    started_at = COALESCE($4, started_at),
		    completed_at = COALESCE($5, completed_at),
		    duration_ms = CASE
		        WHEN $5::timestamptz IS NOT NULL AND started_at IS NOT NULL
		        THEN EXTRACT(EPOCH FROM ($5::timestamptz - started_at)) * 1000
		        ELSE duration_ms
		    END,
		    updated_at = NOW()
		WHERE id = $1`

	result, err := q.Exec(ctx, query, stageID, status, errorMsg, startedAt, completedAt)
	if err != nil {
		return fmt.Errorf("failed to update stage status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("stage %s: %w", stageID, apperrors.ErrNotFound)
	}

	return nil
}

// CompleteStage marks a stage completed and stores its result.
func (r *pipelineRunRepository) CompleteStage(ctx context.Context, stageID uuid.UUID, result *models.StageResult) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	var rowsAffected int64
	var resultJSON []byte
	if result != nil {
		rowsAffected = result.RowsAffected
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal stage result: %w", err)
		}
	}

	now := time.Now()
	query := `
		UPDATE pipeline_run_stages
		SET status = 'completed',
		    rows_affected = $2,
		    result = $3,
		    completed_at = $4,
		    duration_ms = CASE
		        WHEN started_at IS NOT NULL
		        THEN EXTRACT(EPOCH FROM ($4::timestamptz - started_at)) * 1000
		        ELSE duration_ms
		    END,
		    updated_at = NOW()
		WHERE id = $1`

	tag, err := q.Exec(ctx, query, stageID, rowsAffected, resultJSON, now)
	if err != nil {
		return fmt.Errorf("failed to complete stage: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stage %s: %w", stageID, apperrors.ErrNotFound)
	}

	return nil
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanRunRow(row pgx.Row) (*models.PipelineRun, error) {
	var run models.PipelineRun
	var auditJSON []byte

	err := row.Scan(
		&run.ID, &run.Status, &run.CurrentStage, &auditJSON, &run.ErrorMessage,
		&run.StartedAt, &run.CompletedAt, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan pipeline run: %w", err)
	}

	if len(auditJSON) > 0 {
		run.AuditReport = &models.AuditReport{}
		if err := json.Unmarshal(auditJSON, run.AuditReport); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit report: %w", err)
		}
	}

	return &run, nil
}

func scanStageRow(row pgx.Row) (*models.PipelineRunStage, error) {
	var stage models.PipelineRunStage
	var resultJSON []byte

	err := row.Scan(
		&stage.ID, &stage.RunID, &stage.StageName, &stage.StageOrder,
		&stage.Status, &stage.RowsAffected, &resultJSON,
		&stage.StartedAt, &stage.CompletedAt, &stage.DurationMs,
		&stage.ErrorMessage, &stage.CreatedAt, &stage.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan stage: %w", err)
	}

	if len(resultJSON) > 0 {
		stage.Result = &models.StageResult{}
		if err := json.Unmarshal(resultJSON, stage.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stage result: %w", err)
		}
	}

	return &stage, nil
}
