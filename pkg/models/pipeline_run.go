package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Run Status
// ============================================================================

// RunStatus represents the execution status of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ValidRunStatuses contains all valid run status values.
var ValidRunStatuses = []RunStatus{
	RunStatusPending,
	RunStatusRunning,
	RunStatusCompleted,
	RunStatusFailed,
}

// IsValidRunStatus checks if the given status is valid.
func IsValidRunStatus(s RunStatus) bool {
	for _, v := range ValidRunStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the run status is terminal (completed or failed).
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// IsActive returns true if the run is pending or running.
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// ============================================================================
// Stage Status
// ============================================================================

// StageStatus represents the execution status of one stage within a run.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusRunning   StageStatus = "running"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
	StageStatusSkipped   StageStatus = "skipped"
)

// ValidStageStatuses contains all valid stage status values.
var ValidStageStatuses = []StageStatus{
	StageStatusPending,
	StageStatusRunning,
	StageStatusCompleted,
	StageStatusFailed,
	StageStatusSkipped,
}

// IsValidStageStatus checks if the given status is valid.
func IsValidStageStatus(s StageStatus) bool {
	for _, v := range ValidStageStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the stage status is terminal.
func (s StageStatus) IsTerminal() bool {
	return s == StageStatusCompleted || s == StageStatusFailed || s == StageStatusSkipped
}

// ============================================================================
// Stage Names
// ============================================================================

// StageName identifies a cleaning stage.
type StageName string

const (
	StageReferenceRepair       StageName = "reference_repair"
	StageDeduplicate           StageName = "deduplicate"
	StageClassifyCancellations StageName = "classify_cancellations"
	StageNormalizeTimestamps   StageName = "normalize_timestamps"
	StageCorrectRollover       StageName = "correct_rollover"
	StageReconcileDerived      StageName = "reconcile_derived"
	StageAudit                 StageName = "audit"
)

// StageOrder defines the execution order for each stage.
var StageOrder = map[StageName]int{
	StageReferenceRepair:       1,
	StageDeduplicate:           2,
	StageClassifyCancellations: 3,
	StageNormalizeTimestamps:   4,
	StageCorrectRollover:       5,
	StageReconcileDerived:      6,
	StageAudit:                 7,
}

// AllStages returns all stage names in execution order.
func AllStages() []StageName {
	return []StageName{
		StageReferenceRepair,
		StageDeduplicate,
		StageClassifyCancellations,
		StageNormalizeTimestamps,
		StageCorrectRollover,
		StageReconcileDerived,
		StageAudit,
	}
}

// IsMutating is false only for the auditor.
func (n StageName) IsMutating() bool {
	return n != StageAudit
}

// ============================================================================
// Stage Result
// ============================================================================

// StageResult is what a stage reports after it commits.
type StageResult struct {
	// RowsAffected counts rows inserted, updated or deleted.
	RowsAffected int64 `json:"rows_affected"`
	// Counts holds stage-specific counters, e.g. "rule_a" or "invalid".
	Counts map[string]int64 `json:"counts,omitempty"`
	// Audit is set only by the auditor.
	Audit *AuditReport `json:"audit,omitempty"`
}

// NewStageResult returns an empty result with an allocated counter map.
func NewStageResult() *StageResult {
	return &StageResult{Counts: make(map[string]int64)}
}

// Add increments a named counter.
func (r *StageResult) Add(name string, n int64) {
	if r.Counts == nil {
		r.Counts = make(map[string]int64)
	}
	r.Counts[name] += n
}

// ============================================================================
// Pipeline Run Model
// ============================================================================

// PipelineRun records one execution of the cleaning pipeline.
type PipelineRun struct {
	ID uuid.UUID `json:"id"`

	Status       RunStatus    `json:"status"`
	CurrentStage *string      `json:"current_stage,omitempty"`
	AuditReport  *AuditReport `json:"audit_report,omitempty"`
	ErrorMessage *string      `json:"error_message,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Stages (populated when fetching with stages)
	Stages []PipelineRunStage `json:"stages,omitempty"`
}

// IsComplete returns true if the run completed successfully.
func (r *PipelineRun) IsComplete() bool {
	return r.Status == RunStatusCompleted
}

// HasFailed returns true if the run failed.
func (r *PipelineRun) HasFailed() bool {
	return r.Status == RunStatusFailed
}

// CompletedStageCount returns the number of completed stages.
func (r *PipelineRun) CompletedStageCount() int {
	count := 0
	for _, s := range r.Stages {
		if s.Status == StageStatusCompleted {
			count++
		}
	}
	return count
}

// ============================================================================
// Pipeline Run Stage Model
// ============================================================================

// PipelineRunStage records one stage within a run.
type PipelineRunStage struct {
	ID    uuid.UUID `json:"id"`
	RunID uuid.UUID `json:"run_id"`

	StageName  string `json:"stage_name"`
	StageOrder int    `json:"stage_order"`

	Status       StageStatus  `json:"status"`
	RowsAffected int64        `json:"rows_affected"`
	Result       *StageResult `json:"result,omitempty"`

	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMs   *int       `json:"duration_ms,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasFailed returns true if the stage failed.
func (s *PipelineRunStage) HasFailed() bool {
	return s.Status == StageStatusFailed
}
