package services

import (
	"go.uber.org/zap"

	"github.com/ekaya-inc/flightclean/pkg/config"
	"github.com/ekaya-inc/flightclean/pkg/geo"
	"github.com/ekaya-inc/flightclean/pkg/models"
	"github.com/ekaya-inc/flightclean/pkg/repositories"
	"github.com/ekaya-inc/flightclean/pkg/services/stages"
)

// StageDeps holds what the standard stage set is built from.
// Lookup may be nil; reference repair then only supplements and prunes, and
// the audit skips the timezone check.
type StageDeps struct {
	Flights    repositories.FlightRepository
	Locations  repositories.LocationRepository
	Lookup     geo.TimezoneLookup
	Supplement []models.LocationRecord
	Pipeline   config.PipelineConfig
}

// AuditOptionsFromConfig maps pipeline configuration onto auditor tolerances.
func AuditOptionsFromConfig(p config.PipelineConfig) stages.AuditOptions {
	return stages.AuditOptions{
		DelayToleranceMinutes:    p.DelayToleranceMinutes,
		DurationToleranceMinutes: p.DurationToleranceMinutes,
		MaxSpeedMPH:              p.MaxSpeedMPH,
	}
}

// NewDefaultStageRegistry builds every stage of models.AllStages.
func NewDefaultStageRegistry(deps StageDeps, logger *zap.Logger) StageRegistry {
	return NewStageRegistry(
		stages.NewReferenceRepairStage(deps.Locations, deps.Lookup, deps.Supplement, deps.Pipeline.RecalculateTimezones(), logger),
		stages.NewDeduplicateStage(deps.Flights, logger),
		stages.NewCancellationStage(deps.Flights, logger),
		stages.NewNormalizeStage(deps.Flights, logger),
		stages.NewRolloverStage(deps.Flights, logger),
		stages.NewReconcileStage(deps.Flights, logger),
		stages.NewAuditStage(deps.Flights, deps.Locations, deps.Lookup, AuditOptionsFromConfig(deps.Pipeline), logger),
	)
}
