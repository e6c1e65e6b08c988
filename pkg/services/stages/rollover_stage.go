package stages

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/flightclean/pkg/models"
)

// RolloverStore is the flight storage the rollover corrector needs.
type RolloverStore interface {
	ListActiveInstants(ctx context.Context) ([]models.FlightInstants, error)
	UpdateRolledInstants(ctx context.Context, rows []models.FlightInstants) (int64, error)
}

// RolloverStage moves instants that crossed midnight onto the right calendar day.
type RolloverStage struct {
	*BaseStage
	flights RolloverStore
}

// NewRolloverStage creates a new rollover corrector stage.
func NewRolloverStage(flights RolloverStore, logger *zap.Logger) *RolloverStage {
	return &RolloverStage{
		BaseStage: NewBaseStage(models.StageCorrectRollover, logger),
		flights:   flights,
	}
}

func (s *RolloverStage) Execute(ctx context.Context, run *models.PipelineRun) (*models.StageResult, error) {
	rows, err := s.flights.ListActiveInstants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list flight instants: %w", err)
	}

	result := models.NewStageResult()
	var changed []models.FlightInstants
	for i := range rows {
		fires := ApplyRollover(&rows[i])
		if !fires.Any() {
			continue
		}
		changed = append(changed, rows[i])
		result.Add("rule_a", boolCount(fires.DepNextDay))
		result.Add("rule_b", boolCount(fires.SchedArrNextDay))
		result.Add("rule_c", boolCount(fires.ArrNextDay))
		result.Add("rule_d", boolCount(fires.ArrPreviousDay))
		result.Add("rule_e", boolCount(fires.ArrAfterDeparture))
	}

	updated, err := s.flights.UpdateRolledInstants(ctx, changed)
	if err != nil {
		return nil, fmt.Errorf("write rolled instants: %w", err)
	}
	result.RowsAffected = updated

	s.Logger().Info("Corrected day rollover",
		runField(run),
		zap.Int("checked", len(rows)),
		zap.Int64("rows_updated", updated),
		zap.Int64("rule_a", result.Counts["rule_a"]),
		zap.Int64("rule_b", result.Counts["rule_b"]),
		zap.Int64("rule_c", result.Counts["rule_c"]),
		zap.Int64("rule_d", result.Counts["rule_d"]),
		zap.Int64("rule_e", result.Counts["rule_e"]))

	return result, nil
}

func boolCount(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
