// Package report renders a pipeline run as an operator workbook.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ekaya-inc/flightclean/pkg/models"
)

const (
	SheetRun       = "Run"
	SheetStages    = "Stages"
	SheetAudit     = "Audit"
	SheetDistances = "Distances"
)

// Input is everything the workbook shows. Discrepancies may be empty.
type Input struct {
	Run           *models.PipelineRun
	Discrepancies []models.DistanceDiscrepancy
}

// Build renders the workbook in memory. The caller owns the returned file and must Close it.
func Build(in Input) (*excelize.File, error) {
	if in.Run == nil {
		return nil, fmt.Errorf("no run to report")
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetRun); err != nil {
		f.Close()
		return nil, err
	}
	for _, name := range []string{SheetStages, SheetAudit, SheetDistances} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	writers := []func(*excelize.File, Input) error{
		writeRun,
		writeStages,
		writeAudit,
		writeDistances,
	}
	for _, w := range writers {
		if err := w(f, in); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// Write renders the workbook and saves it at path.
func Write(path string, in Input) error {
	f, err := Build(in)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", path, err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, header []any, rows [][]any) error {
	all := append([][]any{header}, rows...)
	for i, row := range all {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func writeRun(f *excelize.File, in Input) error {
	run := in.Run
	rows := [][]any{
		{"run_id", run.ID.String()},
		{"status", string(run.Status)},
		{"started_at", timeCell(run.StartedAt)},
		{"completed_at", timeCell(run.CompletedAt)},
		{"error", stringCell(run.ErrorMessage)},
	}
	if run.AuditReport != nil {
		rows = append(rows, []any{"consistent", run.AuditReport.Consistent()})
	}
	return writeRows(f, SheetRun, []any{"field", "value"}, rows)
}

func writeStages(f *excelize.File, in Input) error {
	rows := make([][]any, 0, len(in.Run.Stages))
	for _, s := range in.Run.Stages {
		duration := ""
		if s.DurationMs != nil {
			duration = fmt.Sprint(*s.DurationMs)
		}
		counts := ""
		if s.Result != nil {
			counts = formatCounts(s.Result.Counts)
		}
		rows = append(rows, []any{
			s.StageOrder, s.StageName, string(s.Status), s.RowsAffected, duration, counts, stringCell(s.ErrorMessage),
		})
	}
	header := []any{"order", "stage", "status", "rows_affected", "duration_ms", "counts", "error"}
	return writeRows(f, SheetStages, header, rows)
}

func writeAudit(f *excelize.File, in Input) error {
	report := in.Run.AuditReport
	if report == nil {
		return writeRows(f, SheetAudit, []any{"check", "count"}, nil)
	}
	counts := report.Counts()
	rows := make([][]any, 0, len(counts))
	for _, k := range models.AuditCountKeys() {
		rows = append(rows, []any{k, counts[k]})
	}
	if !report.TimezoneChecked {
		rows = append(rows, []any{"timezone_checked", false})
	}
	return writeRows(f, SheetAudit, []any{"check", "count"}, rows)
}

func writeDistances(f *excelize.File, in Input) error {
	rows := make([][]any, 0, len(in.Discrepancies))
	for _, d := range in.Discrepancies {
		rows = append(rows, []any{d.Origin, d.Dest, round1(d.StoredKM), round1(d.ComputedKM), round1(d.DiffKM)})
	}
	header := []any{"origin", "dest", "stored_km", "computed_km", "diff_km"}
	return writeRows(f, SheetDistances, header, rows)
}

func formatCounts(counts map[string]int64) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func timeCell(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func stringCell(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
