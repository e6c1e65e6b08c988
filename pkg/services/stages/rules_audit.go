package stages

import (
	"time"

	"github.com/ekaya-inc/flightclean/pkg/geo"
	"github.com/ekaya-inc/flightclean/pkg/models"
)

// AuditOptions holds the auditor's tolerances.
type AuditOptions struct {
	DelayToleranceMinutes    int
	DurationToleranceMinutes int
	MaxSpeedMPH              float64
}

// DefaultAuditOptions returns the tolerances used when none are configured.
func DefaultAuditOptions() AuditOptions {
	return AuditOptions{
		DelayToleranceMinutes:    0,
		DurationToleranceMinutes: 45,
		MaxSpeedMPH:              700,
	}
}

// FlightAuditor accumulates per-flight findings into a report. It never modifies
// the records it is given.
type FlightAuditor struct {
	opts   AuditOptions
	report *models.AuditReport
}

// NewFlightAuditor creates an auditor that writes into report.
func NewFlightAuditor(opts AuditOptions, report *models.AuditReport) *FlightAuditor {
	return &FlightAuditor{opts: opts, report: report}
}

// Observe checks one flight. Cancelled flights are skipped.
func (a *FlightAuditor) Observe(f *models.FlightRecord) {
	if f.Canceled {
		return
	}
	r := a.report
	r.Checked++

	if mismatch(f.DepDelay, f.SchedDepAt, f.DepAt, a.opts.DelayToleranceMinutes) {
		r.DepDelayMismatch++
	}
	if mismatch(f.ArrDelay, f.SchedArrAt, f.ArrAt, a.opts.DelayToleranceMinutes) {
		r.ArrDelayMismatch++
	}
	if mismatch(f.ElapsedTime, f.DepAt, f.ArrAt, 0) {
		r.ElapsedMismatch++
	}

	if negative(f.SchedDepAt, f.SchedArrAt) || negative(f.DepAt, f.ArrAt) {
		r.NegativeDuration++
	}

	elapsed, haveElapsed := minutesBetween(f.DepAt, f.ArrAt)
	if !haveElapsed && f.ElapsedTime != nil {
		elapsed, haveElapsed = *f.ElapsedTime, true
	}

	if block, ok := minutesBetween(f.SchedDepAt, f.SchedArrAt); ok && haveElapsed {
		if abs(block-elapsed) > a.opts.DurationToleranceMinutes {
			r.ScheduleDrift++
		}
	}

	if haveElapsed && f.Distance != nil && *f.Distance > 0 {
		if elapsed <= 0 || float64(*f.Distance)/(float64(elapsed)/60) > a.opts.MaxSpeedMPH {
			r.ImplausibleSpeed++
		}
	}
}

// ObserveAirport compares an airport's recorded zone with the zone of its
// coordinates. Lookup misses are not counted.
func (a *FlightAuditor) ObserveAirport(l *models.LocationRecord, lookup geo.TimezoneLookup) {
	if lookup == nil {
		return
	}
	a.report.TimezoneChecked = true
	zone, ok := lookup.TimezoneName(l.Lat, l.Lon)
	if ok && zone != l.TZone {
		a.report.TimezoneMismatch++
	}
}

// mismatch is true when stored disagrees with the instant difference by more than
// tolerance. A NULL stored value with both instants present is a mismatch; missing
// instants make the field uncheckable.
func mismatch(stored *int, from, to *time.Time, tolerance int) bool {
	want, ok := minutesBetween(from, to)
	if !ok {
		return false
	}
	if stored == nil {
		return true
	}
	return abs(*stored-want) > tolerance
}

func negative(from, to *time.Time) bool {
	if from == nil || to == nil {
		return false
	}
	return to.Before(*from)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
