package models

// AuditReport summarizes the residual inconsistencies found by the auditor.
// Every field is a count of offending rows, except DuplicateKeys which counts
// surplus rows beyond the first of each natural key.
type AuditReport struct {
	Checked int64 `json:"checked"`

	DepDelayMismatch int64 `json:"dep_delay_mismatch"`
	ArrDelayMismatch int64 `json:"arr_delay_mismatch"`
	ElapsedMismatch  int64 `json:"elapsed_mismatch"`

	ScheduleDrift    int64 `json:"schedule_drift"`
	ImplausibleSpeed int64 `json:"implausible_speed"`
	NegativeDuration int64 `json:"negative_duration"`
	DuplicateKeys    int64 `json:"duplicate_keys"`
	// Unnormalized counts non-cancelled rows with a raw clock but no instant.
	Unnormalized     int64 `json:"unnormalized"`

	TimezoneMismatch int64 `json:"timezone_mismatch"`
	// TimezoneChecked is false when no timezone lookup was available.
	TimezoneChecked bool `json:"timezone_checked"`
}

// Consistent is true when the hard invariants hold. Derived fields agree with
// the instants, every active clock is calendar-qualified, and there are no
// negative durations or duplicate keys.
// Schedule drift and implausible speed are data-quality signals, not violations.
func (r *AuditReport) Consistent() bool {
	return r.Unnormalized == 0 &&
		r.DepDelayMismatch == 0 &&
		r.ArrDelayMismatch == 0 &&
		r.ElapsedMismatch == 0 &&
		r.NegativeDuration == 0 &&
		r.DuplicateKeys == 0
}

// Counts flattens the report for metrics and reports. Keys are stable.
func (r *AuditReport) Counts() map[string]int64 {
	return map[string]int64{
		"checked":            r.Checked,
		"dep_delay_mismatch": r.DepDelayMismatch,
		"arr_delay_mismatch": r.ArrDelayMismatch,
		"elapsed_mismatch":   r.ElapsedMismatch,
		"schedule_drift":     r.ScheduleDrift,
		"implausible_speed":  r.ImplausibleSpeed,
		"negative_duration":  r.NegativeDuration,
		"duplicate_keys":     r.DuplicateKeys,
		"unnormalized":       r.Unnormalized,
		"timezone_mismatch":  r.TimezoneMismatch,
	}
}

// AuditCountKeys lists the keys of Counts in display order.
func AuditCountKeys() []string {
	return []string{
		"checked",
		"dep_delay_mismatch",
		"arr_delay_mismatch",
		"elapsed_mismatch",
		"schedule_drift",
		"implausible_speed",
		"negative_duration",
		"duplicate_keys",
		"unnormalized",
		"timezone_mismatch",
	}
}
