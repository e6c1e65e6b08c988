package stages

import (
	"time"

	"github.com/ekaya-inc/flightclean/pkg/flighttime"
	"github.com/ekaya-inc/flightclean/pkg/models"
)

// RolloverFires records which rollover rules changed a row.
type RolloverFires struct {
	DepNextDay        bool // a: actual departure after midnight
	SchedArrNextDay   bool // b: scheduled arrival after midnight
	ArrNextDay        bool // c: actual arrival after midnight
	ArrPreviousDay    bool // d: arrival wrongly pushed to the next day
	ArrAfterDeparture bool // e: arrival still before departure
}

// Any reports whether at least one rule fired.
func (f RolloverFires) Any() bool {
	return f.DepNextDay || f.SchedArrNextDay || f.ArrNextDay || f.ArrPreviousDay || f.ArrAfterDeparture
}

// ApplyRollover shifts instants by whole days so that each movement lands on the
// calendar day its delay implies. Rules run in a fixed order, each on the output
// of the previous one, and only when every field they read is present:
//
//	a. dep_at < sched_dep_at and dep_delay is NULL or >= 0      => dep_at += 1 day
//	b. sched_arr_at < sched_dep_at                              => sched_arr_at += 1 day
//	c. arr_at < sched_arr_at and arr_delay is NULL or >= 0      => arr_at += 1 day
//	d. arr_at > sched_arr_at and arr_delay < 0                  => arr_at -= 1 day
//	e. arr_at < dep_at and arr_at + 1 day >= dep_at             => arr_at += 1 day
//
// Once delays have been reconciled against the instants none of the rules fire
// again, which makes the rollover and reconcile pair idempotent.
func ApplyRollover(f *models.FlightInstants) RolloverFires {
	var fires RolloverFires

	if f.DepAt != nil && f.SchedDepAt != nil &&
		f.DepAt.Before(*f.SchedDepAt) && nonNegativeOrNil(f.DepDelay) {
		f.DepAt = shifted(*f.DepAt, 1)
		fires.DepNextDay = true
	}

	if f.SchedArrAt != nil && f.SchedDepAt != nil && f.SchedArrAt.Before(*f.SchedDepAt) {
		f.SchedArrAt = shifted(*f.SchedArrAt, 1)
		fires.SchedArrNextDay = true
	}

	if f.ArrAt != nil && f.SchedArrAt != nil {
		if f.ArrAt.Before(*f.SchedArrAt) && nonNegativeOrNil(f.ArrDelay) {
			f.ArrAt = shifted(*f.ArrAt, 1)
			fires.ArrNextDay = true
		} else if f.ArrAt.After(*f.SchedArrAt) && f.ArrDelay != nil && *f.ArrDelay < 0 {
			f.ArrAt = shifted(*f.ArrAt, -1)
			fires.ArrPreviousDay = true
		}
	}

	if f.ArrAt != nil && f.DepAt != nil && f.ArrAt.Before(*f.DepAt) &&
		!flighttime.ShiftDays(*f.ArrAt, 1).Before(*f.DepAt) {
		f.ArrAt = shifted(*f.ArrAt, 1)
		fires.ArrAfterDeparture = true
	}

	return fires
}

func nonNegativeOrNil(v *int) bool {
	return v == nil || *v >= 0
}

func shifted(t time.Time, days int) *time.Time {
	s := flighttime.ShiftDays(t, days)
	return &s
}
