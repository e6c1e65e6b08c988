package stages

import (
	"time"

	"github.com/ekaya-inc/flightclean/pkg/flighttime"
	"github.com/ekaya-inc/flightclean/pkg/models"
)

// ReconcileFixes records which derived fields Reconcile rewrote.
type ReconcileFixes struct {
	DepDelay bool
	ArrDelay bool
	Elapsed  bool
}

// Any reports whether at least one field changed.
func (r ReconcileFixes) Any() bool {
	return r.DepDelay || r.ArrDelay || r.Elapsed
}

// Reconcile recomputes dep_delay, arr_delay and elapsed_time from the instants and
// overwrites the stored value when it is NULL or different. A field whose instants
// are missing keeps its stored value.
func Reconcile(f *models.FlightInstants) ReconcileFixes {
	var fixes ReconcileFixes
	fixes.DepDelay = reconcileField(&f.DepDelay, f.SchedDepAt, f.DepAt)
	fixes.ArrDelay = reconcileField(&f.ArrDelay, f.SchedArrAt, f.ArrAt)
	fixes.Elapsed = reconcileField(&f.Elapsed, f.DepAt, f.ArrAt)
	return fixes
}

func reconcileField(stored **int, from, to *time.Time) bool {
	want, ok := minutesBetween(from, to)
	if !ok {
		return false
	}
	if *stored != nil && **stored == want {
		return false
	}
	*stored = &want
	return true
}

func minutesBetween(from, to *time.Time) (int, bool) {
	if from == nil || to == nil {
		return 0, false
	}
	return flighttime.MinutesBetween(*from, *to), true
}
