package stages

import (
	"time"

	"github.com/ekaya-inc/flightclean/pkg/flighttime"
	"github.com/ekaya-inc/flightclean/pkg/models"
)

// NormalizeOutcome counts what NormalizeClocks did to one row.
type NormalizeOutcome struct {
	Filled  int
	Invalid int
}

// NormalizeClocks fills every NULL instant whose raw clock is present.
// Instants that already exist are never touched. Clocks that are not valid HHMM
// values, or rows whose service date is not a real date, stay NULL and are
// counted as invalid.
func NormalizeClocks(c *models.RawClocks) NormalizeOutcome {
	var out NormalizeOutcome

	pairs := []struct {
		raw *int
		at  **time.Time
	}{
		{c.SchedDepTime, &c.SchedDepAt},
		{c.DepTime, &c.DepAt},
		{c.SchedArrTime, &c.SchedArrAt},
		{c.ArrTime, &c.ArrAt},
	}

	date, dateErr := flighttime.ServiceDate(c.Year, c.Month, c.Day)
	for _, p := range pairs {
		if p.raw == nil || *p.at != nil {
			continue
		}
		if dateErr != nil {
			out.Invalid++
			continue
		}
		instant, err := flighttime.Anchor(date, *p.raw)
		if err != nil {
			out.Invalid++
			continue
		}
		*p.at = &instant
		out.Filled++
	}

	return out
}
