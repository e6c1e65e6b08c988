package geo

import (
	"fmt"
	"time"
	_ "time/tzdata" // zone database embedded so offsets work on minimal images

	"github.com/ringsaturn/tzf"
)

// TimezoneLookup resolves coordinates to an IANA zone name.
type TimezoneLookup interface {
	// TimezoneName returns the zone for (lat, lon), or false when the point
	// falls outside every known zone polygon.
	TimezoneName(lat, lon float64) (string, bool)
}

// TZFLookup is a TimezoneLookup backed by the tzf polygon finder.
type TZFLookup struct {
	finder tzf.F
}

var _ TimezoneLookup = (*TZFLookup)(nil)

// NewTZFLookup loads the embedded timezone polygons.
func NewTZFLookup() (*TZFLookup, error) {
	finder, err := tzf.NewDefaultFinder()
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone polygons: %w", err)
	}
	return &TZFLookup{finder: finder}, nil
}

func (l *TZFLookup) TimezoneName(lat, lon float64) (string, bool) {
	name := l.finder.GetTimezoneName(lon, lat)
	return name, name != ""
}

// UTCOffsetHours returns the offset of zone from UTC at instant at, in hours.
// Half-hour zones yield fractional values.
func UTCOffsetHours(zone string, at time.Time) (float64, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return 0, fmt.Errorf("unknown timezone %q: %w", zone, err)
	}
	_, offset := at.In(loc).Zone()
	return float64(offset) / 3600, nil
}
