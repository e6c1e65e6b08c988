package models

import "time"

// RouteStats aggregates the cleaned flights of one origin-destination pair.
// Averages cover non-cancelled flights only and are nil when there are none.
type RouteStats struct {
	Origin      string   `json:"origin"`
	Dest        string   `json:"dest"`
	Flights     int64    `json:"flights"`
	Cancelled   int64    `json:"cancelled"`
	AvgElapsed  *float64 `json:"avg_elapsed,omitempty"`
	AvgDepDelay *float64 `json:"avg_dep_delay,omitempty"`
	AvgArrDelay *float64 `json:"avg_arr_delay,omitempty"`
	AvgDistance *float64 `json:"avg_distance_miles,omitempty"`
}

// DailyCount is the number of flights departing on one service date.
type DailyCount struct {
	Date    time.Time `json:"date"`
	Flights int64     `json:"flights"`
}

// RouteEndpoints is a flown route joined with both airports' coordinates.
type RouteEndpoints struct {
	Origin        string
	Dest          string
	DistanceMiles float64
	OriginLat     float64
	OriginLon     float64
	DestLat       float64
	DestLon       float64
}

// RouteDirection is the initial bearing of a route in degrees.
type RouteDirection struct {
	Origin    string  `json:"origin"`
	Dest      string  `json:"dest"`
	Direction float64 `json:"direction"`
}

// DistanceDiscrepancy is a route whose stored distance disagrees with its coordinates.
type DistanceDiscrepancy struct {
	Origin     string  `json:"origin"`
	Dest       string  `json:"dest"`
	StoredKM   float64 `json:"stored_km"`
	ComputedKM float64 `json:"computed_km"`
	DiffKM     float64 `json:"diff_km"`
}
