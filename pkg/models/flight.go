package models

import (
	"fmt"
	"time"
)

// FlightRecord is one row of the flights table.
//
// Raw clocks are HHMM integers relative to the service date and are ambiguous across
// midnight. The *At fields are the calendar-qualified instants derived from them.
// Pointer fields are nullable columns.
type FlightRecord struct {
	ID int64 `json:"id"`

	// Service date
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`

	// Identity
	Flight  int    `json:"flight"`
	Carrier string `json:"carrier"`
	Tailnum string `json:"tailnum"`
	Origin  string `json:"origin"`
	Dest    string `json:"dest"`

	// Raw clocks (HHMM)
	SchedDepTime *int `json:"sched_dep_time,omitempty"`
	DepTime      *int `json:"dep_time,omitempty"`
	SchedArrTime *int `json:"sched_arr_time,omitempty"`
	ArrTime      *int `json:"arr_time,omitempty"`

	// Calendar-qualified instants
	SchedDepAt *time.Time `json:"sched_dep_at,omitempty"`
	DepAt      *time.Time `json:"dep_at,omitempty"`
	SchedArrAt *time.Time `json:"sched_arr_at,omitempty"`
	ArrAt      *time.Time `json:"arr_at,omitempty"`

	// Derived (minutes)
	DepDelay    *int `json:"dep_delay,omitempty"`
	ArrDelay    *int `json:"arr_delay,omitempty"`
	ElapsedTime *int `json:"elapsed_time,omitempty"`

	// Inputs used only by the auditor and analytics
	AirTime  *int `json:"air_time,omitempty"`
	Distance *int `json:"distance,omitempty"`

	Canceled bool `json:"canceled"`
}

// NaturalKey identifies a scheduled movement independent of insertion order.
type NaturalKey struct {
	Year, Month, Day int
	Flight           int
	Origin, Dest     string
	SchedDepTime     *int
}

// String renders the key for logs.
func (k NaturalKey) String() string {
	sched := "null"
	if k.SchedDepTime != nil {
		sched = fmt.Sprintf("%04d", *k.SchedDepTime)
	}
	return fmt.Sprintf("%04d-%02d-%02d/%d/%s-%s/%s", k.Year, k.Month, k.Day, k.Flight, k.Origin, k.Dest, sched)
}

// Key returns the record's natural key.
func (f *FlightRecord) Key() NaturalKey {
	return NaturalKey{
		Year: f.Year, Month: f.Month, Day: f.Day,
		Flight: f.Flight, Origin: f.Origin, Dest: f.Dest,
		SchedDepTime: f.SchedDepTime,
	}
}

// HasArrivalObservation is false when neither the raw nor the qualified arrival exists.
func (f *FlightRecord) HasArrivalObservation() bool {
	return f.ArrTime != nil || f.ArrAt != nil
}

// FlightInstants is the subset of a flight the rollover and reconcile rules work on.
type FlightInstants struct {
	ID         int64
	SchedDepAt *time.Time
	DepAt      *time.Time
	SchedArrAt *time.Time
	ArrAt      *time.Time
	DepDelay   *int
	ArrDelay   *int
	Elapsed    *int
}

// Instants extracts the instant and delay fields of f.
func (f *FlightRecord) Instants() FlightInstants {
	return FlightInstants{
		ID:         f.ID,
		SchedDepAt: f.SchedDepAt,
		DepAt:      f.DepAt,
		SchedArrAt: f.SchedArrAt,
		ArrAt:      f.ArrAt,
		DepDelay:   f.DepDelay,
		ArrDelay:   f.ArrDelay,
		Elapsed:    f.ElapsedTime,
	}
}

// RawClocks is the subset of a flight the normalizer needs.
type RawClocks struct {
	ID           int64
	Year         int
	Month        int
	Day          int
	SchedDepTime *int
	DepTime      *int
	SchedArrTime *int
	ArrTime      *int
	SchedDepAt   *time.Time
	DepAt        *time.Time
	SchedArrAt   *time.Time
	ArrAt        *time.Time
}
