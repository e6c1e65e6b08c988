// Package flighttime converts HHMM clock values into calendar-qualified instants.
//
// Instants are wall-clock times at the airport, stored in time.UTC purely as a
// container; no zone conversion is ever applied.
package flighttime

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Midnight is the HHMM value for 24:00, i.e. 00:00 of the following day.
const Midnight = 2400

// Day is the length of one calendar-day shift.
const Day = 24 * time.Hour

// ErrInvalidClock is returned for values that are not a valid HHMM time.
var ErrInvalidClock = errors.New("invalid HHMM clock value")

// ErrInvalidDate is returned when year/month/day do not name a real calendar date.
var ErrInvalidDate = errors.New("invalid service date")

// ParseClock splits an HHMM value into hour and minute.
// 0000-2359 and 2400 are accepted; 2400 yields (24, 0).
func ParseClock(v int) (hour, minute int, err error) {
	if v < 0 || v > Midnight {
		return 0, 0, fmt.Errorf("%w: %d", ErrInvalidClock, v)
	}
	hour, minute = v/100, v%100
	if minute >= 60 {
		return 0, 0, fmt.Errorf("%w: %d", ErrInvalidClock, v)
	}
	return hour, minute, nil
}

// ServiceDate returns midnight of the given calendar date.
func ServiceDate(year, month, day int) (time.Time, error) {
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Year() != year || int(d.Month()) != month || d.Day() != day {
		return time.Time{}, fmt.Errorf("%w: %04d-%02d-%02d", ErrInvalidDate, year, month, day)
	}
	return d, nil
}

// Anchor places an HHMM clock on the service date. 2400 becomes 00:00 of the next day.
func Anchor(serviceDate time.Time, v int) (time.Time, error) {
	hour, minute, err := ParseClock(v)
	if err != nil {
		return time.Time{}, err
	}
	return serviceDate.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute), nil
}

// ShiftDays moves t by n calendar days.
func ShiftDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// MinutesBetween returns to - from in whole minutes.
func MinutesBetween(from, to time.Time) int {
	return int(math.Round(to.Sub(from).Minutes()))
}

// Clock renders t back into HHMM form.
func Clock(t time.Time) int {
	return t.Hour()*100 + t.Minute()
}
