// Package traveltime holds the per-route, per-hour segment duration model and
// the hourly passenger arrival rates at route origins.
package traveltime

import (
	"fmt"

	"shuttle-simulator/internal/shuttle"
)

// DefaultSegmentMinutes fills segments missing from an hour's sequence.
const DefaultSegmentMinutes = 1.0

// Table maps hour-of-day to mean segment durations in minutes.
type Table map[int][]float64

// Validate rejects hours outside 0..23 and negative durations.
func (t Table) Validate() error {
	for h, segs := range t {
		if h < 0 || h > 23 {
			return fmt.Errorf("%w: hour %d out of range", shuttle.ErrInvalidState, h)
		}
		for i, d := range segs {
			if d < 0 {
				return fmt.Errorf("%w: hour %d segment %d negative (%v)", shuttle.ErrInvalidState, h, i, d)
			}
		}
	}
	return nil
}

// Segments returns the stopCount-1 durations for hour, padding missing
// trailing segments with DefaultSegmentMinutes. The table is not modified.
func (t Table) Segments(hour, stopCount int) ([]float64, error) {
	segs, ok := t[hour]
	if !ok {
		return nil, fmt.Errorf("%w: no travel times for hour %d", shuttle.ErrInvalidState, hour)
	}
	n := stopCount - 1
	if n < 0 {
		n = 0
	}
	out := make([]float64, n)
	for i := range out {
		if i < len(segs) {
			out[i] = segs[i]
		} else {
			out[i] = DefaultSegmentMinutes
		}
	}
	return out, nil
}

// Duration returns the mean minutes of one segment.
func (t Table) Duration(hour, segment, stopCount int) (float64, error) {
	if segment < 0 || segment >= stopCount-1 {
		return 0, fmt.Errorf("%w: segment %d outside route of %d stops", shuttle.ErrInvalidState, segment, stopCount)
	}
	segs, err := t.Segments(hour, stopCount)
	if err != nil {
		return 0, err
	}
	return segs[segment], nil
}

// ArrivalRates is the mean number of passengers arriving per hour at the
// origin, indexed by hour-of-day.
type ArrivalRates map[int]float64

// PerHour returns the rate for hour.
func (r ArrivalRates) PerHour(hour int) (float64, error) {
	v, ok := r[hour]
	if !ok {
		return 0, fmt.Errorf("%w: no arrival rate for hour %d", shuttle.ErrInvalidState, hour)
	}
	return v, nil
}

// PerMinute returns the rate for hour in passengers per minute.
func (r ArrivalRates) PerMinute(hour int) (float64, error) {
	v, err := r.PerHour(hour)
	if err != nil {
		return 0, err
	}
	return v / 60, nil
}
