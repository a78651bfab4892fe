package sim

import (
	"fmt"
	"time"

	"shuttle-simulator/internal/geo"
	"shuttle-simulator/internal/shuttle"
)

// TickResult is the outcome of advancing one shift.
type TickResult struct {
	Shift     shuttle.Shift
	Advanced  int  // stops reached during this tick
	Completed bool // shift is at the terminal stop
	Expired   bool // completed and past the terminal dwell; remove it
}

// Tick advances a shift to now: it moves progress over every segment whose
// mean duration has elapsed, lets passengers alight at each reached stop and
// interpolates the position on the current segment. The input is not
// modified.
func (e *Engine) Tick(rc *RouteContext, sh shuttle.Shift, now time.Time) (TickResult, error) {
	n := rc.StopCount()
	if n == 0 {
		return TickResult{}, fmt.Errorf("%w: route %s has no stops", shuttle.ErrDataIncomplete, rc.Route.RouteID)
	}
	if sh.RouteID != rc.Route.RouteID {
		return TickResult{}, fmt.Errorf("%w: shift %s belongs to route %s, not %s", shuttle.ErrInvalidState, sh.ShiftID, sh.RouteID, rc.Route.RouteID)
	}
	last := n - 1
	s := sh.Clone()
	res := TickResult{}

	if s.Progress < last {
		segs, err := rc.Travel.Segments(e.hour(now), n)
		if err != nil {
			return TickResult{}, fmt.Errorf("route %s: %w", rc.Route.RouteID, err)
		}
		elapsed := now.Sub(s.Reference()).Minutes()
		for s.Progress < last && elapsed >= segs[s.Progress] {
			elapsed -= segs[s.Progress]
			s.Progress++
			sum := 0.0
			for _, d := range segs[:s.Progress] {
				sum += d
			}
			at := s.StartTime.Add(minutes(sum))
			s.ArrivalTime = &at
			s.AvailableSeats = e.alight(s.AvailableSeats)
			res.Advanced++
		}
		if s.Progress < last {
			if !s.Waiting() {
				s.Status = shuttle.StatusInTransit
			}
			from, to := rc.Stops[s.Progress], rc.Stops[s.Progress+1]
			frac := 0.0
			if d := segs[s.Progress]; d > 0 {
				frac = elapsed / d
			}
			frac = min(max(frac, 0), 1)
			s.Latitude, s.Longitude = geo.Interpolate(from.Latitude, from.Longitude, to.Latitude, to.Longitude, frac)
		}
	}

	if s.Progress >= last {
		terminal := rc.Stops[last]
		s.Status = shuttle.StatusCompleted
		s.Latitude, s.Longitude = terminal.Latitude, terminal.Longitude
		res.Completed = true
		res.Expired = s.ArrivalTime != nil && now.Sub(*s.ArrivalTime) > e.params.CompletedDwell
	}
	res.Shift = s
	return res, nil
}

// alight frees seats at a reached stop. Fuller buses free more seats.
func (e *Engine) alight(seats int) int {
	switch {
	case seats < 5:
		seats += 1 + e.intn(3)
	case seats < 10:
		seats += 1 + e.intn(2)
	default:
		seats += e.intn(2)
	}
	return min(seats, e.params.Capacity)
}
