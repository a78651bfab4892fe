package sim

import (
	"fmt"
	"math"
	"time"

	"shuttle-simulator/internal/geo"
	"shuttle-simulator/internal/shuttle"
)

// ETA predicts when sh reaches the stop at target. The in-progress segment
// is scaled by the remaining geo distance and offset by the time already
// spent since the last stop; later segments use their mean durations.
func (e *Engine) ETA(rc *RouteContext, sh shuttle.Shift, target int, ref time.Time) (time.Time, error) {
	n := rc.StopCount()
	if sh.RouteID != rc.Route.RouteID {
		return time.Time{}, fmt.Errorf("%w: shift %s not on route %s", shuttle.ErrInvalidState, sh.ShiftID, rc.Route.RouteID)
	}
	if target <= sh.Progress || target >= n {
		return time.Time{}, fmt.Errorf("%w: stop %d not ahead of shift %s (progress %d, %d stops)", shuttle.ErrInvalidState, target, sh.ShiftID, sh.Progress, n)
	}
	if sh.Latitude == 0 && sh.Longitude == 0 {
		return time.Time{}, fmt.Errorf("%w: shift %s has no position", shuttle.ErrDataIncomplete, sh.ShiftID)
	}
	hour := e.hour(ref)
	current, err := rc.Travel.Duration(hour, sh.Progress, n)
	if err != nil {
		return time.Time{}, fmt.Errorf("route %s: %w", rc.Route.RouteID, err)
	}
	segs, err := rc.Travel.Segments(hour, n)
	if err != nil {
		return time.Time{}, fmt.Errorf("route %s: %w", rc.Route.RouteID, err)
	}

	// A waiting shift has not fallen behind yet.
	delay := 0.0
	if sh.ArrivalTime != nil {
		delay = math.Max(0, ref.Sub(*sh.ArrivalTime).Minutes())
	}

	cur, next := rc.Stops[sh.Progress], rc.Stops[sh.Progress+1]
	if !cur.Located() || !next.Located() {
		return time.Time{}, fmt.Errorf("%w: stop %s or %s has no coordinates", shuttle.ErrDataIncomplete, cur.StopID, next.StopID)
	}
	toNext := geo.DistanceKm(sh.Latitude, sh.Longitude, next.Latitude, next.Longitude)
	span := geo.DistanceKm(cur.Latitude, cur.Longitude, next.Latitude, next.Longitude)
	total := current + delay
	if span > 0 {
		done := 1 - toNext/span
		total = current*(1-done) + delay
	}
	for i := sh.Progress + 1; i < target; i++ {
		total += segs[i]
	}
	return ref.Add(minutes(total)), nil
}
