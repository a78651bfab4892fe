package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"shuttle-simulator/internal/shuttle"
	"shuttle-simulator/internal/store"
)

// Departure is the outcome of EstimateDeparture.
type Departure struct {
	Time     time.Time
	Shift    shuttle.Shift // sh after assignment, as persisted
	Assigned []Assignment
}

// EstimateDeparture binds reservations to the waiting shift sh, persists the
// binding, and estimates when it will leave the origin: immediately when the
// shift is full, otherwise after the remaining seats fill at the current
// walk-up arrival rate, never later than MaxDepartureWait after creation.
func (e *Engine) EstimateDeparture(ctx context.Context, rc *RouteContext, sh shuttle.Shift, now time.Time) (Departure, error) {
	rate, err := rc.Rates.PerMinute(e.hour(now))
	if err != nil {
		return Departure{}, fmt.Errorf("route %s: %w", rc.Route.RouteID, err)
	}
	assigned, remaining, err := e.Assign(ctx, rc, sh, now)
	if err != nil {
		return Departure{}, err
	}

	s := sh.Clone()
	if len(assigned) > 0 {
		ids := make([]string, 0, len(assigned))
		for _, a := range assigned {
			ids = append(ids, a.ReservationID)
		}
		u := store.ShiftUpdate{
			AvailableSeats:  &remaining,
			ReservationIDs:  append(append([]string{}, s.ReservationIDs...), ids...),
			ExpectedVersion: s.Version,
		}
		if err := e.store.UpdateShift(ctx, s.ShiftID, u); err != nil {
			return Departure{}, fmt.Errorf("bind reservations to %s: %w", s.ShiftID, err)
		}
		u.Apply(&s)
		if err := e.store.AssignReservations(ctx, s.ShiftID, ids); err != nil {
			return Departure{}, fmt.Errorf("mark reservations assigned to %s: %w", s.ShiftID, err)
		}
		log.Debug().Str("shift", s.ShiftID).Strs("reservations", ids).Int("seats_left", remaining).Msg("reservations assigned")
	}

	d := Departure{Shift: s, Assigned: assigned}
	latest := s.StartTime.Add(e.params.MaxDepartureWait)
	switch {
	case s.AvailableSeats <= 0:
		d.Time = now
	case rate <= 0:
		d.Time = latest
	default:
		d.Time = now.Add(minutes(float64(s.AvailableSeats) / rate))
		if d.Time.After(latest) {
			d.Time = latest
		}
	}
	return d, nil
}
