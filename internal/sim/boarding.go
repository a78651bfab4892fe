package sim

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"shuttle-simulator/internal/shuttle"
	"shuttle-simulator/internal/store"
)

// DepartureReason says why a waiting shift left the origin.
type DepartureReason string

const (
	DepartedFull  DepartureReason = "full"
	DepartedDwell DepartureReason = "dwell"
)

// BoardingResult is the outcome of one boarding step.
type BoardingResult struct {
	Shift    shuttle.Shift
	Boarded  int
	Departed bool
	Reason   DepartureReason
	// Next is the waiting shift created on departure, already persisted.
	Next *shuttle.Shift
}

// SimulateBoarding boards walk-up passengers onto the waiting shift sh for
// elapsed wall time. The shift departs when it is full or when it has
// waited longer than MaxBoardingDwell; either way a new waiting shift is
// inserted for the route.
func (e *Engine) SimulateBoarding(ctx context.Context, rc *RouteContext, sh shuttle.Shift, elapsed time.Duration, now time.Time) (BoardingResult, error) {
	if !sh.Waiting() {
		return BoardingResult{}, fmt.Errorf("%w: shift %s is not waiting", shuttle.ErrInvalidState, sh.ShiftID)
	}
	rate, err := rc.Rates.PerHour(e.hour(now))
	if err != nil {
		return BoardingResult{}, fmt.Errorf("route %s: %w", rc.Route.RouteID, err)
	}
	s := sh.Clone()
	res := BoardingResult{}

	expected := rate / e.params.BoardingRateScale * elapsed.Seconds()
	res.Boarded = min(e.sample(expected), max(s.AvailableSeats, 0))
	if res.Boarded > 0 {
		seats := s.AvailableSeats - res.Boarded
		u := store.ShiftUpdate{AvailableSeats: &seats, ExpectedVersion: s.Version}
		if err := e.store.UpdateShift(ctx, s.ShiftID, u); err != nil {
			return BoardingResult{}, fmt.Errorf("board %s: %w", s.ShiftID, err)
		}
		u.Apply(&s)
	}

	if s.AvailableSeats <= 0 {
		res.Reason = DepartedFull
	} else if now.Sub(s.StartTime) > e.params.MaxBoardingDwell {
		res.Reason = DepartedDwell
	} else {
		res.Shift = s
		return res, nil
	}

	at := now
	status := shuttle.StatusInTransit
	u := store.ShiftUpdate{ArrivalTime: &at, Status: &status, ExpectedVersion: s.Version}
	if err := e.store.UpdateShift(ctx, s.ShiftID, u); err != nil {
		return BoardingResult{}, fmt.Errorf("depart %s: %w", s.ShiftID, err)
	}
	u.Apply(&s)
	res.Shift, res.Departed = s, true
	log.Info().Str("route", s.RouteID).Str("shift", s.ShiftID).Str("reason", string(res.Reason)).Int("seats_left", s.AvailableSeats).Msg("shift departed")

	next := e.NewShift(rc, now)
	if err := e.store.InsertShift(ctx, next); err != nil {
		return res, fmt.Errorf("create waiting shift for %s: %w", rc.Route.RouteID, err)
	}
	res.Next = &next
	return res, nil
}

// sample draws the number of passengers arriving when expected arrive on
// average: the integer part always, plus one more with probability equal to
// the fractional part.
func (e *Engine) sample(expected float64) int {
	if expected <= 0 {
		return 0
	}
	whole, frac := math.Modf(expected)
	n := int(whole)
	if e.float64() < frac {
		n++
	}
	return n
}
