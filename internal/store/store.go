// Package store defines the persistence contract used by the simulation
// engine. Implementations live in internal/db (PostgreSQL) and
// internal/mongostore (MongoDB); Memory backs tests.
package store

import (
	"context"
	"time"

	"shuttle-simulator/internal/shuttle"
)

// ShiftUpdate is a partial update. Nil fields are left unchanged.
// ExpectedVersion must match the stored version or the update fails with
// shuttle.ErrConflict. Only an update marked Unguarded skips the check.
type ShiftUpdate struct {
	Progress       *int
	Latitude       *float64
	Longitude      *float64
	AvailableSeats *int
	ReservationIDs []string
	ArrivalTime    *time.Time
	Status         *shuttle.ShiftStatus

	ExpectedVersion int64
	Unguarded       bool
}

// Store is the external collaborator holding routes, stops, shifts and
// reservations. Missing entities are reported with shuttle.ErrNotFound;
// I/O failures with shuttle.ErrTransientStore.
type Store interface {
	Route(ctx context.Context, routeID string) (shuttle.Route, error)
	Stops(ctx context.Context, stopIDs []string) ([]shuttle.Stop, error)

	// Shifts returns every shift of a route.
	Shifts(ctx context.Context, routeID string) ([]shuttle.Shift, error)
	// WaitingShift returns the shift at the origin with no arrival time.
	WaitingShift(ctx context.Context, routeID string) (shuttle.Shift, error)
	// LeadingShift returns the shift with the highest progress below stopIndex.
	LeadingShift(ctx context.Context, routeID string, stopIndex int) (shuttle.Shift, error)
	InsertShift(ctx context.Context, s shuttle.Shift) error
	UpdateShift(ctx context.Context, shiftID string, u ShiftUpdate) error
	DeleteShift(ctx context.Context, shiftID string) error

	// PendingReservations returns reserved (unassigned) reservations for a
	// pickup stop whose reserved time is at or after notBefore, in store
	// order.
	PendingReservations(ctx context.Context, routeID, stopID string, notBefore time.Time) ([]shuttle.Reservation, error)
	// AssignReservations binds reservations to a shift and marks them assigned.
	AssignReservations(ctx context.Context, shiftID string, reservationIDs []string) error

	// SaveStopArrivals records the predicted arrivals at one stop of a route.
	SaveStopArrivals(ctx context.Context, routeID, stopID string, arrivals []shuttle.StopArrival) error
}

// Apply copies the set fields of u onto s and bumps the version.
func (u ShiftUpdate) Apply(s *shuttle.Shift) {
	if u.Progress != nil {
		s.Progress = *u.Progress
	}
	if u.Latitude != nil {
		s.Latitude = *u.Latitude
	}
	if u.Longitude != nil {
		s.Longitude = *u.Longitude
	}
	if u.AvailableSeats != nil {
		s.AvailableSeats = *u.AvailableSeats
	}
	if u.ReservationIDs != nil {
		s.ReservationIDs = append([]string(nil), u.ReservationIDs...)
	}
	if u.ArrivalTime != nil {
		t := *u.ArrivalTime
		s.ArrivalTime = &t
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	s.Version++
}

// FullUpdate builds an update carrying every mutable field of s, guarded by
// the version s was read at. Re-applying it is idempotent.
func FullUpdate(s shuttle.Shift) ShiftUpdate {
	progress, lat, lon, seats, status := s.Progress, s.Latitude, s.Longitude, s.AvailableSeats, s.Status
	u := ShiftUpdate{
		Progress:        &progress,
		Latitude:        &lat,
		Longitude:       &lon,
		AvailableSeats:  &seats,
		Status:          &status,
		ExpectedVersion: s.Version,
	}
	if s.ArrivalTime != nil {
		t := *s.ArrivalTime
		u.ArrivalTime = &t
	}
	if s.ReservationIDs != nil {
		u.ReservationIDs = append([]string{}, s.ReservationIDs...)
	}
	return u
}
