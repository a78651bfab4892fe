package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttle-simulator/internal/shuttle"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func TestMemoryWaitingAndLeadingShift(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	dep := t0.Add(time.Minute)
	require.NoError(t, m.InsertShift(ctx, shuttle.Shift{ShiftID: "a", RouteID: "R1", Progress: 3, ArrivalTime: &dep}))
	require.NoError(t, m.InsertShift(ctx, shuttle.Shift{ShiftID: "b", RouteID: "R1", Progress: 1, ArrivalTime: &dep}))
	require.NoError(t, m.InsertShift(ctx, shuttle.Shift{ShiftID: "w", RouteID: "R1", StartTime: t0}))
	require.NoError(t, m.InsertShift(ctx, shuttle.Shift{ShiftID: "x", RouteID: "R2", StartTime: t0}))

	w, err := m.WaitingShift(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "w", w.ShiftID)

	lead, err := m.LeadingShift(ctx, "R1", 3)
	require.NoError(t, err)
	assert.Equal(t, "b", lead.ShiftID)

	lead, err = m.LeadingShift(ctx, "R1", 5)
	require.NoError(t, err)
	assert.Equal(t, "a", lead.ShiftID)

	_, err = m.LeadingShift(ctx, "R1", 0)
	assert.True(t, errors.Is(err, shuttle.ErrNotFound))

	_, err = m.WaitingShift(ctx, "R9")
	assert.True(t, errors.Is(err, shuttle.ErrNotFound))
}

func TestMemoryUpdateVersionCheck(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.InsertShift(ctx, shuttle.Shift{ShiftID: "s", RouteID: "R1", AvailableSeats: 16}))
	got, _ := m.Shift("s")
	assert.Equal(t, shuttle.InitialVersion, got.Version)

	seats := 10
	err := m.UpdateShift(ctx, "s", ShiftUpdate{AvailableSeats: &seats})
	assert.True(t, errors.Is(err, shuttle.ErrConflict), "zero expected version must not bypass the check")

	require.NoError(t, m.UpdateShift(ctx, "s", ShiftUpdate{AvailableSeats: &seats, ExpectedVersion: 1}))
	got, _ = m.Shift("s")
	assert.Equal(t, 10, got.AvailableSeats)
	assert.Equal(t, int64(2), got.Version)

	seats = 5
	err = m.UpdateShift(ctx, "s", ShiftUpdate{AvailableSeats: &seats, ExpectedVersion: 7})
	assert.True(t, errors.Is(err, shuttle.ErrConflict))

	require.NoError(t, m.UpdateShift(ctx, "s", ShiftUpdate{AvailableSeats: &seats, Unguarded: true}))
	got, _ = m.Shift("s")
	assert.Equal(t, 5, got.AvailableSeats)
	assert.Equal(t, int64(3), got.Version)
}

func TestMemoryConcurrentWritersFromOneSnapshot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	snapshot := shuttle.Shift{ShiftID: "s", RouteID: "R1", AvailableSeats: 16, Version: shuttle.InitialVersion}
	require.NoError(t, m.InsertShift(ctx, snapshot))

	a, b := 13, 10
	require.NoError(t, m.UpdateShift(ctx, "s", ShiftUpdate{AvailableSeats: &a, ExpectedVersion: snapshot.Version}))
	err := m.UpdateShift(ctx, "s", ShiftUpdate{AvailableSeats: &b, ExpectedVersion: snapshot.Version})
	assert.True(t, errors.Is(err, shuttle.ErrConflict))

	got, _ := m.Shift("s")
	assert.Equal(t, 13, got.AvailableSeats)
}

func TestFullUpdateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	at := t0.Add(3 * time.Minute)
	s := shuttle.Shift{ShiftID: "s", RouteID: "R1", AvailableSeats: 16, Version: shuttle.InitialVersion}
	require.NoError(t, m.InsertShift(ctx, s))

	s.Progress, s.ArrivalTime, s.Status = 2, &at, shuttle.StatusInTransit
	u := FullUpdate(s)
	require.NoError(t, m.UpdateShift(ctx, "s", u))
	u.Unguarded = true
	require.NoError(t, m.UpdateShift(ctx, "s", u))

	got, _ := m.Shift("s")
	assert.Equal(t, 2, got.Progress)
	assert.Equal(t, at, *got.ArrivalTime)
	assert.Equal(t, shuttle.StatusInTransit, got.Status)
}

func TestMemoryPendingAndAssign(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.AddReservation(shuttle.Reservation{ReservationID: "r1", RouteID: "R1", PickupStopID: "B", Seats: 1, ReservedTime: t0.Add(10 * time.Minute), Status: shuttle.ReservationReserved})
	m.AddReservation(shuttle.Reservation{ReservationID: "r2", RouteID: "R1", PickupStopID: "B", Seats: 1, ReservedTime: t0, Status: shuttle.ReservationReserved})
	m.AddReservation(shuttle.Reservation{ReservationID: "r3", RouteID: "R1", PickupStopID: "B", Seats: 1, ReservedTime: t0.Add(20 * time.Minute), Status: shuttle.ReservationCancelled})

	got, err := m.PendingReservations(ctx, "R1", "B", t0.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ReservationID)

	require.NoError(t, m.AssignReservations(ctx, "s1", []string{"r1"}))
	r, _ := m.Reservation("r1")
	assert.Equal(t, shuttle.ReservationAssigned, r.Status)
	assert.Equal(t, "s1", r.ShiftID)

	got, err = m.PendingReservations(ctx, "R1", "B", t0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r2", got[0].ReservationID)
}

func TestRetryingRetriesTransient(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.AddRoute(shuttle.Route{RouteID: "R1", Stops: []shuttle.RouteStop{{StopID: "A"}}})

	calls := 0
	m.FailNext = func(op string) error {
		calls++
		return fmt.Errorf("%s: %w", op, shuttle.ErrTransientStore)
	}
	var retried []string
	r := WithRetry(m, RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond})
	r.OnRetry = func(op string, _ error) { retried = append(retried, op) }

	route, err := r.Route(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "R1", route.RouteID)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"route"}, retried)
}

func TestRetryingGivesUp(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	r := WithRetry(m, RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond})
	attempts := 0
	var failing func(string) error
	failing = func(op string) error {
		attempts++
		m.FailNext = failing
		return fmt.Errorf("%s: %w", op, shuttle.ErrTransientStore)
	}
	m.FailNext = failing

	err := r.DeleteShift(ctx, "s")
	assert.True(t, errors.Is(err, shuttle.ErrTransientStore))
	assert.Equal(t, 3, attempts)
}

func TestRetryingDoesNotRetryNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	r := WithRetry(m, DefaultRetryPolicy)
	retries := 0
	r.OnRetry = func(string, error) { retries++ }

	_, err := r.WaitingShift(ctx, "R1")
	assert.True(t, errors.Is(err, shuttle.ErrNotFound))
	assert.Zero(t, retries)
}
