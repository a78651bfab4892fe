package sim

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttle-simulator/internal/shuttle"
)

func TestTickAdvancesOverElapsedSegments(t *testing.T) {
	f := newFixture(t, DefaultParams())
	sh := departedShift("s", 0, t0, stopA.Latitude)

	res, err := f.engine.Tick(f.rc, sh, t0.Add(2*time.Minute+30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Advanced)
	assert.Equal(t, 1, res.Shift.Progress)
	require.NotNil(t, res.Shift.ArrivalTime)
	assert.Equal(t, t0.Add(2*time.Minute), *res.Shift.ArrivalTime)
	assert.Equal(t, shuttle.StatusInTransit, res.Shift.Status)
	assert.False(t, res.Completed)
	// A sixth of the way from B to C.
	assert.InDelta(t, stopB.Latitude+(stopC.Latitude-stopB.Latitude)/6, res.Shift.Latitude, 1e-9)
	assert.Equal(t, stopB.Longitude, res.Shift.Longitude)

	assert.Equal(t, 0, sh.Progress, "input untouched")
	assert.Equal(t, t0, *sh.ArrivalTime)
}

func TestTickCompletesAndExpires(t *testing.T) {
	f := newFixture(t, DefaultParams())
	sh := departedShift("s", 0, t0, stopA.Latitude)

	res, err := f.engine.Tick(f.rc, sh, t0.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Advanced)
	assert.Equal(t, 2, res.Shift.Progress)
	assert.Equal(t, t0.Add(5*time.Minute), *res.Shift.ArrivalTime)
	assert.Equal(t, shuttle.StatusCompleted, res.Shift.Status)
	assert.Equal(t, stopC.Latitude, res.Shift.Latitude)
	assert.True(t, res.Completed)
	assert.False(t, res.Expired)

	res, err = f.engine.Tick(f.rc, res.Shift, t0.Add(7*time.Minute+time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Advanced)
	assert.True(t, res.Expired)
}

func TestTickNeverMovesBackwards(t *testing.T) {
	f := newFixture(t, DefaultParams())
	sh := departedShift("s", 1, t0.Add(2*time.Minute), stopB.Latitude)

	res, err := f.engine.Tick(f.rc, sh, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Shift.Progress)
	assert.Equal(t, stopB.Latitude, res.Shift.Latitude)

	for _, at := range []time.Duration{time.Minute, 3 * time.Minute, 4 * time.Minute, 10 * time.Minute} {
		next, err := f.engine.Tick(f.rc, res.Shift, t0.Add(at))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, next.Shift.Progress, res.Shift.Progress)
		assert.LessOrEqual(t, next.Shift.Progress, 2)
		res = next
	}
}

func TestTickSeatsStayWithinCapacity(t *testing.T) {
	f := newFixture(t, Params{Capacity: 16})
	for seats := 0; seats <= 16; seats++ {
		sh := departedShift("s", 0, t0, stopA.Latitude)
		sh.AvailableSeats = seats
		res, err := f.engine.Tick(f.rc, sh, t0.Add(6*time.Minute))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Shift.AvailableSeats, seats)
		assert.LessOrEqual(t, res.Shift.AvailableSeats, 16)
	}
}

func TestAlightRanges(t *testing.T) {
	f := newFixture(t, DefaultParams())
	for i := 0; i < 200; i++ {
		got := f.engine.alight(3)
		assert.True(t, got >= 4 && got <= 6, "low seats freed %d", got)
		got = f.engine.alight(7)
		assert.True(t, got >= 8 && got <= 9, "mid seats freed %d", got)
		got = f.engine.alight(12)
		assert.True(t, got >= 12 && got <= 13, "high seats freed %d", got)
		assert.Equal(t, 16, f.engine.alight(16))
	}
}

func TestTickRejectsForeignShift(t *testing.T) {
	f := newFixture(t, DefaultParams())
	sh := departedShift("s", 0, t0, stopA.Latitude)
	sh.RouteID = "R2"
	_, err := f.engine.Tick(f.rc, sh, t0.Add(time.Minute))
	assert.True(t, errors.Is(err, shuttle.ErrInvalidState))
}
