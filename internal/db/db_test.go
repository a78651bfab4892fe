package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttle-simulator/internal/shuttle"
	"shuttle-simulator/internal/store"
)

func TestWithDBName(t *testing.T) {
	got, err := WithDBName("postgres://sim:pw@db:5432/postgres?sslmode=disable", "shuttle")
	require.NoError(t, err)
	assert.Equal(t, "postgres://sim:pw@db:5432/shuttle?sslmode=disable", got)

	got, err = WithDBName("sim@db:5432/other", "/shuttle")
	require.NoError(t, err)
	assert.Equal(t, "postgres://sim@db:5432/shuttle", got)

	_, err = WithDBName("", "shuttle")
	assert.Error(t, err)
	_, err = WithDBName("mysql://db/x", "shuttle")
	assert.Error(t, err)
	_, err = WithDBName("postgres://db/x", " ")
	assert.Error(t, err)
}

func TestUpdateShiftSQL(t *testing.T) {
	progress, seats := 2, 7
	status := shuttle.StatusInTransit
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	q, args, err := updateShiftSQL("s1", store.ShiftUpdate{
		Progress:        &progress,
		AvailableSeats:  &seats,
		ReservationIDs:  []string{"r1", "r2"},
		ArrivalTime:     &at,
		Status:          &status,
		ExpectedVersion: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE shift SET progress = $2, available_seats = $3, reservation_ids = $4::jsonb, "+
		"arrival_time = $5, status = $6, version = version + 1 WHERE shift_id = $1 AND version = $7", q)
	assert.Equal(t, []any{"s1", 2, 7, `["r1","r2"]`, "2024-05-01T08:00:00Z", "in_transit", int64(4)}, args)
}

func TestUpdateShiftSQLUnguarded(t *testing.T) {
	q, args, err := updateShiftSQL("s1", store.ShiftUpdate{Unguarded: true})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE shift SET version = version + 1 WHERE shift_id = $1", q)
	assert.Equal(t, []any{"s1"}, args)
}

func TestUpdateShiftSQLZeroVersionIsGuarded(t *testing.T) {
	q, args, err := updateShiftSQL("s1", store.ShiftUpdate{})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE shift SET version = version + 1 WHERE shift_id = $1 AND version = $2", q)
	assert.Equal(t, []any{"s1", int64(0)}, args)
}

func TestShiftRowConversion(t *testing.T) {
	hk, err := time.LoadLocation("Asia/Hong_Kong")
	require.NoError(t, err)

	row := shiftRow{
		ShiftID: "s1", RouteID: "R1", Progress: 1, Latitude: 22.3, Longitude: 114.1,
		AvailableSeats: 12, ReservationIDs: `["r1"]`, StartTime: "2024-05-01T08:00:00",
		MinibusID: "AB1234", TripID: "TRIP-1", Status: "in_transit", Version: 3,
		ArrivalTime: sql.NullString{String: "2024-05-01T00:05:00Z", Valid: true},
	}
	sh, err := row.shift(hk)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 8, 0, 0, 0, hk), sh.StartTime)
	require.NotNil(t, sh.ArrivalTime)
	assert.True(t, sh.ArrivalTime.Equal(time.Date(2024, 5, 1, 8, 5, 0, 0, hk)))
	assert.Equal(t, []string{"r1"}, sh.ReservationIDs)
	assert.Equal(t, shuttle.StatusInTransit, sh.Status)
	assert.Equal(t, int64(3), sh.Version)

	row.ArrivalTime = sql.NullString{String: "None", Valid: true}
	sh, err = row.shift(hk)
	require.NoError(t, err)
	assert.True(t, sh.Waiting())

	row.StartTime = "yesterday"
	_, err = row.shift(hk)
	assert.True(t, errors.Is(err, shuttle.ErrDataIncomplete))
}

func TestWrapClassifiesErrors(t *testing.T) {
	assert.NoError(t, wrap("op", nil))
	assert.True(t, errors.Is(wrap("op", errors.New("connection reset")), shuttle.ErrTransientStore))
	assert.True(t, errors.Is(wrap("op", &pgconn.PgError{Code: "23505", Message: "duplicate key"}), shuttle.ErrInvalidState))
	assert.True(t, errors.Is(wrap("op", &pgconn.PgError{Code: "22P02"}), shuttle.ErrDataIncomplete))

	err := wrap("op", context.Canceled)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, shuttle.ErrTransientStore))
}
