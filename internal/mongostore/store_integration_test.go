package mongostore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"

	"shuttle-simulator/internal/shuttle"
	"shuttle-simulator/internal/store"
)

func startMongo(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("DOCKER_AVAILABLE") != "true" && os.Getenv("DOCKER_AVAILABLE") != "1" {
		t.Skip("docker not available")
	}
	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("terminate mongo: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	s, err := Connect(ctx, fmt.Sprintf("mongodb://%s:%s", host, port.Port()), "shuttle_test", time.UTC)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	require.NoError(t, s.EnsureIndexes(ctx))
	return s
}

func TestMongoShiftQueries(t *testing.T) {
	s := startMongo(t)
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	dep := t0.Add(time.Minute)

	insert := func(id string, progress int, arrival *time.Time) {
		require.NoError(t, s.InsertShift(ctx, shuttle.Shift{
			ShiftID: id, RouteID: "R1", Progress: progress, AvailableSeats: 16,
			StartTime: t0, ArrivalTime: arrival, Status: shuttle.StatusInTransit,
		}))
	}
	insert("first3", 3, &dep)
	insert("one", 1, &dep)
	insert("second3", 3, &dep)
	insert("waiting", 0, nil)

	w, err := s.WaitingShift(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "waiting", w.ShiftID)

	lead, err := s.LeadingShift(ctx, "R1", 4)
	require.NoError(t, err)
	assert.Equal(t, "first3", lead.ShiftID, "ties go to the earliest shift")

	lead, err = s.LeadingShift(ctx, "R1", 2)
	require.NoError(t, err)
	assert.Equal(t, "one", lead.ShiftID)

	_, err = s.LeadingShift(ctx, "R1", 0)
	assert.True(t, errors.Is(err, shuttle.ErrNotFound))
}

func TestMongoUpdateShiftVersions(t *testing.T) {
	s := startMongo(t)
	ctx := context.Background()
	fresh := shuttle.Shift{ShiftID: "s", RouteID: "R1", AvailableSeats: 16, StartTime: time.Now(), Version: shuttle.InitialVersion}
	require.NoError(t, s.InsertShift(ctx, fresh))

	a, b := 13, 10
	require.NoError(t, s.UpdateShift(ctx, "s", store.ShiftUpdate{AvailableSeats: &a, ExpectedVersion: fresh.Version}))
	err := s.UpdateShift(ctx, "s", store.ShiftUpdate{AvailableSeats: &b, ExpectedVersion: fresh.Version})
	assert.True(t, errors.Is(err, shuttle.ErrConflict))

	err = s.UpdateShift(ctx, "missing", store.ShiftUpdate{AvailableSeats: &b, ExpectedVersion: 1})
	assert.True(t, errors.Is(err, shuttle.ErrNotFound))

	// Legacy documents have no version field.
	_, err = s.collection(shiftCollection).InsertOne(ctx, bson.M{
		"shift_id": "legacy", "route_id": "R1", "available_seats": 16, "start_time": "2024-05-01T08:00:00Z",
	})
	require.NoError(t, err)
	shifts, err := s.Shifts(ctx, "R1")
	require.NoError(t, err)
	require.Len(t, shifts, 2)
	legacy := shifts[1]
	require.NoError(t, s.UpdateShift(ctx, "legacy", store.ShiftUpdate{AvailableSeats: &b, ExpectedVersion: legacy.Version}))
	err = s.UpdateShift(ctx, "legacy", store.ShiftUpdate{AvailableSeats: &a, ExpectedVersion: legacy.Version})
	assert.True(t, errors.Is(err, shuttle.ErrConflict))
}

func TestMongoPendingReservations(t *testing.T) {
	s := startMongo(t)
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	add := func(id, stop string, at time.Time, status shuttle.ReservationStatus) {
		require.NoError(t, s.AddReservation(ctx, shuttle.Reservation{
			ReservationID: id, RouteID: "R1", PickupStopID: stop, Seats: 1, ReservedTime: at, Status: status,
		}))
	}
	add("late", "B", t0.Add(20*time.Minute), shuttle.ReservationReserved)
	add("early", "B", t0.Add(-time.Minute), shuttle.ReservationReserved)
	add("exact", "B", t0, shuttle.ReservationReserved)
	add("taken", "B", t0.Add(time.Hour), shuttle.ReservationAssigned)
	add("elsewhere", "C", t0.Add(time.Hour), shuttle.ReservationReserved)

	got, err := s.PendingReservations(ctx, "R1", "B", t0)
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, r := range got {
		ids = append(ids, r.ReservationID)
	}
	assert.Equal(t, []string{"late", "exact"}, ids)
}
