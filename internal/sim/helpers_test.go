package sim

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shuttle-simulator/internal/publisher"
	"shuttle-simulator/internal/shuttle"
	"shuttle-simulator/internal/store"
	"shuttle-simulator/internal/traveltime"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

// Stops on one meridian so distance is linear in latitude.
var (
	stopA = shuttle.Stop{StopID: "A", Name: "Origin", Latitude: 22.30, Longitude: 114.17}
	stopB = shuttle.Stop{StopID: "B", Name: "Middle", Latitude: 22.31, Longitude: 114.17}
	stopC = shuttle.Stop{StopID: "C", Name: "Terminal", Latitude: 22.33, Longitude: 114.17}
)

func flatTable(segs ...float64) traveltime.Table {
	t := make(traveltime.Table, 24)
	for h := 0; h < 24; h++ {
		t[h] = segs
	}
	return t
}

func flatRates(perHour float64) traveltime.ArrivalRates {
	r := make(traveltime.ArrivalRates, 24)
	for h := 0; h < 24; h++ {
		r[h] = perHour
	}
	return r
}

func testRoute() shuttle.Route {
	return shuttle.Route{RouteID: "R1", Stops: []shuttle.RouteStop{{StopID: "A", Order: 0}, {StopID: "B", Order: 1}, {StopID: "C", Order: 2}}}
}

type fixture struct {
	mem    *store.Memory
	engine *Engine
	rc     *RouteContext
}

func newFixture(t *testing.T, p Params) *fixture {
	t.Helper()
	mem := store.NewMemory()
	mem.AddRoute(testRoute(), stopA, stopB, stopC)
	eng := NewEngine(mem, time.UTC, p, rand.New(rand.NewSource(1)))
	rc, err := LoadRouteContext(context.Background(), mem, "R1", flatTable(2, 3), flatRates(30))
	require.NoError(t, err)
	return &fixture{mem: mem, engine: eng, rc: rc}
}

func waitingShift(id string, seats int) shuttle.Shift {
	return shuttle.Shift{
		ShiftID:        id,
		RouteID:        "R1",
		Latitude:       stopA.Latitude,
		Longitude:      stopA.Longitude,
		AvailableSeats: seats,
		StartTime:      t0,
		Status:         shuttle.StatusWaiting,
		Version:        shuttle.InitialVersion,
	}
}

func departedShift(id string, progress int, at time.Time, lat float64) shuttle.Shift {
	s := waitingShift(id, shuttle.DefaultCapacity)
	s.Progress = progress
	s.ArrivalTime = &at
	s.Latitude = lat
	s.Status = shuttle.StatusInTransit
	return s
}

type recordingPublisher struct {
	mu        sync.Mutex
	positions []publisher.PositionMessage
	arrivals  []publisher.ArrivalsMessage
}

func (p *recordingPublisher) PublishPosition(_, _ string, msg publisher.PositionMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions = append(p.positions, msg)
	return nil
}

func (p *recordingPublisher) PublishArrivals(_ string, msg publisher.ArrivalsMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.arrivals = append(p.arrivals, msg)
	return nil
}

func (p *recordingPublisher) arrivalCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.arrivals)
}
