package sim

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"shuttle-simulator/internal/shuttle"
	"shuttle-simulator/internal/store"
	"shuttle-simulator/internal/traveltime"
)

// Params are the tuning knobs of the simulation.
type Params struct {
	Capacity         int
	CompletedDwell   time.Duration // how long a finished shift stays at the terminal
	MaxDepartureWait time.Duration // cap on the estimated departure after creation
	MaxBoardingDwell time.Duration // forced departure after this long at the origin
	// BoardingRateScale divides the hourly arrival rate to get passengers
	// per second of boarding. It is a calibration knob, not a unit
	// conversion: larger values board fewer passengers per tick.
	BoardingRateScale float64
}

func DefaultParams() Params {
	return Params{
		Capacity:          shuttle.DefaultCapacity,
		CompletedDwell:    2 * time.Minute,
		MaxDepartureWait:  15 * time.Minute,
		MaxBoardingDwell:  25 * time.Minute,
		BoardingRateScale: 1000,
	}
}

// Engine runs the per-shift computations. Pure computations (Tick, ETA)
// never touch the store; Assign, EstimateDeparture and SimulateBoarding
// read and write through it.
type Engine struct {
	params Params
	store  store.Store
	loc    *time.Location

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewEngine builds an engine. A nil rng is seeded from the clock.
func NewEngine(st store.Store, loc *time.Location, p Params, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if loc == nil {
		loc = time.Local
	}
	if p.Capacity <= 0 {
		p.Capacity = shuttle.DefaultCapacity
	}
	if p.BoardingRateScale <= 0 {
		p.BoardingRateScale = DefaultParams().BoardingRateScale
	}
	return &Engine{params: p, store: st, loc: loc, rng: rng}
}

func (e *Engine) hour(t time.Time) int { return t.In(e.loc).Hour() }

func (e *Engine) intn(n int) int {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Intn(n)
}

func (e *Engine) float64() float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64()
}

func minutes(m float64) time.Duration { return time.Duration(m * float64(time.Minute)) }

// RouteContext is everything a computation needs to know about one route.
// It is built once per tick and passed explicitly.
type RouteContext struct {
	Route  shuttle.Route
	Stops  []shuttle.Stop // in route order
	Travel traveltime.Table
	Rates  traveltime.ArrivalRates
}

func (rc *RouteContext) StopCount() int { return len(rc.Stops) }

// StopIndex returns the order index of a stop on the route.
func (rc *RouteContext) StopIndex(stopID string) (int, error) {
	for i, s := range rc.Stops {
		if s.StopID == stopID {
			return i, nil
		}
	}
	return 0, fmt.Errorf("stop %s on route %s: %w", stopID, rc.Route.RouteID, shuttle.ErrNotFound)
}

// LoadRouteContext reads a route and its stops and pairs them with the
// route's travel-time table and arrival rates.
func LoadRouteContext(ctx context.Context, st store.Store, routeID string, travel traveltime.Table, rates traveltime.ArrivalRates) (*RouteContext, error) {
	if travel == nil {
		return nil, fmt.Errorf("%w: no travel-time table for route %s", shuttle.ErrInvalidState, routeID)
	}
	route, err := st.Route(ctx, routeID)
	if err != nil {
		return nil, err
	}
	if err := route.Validate(); err != nil {
		return nil, err
	}
	ids := route.OrderedStopIDs()
	found, err := st.Stops(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]shuttle.Stop, len(found))
	for _, s := range found {
		byID[s.StopID] = s
	}
	stops := make([]shuttle.Stop, len(ids))
	for i, id := range ids {
		s, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: route %s references unknown stop %s", shuttle.ErrDataIncomplete, routeID, id)
		}
		stops[i] = s
	}
	return &RouteContext{Route: route, Stops: stops, Travel: travel, Rates: rates}, nil
}

// NewShift returns a fresh waiting shift at the route origin. It is not
// persisted; its version is the one the store assigns on insert.
func (e *Engine) NewShift(rc *RouteContext, now time.Time) shuttle.Shift {
	origin := rc.Stops[0]
	return shuttle.Shift{
		ShiftID:        "SHIFT-" + uuid.NewString(),
		RouteID:        rc.Route.RouteID,
		Latitude:       origin.Latitude,
		Longitude:      origin.Longitude,
		AvailableSeats: e.params.Capacity,
		ReservationIDs: []string{},
		StartTime:      now,
		MinibusID:      e.minibusID(),
		TripID:         "TRIP-" + strings.ToUpper(uuid.NewString()[:8]),
		Status:         shuttle.StatusWaiting,
		Version:        shuttle.InitialVersion,
	}
}

// minibusID mimics a plate: two letters and four digits.
func (e *Engine) minibusID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	var b strings.Builder
	for i := 0; i < 2; i++ {
		b.WriteByte(letters[e.intn(len(letters))])
	}
	fmt.Fprintf(&b, "%04d", e.intn(10000))
	return b.String()
}
